package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/shopspring/decimal"

	"github.com/umputun/calcn/app/enums"
)

// Record is a single stored operation
type Record struct {
	ID        int64           `json:"id"`
	A         float64         `json:"a"`
	B         float64         `json:"b"`
	Op        enums.Operation `json:"op"`
	Result    float64         `json:"result"`
	CreatedAt time.Time       `json:"created_at"`
}

// recordRow is a raw operations row, NUMERIC values and legacy NULLs are coerced in toRecord
type recordRow struct {
	ID        int64               `db:"id"`
	A         decimal.NullDecimal `db:"a"`
	B         decimal.NullDecimal `db:"b"`
	Op        sql.NullString      `db:"op"`
	Result    decimal.NullDecimal `db:"result"`
	CreatedAt timestamp           `db:"created_at"`
}

const (
	insertQuery = `INSERT INTO operations (a, b, op, result) VALUES (?, ?, ?, ?)
		RETURNING id, a, b, op, result, created_at`
	// created_at added to an older sqlite table has no default, set it on insert
	sqliteInsertQuery = `INSERT INTO operations (a, b, op, result, created_at) VALUES (?, ?, ?, ?, ?)
		RETURNING id, a, b, op, result, created_at`
	listQuery = `SELECT id, a, b, op, result, created_at FROM operations
		ORDER BY created_at DESC, id DESC LIMIT ?`
)

// Add stores operation and returns the inserted record with id and creation time set.
// Waits for bootstrap before inserting.
func (s *Store) Add(ctx context.Context, rec Record) (Record, error) {
	s.ready(ctx)

	query := insertQuery
	args := []any{decimal.NewFromFloat(rec.A), decimal.NewFromFloat(rec.B), rec.Op, decimal.NewFromFloat(rec.Result)}
	if s.driver == driverSQLite {
		query = sqliteInsertQuery
		args = append(args, time.Now().UnixMilli())
	}

	var row recordRow
	if err := s.db.QueryRowxContext(ctx, s.db.Rebind(query), args...).StructScan(&row); err != nil {
		return Record{}, fmt.Errorf("failed to insert operation: %w", err)
	}
	return row.toRecord(), nil
}

// List returns up to limit records, newest first
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	s.ready(ctx)

	rows := []recordRow{}
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(listQuery), limit); err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}

	res := make([]Record, 0, len(rows))
	for _, r := range rows {
		res = append(res, r.toRecord())
	}
	return res, nil
}

func (r recordRow) toRecord() Record {
	rec := Record{
		ID:        r.ID,
		A:         r.A.Decimal.InexactFloat64(),
		B:         r.B.Decimal.InexactFloat64(),
		Result:    r.Result.Decimal.InexactFloat64(),
		CreatedAt: r.CreatedAt.Time,
	}
	if r.Op.Valid {
		op, err := enums.ParseOperation(r.Op.String)
		if err != nil {
			log.Printf("[WARN] invalid operation %q in record %d: %v", r.Op.String, r.ID, err)
		}
		rec.Op = op
	}
	return rec
}

// timestamp scans TIMESTAMPTZ values from postgres and unix milliseconds from sqlite
type timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Scan implements the sql.Scanner interface
func (t *timestamp) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		t.Time = time.Time{}
	case time.Time:
		t.Time = v
	case int64:
		t.Time = time.UnixMilli(v)
	case float64:
		t.Time = time.UnixMilli(int64(v))
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	default:
		return fmt.Errorf("unsupported timestamp type %T", value)
	}
	return nil
}

func (t *timestamp) parse(s string) error {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		t.Time = time.UnixMilli(ms)
		return nil
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			t.Time = ts
			return nil
		}
	}
	return fmt.Errorf("unsupported timestamp format %q", s)
}
