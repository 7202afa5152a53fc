package persistence

import (
	"context"
	"fmt"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/jmoiron/sqlx"
)

// bootstrapLockID is the postgres advisory lock key serializing schema setup between processes
const bootstrapLockID = 7248315

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS operations (
		id SERIAL PRIMARY KEY,
		a NUMERIC NOT NULL,
		b NUMERIC NOT NULL,
		op TEXT NOT NULL,
		result NUMERIC NOT NULL,
		created_at TIMESTAMPTZ DEFAULT now()
	)`,
	`ALTER TABLE operations ADD COLUMN IF NOT EXISTS a NUMERIC`,
	`ALTER TABLE operations ADD COLUMN IF NOT EXISTS b NUMERIC`,
	`ALTER TABLE operations ADD COLUMN IF NOT EXISTS op TEXT`,
	`ALTER TABLE operations ADD COLUMN IF NOT EXISTS result NUMERIC`,
	`ALTER TABLE operations ADD COLUMN IF NOT EXISTS created_at TIMESTAMPTZ DEFAULT now()`,
	`CREATE INDEX IF NOT EXISTS idx_operations_created_at ON operations (created_at DESC)`,
}

// created_at keeps unix milliseconds in sqlite
const sqliteSchema = `CREATE TABLE IF NOT EXISTS operations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	a NUMERIC NOT NULL,
	b NUMERIC NOT NULL,
	op TEXT NOT NULL,
	result NUMERIC NOT NULL,
	created_at INTEGER NOT NULL DEFAULT (CAST((julianday('now') - 2440587.5) * 86400000 AS INTEGER))
)`

// sqliteColumns lists columns ensured on pre-existing sqlite tables, in order
var sqliteColumns = []struct{ name, ddl string }{
	{"a", "a NUMERIC"},
	{"b", "b NUMERIC"},
	{"op", "op TEXT"},
	{"result", "result NUMERIC"},
	{"created_at", "created_at INTEGER"},
}

// Bootstrap ensures the operations table and its columns exist. It runs at most once per store,
// concurrent callers wait for the same run and get the same result. The run is detached from
// caller's cancellation and limited by the store timeout.
func (s *Store) Bootstrap(ctx context.Context) error {
	s.once.Do(func() {
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.params.Timeout)
		defer cancel()

		if err := s.bootstrap(bctx); err != nil {
			log.Printf("[ERROR] failed to bootstrap %s store %s: %v", s.driver, s.redacted, err)
			s.bootErr = err
		} else {
			log.Printf("[INFO] %s store %s ready", s.driver, s.redacted)
		}
		s.done.Store(true)
	})
	return s.bootErr
}

func (s *Store) bootstrap(ctx context.Context) error {
	rptr := repeater.New(&strategy.Backoff{Repeats: s.params.Attempts, Duration: s.params.Duration, Factor: s.params.Factor})
	err := rptr.Do(ctx, func() error {
		if e := s.db.PingContext(ctx); e != nil {
			log.Printf("[WARN] can't connect to %s: %v", s.redacted, e)
			return e
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	if s.driver == driverPostgres {
		return s.bootstrapPostgres(ctx)
	}
	return s.bootstrapSQLite(ctx)
}

// bootstrapPostgres runs schema setup in a transaction guarded by an advisory lock,
// so concurrent processes don't race on CREATE TABLE
func (s *Store) bootstrapPostgres(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, bootstrapLockID); err != nil {
		return fmt.Errorf("failed to acquire bootstrap lock: %w", err)
	}

	for _, q := range postgresSchema {
		if _, err = tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}

	if s.params.LegacyMigrate {
		if err = s.migrateLegacyPostgres(ctx, tx); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// migrateLegacyPostgres copies values of the old "operation" column into "op" and tries to
// drop NOT NULL from "operation". Failure to relax the constraint is logged only.
func (s *Store) migrateLegacyPostgres(ctx context.Context, tx *sqlx.Tx) error {
	var exists bool
	err := tx.GetContext(ctx, &exists, `SELECT EXISTS (
		SELECT 1 FROM information_schema.columns
		WHERE table_name = 'operations' AND column_name = 'operation')`)
	if err != nil {
		return fmt.Errorf("failed to check legacy column: %w", err)
	}
	if !exists {
		return nil
	}

	res, err := tx.ExecContext(ctx, `UPDATE operations SET op = operation WHERE op IS NULL AND operation IS NOT NULL`)
	if err != nil {
		return fmt.Errorf("failed to copy legacy operation column: %w", err)
	}
	if n, e := res.RowsAffected(); e == nil && n > 0 {
		log.Printf("[INFO] copied %d legacy operation values", n)
	}

	// savepoint keeps the transaction usable if ALTER fails
	if _, err = tx.ExecContext(ctx, `SAVEPOINT relax_operation`); err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `ALTER TABLE operations ALTER COLUMN operation DROP NOT NULL`); err != nil {
		log.Printf("[WARN] could not drop NOT NULL on legacy operation column: %v", err)
		if _, err = tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT relax_operation`); err != nil {
			return fmt.Errorf("failed to rollback to savepoint: %w", err)
		}
		return nil
	}
	if _, err = tx.ExecContext(ctx, `RELEASE SAVEPOINT relax_operation`); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}

// bootstrapSQLite creates the table and adds missing columns, sqlite has no ADD COLUMN IF NOT EXISTS
func (s *Store) bootstrapSQLite(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err = tx.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("failed to create operations table: %w", err)
	}

	existing, err := sqliteTableColumns(ctx, tx)
	if err != nil {
		return err
	}
	for _, c := range sqliteColumns {
		if existing[c.name] {
			continue
		}
		if _, err = tx.ExecContext(ctx, "ALTER TABLE operations ADD COLUMN "+c.ddl); err != nil {
			return fmt.Errorf("failed to add column %s: %w", c.name, err)
		}
		log.Printf("[INFO] added missing column %s to operations", c.name)
	}

	if _, err = tx.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_operations_created_at ON operations (created_at)`); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if s.params.LegacyMigrate && existing["operation"] {
		res, e := tx.ExecContext(ctx, `UPDATE operations SET op = operation WHERE op IS NULL AND operation IS NOT NULL`)
		if e != nil {
			return fmt.Errorf("failed to copy legacy operation column: %w", e)
		}
		if n, e := res.RowsAffected(); e == nil && n > 0 {
			log.Printf("[INFO] copied %d legacy operation values", n)
		}
		log.Printf("[WARN] sqlite can't drop NOT NULL on legacy operation column, left as is")
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func sqliteTableColumns(ctx context.Context, tx *sqlx.Tx) (map[string]bool, error) {
	var names []string
	if err := tx.SelectContext(ctx, &names, `SELECT name FROM pragma_table_info('operations')`); err != nil {
		return nil, fmt.Errorf("failed to read table columns: %w", err)
	}
	res := make(map[string]bool, len(names))
	for _, n := range names {
		res[n] = true
	}
	return res, nil
}
