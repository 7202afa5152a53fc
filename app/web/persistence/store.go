package persistence

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // sqlite driver
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
)

// ErrUnsupportedURL is returned by Open for a database URL with unknown scheme
var ErrUnsupportedURL = errors.New("unsupported database url")

// Params defines store parameters
type Params struct {
	URL           string        // postgres://..., sqlite://path, file:path or :memory:
	Attempts      int           // ping attempts during bootstrap, 1 means no retry
	Duration      time.Duration // initial delay between ping attempts
	Factor        float64       // backoff factor between ping attempts
	LegacyMigrate bool          // copy legacy "operation" column into "op"
	Timeout       time.Duration // bootstrap timeout, 30s if not set
}

// Store keeps operation records in a SQL database
type Store struct {
	db       *sqlx.DB
	driver   string
	params   Params
	once     sync.Once
	done     atomic.Bool
	bootErr  error
	redacted string
}

// Open creates a store for the given database URL. The pool is opened lazily,
// connection problems show up in Bootstrap.
func Open(params Params) (*Store, error) {
	driver, dsn, err := parseURL(params.URL)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if driver == driverSQLite {
		// single writer, also keeps :memory: databases on one connection
		db.SetMaxOpenConns(1)
	}

	return newStore(db, driver, params), nil
}

func newStore(db *sqlx.DB, driver string, params Params) *Store {
	if params.Attempts < 1 {
		params.Attempts = 1
	}
	if params.Duration == 0 {
		params.Duration = time.Second
	}
	if params.Factor <= 1 {
		params.Factor = 2
	}
	if params.Timeout == 0 {
		params.Timeout = 30 * time.Second
	}
	return &Store{db: db, driver: driver, params: params, redacted: redactURL(params.URL)}
}

// Driver returns the name of the database driver
func (s *Store) Driver() string { return s.driver }

// Status reports store readiness, it never blocks on bootstrap
type Status struct {
	Driver       string `json:"driver"`
	URL          string `json:"url"`
	Bootstrapped bool   `json:"bootstrapped"`
	BootstrapErr string `json:"bootstrap_error,omitempty"`
	Ping         string `json:"ping"`
}

// Status returns current store status with a live ping
func (s *Store) Status(ctx context.Context) Status {
	res := Status{Driver: s.driver, URL: s.redacted, Ping: "ok"}
	if s.done.Load() {
		res.Bootstrapped = s.bootErr == nil
		if s.bootErr != nil {
			res.BootstrapErr = s.bootErr.Error()
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(pingCtx); err != nil {
		res.Ping = err.Error()
	}
	return res
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// parseURL maps database URL to driver name and driver-specific DSN
func parseURL(u string) (driver, dsn string, err error) {
	switch {
	case strings.HasPrefix(u, "postgres://"), strings.HasPrefix(u, "postgresql://"):
		return driverPostgres, u, nil
	case u == ":memory:":
		return driverSQLite, u, nil
	case strings.HasPrefix(u, "sqlite://"):
		path := strings.TrimPrefix(u, "sqlite://")
		if path == "" {
			return "", "", fmt.Errorf("%w: empty sqlite path", ErrUnsupportedURL)
		}
		return driverSQLite, "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate", nil
	case strings.HasPrefix(u, "file:"):
		return driverSQLite, u, nil
	}
	return "", "", fmt.Errorf("%w: %q", ErrUnsupportedURL, redactURL(u))
}

// redactURL hides password in database URL for logs and status
func redactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.User == nil {
		return u
	}
	return parsed.Redacted()
}

// ready waits for bootstrap, failure is already logged by Bootstrap and the caller proceeds anyway
func (s *Store) ready(ctx context.Context) {
	if err := s.Bootstrap(ctx); err != nil {
		log.Printf("[DEBUG] store used after failed bootstrap: %v", err)
	}
}
