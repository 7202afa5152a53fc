// Package persistence provides the operations store used by the web server.
// A single Store wraps one shared connection pool and supports PostgreSQL
// (lib/pq) and SQLite (modernc.org/sqlite, WAL mode). The schema is ensured
// by Bootstrap, which runs at most once per Store; every reader and writer
// waits for that run before touching the table.
package persistence
