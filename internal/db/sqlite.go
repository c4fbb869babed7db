package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	sqliteBusyTimeout = 5 * time.Second

	// DefaultSQLiteReaderConns bounds the read-only pool. WAL mode lets all
	// of them read consistent snapshots while the single writer commits.
	DefaultSQLiteReaderConns = 4
)

// OpenSQLite opens the hub database for writing. The returned handle is
// pinned to one connection: tool transactions queue on it instead of
// contending for the SQLite write lock.
func OpenSQLite(dbPath string) (*sql.DB, error) {
	path := absSQLitePath(dbPath)
	if err := ensureSQLiteFile(path); err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}

	// foreign_keys enforces the task_deps/claims FKs; WAL + synchronous=NORMAL
	// is the standard single-writer tradeoff; busy_timeout absorbs transient
	// lock waits from the checkpointer.
	dsn := fmt.Sprintf(
		"file:%s?_foreign_keys=on&_mode=rwc&_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL&_cache=shared",
		path, int(sqliteBusyTimeout/time.Millisecond))
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	return conn, nil
}

// OpenSQLiteReader opens the read-only side of the pool. conns <= 0 uses
// DefaultSQLiteReaderConns. Call after OpenSQLite: the writer creates the
// file and sets the database-level WAL mode the readers rely on.
func OpenSQLiteReader(dbPath string, conns int) (*sql.DB, error) {
	if conns <= 0 {
		conns = DefaultSQLiteReaderConns
	}
	dsn := fmt.Sprintf(
		"file:%s?_foreign_keys=on&_mode=ro&_busy_timeout=%d&_cache=shared",
		absSQLitePath(dbPath), int(sqliteBusyTimeout/time.Millisecond))
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open read-only database: %w", err)
	}

	conn.SetMaxOpenConns(conns)
	conn.SetMaxIdleConns(conns)
	return conn, nil
}

func ensureSQLiteFile(dbPath string) error {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	return file.Close()
}

func absSQLitePath(dbPath string) string {
	if dbPath == "" {
		return dbPath
	}
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return dbPath
	}
	return abs
}
