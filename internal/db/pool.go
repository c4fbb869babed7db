package db

import "github.com/jmoiron/sqlx"

// Pool pairs the hub's write and read connections. Every tool call mutates
// through Writer inside one transaction; Reader serves the observational
// surfaces (janitor scans, dashboards) that must not queue behind writes.
//
// On SQLite the writer is pinned to one connection so tool transactions
// serialize instead of failing with SQLITE_BUSY, while the reader pool reads
// WAL snapshots concurrently. On PostgreSQL both sides share one *sqlx.DB;
// pgx pools internally.
type Pool struct {
	writer *sqlx.DB
	reader *sqlx.DB
}

// NewPool creates a Pool from writer and reader connections. Passing the
// same *sqlx.DB for both is valid and Close handles it.
func NewPool(writer, reader *sqlx.DB) *Pool {
	return &Pool{writer: writer, reader: reader}
}

// Writer returns the connection used for mutations and transactions.
func (p *Pool) Writer() *sqlx.DB { return p.writer }

// Reader returns the connection used for plain SELECT traffic.
func (p *Pool) Reader() *sqlx.DB { return p.reader }

// Close closes both sides, once each when they are shared.
func (p *Pool) Close() error {
	err := p.writer.Close()
	if p.reader == p.writer {
		return err
	}
	if rErr := p.reader.Close(); err == nil {
		err = rErr
	}
	return err
}
