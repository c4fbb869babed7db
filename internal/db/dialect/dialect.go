// Package dialect papers over the SQL differences between the hub's two
// backends, SQLite and PostgreSQL. The repository writes portable
// `?`-placeholder SQL and calls these helpers where the dialects diverge:
// conflict handling and generated-id retrieval.
package dialect

// Driver names as registered with database/sql.
const (
	SQLite3 = "sqlite3"
	PGX     = "pgx"
)

// IsPostgres reports whether driver is the PostgreSQL (pgx) backend.
func IsPostgres(driver string) bool {
	return driver == PGX
}

// InsertIgnore returns the INSERT prefix/suffix pair for an insert that
// silently skips conflicting rows: ON CONFLICT DO NOTHING for Postgres,
// OR IGNORE for SQLite.
func InsertIgnore(driver string) (prefix, suffix string) {
	if IsPostgres(driver) {
		return "INSERT", " ON CONFLICT DO NOTHING"
	}
	return "INSERT OR IGNORE", ""
}
