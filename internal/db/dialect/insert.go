package dialect

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// InsertReturningID executes an INSERT on x and returns the auto-generated
// id. x may be a plain connection or an open transaction.
//
//	Postgres: appends RETURNING id and scans the result.
//	SQLite:   uses LastInsertId() from the exec result.
func InsertReturningID(ctx context.Context, x sqlx.ExtContext, query string, args ...any) (int64, error) {
	if IsPostgres(x.DriverName()) {
		rows, err := x.QueryContext(ctx, x.Rebind(query+" RETURNING id"), args...)
		if err != nil {
			return 0, fmt.Errorf("insert returning id: %w", err)
		}
		defer func() { _ = rows.Close() }()
		if !rows.Next() {
			return 0, fmt.Errorf("insert returning id: no row")
		}
		var id int64
		if err := rows.Scan(&id); err != nil {
			return 0, err
		}
		return id, rows.Err()
	}

	result, err := x.ExecContext(ctx, x.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}
