// Package postgres implements mcp.Driver for PostgreSQL, grounded on the
// teacher's sqlx/lib/pq stack (present in its go.mod though the teacher's
// own Supabase REST client doesn't exercise it directly — this driver
// finally wires the dependency to a component per DESIGN.md).
package postgres

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	coreerrors "github.com/dbcore/agentcore/internal/errors"
	"github.com/dbcore/agentcore/pkg/mcp"
)

// Driver implements mcp.Driver against a single *sqlx.DB connection.
type Driver struct {
	dsn string
	db  *sqlx.DB
}

// New builds an unconnected Driver for dsn.
func New(dsn string) *Driver {
	return &Driver{dsn: dsn}
}

// NewWithDB wraps an already-open *sqlx.DB as a connected Driver, bypassing
// Connect. Tests use this to drive Execute against a sqlmock.Sqlmock
// connection without a real PostgreSQL server.
func NewWithDB(db *sqlx.DB) *Driver {
	return &Driver{db: db}
}

func (d *Driver) Connect(ctx context.Context) error {
	db, err := sqlx.Open("postgres", d.dsn)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return err
	}
	d.db = db
	return nil
}

func (d *Driver) Ping(ctx context.Context) error {
	if d.db == nil {
		return coreerrors.New(coreerrors.KindConnectionFailed, "postgres", "Ping", "driver not connected")
	}
	return d.db.PingContext(ctx)
}

// Execute runs query with params bound through the driver's native
// parameterization ($1, $2, ...), never string interpolation.
func (d *Driver) Execute(ctx context.Context, query string, params ...any) (mcp.QueryResult, error) {
	if d.db == nil {
		return mcp.QueryResult{}, coreerrors.New(coreerrors.KindConnectionFailed, "postgres", "Execute", "driver not connected")
	}

	rows, err := d.db.QueryxContext(ctx, query, params...)
	if err != nil {
		if res, execErr := d.db.ExecContext(ctx, query, params...); execErr == nil {
			affected, _ := res.RowsAffected()
			return mcp.QueryResult{RowsAffected: affected}, nil
		}
		return mcp.QueryResult{}, wrapQueryError(err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return mcp.QueryResult{}, wrapQueryError(err)
	}

	result := mcp.QueryResult{Columns: columns}
	for rows.Next() {
		cols, err := rows.SliceScan()
		if err != nil {
			return mcp.QueryResult{}, wrapQueryError(err)
		}
		result.Rows = append(result.Rows, cols)
	}
	if err := rows.Err(); err != nil {
		return mcp.QueryResult{}, wrapQueryError(err)
	}
	return result, nil
}

func (d *Driver) Close(ctx context.Context) error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

func wrapQueryError(err error) error {
	if err == sql.ErrNoRows {
		return coreerrors.Wrap(coreerrors.KindQueryFailed, "postgres", "Execute", err)
	}
	return coreerrors.Wrap(coreerrors.KindQueryFailed, "postgres", "Execute", err)
}

var _ mcp.Driver = (*Driver)(nil)
