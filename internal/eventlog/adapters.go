package eventlog

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBAdapter is the subset of database operations the Event Log needs.
// It lets the same store run on a pgx pool or on any database/sql handle.
type DBAdapter interface {
	Query(ctx context.Context, query string, args ...any) (DBRows, error)
	QueryRow(ctx context.Context, query string, args ...any) DBRow
	Exec(ctx context.Context, query string, args ...any) (DBResult, error)
}

// DBRows is a result-set iterator.
type DBRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// DBRow is a single-row result.
type DBRow interface {
	Scan(dest ...any) error
}

// DBResult is the outcome of an Exec.
type DBResult interface {
	LastInsertID() (int64, error)
}

var errLastInsertIDUnsupported = errors.New("last insert id is not supported by pgx; use RETURNING")

/***** pgx *****/

type pgxAdapter struct {
	pool *pgxpool.Pool
}

func (p pgxAdapter) Query(ctx context.Context, query string, args ...any) (DBRows, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgxRows{rows: rows}, nil
}

func (p pgxAdapter) QueryRow(ctx context.Context, query string, args ...any) DBRow {
	return p.pool.QueryRow(ctx, query, args...)
}

func (p pgxAdapter) Exec(ctx context.Context, query string, args ...any) (DBResult, error) {
	if _, err := p.pool.Exec(ctx, query, args...); err != nil {
		return nil, err
	}
	return pgxResult{}, nil
}

type pgxRows struct {
	rows pgx.Rows
}

func (r pgxRows) Next() bool             { return r.rows.Next() }
func (r pgxRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r pgxRows) Err() error             { return r.rows.Err() }

func (r pgxRows) Close() error {
	r.rows.Close()
	return nil
}

type pgxResult struct{}

func (pgxResult) LastInsertID() (int64, error) { return 0, errLastInsertIDUnsupported }

/***** database/sql *****/

type sqlAdapter struct {
	db *sql.DB
}

func (s sqlAdapter) Query(ctx context.Context, query string, args ...any) (DBRows, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s sqlAdapter) QueryRow(ctx context.Context, query string, args ...any) DBRow {
	return s.db.QueryRowContext(ctx, query, args...)
}

func (s sqlAdapter) Exec(ctx context.Context, query string, args ...any) (DBResult, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlResult{res: res}, nil
}

type sqlResult struct {
	res sql.Result
}

func (r sqlResult) LastInsertID() (int64, error) { return r.res.LastInsertId() }
