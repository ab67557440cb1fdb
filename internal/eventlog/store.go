// Package eventlog is the Hub's durable, append-only Event Log.
//
// Every event the Hub accepts (pushed by a Node or emitted by the Hub itself)
// is appended here with a store-assigned, monotonically increasing id. Rows
// are never updated or deleted. Ordering and pull cursors use the id only;
// the timestamp column is supplied by the emitter and is informational.
package eventlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // dialect registration
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/gyaneshwarpardhi/pubnet/internal/event"
	"github.com/gyaneshwarpardhi/pubnet/internal/metrics"
	"github.com/gyaneshwarpardhi/pubnet/internal/storage"
)

const (
	defaultTableName = "network_events"

	colID        = "id"
	colNodeID    = "node_id"
	colAction    = "action_name"
	colEmail     = "email"
	colData      = "data"
	colTimestamp = "timestamp"

	logMsgBuildQueryFailed = "failed to build event log query"
	logMsgQueryFailed      = "event log query failed"
	logMsgAppendFailed     = "event log append failed"
	logMsgScanFailed       = "failed to scan event log row"
	logMsgAppended         = "event appended"
	logAttrError           = "err"
	logAttrQuery           = "query"
	logAttrAction          = "action"
	logAttrID              = "id"
	logAttrNodeID          = "node_id"
	logAttrDurationMS      = "duration_ms"
)

var (
	ErrNilDatabase         = errors.New("nil database connection supplied")
	ErrEmptyTableName      = errors.New("empty event table name supplied")
	ErrUnsupportedDialect  = errors.New("unsupported sql dialect")
	ErrInvalidEvent        = errors.New("event needs an action and a JSON payload")
	ErrBuildingQueryFailed = errors.New("building event log query failed")
	ErrAppendFailed        = errors.New("appending event failed")
	ErrQueryFailed         = errors.New("querying events failed")
	ErrScanFailed          = errors.New("scanning event row failed")
)

// Logger receives query and operation logs. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Store is a SQL-backed Event Log.
type Store struct {
	db        DBAdapter
	dialect   goqu.DialectWrapper
	name      string
	returning bool
	table     string
	logger    Logger
}

// Option configures a Store.
type Option func(*Store) error

// WithTableName sets the table the events live in.
func WithTableName(name string) Option {
	return func(s *Store) error {
		if name == "" {
			return ErrEmptyTableName
		}
		s.table = name
		return nil
	}
}

// WithLogger sets the logger. Debug receives SQL with timings, Info appends,
// Error failures.
func WithLogger(l Logger) Option {
	return func(s *Store) error {
		s.logger = l
		return nil
	}
}

// NewFromPGXPool creates a postgres Store on a pgx pool.
func NewFromPGXPool(pool *pgxpool.Pool, opts ...Option) (*Store, error) {
	if pool == nil {
		return nil, ErrNilDatabase
	}
	return newStore(pgxAdapter{pool: pool}, storage.DialectPostgres, opts)
}

// NewFromSQLDB creates a Store on a database/sql handle for dialect
// (storage.DialectPostgres or storage.DialectSQLite).
func NewFromSQLDB(db *sql.DB, dialect string, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrNilDatabase
	}
	return newStore(sqlAdapter{db: db}, dialect, opts)
}

// NewFromSQLX creates a Store on a sqlx handle opened by the storage package.
func NewFromSQLX(db *sqlx.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrNilDatabase
	}
	return NewFromSQLDB(db.DB, storage.Dialect(db), opts...)
}

func newStore(db DBAdapter, dialect string, opts []Option) (*Store, error) {
	if dialect != storage.DialectPostgres && dialect != storage.DialectSQLite {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDialect, dialect)
	}
	s := &Store{
		db:        db,
		dialect:   goqu.Dialect(dialect),
		name:      dialect,
		returning: dialect == storage.DialectPostgres,
		table:     defaultTableName,
	}
	for _, o := range opts {
		if err := o(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Migrate creates the events table and its indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema(s.name, s.table) {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate event log: %w", err)
		}
	}
	return nil
}

// Append stores ev and returns its store-assigned id. ev.ID is ignored. The
// email column is filled from the payload when ev.Email is empty.
func (s *Store) Append(ctx context.Context, ev event.Logged) (int64, error) {
	if ev.Action == "" || !event.ValidPayload(ev.Data) {
		return 0, ErrInvalidEvent
	}
	if ev.Email == "" {
		ev.Email = event.EmailOf(ev.Data)
	}

	ds := s.dialect.Insert(s.table).Prepared(true).Rows(goqu.Record{
		colNodeID:    ev.NodeID,
		colAction:    ev.Action,
		colEmail:     ev.Email,
		colData:      string(ev.Data),
		colTimestamp: ev.Timestamp,
	})
	if s.returning {
		ds = ds.Returning(colID)
	}
	query, args, err := ds.ToSQL()
	if err != nil {
		s.logError(logMsgBuildQueryFailed, err)
		return 0, errors.Join(ErrBuildingQueryFailed, err)
	}

	start := time.Now()
	var id int64
	if s.returning {
		err = s.db.QueryRow(ctx, query, args...).Scan(&id)
	} else {
		var res DBResult
		if res, err = s.db.Exec(ctx, query, args...); err == nil {
			id, err = res.LastInsertID()
		}
	}
	s.logQuery(query, time.Since(start))
	if err != nil {
		s.logError(logMsgAppendFailed, err, logAttrAction, ev.Action)
		return 0, errors.Join(ErrAppendFailed, err)
	}

	metrics.EventsLogged.WithLabelValues(ev.Action).Inc()
	if s.logger != nil {
		s.logger.Info(logMsgAppended, logAttrID, id, logAttrAction, ev.Action, logAttrNodeID, ev.NodeID)
	}
	return id, nil
}

// Query returns the events matching f, ordered by id, windowed by p.
func (s *Store) Query(ctx context.Context, f Filter, p Page) ([]event.Logged, error) {
	ds := s.dialect.From(s.table).Prepared(true).
		Select(colID, colNodeID, colAction, colEmail, colData, colTimestamp).
		Where(f.expressions()...)
	if p.Order == Desc {
		ds = ds.Order(goqu.I(colID).Desc())
	} else {
		ds = ds.Order(goqu.I(colID).Asc())
	}
	if p.Size > 0 {
		ds = ds.Limit(uint(p.Size))
		if off := p.offset(); off > 0 {
			ds = ds.Offset(off)
		}
	}
	query, args, err := ds.ToSQL()
	if err != nil {
		s.logError(logMsgBuildQueryFailed, err)
		return nil, errors.Join(ErrBuildingQueryFailed, err)
	}

	start := time.Now()
	rows, err := s.db.Query(ctx, query, args...)
	s.logQuery(query, time.Since(start))
	if err != nil {
		s.logError(logMsgQueryFailed, err, logAttrQuery, query)
		return nil, errors.Join(ErrQueryFailed, err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]event.Logged, 0)
	for rows.Next() {
		var ev event.Logged
		var data []byte
		if err := rows.Scan(&ev.ID, &ev.NodeID, &ev.Action, &ev.Email, &data, &ev.Timestamp); err != nil {
			s.logError(logMsgScanFailed, err)
			return nil, errors.Join(ErrScanFailed, err)
		}
		ev.Data = append([]byte(nil), data...)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		s.logError(logMsgQueryFailed, err)
		return nil, errors.Join(ErrQueryFailed, err)
	}
	return out, nil
}

// Count returns the number of events matching f.
func (s *Store) Count(ctx context.Context, f Filter) (int64, error) {
	query, args, err := s.dialect.From(s.table).Prepared(true).
		Select(goqu.COUNT(goqu.Star())).
		Where(f.expressions()...).
		ToSQL()
	if err != nil {
		s.logError(logMsgBuildQueryFailed, err)
		return 0, errors.Join(ErrBuildingQueryFailed, err)
	}

	var n int64
	if err := s.db.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		s.logError(logMsgQueryFailed, err, logAttrQuery, query)
		return 0, errors.Join(ErrQueryFailed, err)
	}
	return n, nil
}

func (s *Store) logQuery(query string, d time.Duration) {
	if s.logger != nil {
		s.logger.Debug("executed sql", logAttrDurationMS, math.Round(float64(d.Microseconds()))/1000, logAttrQuery, query)
	}
}

func (s *Store) logError(msg string, err error, args ...any) {
	if s.logger != nil {
		s.logger.Error(msg, append([]any{logAttrError, err.Error()}, args...)...)
	}
}
