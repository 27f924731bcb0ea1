package store

import (
	"context"
	"fmt"
	"strconv"

	log "github.com/go-pkgz/lgr"
	"github.com/jmoiron/sqlx"
)

// ErrConnectionUnavailable is reported in Result.Err if no connection could be opened
const ErrConnectionUnavailable = "connection unavailable"

// Result is the outcome of a single statement. On failure OK is false and Err describes the cause.
// Rows is set for fetch requests, Affected for everything else.
type Result struct {
	OK       bool
	Rows     [][]any
	Affected int64
	Err      string
}

// Executor runs statements, each on its own connection
type Executor struct {
	params  Params
	connect ConnectFunc
}

// NewExecutor makes executor for given params. Custom connect function is optional, Connect used by default.
func NewExecutor(p Params, connect ConnectFunc) *Executor {
	if connect == nil {
		connect = Connect
	}
	return &Executor{params: p, connect: connect}
}

// Driver returns configured driver name
func (e *Executor) Driver() string {
	return e.params.Driver
}

// Execute runs query with positional args. The query uses "?" placeholders, rebound to the driver's style.
// With fetch all rows are returned, otherwise the statement is committed and affected count returned.
// The connection is closed before return in all cases.
func (e *Executor) Execute(ctx context.Context, query string, args []any, fetch bool) Result {
	db := e.connect(ctx, e.params)
	if db == nil {
		return Result{Err: ErrConnectionUnavailable}
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("[WARN] failed to close database connection: %v", err)
		}
	}()

	var res Result
	var err error
	if fetch {
		res, err = e.query(ctx, db, query, args)
	} else {
		res, err = e.exec(ctx, db, query, args)
	}
	if err != nil {
		log.Printf("[WARN] query execution failed: %v", err)
		return Result{Err: err.Error()}
	}
	return res
}

func (e *Executor) query(ctx context.Context, db *sqlx.DB, query string, args []any) (Result, error) {
	rows, err := db.QueryxContext(ctx, db.Rebind(query), args...)
	if err != nil {
		return Result{}, err
	}
	defer rows.Close()

	res := Result{OK: true, Rows: [][]any{}}
	for rows.Next() {
		vals, err := rows.SliceScan()
		if err != nil {
			return Result{}, fmt.Errorf("failed to scan row: %w", err)
		}
		res.Rows = append(res.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("error iterating rows: %w", err)
	}
	return res, nil
}

func (e *Executor) exec(ctx context.Context, db *sqlx.DB, query string, args []any) (Result, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return Result{}, err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	sqlRes, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
	if err != nil {
		return Result{}, err
	}
	if err := tx.Commit(); err != nil {
		return Result{}, err
	}

	affected, err := sqlRes.RowsAffected()
	if err != nil {
		log.Printf("[DEBUG] rows affected not reported: %v", err)
		affected = -1
	}
	return Result{OK: true, Affected: affected}, nil
}

// AsInt64 converts a scanned column value to int64. Second value is false for NULL or unknown types.
func AsInt64(v any) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case int32:
		return int64(val), true
	case int:
		return int64(val), true
	case float64:
		return int64(val), true
	case []byte:
		return parseInt(string(val))
	case string:
		return parseInt(val)
	default:
		return 0, false
	}
}

// AsFloat64 converts a scanned column value to float64. Second value is false for NULL or unknown types.
func AsFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int64:
		return float64(val), true
	case int:
		return float64(val), true
	case []byte:
		return parseFloat(string(val))
	case string:
		return parseFloat(val)
	default:
		return 0, false
	}
}

func parseInt(s string) (int64, bool) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	f, ok := parseFloat(s) // decimal columns come as "5.000000"
	return int64(f), ok
}

func parseFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
