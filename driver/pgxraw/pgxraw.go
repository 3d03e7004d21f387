// Package pgxraw is the only place in the module that dials a physical
// socket. It adapts github.com/jackc/pgx/v5 onto the driver.RawDriver
// contract so a Pool never has to know it is talking to Postgres.
package pgxraw

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/relaypool/dbpool/driver"
)

// Name is the DriverName value that selects this adapter in dbpool.Config.
const Name = "pgx"

// Register installs this adapter under Name via dbpool.RegisterDriver. It
// takes a registrar function so this package never imports dbpool itself
// and depends only on the dbpool/driver contract.
func Register(register func(name string, d driver.RawDriver)) {
	register(Name, New())
}

// New returns a driver.RawDriver backed by pgx/v5.
func New() driver.RawDriver {
	return rawDriver{}
}

type rawDriver struct{}

func (rawDriver) Open(ctx context.Context, cfg driver.OpenConfig) (driver.RawConn, error) {
	connCfg, err := pgx.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgxraw: parse dsn: %w", err)
	}
	if cfg.Username != "" {
		connCfg.User = cfg.Username
	}
	if cfg.Password != "" {
		connCfg.Password = cfg.Password
	}
	if cfg.ConnectionTimeout > 0 {
		connCfg.ConnectTimeout = cfg.ConnectionTimeout
	}

	conn, err := pgx.ConnectConfig(ctx, connCfg)
	if err != nil {
		return nil, fmt.Errorf("pgxraw: connect: %w", err)
	}

	if cfg.ApplicationName != "" {
		if _, err := conn.Exec(ctx, "SET application_name = "+quoteLiteral(cfg.ApplicationName)); err != nil {
			_ = conn.Close(ctx)
			return nil, fmt.Errorf("pgxraw: set application_name: %w", err)
		}
	}

	return &rawConn{conn: conn}, nil
}

type rawConn struct {
	conn *pgx.Conn
}

func (c *rawConn) SetCatalog(string) error {
	// Postgres has no notion of switching the connected database without
	// reconnecting; there is no wire-protocol equivalent to USE DATABASE.
	return driver.ErrUnsupported
}

func (c *rawConn) SetSchema(schema string) error {
	_, err := c.conn.Exec(context.Background(), "SET search_path TO "+quoteIdentifier(schema))
	return wrapExecErr(err)
}

func (c *rawConn) SetReadOnly(readOnly bool) error {
	mode := "off"
	if readOnly {
		mode = "on"
	}
	_, err := c.conn.Exec(context.Background(), "SET default_transaction_read_only = "+mode)
	return wrapExecErr(err)
}

func (c *rawConn) SetIsolation(level driver.IsolationLevel) error {
	var clause string
	switch level {
	case driver.IsolationReadUncommitted:
		clause = "READ UNCOMMITTED"
	case driver.IsolationReadCommitted:
		clause = "READ COMMITTED"
	case driver.IsolationRepeatableRead:
		clause = "REPEATABLE READ"
	case driver.IsolationSerializable:
		clause = "SERIALIZABLE"
	default:
		return driver.ErrUnsupported
	}
	_, err := c.conn.Exec(context.Background(), "SET SESSION CHARACTERISTICS AS TRANSACTION ISOLATION LEVEL "+clause)
	return wrapExecErr(err)
}

func (c *rawConn) SetAutoCommit(bool) error {
	// Postgres has no session-level autocommit toggle; transactions are
	// always explicit BEGIN/COMMIT. commitPending bookkeeping is done by
	// the pool itself, not delegated to the driver.
	return driver.ErrUnsupported
}

func (c *rawConn) SetClientInfo(key, value string) error {
	if key != "ApplicationName" {
		return driver.ErrUnsupported
	}
	_, err := c.conn.Exec(context.Background(), "SET application_name = "+quoteLiteral(value))
	return wrapExecErr(err)
}

func (c *rawConn) Prepare(ctx context.Context, text string) (driver.RawStatement, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	name := fmt.Sprintf("dbpool_%x", h.Sum64())
	if _, err := c.conn.Prepare(ctx, name, text); err != nil {
		return nil, wrapExecErr(err)
	}
	return &rawStatement{conn: c.conn, name: name, text: text, poolable: true}, nil
}

func (c *rawConn) CreateStatement(ctx context.Context) (driver.RawStatement, error) {
	return &rawStatement{conn: c.conn, poolable: false}, nil
}

func (c *rawConn) MetaData(ctx context.Context) (driver.RawMetaData, error) {
	return &rawMetaData{conn: c.conn}, nil
}

func (c *rawConn) Commit(ctx context.Context) error {
	_, err := c.conn.Exec(ctx, "COMMIT")
	return wrapExecErr(err)
}

func (c *rawConn) Rollback(ctx context.Context) error {
	_, err := c.conn.Exec(ctx, "ROLLBACK")
	return wrapExecErr(err)
}

func (c *rawConn) IsValid(ctx context.Context, fullValidation bool) bool {
	if !fullValidation {
		return !c.conn.PgConn().IsClosed()
	}
	return c.conn.Ping(ctx) == nil
}

func (c *rawConn) ClearWarnings() error {
	return nil
}

func (c *rawConn) Close() error {
	return c.conn.Close(context.Background())
}

type rawStatement struct {
	conn     *pgx.Conn
	name     string
	text     string
	poolable bool

	args []any
}

func (s *rawStatement) SetParam(ordinal int, value any) error {
	for len(s.args) < ordinal {
		s.args = append(s.args, nil)
	}
	s.args[ordinal-1] = value
	return nil
}

func (s *rawStatement) sql() string {
	if s.name != "" {
		return s.name
	}
	return s.text
}

func (s *rawStatement) ExecuteQuery(ctx context.Context, _ time.Duration) (driver.RawRows, error) {
	rows, err := s.conn.Query(ctx, s.sql(), s.args...)
	if err != nil {
		return nil, wrapExecErr(err)
	}
	return &rawRows{rows: rows}, nil
}

func (s *rawStatement) Execute(ctx context.Context, _ time.Duration) (driver.RawRows, int64, error) {
	rows, err := s.conn.Query(ctx, s.sql(), s.args...)
	if err != nil {
		return nil, 0, wrapExecErr(err)
	}

	if len(rows.FieldDescriptions()) == 0 {
		for rows.Next() {
		}
		err := rows.Err()
		tag := rows.CommandTag()
		rows.Close()
		if err != nil {
			return nil, 0, wrapExecErr(err)
		}
		return nil, tag.RowsAffected(), nil
	}

	return &rawRows{rows: rows}, 0, nil
}

func (s *rawStatement) IsPoolable() bool {
	return s.poolable
}

func (s *rawStatement) Close() error {
	if s.name == "" {
		return nil
	}
	_, err := s.conn.Exec(context.Background(), "DEALLOCATE "+quoteIdentifier(s.name))
	return wrapExecErr(err)
}

type rawRows struct {
	rows pgx.Rows
}

func (r *rawRows) Next(context.Context) bool {
	return r.rows.Next()
}

func (r *rawRows) Scan(dest ...any) error {
	return wrapExecErr(r.rows.Scan(dest...))
}

func (r *rawRows) Err() error {
	return wrapExecErr(r.rows.Err())
}

func (r *rawRows) Close() error {
	r.rows.Close()
	return nil
}

type rawMetaData struct {
	conn *pgx.Conn
}

// metadataQueries maps a logical introspection method name to the catalog
// query that implements it. Only the handful of methods dbpool's
// MetadataProxy is expected to be asked for are wired; unknown methods
// return driver.ErrUnsupported.
var metadataQueries = map[string]string{
	"tables":  "SELECT table_schema, table_name FROM information_schema.tables WHERE table_catalog = current_database()",
	"columns": "SELECT column_name, data_type, is_nullable FROM information_schema.columns WHERE table_name = $1",
}

func (m *rawMetaData) Query(ctx context.Context, method string, args ...any) (driver.RawRows, error) {
	sql, ok := metadataQueries[method]
	if !ok {
		return nil, driver.ErrUnsupported
	}
	rows, err := m.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, wrapExecErr(err)
	}
	return &rawRows{rows: rows}, nil
}

func (m *rawMetaData) Close() error { return nil }

// pgxError adapts a *pgconn.PgError to driver.DriverError.
type pgxError struct {
	*pgconn.PgError
}

func (e *pgxError) SQLState() string { return e.PgError.Code }

// Code derives a numeric vendor code from the SQLSTATE, since the Postgres
// wire protocol carries no separate numeric error code the way some other
// vendors' drivers do.
func (e *pgxError) Code() int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(e.PgError.Code))
	return int(h.Sum32())
}

func (e *pgxError) Category() driver.ErrorCategory {
	switch {
	case len(e.PgError.Code) >= 2 && e.PgError.Code[:2] == "08":
		return driver.CategoryNonTransientConnection
	case e.PgError.Code == "57P01" || e.PgError.Code == "57P02" || e.PgError.Code == "57P03":
		return driver.CategoryRecoverable
	case len(e.PgError.Code) >= 2 && e.PgError.Code[:2] == "53":
		return driver.CategoryTransientConnection
	case len(e.PgError.Code) >= 2 && e.PgError.Code[:2] == "28":
		return driver.CategoryInvalidAuthorization
	case len(e.PgError.Code) >= 2 && e.PgError.Code[:2] == "40":
		return driver.CategoryTransactionRollback
	case len(e.PgError.Code) >= 2 && e.PgError.Code[:2] == "XX":
		return driver.CategoryNonTransient
	default:
		return driver.CategoryNone
	}
}

func (e *pgxError) Unwrap() error { return e.PgError }

// wrapExecErr adapts any *pgconn.PgError found in err's chain into a
// driver.DriverError so dbpool's ErrorClassifier can read its state code.
// Other errors (network failures, context deadlines) pass through
// unchanged; dbpool wraps I/O errors among them as ErrConnectionFailure
// via its own io/net.Error checks.
func wrapExecErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &pgxError{PgError: pgErr}
	}
	return err
}

func quoteIdentifier(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return `'` + strings.ReplaceAll(s, `'`, `''`) + `'`
}
