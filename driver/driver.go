// Package driver declares the contract a physical database driver must
// satisfy to back a dbpool.Pool. The pool never talks to a socket itself;
// it drives an implementation of RawDriver, the same way database/sql
// drives a driver.Driver. Concrete adapters (see the pgxraw subpackage)
// translate this contract onto a real client library.
package driver

import (
	"context"
	"time"
)

// OpenConfig carries everything a RawDriver needs to establish one physical
// connection.
type OpenConfig struct {
	DSN               string
	Username          string
	Password          string
	ConnectionTimeout time.Duration
	ApplicationName   string
}

// RawDriver opens physical connections. Registered implementations are
// looked up by name from Pool's Config.DriverName.
type RawDriver interface {
	Open(ctx context.Context, cfg OpenConfig) (RawConn, error)
}

// RawConn is the minimal surface the pool needs from a physical connection
// in order to manage its lifecycle. Everything else (query execution) is
// reached through RawStatement, obtained via Prepare/CreateStatement.
type RawConn interface {
	// SetCatalog, SetSchema, SetReadOnly, SetIsolation and SetAutoCommit
	// configure session defaults. They return ErrUnsupported when the
	// driver has no equivalent concept; the pool treats that as a
	// non-fatal, log-and-continue condition.
	SetCatalog(catalog string) error
	SetSchema(schema string) error
	SetReadOnly(readOnly bool) error
	SetIsolation(level IsolationLevel) error
	SetAutoCommit(autoCommit bool) error
	SetClientInfo(key, value string) error

	Prepare(ctx context.Context, text string) (RawStatement, error)
	CreateStatement(ctx context.Context) (RawStatement, error)
	MetaData(ctx context.Context) (RawMetaData, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// IsValid probes liveness. fullValidation asks the driver to make a
	// round trip to the server rather than a purely local check.
	IsValid(ctx context.Context, fullValidation bool) bool

	ClearWarnings() error
	Close() error
}

// RawStatement is a prepared or ad-hoc statement handle.
type RawStatement interface {
	// SetParam records a positional bind parameter; ordinal is 1-based.
	SetParam(ordinal int, value any) error

	ExecuteQuery(ctx context.Context, timeout time.Duration) (RawRows, error)
	Execute(ctx context.Context, timeout time.Duration) (result RawRows, rowsAffected int64, err error)

	// IsPoolable reports whether the statement may be recycled through a
	// StatementCache rather than closed outright.
	IsPoolable() bool

	Close() error
}

// RawRows is a forward cursor over a result set.
type RawRows interface {
	Next(ctx context.Context) bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// RawMetaData exposes catalog/introspection queries. Every method that is
// not Close is a candidate for MetadataProxy caching.
type RawMetaData interface {
	Query(ctx context.Context, method string, args ...any) (RawRows, error)
	Close() error
}

// IsolationLevel mirrors the standard SQL transaction isolation levels.
type IsolationLevel int

const (
	IsolationUnset IsolationLevel = iota
	IsolationReadUncommitted
	IsolationReadCommitted
	IsolationRepeatableRead
	IsolationSerializable
)

// DriverError is the contract ErrorClassifier needs from a driver-native
// error: a SQL state code, a numeric vendor code and a coarse category.
// Concrete drivers implement this on their own error types (see pgxraw);
// errors that don't implement it are treated as opaque and classify as
// Application, I/O errors included.
type DriverError interface {
	error
	SQLState() string
	Code() int
	Category() ErrorCategory
}

// ErrorCategory is a coarse classification a driver may attach to one of
// its own errors, feeding rule 2/3 of ErrorClassifier in addition to the
// state-code and numeric-code checks.
type ErrorCategory int

const (
	CategoryNone ErrorCategory = iota
	CategoryTimeout
	CategoryRecoverable
	CategoryInvalidAuthorization
	CategoryNonTransientConnection
	CategoryTransientConnection
	CategoryNonTransient
	CategoryTransactionRollback
)

// ErrUnsupported is returned by RawConn configuration methods when the
// underlying driver has no equivalent feature. The pool logs and moves on.
var ErrUnsupported = unsupportedError{}

type unsupportedError struct{}

func (unsupportedError) Error() string { return "driver: feature not supported" }
