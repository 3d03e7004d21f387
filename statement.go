package dbpool

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/relaypool/dbpool/driver"
	"github.com/relaypool/dbpool/sqlkind"
)

// StatementWrapper proxies a single prepared or ad-hoc driver statement. It
// buffers bound parameters for logging, applies the pool's request timeout
// to execution, and classifies non-query statements so the owning
// Connection can track a pending transaction.
type StatementWrapper struct {
	conn  *ConnectionWrapper
	raw   driver.RawStatement
	text  string
	cache *statementCache // nil for ad-hoc (CreateStatement) statements

	mu     sync.Mutex
	argBuf []string
	closed bool
}

func newStatementWrapper(conn *ConnectionWrapper, raw driver.RawStatement, text string, cache *statementCache) *StatementWrapper {
	return &StatementWrapper{
		conn:  conn,
		raw:   raw,
		text:  text,
		cache: cache,
	}
}

// SetParam records ordinal/value for argument logging (when enabled) and
// delegates the bind to the driver.
func (s *StatementWrapper) SetParam(ordinal int, value any) error {
	if s.conn.pool.cfg.LogArguments {
		s.mu.Lock()
		s.argBuf = append(s.argBuf, fmt.Sprintf("$%d=%v", ordinal, value))
		s.mu.Unlock()
	}
	if err := s.raw.SetParam(ordinal, value); err != nil {
		return s.conn.captureException(err)
	}
	return nil
}

// ExecuteQuery runs a query statement and returns its rows wrapped in a
// ResultSetWrapper.
func (s *StatementWrapper) ExecuteQuery(ctx context.Context) (*ResultSetWrapper, error) {
	ctx, cancel := s.withRequestTimeout(ctx)
	defer cancel()

	start := time.Now()
	rows, err := s.raw.ExecuteQuery(ctx, s.conn.pool.cfg.RequestTimeout)
	s.logExecution("executeQuery", time.Since(start), err)
	if err != nil {
		return nil, s.conn.captureException(err)
	}

	s.maybeMarkCommitPending()
	return newResultSetWrapper(rows, s.conn), nil
}

// Execute runs a statement whose kind is not known ahead of time (DML, DDL,
// or a query executed through the generic path) and returns either a row
// cursor or an affected-row count.
func (s *StatementWrapper) Execute(ctx context.Context) (*ResultSetWrapper, int64, error) {
	ctx, cancel := s.withRequestTimeout(ctx)
	defer cancel()

	start := time.Now()
	rows, affected, err := s.raw.Execute(ctx, s.conn.pool.cfg.RequestTimeout)
	s.logExecution("execute", time.Since(start), err)
	if err != nil {
		return nil, 0, s.conn.captureException(err)
	}

	s.maybeMarkCommitPending()

	if rows == nil {
		return nil, affected, nil
	}
	return newResultSetWrapper(rows, s.conn), affected, nil
}

// IsPoolable delegates to the driver statement.
func (s *StatementWrapper) IsPoolable() bool {
	return s.raw.IsPoolable()
}

// Close returns the wrapper to its bound cache when eligible; otherwise it
// closes the driver statement and releases internal state.
func (s *StatementWrapper) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	eligible := s.cache != nil && s.cache.capacity > 0 && s.raw.IsPoolable() && s.text != ""
	s.argBuf = nil
	if eligible {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.raw.Close(); err != nil {
		return s.conn.captureException(err)
	}
	return nil
}

// destroy force-closes the driver statement regardless of cache state.
// Called by the statement cache on eviction and by Connection.destroy.
func (s *StatementWrapper) destroy() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.raw.Close(); err != nil {
		s.conn.pool.cfg.Logger.Warn("statement close failed", "connection", s.conn.id, "text", s.text, "error", err)
	}
}

func (s *StatementWrapper) withRequestTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := s.conn.pool.cfg.RequestTimeout; d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return ctx, func() {}
}

func (s *StatementWrapper) maybeMarkCommitPending() {
	if s.conn.pool.cfg.AutoCommit {
		return
	}
	kind, err := sqlkind.Classify(s.text)
	if err != nil {
		// Unparseable statements degrade to NonQuery, the conservative
		// choice: force the same commit-pending bookkeeping a real
		// mutating statement would get.
		kind = sqlkind.NonQuery
	}
	if s.text == "" {
		// Ad-hoc statements without known text cannot be classified by
		// parsing; fall back to a method-based guess via IsPoolable's
		// sibling signal is unavailable here, so treat as NonQuery to
		// stay conservative.
		kind = sqlkind.NonQuery
	}
	if kind == sqlkind.NonQuery {
		s.conn.setCommitPending()
	}
}

func (s *StatementWrapper) logExecution(op string, d time.Duration, err error) {
	s.mu.Lock()
	args := strings.Join(s.argBuf, ", ")
	s.argBuf = nil
	s.mu.Unlock()

	logger := s.conn.pool.cfg.Logger
	if err != nil {
		logger.Error("statement execution failed", "connection", s.conn.id, "op", op, "duration", d, "args", args, "error", err)
		return
	}
	logger.Debug("statement executed", "connection", s.conn.id, "op", op, "duration", d, "args", args)
}
