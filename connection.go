package dbpool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/relaypool/dbpool/driver"
	"github.com/relaypool/dbpool/idgen"
)

// ConnectionWrapper proxies a single physical connection. It tracks
// ownership, captures failures for later classification, lazily creates
// and caches statements, and forces a rollback on Close when a
// transaction was left uncommitted. Callers treat *ConnectionWrapper as
// if it were the driver connection itself.
type ConnectionWrapper struct {
	pool *Pool
	raw  driver.RawConn

	id         string
	createdAt  time.Time
	sessionID  string
	descriptor string

	cache *statementCache

	mu                 sync.Mutex
	owner              *callerID
	commitPending      bool
	lastErr            error
	validationSupported bool
}

func newConnectionWrapper(pool *Pool, raw driver.RawConn, cacheSize int) *ConnectionWrapper {
	c := &ConnectionWrapper{
		pool:      pool,
		raw:       raw,
		id:        idgen.New(),
		createdAt: time.Now(),
		cache:     newStatementCache(cacheSize),
	}
	c.rebuildDescriptor()
	return c
}

// Descriptor returns a human-readable identity string used only in
// telemetry: "id=<uuid>[, session=<id>, delta=<n>ms]".
func (c *ConnectionWrapper) Descriptor() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.descriptor
}

func (c *ConnectionWrapper) rebuildDescriptor() {
	if c.sessionID == "" {
		c.descriptor = fmt.Sprintf("id=%s", c.id)
		return
	}
	delta := int64(0)
	if c.pool != nil {
		delta = c.pool.timeDelta.Delta()
	}
	c.descriptor = fmt.Sprintf("id=%s, session=%s, delta=%dms", c.id, c.sessionID, delta)
}

// allocate records ownership by owner. Called only from Pool.Get while
// holding the pool's queue-side bookkeeping; the caller-facing invariant
// (exclusivity) is enforced here by simply overwriting any prior owner --
// the pool never hands out a Connection that is still owned.
func (c *ConnectionWrapper) allocate(owner callerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owner = &owner
	c.lastErr = nil
}

// release clears ownership. Returns ErrAlreadyReleased if by is not the
// current owner.
func (c *ConnectionWrapper) release(by callerID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.owner == nil || *c.owner != by {
		return ErrAlreadyReleased
	}
	c.owner = nil
	return nil
}

func (c *ConnectionWrapper) age() time.Duration {
	return time.Since(c.createdAt)
}

// IsEndOfLife reports whether the connection has exceeded MaximumLifetime.
func (c *ConnectionWrapper) IsEndOfLife() bool {
	max := c.pool.cfg.MaximumLifetime
	return max > 0 && c.age() > max
}

// IsValid reports whether the connection may still be issued to a caller.
// It returns false unconditionally if a captured error classifies as
// Communication or System. When fullValidation is requested and the
// driver supports it, it additionally performs a live probe.
func (c *ConnectionWrapper) IsValid(ctx context.Context, fullValidation bool) bool {
	c.mu.Lock()
	lastErr := c.lastErr
	supported := c.validationSupported
	c.mu.Unlock()

	if lastErr != nil {
		switch Classify(lastErr) {
		case Communication, System:
			return false
		}
	}

	if fullValidation && supported {
		vctx, cancel := context.WithTimeout(ctx, c.pool.cfg.ValidationTimeout)
		defer cancel()
		return c.raw.IsValid(vctx, true)
	}

	return true
}

// captureException normalises err into one of {driver error as-is,
// ErrConnectionFailure, dynamicSQLError}, stashes it as the connection's
// last error (feeding IsValid), and returns the original error unchanged
// so the caller still observes it. captureException never swallows.
func (c *ConnectionWrapper) captureException(err error) error {
	if err == nil {
		return nil
	}

	var normalized error
	var de driver.DriverError
	switch {
	case errors.As(err, &de):
		normalized = err
	case isIOError(err):
		normalized = errWrap(ErrConnectionFailure, err)
	default:
		normalized = &dynamicSQLError{cause: err}
	}

	c.mu.Lock()
	c.lastErr = normalized
	c.mu.Unlock()

	return err
}

func isIOError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// PrepareStatement returns a statement for text, reusing a cached
// StatementWrapper when one exists for the same text and the cache has
// positive capacity.
func (c *ConnectionWrapper) PrepareStatement(ctx context.Context, text string) (*StatementWrapper, error) {
	if c.cache.capacity > 0 {
		if cached := c.cache.get(text); cached != nil {
			c.pool.cfg.Logger.Debug("using cached statement", "connection", c.id, "text", text)
			return cached, nil
		}
	}

	raw, err := c.measured(ctx, "prepareStatement", func(ctx context.Context) (any, error) {
		return c.raw.Prepare(ctx, text)
	})
	if err != nil {
		return nil, err
	}

	sw := newStatementWrapper(c, raw.(driver.RawStatement), text, c.cache)
	if c.cache.capacity > 0 {
		if evicted := c.cache.put(text, sw); evicted != nil {
			evicted.destroy()
		}
	}
	return sw, nil
}

// CreateStatement returns an uncached, ad-hoc statement.
func (c *ConnectionWrapper) CreateStatement(ctx context.Context) (*StatementWrapper, error) {
	raw, err := c.measured(ctx, "createStatement", func(ctx context.Context) (any, error) {
		return c.raw.CreateStatement(ctx)
	})
	if err != nil {
		return nil, err
	}
	return newStatementWrapper(c, raw.(driver.RawStatement), "", nil), nil
}

// MetaData returns a MetadataProxy wrapping the driver's metadata handle.
// Retrieving metadata is side-effect free and clears commitPending, per
// §4.8.
func (c *ConnectionWrapper) MetaData(ctx context.Context) (*MetadataProxy, error) {
	raw, err := c.measured(ctx, "getMetaData", func(ctx context.Context) (any, error) {
		return c.raw.MetaData(ctx)
	})
	c.mu.Lock()
	c.commitPending = false
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return newMetadataProxy(raw.(driver.RawMetaData), c, c.pool.cfg.CacheMetadata), nil
}

// Commit commits the pending transaction and clears commitPending.
func (c *ConnectionWrapper) Commit(ctx context.Context) error {
	_, err := c.measured(ctx, "commit", func(ctx context.Context) (any, error) {
		return nil, c.raw.Commit(ctx)
	})
	c.mu.Lock()
	c.commitPending = false
	c.mu.Unlock()
	return err
}

// Rollback rolls back the pending transaction and clears commitPending.
func (c *ConnectionWrapper) Rollback(ctx context.Context) error {
	_, err := c.measured(ctx, "rollback", func(ctx context.Context) (any, error) {
		return nil, c.raw.Rollback(ctx)
	})
	c.mu.Lock()
	c.commitPending = false
	c.mu.Unlock()
	return err
}

// Close returns the connection to the pool. If a transaction was left
// uncommitted it is first rolled back, and ErrUncommittedTransactionForcedRollback
// is returned to the caller -- but only after the release to the pool has
// already happened.
func (c *ConnectionWrapper) Close(ctx context.Context) error {
	c.mu.Lock()
	pending := c.commitPending
	c.mu.Unlock()

	var forcedRollbackErr error
	if pending {
		if _, err := c.measured(ctx, "rollback", func(ctx context.Context) (any, error) {
			return nil, c.raw.Rollback(ctx)
		}); err != nil {
			// The rollback attempt itself failed; captureException has
			// already recorded it and it will surface via retirement.
		}
		c.mu.Lock()
		c.commitPending = false
		c.mu.Unlock()
		forcedRollbackErr = ErrUncommittedTransactionForcedRollback
	}

	_ = c.raw.ClearWarnings()

	if err := c.pool.release(ctx, c); err != nil {
		return err
	}

	return forcedRollbackErr
}

// setCommitPending is called by StatementWrapper after a non-query
// execution under AutoCommit == false.
func (c *ConnectionWrapper) setCommitPending() {
	c.mu.Lock()
	c.commitPending = true
	c.mu.Unlock()
}

// destroy closes the underlying driver connection and clears the
// statement cache. Called from the pool's retirer goroutine, from
// Pool.Close and Pool.release after the pool has closed, and from the
// opener when the pool shuts down mid-open.
func (c *ConnectionWrapper) destroy() {
	for _, sw := range c.cache.clear() {
		sw.destroy()
	}
	if err := c.raw.Close(); err != nil {
		c.pool.cfg.Logger.Warn("connection close failed", "connection", c.id, "error", err)
	}
}

// measured invokes fn, applying no timeout itself (callers that need one
// derive a context), and logs duration and outcome the way the reference
// implementation's invokeMeasured helper does. Failures are routed through
// captureException.
func (c *ConnectionWrapper) measured(ctx context.Context, op string, fn func(context.Context) (any, error)) (any, error) {
	start := time.Now()
	result, err := fn(ctx)
	duration := time.Since(start)

	if err != nil {
		c.pool.cfg.Logger.Error("operation failed", "connection", c.id, "op", op, "duration", duration, "error", err)
		return nil, c.captureException(err)
	}

	c.pool.cfg.Logger.Debug("operation succeeded", "connection", c.id, "op", op, "duration", duration)
	return result, nil
}
