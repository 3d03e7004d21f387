package dbpool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/relaypool/dbpool/driver"
)

// fakeRawDriver is an in-memory driver.RawDriver used by the package's
// tests. It never touches a socket.
type fakeRawDriver struct {
	mu       sync.Mutex
	openErr  error
	opened   int
	failNext int // when > 0, the next Open calls fail and decrement this
}

func (d *fakeRawDriver) Open(ctx context.Context, cfg driver.OpenConfig) (driver.RawConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.opened++
	if d.failNext > 0 {
		d.failNext--
		return nil, errors.New("fake: refused")
	}
	if d.openErr != nil {
		return nil, d.openErr
	}
	return newFakeRawConn(), nil
}

type fakeRawConn struct {
	mu        sync.Mutex
	closed    bool
	valid     bool
	failValid bool
	nextErr   error // returned by the next statement execution
}

func newFakeRawConn() *fakeRawConn { return &fakeRawConn{valid: true} }

func (c *fakeRawConn) SetCatalog(string) error         { return driver.ErrUnsupported }
func (c *fakeRawConn) SetSchema(string) error          { return nil }
func (c *fakeRawConn) SetReadOnly(bool) error          { return nil }
func (c *fakeRawConn) SetIsolation(driver.IsolationLevel) error { return nil }
func (c *fakeRawConn) SetAutoCommit(bool) error        { return nil }
func (c *fakeRawConn) SetClientInfo(string, string) error { return nil }

func (c *fakeRawConn) Prepare(ctx context.Context, text string) (driver.RawStatement, error) {
	return &fakeRawStatement{conn: c, text: text, poolable: true}, nil
}

func (c *fakeRawConn) CreateStatement(ctx context.Context) (driver.RawStatement, error) {
	return &fakeRawStatement{conn: c, poolable: false}, nil
}

func (c *fakeRawConn) MetaData(ctx context.Context) (driver.RawMetaData, error) {
	return &fakeRawMetaData{}, nil
}

func (c *fakeRawConn) Commit(ctx context.Context) error   { return nil }
func (c *fakeRawConn) Rollback(ctx context.Context) error { return nil }

func (c *fakeRawConn) IsValid(ctx context.Context, fullValidation bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failValid {
		return false
	}
	return c.valid
}

func (c *fakeRawConn) ClearWarnings() error { return nil }

func (c *fakeRawConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeRawConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeRawStatement struct {
	conn      *fakeRawConn
	text      string
	poolable  bool
	closed    bool
	closeErr  error
	closeHits int
}

func (s *fakeRawStatement) SetParam(ordinal int, value any) error { return nil }

func (s *fakeRawStatement) ExecuteQuery(ctx context.Context, timeout time.Duration) (driver.RawRows, error) {
	if s.conn.nextErr != nil {
		return nil, s.conn.nextErr
	}
	return &fakeRawRows{}, nil
}

func (s *fakeRawStatement) Execute(ctx context.Context, timeout time.Duration) (driver.RawRows, int64, error) {
	if s.conn.nextErr != nil {
		return nil, 0, s.conn.nextErr
	}
	return nil, 1, nil
}

func (s *fakeRawStatement) IsPoolable() bool { return s.poolable }

func (s *fakeRawStatement) Close() error {
	s.closeHits++
	s.closed = true
	return s.closeErr
}

type fakeRawRows struct {
	pos  int
	rows [][]any
}

func (r *fakeRawRows) Next(ctx context.Context) bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}
func (r *fakeRawRows) Scan(dest ...any) error { return nil }
func (r *fakeRawRows) Err() error             { return nil }
func (r *fakeRawRows) Close() error           { return nil }

type fakeRawMetaData struct{}

func (m *fakeRawMetaData) Query(ctx context.Context, method string, args ...any) (driver.RawRows, error) {
	return &fakeRawRows{}, nil
}
func (m *fakeRawMetaData) Close() error { return nil }

// fakeCommError implements driver.DriverError with a Communication-class
// SQL state, mirroring Postgres's 08003 ("connection does not exist").
type fakeCommError struct{}

func (fakeCommError) Error() string                 { return "fake: connection lost" }
func (fakeCommError) SQLState() string               { return "08003" }
func (fakeCommError) Code() int                      { return 0 }
func (fakeCommError) Category() driver.ErrorCategory { return driver.CategoryNone }

// newBarePool builds a Pool with its queues initialised but no background
// goroutines running, for unit tests that only need pool.cfg and the
// borrow/release bookkeeping directly.
func newBarePool(cfg Config) *Pool {
	cfg = cfg.withDefaults()
	bufSize := channelCapacity(cfg.MaxSize)
	return &Pool{
		cfg:       cfg,
		ctx:       context.Background(),
		available: make(chan *ConnectionWrapper, bufSize),
		retire:    make(chan *ConnectionWrapper, bufSize),
		demand:    make(chan struct{}, bufSize),
		owners:    make(map[*int]*ConnectionWrapper),
	}
}

func newTestPool(t interface {
	Helper()
	Fatalf(string, ...any)
}, cfg Config, d driver.RawDriver) *Pool {
	t.Helper()
	name := "test-" + time.Now().String()
	RegisterDriver(name, d)
	cfg.DriverName = name
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}
