package dbpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaypool/dbpool/driver"
	"github.com/relaypool/dbpool/idgen"
)

// maxChannelCapacity bounds the buffer size of the pool's internal
// channels. Config.MaxSize may be left at its "unbounded" default
// (math.MaxInt32), which is a fine bound for population-size comparisons
// but not a value any real workload will ever approach and not something
// a channel buffer should actually be sized to.
const maxChannelCapacity = 1 << 16

func channelCapacity(maxSize int) int {
	if maxSize <= 0 || maxSize > maxChannelCapacity {
		return maxChannelCapacity
	}
	return maxSize
}

// Pool manages a bounded population of physical connections behind a
// single RawDriver, handing out *ConnectionWrapper values that behave like
// ordinary driver connections except that Close returns them to the pool
// instead of closing the socket.
type Pool struct {
	id     string
	cfg    Config
	driver driver.RawDriver

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	available chan *ConnectionWrapper
	retire    chan *ConnectionWrapper
	demand    chan struct{}

	supplyCounter int64 // atomic; may go negative while callers wait
	totalCount    int64 // atomic
	churnCount    int64 // atomic
	activeHWM     int64 // atomic; reset each pruning window

	ownersMu sync.Mutex
	owners   map[*int]*ConnectionWrapper // callerID.tag -> held connection

	timeDelta TimeDelta

	closed int32 // atomic
}

// New constructs a Pool and starts its background opener, pruner (if
// configured) and retirer goroutines. The returned Pool must eventually be
// stopped with Close.
func New(cfg Config) (*Pool, error) {
	cfg = cfg.withDefaults()

	d, err := lookupDriver(cfg.DriverName)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	bufSize := channelCapacity(cfg.MaxSize)
	p := &Pool{
		id:        idgen.New(),
		cfg:       cfg,
		driver:    d,
		ctx:       ctx,
		cancel:    cancel,
		available: make(chan *ConnectionWrapper, bufSize),
		retire:    make(chan *ConnectionWrapper, bufSize),
		demand:    make(chan struct{}, bufSize),
		owners:    make(map[*int]*ConnectionWrapper),
	}

	p.wg.Add(2)
	go p.runOpener()
	go p.runRetirer()
	if cfg.InactivityTimeout > 0 && cfg.PruneInterval > 0 {
		p.wg.Add(1)
		go p.runPruner()
	}

	if cfg.MinSize > 0 {
		p.raiseDemand()
	}

	return p, nil
}

// ID returns the pool's generated identity, used as the SessionController's
// pool-identity argument and in telemetry.
func (p *Pool) ID() string { return p.id }

// Config returns the fully defaulted configuration this Pool was built
// with.
func (p *Pool) Config() Config { return p.cfg }

// Get borrows a Connection, blocking up to Config.ConnectionTimeout (and
// respecting ctx's own deadline/cancellation) for one to become available.
// A caller that has annotated ctx via WithCaller and already owns a
// Connection receives that same Connection again (reentrancy).
func (p *Pool) Get(ctx context.Context) (*ConnectionWrapper, error) {
	if atomic.LoadInt32(&p.closed) != 0 {
		return nil, ErrPoolClosed
	}

	caller := callerFrom(ctx)

	p.ownersMu.Lock()
	if existing, ok := p.owners[caller.tag]; ok {
		p.ownersMu.Unlock()
		return existing, nil
	}
	p.ownersMu.Unlock()

	atomic.AddInt64(&p.supplyCounter, -1)

	deadline := time.Now().Add(p.cfg.ConnectionTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			atomic.AddInt64(&p.supplyCounter, 1)
			return nil, ErrConnectionTimeout
		}

		conn, err := p.awaitAvailable(ctx, remaining)
		if err != nil {
			atomic.AddInt64(&p.supplyCounter, 1)
			return nil, err
		}

		if !p.validateBorrowed(ctx, conn) {
			continue
		}

		conn.allocate(caller)
		p.ownersMu.Lock()
		p.owners[caller.tag] = conn
		p.ownersMu.Unlock()

		p.bumpActiveHighWaterMark()
		return conn, nil
	}
}

// awaitAvailable polls the available queue briefly (so the opener gets a
// chance to react to freshly raised demand) before falling back to a
// blocking wait bounded by remaining.
func (p *Pool) awaitAvailable(ctx context.Context, remaining time.Duration) (*ConnectionWrapper, error) {
	select {
	case conn := <-p.available:
		return conn, nil
	case <-time.After(time.Millisecond):
	}

	p.raiseDemand()

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case conn := <-p.available:
		return conn, nil
	case <-timer.C:
		return nil, ErrConnectionTimeout
	case <-ctx.Done():
		return nil, errWrap(ErrConnectionTimeout, ctx.Err())
	case <-p.ctx.Done():
		return nil, ErrPoolClosed
	}
}

// validateBorrowed decides whether a dequeued connection may be issued to
// the caller. Connections that fail validation, or that have outlived
// MaximumLifetime, are retired and the caller's loop continues.
func (p *Pool) validateBorrowed(ctx context.Context, conn *ConnectionWrapper) bool {
	if !conn.IsValid(ctx, p.cfg.ValidateOnBorrow) {
		atomic.AddInt64(&p.supplyCounter, -1)
		atomic.AddInt64(&p.churnCount, 1)
		atomic.AddInt64(&p.totalCount, -1)
		p.enqueueRetire(conn)
		return false
	}

	if conn.IsEndOfLife() {
		atomic.AddInt64(&p.supplyCounter, -1)
		atomic.AddInt64(&p.totalCount, -1)
		p.enqueueRetire(conn)
		return false
	}

	return true
}

// release is invoked by ConnectionWrapper.Close after it has applied its
// own forced-rollback bookkeeping.
func (p *Pool) release(ctx context.Context, conn *ConnectionWrapper) error {
	caller, ok := ctx.Value(callerKey).(callerID)
	if !ok {
		// ctx carries no WithCaller identity, so the one-shot identity Get
		// recorded cannot be reproduced from it; the release is attributed
		// to the connection's current owner.
		conn.mu.Lock()
		if conn.owner != nil {
			caller = *conn.owner
		}
		conn.mu.Unlock()
	}

	p.ownersMu.Lock()
	delete(p.owners, caller.tag)
	p.ownersMu.Unlock()

	if err := conn.release(caller); err != nil {
		return err
	}

	if atomic.LoadInt32(&p.closed) != 0 {
		// Returned after Close: close it rather than requeue it.
		atomic.AddInt64(&p.totalCount, -1)
		conn.destroy()
		return nil
	}

	if !conn.IsValid(ctx, false) {
		atomic.AddInt64(&p.churnCount, 1)
		atomic.AddInt64(&p.totalCount, -1)
		p.enqueueRetire(conn)
		return nil
	}

	atomic.AddInt64(&p.supplyCounter, 1)
	select {
	case p.available <- conn:
	default:
		// The available queue is sized to MaxSize (capped at
		// maxChannelCapacity) and can only be full when MaxSize exceeds
		// that cap; fail safe rather than block a caller's Close forever.
		atomic.AddInt64(&p.supplyCounter, -1)
		atomic.AddInt64(&p.totalCount, -1)
		p.enqueueRetire(conn)
	}
	return nil
}

func (p *Pool) enqueueRetire(conn *ConnectionWrapper) {
	select {
	case p.retire <- conn:
	case <-p.ctx.Done():
	}
}

func (p *Pool) raiseDemand() {
	select {
	case p.demand <- struct{}{}:
	default:
	}
}

func (p *Pool) bumpActiveHighWaterMark() {
	active := int64(p.Stats().Active)
	for {
		cur := atomic.LoadInt64(&p.activeHWM)
		if active <= cur {
			return
		}
		if atomic.CompareAndSwapInt64(&p.activeHWM, cur, active) {
			return
		}
	}
}

// runOpener is the single background goroutine responsible for growing
// the pool toward MinSize (at start) and in response to raised demand, up
// to MaxSize, subject to an exponential backoff after open failures.
func (p *Pool) runOpener() {
	defer p.wg.Done()

	var lastErr error
	var lastErrorAt time.Time
	var currentBackoff time.Duration

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.demand:
		}

		for p.shouldOpen() {
			if lastErr != nil {
				if wait := currentBackoff - time.Since(lastErrorAt); wait > 0 {
					timer := time.NewTimer(wait)
					select {
					case <-timer.C:
					case <-p.ctx.Done():
						timer.Stop()
						return
					}
				}
			}

			conn, err := p.open(p.ctx)
			if err != nil {
				lastErr = err
				lastErrorAt = time.Now()
				if currentBackoff == 0 {
					currentBackoff = p.cfg.BackoffPeriod
				} else {
					currentBackoff = time.Duration(float64(currentBackoff) * p.cfg.BackoffMultiplier)
					if p.cfg.BackoffLimit > 0 && currentBackoff > p.cfg.BackoffLimit {
						currentBackoff = p.cfg.BackoffLimit
					}
				}
				p.cfg.Logger.Warn("connection open failed", "pool", p.id, "classification", Classify(err).String(), "backoff", currentBackoff, "error", err)
				continue
			}

			atomic.AddInt64(&p.totalCount, 1)
			atomic.AddInt64(&p.supplyCounter, 1)
			lastErr = nil
			currentBackoff = 0
			select {
			case p.available <- conn:
			case <-p.ctx.Done():
				conn.destroy()
				return
			}
		}
	}
}

func (p *Pool) shouldOpen() bool {
	supply := atomic.LoadInt64(&p.supplyCounter)
	total := atomic.LoadInt64(&p.totalCount)
	needsFloor := supply < 0 || total < int64(p.cfg.MinSize)
	return needsFloor && total < int64(p.cfg.MaxSize)
}

// open performs the full connection-establishment sequence (§4.7).
func (p *Pool) open(ctx context.Context) (*ConnectionWrapper, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ConnectionTimeout)
	defer cancel()

	raw, err := p.driver.Open(ctx, driver.OpenConfig{
		DSN:               p.cfg.DSN,
		Username:          p.cfg.Username,
		Password:          p.cfg.Password,
		ConnectionTimeout: p.cfg.ConnectionTimeout,
		ApplicationName:   p.cfg.ApplicationName,
	})
	if err != nil {
		return nil, errWrap(ErrConnectionFailure, err)
	}

	if err := p.configureSession(ctx, raw); err != nil {
		_ = raw.Close()
		return nil, err
	}

	conn := newConnectionWrapper(p, raw, p.cfg.StatementCacheSize)

	conn.validationSupported = raw.IsValid(ctx, true)

	if p.cfg.SessionController != nil {
		data, err := p.cfg.SessionController.PrepareSession(ctx, p.id, raw)
		if err != nil {
			_ = raw.Close()
			return nil, err
		}
		conn.sessionID = data.SessionID
		p.timeDelta.Update(data.TimeDeltaMillis)
	} else {
		conn.sessionID = idgen.New()
	}
	conn.rebuildDescriptor()

	return conn, nil
}

func (p *Pool) configureSession(ctx context.Context, raw driver.RawConn) error {
	ignoreUnsupported := func(err error) error {
		if errors.Is(err, driver.ErrUnsupported) {
			return nil
		}
		return err
	}

	if p.cfg.Catalog != "" {
		if err := ignoreUnsupported(raw.SetCatalog(p.cfg.Catalog)); err != nil {
			return err
		}
	}
	if p.cfg.Schema != "" {
		if err := ignoreUnsupported(raw.SetSchema(p.cfg.Schema)); err != nil {
			return err
		}
	}
	if err := ignoreUnsupported(raw.SetReadOnly(p.cfg.ReadOnly)); err != nil {
		return err
	}
	if p.cfg.Isolation != driver.IsolationUnset {
		if err := ignoreUnsupported(raw.SetIsolation(p.cfg.Isolation)); err != nil {
			return err
		}
	}
	if err := ignoreUnsupported(raw.SetAutoCommit(p.cfg.AutoCommit)); err != nil {
		return err
	}
	if p.cfg.ApplicationName != "" {
		_ = raw.SetClientInfo("ApplicationName", p.cfg.ApplicationName)
	}
	return nil
}

// runPruner periodically shrinks the pool back toward max(MinSize,
// activeHighWaterMark) during quiescent windows.
func (p *Pool) runPruner() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.PruneInterval)
	defer ticker.Stop()

	lastPruneAt := time.Now()

	for {
		select {
		case <-p.ctx.Done():
			return
		case now := <-ticker.C:
			if now.Sub(lastPruneAt) <= p.cfg.InactivityTimeout {
				continue
			}
			lastPruneAt = now
			p.pruneOnce()
			atomic.StoreInt64(&p.activeHWM, 0)
		}
	}
}

func (p *Pool) pruneOnce() {
	floor := int64(p.cfg.MinSize)
	if hwm := atomic.LoadInt64(&p.activeHWM); hwm > floor {
		floor = hwm
	}

	for atomic.LoadInt64(&p.totalCount) > floor {
		select {
		case conn := <-p.available:
			atomic.AddInt64(&p.supplyCounter, -1)
			atomic.AddInt64(&p.totalCount, -1)
			p.enqueueRetire(conn)
		default:
			return
		}
	}
}

// runRetirer closes retired connections' underlying driver handles on a
// dedicated goroutine so neither borrow nor release ever blocks on I/O.
func (p *Pool) runRetirer() {
	defer p.wg.Done()

	for {
		select {
		case conn := <-p.retire:
			conn.destroy()
		case <-p.ctx.Done():
			p.drainRetireQueue()
			return
		}
	}
}

func (p *Pool) drainRetireQueue() {
	for {
		select {
		case conn := <-p.retire:
			conn.destroy()
		default:
			return
		}
	}
}

// Close stops the background goroutines and closes every connection the
// pool currently knows about (available and retiring). It does not wait
// for callers that still hold a borrowed Connection; those connections are
// closed once returned, since the driver handle they wrap is still valid
// until then.
func (p *Pool) Close() error {
	if !atomic.CompareAndSwapInt32(&p.closed, 0, 1) {
		return nil
	}

	p.cancel()

	var drained []*ConnectionWrapper
	draining := true
	for draining {
		select {
		case conn := <-p.available:
			drained = append(drained, conn)
		default:
			draining = false
		}
	}

	p.wg.Wait()

	for _, conn := range drained {
		conn.destroy()
	}

	return nil
}
