package dbpool

import (
	"context"
	"time"

	"github.com/relaypool/dbpool/driver"
)

// SessionData is returned by a SessionController after it has prepared a
// freshly opened connection's session.
type SessionData struct {
	// SessionID identifies the server-side session, for telemetry only.
	SessionID string
	// TimeDeltaMillis is a single clock-skew sample fed into the pool's
	// shared TimeDelta.
	TimeDeltaMillis int64
}

// SessionController is an optional hook invoked once per successful
// connection open, after the pool has applied its own configuration
// (catalog/schema/isolation/autocommit/client-info). Typical uses: setting
// a session-level sequence generator, running a preamble statement, or
// deriving the server's clock skew.
type SessionController interface {
	PrepareSession(ctx context.Context, poolID string, raw driver.RawConn) (SessionData, error)
}

// StatementEnhancer is an optional hook a caller may plug in to supply a
// driver-specific statement implementation (e.g. one that injects
// sequence numbers) or a session-aware clock, in preference to the local
// clock adjusted by TimeDelta.
type StatementEnhancer interface {
	GetStatement(ctx context.Context, raw driver.RawConn, text string, keyColumns []string) (driver.RawStatement, error)
	SystemTimestamp(ctx context.Context) (time.Time, error)
}
