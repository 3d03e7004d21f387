package dbpool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestConnection(t *testing.T, cfg Config) (*ConnectionWrapper, *fakeRawConn) {
	t.Helper()
	pool := newBarePool(cfg)
	raw := newFakeRawConn()
	conn := newConnectionWrapper(pool, raw, pool.cfg.StatementCacheSize)
	return conn, raw
}

func TestStatementWrapper_ExecuteQuery_Success(t *testing.T) {
	conn, _ := newTestConnection(t, Config{})
	stmt, err := conn.PrepareStatement(context.Background(), "SELECT 1")
	require.NoError(t, err)

	rs, err := stmt.ExecuteQuery(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rs)
}

func TestStatementWrapper_ExecuteQuery_CapturesFailure(t *testing.T) {
	conn, raw := newTestConnection(t, Config{})
	stmt, err := conn.PrepareStatement(context.Background(), "SELECT 1")
	require.NoError(t, err)

	raw.nextErr = fakeCommError{}
	_, err = stmt.ExecuteQuery(context.Background())
	require.Error(t, err)

	require.Equal(t, Communication, Classify(conn.lastErr))
}

func TestStatementWrapper_NonQuerySetsCommitPending(t *testing.T) {
	conn, _ := newTestConnection(t, Config{AutoCommit: false})
	stmt, err := conn.PrepareStatement(context.Background(), "UPDATE users SET name = 'a' WHERE id = 1")
	require.NoError(t, err)

	_, _, err = stmt.Execute(context.Background())
	require.NoError(t, err)

	require.True(t, conn.commitPending, "expected commitPending after a non-query execution under manual commit")
}

func TestStatementWrapper_QueryDoesNotSetCommitPending(t *testing.T) {
	conn, _ := newTestConnection(t, Config{AutoCommit: false})
	stmt, err := conn.PrepareStatement(context.Background(), "SELECT id FROM users")
	require.NoError(t, err)

	_, err = stmt.ExecuteQuery(context.Background())
	require.NoError(t, err)

	require.False(t, conn.commitPending, "a plain SELECT must not set commitPending")
}

func TestStatementWrapper_AutoCommitNeverSetsCommitPending(t *testing.T) {
	conn, _ := newTestConnection(t, Config{AutoCommit: true})
	stmt, err := conn.PrepareStatement(context.Background(), "DELETE FROM users WHERE id = 1")
	require.NoError(t, err)

	_, _, err = stmt.Execute(context.Background())
	require.NoError(t, err)

	require.False(t, conn.commitPending, "AutoCommit connections never accumulate commitPending")
}

func TestStatementWrapper_CloseReturnsToCache(t *testing.T) {
	conn, _ := newTestConnection(t, Config{StatementCacheSize: 2})
	stmt, err := conn.PrepareStatement(context.Background(), "SELECT 1")
	require.NoError(t, err)

	require.NoError(t, stmt.Close())

	raw := stmt.raw.(*fakeRawStatement)
	require.False(t, raw.closed, "a poolable statement returned to a capacity>0 cache must not be driver-closed")

	cached := conn.cache.get("SELECT 1")
	require.Same(t, stmt, cached)
}

func TestStatementWrapper_CloseWithNoCacheClosesDriver(t *testing.T) {
	conn, _ := newTestConnection(t, Config{})
	stmt, err := conn.CreateStatement(context.Background())
	require.NoError(t, err)

	require.NoError(t, stmt.Close())

	raw := stmt.raw.(*fakeRawStatement)
	require.True(t, raw.closed, "an ad-hoc statement must be driver-closed on Close")
}

func TestStatementWrapper_Destroy(t *testing.T) {
	conn, _ := newTestConnection(t, Config{StatementCacheSize: 2})
	stmt, err := conn.PrepareStatement(context.Background(), "SELECT 1")
	require.NoError(t, err)

	stmt.destroy()

	raw := stmt.raw.(*fakeRawStatement)
	require.True(t, raw.closed, "destroy must always driver-close, regardless of cache eligibility")

	stmt.destroy()
	require.Equal(t, 1, raw.closeHits, "destroy must be idempotent")
}

func TestStatementWrapper_UnparseableTextDegradesToNonQuery(t *testing.T) {
	conn, _ := newTestConnection(t, Config{AutoCommit: false})
	stmt, err := conn.PrepareStatement(context.Background(), "SELECT this is not (( valid")
	require.NoError(t, err)

	_, _, err = stmt.Execute(context.Background())
	require.NoError(t, err)

	require.True(t, conn.commitPending, "an unparseable statement must conservatively set commitPending")
}
