package dbpool

import (
	"context"
	"fmt"
	"strings"

	"github.com/relaypool/dbpool/driver"
)

// metadataCacheCapacity bounds the MetadataProxy's simple cache, mirroring
// the reference implementation's ~1000-entry ceiling.
const metadataCacheCapacity = 1000

// MetadataProxy wraps a driver.RawMetaData handle. When caching is enabled
// it materialises the result of a catalog query once and replays the
// snapshot on subsequent identical calls, since upstream frameworks tend
// to repeat the same introspection queries often.
type MetadataProxy struct {
	raw     driver.RawMetaData
	conn    *ConnectionWrapper
	enabled bool

	cache map[string]*materializedRows
	order []string // insertion order, for capacity eviction
}

func newMetadataProxy(raw driver.RawMetaData, conn *ConnectionWrapper, enabled bool) *MetadataProxy {
	m := &MetadataProxy{raw: raw, conn: conn, enabled: enabled}
	if enabled {
		m.cache = make(map[string]*materializedRows)
	}
	return m
}

// Query runs method(args...) against the wrapped metadata handle. On a
// cache hit it rewinds and returns the cached snapshot; on a miss it
// delegates, materialises the live cursor, and caches the snapshot before
// closing the live cursor.
func (m *MetadataProxy) Query(ctx context.Context, method string, columns int, args ...any) (*RowSetProxy, error) {
	key := cacheKey(method, args)

	if m.enabled {
		if snap, ok := m.cache[key]; ok {
			snap.beforeFirst()
			return &RowSetProxy{snapshot: snap}, nil
		}
	}

	rows, err := m.raw.Query(ctx, method, args...)
	if err != nil {
		return nil, m.conn.captureException(err)
	}

	snap, err := materialize(ctx, rows, columns)
	_ = rows.Close()
	if err != nil {
		return nil, m.conn.captureException(err)
	}

	if m.enabled {
		m.put(key, snap)
	}

	return &RowSetProxy{snapshot: snap}, nil
}

func (m *MetadataProxy) put(key string, snap *materializedRows) {
	if _, exists := m.cache[key]; !exists {
		if len(m.order) >= metadataCacheCapacity {
			oldest := m.order[0]
			m.order = m.order[1:]
			delete(m.cache, oldest)
		}
		m.order = append(m.order, key)
	}
	m.cache[key] = snap
}

// Close is a deliberate no-op: the proxy's cached snapshots outlive this
// particular metadata handle, and the underlying driver handle was already
// released as each query's live cursor was materialised and closed.
func (m *MetadataProxy) Close() error { return nil }

func cacheKey(method string, args []any) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, method)
	for _, a := range args {
		parts = append(parts, fmt.Sprintf("%v", a))
	}
	return strings.Join(parts, "-")
}
