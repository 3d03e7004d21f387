package dbpool

import (
	"context"
	"reflect"

	"github.com/relaypool/dbpool/driver"
)

// ResultSetWrapper proxies a live driver.RawRows cursor returned by a
// query. It exists mainly so that failures encountered while scanning are
// captured on the owning Connection the same way statement and connection
// level failures are.
type ResultSetWrapper struct {
	raw  driver.RawRows
	conn *ConnectionWrapper
}

func newResultSetWrapper(raw driver.RawRows, conn *ConnectionWrapper) *ResultSetWrapper {
	return &ResultSetWrapper{raw: raw, conn: conn}
}

func (r *ResultSetWrapper) Next(ctx context.Context) bool {
	return r.raw.Next(ctx)
}

func (r *ResultSetWrapper) Scan(dest ...any) error {
	if err := r.raw.Scan(dest...); err != nil {
		return r.conn.captureException(err)
	}
	return nil
}

func (r *ResultSetWrapper) Err() error {
	if err := r.raw.Err(); err != nil {
		return r.conn.captureException(err)
	}
	return nil
}

func (r *ResultSetWrapper) Close() error {
	if err := r.raw.Close(); err != nil {
		return r.conn.captureException(err)
	}
	return nil
}

// RowSetProxy delegates to a materialised, scrollable-insensitive snapshot
// of a result set. It is what MetadataProxy hands back on a cache hit:
// Close (and any method beginning with "Close") is a no-op, since the
// snapshot is owned by the metadata cache and outlives any one caller.
type RowSetProxy struct {
	snapshot *materializedRows
}

// Next advances the snapshot cursor.
func (r *RowSetProxy) Next(ctx context.Context) bool {
	return r.snapshot.next()
}

// Scan reads the current snapshot row.
func (r *RowSetProxy) Scan(dest ...any) error {
	return r.snapshot.scan(dest...)
}

// Err reports the snapshot's terminal error, if any.
func (r *RowSetProxy) Err() error {
	return r.snapshot.err
}

// BeforeFirst rewinds the snapshot cursor, used on a cache hit so a second
// caller sees the same rows a first caller saw.
func (r *RowSetProxy) BeforeFirst() {
	r.snapshot.beforeFirst()
}

// Close is a deliberate no-op: the underlying snapshot is cached and
// reused by later callers.
func (r *RowSetProxy) Close() error { return nil }

// materializedRows is a fully-buffered, in-memory snapshot of a
// driver.RawRows cursor, built by MetadataProxy on a cache miss so the
// live cursor can be closed immediately.
type materializedRows struct {
	rows [][]any
	pos  int // -1 = before first row
	err  error
}

func materialize(ctx context.Context, raw driver.RawRows, columns int) (*materializedRows, error) {
	m := &materializedRows{pos: -1}
	for raw.Next(ctx) {
		row := make([]any, columns)
		ptrs := make([]any, columns)
		for i := range row {
			ptrs[i] = &row[i]
		}
		if err := raw.Scan(ptrs...); err != nil {
			return nil, err
		}
		m.rows = append(m.rows, row)
	}
	if err := raw.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *materializedRows) next() bool {
	if m.pos+1 >= len(m.rows) {
		return false
	}
	m.pos++
	return true
}

func (m *materializedRows) beforeFirst() {
	m.pos = -1
}

func (m *materializedRows) scan(dest ...any) error {
	if m.pos < 0 || m.pos >= len(m.rows) {
		return errNoCurrentRow
	}
	row := m.rows[m.pos]
	for i := range dest {
		if i >= len(row) {
			break
		}
		if ptr, ok := dest[i].(*any); ok {
			*ptr = row[i]
			continue
		}
		if err := assign(dest[i], row[i]); err != nil {
			return err
		}
	}
	return nil
}

// assign copies value into the concrete type dest points to, the way a
// materialised metadata snapshot must when a caller scans into a typed
// destination (*string, *int, ...) rather than *any.
func assign(dest, value any) error {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return errScanTargetNotPointer
	}
	elem := dv.Elem()
	if value == nil {
		elem.Set(reflect.Zero(elem.Type()))
		return nil
	}
	rv := reflect.ValueOf(value)
	if rv.Type().AssignableTo(elem.Type()) {
		elem.Set(rv)
		return nil
	}
	if rv.Type().ConvertibleTo(elem.Type()) {
		elem.Set(rv.Convert(elem.Type()))
		return nil
	}
	return errScanTypeMismatch
}
