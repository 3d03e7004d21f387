package dbpool

import "context"

// callerKeyType is an unexported type so external packages can never
// collide with dbpool's context key.
type callerKeyType struct{}

var callerKey callerKeyType

// callerID identifies the logical caller across nested Get calls. It is
// intentionally opaque: two contexts derived from the same WithCaller call
// share identity, mirroring the reference implementation's use of a
// per-thread identity for reentrant borrows.
type callerID struct {
	tag *int
}

// WithCaller returns a context carrying a fresh caller identity. Pass the
// returned context (or any context derived from it, e.g. with
// context.WithTimeout) into every Get call that should be treated as the
// same logical caller for reentrancy purposes. Contexts that never call
// WithCaller each get an implicit, unique identity per Get call and so
// never observe reentrancy.
func WithCaller(ctx context.Context) context.Context {
	return context.WithValue(ctx, callerKey, callerID{tag: new(int)})
}

// callerFrom extracts the caller identity from ctx, or synthesizes a
// unique one-shot identity if the context was never annotated with
// WithCaller.
func callerFrom(ctx context.Context) callerID {
	if id, ok := ctx.Value(callerKey).(callerID); ok {
		return id
	}
	return callerID{tag: new(int)}
}
