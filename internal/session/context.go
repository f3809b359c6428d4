package session

import "context"

type ctxKey struct{}

type bound struct {
	id string
	m  *Manager
}

// WithManager attaches the client context of a request.
func WithManager(ctx context.Context, id string, m *Manager) context.Context {
	return context.WithValue(ctx, ctxKey{}, bound{id: id, m: m})
}

// FromContext returns the client context attached by WithManager.
func FromContext(ctx context.Context) (string, *Manager, bool) {
	b, ok := ctx.Value(ctxKey{}).(bound)
	if !ok || b.m == nil {
		return "", nil, false
	}
	return b.id, b.m, true
}
