package identity

import (
	"context"
	"net/http"
	"sync"
)

type scopeKey struct{}

// Scope memoizes the identity resolution of one request.
type Scope struct {
	mu       sync.Mutex
	resolved bool
	minted   bool
	ref      Ref
}

func WithScope(ctx context.Context) context.Context {
	return context.WithValue(ctx, scopeKey{}, &Scope{})
}

func scopeFrom(ctx context.Context) *Scope {
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	return s
}

// Middleware gives every request its own Scope.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithScope(r.Context())))
	})
}
