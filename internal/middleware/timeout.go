package middleware

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/hermes-engine/hermes/internal/herrors"
)

const defaultRequestTimeout = 30 * time.Second

// guardedWriter tracks whether a response has started, so the deadline
// callback below can tell whether it still has the right to write the 504
// itself. claim is the one point of mutual exclusion between the handler
// goroutine and that callback.
type guardedWriter struct {
	http.ResponseWriter
	wrote atomic.Bool
}

func (gw *guardedWriter) claim() bool {
	return gw.wrote.CompareAndSwap(false, true)
}

func (gw *guardedWriter) WriteHeader(code int) {
	if gw.claim() {
		gw.ResponseWriter.WriteHeader(code)
	}
}

func (gw *guardedWriter) Write(b []byte) (int, error) {
	gw.wrote.Store(true)
	return gw.ResponseWriter.Write(b)
}

// Timeout bounds handler execution, writing a 504 if the deadline expires
// before the handler claims the response first. The handler still runs to
// completion in its own goroutine after that — nothing here can preempt it
// mid-flight — but the request's serving goroutine is released as soon as
// either side finishes, instead of blocking on the slow one.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			gw := &guardedWriter{ResponseWriter: w}
			fired := make(chan struct{})
			stop := context.AfterFunc(ctx, func() {
				defer close(fired)
				if gw.claim() {
					WriteError(w, r, herrors.UpstreamTimeout())
				}
			})

			done := make(chan struct{})
			go func() {
				defer close(done)
				next.ServeHTTP(gw, r.WithContext(ctx))
			}()

			select {
			case <-done:
			case <-ctx.Done():
			}
			if !stop() {
				<-fired
			}
		})
	}
}
