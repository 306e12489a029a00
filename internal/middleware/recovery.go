package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gorilla/mux"

	"github.com/hermes-engine/hermes/internal/herrors"
	"github.com/hermes-engine/hermes/pkg/logger"
)

// Recovery recovers from handler panics, logs the stack, and writes a
// structured 500 instead of letting net/http close the connection bare.
func Recovery(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.With(nil).
						WithField("panic", fmt.Sprintf("%v", rec)).
						WithField("stack", string(debug.Stack())).
						WithField("path", r.URL.Path).
						Error("panic recovered in handler")

					WriteError(w, r, herrors.HostCallFailed(fmt.Errorf("%v", rec)))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
