package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/phrazzld/cadence-api/internal/api/shared"
)

// OperatorTokenHeader carries the operator token.
const OperatorTokenHeader = "X-Operator-Token"

// RequireOperatorToken rejects requests without the configured operator
// token. An empty token disables the guarded routes entirely.
func RequireOperatorToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				shared.RespondWithError(w, r, http.StatusNotFound, "Not found")
				return
			}
			got := r.Header.Get(OperatorTokenHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid operator token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
