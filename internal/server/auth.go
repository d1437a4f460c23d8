package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/leann-go/internal/logging"
)

// authRealm is reported in WWW-Authenticate challenges.
const authRealm = `Bearer realm="leann"`

// authMiddleware requires "Authorization: Bearer <apiKey>" on next. An empty
// apiKey disables the check. Failures get 401 with a challenge header and the
// error envelope; the presented token is never logged.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	// Compared as digests so timing does not depend on the key length.
	want := sha256.Sum256([]byte(apiKey))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			reject(w, r, authRealm, "authorization required")
			return
		}
		got := sha256.Sum256([]byte(token))
		if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
			reject(w, r, authRealm+` error="invalid_token"`, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// reject writes a 401 with the given challenge.
func reject(w http.ResponseWriter, r *http.Request, challenge, msg string) {
	logging.FromContext(r.Context()).Warn("auth: request rejected",
		slog.String("path", r.URL.Path),
		slog.String("reason", msg),
	)
	w.Header().Set("WWW-Authenticate", challenge)
	writeJSON(r.Context(), w, http.StatusUnauthorized, envelope{Error: msg})
}

// bearerToken returns the token of a Bearer Authorization header. The scheme
// is matched case-insensitively; ok is false when the header is absent, uses
// another scheme, or carries an empty token.
func bearerToken(r *http.Request) (token string, ok bool) {
	scheme, rest, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(rest)
	return token, token != ""
}
