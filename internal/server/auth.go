package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// authenticate guards every route with the shared API token, accepted
// either as a bearer token or as a token query parameter for clients
// which cannot set headers.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !tokenEqual(requestToken(r), s.token) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="scantaskd"`)
			writeError(w, http.StatusUnauthorized, errUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

var errUnauthorized = errors.New("missing or invalid API token")

func requestToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return token
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func tokenEqual(got, want string) bool {
	if got == "" || want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
