package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerAuth returns middleware that, when token is non-empty, requires
// Authorization: Bearer <token>. Missing or incorrect tokens get 401 with a
// WWW-Authenticate challenge. When token is empty every request passes.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return bearerAuthFunc(func() string { return token })
}

// bearerAuthFunc reads the expected token per request so it can change at runtime.
func bearerAuthFunc(token func() string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			want := token()
			if want == "" {
				next.ServeHTTP(w, r)
				return
			}
			got, ok := bearerToken(r)
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="imagetool"`)
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) < len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(auth[len(prefix):])
	return tok, tok != ""
}
