package metrics

import (
	"crypto/subtle"
	"net/http"
)

// BasicAuth guards the metrics endpoint with HTTP basic authentication.
type BasicAuth struct {
	username string
	password string
	enabled  bool
}

// NewBasicAuth creates the guard. With both credentials empty every
// request passes through.
func NewBasicAuth(username, password string) *BasicAuth {
	return &BasicAuth{
		username: username,
		password: password,
		enabled:  username != "" || password != "",
	}
}

// Enabled reports whether credentials are required.
func (a *BasicAuth) Enabled() bool {
	return a.enabled
}

// Handler wraps next with the credential check.
func (a *BasicAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.enabled {
			next.ServeHTTP(w, r)
			return
		}

		user, pass, ok := r.BasicAuth()
		if !ok || !a.matches(user, pass) {
			w.Header().Set("WWW-Authenticate", `Basic realm="metrics"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// matches compares both fields in constant time, evaluating both so the
// response time does not reveal which one differed.
func (a *BasicAuth) matches(user, pass string) bool {
	userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(a.username))
	passMatch := subtle.ConstantTimeCompare([]byte(pass), []byte(a.password))
	return userMatch&passMatch == 1
}
