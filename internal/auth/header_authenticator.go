package auth

import (
	"errors"
	"net/http"
	"regexp"

	"go.uber.org/zap"
)

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9@._+-]{0,254}$`)

// HeaderAuthenticator trusts the user name set by the front-end proxy in a
// request header.
type HeaderAuthenticator struct {
	header string
}

func NewHeaderAuthenticator(header string) (*HeaderAuthenticator, error) {
	if header == "" {
		return nil, errors.New("user header is required for header authentication")
	}
	return &HeaderAuthenticator{header: header}, nil
}

func (h *HeaderAuthenticator) Authenticator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username := r.Header.Get(h.header)
		if username == "" {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		if !usernameRegex.MatchString(username) {
			zap.S().Named("auth").Warnw("rejected malformed user name", "header", h.header)
			http.Error(w, "authentication failed", http.StatusUnauthorized)
			return
		}

		ctx := NewUserContext(r.Context(), User{Username: username})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
