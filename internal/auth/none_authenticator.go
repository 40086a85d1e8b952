package auth

import (
	"net/http"
)

const defaultDevUser = "admin"

// NoneAuthenticator ignores the user header and runs every request as one
// fixed user, for local runs without the Qiita front-end.
type NoneAuthenticator struct {
	username string
}

func NewNoneAuthenticator(username string) (*NoneAuthenticator, error) {
	if username == "" {
		username = defaultDevUser
	}
	return &NoneAuthenticator{username: username}, nil
}

func (n *NoneAuthenticator) Authenticator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := NewUserContext(r.Context(), User{Username: n.username})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
