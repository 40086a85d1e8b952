package auth

import (
	"fmt"
	"net/http"

	"github.com/qiita/qiita-ware/internal/config"
	"go.uber.org/zap"
)

type Authenticator interface {
	Authenticator(next http.Handler) http.Handler
}

const (
	HeaderAuthentication string = "header"
	NoneAuthentication   string = "none"
)

func NewAuthenticator(authConfig config.Auth) (Authenticator, error) {
	zap.S().Named("auth").Infof("authentication: '%s'", authConfig.AuthenticationType)

	switch authConfig.AuthenticationType {
	case HeaderAuthentication:
		return NewHeaderAuthenticator(authConfig.UserHeader)
	case NoneAuthentication:
		return NewNoneAuthenticator(authConfig.DevUser)
	default:
		return nil, fmt.Errorf("unknown authentication type %q", authConfig.AuthenticationType)
	}
}
