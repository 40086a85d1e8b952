package util

import (
	"net/http"
	"strings"
)

const gatewayPrefix = "/api/qiita-ware"

// GatewayApiRewrite strips the gateway prefix so the same routes answer
// behind the front-end proxy and when called directly.
func GatewayApiRewrite(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, gatewayPrefix) {
			r.URL.Path = strings.TrimPrefix(r.URL.Path, gatewayPrefix)
			if r.URL.Path == "" {
				r.URL.Path = "/"
			}
		}

		next.ServeHTTP(w, r)
	})
}
