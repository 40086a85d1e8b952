package apiserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	oapimiddleware "github.com/oapi-codegen/nethttp-middleware"
	api "github.com/qiita/qiita-ware/api/v1alpha1"
	"github.com/qiita/qiita-ware/internal/auth"
	"github.com/qiita/qiita-ware/internal/config"
	"github.com/qiita/qiita-ware/internal/events"
	handlers "github.com/qiita/qiita-ware/internal/handlers/v1alpha1"
	"github.com/qiita/qiita-ware/internal/service"
	"github.com/qiita/qiita-ware/internal/util"
	"github.com/qiita/qiita-ware/pkg/log"
	"github.com/qiita/qiita-ware/pkg/metrics"
	"go.uber.org/zap"
)

const (
	gracefulShutdownTimeout = 5 * time.Second
)

var (
	metricMiddleware = metrics.NewMiddleware("api_server")
	registerMetrics  sync.Once
)

type Server struct {
	cfg         *config.Config
	switchboard *service.Switchboard
	bus         *events.Bus
	listener    net.Listener
}

// New returns a new instance of a qiita-ware server.
func New(
	cfg *config.Config,
	switchboard *service.Switchboard,
	bus *events.Bus,
	listener net.Listener,
) *Server {
	return &Server{
		cfg:         cfg,
		switchboard: switchboard,
		bus:         bus,
		listener:    listener,
	}
}

// oapiErrorHandler answers requests the OpenAPI document rejects with the
// same error body as the handlers.
func oapiErrorHandler(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(api.Error{Message: fmt.Sprintf("API Error: %s", message)})
}

// Handler builds the router: health check, then the authenticated API
// validated against its OpenAPI document.
func (s *Server) Handler() (http.Handler, error) {
	swagger, err := api.GetSwagger()
	if err != nil {
		return nil, fmt.Errorf("failed to load swagger spec: %w", err)
	}
	// Skip server name validation
	swagger.Servers = nil

	oapiOpts := oapimiddleware.Options{
		Options: openapi3filter.Options{
			AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
		},
		ErrorHandler: oapiErrorHandler,
	}

	authenticator, err := auth.NewAuthenticator(s.cfg.Service.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create authenticator: %w", err)
	}

	registerMetrics.Do(metricMiddleware.MustRegisterDefault)

	router := chi.NewRouter()
	router.Use(
		metricMiddleware.Handler,
		cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.Service.CorsOrigins,
			AllowedMethods:   []string{"GET", "PATCH", "POST", "DELETE", "HEAD", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
			MaxAge:           300,
		}),
		util.GatewayApiRewrite,
		chiMiddleware.RequestID,
		log.ConditionalLogger(s.cfg.Service.LogLevel, zap.L(), "router"),
		chiMiddleware.Recoverer,
	)

	router.Get("/health", handlers.Health)

	h := handlers.NewServiceHandler(s.switchboard, s.bus, s.cfg.Service.CorsOrigins)
	router.Group(func(r chi.Router) {
		r.Use(
			authenticator.Authenticator,
			oapimiddleware.OapiRequestValidatorWithOptions(swagger, &oapiOpts),
		)
		h.Routes(r)
	})

	return router, nil
}

func (s *Server) Run(ctx context.Context) error {
	zap.S().Named("api_server").Info("Initializing API server")

	handler, err := s.Handler()
	if err != nil {
		return err
	}
	srv := http.Server{Addr: s.cfg.Service.Address, Handler: handler}

	go func() {
		<-ctx.Done()
		zap.S().Named("api_server").Infof("Shutdown signal received: %s", ctx.Err())
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		_ = srv.Shutdown(ctxTimeout)
		zap.S().Named("api_server").Info("api server terminated")
	}()

	zap.S().Named("api_server").Infof("Listening on %s...", s.listener.Addr().String())
	if err := srv.Serve(s.listener); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
