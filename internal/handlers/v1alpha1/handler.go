package v1alpha1

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/gorilla/websocket"
	api "github.com/qiita/qiita-ware/api/v1alpha1"
	"github.com/qiita/qiita-ware/internal/events"
	"github.com/qiita/qiita-ware/internal/service"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"
)

type ServiceHandler struct {
	switchboard *service.Switchboard
	bus         *events.Bus
	upgrader    websocket.Upgrader
}

// NewServiceHandler builds the handler. Websocket upgrades are accepted from
// allowedOrigins and from clients sending no Origin header.
func NewServiceHandler(switchboard *service.Switchboard, bus *events.Bus, allowedOrigins []string) *ServiceHandler {
	return &ServiceHandler{
		switchboard: switchboard,
		bus:         bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || funk.ContainsString(allowedOrigins, origin)
			},
		},
	}
}

// Routes mounts the authenticated API.
func (h *ServiceHandler) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/analyses", h.CreateAnalysis)
		r.Get("/analyses", h.ListAnalyses)
		r.Get("/analyses/{id}", h.GetAnalysis)
		r.Patch("/analyses/{id}", h.UpdateAnalysis)
		r.Delete("/analyses/{id}", h.DeleteAnalysis)
		r.Post("/analyses/{id}/stop", h.StopAnalysis)
		r.Post("/analyses/{id}/lock", h.LockAnalysis)
		r.Get("/messages", h.Messages)
	})
}

// (GET /health)
func Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, api.Status{Message: "ok"})
}

func renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	reply := api.Error{Message: message}
	if id := chiMiddleware.GetReqID(r.Context()); id != "" {
		reply.RequestId = &id
	}
	render.Status(r, status)
	render.JSON(w, r, reply)
}

// renderServiceError maps service errors to their status code.
func renderServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation  *service.ErrValidation
		forbidden   *service.ErrForbidden
		notFound    *service.ErrNotFound
		conflict    *service.ErrConflict
		transient   *service.ErrTransientStore
		unavailable *service.ErrWorkerUnavailable
	)

	switch {
	case errors.As(err, &validation):
		renderError(w, r, http.StatusBadRequest, err.Error())
	case errors.As(err, &forbidden):
		renderError(w, r, http.StatusForbidden, err.Error())
	case errors.As(err, &notFound):
		renderError(w, r, http.StatusNotFound, err.Error())
	case errors.As(err, &conflict):
		renderError(w, r, http.StatusConflict, err.Error())
	case errors.As(err, &transient), errors.As(err, &unavailable):
		zap.S().Named("handler").Warnw("service unavailable", "path", r.URL.Path, "error", err)
		renderError(w, r, http.StatusServiceUnavailable, err.Error())
	default:
		zap.S().Named("handler").Errorw("unexpected error", "path", r.URL.Path, "error", err)
		renderError(w, r, http.StatusInternalServerError, "internal error")
	}
}
