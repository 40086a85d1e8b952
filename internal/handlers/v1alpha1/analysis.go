package v1alpha1

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	api "github.com/qiita/qiita-ware/api/v1alpha1"
	"github.com/qiita/qiita-ware/internal/auth"
	"github.com/qiita/qiita-ware/internal/handlers/v1alpha1/mappers"
	"github.com/qiita/qiita-ware/internal/store/model"
)

func analysisID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		renderError(w, r, http.StatusBadRequest, "invalid analysis id")
		return uuid.Nil, false
	}
	return id, true
}

// (POST /api/v1/analyses)
func (h *ServiceHandler) CreateAnalysis(w http.ResponseWriter, r *http.Request) {
	user := auth.MustHaveUser(r.Context())

	var body api.AnalysisCreate
	if err := render.DecodeJSON(r.Body, &body); err != nil {
		renderError(w, r, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	id, err := h.switchboard.SubmitAnalysis(r.Context(), mappers.AnalysisFormApi(user.Username, body))
	if err != nil {
		renderServiceError(w, r, err)
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, api.AnalysisReference{Id: id})
}

// (GET /api/v1/analyses)
func (h *ServiceHandler) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	user := auth.MustHaveUser(r.Context())

	var statuses []model.AnalysisStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status, ok := api.StringToAnalysisStatus(s)
			if !ok {
				renderError(w, r, http.StatusBadRequest, "unknown status "+s)
				return
			}
			statuses = append(statuses, model.AnalysisStatus(status))
		}
	}

	owner := user.Username
	if requested := r.URL.Query().Get("owner"); requested != "" && requested != owner {
		if !h.switchboard.IsAdmin(owner) {
			renderError(w, r, http.StatusForbidden, "only admins may list analyses of other users")
			return
		}
		owner = requested
	}

	analyses, err := h.switchboard.ListAnalyses(r.Context(), owner, statuses...)
	if err != nil {
		renderServiceError(w, r, err)
		return
	}
	render.JSON(w, r, mappers.AnalysisListToApi(analyses))
}

// (GET /api/v1/analyses/{id})
func (h *ServiceHandler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	user := auth.MustHaveUser(r.Context())
	id, ok := analysisID(w, r)
	if !ok {
		return
	}

	analysis, err := h.switchboard.GetAnalysis(r.Context(), user.Username, id)
	if err != nil {
		renderServiceError(w, r, err)
		return
	}
	render.JSON(w, r, mappers.AnalysisToApi(*analysis))
}

// (PATCH /api/v1/analyses/{id})
func (h *ServiceHandler) UpdateAnalysis(w http.ResponseWriter, r *http.Request) {
	user := auth.MustHaveUser(r.Context())
	id, ok := analysisID(w, r)
	if !ok {
		return
	}

	var body api.AnalysisUpdate
	if err := render.DecodeJSON(r.Body, &body); err != nil {
		renderError(w, r, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	analysis, err := h.switchboard.ModifyAnalysis(r.Context(), user.Username, id, mappers.AnalysisChangesApi(body))
	if err != nil {
		renderServiceError(w, r, err)
		return
	}
	render.JSON(w, r, mappers.AnalysisToApi(*analysis))
}

// (DELETE /api/v1/analyses/{id})
func (h *ServiceHandler) DeleteAnalysis(w http.ResponseWriter, r *http.Request) {
	user := auth.MustHaveUser(r.Context())
	id, ok := analysisID(w, r)
	if !ok {
		return
	}

	if err := h.switchboard.DeleteAnalysis(r.Context(), user.Username, id); err != nil {
		renderServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// (POST /api/v1/analyses/{id}/stop)
func (h *ServiceHandler) StopAnalysis(w http.ResponseWriter, r *http.Request) {
	user := auth.MustHaveUser(r.Context())
	id, ok := analysisID(w, r)
	if !ok {
		return
	}

	if err := h.switchboard.StopAnalysis(r.Context(), user.Username, id); err != nil {
		renderServiceError(w, r, err)
		return
	}
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, api.Status{Message: "stopping"})
}

// (POST /api/v1/analyses/{id}/lock)
func (h *ServiceHandler) LockAnalysis(w http.ResponseWriter, r *http.Request) {
	user := auth.MustHaveUser(r.Context())
	id, ok := analysisID(w, r)
	if !ok {
		return
	}

	if err := h.switchboard.LockAnalysis(r.Context(), user.Username, id); err != nil {
		renderServiceError(w, r, err)
		return
	}
	render.JSON(w, r, api.Status{Message: "locked"})
}
