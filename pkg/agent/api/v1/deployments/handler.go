package api_v1_deployments

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	log "github.com/sirupsen/logrus"

	"github.com/DASPRiD/webhook-deploy-agent/pkg/agent/database"
	"github.com/DASPRiD/webhook-deploy-agent/pkg/agent/middleware"
	"github.com/DASPRiD/webhook-deploy-agent/pkg/agent/target"
)

const (
	defaultLimit = 25
	maxLimit     = 200
)

type Handler struct {
	Targets         *target.Table
	DeploymentStore database.DeploymentStore
}

type Response struct {
	Deployments []*database.Deployment `json:"deployments"`
}

func (r *Response) render(w io.Writer) {
	json.NewEncoder(w).Encode(r)
}

type errorResponse struct {
	Message string `json:"message"`
}

func (r *errorResponse) render(w io.Writer) {
	json.NewEncoder(w).Encode(r)
}

// Deployments lists recent deployment attempts, newest first. The
// wildcard URL parameter selects a single repository; without it the
// history covers every target.
func (h *Handler) Deployments(w http.ResponseWriter, r *http.Request) {
	logger := log.WithFields(middleware.RequestLogFields(r))

	repository := chi.URLParam(r, "*")
	if len(repository) > 0 {
		// History rows carry the canonical repository id from the target
		// table, so the lookup doubles as case normalization.
		tgt, err := h.Targets.Lookup(repository)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			(&errorResponse{Message: fmt.Sprintf("unknown repository %q", repository)}).render(w)
			return
		}
		repository = tgt.Repository
	}

	limit := defaultLimit
	if param := r.URL.Query().Get("limit"); len(param) > 0 {
		parsed, err := strconv.Atoi(param)
		if err != nil || parsed < 1 {
			w.WriteHeader(http.StatusBadRequest)
			(&errorResponse{Message: "limit must be a positive integer"}).render(w)
			return
		}
		limit = parsed
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	deployments, err := h.DeploymentStore.Deployments(r.Context(), repository, limit)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		(&errorResponse{Message: "unable to read deployment history"}).render(w)
		logger.Errorf("Unable to read deployment history: %s", err)
		return
	}

	response := Response{Deployments: deployments}
	response.render(w)
}
