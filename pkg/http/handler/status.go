package handler

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/yurykabanov/pgbackuper/pkg/appcontext"
	"github.com/yurykabanov/pgbackuper/pkg/domain"
)

type StatsService interface {
	Stats(context.Context) (domain.Stats, error)
}

type StatusHandler struct {
	logger  logrus.FieldLogger
	service StatsService
}

func NewStatusHandler(logger logrus.FieldLogger, service StatsService) *StatusHandler {
	return &StatusHandler{
		logger:  logger,
		service: service,
	}
}

func (h *StatusHandler) Register(router *mux.Router) {
	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	router.HandleFunc("/stats", h.Stats).Methods(http.MethodGet)
}

type healthResponse struct {
	Status string `json:"status"`
}

// Health only reports that the process serves requests.
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(h.logger, w, http.StatusOK, healthResponse{Status: "ok"})
}

func (h *StatusHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	logger := appcontext.LoggerFromContext(h.logger, ctx)

	stats, err := h.service.Stats(ctx)
	if err != nil {
		writeError(logger, w, err)
		return
	}

	writeJSON(logger, w, http.StatusOK, stats)
}
