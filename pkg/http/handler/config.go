package handler

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/yurykabanov/pgbackuper/pkg/appcontext"
	"github.com/yurykabanov/pgbackuper/pkg/domain"
)

// SecretMask replaces secrets in responses. Sending it back keeps the stored value.
const SecretMask = "********"

type ConfigService interface {
	Config() domain.Settings
	UpdateConfig(ctx context.Context, next domain.Settings) (domain.Settings, error)
}

type ConfigHandler struct {
	logger  logrus.FieldLogger
	service ConfigService
}

func NewConfigHandler(logger logrus.FieldLogger, service ConfigService) *ConfigHandler {
	return &ConfigHandler{
		logger:  logger,
		service: service,
	}
}

func (h *ConfigHandler) Register(router *mux.Router) {
	router.HandleFunc("/config", h.Get).Methods(http.MethodGet)
	router.HandleFunc("/config", h.Put).Methods(http.MethodPut)
}

func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(h.logger, w, http.StatusOK, redact(h.service.Config()))
}

func (h *ConfigHandler) Put(w http.ResponseWriter, r *http.Request) {
	logger := appcontext.LoggerFromContext(h.logger, r.Context())

	var next domain.Settings
	if err := decodeJSON(r, &next); err != nil {
		writeError(logger, w, err)
		return
	}

	next = restoreSecrets(next, h.service.Config())

	updated, err := h.service.UpdateConfig(r.Context(), next)
	if err != nil {
		writeError(logger, w, err)
		return
	}

	writeJSON(logger, w, http.StatusOK, redact(updated))
}

func redact(s domain.Settings) domain.Settings {
	if s.Database.Password != "" {
		s.Database.Password = SecretMask
	}
	if s.ObjectStore.SecretKey != "" {
		s.ObjectStore.SecretKey = SecretMask
	}
	return s
}

func restoreSecrets(next, current domain.Settings) domain.Settings {
	if next.Database.Password == SecretMask {
		next.Database.Password = current.Database.Password
	}
	if next.ObjectStore.SecretKey == SecretMask {
		next.ObjectStore.SecretKey = current.ObjectStore.SecretKey
	}
	return next
}
