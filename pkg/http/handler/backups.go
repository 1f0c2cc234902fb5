package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/yurykabanov/pgbackuper/pkg/appcontext"
	"github.com/yurykabanov/pgbackuper/pkg/domain"
)

type BackupService interface {
	TriggerBackup(ctx context.Context, dest domain.DestinationType) (domain.Record, error)
	History(ctx context.Context, filter domain.RecordFilter) ([]domain.Record, error)
	Backup(ctx context.Context, id int64) (domain.Record, error)
	DeleteBackup(ctx context.Context, id int64) error
	StopBackup(ctx context.Context, id int64) error
	OpenArtifact(ctx context.Context, id int64) (domain.Record, io.ReadCloser, error)
}

type BackupHandler struct {
	logger  logrus.FieldLogger
	service BackupService
}

func NewBackupHandler(logger logrus.FieldLogger, service BackupService) *BackupHandler {
	return &BackupHandler{
		logger:  logger,
		service: service,
	}
}

func (h *BackupHandler) Register(router *mux.Router) {
	router.HandleFunc("/backups", h.Trigger).Methods(http.MethodPost)
	router.HandleFunc("/backups", h.List).Methods(http.MethodGet)
	router.HandleFunc("/backups/{id:[0-9]+}", h.Get).Methods(http.MethodGet)
	router.HandleFunc("/backups/{id:[0-9]+}", h.Delete).Methods(http.MethodDelete)
	router.HandleFunc("/backups/{id:[0-9]+}/stop", h.Stop).Methods(http.MethodPost)
	router.HandleFunc("/backups/{id:[0-9]+}/download", h.Download).Methods(http.MethodGet)
}

type triggerRequest struct {
	DestinationType domain.DestinationType `json:"destinationType"`
}

// Trigger starts a manual backup and answers as soon as it is admitted.
func (h *BackupHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	logger := appcontext.LoggerFromContext(h.logger, r.Context())

	var req triggerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(logger, w, err)
		return
	}

	record, err := h.service.TriggerBackup(r.Context(), req.DestinationType)
	if err != nil {
		writeError(logger, w, err)
		return
	}

	logger.WithField("record_id", record.ID).Info("Manual backup accepted")

	writeJSON(logger, w, http.StatusAccepted, record)
}

func (h *BackupHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	logger := appcontext.LoggerFromContext(h.logger, ctx)

	filter, err := parseFilter(r)
	if err != nil {
		writeError(logger, w, err)
		return
	}

	records, err := h.service.History(ctx, filter)
	if err != nil {
		writeError(logger, w, err)
		return
	}

	if records == nil {
		records = []domain.Record{}
	}

	writeJSON(logger, w, http.StatusOK, records)
}

func (h *BackupHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	logger := appcontext.LoggerFromContext(h.logger, ctx)

	id, err := pathId(r)
	if err != nil {
		writeError(logger, w, err)
		return
	}

	record, err := h.service.Backup(ctx, id)
	if err != nil {
		writeError(logger, w, err)
		return
	}

	writeJSON(logger, w, http.StatusOK, record)
}

type deleteResponse struct {
	ID            int64  `json:"id"`
	ArtifactError string `json:"artifactError"`
}

// Delete answers 200 with the artifact error when only the record could be
// removed.
func (h *BackupHandler) Delete(w http.ResponseWriter, r *http.Request) {
	logger := appcontext.LoggerFromContext(h.logger, r.Context())

	id, err := pathId(r)
	if err != nil {
		writeError(logger, w, err)
		return
	}

	err = h.service.DeleteBackup(r.Context(), id)

	var artifactErr *domain.ArtifactDeletionError
	if errors.As(err, &artifactErr) {
		logger.WithError(err).Warn("Backup record removed, artifact left behind")
		writeJSON(logger, w, http.StatusOK, deleteResponse{ID: id, ArtifactError: artifactErr.Error()})
		return
	}

	if err != nil {
		writeError(logger, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *BackupHandler) Stop(w http.ResponseWriter, r *http.Request) {
	logger := appcontext.LoggerFromContext(h.logger, r.Context())

	id, err := pathId(r)
	if err != nil {
		writeError(logger, w, err)
		return
	}

	if err := h.service.StopBackup(r.Context(), id); err != nil {
		writeError(logger, w, err)
		return
	}

	logger.WithField("record_id", id).Info("Backup cancellation requested")

	w.WriteHeader(http.StatusAccepted)
}

func (h *BackupHandler) Download(w http.ResponseWriter, r *http.Request) {
	logger := appcontext.LoggerFromContext(h.logger, r.Context())

	id, err := pathId(r)
	if err != nil {
		writeError(logger, w, err)
		return
	}

	record, rc, err := h.service.OpenArtifact(r.Context(), id)
	if err != nil {
		writeError(logger, w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", artifactContentType(record.Name))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", record.Name))
	if record.SizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(record.SizeBytes, 10))
	}

	if _, err := io.Copy(w, rc); err != nil {
		logger.WithError(err).WithField("record_id", id).Error("Artifact download interrupted")
	}
}

func parseFilter(r *http.Request) (domain.RecordFilter, error) {
	q := r.URL.Query()

	filter := domain.RecordFilter{
		Status:          domain.Status(q.Get("status")),
		DestinationType: domain.DestinationType(q.Get("destinationType")),
	}

	if v := q.Get("jobId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return filter, &domain.ValidationError{Field: "jobId", Reason: "must be an integer"}
		}
		filter.JobID = &id
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return filter, &domain.ValidationError{Field: "limit", Reason: "must be an integer"}
		}
		filter.Limit = limit
	}

	return filter, nil
}

func artifactContentType(name string) string {
	if strings.HasSuffix(name, ".gz") {
		return "application/gzip"
	}
	return "application/sql"
}
