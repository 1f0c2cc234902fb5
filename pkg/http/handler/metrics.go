package handler

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/yurykabanov/pgbackuper/pkg/appcontext"
	"github.com/yurykabanov/pgbackuper/pkg/domain"
)

type LastSuccessfulService interface {
	Jobs() []domain.Job
	LastSuccessful(context.Context) ([]domain.Record, error)
}

// BackupMetricHandler reports the latest completed backup of every job.
type BackupMetricHandler struct {
	logger  logrus.FieldLogger
	service LastSuccessfulService
}

func NewBackupMetricHandler(logger logrus.FieldLogger, service LastSuccessfulService) *BackupMetricHandler {
	return &BackupMetricHandler{
		logger:  logger,
		service: service,
	}
}

type backupMetricResponse struct {
	JobId            int64  `json:"job_id"`
	JobName          string `json:"job_name"`
	Kind             string `json:"kind"`
	Destination      string `json:"destination"`
	BackupSize       int64  `json:"backup_size"`
	LastSuccessfulAt int64  `json:"last_successful_at_mtime"`
	LastCompletion   int64  `json:"last_completion_mtime"`
}

func (h *BackupMetricHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	logger := appcontext.LoggerFromContext(h.logger, ctx)

	records, err := h.service.LastSuccessful(ctx)
	if err != nil {
		logger.WithError(err).Error("Unable to query last successful backups")
		writeJSON(logger, w, StatusCode(err), errorResponse{Error: err.Error()})
		return
	}

	names := make(map[int64]string)
	for _, j := range h.service.Jobs() {
		names[j.ID] = j.Name
	}

	result := make([]backupMetricResponse, 0, len(records))

	for _, rec := range records {
		if rec.JobID == nil || rec.FinishedAt == nil {
			continue
		}

		m := backupMetricResponse{
			JobId:            *rec.JobID,
			JobName:          names[*rec.JobID],
			Kind:             rec.Kind,
			Destination:      string(rec.DestinationType),
			BackupSize:       rec.SizeBytes,
			LastSuccessfulAt: rec.FinishedAt.UnixNano() / 1e6,
		}

		if rec.StartedAt != nil {
			m.LastCompletion = rec.FinishedAt.Sub(*rec.StartedAt).Nanoseconds() / 1e6
		}

		result = append(result, m)
	}

	writeJSON(logger, w, http.StatusOK, result)
}
