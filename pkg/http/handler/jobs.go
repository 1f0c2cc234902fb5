package handler

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/yurykabanov/pgbackuper/pkg/appcontext"
	"github.com/yurykabanov/pgbackuper/pkg/domain"
	"github.com/yurykabanov/pgbackuper/pkg/schedule"
)

type JobService interface {
	Jobs() []domain.Job
	Job(id int64) (domain.Job, error)
	CreateJob(ctx context.Context, def domain.JobDefinition) (domain.Job, error)
	UpdateJob(ctx context.Context, id int64, def domain.JobDefinition) (domain.Job, error)
	DeleteJob(ctx context.Context, id int64) error
	ToggleJob(ctx context.Context, id int64, enabled bool) (domain.Job, error)
	RunJobNow(ctx context.Context, id int64) (domain.Record, error)
	Presets() []schedule.Preset
}

type JobHandler struct {
	logger  logrus.FieldLogger
	service JobService
}

func NewJobHandler(logger logrus.FieldLogger, service JobService) *JobHandler {
	return &JobHandler{
		logger:  logger,
		service: service,
	}
}

func (h *JobHandler) Register(router *mux.Router) {
	router.HandleFunc("/jobs", h.List).Methods(http.MethodGet)
	router.HandleFunc("/jobs", h.Create).Methods(http.MethodPost)
	router.HandleFunc("/jobs/{id:[0-9]+}", h.Get).Methods(http.MethodGet)
	router.HandleFunc("/jobs/{id:[0-9]+}", h.Update).Methods(http.MethodPut)
	router.HandleFunc("/jobs/{id:[0-9]+}", h.Delete).Methods(http.MethodDelete)
	router.HandleFunc("/jobs/{id:[0-9]+}/toggle", h.Toggle).Methods(http.MethodPost)
	router.HandleFunc("/jobs/{id:[0-9]+}/run", h.Run).Methods(http.MethodPost)
	router.HandleFunc("/schedule-presets", h.Presets).Methods(http.MethodGet)
}

func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	jobs := h.service.Jobs()
	if jobs == nil {
		jobs = []domain.Job{}
	}

	writeJSON(h.logger, w, http.StatusOK, jobs)
}

func (h *JobHandler) Create(w http.ResponseWriter, r *http.Request) {
	logger := appcontext.LoggerFromContext(h.logger, r.Context())

	var def domain.JobDefinition
	if err := decodeJSON(r, &def); err != nil {
		writeError(logger, w, err)
		return
	}

	job, err := h.service.CreateJob(r.Context(), def)
	if err != nil {
		writeError(logger, w, err)
		return
	}

	logger.WithField("job_id", job.ID).Info("Job created")

	writeJSON(logger, w, http.StatusCreated, job)
}

func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	logger := appcontext.LoggerFromContext(h.logger, r.Context())

	id, err := pathId(r)
	if err != nil {
		writeError(logger, w, err)
		return
	}

	job, err := h.service.Job(id)
	if err != nil {
		writeError(logger, w, err)
		return
	}

	writeJSON(logger, w, http.StatusOK, job)
}

func (h *JobHandler) Update(w http.ResponseWriter, r *http.Request) {
	logger := appcontext.LoggerFromContext(h.logger, r.Context())

	id, err := pathId(r)
	if err != nil {
		writeError(logger, w, err)
		return
	}

	var def domain.JobDefinition
	if err := decodeJSON(r, &def); err != nil {
		writeError(logger, w, err)
		return
	}

	job, err := h.service.UpdateJob(r.Context(), id, def)
	if err != nil {
		writeError(logger, w, err)
		return
	}

	writeJSON(logger, w, http.StatusOK, job)
}

func (h *JobHandler) Delete(w http.ResponseWriter, r *http.Request) {
	logger := appcontext.LoggerFromContext(h.logger, r.Context())

	id, err := pathId(r)
	if err != nil {
		writeError(logger, w, err)
		return
	}

	if err := h.service.DeleteJob(r.Context(), id); err != nil {
		writeError(logger, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

// Toggle sets the enabled flag, or flips it when the body omits it.
func (h *JobHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	logger := appcontext.LoggerFromContext(h.logger, r.Context())

	id, err := pathId(r)
	if err != nil {
		writeError(logger, w, err)
		return
	}

	var req toggleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(logger, w, err)
		return
	}

	if req.Enabled == nil {
		job, err := h.service.Job(id)
		if err != nil {
			writeError(logger, w, err)
			return
		}

		flipped := !job.Enabled
		req.Enabled = &flipped
	}

	job, err := h.service.ToggleJob(r.Context(), id, *req.Enabled)
	if err != nil {
		writeError(logger, w, err)
		return
	}

	writeJSON(logger, w, http.StatusOK, job)
}

func (h *JobHandler) Run(w http.ResponseWriter, r *http.Request) {
	logger := appcontext.LoggerFromContext(h.logger, r.Context())

	id, err := pathId(r)
	if err != nil {
		writeError(logger, w, err)
		return
	}

	record, err := h.service.RunJobNow(r.Context(), id)
	if err != nil {
		writeError(logger, w, err)
		return
	}

	writeJSON(logger, w, http.StatusAccepted, record)
}

func (h *JobHandler) Presets(w http.ResponseWriter, r *http.Request) {
	writeJSON(h.logger, w, http.StatusOK, h.service.Presets())
}
