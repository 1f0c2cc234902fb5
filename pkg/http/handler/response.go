// Package handler holds the REST surface of the backup engine.
package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/yurykabanov/pgbackuper/pkg/domain"
)

const requestTimeout = 10 * time.Second

type errorResponse struct {
	Error string `json:"error"`
}

// StatusCode maps engine errors onto HTTP statuses.
func StatusCode(err error) int {
	var (
		validationErr *domain.ValidationError
		connErr       *domain.ConnectionError
	)

	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, domain.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrStaleConfig),
		errors.Is(err, domain.ErrRecordActive),
		errors.Is(err, domain.ErrOverlapSkipped),
		errors.Is(err, domain.ErrNotRunning),
		errors.Is(err, domain.ErrNotDownloadable):
		return http.StatusConflict
	case errors.As(err, &connErr):
		return http.StatusBadGateway
	}

	return http.StatusInternalServerError
}

func writeJSON(logger logrus.FieldLogger, w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Error("Unable to encode response")
	}
}

func writeError(logger logrus.FieldLogger, w http.ResponseWriter, err error) {
	status := StatusCode(err)

	if status >= http.StatusInternalServerError {
		logger.WithError(err).Error("Request failed")
	} else {
		logger.WithError(err).Debug("Request rejected")
	}

	writeJSON(logger, w, status, errorResponse{Error: err.Error()})
}

// decodeJSON treats an empty body as an empty object.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	err := dec.Decode(v)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return &domain.ValidationError{Reason: "malformed request body: " + err.Error()}
	}

	return nil
}

func pathId(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, &domain.ValidationError{Field: "id", Reason: "must be a positive integer"}
	}
	return id, nil
}
