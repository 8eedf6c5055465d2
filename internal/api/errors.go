package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/raphaelgruber/assetcheck/internal/attachments"
	"github.com/raphaelgruber/assetcheck/internal/remote"
	"github.com/raphaelgruber/assetcheck/internal/service"
	"github.com/raphaelgruber/assetcheck/internal/syncer"
	"github.com/raphaelgruber/assetcheck/internal/wizard"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error      string                  `json:"error"`
	Validation *wizard.ValidationError `json:"validation,omitempty"`
}

func statusOf(err error) int {
	if _, ok := wizard.AsValidation(err); ok {
		return http.StatusUnprocessableEntity
	}
	switch {
	case errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrProcedureNotFound),
		errors.Is(err, service.ErrAssetNotFound),
		errors.Is(err, wizard.ErrUnknownStep),
		errors.Is(err, attachments.ErrNoAttachment):
		return http.StatusNotFound
	case errors.Is(err, wizard.ErrInvalidResult),
		errors.Is(err, wizard.ErrTooManyPersonnel),
		errors.Is(err, wizard.ErrOutOfRange),
		errors.Is(err, wizard.ErrAtSummary),
		errors.Is(err, wizard.ErrAtPersonnel),
		errors.Is(err, attachments.ErrNotImage):
		return http.StatusBadRequest
	case errors.Is(err, wizard.ErrFinished),
		errors.Is(err, syncer.ErrDrainInProgress):
		return http.StatusConflict
	case errors.Is(err, attachments.ErrImageTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, remote.ErrNoCredential):
		return http.StatusUnauthorized
	case remote.KindOf(err) == remote.KindTransient:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	body := errorBody{Error: err.Error()}
	if ve, ok := wizard.AsValidation(err); ok {
		body.Validation = ve
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request error", "error", err)
	}
	writeJSON(w, status, body)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}
