// Package api exposes the test services over HTTP for the presentation layer.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/raphaelgruber/assetcheck/internal/metrics"
	"github.com/raphaelgruber/assetcheck/internal/service"
	"github.com/raphaelgruber/assetcheck/internal/syncer"
)

// MaxUploadBytes bounds multipart attachment uploads.
const MaxUploadBytes = 32 << 20

// Handler serves the HTTP API.
type Handler struct {
	catalog     *service.CatalogService
	tests       *service.TestService
	jobs        *service.JobManager
	coordinator *syncer.Coordinator
	metrics     *metrics.Collector
	logger      *slog.Logger
}

// NewHandler creates the API handler. coordinator and collector may be nil.
func NewHandler(catalog *service.CatalogService, tests *service.TestService, jobs *service.JobManager, coordinator *syncer.Coordinator, collector *metrics.Collector, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		catalog:     catalog,
		tests:       tests,
		jobs:        jobs,
		coordinator: coordinator,
		metrics:     collector,
		logger:      logger,
	}
}

// Router builds the route table.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(LoggingMiddleware(h.logger))

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/stats", h.stats).Methods(http.MethodGet)

	r.HandleFunc("/procedures", h.listProcedures).Methods(http.MethodGet)
	r.HandleFunc("/procedures/{id}", h.getProcedure).Methods(http.MethodGet)
	r.HandleFunc("/assets", h.listAssets).Methods(http.MethodGet)
	r.HandleFunc("/assets/{id}", h.getAsset).Methods(http.MethodGet)
	r.HandleFunc("/assets/{id}/history", h.assetHistory).Methods(http.MethodGet)
	r.HandleFunc("/companies", h.companies).Methods(http.MethodGet)
	r.HandleFunc("/catalog/reload", h.reloadCatalog).Methods(http.MethodPost)

	r.HandleFunc("/sessions", h.listSessions).Methods(http.MethodGet)
	r.HandleFunc("/sessions", h.startSession).Methods(http.MethodPost)
	r.HandleFunc("/sessions/saved", h.savedSessions).Methods(http.MethodGet)

	s := r.PathPrefix("/sessions/{handle}").Subrouter()
	s.HandleFunc("", h.getSession).Methods(http.MethodGet)
	s.HandleFunc("", h.cancelSession).Methods(http.MethodDelete)
	s.HandleFunc("/advance", h.advance).Methods(http.MethodPost)
	s.HandleFunc("/retreat", h.retreat).Methods(http.MethodPost)
	s.HandleFunc("/jump", h.jump).Methods(http.MethodPost)
	s.HandleFunc("/personnel", h.setPersonnel).Methods(http.MethodPut)
	s.HandleFunc("/notes", h.setNotes).Methods(http.MethodPut)
	s.HandleFunc("/mode", h.setMode).Methods(http.MethodPut)
	s.HandleFunc("/validate", h.validate).Methods(http.MethodGet)
	s.HandleFunc("/rows", h.previewRows).Methods(http.MethodGet)
	s.HandleFunc("/save", h.save).Methods(http.MethodPost)
	s.HandleFunc("/finish", h.finish).Methods(http.MethodPost)
	s.HandleFunc("/steps/{step:[0-9]+}/result", h.setStepResult).Methods(http.MethodPut)
	s.HandleFunc("/steps/{step:[0-9]+}/performers", h.setStepPerformers).Methods(http.MethodPut)
	s.HandleFunc("/steps/{step:[0-9]+}/notes", h.setStepNotes).Methods(http.MethodPut)
	s.HandleFunc("/steps/{step:[0-9]+}/fields/{key}", h.setStepField).Methods(http.MethodPut)
	s.HandleFunc("/steps/{step:[0-9]+}/attachments", h.listAttachments).Methods(http.MethodGet)
	s.HandleFunc("/steps/{step:[0-9]+}/attachments", h.addAttachment).Methods(http.MethodPost)
	s.HandleFunc("/steps/{step:[0-9]+}/attachments/{index:[0-9]+}", h.removeAttachment).Methods(http.MethodDelete)

	r.HandleFunc("/queue", h.queue).Methods(http.MethodGet)
	r.HandleFunc("/sync", h.sync).Methods(http.MethodPost)
	r.HandleFunc("/jobs", h.listJobs).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}", h.getJob).Methods(http.MethodGet)
	return r
}
