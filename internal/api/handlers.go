package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/raphaelgruber/assetcheck/internal/models"
	"github.com/raphaelgruber/assetcheck/internal/service"
	"github.com/raphaelgruber/assetcheck/internal/session"
	"github.com/raphaelgruber/assetcheck/internal/wizard"
)

// SessionView is a live session with its full state.
type SessionView struct {
	service.SessionInfo
	Session *models.Session `json:"session"`
	Step    *models.Step    `json:"step,omitempty"`
}

// PersonnelRequest replaces the personnel of a session.
type PersonnelRequest struct {
	Technicians         []string `json:"technicians"`
	Contractors         []string `json:"contractors"`
	ContractorCompanies []string `json:"contractor_companies"`
}

type resultRequest struct {
	Result models.Result `json:"result"`
}

type performersRequest struct {
	Performers []string `json:"performers"`
}

type valueRequest struct {
	Value string `json:"value"`
}

type notesRequest struct {
	Notes string `json:"notes"`
}

type modeRequest struct {
	Mode string `json:"mode"`
}

type jumpRequest struct {
	Index int `json:"index"`
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func stepVar(r *http.Request) int {
	n, _ := strconv.Atoi(mux.Vars(r)["step"])
	return n
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{}
	if h.metrics != nil {
		out["operations"] = h.metrics.Snapshot()
	}
	if h.coordinator != nil {
		n, err := h.coordinator.Queue().Len(r.Context())
		if err == nil {
			out["queued"] = n
		}
	}
	out["live_sessions"] = len(h.tests.List())
	out["catalog_loaded_at"] = h.catalog.LoadedAt()
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) listProcedures(w http.ResponseWriter, r *http.Request) {
	procs, err := h.catalog.Procedures(r.Context(), r.URL.Query().Get("asset_type"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if procs == nil {
		procs = []models.Procedure{}
	}
	writeJSON(w, http.StatusOK, procs)
}

func (h *Handler) getProcedure(w http.ResponseWriter, r *http.Request) {
	p, err := h.catalog.Procedure(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) listAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := h.catalog.Assets(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if assets == nil {
		assets = []models.Asset{}
	}
	writeJSON(w, http.StatusOK, assets)
}

func (h *Handler) getAsset(w http.ResponseWriter, r *http.Request) {
	a, err := h.catalog.Asset(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) assetHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.catalog.History(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	if history == nil {
		history = []models.TestHistoryEntry{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *Handler) companies(w http.ResponseWriter, r *http.Request) {
	companies, err := h.catalog.Companies(r.Context(), r.URL.Query().Get("asset_type"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if companies == nil {
		companies = []string{}
	}
	writeJSON(w, http.StatusOK, companies)
}

func (h *Handler) reloadCatalog(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.Reload(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loaded_at": h.catalog.LoadedAt()})
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tests.List())
}

func (h *Handler) savedSessions(w http.ResponseWriter, r *http.Request) {
	recs, err := h.tests.SavedProgress(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if recs == nil {
		recs = []session.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	var req service.StartRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.ProcedureID == "" || (req.AssetID == "" && req.Asset == nil) {
		badRequest(w, "asset_id and procedure_id are required")
		return
	}
	handle, _, err := h.tests.Start(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSession(w, http.StatusCreated, handle)
}

func (h *Handler) writeSession(w http.ResponseWriter, status int, handle string) {
	e, err := h.tests.Engine(handle)
	if err != nil {
		h.writeError(w, err)
		return
	}
	info, err := h.tests.Info(handle)
	if err != nil {
		h.writeError(w, err)
		return
	}
	view := SessionView{SessionInfo: info, Session: e.Session()}
	if _, step := e.State(); step != nil {
		view.Step = step
	}
	writeJSON(w, status, view)
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	h.writeSession(w, http.StatusOK, mux.Vars(r)["handle"])
}

// mutate runs fn on the engine behind the handle and returns the new state.
func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, fn func(e *wizard.Engine) error) {
	handle := mux.Vars(r)["handle"]
	e, err := h.tests.Engine(handle)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := fn(e); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSession(w, http.StatusOK, handle)
}

func (h *Handler) advance(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(e *wizard.Engine) error { return e.Advance(r.Context()) })
}

func (h *Handler) retreat(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(e *wizard.Engine) error { return e.Retreat(r.Context()) })
}

func (h *Handler) jump(w http.ResponseWriter, r *http.Request) {
	var req jumpRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	h.mutate(w, r, func(e *wizard.Engine) error { return e.JumpTo(r.Context(), req.Index) })
}

func (h *Handler) setPersonnel(w http.ResponseWriter, r *http.Request) {
	var req PersonnelRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	h.mutate(w, r, func(e *wizard.Engine) error {
		return e.SetPersonnel(r.Context(), req.Technicians, req.Contractors, req.ContractorCompanies)
	})
}

func (h *Handler) setNotes(w http.ResponseWriter, r *http.Request) {
	var req notesRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	h.mutate(w, r, func(e *wizard.Engine) error { return e.SetNotes(r.Context(), req.Notes) })
}

func (h *Handler) setMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	h.mutate(w, r, func(e *wizard.Engine) error {
		return e.SetMode(r.Context(), session.ParseMode(req.Mode))
	})
}

func (h *Handler) setStepResult(w http.ResponseWriter, r *http.Request) {
	var req resultRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	h.mutate(w, r, func(e *wizard.Engine) error {
		return e.SetStepResult(r.Context(), stepVar(r), req.Result)
	})
}

func (h *Handler) setStepPerformers(w http.ResponseWriter, r *http.Request) {
	var req performersRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	h.mutate(w, r, func(e *wizard.Engine) error {
		return e.SetStepPerformers(r.Context(), stepVar(r), req.Performers)
	})
}

func (h *Handler) setStepNotes(w http.ResponseWriter, r *http.Request) {
	var req notesRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	h.mutate(w, r, func(e *wizard.Engine) error {
		return e.SetStepNotes(r.Context(), stepVar(r), req.Notes)
	})
}

func (h *Handler) setStepField(w http.ResponseWriter, r *http.Request) {
	var req valueRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	h.mutate(w, r, func(e *wizard.Engine) error {
		return e.SetStepField(r.Context(), stepVar(r), mux.Vars(r)["key"], req.Value)
	})
}

func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	e, err := h.tests.Engine(mux.Vars(r)["handle"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := e.Validate(); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

func (h *Handler) previewRows(w http.ResponseWriter, r *http.Request) {
	e, err := h.tests.Engine(mux.Vars(r)["handle"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e.CompileRows())
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(e *wizard.Engine) error { return e.Save(r.Context()) })
}

func (h *Handler) finish(w http.ResponseWriter, r *http.Request) {
	res, err := h.tests.Finish(r.Context(), mux.Vars(r)["handle"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) cancelSession(w http.ResponseWriter, r *http.Request) {
	discard, _ := strconv.ParseBool(r.URL.Query().Get("discard"))
	if err := h.tests.Cancel(r.Context(), mux.Vars(r)["handle"], discard); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listAttachments(w http.ResponseWriter, r *http.Request) {
	list, err := h.tests.Attachments(mux.Vars(r)["handle"], stepVar(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if list == nil {
		list = []models.Attachment{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) addAttachment(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "multipart field \"file\" is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		badRequest(w, "could not read upload")
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	handle, err := h.tests.AddAttachment(r.Context(), mux.Vars(r)["handle"], stepVar(r), header.Filename, mimeType, data)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, handle)
}

func (h *Handler) removeAttachment(w http.ResponseWriter, r *http.Request) {
	index, _ := strconv.Atoi(mux.Vars(r)["index"])
	if err := h.tests.RemoveAttachment(r.Context(), mux.Vars(r)["handle"], stepVar(r), index); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) queue(w http.ResponseWriter, r *http.Request) {
	entries, err := h.tests.QueueStatus(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	views := make([]QueueEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, queueEntryView(e))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) sync(w http.ResponseWriter, r *http.Request) {
	if h.coordinator == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "sync is not configured"})
		return
	}
	job := h.jobs.StartDrain(r.Context(), h.coordinator)
	writeJSON(w, http.StatusAccepted, job.Snapshot())
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.jobs.ListJobs()
	out := make([]service.Job, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Snapshot())
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	job := h.jobs.GetJob(mux.Vars(r)["id"])
	if job == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "job not found"})
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}
