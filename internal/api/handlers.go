package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/WillB97/kit-web-ui/internal/archive"
	"github.com/WillB97/kit-web-ui/internal/audit"
	"github.com/WillB97/kit-web-ui/internal/runs"
)

// Handler is the export surface the web layer calls after it has
// authenticated the request. Everything here is read-only over the
// event store.
type Handler struct {
	Runs    *runs.Service
	Archive *archive.Builder
	Audit   *audit.Service // nil disables the download audit trail
}

func NewHandler(runsSvc *runs.Service, builder *archive.Builder, auditSvc *audit.Service) *Handler {
	return &Handler{Runs: runsSvc, Archive: builder, Audit: auditSvc}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/status", h.GetStatus)
	r.Get("/runs", h.GetRuns)
	r.Get("/runs/{user}", h.GetRuns)
	r.Get("/logs/{user}/{run_uuid}", h.GetRunLog)
	r.Get("/run_bundle/{user}/{run_uuid}", h.GetRunBundle)
	r.Get("/config/{user}", h.GetConfig)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[ERROR] API: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// upToParam parses the optional ?up_to=RFC3339 bound; zero means none.
func upToParam(r *http.Request) (time.Time, error) {
	raw := r.URL.Query().Get("up_to")
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid up_to: %w", err)
	}
	return t, nil
}

func (h *Handler) record(ctx context.Context, principal, action string, code int, extra map[string]string) {
	if h.Audit == nil {
		return
	}
	var raw json.RawMessage
	if len(extra) > 0 {
		raw, _ = json.Marshal(extra)
	}
	h.Audit.Record(ctx, audit.Event{
		Principal: principal,
		Action:    action,
		Code:      code,
		Extra:     raw,
	})
}

// GetStatus reports the live status of every tenant.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.Runs.CurrentStatus(r.Context())
	if err != nil {
		log.Printf("[ERROR] API: current status: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to derive status")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"now":   time.Now().UTC(),
		"teams": statuses,
	})
}

// GetRuns lists runs for one tenant, or every tenant when no user is
// given. An unknown user is 404; a known user with no runs is an empty
// mapping.
func (h *Handler) GetRuns(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")

	allRuns, err := h.Runs.ListRuns(r.Context(), user)
	if errors.Is(err, runs.ErrTenantNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		log.Printf("[ERROR] API: list runs: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	writeJSON(w, http.StatusOK, allRuns)
}

// GetRunLog streams a run's log as plain text. Unknown runs produce an
// empty body, not an error.
func (h *Handler) GetRunLog(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	runUUID := chi.URLParam(r, "run_uuid")

	upTo, err := upToParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	text, err := h.Archive.PlainTextLog(r.Context(), user, runUUID, upTo)
	if errors.Is(err, runs.ErrTenantNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		log.Printf("[ERROR] API: run log for %s/%s: %v", user, runUUID, err)
		writeError(w, http.StatusInternalServerError, "failed to build log")
		return
	}

	h.record(r.Context(), user, audit.ActionLogsDownload, http.StatusOK, map[string]string{"run_uuid": runUUID})

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(text)
}

// GetRunBundle streams a zip of a run's log and images.
func (h *Handler) GetRunBundle(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	runUUID := chi.URLParam(r, "run_uuid")

	upTo, err := upToParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg, err := h.Runs.Tenant(r.Context(), user)
	if errors.Is(err, runs.ErrTenantNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		log.Printf("[ERROR] API: resolve tenant %s: %v", user, err)
		writeError(w, http.StatusInternalServerError, "failed to resolve user")
		return
	}

	name, err := h.Archive.BundleName(r.Context(), cfg.Name, user, runUUID, upTo)
	if err != nil {
		log.Printf("[ERROR] API: bundle name for %s/%s: %v", user, runUUID, err)
		writeError(w, http.StatusInternalServerError, "failed to build bundle")
		return
	}

	h.record(r.Context(), user, audit.ActionBundleDownload, http.StatusOK, map[string]string{"run_uuid": runUUID})

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))

	// Streaming: a failure past this point can only be logged, the
	// status line is already written.
	if err := h.Archive.Bundle(r.Context(), w, user, runUUID, upTo); err != nil {
		log.Printf("[ERROR] API: bundle stream for %s/%s: %v", user, runUUID, err)
	}
}

// GetConfig returns a tenant's broker configuration, the payload a kit
// (or the web UI) needs to connect and publish.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")

	cfg, err := h.Runs.Tenant(r.Context(), user)
	if errors.Is(err, runs.ErrTenantNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		log.Printf("[ERROR] API: config for %s: %v", user, err)
		writeError(w, http.StatusInternalServerError, "failed to load config")
		return
	}

	h.record(r.Context(), user, audit.ActionConfigRead, http.StatusOK, nil)

	writeJSON(w, http.StatusOK, map[string]string{
		"user":       cfg.Principal,
		"name":       cfg.Name,
		"broker_url": cfg.BrokerURL(),
		"topic_root": cfg.TopicRoot,
	})
}
