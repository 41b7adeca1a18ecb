package api

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/screening-bot/internal/admin"
	"github.com/ashureev/screening-bot/internal/middleware"
	"github.com/ashureev/screening-bot/internal/report"
	"github.com/ashureev/screening-bot/internal/store"
)

// AdminHandler serves the reviewer API.
type AdminHandler struct {
	service   *admin.Service
	questions []string
	token     string
	feed      http.Handler
}

// NewAdminHandler creates the admin API. feed may be nil.
func NewAdminHandler(service *admin.Service, questions []string, token string, feed http.Handler) *AdminHandler {
	return &AdminHandler{service: service, questions: questions, token: token, feed: feed}
}

// RegisterRoutes registers admin routes behind the bearer token check.
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.AdminToken(h.token))
		r.Get("/candidates", h.ListCandidates)
		r.Get("/candidates/{id}/report", h.GetReport)
		r.Post("/candidates/{id}/approve", h.Approve)
		r.Post("/candidates/{id}/revoke", h.Revoke)
		r.Get("/export.csv", h.ExportCSV)
		if h.feed != nil {
			r.Get("/feed", h.feed.ServeHTTP)
		}
	})
}

// ListCandidates returns candidate summaries. ?pending=true limits the list
// to candidates awaiting approval.
func (h *AdminHandler) ListCandidates(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.service.Summaries(r.Context(), r.URL.Query().Get("pending") == "true")
	if err != nil {
		slog.Error("Failed to list candidates", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list candidates")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"candidates": summaries})
}

// GetReport returns the full candidate report. ?format=text renders plain text.
func (h *AdminHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		Error(w, http.StatusBadRequest, "invalid candidate id")
		return
	}

	rep, err := h.service.ReportByID(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "build report", id, err)
		return
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(report.Text(rep, h.questions)))
		return
	}
	JSON(w, http.StatusOK, rep)
}

// Approve marks the candidate as allowed to start.
func (h *AdminHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		Error(w, http.StatusBadRequest, "invalid candidate id")
		return
	}
	cand, err := h.service.ApproveByID(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "approve candidate", id, err)
		return
	}
	JSON(w, http.StatusOK, cand)
}

// Revoke withdraws the approval.
func (h *AdminHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		Error(w, http.StatusBadRequest, "invalid candidate id")
		return
	}
	cand, err := h.service.RevokeByID(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "revoke candidate", id, err)
		return
	}
	JSON(w, http.StatusOK, cand)
}

// ExportCSV streams the candidate export.
func (h *AdminHandler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := h.service.Export(r.Context(), &buf); err != nil {
		slog.Error("Failed to export candidates", "error", err)
		Error(w, http.StatusInternalServerError, "failed to export candidates")
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="candidates.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (h *AdminHandler) writeServiceError(w http.ResponseWriter, op string, id int64, err error) {
	if errors.Is(err, store.ErrCandidateNotFound) {
		Error(w, http.StatusNotFound, "candidate not found")
		return
	}
	slog.Error("Admin operation failed", "op", op, "candidate_id", id, "error", err)
	Error(w, http.StatusInternalServerError, "failed to "+op)
}
