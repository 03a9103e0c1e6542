package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/driftwatch/internal/apperr"
	"github.com/starford/driftwatch/internal/journal"
	"github.com/starford/driftwatch/internal/models"
	"github.com/starford/driftwatch/internal/store"
)

// Checker runs on-demand platform operations for a single account: an
// immediate drift check and the performance-report passthrough.
type Checker interface {
	CheckAccount(ctx context.Context, accountID string) error
	Analytics(ctx context.Context, accountID string, q models.AnalyticsQuery) ([]map[string]any, error)
}

// Handler holds API route handlers.
type Handler struct {
	journal  *journal.Service
	snaps    store.SnapshotStore
	accounts store.UserStore
	checker  Checker
}

// NewHandler creates a new Handler.
func NewHandler(jr *journal.Service, snaps store.SnapshotStore, accounts store.UserStore, checker Checker) *Handler {
	return &Handler{journal: jr, snaps: snaps, accounts: accounts, checker: checker}
}

// ListChanges handles GET /accounts/{accountID}/changes.
func (h *Handler) ListChanges(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	recs, err := h.journal.List(r.Context(), accountID)
	if err != nil {
		slog.Error("list changes failed",
			slog.String("account_id", accountID),
			slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if recs == nil {
		recs = []models.ChangeRecord{}
	}
	writeJSON(w, http.StatusOK, ChangeListResponse{Changes: recs, Total: len(recs)})
}

// SubmitChanges handles POST /accounts/{accountID}/changes. The journal's
// dedup applies, so re-submitting the same batch is harmless.
func (h *Handler) SubmitChanges(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	accountID := chi.URLParam(r, "accountID")

	var req SubmitChangesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	for _, rec := range req.Changes {
		if rec.CampaignName == "" || rec.Date == "" || len(rec.Changes) == 0 {
			writeJSON(w, http.StatusBadRequest, errorBody("each change needs campaignName, date, and changes"))
			return
		}
	}

	persisted, err := h.journal.Record(r.Context(), accountID, req.Changes)
	if err != nil {
		slog.Error("submit changes failed",
			slog.String("account_id", accountID),
			slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if persisted == nil {
		persisted = []models.ChangeRecord{}
	}
	writeJSON(w, http.StatusCreated, ChangeListResponse{Changes: persisted, Total: len(persisted)})
}

// ListSnapshots handles GET /accounts/{accountID}/snapshots.
func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	snaps, err := h.snaps.Snapshots(r.Context(), accountID)
	if err != nil {
		slog.Error("list snapshots failed",
			slog.String("account_id", accountID),
			slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	docs := make([]map[string]any, 0, len(snaps))
	for _, s := range snaps {
		docs = append(docs, s.Fields)
	}
	writeJSON(w, http.StatusOK, SnapshotListResponse{Campaigns: docs, Total: len(docs)})
}

// CheckAccount handles POST /accounts/{accountID}/check.
func (h *Handler) CheckAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	if err := h.checker.CheckAccount(r.Context(), accountID); err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("account not found"))
		case errors.Is(err, apperr.ErrAuthExpired):
			writeJSON(w, http.StatusUnauthorized, errorBody("platform credential expired"))
		default:
			slog.Error("on-demand check failed",
				slog.String("account_id", accountID),
				slog.String("error", err.Error()))
			writeJSON(w, http.StatusBadGateway, errorBody("check failed"))
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Analytics handles GET /accounts/{accountID}/analytics. It passes the
// platform's performance report through; start and end are calendar days,
// campaigns an optional comma-separated id filter.
func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	start, err := time.Parse(models.DateLayout, r.URL.Query().Get("start"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("start must be a YYYY-MM-DD date"))
		return
	}
	end, err := time.Parse(models.DateLayout, r.URL.Query().Get("end"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("end must be a YYYY-MM-DD date"))
		return
	}
	if end.Before(start) {
		writeJSON(w, http.StatusBadRequest, errorBody("end must not precede start"))
		return
	}
	q := models.AnalyticsQuery{Start: start, End: end}
	if c := r.URL.Query().Get("campaigns"); c != "" {
		q.Campaigns = strings.Split(c, ",")
	}

	elements, err := h.checker.Analytics(r.Context(), accountID, q)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("account not found"))
		case errors.Is(err, apperr.ErrAuthExpired):
			writeJSON(w, http.StatusUnauthorized, errorBody("platform credential expired"))
		default:
			slog.Error("analytics fetch failed",
				slog.String("account_id", accountID),
				slog.String("error", err.Error()))
			writeJSON(w, http.StatusBadGateway, errorBody("analytics fetch failed"))
		}
		return
	}
	if elements == nil {
		elements = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, AnalyticsResponse{Elements: elements, Total: len(elements)})
}

// AccountName handles GET /accounts/{accountID}/name.
func (h *Handler) AccountName(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	acct, err := h.accounts.Account(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("account not found"))
			return
		}
		slog.Error("load account failed",
			slog.String("account_id", accountID),
			slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, AccountNameResponse{Name: acct.Name})
}

// AddNote handles POST /accounts/{accountID}/changes/{changeID}/notes.
func (h *Handler) AddNote(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	changeID := chi.URLParam(r, "changeID")

	var req AddNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Text == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("text is required"))
		return
	}

	note, err := h.journal.AddNote(r.Context(), accountID, changeID, req.Text)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("change record not found"))
		} else {
			slog.Error("add note failed",
				slog.String("change_id", changeID),
				slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

// EditNote handles PUT /accounts/{accountID}/changes/{changeID}/notes/{noteID}.
func (h *Handler) EditNote(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	changeID := chi.URLParam(r, "changeID")
	noteID := chi.URLParam(r, "noteID")

	var req EditNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Text == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("text is required"))
		return
	}

	note, err := h.journal.EditNote(r.Context(), accountID, changeID, noteID, req.Text)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("note not found"))
		} else {
			slog.Error("edit note failed",
				slog.String("note_id", noteID),
				slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// DeleteNote handles DELETE /accounts/{accountID}/changes/{changeID}/notes/{noteID}.
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	changeID := chi.URLParam(r, "changeID")
	noteID := chi.URLParam(r, "noteID")

	if err := h.journal.DeleteNote(r.Context(), accountID, changeID, noteID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("note not found"))
		} else {
			slog.Error("delete note failed",
				slog.String("note_id", noteID),
				slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
