package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/finboost/rewards-service/internal/app"
	"github.com/finboost/rewards-service/internal/domain"
	"github.com/finboost/rewards-service/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type cycleRequest struct {
	Name                 string `json:"name"`
	StartDate            string `json:"startDate"`
	EndDate              string `json:"endDate"`
	RewardPoolPercentage int    `json:"rewardPoolPercentage"`
	MinimumPoolCents     int64  `json:"minimumPoolCents"`
}

type transitionRequest struct {
	Status         string `json:"status"`
	IdempotencyKey string `json:"idempotencyKey"`
	Reason         string `json:"reason"`
}

type suppressionRequest struct {
	Email  string `json:"email"`
	Reason string `json:"reason"`
	Source string `json:"source"`
}

type transitionResponse struct {
	Selection domain.CycleWinnerSelection `json:"selection"`
	From      domain.PayoutStatus         `json:"from"`
	Item      *domain.PayoutBatchItem     `json:"item,omitempty"`
	Replayed  bool                        `json:"replayed"`
}

func (h *Handler) handleCreateCycle(w http.ResponseWriter, r *http.Request) {
	var req cycleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, r, err)
		return
	}

	start, err := parseDate("startDate", req.StartDate)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	end, err := parseDate("endDate", req.EndDate)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	cycle, err := h.payouts.CreateCycle(r.Context(), domain.CycleSetting{
		Name:                 strings.TrimSpace(req.Name),
		StartDate:            start,
		EndDate:              end,
		RewardPoolPercentage: req.RewardPoolPercentage,
		MinimumPoolCents:     req.MinimumPoolCents,
	})
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, cycle)
}

func (h *Handler) handleListCycles(w http.ResponseWriter, r *http.Request) {
	cycles, err := h.payouts.ListCycles(r.Context())
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	if cycles == nil {
		cycles = []domain.CycleSetting{}
	}
	writeJSON(w, http.StatusOK, cycles)
}

func (h *Handler) handleActiveCycle(w http.ResponseWriter, r *http.Request) {
	cycle, err := h.payouts.ActiveCycle(r.Context())
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cycle)
}

func (h *Handler) handleListSelections(w http.ResponseWriter, r *http.Request) {
	cycleID, ok := h.uuidParam(w, r, "cycleId")
	if !ok {
		return
	}

	selections, err := h.payouts.ListSelections(r.Context(), cycleID)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	if selections == nil {
		selections = []domain.CycleWinnerSelection{}
	}
	writeJSON(w, http.StatusOK, selections)
}

func (h *Handler) handleActivateCycle(w http.ResponseWriter, r *http.Request) {
	cycleID, ok := h.uuidParam(w, r, "cycleId")
	if !ok {
		return
	}

	cycle, err := h.payouts.ActivateCycle(r.Context(), cycleID)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cycle)
}

func (h *Handler) handleRecordWinners(w http.ResponseWriter, r *http.Request) {
	cycleID, ok := h.uuidParam(w, r, "cycleId")
	if !ok {
		return
	}

	var input app.RecordWinnersInput
	if err := decodeJSON(w, r, &input); err != nil {
		h.respondWithError(w, r, err)
		return
	}

	result, err := h.payouts.RecordWinners(r.Context(), cycleID, input)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleSealCycle(w http.ResponseWriter, r *http.Request) {
	cycleID, ok := h.uuidParam(w, r, "cycleId")
	if !ok {
		return
	}

	result, err := h.payouts.SealCycle(r.Context(), cycleID)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleDisburseCycle(w http.ResponseWriter, r *http.Request) {
	cycleID, ok := h.uuidParam(w, r, "cycleId")
	if !ok {
		return
	}

	result, err := h.payouts.DisburseCycle(r.Context(), cycleID)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	h.log.WithFields(logrus.Fields{
		"cycle_id":  cycleID,
		"batch_id":  result.BatchID,
		"attempted": result.Attempted,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
	}).Info("cycle disbursement requested")
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleUpdateReward(w http.ResponseWriter, r *http.Request) {
	selectionID, ok := h.uuidParam(w, r, "selectionId")
	if !ok {
		return
	}

	var update domain.RewardUpdate
	if err := decodeJSON(w, r, &update); err != nil {
		h.respondWithError(w, r, err)
		return
	}

	selection, err := h.payouts.UpdateSelectionReward(r.Context(), selectionID, update)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, selection)
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	selectionID, ok := h.uuidParam(w, r, "selectionId")
	if !ok {
		return
	}

	var req transitionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, r, err)
		return
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}

	result, err := h.payouts.TransitionStatus(r.Context(), app.TransitionRequest{
		SelectionID:    selectionID,
		Status:         req.Status,
		IdempotencyKey: key,
		Reason:         req.Reason,
	})
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransitionResponse(result))
}

func (h *Handler) handleRetrySelection(w http.ResponseWriter, r *http.Request) {
	selectionID, ok := h.uuidParam(w, r, "selectionId")
	if !ok {
		return
	}

	result, err := h.payouts.RetrySelection(r.Context(), selectionID, strings.TrimSpace(r.Header.Get("Idempotency-Key")))
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransitionResponse(result))
}

func (h *Handler) handleReconcileBatch(w http.ResponseWriter, r *http.Request) {
	batchID, ok := h.uuidParam(w, r, "batchId")
	if !ok {
		return
	}

	result, err := h.payouts.ReconcileBatch(r.Context(), batchID)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleExportBatchCSV(w http.ResponseWriter, r *http.Request) {
	batchID, ok := h.uuidParam(w, r, "batchId")
	if !ok {
		return
	}

	export, err := h.exports.ExportBatchCSV(r.Context(), batchID)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(export.Content)
}

func (h *Handler) handleSuppress(w http.ResponseWriter, r *http.Request) {
	var req suppressionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, r, err)
		return
	}

	entry, err := h.suppressions.Suppress(r.Context(), req.Email, req.Reason, req.Source)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *Handler) handleUnsuppress(w http.ResponseWriter, r *http.Request) {
	email, err := url.PathUnescape(chi.URLParam(r, "email"))
	if err != nil || strings.TrimSpace(email) == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	if err := h.suppressions.Unsuppress(r.Context(), email); err != nil {
		h.respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (h *Handler) uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a valid UUID", name))
		return uuid.Nil, false
	}
	return id, true
}

func toTransitionResponse(result *store.TransitionResult) transitionResponse {
	return transitionResponse{
		Selection: result.Selection,
		From:      result.From,
		Item:      result.Item,
		Replayed:  result.Replayed,
	}
}

// parseDate accepts RFC 3339 timestamps and plain YYYY-MM-DD dates.
func parseDate(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, &domain.ValidationError{Field: field, Message: "is required"}
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	return time.Time{}, &domain.ValidationError{Field: field, Message: "must be an RFC 3339 timestamp or YYYY-MM-DD date"}
}
