/**
 * @description
 * HTTP handlers for the public rewards API: signup, email verification,
 * login and rewards history.
 */
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/finboost/rewards-service/internal/app"
	"github.com/finboost/rewards-service/internal/domain"
	"github.com/finboost/rewards-service/internal/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AuthService is the account surface used by the handlers.
type AuthService interface {
	Signup(ctx context.Context, input app.SignupInput) (*app.SignupResult, error)
	VerifyEmail(ctx context.Context, rawToken string) (*domain.User, error)
	Login(ctx context.Context, email, password string) (*app.LoginResult, error)
}

// HistoryService returns a member's rewards history.
type HistoryService interface {
	RewardsHistory(ctx context.Context, userID uuid.UUID) (*domain.RewardsHistory, error)
}

// PayoutService is the cycle and disbursement surface used by admin routes.
type PayoutService interface {
	CreateCycle(ctx context.Context, cycle domain.CycleSetting) (*domain.CycleSetting, error)
	ListCycles(ctx context.Context) ([]domain.CycleSetting, error)
	ActiveCycle(ctx context.Context) (*domain.CycleSetting, error)
	ActivateCycle(ctx context.Context, cycleID uuid.UUID) (*domain.CycleSetting, error)
	ListSelections(ctx context.Context, cycleID uuid.UUID) ([]domain.CycleWinnerSelection, error)
	RecordWinners(ctx context.Context, cycleID uuid.UUID, input app.RecordWinnersInput) (*app.RecordWinnersResult, error)
	SealCycle(ctx context.Context, cycleID uuid.UUID) (*app.SealResult, error)
	DisburseCycle(ctx context.Context, cycleID uuid.UUID) (*app.DisbursementResult, error)
	UpdateSelectionReward(ctx context.Context, selectionID uuid.UUID, update domain.RewardUpdate) (*domain.CycleWinnerSelection, error)
	TransitionStatus(ctx context.Context, req app.TransitionRequest) (*store.TransitionResult, error)
	RetrySelection(ctx context.Context, selectionID uuid.UUID, idempotencyKey string) (*store.TransitionResult, error)
	ReconcileBatch(ctx context.Context, batchID uuid.UUID) (*app.DisbursementResult, error)
}

// ExportService renders payout batch items as CSV.
type ExportService interface {
	ExportBatchCSV(ctx context.Context, batchID uuid.UUID) (*app.CSVExport, error)
}

// SuppressionService manages the suppression list and provider webhooks.
type SuppressionService interface {
	Suppress(ctx context.Context, email, reason, source string) (*domain.EmailSuppression, error)
	Unsuppress(ctx context.Context, email string) error
	VerifySignature(body []byte, header string) bool
	HandlePostmarkEvent(ctx context.Context, payload []byte) (*app.WebhookOutcome, error)
}

// Services groups the application services the handlers depend on.
type Services struct {
	Auth         AuthService
	History      HistoryService
	Payouts      PayoutService
	Exports      ExportService
	Suppressions SuppressionService
}

// Handler holds the application services that handlers will interact with.
type Handler struct {
	auth         AuthService
	history      HistoryService
	payouts      PayoutService
	exports      ExportService
	suppressions SuppressionService
	log          logrus.FieldLogger
}

// NewHandler creates a new Handler with the given services.
func NewHandler(services Services, log logrus.FieldLogger) *Handler {
	return &Handler{
		auth:         services.Auth,
		history:      services.History,
		payouts:      services.Payouts,
		exports:      services.Exports,
		suppressions: services.Suppressions,
		log:          log.WithField("component", "api"),
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	var input app.SignupInput
	if err := decodeJSON(w, r, &input); err != nil {
		h.respondWithError(w, r, err)
		return
	}

	result, err := h.auth.Signup(r.Context(), input)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"user":    result.User,
	})
}

func (h *Handler) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	user, err := h.auth.VerifyEmail(r.Context(), token)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusBadRequest, "Invalid verification token")
			return
		}
		h.respondWithError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Email verified",
		"user":    user,
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, r, err)
		return
	}

	result, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleRewardsHistory(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid token subject")
		return
	}

	history, err := h.history.RewardsHistory(r.Context(), userID)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, history)
}

// respondWithError maps the domain error taxonomy to HTTP status codes.
func (h *Handler) respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *domain.ValidationError
		emailErr      *domain.EmailError
		providerErr   *domain.ProviderError
	)

	switch {
	case errors.As(err, &validationErr), errors.As(err, &emailErr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrSelectionSealed),
		errors.Is(err, domain.ErrDuplicateUser),
		errors.Is(err, store.ErrPendingItemExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrTokenAlreadyUsed):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrTokenExpired):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, domain.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrEmailNotVerified):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrSuppressed):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &providerErr):
		h.log.WithError(err).WithField("path", r.URL.Path).Error("provider call failed")
		writeError(w, http.StatusBadGateway, "Upstream provider error")
	default:
		h.log.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeJSON is a helper to write JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	response, err := json.Marshal(data)
	if err != nil {
		http.Error(w, `{"error":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}
