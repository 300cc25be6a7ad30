/**
 * @description
 * Persistence and provider contracts the services depend on. The Postgres
 * repository in internal/store satisfies every repository interface here.
 */
package app

import (
	"context"
	"time"

	"github.com/finboost/rewards-service/internal/domain"
	"github.com/finboost/rewards-service/internal/store"
	"github.com/finboost/rewards-service/pkg/payoutclient"
	"github.com/google/uuid"
)

// PayoutRepository defines the database operations of the payout lifecycle.
type PayoutRepository interface {
	CreateCycle(ctx context.Context, c domain.CycleSetting) (*domain.CycleSetting, error)
	GetCycle(ctx context.Context, id uuid.UUID) (*domain.CycleSetting, error)
	ListCycles(ctx context.Context) ([]domain.CycleSetting, error)
	GetActiveCycle(ctx context.Context) (*domain.CycleSetting, error)
	ActivateCycle(ctx context.Context, id uuid.UUID) (*domain.CycleSetting, error)
	CycleRevenueCents(ctx context.Context, cycleID uuid.UUID) (int64, error)

	ReplaceDraftSelections(ctx context.Context, cycleID uuid.UUID, selections []domain.CycleWinnerSelection) ([]domain.CycleWinnerSelection, error)
	GetSelection(ctx context.Context, id uuid.UUID) (*domain.CycleWinnerSelection, error)
	ListSelectionsByCycle(ctx context.Context, cycleID uuid.UUID) ([]domain.CycleWinnerSelection, error)
	ListSelectionsByStatus(ctx context.Context, cycleID uuid.UUID, status domain.PayoutStatus) ([]domain.CycleWinnerSelection, error)
	UpdateSelectionReward(ctx context.Context, id uuid.UUID, update domain.RewardUpdate) (*domain.CycleWinnerSelection, error)
	SealCycleSelections(ctx context.Context, cycleID uuid.UUID, at time.Time) ([]domain.CycleWinnerSelection, error)
	HasPendingItem(ctx context.Context, selectionID uuid.UUID) (bool, error)

	ApplyTransition(ctx context.Context, cmd store.TransitionCommand) (*store.TransitionResult, error)

	CreateBatch(ctx context.Context, batch domain.PayoutBatch) (*domain.PayoutBatch, error)
	GetBatch(ctx context.Context, id uuid.UUID) (*domain.PayoutBatch, error)
	ListOpenBatches(ctx context.Context, limit int) ([]domain.PayoutBatch, error)
	UpdateBatchStatus(ctx context.Context, batch domain.PayoutBatch) error
	ListBatchItems(ctx context.Context, batchID uuid.UUID) ([]domain.PayoutBatchItem, error)

	GetUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

// UserRepository defines the account operations used by signup and login.
type UserRepository interface {
	CreateUserWithVerificationToken(ctx context.Context, user domain.User, tokenHash string, expiresAt time.Time) (*domain.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	ConsumeVerificationToken(ctx context.Context, tokenHash string, now time.Time) (*domain.User, error)
	DeleteExpiredVerificationTokens(ctx context.Context, now time.Time) (int64, error)
}

// SuppressionChecker is the read side the email gate needs.
type SuppressionChecker interface {
	IsSuppressed(ctx context.Context, email string) (bool, error)
}

// SuppressionRepository manages the suppression list and webhook dedupe.
type SuppressionRepository interface {
	SuppressionChecker
	UpsertSuppression(ctx context.Context, s domain.EmailSuppression) (*domain.EmailSuppression, error)
	DeleteSuppression(ctx context.Context, email string) (bool, error)
	ApplyWebhookChange(ctx context.Context, provider, eventID string, change store.WebhookChange) (bool, error)
}

// HistoryRepository reads a user's selections for the rewards history view.
type HistoryRepository interface {
	GetRewardsHistory(ctx context.Context, userID uuid.UUID) ([]domain.RewardHistoryItem, error)
}

// ExportRepository reads batch items as raw column maps.
type ExportRepository interface {
	GetBatch(ctx context.Context, id uuid.UUID) (*domain.PayoutBatch, error)
	ListBatchItemRows(ctx context.Context, batchID uuid.UUID) ([]string, []map[string]interface{}, error)
}

// OutboxRepository is the claim/ack side of the transactional outbox.
type OutboxRepository interface {
	ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]store.OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, id int64) error
	MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error
}

// PayoutClient defines the batch payout provider calls.
type PayoutClient interface {
	CreateBatchPayout(ctx context.Context, payload payoutclient.CreateBatchRequest) (*payoutclient.BatchResponse, error)
	GetBatchPayout(ctx context.Context, payoutBatchID string) (*payoutclient.BatchResponse, error)
}

// ObjectArchiver stores exported files.
type ObjectArchiver interface {
	Put(ctx context.Context, key, contentType string, body []byte) (string, error)
}
