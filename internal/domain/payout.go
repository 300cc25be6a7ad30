/**
 * @description
 * Domain models for cycle winner selections, payout batches and the payout
 * status lifecycle that governs disbursement.
 */
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// PayoutStatus is the disbursement state of a cycle winner selection.
type PayoutStatus string

const (
	PayoutStatusDraft   PayoutStatus = "draft"
	PayoutStatusPending PayoutStatus = "pending"
	PayoutStatusEarned  PayoutStatus = "earned"
	PayoutStatusPaid    PayoutStatus = "paid"
	PayoutStatusFailed  PayoutStatus = "failed"
)

// payoutTransitions lists every permitted move of the payout lifecycle.
// failed -> pending is the retry re-entry point.
var payoutTransitions = map[PayoutStatus][]PayoutStatus{
	PayoutStatusDraft:   {PayoutStatusPending},
	PayoutStatusPending: {PayoutStatusEarned, PayoutStatusFailed},
	PayoutStatusEarned:  {PayoutStatusPaid, PayoutStatusFailed},
	PayoutStatusFailed:  {PayoutStatusPending},
}

// CanTransition reports whether a selection in status from may move to status to.
func CanTransition(from, to PayoutStatus) bool {
	for _, next := range payoutTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the statuses reachable in one step from from.
func AllowedTransitions(from PayoutStatus) []PayoutStatus {
	next := payoutTransitions[from]
	out := make([]PayoutStatus, len(next))
	copy(out, next)
	return out
}

// ValidatePath checks that every hop of a multi-step transition is permitted,
// starting at from.
func ValidatePath(from PayoutStatus, steps []PayoutStatus) error {
	current := from
	for _, step := range steps {
		if !CanTransition(current, step) {
			return &TransitionError{From: current, To: step}
		}
		current = step
	}
	return nil
}

// ParsePayoutStatus normalizes a status string coming from an external boundary.
func ParsePayoutStatus(raw string) (PayoutStatus, error) {
	status := PayoutStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case PayoutStatusDraft, PayoutStatusPending, PayoutStatusEarned, PayoutStatusPaid, PayoutStatusFailed:
		return status, nil
	}
	return "", &ValidationError{Field: "status", Message: "unknown payout status " + strings.TrimSpace(raw)}
}

// IsTerminal reports whether the status is final for reporting purposes.
// failed stays retryable even though it is reported as terminal.
func (s PayoutStatus) IsTerminal() bool {
	return s == PayoutStatusPaid || s == PayoutStatusFailed
}

// BatchItemStatus is the outcome of one disbursement attempt.
type BatchItemStatus string

const (
	BatchItemStatusPending   BatchItemStatus = "pending"
	BatchItemStatusSuccess   BatchItemStatus = "success"
	BatchItemStatusFailed    BatchItemStatus = "failed"
	BatchItemStatusUnclaimed BatchItemStatus = "unclaimed"
)

// NormalizeProviderItemStatus maps a payment provider item status onto the
// batch item vocabulary. Unknown values are treated as still pending.
func NormalizeProviderItemStatus(raw string) BatchItemStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "SUCCESS", "SUCCEEDED", "COMPLETED":
		return BatchItemStatusSuccess
	case "FAILED", "RETURNED", "BLOCKED", "REFUNDED", "REVERSED", "DENIED", "CANCELED", "CANCELLED":
		return BatchItemStatusFailed
	case "UNCLAIMED":
		return BatchItemStatusUnclaimed
	default:
		return BatchItemStatusPending
	}
}

// PayoutBatch status values. An unconfirmed batch was sent but the provider
// never answered, so its items stay claimed until the batch is resubmitted
// under the same sender batch id.
const (
	BatchStatusCreated     = "created"
	BatchStatusSubmitted   = "submitted"
	BatchStatusUnconfirmed = "unconfirmed"
	BatchStatusCompleted   = "completed"
	BatchStatusFailed      = "failed"
)

// CycleWinnerSelection is one user's outcome for one cycle.
type CycleWinnerSelection struct {
	ID                uuid.UUID    `json:"id"`
	CycleSettingID    uuid.UUID    `json:"cycleSettingId"`
	UserID            uuid.UUID    `json:"userId"`
	Tier              Tier         `json:"tier"`
	PointsAtSelection int          `json:"pointsAtSelection"`
	RewardAmount      int64        `json:"rewardAmount"`
	PayoutFinal       int64        `json:"payoutFinal"`
	PayoutStatus      PayoutStatus `json:"payoutStatus"`
	StatusChangedAt   time.Time    `json:"statusChangedAt"`
	IsSealed          bool         `json:"isSealed"`
	SealedAt          *time.Time   `json:"sealedAt,omitempty"`
	SelectedAt        time.Time    `json:"selectedAt"`
	CreatedAt         time.Time    `json:"createdAt"`
	UpdatedAt         time.Time    `json:"updatedAt"`
}

// RewardUpdate carries an adjustment to an unsealed selection.
type RewardUpdate struct {
	RewardAmount      *int64 `json:"rewardAmount,omitempty"`
	Tier              *Tier  `json:"tier,omitempty"`
	PointsAtSelection *int   `json:"pointsAtSelection,omitempty"`
}

// CanMutateReward returns ErrSelectionSealed once the selection is sealed.
func (s CycleWinnerSelection) CanMutateReward() error {
	if s.IsSealed {
		return ErrSelectionSealed
	}
	return nil
}

// ApplyRewardUpdate mutates the selection in place. Reward amount and tier are
// frozen by sealing; points remain adjustable for audit corrections.
func (s *CycleWinnerSelection) ApplyRewardUpdate(update RewardUpdate) error {
	if update.RewardAmount != nil || update.Tier != nil {
		if err := s.CanMutateReward(); err != nil {
			return err
		}
	}
	if update.RewardAmount != nil {
		if *update.RewardAmount < 0 {
			return &ValidationError{Field: "rewardAmount", Message: "must not be negative"}
		}
		s.RewardAmount = *update.RewardAmount
	}
	if update.Tier != nil {
		tier, err := ParseTier(string(*update.Tier))
		if err != nil {
			return err
		}
		s.Tier = tier
	}
	if update.PointsAtSelection != nil {
		if *update.PointsAtSelection < 0 {
			return &ValidationError{Field: "pointsAtSelection", Message: "must not be negative"}
		}
		s.PointsAtSelection = *update.PointsAtSelection
	}
	return nil
}

// PayoutBatch groups disbursement attempts submitted to the provider together.
type PayoutBatch struct {
	ID              uuid.UUID `json:"id"`
	CycleSettingID  uuid.UUID `json:"cycleSettingId"`
	Label           string    `json:"label"`
	Status          string    `json:"status"`
	ProviderBatchID *string   `json:"providerBatchId,omitempty"`
	ItemCount       int       `json:"itemCount"`
	TotalAmount     int64     `json:"totalAmount"`
	Currency        string    `json:"currency"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// PayoutBatchItem is one attempted disbursement of a winner selection.
type PayoutBatchItem struct {
	ID                     uuid.UUID       `json:"id"`
	BatchID                uuid.UUID       `json:"batchId"`
	UserID                 uuid.UUID       `json:"userId"`
	CycleSettingID         uuid.UUID       `json:"cycleSettingId"`
	CycleWinnerSelectionID uuid.UUID       `json:"cycleWinnerSelectionId"`
	Amount                 int64           `json:"amount"`
	Currency               string          `json:"currency"`
	Status                 BatchItemStatus `json:"status"`
	FailureReason          *string         `json:"failureReason,omitempty"`
	RecipientEmail         string          `json:"recipientEmail"`
	ProviderItemID         *string         `json:"providerItemId,omitempty"`
	PaidAt                 *time.Time      `json:"paidAt,omitempty"`
	CreatedAt              time.Time       `json:"createdAt"`
	UpdatedAt              time.Time       `json:"updatedAt"`
}

// PayoutStatusChangedEvent is published whenever a selection changes status.
type PayoutStatusChangedEvent struct {
	SelectionID    uuid.UUID    `json:"selectionId"`
	UserID         uuid.UUID    `json:"userId"`
	CycleSettingID uuid.UUID    `json:"cycleSettingId"`
	FromStatus     PayoutStatus `json:"fromStatus"`
	ToStatus       PayoutStatus `json:"toStatus"`
	Amount         int64        `json:"amount"`
	BatchItemID    *uuid.UUID   `json:"batchItemId,omitempty"`
	IdempotencyKey string       `json:"idempotencyKey"`
	Reason         string       `json:"reason,omitempty"`
	OccurredAt     time.Time    `json:"occurredAt"`
}
