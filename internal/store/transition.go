package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/finboost/rewards-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TransitionCommand moves a selection through one or more lifecycle steps and
// optionally writes the associated batch item, all in one transaction.
// An empty Steps slice with a non-nil Item records an item-only outcome
// (for example an unclaimed payout) under the same idempotency guarantees.
//
// RetryBudget applies to failed items whose path ends in pending: once the
// selection has used up the budget the final pending step is dropped and the
// selection stays failed. The count is taken under the selection row lock.
type TransitionCommand struct {
	SelectionID    uuid.UUID
	Steps          []domain.PayoutStatus
	IdempotencyKey string
	Item           *domain.PayoutBatchItem
	Reason         string
	Exchange       string
	RoutingKey     string
	RetryBudget    int
}

// TransitionResult reports the state after the command. Replayed is true when
// the idempotency key had already been applied and nothing was written.
type TransitionResult struct {
	Selection domain.CycleWinnerSelection
	From      domain.PayoutStatus
	Item      *domain.PayoutBatchItem
	Replayed  bool
}

func (c TransitionCommand) target() string {
	if len(c.Steps) > 0 {
		return string(c.Steps[len(c.Steps)-1])
	}
	if c.Item != nil {
		return "item:" + string(c.Item.Status)
	}
	return ""
}

func (c TransitionCommand) exhaustsRetryBudget() bool {
	if c.RetryBudget <= 0 || c.Item == nil || c.Item.Status != domain.BatchItemStatusFailed {
		return false
	}
	return len(c.Steps) > 1 && c.Steps[len(c.Steps)-1] == domain.PayoutStatusPending
}

type transitionKey struct {
	SelectionID  uuid.UUID
	TargetStatus string
	BatchItemID  *uuid.UUID
}

type historyEntry struct {
	SelectionID    uuid.UUID
	From           domain.PayoutStatus
	To             domain.PayoutStatus
	IdempotencyKey string
	BatchItemID    *uuid.UUID
	Reason         string
}

// transitionQueries is the transactional surface applyTransition runs against.
type transitionQueries interface {
	reserveKey(ctx context.Context, key string, selectionID uuid.UUID, target string, itemID *uuid.UUID) (bool, error)
	loadKey(ctx context.Context, key string) (*transitionKey, error)
	lockSelection(ctx context.Context, id uuid.UUID) (*domain.CycleWinnerSelection, error)
	updateSelectionStatus(ctx context.Context, id uuid.UUID, status domain.PayoutStatus, at time.Time) error
	countFailedItems(ctx context.Context, selectionID, excludeItemID uuid.UUID) (int, error)
	upsertItem(ctx context.Context, item *domain.PayoutBatchItem) error
	loadItem(ctx context.Context, id uuid.UUID) (*domain.PayoutBatchItem, error)
	insertHistory(ctx context.Context, entry historyEntry) error
	enqueue(ctx context.Context, exchange, routingKey string, payload interface{}) error
}

func applyTransition(ctx context.Context, q transitionQueries, cmd TransitionCommand, now time.Time) (*TransitionResult, error) {
	cmd.IdempotencyKey = strings.TrimSpace(cmd.IdempotencyKey)
	if cmd.IdempotencyKey == "" {
		return nil, &domain.ValidationError{Field: "idempotencyKey", Message: "is required"}
	}
	if len(cmd.Steps) == 0 && cmd.Item == nil {
		return nil, &domain.ValidationError{Field: "status", Message: "a target status or batch item is required"}
	}

	var itemID *uuid.UUID
	if cmd.Item != nil {
		id := cmd.Item.ID
		itemID = &id
	}

	reserved, err := q.reserveKey(ctx, cmd.IdempotencyKey, cmd.SelectionID, cmd.target(), itemID)
	if err != nil {
		return nil, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if !reserved {
		return replayTransition(ctx, q, cmd)
	}

	sel, err := q.lockSelection(ctx, cmd.SelectionID)
	if err != nil {
		return nil, err
	}
	from := sel.PayoutStatus

	if cmd.exhaustsRetryBudget() {
		failures, err := q.countFailedItems(ctx, sel.ID, cmd.Item.ID)
		if err != nil {
			return nil, fmt.Errorf("count failed attempts: %w", err)
		}
		if failures+1 >= cmd.RetryBudget {
			cmd.Steps = cmd.Steps[:len(cmd.Steps)-1]
		}
	}

	if err := domain.ValidatePath(from, cmd.Steps); err != nil {
		return nil, err
	}
	if from == domain.PayoutStatusDraft && len(cmd.Steps) > 0 && !sel.IsSealed {
		return nil, &domain.ValidationError{Field: "isSealed", Message: "selection must be sealed before it becomes payable"}
	}

	if cmd.Item != nil {
		if cmd.Item.CycleWinnerSelectionID != sel.ID {
			return nil, &domain.ValidationError{Field: "cycleWinnerSelectionId", Message: "batch item belongs to a different selection"}
		}
		if cmd.Item.Amount != sel.PayoutFinal {
			return nil, &domain.ValidationError{
				Field:   "amount",
				Message: fmt.Sprintf("batch item amount %d does not reconcile with payoutFinal %d", cmd.Item.Amount, sel.PayoutFinal),
			}
		}
		if !sel.IsSealed {
			return nil, &domain.ValidationError{Field: "isSealed", Message: "selection must be sealed before disbursement"}
		}
	}

	current := from
	for _, step := range cmd.Steps {
		if err := q.insertHistory(ctx, historyEntry{
			SelectionID:    sel.ID,
			From:           current,
			To:             step,
			IdempotencyKey: cmd.IdempotencyKey,
			BatchItemID:    itemID,
			Reason:         cmd.Reason,
		}); err != nil {
			return nil, fmt.Errorf("record status history: %w", err)
		}
		current = step
	}
	if len(cmd.Steps) > 0 {
		if err := q.updateSelectionStatus(ctx, sel.ID, current, now); err != nil {
			return nil, fmt.Errorf("update payout status: %w", err)
		}
		sel.PayoutStatus = current
		sel.StatusChangedAt = now
		sel.UpdatedAt = now
	}

	var item *domain.PayoutBatchItem
	if cmd.Item != nil {
		written := *cmd.Item
		if err := q.upsertItem(ctx, &written); err != nil {
			return nil, err
		}
		item = &written
	}

	if len(cmd.Steps) > 0 && cmd.Exchange != "" && cmd.RoutingKey != "" {
		event := domain.PayoutStatusChangedEvent{
			SelectionID:    sel.ID,
			UserID:         sel.UserID,
			CycleSettingID: sel.CycleSettingID,
			FromStatus:     from,
			ToStatus:       current,
			Amount:         sel.PayoutFinal,
			BatchItemID:    itemID,
			IdempotencyKey: cmd.IdempotencyKey,
			Reason:         cmd.Reason,
			OccurredAt:     now,
		}
		if err := q.enqueue(ctx, cmd.Exchange, cmd.RoutingKey, event); err != nil {
			return nil, err
		}
	}

	return &TransitionResult{Selection: *sel, From: from, Item: item}, nil
}

func replayTransition(ctx context.Context, q transitionQueries, cmd TransitionCommand) (*TransitionResult, error) {
	existing, err := q.loadKey(ctx, cmd.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("load idempotency key: %w", err)
	}
	if existing.SelectionID != cmd.SelectionID || existing.TargetStatus != cmd.target() {
		return nil, &domain.ValidationError{Field: "idempotencyKey", Message: "already used for a different transition"}
	}

	sel, err := q.lockSelection(ctx, cmd.SelectionID)
	if err != nil {
		return nil, err
	}

	result := &TransitionResult{Selection: *sel, From: sel.PayoutStatus, Replayed: true}
	if existing.BatchItemID != nil {
		item, err := q.loadItem(ctx, *existing.BatchItemID)
		if err != nil && !errors.Is(err, ErrBatchItemNotFound) {
			return nil, err
		}
		result.Item = item
	}
	return result, nil
}

// ApplyTransition runs a TransitionCommand inside a single transaction. The
// idempotency key row, the status change, the history rows, the batch item and
// the outbox event either all commit or none do.
func (r *PostgresRepository) ApplyTransition(ctx context.Context, cmd TransitionCommand) (*TransitionResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transition tx: %w", err)
	}
	defer tx.Rollback(ctx)

	result, err := applyTransition(ctx, pgxTransitionQueries{tx: tx}, cmd, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if result.Replayed {
		return result, nil
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	return result, nil
}

type pgxTransitionQueries struct {
	tx pgx.Tx
}

func (q pgxTransitionQueries) reserveKey(ctx context.Context, key string, selectionID uuid.UUID, target string, itemID *uuid.UUID) (bool, error) {
	tag, err := q.tx.Exec(ctx, `
		INSERT INTO payout_transition_keys (idempotency_key, cycle_winner_selection_id, target_status, batch_item_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, key, selectionID, target, itemID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (q pgxTransitionQueries) loadKey(ctx context.Context, key string) (*transitionKey, error) {
	var existing transitionKey
	err := q.tx.QueryRow(ctx, `
		SELECT cycle_winner_selection_id, target_status, batch_item_id
		FROM payout_transition_keys
		WHERE idempotency_key = $1
	`, key).Scan(&existing.SelectionID, &existing.TargetStatus, &existing.BatchItemID)
	if err != nil {
		return nil, err
	}
	return &existing, nil
}

func (q pgxTransitionQueries) lockSelection(ctx context.Context, id uuid.UUID) (*domain.CycleWinnerSelection, error) {
	row := q.tx.QueryRow(ctx, `SELECT `+selectionColumns+` FROM cycle_winner_selections WHERE id = $1 FOR UPDATE`, id)
	return scanSelection(row)
}

func (q pgxTransitionQueries) updateSelectionStatus(ctx context.Context, id uuid.UUID, status domain.PayoutStatus, at time.Time) error {
	_, err := q.tx.Exec(ctx, `
		UPDATE cycle_winner_selections
		SET payout_status = $2, status_changed_at = $3, updated_at = $3
		WHERE id = $1
	`, id, string(status), at)
	return err
}

func (q pgxTransitionQueries) countFailedItems(ctx context.Context, selectionID, excludeItemID uuid.UUID) (int, error) {
	var count int
	err := q.tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM payout_batch_items
		WHERE cycle_winner_selection_id = $1 AND status = 'failed' AND id <> $2
	`, selectionID, excludeItemID).Scan(&count)
	return count, err
}

func (q pgxTransitionQueries) upsertItem(ctx context.Context, item *domain.PayoutBatchItem) error {
	err := q.tx.QueryRow(ctx, `
		INSERT INTO payout_batch_items (
			id, batch_id, user_id, cycle_setting_id, cycle_winner_selection_id,
			amount, currency, status, failure_reason, recipient_email, provider_item_id, paid_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			failure_reason = EXCLUDED.failure_reason,
			provider_item_id = COALESCE(EXCLUDED.provider_item_id, payout_batch_items.provider_item_id),
			paid_at = COALESCE(EXCLUDED.paid_at, payout_batch_items.paid_at),
			updated_at = NOW()
		RETURNING created_at, updated_at
	`,
		item.ID,
		item.BatchID,
		item.UserID,
		item.CycleSettingID,
		item.CycleWinnerSelectionID,
		item.Amount,
		item.Currency,
		string(item.Status),
		item.FailureReason,
		item.RecipientEmail,
		item.ProviderItemID,
		item.PaidAt,
	).Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrPendingItemExists
		}
		return fmt.Errorf("upsert payout batch item: %w", err)
	}
	return nil
}

func (q pgxTransitionQueries) loadItem(ctx context.Context, id uuid.UUID) (*domain.PayoutBatchItem, error) {
	row := q.tx.QueryRow(ctx, `SELECT `+batchItemColumns+` FROM payout_batch_items WHERE id = $1`, id)
	return scanBatchItem(row)
}

func (q pgxTransitionQueries) insertHistory(ctx context.Context, entry historyEntry) error {
	_, err := q.tx.Exec(ctx, `
		INSERT INTO payout_status_history (cycle_winner_selection_id, from_status, to_status, idempotency_key, batch_item_id, reason)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
	`, entry.SelectionID, string(entry.From), string(entry.To), entry.IdempotencyKey, entry.BatchItemID, entry.Reason)
	return err
}

func (q pgxTransitionQueries) enqueue(ctx context.Context, exchange, routingKey string, payload interface{}) error {
	return enqueueEventTx(ctx, q.tx, exchange, routingKey, payload)
}

func enqueueEventTx(ctx context.Context, tx pgx.Tx, exchange, routingKey string, payload interface{}) error {
	blob, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO event_outbox (exchange, routing_key, payload)
		VALUES ($1, $2, $3::jsonb)
	`, strings.TrimSpace(exchange), strings.TrimSpace(routingKey), string(blob))
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox event: %w", err)
	}
	return nil
}
