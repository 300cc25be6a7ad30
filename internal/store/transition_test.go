package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/finboost/rewards-service/internal/domain"
	"github.com/google/uuid"
)

type memoryTransitionQueries struct {
	keys       map[string]transitionKey
	selections map[uuid.UUID]*domain.CycleWinnerSelection
	items      map[uuid.UUID]domain.PayoutBatchItem
	history    []historyEntry
	events     []interface{}
}

func newMemoryTransitionQueries(selections ...domain.CycleWinnerSelection) *memoryTransitionQueries {
	q := &memoryTransitionQueries{
		keys:       make(map[string]transitionKey),
		selections: make(map[uuid.UUID]*domain.CycleWinnerSelection),
		items:      make(map[uuid.UUID]domain.PayoutBatchItem),
	}
	for i := range selections {
		sel := selections[i]
		q.selections[sel.ID] = &sel
	}
	return q
}

func (q *memoryTransitionQueries) reserveKey(_ context.Context, key string, selectionID uuid.UUID, target string, itemID *uuid.UUID) (bool, error) {
	if _, ok := q.keys[key]; ok {
		return false, nil
	}
	q.keys[key] = transitionKey{SelectionID: selectionID, TargetStatus: target, BatchItemID: itemID}
	return true, nil
}

func (q *memoryTransitionQueries) loadKey(_ context.Context, key string) (*transitionKey, error) {
	k, ok := q.keys[key]
	if !ok {
		return nil, errors.New("missing key")
	}
	return &k, nil
}

func (q *memoryTransitionQueries) lockSelection(_ context.Context, id uuid.UUID) (*domain.CycleWinnerSelection, error) {
	sel, ok := q.selections[id]
	if !ok {
		return nil, ErrSelectionNotFound
	}
	copied := *sel
	return &copied, nil
}

func (q *memoryTransitionQueries) updateSelectionStatus(_ context.Context, id uuid.UUID, status domain.PayoutStatus, at time.Time) error {
	q.selections[id].PayoutStatus = status
	q.selections[id].StatusChangedAt = at
	return nil
}

func (q *memoryTransitionQueries) countFailedItems(_ context.Context, selectionID, excludeItemID uuid.UUID) (int, error) {
	count := 0
	for id, item := range q.items {
		if id != excludeItemID && item.CycleWinnerSelectionID == selectionID && item.Status == domain.BatchItemStatusFailed {
			count++
		}
	}
	return count, nil
}

func (q *memoryTransitionQueries) upsertItem(_ context.Context, item *domain.PayoutBatchItem) error {
	if item.Status == domain.BatchItemStatusPending {
		for id, existing := range q.items {
			if id != item.ID && existing.CycleWinnerSelectionID == item.CycleWinnerSelectionID && existing.Status == domain.BatchItemStatusPending {
				return ErrPendingItemExists
			}
		}
	}
	q.items[item.ID] = *item
	return nil
}

func (q *memoryTransitionQueries) loadItem(_ context.Context, id uuid.UUID) (*domain.PayoutBatchItem, error) {
	item, ok := q.items[id]
	if !ok {
		return nil, ErrBatchItemNotFound
	}
	return &item, nil
}

func (q *memoryTransitionQueries) insertHistory(_ context.Context, entry historyEntry) error {
	q.history = append(q.history, entry)
	return nil
}

func (q *memoryTransitionQueries) enqueue(_ context.Context, _, _ string, payload interface{}) error {
	q.events = append(q.events, payload)
	return nil
}

func (q *memoryTransitionQueries) countItems(status domain.BatchItemStatus) int {
	count := 0
	for _, item := range q.items {
		if item.Status == status {
			count++
		}
	}
	return count
}

func sealedSelection(status domain.PayoutStatus) domain.CycleWinnerSelection {
	return domain.CycleWinnerSelection{
		ID:             uuid.New(),
		CycleSettingID: uuid.New(),
		UserID:         uuid.New(),
		Tier:           domain.TierOne,
		RewardAmount:   2500,
		PayoutFinal:    2500,
		PayoutStatus:   status,
		IsSealed:       true,
	}
}

func itemFor(sel domain.CycleWinnerSelection, status domain.BatchItemStatus) *domain.PayoutBatchItem {
	return &domain.PayoutBatchItem{
		ID:                     uuid.New(),
		BatchID:                uuid.New(),
		UserID:                 sel.UserID,
		CycleSettingID:         sel.CycleSettingID,
		CycleWinnerSelectionID: sel.ID,
		Amount:                 sel.PayoutFinal,
		Currency:               "USD",
		Status:                 status,
		RecipientEmail:         "winner@example.com",
	}
}

func TestApplyTransition_ReplayWritesSingleSuccessItem(t *testing.T) {
	sel := sealedSelection(domain.PayoutStatusEarned)
	q := newMemoryTransitionQueries(sel)
	item := itemFor(sel, domain.BatchItemStatusSuccess)

	cmd := TransitionCommand{
		SelectionID:    sel.ID,
		Steps:          []domain.PayoutStatus{domain.PayoutStatusPaid},
		IdempotencyKey: item.ID.String() + ":paid",
		Item:           item,
		Exchange:       "payout_events",
		RoutingKey:     "payout.status.changed",
	}

	first, err := applyTransition(context.Background(), q, cmd, time.Now())
	if err != nil {
		t.Fatalf("first transition failed: %v", err)
	}
	if first.Replayed {
		t.Fatal("expected first call to apply")
	}

	second, err := applyTransition(context.Background(), q, cmd, time.Now())
	if err != nil {
		t.Fatalf("replayed transition failed: %v", err)
	}
	if !second.Replayed {
		t.Fatal("expected second call to be reported as a replay")
	}
	if second.Item == nil || second.Item.ID != item.ID {
		t.Fatalf("expected replay to return the stored item, got %+v", second.Item)
	}
	if got := q.countItems(domain.BatchItemStatusSuccess); got != 1 {
		t.Fatalf("expected exactly one success item, got %d", got)
	}
	if len(q.history) != 1 {
		t.Fatalf("expected one history row, got %d", len(q.history))
	}
	if len(q.events) != 1 {
		t.Fatalf("expected one outbox event, got %d", len(q.events))
	}
	if q.selections[sel.ID].PayoutStatus != domain.PayoutStatusPaid {
		t.Fatalf("expected paid, got %s", q.selections[sel.ID].PayoutStatus)
	}
}

func TestApplyTransition_KeyReusedForDifferentTarget(t *testing.T) {
	sel := sealedSelection(domain.PayoutStatusPending)
	q := newMemoryTransitionQueries(sel)

	if _, err := applyTransition(context.Background(), q, TransitionCommand{
		SelectionID:    sel.ID,
		Steps:          []domain.PayoutStatus{domain.PayoutStatusEarned},
		IdempotencyKey: "k1",
	}, time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := applyTransition(context.Background(), q, TransitionCommand{
		SelectionID:    sel.ID,
		Steps:          []domain.PayoutStatus{domain.PayoutStatusPaid},
		IdempotencyKey: "k1",
	}, time.Now())
	var validationErr *domain.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error for reused key, got %v", err)
	}
}

func TestApplyTransition_RejectsInvalidTransition(t *testing.T) {
	sel := sealedSelection(domain.PayoutStatusPending)
	q := newMemoryTransitionQueries(sel)

	_, err := applyTransition(context.Background(), q, TransitionCommand{
		SelectionID:    sel.ID,
		Steps:          []domain.PayoutStatus{domain.PayoutStatusPaid},
		IdempotencyKey: "skip-earned",
	}, time.Now())
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if q.selections[sel.ID].PayoutStatus != domain.PayoutStatusPending {
		t.Fatal("expected status to be unchanged")
	}
}

func TestApplyTransition_FailureRevertsToPending(t *testing.T) {
	sel := sealedSelection(domain.PayoutStatusEarned)
	q := newMemoryTransitionQueries(sel)
	item := itemFor(sel, domain.BatchItemStatusFailed)
	reason := "RECEIVER_UNREGISTERED"
	item.FailureReason = &reason

	result, err := applyTransition(context.Background(), q, TransitionCommand{
		SelectionID:    sel.ID,
		Steps:          []domain.PayoutStatus{domain.PayoutStatusFailed, domain.PayoutStatusPending},
		IdempotencyKey: item.ID.String() + ":failed",
		Item:           item,
		Reason:         reason,
	}, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Selection.PayoutStatus != domain.PayoutStatusPending {
		t.Fatalf("expected pending, got %s", result.Selection.PayoutStatus)
	}
	if result.From != domain.PayoutStatusEarned {
		t.Fatalf("expected from earned, got %s", result.From)
	}
	if len(q.history) != 2 {
		t.Fatalf("expected two history rows, got %d", len(q.history))
	}
	stored := q.items[item.ID]
	if stored.Status != domain.BatchItemStatusFailed || stored.FailureReason == nil || *stored.FailureReason != reason {
		t.Fatalf("unexpected stored item: %+v", stored)
	}
}

func TestApplyTransition_ItemMustReconcileWithPayoutFinal(t *testing.T) {
	sel := sealedSelection(domain.PayoutStatusPending)
	q := newMemoryTransitionQueries(sel)
	item := itemFor(sel, domain.BatchItemStatusPending)
	item.Amount = sel.PayoutFinal + 1

	_, err := applyTransition(context.Background(), q, TransitionCommand{
		SelectionID:    sel.ID,
		Steps:          []domain.PayoutStatus{domain.PayoutStatusEarned},
		IdempotencyKey: "amount-mismatch",
		Item:           item,
	}, time.Now())
	var validationErr *domain.ValidationError
	if !errors.As(err, &validationErr) || validationErr.Field != "amount" {
		t.Fatalf("expected amount validation error, got %v", err)
	}
	if len(q.items) != 0 {
		t.Fatal("expected no batch item to be written")
	}
}

func TestApplyTransition_DraftRequiresSeal(t *testing.T) {
	sel := sealedSelection(domain.PayoutStatusDraft)
	sel.IsSealed = false
	q := newMemoryTransitionQueries(sel)

	_, err := applyTransition(context.Background(), q, TransitionCommand{
		SelectionID:    sel.ID,
		Steps:          []domain.PayoutStatus{domain.PayoutStatusPending},
		IdempotencyKey: "seal:" + sel.ID.String(),
	}, time.Now())
	var validationErr *domain.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestApplyTransition_SecondPendingItemRejected(t *testing.T) {
	sel := sealedSelection(domain.PayoutStatusPending)
	q := newMemoryTransitionQueries(sel)
	existing := itemFor(sel, domain.BatchItemStatusPending)
	q.items[existing.ID] = *existing

	_, err := applyTransition(context.Background(), q, TransitionCommand{
		SelectionID:    sel.ID,
		Steps:          []domain.PayoutStatus{domain.PayoutStatusEarned},
		IdempotencyKey: "second-claim",
		Item:           itemFor(sel, domain.BatchItemStatusPending),
	}, time.Now())
	if !errors.Is(err, ErrPendingItemExists) {
		t.Fatalf("expected ErrPendingItemExists, got %v", err)
	}
}

func TestApplyTransition_RequiresIdempotencyKey(t *testing.T) {
	sel := sealedSelection(domain.PayoutStatusPending)
	q := newMemoryTransitionQueries(sel)

	_, err := applyTransition(context.Background(), q, TransitionCommand{
		SelectionID: sel.ID,
		Steps:       []domain.PayoutStatus{domain.PayoutStatusEarned},
	}, time.Now())
	var validationErr *domain.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestApplyTransition_RetryBudget(t *testing.T) {
	tests := []struct {
		name     string
		earlier  int
		budget   int
		want     domain.PayoutStatus
		wantHops int
	}{
		{name: "budget left", earlier: 0, budget: 3, want: domain.PayoutStatusPending, wantHops: 2},
		{name: "last attempt", earlier: 2, budget: 3, want: domain.PayoutStatusFailed, wantHops: 1},
		{name: "single attempt budget", earlier: 0, budget: 1, want: domain.PayoutStatusFailed, wantHops: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := sealedSelection(domain.PayoutStatusEarned)
			q := newMemoryTransitionQueries(sel)
			for i := 0; i < tt.earlier; i++ {
				old := itemFor(sel, domain.BatchItemStatusFailed)
				q.items[old.ID] = *old
			}
			item := itemFor(sel, domain.BatchItemStatusFailed)

			result, err := applyTransition(context.Background(), q, TransitionCommand{
				SelectionID:    sel.ID,
				Steps:          []domain.PayoutStatus{domain.PayoutStatusFailed, domain.PayoutStatusPending},
				IdempotencyKey: item.ID.String() + ":failed",
				Item:           item,
				RetryBudget:    tt.budget,
			}, time.Now())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Selection.PayoutStatus != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, result.Selection.PayoutStatus)
			}
			if len(q.history) != tt.wantHops {
				t.Fatalf("expected %d history rows, got %d", tt.wantHops, len(q.history))
			}
		})
	}
}

func TestApplyTransition_RepeatedFailureOutcomeReplays(t *testing.T) {
	sel := sealedSelection(domain.PayoutStatusEarned)
	q := newMemoryTransitionQueries(sel)
	earlier := itemFor(sel, domain.BatchItemStatusFailed)
	q.items[earlier.ID] = *earlier
	item := itemFor(sel, domain.BatchItemStatusFailed)

	cmd := TransitionCommand{
		SelectionID:    sel.ID,
		Steps:          []domain.PayoutStatus{domain.PayoutStatusFailed, domain.PayoutStatusPending},
		IdempotencyKey: item.ID.String() + ":failed",
		Item:           item,
		RetryBudget:    2,
	}

	if _, err := applyTransition(context.Background(), q, cmd, time.Now()); err != nil {
		t.Fatalf("first outcome failed: %v", err)
	}
	// The second caller sees two failed items now but must still replay.
	second, err := applyTransition(context.Background(), q, cmd, time.Now())
	if err != nil {
		t.Fatalf("expected replay, got %v", err)
	}
	if !second.Replayed {
		t.Fatal("expected the repeated outcome to be a replay")
	}
	if q.selections[sel.ID].PayoutStatus != domain.PayoutStatusFailed {
		t.Fatalf("expected failed, got %s", q.selections[sel.ID].PayoutStatus)
	}
}
