package store

import (
	"context"
	"errors"
	"testing"

	"github.com/finboost/rewards-service/internal/domain"
	"github.com/google/uuid"
)

type memoryDraftQueries struct {
	rows map[uuid.UUID]*domain.CycleWinnerSelection // keyed by user id
}

func newMemoryDraftQueries() *memoryDraftQueries {
	return &memoryDraftQueries{rows: make(map[uuid.UUID]*domain.CycleWinnerSelection)}
}

func (q *memoryDraftQueries) upsertDraft(_ context.Context, sel domain.CycleWinnerSelection) (*domain.CycleWinnerSelection, error) {
	if existing, ok := q.rows[sel.UserID]; ok {
		if !existing.IsSealed {
			existing.Tier = sel.Tier
			existing.PointsAtSelection = sel.PointsAtSelection
			existing.RewardAmount = sel.RewardAmount
		}
		copied := *existing
		return &copied, nil
	}
	stored := sel
	stored.PayoutStatus = domain.PayoutStatusDraft
	q.rows[sel.UserID] = &stored
	copied := stored
	return &copied, nil
}

func (q *memoryDraftQueries) deleteStaleDrafts(_ context.Context, cycleID uuid.UUID, keepUsers []uuid.UUID) (int64, error) {
	keep := make(map[uuid.UUID]bool, len(keepUsers))
	for _, id := range keepUsers {
		keep[id] = true
	}
	var deleted int64
	for userID, row := range q.rows {
		if row.CycleSettingID == cycleID && !row.IsSealed && row.PayoutStatus == domain.PayoutStatusDraft && !keep[userID] {
			delete(q.rows, userID)
			deleted++
		}
	}
	return deleted, nil
}

// seal mirrors SealCycleSelections.
func (q *memoryDraftQueries) seal() (sealedUsers map[uuid.UUID]int64, total int64) {
	sealedUsers = make(map[uuid.UUID]int64)
	for userID, row := range q.rows {
		if !row.IsSealed {
			row.IsSealed = true
			row.PayoutFinal = row.RewardAmount
		}
		sealedUsers[userID] = row.PayoutFinal
		total += row.PayoutFinal
	}
	return sealedUsers, total
}

func draft(cycleID, userID uuid.UUID, amount int64) domain.CycleWinnerSelection {
	return domain.CycleWinnerSelection{
		ID:             uuid.New(),
		CycleSettingID: cycleID,
		UserID:         userID,
		Tier:           domain.TierOne,
		RewardAmount:   amount,
		PayoutStatus:   domain.PayoutStatusDraft,
	}
}

func TestReplaceDrafts_OnlyLatestWinnerListIsSealed(t *testing.T) {
	cycleID := uuid.New()
	userA, userB, userC := uuid.New(), uuid.New(), uuid.New()
	q := newMemoryDraftQueries()

	if _, err := replaceDrafts(context.Background(), q, cycleID, []domain.CycleWinnerSelection{
		draft(cycleID, userA, 3000),
		draft(cycleID, userB, 2000),
	}); err != nil {
		t.Fatalf("first winner list failed: %v", err)
	}

	stored, err := replaceDrafts(context.Background(), q, cycleID, []domain.CycleWinnerSelection{
		draft(cycleID, userB, 2500),
		draft(cycleID, userC, 2500),
	})
	if err != nil {
		t.Fatalf("second winner list failed: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("expected two stored selections, got %d", len(stored))
	}

	sealed, total := q.seal()
	if _, ok := sealed[userA]; ok {
		t.Fatal("dropped winner must not survive sealing")
	}
	if sealed[userB] != 2500 || sealed[userC] != 2500 {
		t.Fatalf("unexpected sealed amounts: %v", sealed)
	}
	if total != 5000 {
		t.Fatalf("expected sealed total to match the latest pool, got %d", total)
	}
}

func TestReplaceDrafts_KeepsSealedRows(t *testing.T) {
	cycleID := uuid.New()
	sealedUser, other := uuid.New(), uuid.New()
	q := newMemoryDraftQueries()

	locked := draft(cycleID, sealedUser, 4000)
	locked.IsSealed = true
	locked.PayoutFinal = 4000
	locked.PayoutStatus = domain.PayoutStatusPending
	q.rows[sealedUser] = &locked

	stored, err := replaceDrafts(context.Background(), q, cycleID, []domain.CycleWinnerSelection{
		draft(cycleID, other, 1000),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("expected one stored selection, got %d", len(stored))
	}
	if row, ok := q.rows[sealedUser]; !ok || row.PayoutFinal != 4000 {
		t.Fatalf("sealed selection must be left untouched, got %+v", row)
	}
}

func TestReplaceDrafts_RejectsForeignCycle(t *testing.T) {
	cycleID := uuid.New()
	q := newMemoryDraftQueries()

	_, err := replaceDrafts(context.Background(), q, cycleID, []domain.CycleWinnerSelection{
		draft(uuid.New(), uuid.New(), 100),
	})
	var validationErr *domain.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(q.rows) != 0 {
		t.Fatal("expected nothing to be written")
	}
}
