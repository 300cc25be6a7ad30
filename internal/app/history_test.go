package app

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/finboost/rewards-service/internal/domain"
	"github.com/google/uuid"
)

type historyRepoStub struct {
	items []domain.RewardHistoryItem
}

func (s historyRepoStub) GetRewardsHistory(ctx context.Context, userID uuid.UUID) ([]domain.RewardHistoryItem, error) {
	return s.items, nil
}

func TestRewardsHistory_Summary(t *testing.T) {
	svc := NewHistoryService(historyRepoStub{items: []domain.RewardHistoryItem{
		{AmountCents: 1000, PayoutStatus: domain.PayoutStatusPaid},
		{AmountCents: 500, PayoutStatus: domain.PayoutStatusEarned},
		{AmountCents: 250, PayoutStatus: domain.PayoutStatusPending},
		{AmountCents: 999, PayoutStatus: domain.PayoutStatusDraft},
	}})

	history, err := svc.RewardsHistory(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("RewardsHistory returned error: %v", err)
	}
	want := domain.RewardsSummary{PaidTotalCents: 1000, PendingTotalCents: 750, RewardsReceived: 1}
	if history.Summary != want {
		t.Fatalf("unexpected summary %+v", history.Summary)
	}
}

func TestRewardsHistory_EmptyEncodesItemsArray(t *testing.T) {
	history, err := NewHistoryService(historyRepoStub{}).RewardsHistory(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("RewardsHistory returned error: %v", err)
	}
	body, _ := json.Marshal(history)
	want := `{"summary":{"paidTotalCents":0,"pendingTotalCents":0,"rewardsReceived":0},"items":[]}`
	if string(body) != want {
		t.Fatalf("unexpected body %s", body)
	}
}
