package domain

import (
	"time"

	"github.com/google/uuid"
)

// RewardsSummary aggregates a user's payouts across cycles.
type RewardsSummary struct {
	PaidTotalCents    int64 `json:"paidTotalCents"`
	PendingTotalCents int64 `json:"pendingTotalCents"`
	RewardsReceived   int   `json:"rewardsReceived"`
}

// RewardHistoryItem is one selection as shown to its owner.
type RewardHistoryItem struct {
	SelectionID    uuid.UUID    `json:"selectionId"`
	CycleSettingID uuid.UUID    `json:"cycleSettingId"`
	CycleName      string       `json:"cycleName"`
	Tier           Tier         `json:"tier"`
	AmountCents    int64        `json:"amountCents"`
	PayoutStatus   PayoutStatus `json:"payoutStatus"`
	SelectedAt     time.Time    `json:"selectedAt"`
	PaidAt         *time.Time   `json:"paidAt,omitempty"`
}

// RewardsHistory is the response body of the rewards history endpoint.
type RewardsHistory struct {
	Summary RewardsSummary      `json:"summary"`
	Items   []RewardHistoryItem `json:"items"`
}

// SummarizeRewards totals paid and outstanding amounts. Outstanding means
// pending or earned; draft selections are not yet sealed and failed ones are
// awaiting an operator retry.
func SummarizeRewards(items []RewardHistoryItem) RewardsSummary {
	var summary RewardsSummary
	for _, item := range items {
		switch item.PayoutStatus {
		case PayoutStatusPaid:
			summary.PaidTotalCents += item.AmountCents
			summary.RewardsReceived++
		case PayoutStatusPending, PayoutStatusEarned:
			summary.PendingTotalCents += item.AmountCents
		}
	}
	return summary
}
