package app

import (
	"context"

	"github.com/finboost/rewards-service/internal/domain"
	"github.com/google/uuid"
)

// HistoryService serves a member's own reward history.
type HistoryService struct {
	repo HistoryRepository
}

func NewHistoryService(repo HistoryRepository) *HistoryService {
	return &HistoryService{repo: repo}
}

// RewardsHistory returns every selection of the user with paid and
// outstanding totals.
func (s *HistoryService) RewardsHistory(ctx context.Context, userID uuid.UUID) (*domain.RewardsHistory, error) {
	items, err := s.repo.GetRewardsHistory(ctx, userID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.RewardHistoryItem{}
	}
	return &domain.RewardsHistory{Summary: domain.SummarizeRewards(items), Items: items}, nil
}
