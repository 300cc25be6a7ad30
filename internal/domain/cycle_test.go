package domain

import (
	"testing"

	"github.com/google/uuid"
)

func TestCyclePool_AppliesMinimumGuarantee(t *testing.T) {
	if got := CyclePool(100_000, 50, 80_000); got != 80_000 {
		t.Fatalf("expected minimum pool 80000, got %d", got)
	}
	if got := CyclePool(1_000_000, 50, 80_000); got != 500_000 {
		t.Fatalf("expected percentage pool 500000, got %d", got)
	}
	if got := CyclePool(-10, 50, 0); got != 0 {
		t.Fatalf("expected negative revenue to clamp to zero, got %d", got)
	}
}

func TestAllocateRewards_SumsExactlyPerTier(t *testing.T) {
	selections := []CycleWinnerSelection{
		{ID: uuid.New(), Tier: TierOne, PointsAtSelection: 10},
		{ID: uuid.New(), Tier: TierOne, PointsAtSelection: 30},
		{ID: uuid.New(), Tier: TierOne, PointsAtSelection: 20},
		{ID: uuid.New(), Tier: TierTwo, PointsAtSelection: 5},
		{ID: uuid.New(), Tier: TierThree, PointsAtSelection: 1},
	}

	out := AllocateRewards(10_001, DefaultTierShares(), selections)
	if len(out) != len(selections) {
		t.Fatalf("expected %d selections, got %d", len(selections), len(out))
	}

	var tierOneTotal int64
	for i := 0; i < 3; i++ {
		if out[i].ID != selections[i].ID {
			t.Fatalf("expected input order to be preserved at index %d", i)
		}
		tierOneTotal += out[i].RewardAmount
	}
	if tierOneTotal != 5000 {
		t.Fatalf("expected tier1 allocation 5000, got %d", tierOneTotal)
	}
	// 5000 / 3 = 1666 remainder 2: the two highest point totals get the extra unit.
	if out[1].RewardAmount != 1667 || out[2].RewardAmount != 1667 || out[0].RewardAmount != 1666 {
		t.Fatalf("unexpected tier1 split: %d %d %d", out[0].RewardAmount, out[1].RewardAmount, out[2].RewardAmount)
	}
	if out[3].RewardAmount != 3500 {
		t.Fatalf("expected tier2 allocation 3500, got %d", out[3].RewardAmount)
	}
	if out[4].RewardAmount != 1500 {
		t.Fatalf("expected tier3 allocation 1500, got %d", out[4].RewardAmount)
	}
	if selections[0].RewardAmount != 0 {
		t.Fatal("expected input slice to be left untouched")
	}
}

func TestParseTierShares(t *testing.T) {
	shares, err := ParseTierShares("tier1:60, TIER_2:30,3:10")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if shares[TierOne] != 60 || shares[TierTwo] != 30 || shares[TierThree] != 10 {
		t.Fatalf("unexpected shares: %+v", shares)
	}

	if _, err := ParseTierShares("tier1:80,tier2:30"); err == nil {
		t.Fatal("expected shares above 100 to be rejected")
	}
	if _, err := ParseTierShares("tier9:10"); err == nil {
		t.Fatal("expected unknown tier to be rejected")
	}
}

func TestParseTier(t *testing.T) {
	tests := []struct {
		input string
		want  Tier
	}{
		{"tier1", TierOne},
		{"TIER_2", TierTwo},
		{" Tier 3 ", TierThree},
		{"1", TierOne},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseTier(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
