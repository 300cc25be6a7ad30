package domain

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CycleSetting is one reward period.
type CycleSetting struct {
	ID                   uuid.UUID `json:"id"`
	Name                 string    `json:"name"`
	StartDate            time.Time `json:"startDate"`
	EndDate              time.Time `json:"endDate"`
	RewardPoolPercentage int       `json:"rewardPoolPercentage"`
	MinimumPoolCents     int64     `json:"minimumPoolCents"`
	IsActive             bool      `json:"isActive"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// Validate checks the fields an administrator supplies when creating a cycle.
func (c CycleSetting) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return &ValidationError{Field: "name", Message: "is required"}
	}
	if c.StartDate.IsZero() || c.EndDate.IsZero() {
		return &ValidationError{Field: "startDate", Message: "start and end dates are required"}
	}
	if !c.EndDate.After(c.StartDate) {
		return &ValidationError{Field: "endDate", Message: "must be after startDate"}
	}
	if c.RewardPoolPercentage < 0 || c.RewardPoolPercentage > 100 {
		return &ValidationError{Field: "rewardPoolPercentage", Message: "must be between 0 and 100"}
	}
	if c.MinimumPoolCents < 0 {
		return &ValidationError{Field: "minimumPoolCents", Message: "must not be negative"}
	}
	return nil
}

// Tier is a rank bucket derived from relative point standing within a cycle.
type Tier string

const (
	TierOne   Tier = "tier1"
	TierTwo   Tier = "tier2"
	TierThree Tier = "tier3"
)

// ParseTier accepts "tier1", "TIER_1", "Tier 1" and bare "1".
func ParseTier(raw string) (Tier, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.NewReplacer("_", "", "-", "", " ", "").Replace(normalized)
	normalized = strings.TrimPrefix(normalized, "tier")
	switch normalized {
	case "1":
		return TierOne, nil
	case "2":
		return TierTwo, nil
	case "3":
		return TierThree, nil
	}
	return "", &ValidationError{Field: "tier", Message: "unknown tier " + strings.TrimSpace(raw)}
}

// TierShares maps each tier to its percentage of the cycle pool.
type TierShares map[Tier]int

// DefaultTierShares splits the pool 50/35/15 across the three tiers.
func DefaultTierShares() TierShares {
	return TierShares{TierOne: 50, TierTwo: 35, TierThree: 15}
}

// ParseTierShares reads "tier1:50,tier2:35,tier3:15".
func ParseTierShares(raw string) (TierShares, error) {
	shares := TierShares{}
	total := 0
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, ":")
		if !ok {
			return nil, &ValidationError{Field: "tierShares", Message: "expected tier:percent pairs"}
		}
		tier, err := ParseTier(name)
		if err != nil {
			return nil, err
		}
		pct, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || pct < 0 {
			return nil, &ValidationError{Field: "tierShares", Message: "invalid percentage for " + string(tier)}
		}
		shares[tier] = pct
		total += pct
	}
	if len(shares) == 0 {
		return nil, &ValidationError{Field: "tierShares", Message: "no tiers configured"}
	}
	if total > 100 {
		return nil, &ValidationError{Field: "tierShares", Message: "shares exceed 100 percent"}
	}
	return shares, nil
}

// CyclePool computes the reward pool for a cycle from subscription revenue,
// honouring the minimum pool guarantee. All values are minor units.
func CyclePool(revenueCents int64, percentage int, minimumCents int64) int64 {
	if revenueCents < 0 {
		revenueCents = 0
	}
	pool := revenueCents * int64(percentage) / 100
	if pool < minimumCents {
		return minimumCents
	}
	return pool
}

// AllocateRewards sets RewardAmount on every selection. Each tier receives its
// share of the pool split evenly between its members; the integer remainder
// goes one unit at a time to the highest point totals so a populated tier's
// allocation sums exactly to its share. Selections are returned in input order.
func AllocateRewards(pool int64, shares TierShares, selections []CycleWinnerSelection) []CycleWinnerSelection {
	out := make([]CycleWinnerSelection, len(selections))
	copy(out, selections)

	byTier := map[Tier][]int{}
	for i := range out {
		out[i].RewardAmount = 0
		byTier[out[i].Tier] = append(byTier[out[i].Tier], i)
	}

	for tier, members := range byTier {
		share, ok := shares[tier]
		if !ok || share <= 0 || len(members) == 0 {
			continue
		}
		tierPool := pool * int64(share) / 100
		base := tierPool / int64(len(members))
		remainder := tierPool - base*int64(len(members))

		sort.SliceStable(members, func(a, b int) bool {
			return out[members[a]].PointsAtSelection > out[members[b]].PointsAtSelection
		})
		for rank, idx := range members {
			out[idx].RewardAmount = base
			if int64(rank) < remainder {
				out[idx].RewardAmount++
			}
		}
	}
	return out
}
