package store

import (
	"context"

	"github.com/finboost/rewards-service/internal/domain"
	"github.com/google/uuid"
)

// GetRewardsHistory lists a user's winner selections, newest first. The amount
// is payout_final once sealed and the provisional reward amount before that.
// paid_at comes from the successful batch item, if any.
func (r *PostgresRepository) GetRewardsHistory(ctx context.Context, userID uuid.UUID) ([]domain.RewardHistoryItem, error) {
	rows, err := r.db.Query(ctx, `
		SELECT
			s.id,
			s.cycle_setting_id,
			c.name,
			s.tier,
			CASE WHEN s.is_sealed THEN s.payout_final ELSE s.reward_amount END,
			s.payout_status,
			s.selected_at,
			paid.paid_at
		FROM cycle_winner_selections s
		JOIN cycle_settings c ON c.id = s.cycle_setting_id
		LEFT JOIN LATERAL (
			SELECT i.paid_at
			FROM payout_batch_items i
			WHERE i.cycle_winner_selection_id = s.id AND i.status = 'success'
			ORDER BY i.paid_at DESC NULLS LAST
			LIMIT 1
		) paid ON TRUE
		WHERE s.user_id = $1
		ORDER BY s.selected_at DESC, s.id ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.RewardHistoryItem, 0)
	for rows.Next() {
		var item domain.RewardHistoryItem
		var tier, status string
		if err := rows.Scan(
			&item.SelectionID,
			&item.CycleSettingID,
			&item.CycleName,
			&tier,
			&item.AmountCents,
			&status,
			&item.SelectedAt,
			&item.PaidAt,
		); err != nil {
			return nil, err
		}
		item.Tier = domain.Tier(tier)
		item.PayoutStatus = domain.PayoutStatus(status)
		items = append(items, item)
	}
	return items, rows.Err()
}
