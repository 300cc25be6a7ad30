package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/finboost/rewards-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const selectionColumns = `id, cycle_setting_id, user_id, tier, points_at_selection, reward_amount, payout_final,
	payout_status, status_changed_at, is_sealed, sealed_at, selected_at, created_at, updated_at`

func scanSelection(row pgx.Row) (*domain.CycleWinnerSelection, error) {
	var sel domain.CycleWinnerSelection
	var tier, status string
	err := row.Scan(
		&sel.ID,
		&sel.CycleSettingID,
		&sel.UserID,
		&tier,
		&sel.PointsAtSelection,
		&sel.RewardAmount,
		&sel.PayoutFinal,
		&status,
		&sel.StatusChangedAt,
		&sel.IsSealed,
		&sel.SealedAt,
		&sel.SelectedAt,
		&sel.CreatedAt,
		&sel.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSelectionNotFound
		}
		return nil, err
	}
	sel.Tier = domain.Tier(tier)
	sel.PayoutStatus = domain.PayoutStatus(status)
	return &sel, nil
}

func collectSelections(rows pgx.Rows) ([]domain.CycleWinnerSelection, error) {
	defer rows.Close()

	selections := make([]domain.CycleWinnerSelection, 0)
	for rows.Next() {
		sel, err := scanSelection(rows)
		if err != nil {
			return nil, err
		}
		selections = append(selections, *sel)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return selections, nil
}

// draftQueries is the transactional surface replaceDrafts runs against.
type draftQueries interface {
	upsertDraft(ctx context.Context, sel domain.CycleWinnerSelection) (*domain.CycleWinnerSelection, error)
	deleteStaleDrafts(ctx context.Context, cycleID uuid.UUID, keepUsers []uuid.UUID) (int64, error)
}

// replaceDrafts makes the unsealed drafts of a cycle match the winner list.
// Sealed rows keep their values; unsealed drafts for users no longer in the
// list are removed so sealing cannot pay them.
func replaceDrafts(ctx context.Context, q draftQueries, cycleID uuid.UUID, selections []domain.CycleWinnerSelection) ([]domain.CycleWinnerSelection, error) {
	keep := make([]uuid.UUID, 0, len(selections))
	out := make([]domain.CycleWinnerSelection, 0, len(selections))
	for _, sel := range selections {
		if sel.CycleSettingID != cycleID {
			return nil, &domain.ValidationError{Field: "cycleSettingId", Message: "selection belongs to a different cycle"}
		}
		saved, err := q.upsertDraft(ctx, sel)
		if err != nil {
			return nil, fmt.Errorf("upsert winner selection: %w", err)
		}
		keep = append(keep, sel.UserID)
		out = append(out, *saved)
	}

	if _, err := q.deleteStaleDrafts(ctx, cycleID, keep); err != nil {
		return nil, fmt.Errorf("remove replaced winner selections: %w", err)
	}
	return out, nil
}

// ReplaceDraftSelections writes the winner list of a cycle in one transaction.
func (r *PostgresRepository) ReplaceDraftSelections(ctx context.Context, cycleID uuid.UUID, selections []domain.CycleWinnerSelection) ([]domain.CycleWinnerSelection, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	out, err := replaceDrafts(ctx, pgxDraftQueries{tx: tx}, cycleID, selections)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

type pgxDraftQueries struct {
	tx pgx.Tx
}

func (q pgxDraftQueries) upsertDraft(ctx context.Context, sel domain.CycleWinnerSelection) (*domain.CycleWinnerSelection, error) {
	saved, err := scanSelection(q.tx.QueryRow(ctx, `
		INSERT INTO cycle_winner_selections (cycle_setting_id, user_id, tier, points_at_selection, reward_amount)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (cycle_setting_id, user_id) DO UPDATE SET
			tier = EXCLUDED.tier,
			points_at_selection = EXCLUDED.points_at_selection,
			reward_amount = EXCLUDED.reward_amount,
			updated_at = NOW()
		WHERE cycle_winner_selections.is_sealed = FALSE
		RETURNING `+selectionColumns,
		sel.CycleSettingID, sel.UserID, string(sel.Tier), sel.PointsAtSelection, sel.RewardAmount,
	))
	if errors.Is(err, ErrSelectionNotFound) {
		// Sealed row: the conflict update was skipped, so return it unchanged.
		return scanSelection(q.tx.QueryRow(ctx,
			`SELECT `+selectionColumns+` FROM cycle_winner_selections WHERE cycle_setting_id = $1 AND user_id = $2`,
			sel.CycleSettingID, sel.UserID,
		))
	}
	return saved, err
}

func (q pgxDraftQueries) deleteStaleDrafts(ctx context.Context, cycleID uuid.UUID, keepUsers []uuid.UUID) (int64, error) {
	tag, err := q.tx.Exec(ctx, `
		DELETE FROM cycle_winner_selections
		WHERE cycle_setting_id = $1
			AND is_sealed = FALSE
			AND payout_status = 'draft'
			AND NOT (user_id = ANY($2))
	`, cycleID, keepUsers)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) GetSelection(ctx context.Context, id uuid.UUID) (*domain.CycleWinnerSelection, error) {
	return scanSelection(r.db.QueryRow(ctx, `SELECT `+selectionColumns+` FROM cycle_winner_selections WHERE id = $1`, id))
}

func (r *PostgresRepository) ListSelectionsByCycle(ctx context.Context, cycleID uuid.UUID) ([]domain.CycleWinnerSelection, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+selectionColumns+`
		FROM cycle_winner_selections
		WHERE cycle_setting_id = $1
		ORDER BY tier ASC, points_at_selection DESC, id ASC
	`, cycleID)
	if err != nil {
		return nil, err
	}
	return collectSelections(rows)
}

func (r *PostgresRepository) ListSelectionsByStatus(ctx context.Context, cycleID uuid.UUID, status domain.PayoutStatus) ([]domain.CycleWinnerSelection, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+selectionColumns+`
		FROM cycle_winner_selections
		WHERE cycle_setting_id = $1 AND payout_status = $2
		ORDER BY selected_at ASC, id ASC
	`, cycleID, string(status))
	if err != nil {
		return nil, err
	}
	return collectSelections(rows)
}

// UpdateSelectionReward applies a reward adjustment under a row lock so a
// concurrent seal cannot slip between the check and the write.
func (r *PostgresRepository) UpdateSelectionReward(ctx context.Context, id uuid.UUID, update domain.RewardUpdate) (*domain.CycleWinnerSelection, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	sel, err := scanSelection(tx.QueryRow(ctx, `SELECT `+selectionColumns+` FROM cycle_winner_selections WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if err := sel.ApplyRewardUpdate(update); err != nil {
		return nil, err
	}

	updated, err := scanSelection(tx.QueryRow(ctx, `
		UPDATE cycle_winner_selections
		SET tier = $2, points_at_selection = $3, reward_amount = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING `+selectionColumns,
		id, string(sel.Tier), sel.PointsAtSelection, sel.RewardAmount,
	))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

// SealCycleSelections freezes every unsealed selection of a cycle and copies
// the reward amount into payout_final. It returns the rows sealed by this call.
func (r *PostgresRepository) SealCycleSelections(ctx context.Context, cycleID uuid.UUID, at time.Time) ([]domain.CycleWinnerSelection, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE cycle_winner_selections
		SET is_sealed = TRUE, sealed_at = $2, payout_final = reward_amount, updated_at = $2
		WHERE cycle_setting_id = $1 AND is_sealed = FALSE
		RETURNING `+selectionColumns,
		cycleID, at,
	)
	if err != nil {
		return nil, err
	}
	return collectSelections(rows)
}

// HasPendingItem reports whether a selection already has an in-flight attempt.
func (r *PostgresRepository) HasPendingItem(ctx context.Context, selectionID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM payout_batch_items
			WHERE cycle_winner_selection_id = $1 AND status = 'pending'
		)
	`, selectionID).Scan(&exists)
	return exists, err
}
