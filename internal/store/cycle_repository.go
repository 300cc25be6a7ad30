package store

import (
	"context"
	"errors"

	"github.com/finboost/rewards-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const cycleColumns = `id, name, start_date, end_date, reward_pool_percentage, minimum_pool_cents, is_active, created_at, updated_at`

func scanCycle(row pgx.Row) (*domain.CycleSetting, error) {
	var c domain.CycleSetting
	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.StartDate,
		&c.EndDate,
		&c.RewardPoolPercentage,
		&c.MinimumPoolCents,
		&c.IsActive,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCycleNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *PostgresRepository) CreateCycle(ctx context.Context, c domain.CycleSetting) (*domain.CycleSetting, error) {
	return scanCycle(r.db.QueryRow(ctx, `
		INSERT INTO cycle_settings (name, start_date, end_date, reward_pool_percentage, minimum_pool_cents)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+cycleColumns,
		c.Name, c.StartDate, c.EndDate, c.RewardPoolPercentage, c.MinimumPoolCents,
	))
}

func (r *PostgresRepository) GetCycle(ctx context.Context, id uuid.UUID) (*domain.CycleSetting, error) {
	return scanCycle(r.db.QueryRow(ctx, `SELECT `+cycleColumns+` FROM cycle_settings WHERE id = $1`, id))
}

func (r *PostgresRepository) GetActiveCycle(ctx context.Context) (*domain.CycleSetting, error) {
	return scanCycle(r.db.QueryRow(ctx, `SELECT `+cycleColumns+` FROM cycle_settings WHERE is_active = TRUE LIMIT 1`))
}

func (r *PostgresRepository) ListCycles(ctx context.Context) ([]domain.CycleSetting, error) {
	rows, err := r.db.Query(ctx, `SELECT `+cycleColumns+` FROM cycle_settings ORDER BY start_date DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cycles := make([]domain.CycleSetting, 0)
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		cycles = append(cycles, *c)
	}
	return cycles, rows.Err()
}

// ActivateCycle deactivates every other cycle and activates the given one in a
// single transaction, keeping at most one active row.
func (r *PostgresRepository) ActivateCycle(ctx context.Context, id uuid.UUID) (*domain.CycleSetting, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Serialize concurrent activations on the target row.
	if _, err := scanCycle(tx.QueryRow(ctx, `SELECT `+cycleColumns+` FROM cycle_settings WHERE id = $1 FOR UPDATE`, id)); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE cycle_settings SET is_active = FALSE, updated_at = NOW()
		WHERE is_active = TRUE AND id <> $1
	`, id); err != nil {
		return nil, err
	}
	cycle, err := scanCycle(tx.QueryRow(ctx, `
		UPDATE cycle_settings SET is_active = TRUE, updated_at = NOW()
		WHERE id = $1
		RETURNING `+cycleColumns, id))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return cycle, nil
}

// CycleRevenueCents sums verified subscriber contributions recorded for the
// cycle window. Missing revenue tables count as zero revenue.
func (r *PostgresRepository) CycleRevenueCents(ctx context.Context, cycleID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(c.amount_cents), 0)
		FROM cycle_contributions c
		WHERE c.cycle_setting_id = $1
	`, cycleID).Scan(&total)
	if err != nil {
		if isUndefinedTableError(err) {
			return 0, nil
		}
		return 0, err
	}
	return total, nil
}
