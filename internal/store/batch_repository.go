package store

import (
	"context"
	"errors"

	"github.com/finboost/rewards-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const batchColumns = `id, cycle_setting_id, label, status, provider_batch_id, item_count, total_amount, currency, created_at, updated_at`

const batchItemColumns = `id, batch_id, user_id, cycle_setting_id, cycle_winner_selection_id, amount, currency, status,
	failure_reason, recipient_email, provider_item_id, paid_at, created_at, updated_at`

func scanBatch(row pgx.Row) (*domain.PayoutBatch, error) {
	var b domain.PayoutBatch
	err := row.Scan(
		&b.ID,
		&b.CycleSettingID,
		&b.Label,
		&b.Status,
		&b.ProviderBatchID,
		&b.ItemCount,
		&b.TotalAmount,
		&b.Currency,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBatchNotFound
		}
		return nil, err
	}
	return &b, nil
}

func scanBatchItem(row pgx.Row) (*domain.PayoutBatchItem, error) {
	var item domain.PayoutBatchItem
	var status string
	err := row.Scan(
		&item.ID,
		&item.BatchID,
		&item.UserID,
		&item.CycleSettingID,
		&item.CycleWinnerSelectionID,
		&item.Amount,
		&item.Currency,
		&status,
		&item.FailureReason,
		&item.RecipientEmail,
		&item.ProviderItemID,
		&item.PaidAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBatchItemNotFound
		}
		return nil, err
	}
	item.Status = domain.BatchItemStatus(status)
	return &item, nil
}

func (r *PostgresRepository) CreateBatch(ctx context.Context, batch domain.PayoutBatch) (*domain.PayoutBatch, error) {
	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}
	if batch.Status == "" {
		batch.Status = domain.BatchStatusCreated
	}
	return scanBatch(r.db.QueryRow(ctx, `
		INSERT INTO payout_batches (id, cycle_setting_id, label, status, item_count, total_amount, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+batchColumns,
		batch.ID, batch.CycleSettingID, batch.Label, batch.Status, batch.ItemCount, batch.TotalAmount, batch.Currency,
	))
}

func (r *PostgresRepository) GetBatch(ctx context.Context, id uuid.UUID) (*domain.PayoutBatch, error) {
	return scanBatch(r.db.QueryRow(ctx, `SELECT `+batchColumns+` FROM payout_batches WHERE id = $1`, id))
}

// ListOpenBatches returns submitted or unconfirmed batches that still have
// unresolved items.
func (r *PostgresRepository) ListOpenBatches(ctx context.Context, limit int) ([]domain.PayoutBatch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+batchColumns+`
		FROM payout_batches
		WHERE status IN ('submitted', 'unconfirmed')
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := make([]domain.PayoutBatch, 0)
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, *b)
	}
	return batches, rows.Err()
}

// UpdateBatchStatus records the provider batch id (when known) and the batch
// totals alongside the new status.
func (r *PostgresRepository) UpdateBatchStatus(ctx context.Context, batch domain.PayoutBatch) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE payout_batches
		SET status = $2,
			provider_batch_id = COALESCE($3, provider_batch_id),
			item_count = $4,
			total_amount = $5,
			updated_at = NOW()
		WHERE id = $1
	`, batch.ID, batch.Status, batch.ProviderBatchID, batch.ItemCount, batch.TotalAmount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchNotFound
	}
	return nil
}

func (r *PostgresRepository) ListBatchItems(ctx context.Context, batchID uuid.UUID) ([]domain.PayoutBatchItem, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+batchItemColumns+`
		FROM payout_batch_items
		WHERE batch_id = $1
		ORDER BY created_at ASC, id ASC
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.PayoutBatchItem, 0)
	for rows.Next() {
		item, err := scanBatchItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// ListBatchItemRows returns every stored column of a batch's items as
// name/value maps, together with the column order reported by Postgres.
// Columns added to the table later are picked up without code changes.
func (r *PostgresRepository) ListBatchItemRows(ctx context.Context, batchID uuid.UUID) ([]string, []map[string]interface{}, error) {
	if _, err := r.GetBatch(ctx, batchID); err != nil {
		return nil, nil, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT *
		FROM payout_batch_items
		WHERE batch_id = $1
		ORDER BY created_at ASC, id ASC
	`, batchID)
	if err != nil {
		return nil, nil, err
	}

	fields := rows.FieldDescriptions()
	columns := make([]string, 0, len(fields))
	for _, f := range fields {
		columns = append(columns, f.Name)
	}

	records, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, nil, err
	}
	return columns, records, nil
}
