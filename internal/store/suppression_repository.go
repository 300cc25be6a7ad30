package store

import (
	"context"
	"errors"

	"github.com/finboost/rewards-service/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// queryExecer is satisfied by both the pool and a transaction.
type queryExecer interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// WebhookChange is the suppression list edit carried by one provider event.
// Remove lifts the suppression for Entry.Email instead of upserting it.
type WebhookChange struct {
	Entry  domain.EmailSuppression
	Remove bool
}

func (r *PostgresRepository) IsSuppressed(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM email_suppressions WHERE email = $1)`, domain.NormalizeEmail(email)).Scan(&exists)
	return exists, err
}

// UpsertSuppression records or refreshes a suppressed address.
func (r *PostgresRepository) UpsertSuppression(ctx context.Context, s domain.EmailSuppression) (*domain.EmailSuppression, error) {
	return upsertSuppression(ctx, r.db, s)
}

// DeleteSuppression removes an address; it reports whether a row existed.
func (r *PostgresRepository) DeleteSuppression(ctx context.Context, email string) (bool, error) {
	return deleteSuppression(ctx, r.db, email)
}

// ApplyWebhookChange records the provider event and applies its suppression
// edit in one transaction. It returns false, writing nothing, when the event
// was already applied.
func (r *PostgresRepository) ApplyWebhookChange(ctx context.Context, provider, eventID string, change WebhookChange) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var inserted string
	err = tx.QueryRow(ctx, `
		INSERT INTO webhook_events (provider, event_id)
		VALUES ($1, $2)
		ON CONFLICT (provider, event_id) DO NOTHING
		RETURNING event_id
	`, provider, eventID).Scan(&inserted)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if change.Remove {
		if _, err := deleteSuppression(ctx, tx, change.Entry.Email); err != nil {
			return false, err
		}
	} else if _, err := upsertSuppression(ctx, tx, change.Entry); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func upsertSuppression(ctx context.Context, q queryExecer, s domain.EmailSuppression) (*domain.EmailSuppression, error) {
	var out domain.EmailSuppression
	var reason string
	err := q.QueryRow(ctx, `
		INSERT INTO email_suppressions (email, reason, source)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE SET
			reason = EXCLUDED.reason,
			source = EXCLUDED.source,
			updated_at = NOW()
		RETURNING email, reason, source, created_at, updated_at
	`, domain.NormalizeEmail(s.Email), string(s.Reason), s.Source).Scan(&out.Email, &reason, &out.Source, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, err
	}
	out.Reason = domain.SuppressionReason(reason)
	return &out, nil
}

func deleteSuppression(ctx context.Context, q queryExecer, email string) (bool, error) {
	tag, err := q.Exec(ctx, `DELETE FROM email_suppressions WHERE email = $1`, domain.NormalizeEmail(email))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
