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

const userColumns = `id, email, username, COALESCE(first_name, ''), COALESCE(last_name, ''), password_hash,
	email_verified, is_admin, created_at, updated_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Username,
		&u.FirstName,
		&u.LastName,
		&u.PasswordHash,
		&u.EmailVerified,
		&u.IsAdmin,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// CreateUserWithVerificationToken inserts the user and its first verification
// token together. A duplicate email or username maps to domain.ErrDuplicateUser.
func (r *PostgresRepository) CreateUserWithVerificationToken(ctx context.Context, user domain.User, tokenHash string, expiresAt time.Time) (*domain.User, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	created, err := scanUser(tx.QueryRow(ctx, `
		INSERT INTO users (id, email, username, first_name, last_name, password_hash)
		VALUES (COALESCE($1, gen_random_uuid()), $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6)
		RETURNING `+userColumns,
		nullableUUID(user.ID), user.Email, user.Username, user.FirstName, user.LastName, user.PasswordHash,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w (%s)", domain.ErrDuplicateUser, uniqueConstraintName(err))
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO email_verification_tokens (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
	`, created.ID, tokenHash, expiresAt); err != nil {
		return nil, fmt.Errorf("insert verification token: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

func (r *PostgresRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email))
}

// ConsumeVerificationToken marks the token used and the owner verified. A token
// can be consumed exactly once.
func (r *PostgresRepository) ConsumeVerificationToken(ctx context.Context, tokenHash string, now time.Time) (*domain.User, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var token domain.VerificationToken
	err = tx.QueryRow(ctx, `
		SELECT id, user_id, token_hash, expires_at, used_at, created_at
		FROM email_verification_tokens
		WHERE token_hash = $1
		FOR UPDATE
	`, tokenHash).Scan(&token.ID, &token.UserID, &token.TokenHash, &token.ExpiresAt, &token.UsedAt, &token.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	if token.UsedAt != nil {
		return nil, domain.ErrTokenAlreadyUsed
	}
	if !now.Before(token.ExpiresAt) {
		return nil, domain.ErrTokenExpired
	}

	if _, err := tx.Exec(ctx, `UPDATE email_verification_tokens SET used_at = $2 WHERE id = $1`, token.ID, now); err != nil {
		return nil, err
	}
	user, err := scanUser(tx.QueryRow(ctx, `
		UPDATE users SET email_verified = TRUE, updated_at = $2
		WHERE id = $1
		RETURNING `+userColumns, token.UserID, now))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return user, nil
}

// DeleteExpiredVerificationTokens removes unused tokens past their expiry.
// Used tokens are kept so a replayed link still reports "already used".
func (r *PostgresRepository) DeleteExpiredVerificationTokens(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM email_verification_tokens
		WHERE used_at IS NULL AND expires_at < $1
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func nullableUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
