/**
 * @description
 * PostgreSQL data access layer for the rewards service. Every multi-row write
 * that must be atomic (payout transitions, cycle activation, signup) runs in a
 * single pgx transaction.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and connection pool.
 * - internal/domain: entity types and the error taxonomy.
 */
package store

import (
	"errors"
	"fmt"

	"github.com/finboost/rewards-service/internal/domain"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrCycleNotFound     = fmt.Errorf("cycle %w", domain.ErrNotFound)
	ErrSelectionNotFound = fmt.Errorf("winner selection %w", domain.ErrNotFound)
	ErrBatchNotFound     = fmt.Errorf("payout batch %w", domain.ErrNotFound)
	ErrBatchItemNotFound = fmt.Errorf("payout batch item %w", domain.ErrNotFound)
	ErrUserNotFound      = fmt.Errorf("user %w", domain.ErrNotFound)
	ErrTokenNotFound     = fmt.Errorf("verification token %w", domain.ErrNotFound)

	// ErrPendingItemExists guards against two in-flight attempts for one selection.
	ErrPendingItemExists = errors.New("selection already has a pending payout batch item")
)

// PostgresRepository implements every repository interface the app layer declares.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a repository backed by the given pool.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func uniqueConstraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

func isUndefinedTableError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}
