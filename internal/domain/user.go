package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// User is a platform member.
type User struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	Username      string    `json:"username"`
	FirstName     string    `json:"firstName,omitempty"`
	LastName      string    `json:"lastName,omitempty"`
	PasswordHash  string    `json:"-"`
	EmailVerified bool      `json:"emailVerified"`
	IsAdmin       bool      `json:"isAdmin"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// VerificationToken stores only the SHA-256 hash of the token sent by email.
type VerificationToken struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"userId"`
	TokenHash string     `json:"-"`
	ExpiresAt time.Time  `json:"expiresAt"`
	UsedAt    *time.Time `json:"usedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// SuppressionReason explains why an address is blocked.
type SuppressionReason string

const (
	SuppressionBounce    SuppressionReason = "bounce"
	SuppressionComplaint SuppressionReason = "complaint"
	SuppressionManual    SuppressionReason = "manual"
)

// ParseSuppressionReason defaults to manual for empty input.
func ParseSuppressionReason(raw string) (SuppressionReason, error) {
	switch SuppressionReason(strings.ToLower(strings.TrimSpace(raw))) {
	case "", SuppressionManual:
		return SuppressionManual, nil
	case SuppressionBounce:
		return SuppressionBounce, nil
	case SuppressionComplaint:
		return SuppressionComplaint, nil
	}
	return "", &ValidationError{Field: "reason", Message: "must be bounce, complaint or manual"}
}

// EmailSuppression is one suppressed recipient address.
type EmailSuppression struct {
	Email     string            `json:"email"`
	Reason    SuppressionReason `json:"reason"`
	Source    string            `json:"source"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
