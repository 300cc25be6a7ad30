/**
 * @description
 * Account signup, email verification and password login.
 *
 * @dependencies
 * - golang.org/x/crypto/bcrypt: password hashing.
 * - github.com/go-playground/validator/v10: signup input validation.
 * - github.com/golang-jwt/jwt/v5: session tokens (see tokens.go).
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/finboost/rewards-service/internal/domain"
	"github.com/finboost/rewards-service/internal/store"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// AuthSettings configures signup and login.
type AuthSettings struct {
	AppBaseURL      string
	VerificationTTL time.Duration
}

// AuthService provides signup, verification and login.
type AuthService struct {
	repo       UserRepository
	gate       *EmailGate
	tokens     *TokenIssuer
	validate   *validator.Validate
	translator ut.Translator
	settings   AuthSettings
	log        logrus.FieldLogger
	now        func() time.Time
}

func NewAuthService(repo UserRepository, gate *EmailGate, tokens *TokenIssuer, settings AuthSettings, log logrus.FieldLogger) *AuthService {
	if settings.VerificationTTL <= 0 {
		settings.VerificationTTL = 24 * time.Hour
	}
	validate, translator := newValidator()
	return &AuthService{
		repo:       repo,
		gate:       gate,
		tokens:     tokens,
		validate:   validate,
		translator: translator,
		settings:   settings,
		log:        log.WithField("component", "auth_service"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SignupInput is the signup request body.
type SignupInput struct {
	Email     string `json:"email" validate:"notblank"`
	Username  string `json:"username" validate:"notblank,min=3,max=32,alphanum"`
	Password  string `json:"password" validate:"required,min=8,max=72"`
	FirstName string `json:"firstName" validate:"max=100"`
	LastName  string `json:"lastName" validate:"max=100"`
}

// SignupResult is returned on a successful signup. Email reports what the
// gate did with the verification message.
type SignupResult struct {
	User  *domain.User `json:"user"`
	Email SendResult   `json:"-"`
}

// LoginResult carries the session token.
type LoginResult struct {
	AccessToken string       `json:"accessToken"`
	TokenType   string       `json:"tokenType"`
	ExpiresAt   time.Time    `json:"expiresAt"`
	User        *domain.User `json:"user"`
}

// Signup creates an unverified account and emails a verification link. Only
// the SHA-256 of the link token is stored. A failed verification email does
// not fail the signup.
func (s *AuthService) Signup(ctx context.Context, input SignupInput) (*SignupResult, error) {
	input.Username = strings.TrimSpace(input.Username)
	if err := s.validate.Struct(input); err != nil {
		return nil, validationError(err, s.translator)
	}
	email, err := s.gate.ValidateAddress(input.Email)
	if err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	rawToken, tokenHash, err := newVerificationToken()
	if err != nil {
		return nil, fmt.Errorf("generate verification token: %w", err)
	}

	user, err := s.repo.CreateUserWithVerificationToken(ctx, domain.User{
		ID:           uuid.New(),
		Email:        email,
		Username:     input.Username,
		FirstName:    strings.TrimSpace(input.FirstName),
		LastName:     strings.TrimSpace(input.LastName),
		PasswordHash: string(hash),
	}, tokenHash, s.now().Add(s.settings.VerificationTTL))
	if err != nil {
		return nil, err
	}

	result := &SignupResult{User: user}
	msg, err := verificationEmail.render(user.Email, displayName(*user), "verification", verificationEmailData{
		Name:     displayName(*user),
		Link:     s.verificationLink(rawToken),
		TTLHours: int(s.settings.VerificationTTL.Hours()),
	})
	if err != nil {
		s.log.WithError(err).Error("failed to render verification email")
		return result, nil
	}
	sent, err := s.gate.Send(ctx, msg)
	if err != nil {
		s.log.WithError(err).WithField("user_id", user.ID).Warn("verification email not sent")
	}
	result.Email = sent
	return result, nil
}

// VerifyEmail consumes a verification token. A token verifies exactly once.
func (s *AuthService) VerifyEmail(ctx context.Context, rawToken string) (*domain.User, error) {
	if strings.TrimSpace(rawToken) == "" {
		return nil, &domain.ValidationError{Field: "token", Message: "is required"}
	}
	user, err := s.repo.ConsumeVerificationToken(ctx, hashVerificationToken(rawToken), s.now())
	if err != nil {
		return nil, err
	}
	s.log.WithField("user_id", user.ID).Info("email verified")
	return user, nil
}

// Login checks the password and issues a session token.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = domain.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, domain.ErrInvalidCredentials
	}
	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, domain.ErrInvalidCredentials
	}
	if !user.EmailVerified {
		return nil, domain.ErrEmailNotVerified
	}

	token, expiresAt, err := s.tokens.Issue(*user)
	if err != nil {
		return nil, err
	}
	return &LoginResult{AccessToken: token, TokenType: "Bearer", ExpiresAt: expiresAt, User: user}, nil
}

// CleanupExpiredTokens removes unused verification tokens past their expiry.
func (s *AuthService) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpiredVerificationTokens(ctx, s.now())
}

func (s *AuthService) verificationLink(rawToken string) string {
	base := strings.TrimRight(s.settings.AppBaseURL, "/")
	return base + "/api/auth/verify?token=" + url.QueryEscape(rawToken)
}

func displayName(user domain.User) string {
	if name := strings.TrimSpace(user.FirstName); name != "" {
		return name
	}
	return user.Username
}
