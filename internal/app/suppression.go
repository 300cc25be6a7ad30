/**
 * @description
 * Suppression list management and Postmark webhook handling. Hard bounces,
 * spam complaints and manual suppressions add the recipient to the list;
 * soft bounces and delivery events are ignored.
 */
package app

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/finboost/rewards-service/internal/domain"
	"github.com/finboost/rewards-service/internal/store"
	"github.com/sirupsen/logrus"
)

const postmarkProvider = "postmark"

// Webhook outcomes.
const (
	WebhookSuppressed   = "suppressed"
	WebhookUnsuppressed = "unsuppressed"
	WebhookIgnored      = "ignored"
	WebhookDuplicate    = "duplicate"
)

var suppressingBounceTypes = map[string]domain.SuppressionReason{
	"hardbounce":          domain.SuppressionBounce,
	"bademailaddress":     domain.SuppressionBounce,
	"blocked":             domain.SuppressionBounce,
	"manuallydeactivated": domain.SuppressionManual,
	"spamnotification":    domain.SuppressionComplaint,
}

// WebhookOutcome reports what a webhook event changed.
type WebhookOutcome struct {
	Action  string                   `json:"action"`
	EventID string                   `json:"eventId"`
	Email   string                   `json:"email,omitempty"`
	Reason  domain.SuppressionReason `json:"reason,omitempty"`
}

// SuppressionService maintains the suppression list.
type SuppressionService struct {
	repo          SuppressionRepository
	webhookSecret string
	log           logrus.FieldLogger
}

func NewSuppressionService(repo SuppressionRepository, webhookSecret string, log logrus.FieldLogger) *SuppressionService {
	return &SuppressionService{
		repo:          repo,
		webhookSecret: strings.TrimSpace(webhookSecret),
		log:           log.WithField("component", "suppression_service"),
	}
}

// Suppress adds or updates a suppression entry.
func (s *SuppressionService) Suppress(ctx context.Context, email, reason, source string) (*domain.EmailSuppression, error) {
	normalized := domain.NormalizeEmail(email)
	if normalized == "" {
		return nil, &domain.EmailError{Code: "empty"}
	}
	parsed, err := domain.ParseSuppressionReason(reason)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(source) == "" {
		source = "admin"
	}
	return s.repo.UpsertSuppression(ctx, domain.EmailSuppression{Email: normalized, Reason: parsed, Source: source})
}

// Unsuppress removes an address from the list.
func (s *SuppressionService) Unsuppress(ctx context.Context, email string) error {
	removed, err := s.repo.DeleteSuppression(ctx, domain.NormalizeEmail(email))
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("suppression for %s: %w", domain.NormalizeEmail(email), domain.ErrNotFound)
	}
	return nil
}

// VerifySignature checks the HMAC-SHA256 of the raw body against the header,
// accepting hex or base64. With no secret configured every request passes.
func (s *SuppressionService) VerifySignature(body []byte, header string) bool {
	if s.webhookSecret == "" {
		return true
	}
	header = strings.TrimSpace(header)
	header = strings.TrimPrefix(header, "sha256=")
	if header == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(s.webhookSecret))
	mac.Write(body)
	expected := mac.Sum(nil)

	if decoded, err := hex.DecodeString(header); err == nil && hmac.Equal(decoded, expected) {
		return true
	}
	if decoded, err := base64.StdEncoding.DecodeString(header); err == nil && hmac.Equal(decoded, expected) {
		return true
	}
	return false
}

// HandlePostmarkEvent applies one Postmark webhook payload. Field names are
// matched case-insensitively with underscores and dashes ignored.
func (s *SuppressionService) HandlePostmarkEvent(ctx context.Context, payload []byte) (*WebhookOutcome, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, &domain.ValidationError{Field: "body", Message: "invalid JSON payload"}
	}
	fields := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		fields[normalizeKey(k)] = v
	}

	recordType := strings.ToLower(stringField(fields, "recordtype"))
	eventID := postmarkEventID(fields, recordType, payload)
	outcome := &WebhookOutcome{Action: WebhookIgnored, EventID: eventID}

	email := domain.NormalizeEmail(stringField(fields, "email"))
	if email == "" {
		email = domain.NormalizeEmail(stringField(fields, "recipient"))
	}
	outcome.Email = email

	var (
		reason   domain.SuppressionReason
		suppress bool
		remove   bool
	)
	switch recordType {
	case "bounce":
		reason, suppress = suppressingBounceTypes[strings.ToLower(stringField(fields, "type"))]
	case "spamcomplaint":
		reason, suppress = domain.SuppressionComplaint, true
	case "subscriptionchange":
		if boolField(fields, "suppresssending") {
			reason, suppress = subscriptionReason(stringField(fields, "suppressionreason")), true
		} else {
			remove = true
		}
	}
	if (!suppress && !remove) || email == "" {
		return outcome, nil
	}

	change := store.WebhookChange{
		Entry:  domain.EmailSuppression{Email: email, Reason: reason, Source: postmarkProvider + ":" + recordType},
		Remove: remove,
	}
	applied, err := s.repo.ApplyWebhookChange(ctx, postmarkProvider, eventID, change)
	if err != nil {
		return nil, err
	}
	if !applied {
		outcome.Action = WebhookDuplicate
		return outcome, nil
	}

	logger := s.log.WithFields(logrus.Fields{"event_id": eventID, "record_type": recordType})
	if remove {
		outcome.Action = WebhookUnsuppressed
		logger.Info("suppression lifted by webhook")
		return outcome, nil
	}
	outcome.Action = WebhookSuppressed
	outcome.Reason = reason
	logger.WithField("reason", reason).Info("recipient suppressed by webhook")
	return outcome, nil
}

func subscriptionReason(raw string) domain.SuppressionReason {
	switch normalizeKey(raw) {
	case "hardbounce":
		return domain.SuppressionBounce
	case "spamcomplaint":
		return domain.SuppressionComplaint
	default:
		return domain.SuppressionManual
	}
}

func postmarkEventID(fields map[string]interface{}, recordType string, payload []byte) string {
	for _, key := range []string{"id", "messageid"} {
		if id := stringField(fields, key); id != "" {
			return recordType + ":" + id
		}
	}
	sum := sha256.Sum256(payload)
	return recordType + ":sha256:" + hex.EncodeToString(sum[:])
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.TrimSpace(key)))
}

func stringField(fields map[string]interface{}, key string) string {
	switch v := fields[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func boolField(fields map[string]interface{}, key string) bool {
	switch v := fields[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(v))
		return b
	default:
		return false
	}
}
