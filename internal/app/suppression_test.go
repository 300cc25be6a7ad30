package app

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/finboost/rewards-service/internal/domain"
	"github.com/finboost/rewards-service/internal/store"
)

type suppressionRepoStub struct {
	entries   map[string]domain.EmailSuppression
	events    map[string]bool
	changeErr error
}

func newSuppressionRepoStub() *suppressionRepoStub {
	return &suppressionRepoStub{entries: map[string]domain.EmailSuppression{}, events: map[string]bool{}}
}

func (s *suppressionRepoStub) IsSuppressed(ctx context.Context, email string) (bool, error) {
	_, ok := s.entries[email]
	return ok, nil
}

func (s *suppressionRepoStub) UpsertSuppression(ctx context.Context, entry domain.EmailSuppression) (*domain.EmailSuppression, error) {
	s.entries[entry.Email] = entry
	return &entry, nil
}

func (s *suppressionRepoStub) DeleteSuppression(ctx context.Context, email string) (bool, error) {
	_, ok := s.entries[email]
	delete(s.entries, email)
	return ok, nil
}

// ApplyWebhookChange commits the event and the edit together or not at all.
func (s *suppressionRepoStub) ApplyWebhookChange(ctx context.Context, provider, eventID string, change store.WebhookChange) (bool, error) {
	key := provider + "/" + eventID
	if s.events[key] {
		return false, nil
	}
	if s.changeErr != nil {
		return false, s.changeErr
	}
	s.events[key] = true
	if change.Remove {
		delete(s.entries, change.Entry.Email)
	} else {
		s.entries[change.Entry.Email] = change.Entry
	}
	return true, nil
}

func TestHandlePostmarkEvent(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		action  string
		reason  domain.SuppressionReason
	}{
		{
			name:    "hard bounce",
			payload: `{"RecordType":"Bounce","ID":42,"Type":"HardBounce","Email":"Ada@Example.com"}`,
			action:  WebhookSuppressed,
			reason:  domain.SuppressionBounce,
		},
		{
			name:    "soft bounce ignored",
			payload: `{"RecordType":"Bounce","ID":43,"Type":"SoftBounce","Email":"ada@example.com"}`,
			action:  WebhookIgnored,
		},
		{
			name:    "spam complaint snake case",
			payload: `{"record_type":"SpamComplaint","id":44,"email":"ada@example.com"}`,
			action:  WebhookSuppressed,
			reason:  domain.SuppressionComplaint,
		},
		{
			name:    "manual suppression",
			payload: `{"RecordType":"SubscriptionChange","MessageID":"m-1","Recipient":"ada@example.com","SuppressSending":true,"SuppressionReason":"ManualSuppression"}`,
			action:  WebhookSuppressed,
			reason:  domain.SuppressionManual,
		},
		{
			name:    "delivery ignored",
			payload: `{"RecordType":"Delivery","MessageID":"m-2","Recipient":"ada@example.com"}`,
			action:  WebhookIgnored,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newSuppressionRepoStub()
			svc := NewSuppressionService(repo, "", discardLogger())

			outcome, err := svc.HandlePostmarkEvent(context.Background(), []byte(tt.payload))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if outcome.Action != tt.action {
				t.Fatalf("expected %s, got %s", tt.action, outcome.Action)
			}
			entry, suppressed := repo.entries["ada@example.com"]
			if (tt.action == WebhookSuppressed) != suppressed {
				t.Fatalf("unexpected suppression state %v", suppressed)
			}
			if suppressed && entry.Reason != tt.reason {
				t.Fatalf("expected reason %s, got %s", tt.reason, entry.Reason)
			}
		})
	}
}

func TestHandlePostmarkEvent_DuplicateAndReactivate(t *testing.T) {
	repo := newSuppressionRepoStub()
	svc := NewSuppressionService(repo, "", discardLogger())
	ctx := context.Background()
	bounce := []byte(`{"RecordType":"Bounce","ID":7,"Type":"HardBounce","Email":"ada@example.com"}`)

	if _, err := svc.HandlePostmarkEvent(ctx, bounce); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	outcome, err := svc.HandlePostmarkEvent(ctx, bounce)
	if err != nil || outcome.Action != WebhookDuplicate {
		t.Fatalf("expected duplicate, got %+v %v", outcome, err)
	}

	reactivate := []byte(`{"RecordType":"SubscriptionChange","Recipient":"ada@example.com","SuppressSending":false}`)
	outcome, err = svc.HandlePostmarkEvent(ctx, reactivate)
	if err != nil || outcome.Action != WebhookUnsuppressed {
		t.Fatalf("expected unsuppressed, got %+v %v", outcome, err)
	}
	if len(repo.entries) != 0 {
		t.Fatal("expected suppression removed")
	}
}

func TestHandlePostmarkEvent_FailedWriteIsRetried(t *testing.T) {
	repo := newSuppressionRepoStub()
	repo.changeErr = errors.New("connection lost")
	svc := NewSuppressionService(repo, "", discardLogger())
	ctx := context.Background()
	bounce := []byte(`{"RecordType":"Bounce","ID":9,"Type":"HardBounce","Email":"ada@example.com"}`)

	if _, err := svc.HandlePostmarkEvent(ctx, bounce); err == nil {
		t.Fatal("expected the write failure to be returned")
	}

	repo.changeErr = nil
	outcome, err := svc.HandlePostmarkEvent(ctx, bounce)
	if err != nil {
		t.Fatalf("unexpected error on redelivery: %v", err)
	}
	if outcome.Action != WebhookSuppressed {
		t.Fatalf("expected redelivery to suppress, got %s", outcome.Action)
	}
	if _, ok := repo.entries["ada@example.com"]; !ok {
		t.Fatal("expected the address to be suppressed after redelivery")
	}
}

func TestHandlePostmarkEvent_InvalidJSON(t *testing.T) {
	svc := NewSuppressionService(newSuppressionRepoStub(), "", discardLogger())
	_, err := svc.HandlePostmarkEvent(context.Background(), []byte("{not json"))
	var validationErr *domain.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"RecordType":"Bounce"}`)
	mac := hmac.New(sha256.New, []byte("shh"))
	mac.Write(body)
	sum := mac.Sum(nil)

	svc := NewSuppressionService(newSuppressionRepoStub(), "shh", discardLogger())
	tests := []struct {
		name   string
		header string
		want   bool
	}{
		{name: "hex", header: hex.EncodeToString(sum), want: true},
		{name: "base64", header: base64.StdEncoding.EncodeToString(sum), want: true},
		{name: "prefixed", header: "sha256=" + hex.EncodeToString(sum), want: true},
		{name: "missing", header: "", want: false},
		{name: "wrong", header: hex.EncodeToString([]byte("nope")), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := svc.VerifySignature(body, tt.header); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}

	open := NewSuppressionService(newSuppressionRepoStub(), "", discardLogger())
	if !open.VerifySignature(body, "") {
		t.Fatal("expected every request to pass without a secret")
	}
}

func TestSuppressionService_Admin(t *testing.T) {
	repo := newSuppressionRepoStub()
	svc := NewSuppressionService(repo, "", discardLogger())
	ctx := context.Background()

	entry, err := svc.Suppress(ctx, " Ada@Example.com ", "", "")
	if err != nil {
		t.Fatalf("Suppress returned error: %v", err)
	}
	if entry.Email != "ada@example.com" || entry.Reason != domain.SuppressionManual || entry.Source != "admin" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if _, err := svc.Suppress(ctx, "ada@example.com", "nonsense", ""); err == nil {
		t.Fatal("expected invalid reason error")
	}
	if err := svc.Unsuppress(ctx, "ADA@example.com"); err != nil {
		t.Fatalf("Unsuppress returned error: %v", err)
	}
	if err := svc.Unsuppress(ctx, "ada@example.com"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
