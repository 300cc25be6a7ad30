/**
 * @description
 * Single choke point for outbound email. Every message is normalized,
 * validated and checked against the suppression list before the configured
 * provider sees it.
 *
 * @dependencies
 * - github.com/go-playground/validator/v10: address format check.
 * - github.com/sirupsen/logrus: structured logging.
 */
package app

import (
	"context"
	"strings"

	"github.com/finboost/rewards-service/internal/domain"
	"github.com/finboost/rewards-service/pkg/mailer"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

const maxEmailLength = 254

// Gate result messages.
const (
	SendResultSent       = "sent"
	SendResultSuppressed = "suppressed"
)

var defaultDisposableDomains = []string{
	"mailinator.com",
	"yopmail.com",
	"guerrillamail.com",
	"10minutemail.com",
	"trashmail.com",
	"tempmail.com",
}

// Message is an outbound email before gating.
type Message struct {
	To            string
	ToName        string
	Subject       string
	TextBody      string
	HTMLBody      string
	Tag           string
	Transactional bool
}

// SendResult reports what the gate did with a message. Message is "sent",
// "suppressed" or "invalid-email:<code>".
type SendResult struct {
	Message   string `json:"message"`
	MessageID string `json:"messageId,omitempty"`
}

// Delivered reports whether the provider accepted the message.
func (r SendResult) Delivered() bool {
	return r.Message == SendResultSent
}

// EmailGate validates and filters every message before delivery.
type EmailGate struct {
	provider     mailer.Provider
	suppressions SuppressionChecker
	validate     *validator.Validate
	disposable   map[string]bool
	log          logrus.FieldLogger
}

// NewEmailGate builds a gate around the provider chosen at startup.
// extraDisposable extends the built-in disposable domain list.
func NewEmailGate(provider mailer.Provider, suppressions SuppressionChecker, extraDisposable []string, log logrus.FieldLogger) *EmailGate {
	validate, _ := newValidator()
	disposable := make(map[string]bool, len(defaultDisposableDomains)+len(extraDisposable))
	for _, d := range defaultDisposableDomains {
		disposable[d] = true
	}
	for _, d := range extraDisposable {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			disposable[d] = true
		}
	}
	return &EmailGate{
		provider:     provider,
		suppressions: suppressions,
		validate:     validate,
		disposable:   disposable,
		log:          log.WithField("component", "email_gate"),
	}
}

// ValidateAddress normalizes an address and returns an *domain.EmailError
// when it cannot be delivered to.
func (g *EmailGate) ValidateAddress(raw string) (string, error) {
	email := domain.NormalizeEmail(raw)
	switch {
	case email == "":
		return "", &domain.EmailError{Code: "empty"}
	case len(email) > maxEmailLength:
		return "", &domain.EmailError{Code: "too-long"}
	}
	if err := g.validate.Var(email, "email"); err != nil {
		return "", &domain.EmailError{Code: "format"}
	}
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return "", &domain.EmailError{Code: "format"}
	}
	if g.isDisposable(email[at+1:]) {
		return "", &domain.EmailError{Code: "disposable"}
	}
	return email, nil
}

// isDisposable matches the domain and every parent domain, so subdomains of a
// listed provider are rejected too.
func (g *EmailGate) isDisposable(host string) bool {
	for host != "" {
		if g.disposable[host] {
			return true
		}
		dot := strings.IndexByte(host, '.')
		if dot < 0 {
			return false
		}
		host = host[dot+1:]
	}
	return false
}

// Send gates and delivers one message. Invalid and suppressed recipients are
// reported in the result with a nil error; only a provider or lookup failure
// returns an error.
func (g *EmailGate) Send(ctx context.Context, msg Message) (SendResult, error) {
	email, err := g.ValidateAddress(msg.To)
	if err != nil {
		g.log.WithFields(logrus.Fields{"tag": msg.Tag, "reason": err.Error()}).Info("email rejected")
		return SendResult{Message: err.Error()}, nil
	}

	suppressed, err := g.suppressions.IsSuppressed(ctx, email)
	if err != nil {
		// Unknown suppression state: do not send.
		return SendResult{}, err
	}
	if suppressed {
		g.log.WithFields(logrus.Fields{"tag": msg.Tag}).Info("email suppressed")
		return SendResult{Message: SendResultSuppressed}, nil
	}

	id, err := g.provider.Send(ctx, mailer.Email{
		To:            email,
		ToName:        msg.ToName,
		Subject:       msg.Subject,
		TextBody:      msg.TextBody,
		HTMLBody:      msg.HTMLBody,
		Tag:           msg.Tag,
		Transactional: msg.Transactional,
	})
	if err != nil {
		return SendResult{}, &domain.ProviderError{Provider: g.provider.Name(), Op: "send email", Err: err}
	}

	g.log.WithFields(logrus.Fields{
		"tag":        msg.Tag,
		"provider":   g.provider.Name(),
		"message_id": id,
	}).Info("email sent")
	return SendResult{Message: SendResultSent, MessageID: id}, nil
}
