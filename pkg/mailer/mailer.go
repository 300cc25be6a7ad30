/**
 * @description
 * Outbound email adapters. Each adapter delivers one already-rendered message
 * and returns the provider's message id. Address validation and suppression
 * checks happen before a message reaches this package.
 *
 * @dependencies
 * - github.com/sendgrid/sendgrid-go: SendGrid v3 mail API.
 * - github.com/sirupsen/logrus: console delivery and warning logs.
 */
package mailer

import (
	"context"
	"net/mail"
)

// Email is a rendered message ready for delivery.
type Email struct {
	To       string
	ToName   string
	Subject  string
	TextBody string
	HTMLBody string
	// Tag groups messages in the provider dashboard (e.g. "verification").
	Tag string
	// Transactional marks account and payout mail as opposed to marketing.
	Transactional bool
}

// Provider delivers a message through one email service.
type Provider interface {
	Name() string
	Send(ctx context.Context, email Email) (messageID string, err error)
}

// Sender identifies the From address used by every adapter.
type Sender struct {
	Name    string
	Address string
}

func (s Sender) String() string {
	return (&mail.Address{Name: s.Name, Address: s.Address}).String()
}
