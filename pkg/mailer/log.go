package mailer

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// LogProvider writes messages to the log instead of delivering them. It is the
// default for local development and keeps a copy of everything it "sent".
type LogProvider struct {
	From Sender
	log  logrus.FieldLogger

	mu   sync.Mutex
	sent []Email
}

func NewLogProvider(from Sender, log logrus.FieldLogger) *LogProvider {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogProvider{From: from, log: log.WithField("component", "log_mailer")}
}

func (p *LogProvider) Name() string { return "log" }

func (p *LogProvider) Send(_ context.Context, email Email) (string, error) {
	id := uuid.NewString()
	p.log.WithFields(logrus.Fields{
		"message_id": id,
		"from":       p.From.String(),
		"to":         email.To,
		"subject":    email.Subject,
		"tag":        email.Tag,
	}).Info(email.TextBody)

	p.mu.Lock()
	p.sent = append(p.sent, email)
	p.mu.Unlock()
	return id, nil
}

// Sent returns a copy of every message handled so far.
func (p *LogProvider) Sent() []Email {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Email, len(p.sent))
	copy(out, p.sent)
	return out
}
