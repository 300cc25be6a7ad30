package mailer

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sirupsen/logrus"
)

var (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// SendgridProvider sends mail through the SendGrid v3 API.
type SendgridProvider struct {
	key  string
	host string
	from *sgmail.Email
	log  logrus.FieldLogger
	api  func(req rest.Request) (*rest.Response, error)
}

func NewSendgridProvider(key string, from Sender, log logrus.FieldLogger) *SendgridProvider {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SendgridProvider{
		key:  key,
		host: sendgridHost,
		from: sgmail.NewEmail(from.Name, from.Address),
		log:  log.WithField("component", "sendgrid_provider"),
		api:  sendgrid.API,
	}
}

func (p *SendgridProvider) Name() string { return "sendgrid" }

func (p *SendgridProvider) prepare(email Email) *sgmail.SGMailV3 {
	personalization := sgmail.NewPersonalization()
	personalization.Subject = email.Subject
	personalization.AddTos(sgmail.NewEmail(email.ToName, email.To))

	m := sgmail.NewV3Mail()
	m.SetFrom(p.from)
	m.AddPersonalizations(personalization)

	if email.TextBody != "" {
		m.AddContent(sgmail.NewContent("text/plain", email.TextBody))
	}
	if email.HTMLBody != "" {
		m.AddContent(sgmail.NewContent("text/html", email.HTMLBody))
	}
	if email.Tag != "" {
		m.AddCategories(email.Tag)
	}
	return m
}

func (p *SendgridProvider) Send(_ context.Context, email Email) (string, error) {
	req := sendgrid.GetRequest(p.key, sendgridEndpoint, p.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(p.prepare(email))

	res, err := p.api(req)
	if err != nil {
		return "", fmt.Errorf("sendgrid request failed: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		p.log.WithField("status", res.StatusCode).Warn(res.Body)
		return "", fmt.Errorf("sendgrid rejected message: status %d", res.StatusCode)
	}

	if ids := res.Headers["X-Message-Id"]; len(ids) > 0 {
		return ids[0], nil
	}
	return "", nil
}
