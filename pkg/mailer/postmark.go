package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultPostmarkURL = "https://api.postmarkapp.com"

// PostmarkProvider sends mail through the Postmark HTTP API.
type PostmarkProvider struct {
	BaseURL     string
	ServerToken string
	From        Sender
	HTTPClient  *http.Client
	log         logrus.FieldLogger
}

func NewPostmarkProvider(serverToken string, from Sender, log logrus.FieldLogger) *PostmarkProvider {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &PostmarkProvider{
		BaseURL:     defaultPostmarkURL,
		ServerToken: serverToken,
		From:        from,
		HTTPClient:  &http.Client{Timeout: 15 * time.Second},
		log:         log.WithField("component", "postmark_provider"),
	}
}

func (p *PostmarkProvider) Name() string { return "postmark" }

type postmarkEmail struct {
	From          string `json:"From"`
	To            string `json:"To"`
	Subject       string `json:"Subject"`
	TextBody      string `json:"TextBody,omitempty"`
	HtmlBody      string `json:"HtmlBody,omitempty"`
	Tag           string `json:"Tag,omitempty"`
	MessageStream string `json:"MessageStream"`
}

type postmarkResponse struct {
	To        string `json:"To"`
	MessageID string `json:"MessageID"`
	ErrorCode int    `json:"ErrorCode"`
	Message   string `json:"Message"`
}

// PostmarkError is returned when Postmark rejects a message.
type PostmarkError struct {
	StatusCode int
	ErrorCode  int
	Message    string
}

func (e *PostmarkError) Error() string {
	return fmt.Sprintf("postmark error %d (status %d): %s", e.ErrorCode, e.StatusCode, e.Message)
}

func (p *PostmarkProvider) Send(ctx context.Context, email Email) (string, error) {
	to := email.To
	if email.ToName != "" {
		to = Sender{Name: email.ToName, Address: email.To}.String()
	}
	stream := "outbound"
	if !email.Transactional {
		stream = "broadcast"
	}

	body, err := json.Marshal(postmarkEmail{
		From:          p.From.String(),
		To:            to,
		Subject:       email.Subject,
		TextBody:      email.TextBody,
		HtmlBody:      email.HTMLBody,
		Tag:           email.Tag,
		MessageStream: stream,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal postmark email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(p.BaseURL, "/")+"/email", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create postmark request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Postmark-Server-Token", p.ServerToken)

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute postmark request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read postmark response: %w", err)
	}

	var parsed postmarkResponse
	_ = json.Unmarshal(raw, &parsed)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || parsed.ErrorCode != 0 {
		p.log.WithFields(logrus.Fields{"status": resp.StatusCode, "error_code": parsed.ErrorCode}).Warn(parsed.Message)
		return "", &PostmarkError{StatusCode: resp.StatusCode, ErrorCode: parsed.ErrorCode, Message: parsed.Message}
	}
	return parsed.MessageID, nil
}
