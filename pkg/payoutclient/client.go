/**
 * @description
 * Client for a PayPal-style batch payouts API. It authenticates with OAuth2
 * client credentials, submits payout batches and reads back per item
 * transaction statuses.
 *
 * Amounts cross this boundary as decimal strings ("12.34"); everywhere else in
 * the service they are integer minor units.
 *
 * @dependencies
 * - golang.org/x/oauth2/clientcredentials: access token fetch and refresh.
 * - github.com/sirupsen/logrus: warning logs for non-2xx responses.
 */
package payoutclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const requestTimeout = 30 * time.Second

// Client is a client for the payouts API. HTTPClient attaches a bearer token
// to every request and refreshes it before it expires.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Log        logrus.FieldLogger
}

// NewClient creates a new payouts API client.
func NewClient(baseURL, clientID, clientSecret string, log logrus.FieldLogger) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	baseURL = strings.TrimRight(baseURL, "/")

	credentials := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     baseURL + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: requestTimeout})
	httpClient := credentials.Client(tokenCtx)
	httpClient.Timeout = requestTimeout

	return &Client{
		BaseURL:    baseURL,
		HTTPClient: httpClient,
		Log:        log.WithField("component", "payout_client"),
	}
}

// Amount is a decimal money value as the provider expects it.
type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// PayoutItem is one recipient within a batch request.
type PayoutItem struct {
	RecipientType string `json:"recipient_type"`
	Amount        Amount `json:"amount"`
	Receiver      string `json:"receiver"`
	SenderItemID  string `json:"sender_item_id"`
	Note          string `json:"note,omitempty"`
}

// CreateBatchRequest is the payload for a new payout batch.
type CreateBatchRequest struct {
	SenderBatchHeader struct {
		SenderBatchID string `json:"sender_batch_id"`
		EmailSubject  string `json:"email_subject,omitempty"`
		EmailMessage  string `json:"email_message,omitempty"`
	} `json:"sender_batch_header"`
	Items []PayoutItem `json:"items"`
}

// BatchHeader describes a submitted batch.
type BatchHeader struct {
	PayoutBatchID string `json:"payout_batch_id"`
	BatchStatus   string `json:"batch_status"`
}

// ItemError is the provider explanation for a failed item.
type ItemError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// BatchItemResult is the provider view of one item in a batch.
type BatchItemResult struct {
	PayoutItemID      string `json:"payout_item_id"`
	TransactionStatus string `json:"transaction_status"`
	PayoutItem        struct {
		SenderItemID string `json:"sender_item_id"`
		Receiver     string `json:"receiver"`
		Amount       Amount `json:"amount"`
	} `json:"payout_item"`
	Errors *ItemError `json:"errors,omitempty"`
}

// FailureReason returns the provider's error name, or the transaction status
// when no error detail was supplied.
func (r BatchItemResult) FailureReason() string {
	if r.Errors != nil {
		if r.Errors.Name != "" {
			return r.Errors.Name
		}
		return r.Errors.Message
	}
	return r.TransactionStatus
}

// BatchResponse is returned by both create and get batch calls.
type BatchResponse struct {
	BatchHeader BatchHeader       `json:"batch_header"`
	Items       []BatchItemResult `json:"items"`
}

// ErrorResponse represents an error from the payouts API.
type ErrorResponse struct {
	StatusCode int    `json:"-"`
	Name       string `json:"name"`
	Message    string `json:"message"`
	DebugID    string `json:"debug_id"`
}

func (e *ErrorResponse) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("payouts api error: %s - %s", e.Name, e.Message)
	}
	return fmt.Sprintf("payouts api error: status %d", e.StatusCode)
}

// IsRejected reports whether err is a provider answer proving the request
// was not accepted. Transport errors, timeouts, throttling, duplicate request
// ids and 5xx responses leave the outcome unknown.
func IsRejected(err error) bool {
	var apiErr *ErrorResponse
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooManyRequests:
		return false
	}
	if apiErr.Name == "DUPLICATE_REQUEST_ID" {
		return false
	}
	return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
}

// FormatMinorUnits renders integer cents as a two-decimal string.
func FormatMinorUnits(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// ParseMinorUnits converts a decimal string back into integer cents.
func ParseMinorUnits(value string) (int64, error) {
	value = strings.TrimSpace(value)
	negative := strings.HasPrefix(value, "-")
	value = strings.TrimPrefix(value, "-")

	whole, frac, _ := strings.Cut(value, ".")
	if len(frac) > 2 {
		return 0, fmt.Errorf("amount %q has more than two decimals", value)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	if whole == "" {
		whole = "0"
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	total := units*100 + cents
	if negative {
		total = -total
	}
	return total, nil
}

// CreateBatchPayout submits a batch. The sender batch id doubles as the
// PayPal-Request-Id, so resubmitting the same batch returns the original
// response instead of paying twice.
func (c *Client) CreateBatchPayout(ctx context.Context, payload CreateBatchRequest) (*BatchResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payout batch: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/v1/payments/payouts", body)
	if err != nil {
		return nil, err
	}
	if id := payload.SenderBatchHeader.SenderBatchID; id != "" {
		req.Header.Set("PayPal-Request-Id", id)
	}

	var resp BatchResponse
	if err := c.do(req, "create_batch", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetBatchPayout fetches the batch header and per item statuses.
func (c *Client) GetBatchPayout(ctx context.Context, payoutBatchID string) (*BatchResponse, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/payments/payouts/"+url.PathEscape(payoutBatchID), nil)
	if err != nil {
		return nil, err
	}

	var resp BatchResponse
	if err := c.do(req, "get_batch", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(req *http.Request, op string, out interface{}) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute %s request: %w", op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errResp := &ErrorResponse{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(bodyBytes, errResp); err != nil {
			c.Log.WithFields(logrus.Fields{"op": op, "status": resp.StatusCode}).Warn("non-2xx response (unparsable error body)")
			return errResp
		}
		c.Log.WithFields(logrus.Fields{"op": op, "status": resp.StatusCode, "name": errResp.Name, "debug_id": errResp.DebugID}).Warn(errResp.Message)
		return errResp
	}

	if out == nil || len(bodyBytes) == 0 {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}
