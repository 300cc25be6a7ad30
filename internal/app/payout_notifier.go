package app

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/finboost/rewards-service/internal/domain"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const notifyTimeout = 15 * time.Second

// UserLookup resolves the recipient of a notification.
type UserLookup interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

// PayoutNotifier consumes payout.status.changed events and emails winners
// when their reward is paid. Delivery is at least once: a redelivered event
// can produce a second email.
type PayoutNotifier struct {
	users      UserLookup
	gate       *EmailGate
	currency   string
	appBaseURL string
	log        logrus.FieldLogger
}

func NewPayoutNotifier(users UserLookup, gate *EmailGate, currency, appBaseURL string, log logrus.FieldLogger) *PayoutNotifier {
	return &PayoutNotifier{
		users:      users,
		gate:       gate,
		currency:   currency,
		appBaseURL: strings.TrimRight(appBaseURL, "/"),
		log:        log.WithField("component", "payout_notifier"),
	}
}

// HandleMessage returns false only when the message should be retried,
// which is the case for email provider failures. The consumer caps retries
// and dead-letters the message after that.
func (n *PayoutNotifier) HandleMessage(body []byte) bool {
	var event domain.PayoutStatusChangedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		n.log.WithError(err).Error("failed to decode payout event")
		return true
	}
	if event.ToStatus != domain.PayoutStatusPaid {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	logger := n.log.WithFields(logrus.Fields{"selection_id": event.SelectionID, "user_id": event.UserID})
	user, err := n.users.GetUserByID(ctx, event.UserID)
	if err != nil {
		logger.WithError(err).Warn("payout notification skipped: user lookup failed")
		return !isTransient(err)
	}

	msg, err := payoutPaidEmail.render(user.Email, displayName(*user), "payout-paid", payoutEmailData{
		Name:     displayName(*user),
		Amount:   formatAmount(event.Amount),
		Currency: n.currency,
		Link:     n.appBaseURL + "/rewards",
	})
	if err != nil {
		logger.WithError(err).Error("failed to render payout email")
		return true
	}

	result, err := n.gate.Send(ctx, msg)
	if err != nil {
		logger.WithError(err).Warn("payout notification failed")
		return !isTransient(err)
	}
	logger.WithField("result", result.Message).Info("payout notification processed")
	return true
}

// isTransient reports whether retrying could succeed. Only a missing record
// is treated as permanent.
func isTransient(err error) bool {
	return !errors.Is(err, domain.ErrNotFound)
}
