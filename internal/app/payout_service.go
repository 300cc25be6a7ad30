/**
 * @description
 * Cycle winner lifecycle and disbursement. Every status change goes through
 * store.ApplyTransition so the selection, its batch item, the audit history
 * and the outbox event are written together under one idempotency key.
 *
 * @dependencies
 * - github.com/sirupsen/logrus: structured logging.
 * - github.com/google/uuid: batch and item ids.
 */
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/finboost/rewards-service/internal/domain"
	"github.com/finboost/rewards-service/internal/store"
	"github.com/finboost/rewards-service/pkg/payoutclient"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// PayoutStatusChangedRoutingKey is the routing key of every lifecycle event.
const PayoutStatusChangedRoutingKey = "payout.status.changed"

const defaultMaxAttempts = 3

// PayoutSettings carries the configuration the lifecycle needs.
type PayoutSettings struct {
	Currency     string
	MaxAttempts  int
	Exchange     string
	RoutingKey   string
	TierShares   domain.TierShares
	EmailSubject string
}

// PayoutService provides the business logic for cycles, winners and payouts.
type PayoutService struct {
	repo     PayoutRepository
	client   PayoutClient
	log      logrus.FieldLogger
	settings PayoutSettings
	now      func() time.Time
}

// NewPayoutService creates a new payout service.
func NewPayoutService(repo PayoutRepository, client PayoutClient, log logrus.FieldLogger, settings PayoutSettings) *PayoutService {
	if settings.Currency == "" {
		settings.Currency = "USD"
	}
	if settings.MaxAttempts < 1 {
		settings.MaxAttempts = defaultMaxAttempts
	}
	if settings.RoutingKey == "" {
		settings.RoutingKey = PayoutStatusChangedRoutingKey
	}
	if len(settings.TierShares) == 0 {
		settings.TierShares = domain.DefaultTierShares()
	}
	if settings.EmailSubject == "" {
		settings.EmailSubject = "You have a FinBoost reward"
	}
	return &PayoutService{
		repo:     repo,
		client:   client,
		log:      log.WithField("component", "payout_service"),
		settings: settings,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// DisbursementResult summarizes one disbursement or reconciliation run.
type DisbursementResult struct {
	BatchID   uuid.UUID `json:"batchId"`
	Evaluated int       `json:"evaluated"`
	Attempted int       `json:"attempted"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	Pending   int       `json:"pending"`
}

// SealResult summarizes a SealCycle call.
type SealResult struct {
	Sealed   int `json:"sealed"`
	Promoted int `json:"promoted"`
}

// WinnerInput is one winner supplied by an administrator.
type WinnerInput struct {
	UserID uuid.UUID `json:"userId"`
	Tier   string    `json:"tier"`
	Points int       `json:"points"`
}

// RecordWinnersInput lists the winners of a cycle. PoolCents overrides the
// pool computed from cycle revenue when set.
type RecordWinnersInput struct {
	Winners   []WinnerInput `json:"winners"`
	PoolCents *int64        `json:"poolCents,omitempty"`
}

// RecordWinnersResult returns the pool used and the stored selections.
type RecordWinnersResult struct {
	PoolCents  int64                         `json:"poolCents"`
	Selections []domain.CycleWinnerSelection `json:"selections"`
}

// TransitionRequest is a manual status change issued by an administrator.
type TransitionRequest struct {
	SelectionID    uuid.UUID
	Status         string
	IdempotencyKey string
	Reason         string
}

func (s *PayoutService) CreateCycle(ctx context.Context, cycle domain.CycleSetting) (*domain.CycleSetting, error) {
	if err := cycle.Validate(); err != nil {
		return nil, err
	}
	return s.repo.CreateCycle(ctx, cycle)
}

func (s *PayoutService) ListCycles(ctx context.Context) ([]domain.CycleSetting, error) {
	return s.repo.ListCycles(ctx)
}

// ActiveCycle returns the single active cycle.
func (s *PayoutService) ActiveCycle(ctx context.Context) (*domain.CycleSetting, error) {
	return s.repo.GetActiveCycle(ctx)
}

// ListSelections returns every winner selection of the cycle.
func (s *PayoutService) ListSelections(ctx context.Context, cycleID uuid.UUID) ([]domain.CycleWinnerSelection, error) {
	if _, err := s.repo.GetCycle(ctx, cycleID); err != nil {
		return nil, err
	}
	return s.repo.ListSelectionsByCycle(ctx, cycleID)
}

// ActivateCycle makes the cycle the only active one.
func (s *PayoutService) ActivateCycle(ctx context.Context, cycleID uuid.UUID) (*domain.CycleSetting, error) {
	cycle, err := s.repo.ActivateCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	s.log.WithField("cycle_id", cycleID).Info("cycle activated")
	return cycle, nil
}

// RecordWinners allocates the cycle pool across the winners by tier and
// stores them as draft selections, replacing the unsealed drafts of any
// earlier call. Sealed selections are left untouched.
func (s *PayoutService) RecordWinners(ctx context.Context, cycleID uuid.UUID, input RecordWinnersInput) (*RecordWinnersResult, error) {
	if len(input.Winners) == 0 {
		return nil, &domain.ValidationError{Field: "winners", Message: "at least one winner is required"}
	}

	cycle, err := s.repo.GetCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}

	var pool int64
	if input.PoolCents != nil {
		if *input.PoolCents < 0 {
			return nil, &domain.ValidationError{Field: "poolCents", Message: "must not be negative"}
		}
		pool = *input.PoolCents
	} else {
		revenue, err := s.repo.CycleRevenueCents(ctx, cycleID)
		if err != nil {
			return nil, fmt.Errorf("load cycle revenue: %w", err)
		}
		pool = domain.CyclePool(revenue, cycle.RewardPoolPercentage, cycle.MinimumPoolCents)
	}

	now := s.now()
	seen := make(map[uuid.UUID]bool, len(input.Winners))
	selections := make([]domain.CycleWinnerSelection, 0, len(input.Winners))
	for i, winner := range input.Winners {
		if winner.UserID == uuid.Nil {
			return nil, &domain.ValidationError{Field: fmt.Sprintf("winners[%d].userId", i), Message: "is required"}
		}
		if seen[winner.UserID] {
			return nil, &domain.ValidationError{Field: fmt.Sprintf("winners[%d].userId", i), Message: "duplicate winner"}
		}
		seen[winner.UserID] = true

		tier, err := domain.ParseTier(winner.Tier)
		if err != nil {
			return nil, err
		}
		if winner.Points < 0 {
			return nil, &domain.ValidationError{Field: fmt.Sprintf("winners[%d].points", i), Message: "must not be negative"}
		}
		selections = append(selections, domain.CycleWinnerSelection{
			ID:                uuid.New(),
			CycleSettingID:    cycleID,
			UserID:            winner.UserID,
			Tier:              tier,
			PointsAtSelection: winner.Points,
			PayoutStatus:      domain.PayoutStatusDraft,
			SelectedAt:        now,
		})
	}

	allocated := domain.AllocateRewards(pool, s.settings.TierShares, selections)
	stored, err := s.repo.ReplaceDraftSelections(ctx, cycleID, allocated)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"cycle_id":   cycleID,
		"pool_cents": pool,
		"winners":    len(stored),
	}).Info("cycle winners recorded")
	return &RecordWinnersResult{PoolCents: pool, Selections: stored}, nil
}

// UpdateSelectionReward adjusts an unsealed selection.
func (s *PayoutService) UpdateSelectionReward(ctx context.Context, selectionID uuid.UUID, update domain.RewardUpdate) (*domain.CycleWinnerSelection, error) {
	current, err := s.repo.GetSelection(ctx, selectionID)
	if err != nil {
		return nil, err
	}
	// Checked again under the row lock in the store.
	candidate := *current
	if err := candidate.ApplyRewardUpdate(update); err != nil {
		return nil, err
	}
	return s.repo.UpdateSelectionReward(ctx, selectionID, update)
}

// SealCycle seals every selection of the cycle, freezing payoutFinal, and
// promotes sealed draft selections to pending. Safe to call again after a
// partial failure: promotion keys are derived from the selection id.
func (s *PayoutService) SealCycle(ctx context.Context, cycleID uuid.UUID) (*SealResult, error) {
	if _, err := s.repo.GetCycle(ctx, cycleID); err != nil {
		return nil, err
	}

	sealed, err := s.repo.SealCycleSelections(ctx, cycleID, s.now())
	if err != nil {
		return nil, err
	}

	drafts, err := s.repo.ListSelectionsByStatus(ctx, cycleID, domain.PayoutStatusDraft)
	if err != nil {
		return nil, err
	}

	result := &SealResult{Sealed: len(sealed)}
	for _, sel := range drafts {
		if !sel.IsSealed {
			continue
		}
		_, err := s.repo.ApplyTransition(ctx, store.TransitionCommand{
			SelectionID:    sel.ID,
			Steps:          []domain.PayoutStatus{domain.PayoutStatusPending},
			IdempotencyKey: "seal:" + sel.ID.String(),
			Reason:         "cycle sealed",
			Exchange:       s.settings.Exchange,
			RoutingKey:     s.settings.RoutingKey,
		})
		if err != nil {
			return nil, fmt.Errorf("promote selection %s: %w", sel.ID, err)
		}
		result.Promoted++
	}

	s.log.WithFields(logrus.Fields{
		"cycle_id": cycleID,
		"sealed":   result.Sealed,
		"promoted": result.Promoted,
	}).Info("cycle sealed")
	return result, nil
}

// TransitionStatus applies one manual lifecycle step.
func (s *PayoutService) TransitionStatus(ctx context.Context, req TransitionRequest) (*store.TransitionResult, error) {
	target, err := domain.ParsePayoutStatus(req.Status)
	if err != nil {
		return nil, err
	}
	return s.repo.ApplyTransition(ctx, store.TransitionCommand{
		SelectionID:    req.SelectionID,
		Steps:          []domain.PayoutStatus{target},
		IdempotencyKey: req.IdempotencyKey,
		Reason:         strings.TrimSpace(req.Reason),
		Exchange:       s.settings.Exchange,
		RoutingKey:     s.settings.RoutingKey,
	})
}

// RetrySelection returns a failed selection to pending so the next
// disbursement picks it up again.
func (s *PayoutService) RetrySelection(ctx context.Context, selectionID uuid.UUID, idempotencyKey string) (*store.TransitionResult, error) {
	sel, err := s.repo.GetSelection(ctx, selectionID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(idempotencyKey) == "" {
		idempotencyKey = fmt.Sprintf("retry:%s:%d", selectionID, sel.StatusChangedAt.UnixNano())
	}
	// pending is let through so a repeated key replays instead of failing.
	if sel.PayoutStatus != domain.PayoutStatusFailed && sel.PayoutStatus != domain.PayoutStatusPending {
		return nil, &domain.TransitionError{From: sel.PayoutStatus, To: domain.PayoutStatusPending}
	}
	return s.TransitionStatus(ctx, TransitionRequest{
		SelectionID:    selectionID,
		Status:         string(domain.PayoutStatusPending),
		IdempotencyKey: idempotencyKey,
		Reason:         "manual retry",
	})
}

// DisburseCycle claims every payable pending selection into a new batch and
// submits it to the payout provider. Provider failures are recorded on the
// items and reported in the result rather than returned as errors. When the
// provider outcome is unknown the batch is left unconfirmed and its items stay
// claimed; ReconcileBatch resubmits it under the same sender batch id.
func (s *PayoutService) DisburseCycle(ctx context.Context, cycleID uuid.UUID) (*DisbursementResult, error) {
	cycle, err := s.repo.GetCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}

	selections, err := s.repo.ListSelectionsByStatus(ctx, cycleID, domain.PayoutStatusPending)
	if err != nil {
		return nil, err
	}

	now := s.now()
	batch, err := s.repo.CreateBatch(ctx, domain.PayoutBatch{
		CycleSettingID: cycleID,
		Label:          fmt.Sprintf("%s %s", cycle.Name, now.Format("2006-01-02 1504")),
		Status:         domain.BatchStatusCreated,
		Currency:       s.settings.Currency,
	})
	if err != nil {
		return nil, err
	}

	result := &DisbursementResult{BatchID: batch.ID, Evaluated: len(selections)}
	logger := s.log.WithFields(logrus.Fields{"cycle_id": cycleID, "batch_id": batch.ID})

	claimed := make([]domain.PayoutBatchItem, 0, len(selections))
	for _, sel := range selections {
		item, ok := s.claimSelection(ctx, batch, sel, logger)
		if !ok {
			result.Skipped++
			continue
		}
		claimed = append(claimed, *item)
	}

	batch.ItemCount = len(claimed)
	for _, item := range claimed {
		batch.TotalAmount += item.Amount
	}

	if len(claimed) == 0 {
		batch.Status = domain.BatchStatusCompleted
		if err := s.repo.UpdateBatchStatus(ctx, *batch); err != nil {
			return nil, err
		}
		logger.Info("no payable selections for disbursement")
		return result, nil
	}
	result.Attempted = len(claimed)

	if err := s.submitBatch(ctx, batch, claimed, cycle.Name, result, logger); err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"attempted": result.Attempted,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
		"pending":   result.Pending,
		"skipped":   result.Skipped,
	}).Info("payout batch submitted")
	return result, nil
}

// batchRequest builds the provider payload. The batch and item ids are the
// sender ids, so a resubmission is recognised by the provider.
func (s *PayoutService) batchRequest(batch *domain.PayoutBatch, items []domain.PayoutBatchItem, cycleName string) payoutclient.CreateBatchRequest {
	request := payoutclient.CreateBatchRequest{Items: make([]payoutclient.PayoutItem, 0, len(items))}
	request.SenderBatchHeader.SenderBatchID = batch.ID.String()
	request.SenderBatchHeader.EmailSubject = s.settings.EmailSubject
	request.SenderBatchHeader.EmailMessage = fmt.Sprintf("Your reward for %s is on its way.", cycleName)
	for _, item := range items {
		request.Items = append(request.Items, payoutclient.PayoutItem{
			RecipientType: "EMAIL",
			Amount:        payoutclient.Amount{Value: payoutclient.FormatMinorUnits(item.Amount), Currency: item.Currency},
			Receiver:      item.RecipientEmail,
			SenderItemID:  item.ID.String(),
			Note:          cycleName,
		})
	}
	return request
}

// submitBatch sends the claimed items and records what the provider said.
// Only a definite rejection fails the items; any other error leaves them
// pending under an unconfirmed batch.
func (s *PayoutService) submitBatch(ctx context.Context, batch *domain.PayoutBatch, items []domain.PayoutBatchItem, cycleName string, result *DisbursementResult, logger logrus.FieldLogger) error {
	response, err := s.client.CreateBatchPayout(ctx, s.batchRequest(batch, items, cycleName))
	if err != nil {
		if !payoutclient.IsRejected(err) {
			logger.WithError(err).Warn("payout batch outcome unknown, leaving items claimed")
			result.Pending += len(items)
			batch.Status = domain.BatchStatusUnconfirmed
			return s.repo.UpdateBatchStatus(ctx, *batch)
		}

		logger.WithError(err).Warn("payout batch rejected")
		reason := (&domain.ProviderError{Provider: "payouts", Op: "create batch", Err: err}).Error()
		for _, item := range items {
			if _, err := s.recordOutcome(ctx, item, domain.BatchItemStatusFailed, "", reason); err != nil {
				logger.WithError(err).WithField("item_id", item.ID).Error("failed to record payout failure")
				result.Pending++
				continue
			}
			result.Failed++
		}
		batch.Status = domain.BatchStatusFailed
		return s.repo.UpdateBatchStatus(ctx, *batch)
	}

	providerBatchID := response.BatchHeader.PayoutBatchID
	batch.Status = domain.BatchStatusSubmitted
	if providerBatchID != "" {
		batch.ProviderBatchID = &providerBatchID
	}
	if err := s.repo.UpdateBatchStatus(ctx, *batch); err != nil {
		return err
	}

	pendingBefore := result.Pending
	s.applyProviderItems(ctx, items, response.Items, result, logger)
	if result.Pending == pendingBefore {
		batch.Status = domain.BatchStatusCompleted
		return s.repo.UpdateBatchStatus(ctx, *batch)
	}
	return nil
}

// claimSelection moves a pending selection to earned and writes its pending
// batch item. Selections that cannot be paid are skipped.
func (s *PayoutService) claimSelection(ctx context.Context, batch *domain.PayoutBatch, sel domain.CycleWinnerSelection, logger logrus.FieldLogger) (*domain.PayoutBatchItem, bool) {
	selLog := logger.WithField("selection_id", sel.ID)
	if !sel.IsSealed || sel.PayoutFinal <= 0 {
		return nil, false
	}

	hasPending, err := s.repo.HasPendingItem(ctx, sel.ID)
	if err != nil {
		selLog.WithError(err).Warn("pending item check failed")
		return nil, false
	}
	if hasPending {
		selLog.Info("selection already has a pending payout item")
		return nil, false
	}

	user, err := s.repo.GetUserByID(ctx, sel.UserID)
	if err != nil {
		selLog.WithError(err).Warn("winner account lookup failed")
		return nil, false
	}

	item := domain.PayoutBatchItem{
		ID:                     uuid.New(),
		BatchID:                batch.ID,
		UserID:                 sel.UserID,
		CycleSettingID:         sel.CycleSettingID,
		CycleWinnerSelectionID: sel.ID,
		Amount:                 sel.PayoutFinal,
		Currency:               batch.Currency,
		Status:                 domain.BatchItemStatusPending,
		RecipientEmail:         domain.NormalizeEmail(user.Email),
	}
	res, err := s.repo.ApplyTransition(ctx, store.TransitionCommand{
		SelectionID:    sel.ID,
		Steps:          []domain.PayoutStatus{domain.PayoutStatusEarned},
		IdempotencyKey: fmt.Sprintf("%s:%s:earned", batch.ID, sel.ID),
		Item:           &item,
		Reason:         "claimed for payout batch",
		Exchange:       s.settings.Exchange,
		RoutingKey:     s.settings.RoutingKey,
	})
	if err != nil {
		selLog.WithError(err).Warn("failed to claim selection")
		return nil, false
	}
	if res.Item == nil {
		return nil, false
	}
	return res.Item, true
}

// applyProviderItems records every non-pending provider outcome and counts
// the rest as pending.
func (s *PayoutService) applyProviderItems(ctx context.Context, items []domain.PayoutBatchItem, provider []payoutclient.BatchItemResult, result *DisbursementResult, logger logrus.FieldLogger) {
	bySenderID := make(map[string]payoutclient.BatchItemResult, len(provider))
	for _, p := range provider {
		bySenderID[p.PayoutItem.SenderItemID] = p
	}

	for _, item := range items {
		p, ok := bySenderID[item.ID.String()]
		if !ok {
			result.Pending++
			continue
		}
		status := domain.NormalizeProviderItemStatus(p.TransactionStatus)
		if status == domain.BatchItemStatusPending || status == item.Status {
			result.Pending++
			continue
		}
		outcome, err := s.recordOutcome(ctx, item, status, p.PayoutItemID, p.FailureReason())
		if err != nil {
			logger.WithError(err).WithField("item_id", item.ID).Error("failed to record payout outcome")
			result.Pending++
			continue
		}
		switch outcome {
		case domain.BatchItemStatusSuccess:
			result.Succeeded++
		case domain.BatchItemStatusFailed:
			result.Failed++
		default:
			result.Pending++
		}
	}
}

// recordOutcome applies a provider outcome to an item and its selection.
// success: earned -> paid. unclaimed: item only, selection stays earned.
// failed: earned -> failed -> pending, or just failed once the retry budget
// is spent.
func (s *PayoutService) recordOutcome(ctx context.Context, item domain.PayoutBatchItem, status domain.BatchItemStatus, providerItemID, reason string) (domain.BatchItemStatus, error) {
	updated := item
	updated.Status = status
	if providerItemID != "" {
		updated.ProviderItemID = &providerItemID
	}

	cmd := store.TransitionCommand{
		SelectionID: item.CycleWinnerSelectionID,
		Item:        &updated,
		Exchange:    s.settings.Exchange,
		RoutingKey:  s.settings.RoutingKey,
	}

	switch status {
	case domain.BatchItemStatusSuccess:
		paidAt := s.now()
		updated.PaidAt = &paidAt
		updated.FailureReason = nil
		cmd.Steps = []domain.PayoutStatus{domain.PayoutStatusPaid}
		cmd.IdempotencyKey = item.ID.String() + ":paid"
		cmd.Reason = "provider reported success"
	case domain.BatchItemStatusUnclaimed:
		cmd.IdempotencyKey = item.ID.String() + ":unclaimed"
	case domain.BatchItemStatusFailed:
		if strings.TrimSpace(reason) == "" {
			reason = "payout failed"
		}
		updated.FailureReason = &reason
		cmd.Steps = []domain.PayoutStatus{domain.PayoutStatusFailed, domain.PayoutStatusPending}
		cmd.RetryBudget = s.settings.MaxAttempts
		cmd.IdempotencyKey = item.ID.String() + ":failed"
		cmd.Reason = reason
	default:
		return "", fmt.Errorf("unsupported payout outcome %q", status)
	}

	if _, err := s.repo.ApplyTransition(ctx, cmd); err != nil {
		return "", err
	}
	return status, nil
}

// ReconcileBatch polls the provider for a submitted batch and applies the
// outcome of every item that is still pending or unclaimed. An unconfirmed
// batch is resubmitted under its original sender batch id instead.
func (s *PayoutService) ReconcileBatch(ctx context.Context, batchID uuid.UUID) (*DisbursementResult, error) {
	batch, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	unconfirmed := batch.Status == domain.BatchStatusUnconfirmed
	if !unconfirmed && (batch.ProviderBatchID == nil || *batch.ProviderBatchID == "") {
		return nil, &domain.ValidationError{Field: "batchId", Message: "batch has not been submitted to the provider"}
	}

	items, err := s.repo.ListBatchItems(ctx, batchID)
	if err != nil {
		return nil, err
	}

	open := make([]domain.PayoutBatchItem, 0, len(items))
	for _, item := range items {
		if item.Status == domain.BatchItemStatusPending || item.Status == domain.BatchItemStatusUnclaimed {
			open = append(open, item)
		}
	}

	result := &DisbursementResult{BatchID: batchID, Evaluated: len(items), Skipped: len(items) - len(open)}
	logger := s.log.WithField("batch_id", batchID)
	if len(open) > 0 {
		result.Attempted = len(open)
		if unconfirmed {
			cycle, err := s.repo.GetCycle(ctx, batch.CycleSettingID)
			if err != nil {
				return nil, err
			}
			if err := s.submitBatch(ctx, batch, open, cycle.Name, result, logger); err != nil {
				return nil, err
			}
			return result, nil
		}

		response, err := s.client.GetBatchPayout(ctx, *batch.ProviderBatchID)
		if err != nil {
			return nil, &domain.ProviderError{Provider: "payouts", Op: "get batch", Err: err}
		}
		s.applyProviderItems(ctx, open, response.Items, result, logger)
	}

	if result.Pending == 0 && batch.Status != domain.BatchStatusCompleted {
		batch.Status = domain.BatchStatusCompleted
		if err := s.repo.UpdateBatchStatus(ctx, *batch); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// ReconcileOpenBatches reconciles every submitted batch. Errors on one batch
// are logged and do not stop the others.
func (s *PayoutService) ReconcileOpenBatches(ctx context.Context, limit int) (*DisbursementResult, error) {
	batches, err := s.repo.ListOpenBatches(ctx, limit)
	if err != nil {
		return nil, err
	}

	total := &DisbursementResult{}
	for _, batch := range batches {
		result, err := s.ReconcileBatch(ctx, batch.ID)
		if err != nil {
			s.log.WithError(err).WithField("batch_id", batch.ID).Warn("batch reconciliation failed")
			continue
		}
		total.Evaluated += result.Evaluated
		total.Attempted += result.Attempted
		total.Succeeded += result.Succeeded
		total.Failed += result.Failed
		total.Skipped += result.Skipped
		total.Pending += result.Pending
	}
	return total, nil
}
