/**
 * @description
 * Cron scheduler for background jobs: payout batch reconciliation and expired
 * verification token cleanup.
 */
package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	jobTimeout         = 2 * time.Minute
	reconcileBatchSize = 25
)

// BatchReconciler is the disbursement surface the scheduler drives.
type BatchReconciler interface {
	ReconcileOpenBatches(ctx context.Context, limit int) (*DisbursementResult, error)
}

// TokenCleaner removes expired verification tokens.
type TokenCleaner interface {
	CleanupExpiredTokens(ctx context.Context) (int64, error)
}

// Jobs holds the scheduled job bodies.
type Jobs struct {
	payouts BatchReconciler
	tokens  TokenCleaner
	log     logrus.FieldLogger
}

func NewJobs(payouts BatchReconciler, tokens TokenCleaner, log logrus.FieldLogger) *Jobs {
	return &Jobs{payouts: payouts, tokens: tokens, log: log.WithField("component", "jobs")}
}

// ReconcilePayoutBatches polls the provider for every submitted batch.
func (j *Jobs) ReconcilePayoutBatches() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	result, err := j.payouts.ReconcileOpenBatches(ctx, reconcileBatchSize)
	if err != nil {
		j.log.WithError(err).Error("payout reconciliation failed")
		return
	}
	j.log.WithFields(logrus.Fields{
		"evaluated": result.Evaluated,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
		"pending":   result.Pending,
	}).Info("payout reconciliation finished")
}

// CleanupVerificationTokens deletes expired, unused verification tokens.
func (j *Jobs) CleanupVerificationTokens() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	deleted, err := j.tokens.CleanupExpiredTokens(ctx)
	if err != nil {
		j.log.WithError(err).Error("verification token cleanup failed")
		return
	}
	if deleted > 0 {
		j.log.WithField("deleted", deleted).Info("expired verification tokens removed")
	}
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron      *cron.Cron
	jobs      *Jobs
	log       logrus.FieldLogger
	schedules map[string]string
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, log logrus.FieldLogger, reconcileSchedule, cleanupSchedule string) *Scheduler {
	logger := log.WithField("component", "scheduler")
	c := cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(logger))))

	return &Scheduler{
		cron: c,
		jobs: jobs,
		log:  logger,
		schedules: map[string]string{
			"payout_reconciliation": reconcileSchedule,
			"token_cleanup":         cleanupSchedule,
		},
	}
}

// Start registers the jobs and starts the cron scheduler. A job with an empty
// or invalid schedule is logged and skipped.
func (s *Scheduler) Start() {
	bodies := map[string]func(){
		"payout_reconciliation": s.jobs.ReconcilePayoutBatches,
		"token_cleanup":         s.jobs.CleanupVerificationTokens,
	}
	for _, name := range []string{"payout_reconciliation", "token_cleanup"} {
		spec := s.schedules[name]
		if spec == "" {
			s.log.WithField("job", name).Info("job disabled")
			continue
		}
		if _, err := s.cron.AddFunc(spec, bodies[name]); err != nil {
			s.log.WithError(err).WithField("job", name).Error("failed to schedule job")
			continue
		}
		s.log.WithFields(logrus.Fields{"job": name, "schedule": spec}).Info("scheduled job")
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Entries reports how many jobs are registered.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
