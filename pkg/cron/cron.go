// Package cron runs the periodic read-only jobs: plan drift auditing and
// renewal reminders. Neither job writes account or subscription records.
package cron

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"metalcalc_backend/internal/billing"
)

type AccountLister interface {
	ListAccounts(ctx context.Context) ([]billing.AccountView, error)
}

type RenewalMailer interface {
	SendRenewalWarning(ctx context.Context, to string, daysLeft int, periodEnd time.Time) error
}

type Jobs struct {
	accounts AccountLister
	mailer   RenewalMailer
	logger   zerolog.Logger
	location *time.Location
	now      func() time.Time
	timeout  time.Duration
}

func NewJobs(accounts AccountLister, mailer RenewalMailer, logger zerolog.Logger) *Jobs {
	location, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		location = time.UTC
	}
	return &Jobs{
		accounts: accounts,
		mailer:   mailer,
		logger:   logger,
		location: location,
		now:      time.Now,
		timeout:  5 * time.Minute,
	}
}

// Start schedules the jobs and returns the running scheduler; call Stop on
// shutdown.
func (j *Jobs) Start() (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(j.location))

	if _, err := c.AddFunc("0 3 * * *", j.run("reconciliation", func(ctx context.Context) error {
		_, err := j.Reconcile(ctx)
		return err
	})); err != nil {
		return nil, err
	}

	if _, err := c.AddFunc("0 9 * * *", j.run("renewal_warnings", func(ctx context.Context) error {
		_, err := j.SendRenewalWarnings(ctx)
		return err
	})); err != nil {
		return nil, err
	}

	c.Start()
	return c, nil
}

func (j *Jobs) run(name string, job func(ctx context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
		defer cancel()

		start := time.Now()
		if err := job(ctx); err != nil {
			j.logger.Error().Err(err).Str("job", name).Msg("Cron job failed")
			return
		}
		j.logger.Info().Str("job", name).Dur("took", time.Since(start)).Msg("Cron job finished")
	}
}
