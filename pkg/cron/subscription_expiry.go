package cron

import (
	"context"
	"time"

	"metalcalc_backend/internal/model"
)

var warningDays = []int{7, 3}

// SendRenewalWarnings mails owners of Stripe subscriptions whose period ends
// exactly 7 or 3 calendar days from today. It returns the number sent.
func (j *Jobs) SendRenewalWarnings(ctx context.Context) (int, error) {
	if j.mailer == nil {
		return 0, nil
	}

	views, err := j.accounts.ListAccounts(ctx)
	if err != nil {
		return 0, err
	}

	today := j.day(j.now())
	sent := 0
	for _, v := range views {
		sub := v.Subscription
		if sub.Status != model.StatusActive || sub.Provider == nil || *sub.Provider != model.ProviderStripe {
			continue
		}
		if sub.CurrentPeriodEnd == nil || v.Account.Email == "" {
			continue
		}

		daysLeft := int(j.day(*sub.CurrentPeriodEnd).Sub(today).Hours() / 24)
		if !contains(warningDays, daysLeft) {
			continue
		}

		if err := j.mailer.SendRenewalWarning(ctx, v.Account.Email, daysLeft, *sub.CurrentPeriodEnd); err != nil {
			j.logger.Warn().Err(err).Str("uid", v.Account.UID).Msg("Error sending renewal warning")
			continue
		}
		sent++
		j.logger.Info().Str("uid", v.Account.UID).Int("days_left", daysLeft).Msg("Sent renewal warning")
	}
	return sent, nil
}

func (j *Jobs) day(t time.Time) time.Time {
	t = t.In(j.location)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, j.location)
}

func contains(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
