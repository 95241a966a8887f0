package cron

import (
	"context"

	"metalcalc_backend/internal/model"
	"metalcalc_backend/pkg/metrics"
)

// Drift kinds reported by Reconcile.
const (
	DriftProWithoutSubscription = "pro_without_subscription"
	DriftTrialWithActive        = "trial_with_active_subscription"
)

type DriftReport struct {
	Checked int
	Drift   map[string][]string
}

// Reconcile counts accounts whose plan disagrees with their subscription
// record. Admin grants are consistent by construction (provider=admin,
// status=active). Drift is only reported; the plan stays authoritative.
func (j *Jobs) Reconcile(ctx context.Context) (DriftReport, error) {
	views, err := j.accounts.ListAccounts(ctx)
	if err != nil {
		return DriftReport{}, err
	}

	report := DriftReport{
		Checked: len(views),
		Drift: map[string][]string{
			DriftProWithoutSubscription: nil,
			DriftTrialWithActive:        nil,
		},
	}
	for _, v := range views {
		status := v.Subscription.Status
		switch {
		case v.Account.Plan == model.PlanPro && (status == model.StatusNone || status == model.StatusCanceled):
			report.Drift[DriftProWithoutSubscription] = append(report.Drift[DriftProWithoutSubscription], v.Account.UID)
		case v.Account.Plan == model.PlanTrial && status == model.StatusActive:
			report.Drift[DriftTrialWithActive] = append(report.Drift[DriftTrialWithActive], v.Account.UID)
		}
	}

	for kind, uids := range report.Drift {
		metrics.SetPlanDrift(kind, len(uids))
		if len(uids) > 0 {
			j.logger.Warn().Str("kind", kind).Strs("uids", uids).Msg("Plan drift detected")
		}
	}
	return report, nil
}
