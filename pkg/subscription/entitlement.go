// Package subscription decides whether an account may perform a metered action.
package subscription

import "metalcalc_backend/internal/model"

// DefaultTrialLimit is the number of free metered actions on the trial plan.
const DefaultTrialLimit = 5

// Unlimited is reported as Remaining for plans without a quota.
const Unlimited = -1

type Entitlement struct {
	Allowed   bool       `json:"allowed"`
	Remaining int        `json:"remaining"`
	Limit     int        `json:"limit"`
	Plan      model.Plan `json:"plan"`
}

func (e Entitlement) Unlimited() bool {
	return e.Remaining == Unlimited
}

type Evaluator struct {
	Limit int
}

func NewEvaluator(limit int) Evaluator {
	if limit < 0 {
		limit = 0
	}
	return Evaluator{Limit: limit}
}

// Evaluate is pure and may run against a stale copy of the account. It is a
// pre-check only; the usage mutator re-checks the quota when it commits.
func (e Evaluator) Evaluate(account model.Account) Entitlement {
	if account.Plan == model.PlanPro {
		return Entitlement{Allowed: true, Remaining: Unlimited, Limit: e.Limit, Plan: model.PlanPro}
	}

	remaining := e.Limit - account.UsedCount
	if remaining < 0 {
		remaining = 0
	}
	return Entitlement{
		Allowed:   remaining > 0,
		Remaining: remaining,
		Limit:     e.Limit,
		Plan:      model.PlanTrial,
	}
}
