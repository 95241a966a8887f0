package billing

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"metalcalc_backend/internal/model"
	"metalcalc_backend/internal/notify"
	"metalcalc_backend/pkg/apperror"
	"metalcalc_backend/pkg/database"
)

// Origin names who asked for a plan change.
type Origin string

const (
	OriginAdmin               Origin = "admin"
	OriginCheckoutCompleted   Origin = "webhook_checkout_completed"
	OriginSubscriptionDeleted Origin = "webhook_subscription_deleted"
)

func (o Origin) webhook() bool {
	return o == OriginCheckoutCompleted || o == OriginSubscriptionDeleted
}

type Outcome string

const (
	OutcomeApplied        Outcome = "applied"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeUnknownAccount Outcome = "unknown_account"
)

type Transition struct {
	UID    string
	Plan   model.Plan
	Origin Origin
	// Stripe is copied onto the subscription record at checkout.
	Stripe *StripeDetails
	// Event identifies the provider event; required for webhook origins.
	Event   *model.LastEvent
	Payload []byte
}

type TransitionResult struct {
	Outcome      Outcome
	Account      model.Account
	Subscription model.Subscription
}

// normalize rejects malformed transitions before any store access and pins
// the target plan of webhook origins.
func (t Transition) normalize() (Transition, error) {
	const op = "transition.validate"

	if t.UID == "" {
		return t, apperror.Validation(op, "uid is required")
	}
	switch t.Origin {
	case OriginAdmin:
		if !t.Plan.Valid() {
			return t, apperror.Validation(op, "unsupported plan %q", t.Plan)
		}
	case OriginCheckoutCompleted:
		if t.Plan != "" && t.Plan != model.PlanPro {
			return t, apperror.Validation(op, "checkout can only grant %q", model.PlanPro)
		}
		t.Plan = model.PlanPro
		if t.Stripe == nil {
			t.Stripe = &StripeDetails{}
		}
	case OriginSubscriptionDeleted:
		t.Plan = model.PlanTrial
	default:
		return t, apperror.Validation(op, "unsupported origin %q", t.Origin)
	}
	if t.Origin.webhook() && (t.Event == nil || t.Event.EventID == "") {
		return t, apperror.Validation(op, "webhook transitions need an event id")
	}
	return t, nil
}

// TransitionApplier writes plan changes to the account and subscription
// records in one transaction.
type TransitionApplier struct {
	db            *gorm.DB
	accounts      *AccountStore
	subscriptions *SubscriptionStore
	now           func() time.Time
}

func NewTransitionApplier(db *gorm.DB, accounts *AccountStore, subscriptions *SubscriptionStore, now func() time.Time) *TransitionApplier {
	return &TransitionApplier{db: db, accounts: accounts, subscriptions: subscriptions, now: now}
}

// Apply sets absolute state, so replaying a transition writes the same
// result. Webhook events already in the audit log are not replayed at all.
// An unknown uid fails with ErrNotFound for admin calls and yields
// OutcomeUnknownAccount for webhook calls.
func (a *TransitionApplier) Apply(ctx context.Context, t Transition) (TransitionResult, error) {
	t, err := t.normalize()
	if err != nil {
		return TransitionResult{}, err
	}

	var result TransitionResult
	err = runInTx(ctx, a.db, "transition.apply", func(tx *gorm.DB) error {
		result = TransitionResult{}

		if t.Event != nil {
			seen, err := a.subscriptions.hasEventTx(tx, t.Event.EventID)
			if err != nil {
				return err
			}
			if seen {
				result.Outcome = OutcomeDuplicate
				return a.load(tx, t.UID, &result)
			}
		}

		account, err := a.accounts.lockTx(tx, t.UID)
		if errors.Is(err, apperror.ErrNotFound) && t.Origin.webhook() {
			result.Outcome = OutcomeUnknownAccount
			return a.subscriptions.recordEventTx(tx, auditRow(t, model.WebhookUnknownAccount))
		}
		if err != nil {
			return err
		}

		sub, exists, err := a.subscriptions.lockTx(tx, t.UID)
		if err != nil {
			return err
		}
		if t.Event != nil && sub.LastEvent.EventID == t.Event.EventID {
			result.Outcome = OutcomeDuplicate
			return a.load(tx, t.UID, &result)
		}

		now := monotonic(a.now(), account.UpdatedAt)
		if err := a.accounts.updateTx(tx, t.UID, accountChange(t, now)); err != nil {
			return err
		}
		if err := a.subscriptions.upsertTx(tx, t.UID, exists, subscriptionChange(t, now)); err != nil {
			return err
		}
		if t.Event != nil {
			if err := a.subscriptions.recordEventTx(tx, auditRow(t, model.WebhookApplied)); err != nil {
				return err
			}
		}
		if err := database.Notify(tx, notify.Channel, t.UID); err != nil {
			return err
		}

		result.Outcome = OutcomeApplied
		return a.load(tx, t.UID, &result)
	})
	if err != nil {
		return TransitionResult{}, err
	}
	return result, nil
}

func (a *TransitionApplier) load(tx *gorm.DB, uid string, result *TransitionResult) error {
	account, err := a.accounts.getTx(tx, uid)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	sub, _, err := a.subscriptions.getTx(tx, uid)
	if err != nil {
		return err
	}
	result.Account = account
	result.Subscription = sub
	return nil
}

// accountChange applies the reset rule: entering trial always zeroes usage,
// entering pro leaves the counter alone.
func accountChange(t Transition, now time.Time) accountUpdate {
	plan := t.Plan
	update := accountUpdate{Plan: &plan, UpdatedAt: now}
	if plan == model.PlanTrial {
		zero := 0
		update.UsedCount = &zero
	}
	return update
}

func subscriptionChange(t Transition, now time.Time) subscriptionUpdate {
	update := subscriptionUpdate{UpdatedAt: now, Event: t.Event}

	switch t.Origin {
	case OriginAdmin:
		update.SetProvider = true
		if t.Plan == model.PlanPro {
			provider := model.ProviderAdmin
			update.Status = model.StatusActive
			update.Provider = &provider
		} else {
			update.Status = model.StatusCanceled
		}
	case OriginCheckoutCompleted:
		provider := model.ProviderStripe
		update.Status = model.StatusActive
		update.SetProvider = true
		update.Provider = &provider
		update.Stripe = t.Stripe
	case OriginSubscriptionDeleted:
		update.Status = model.StatusCanceled
	}
	return update
}

func auditRow(t Transition, result model.WebhookResult) model.WebhookEvent {
	row := model.WebhookEvent{
		ID:     t.Event.EventID,
		Type:   t.Event.Type,
		UID:    t.UID,
		Result: result,
	}
	if len(t.Payload) > 0 {
		row.Payload = datatypes.JSON(t.Payload)
	}
	return row
}
