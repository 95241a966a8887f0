// Package billing owns the entitlement state of every user: the account
// record, its subscription satellite, metered usage and plan transitions.
//
// Three independent callers write here: the user's own metered actions, the
// admin surface and the payment webhook. Each write is one transaction keyed
// by uid, and every commit is published to the change notifier.
package billing

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"metalcalc_backend/internal/model"
	"metalcalc_backend/internal/notify"
	"metalcalc_backend/pkg/apperror"
	"metalcalc_backend/pkg/database"
	"metalcalc_backend/pkg/metrics"
	"metalcalc_backend/pkg/subscription"
)

// Mailer sends best-effort plan notices after a transition commits.
type Mailer interface {
	SendPlanUpgradedEmail(ctx context.Context, to string, periodEnd *time.Time) error
	SendPlanCanceledEmail(ctx context.Context, to string) error
}

type Config struct {
	TrialLimit int
	Now        func() time.Time
}

type Service struct {
	accounts      *AccountStore
	subscriptions *SubscriptionStore
	usage         *UsageMutator
	transitions   *TransitionApplier
	evaluator     subscription.Evaluator

	publisher notify.Publisher
	mailer    Mailer
	logger    zerolog.Logger
	mailWait  time.Duration
}

func NewService(db *gorm.DB, cfg Config, publisher notify.Publisher, mailer Mailer, logger zerolog.Logger) *Service {
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	accounts := NewAccountStore(db)
	subs := NewSubscriptionStore(db)

	return &Service{
		accounts:      accounts,
		subscriptions: subs,
		usage:         NewUsageMutator(db, accounts, cfg.TrialLimit, now),
		transitions:   NewTransitionApplier(db, accounts, subs, now),
		evaluator:     subscription.NewEvaluator(cfg.TrialLimit),
		publisher:     publisher,
		mailer:        mailer,
		logger:        logger,
		mailWait:      10 * time.Second,
	}
}

// SetPublisher attaches the change notifier. The hub reads snapshots through
// the service, so it can only be attached after construction.
func (s *Service) SetPublisher(publisher notify.Publisher) {
	s.publisher = publisher
}

func (s *Service) Evaluator() subscription.Evaluator {
	return s.evaluator
}

// EnsureAccount returns uid's account, creating a trial account on first access.
func (s *Service) EnsureAccount(ctx context.Context, uid, email string) (model.Account, error) {
	if uid == "" {
		return model.Account{}, apperror.Validation("accounts.ensure", "uid is required")
	}
	account, created, err := s.accounts.Ensure(ctx, uid, email, s.usage.now())
	if err != nil {
		return model.Account{}, err
	}
	if created {
		s.logger.Info().Str("uid", uid).Msg("Account created")
		s.publishAccount(ctx, account)
	}
	return account, nil
}

func (s *Service) Account(ctx context.Context, uid string) (model.Account, error) {
	return s.accounts.Get(ctx, uid)
}

func (s *Service) Subscription(ctx context.Context, uid string) (model.Subscription, error) {
	return s.subscriptions.Get(ctx, uid)
}

// Snapshot implements notify.Loader.
func (s *Service) Snapshot(ctx context.Context, uid string) (notify.Snapshot, error) {
	account, err := s.accounts.Get(ctx, uid)
	if err != nil {
		return notify.Snapshot{}, err
	}
	sub, err := s.subscriptions.Get(ctx, uid)
	if err != nil {
		return notify.Snapshot{}, err
	}
	return newSnapshot(account, sub), nil
}

func (s *Service) Entitlement(ctx context.Context, uid string) (subscription.Entitlement, error) {
	account, err := s.accounts.Get(ctx, uid)
	if err != nil {
		return subscription.Entitlement{}, err
	}
	return s.evaluator.Evaluate(account), nil
}

// CheckAndConsume evaluates uid's entitlement on a fresh read and, when
// allowed, charges one metered action.
func (s *Service) CheckAndConsume(ctx context.Context, uid string) (subscription.Entitlement, error) {
	return s.RunMetered(ctx, uid, nil)
}

// RunMetered gates produce behind uid's entitlement and charges usage only
// after produce succeeds. If another request used the last trial action while
// produce ran, the charge fails with ErrQuotaExceeded and the caller must
// discard what produce made.
func (s *Service) RunMetered(ctx context.Context, uid string, produce func(context.Context, subscription.Entitlement) error) (subscription.Entitlement, error) {
	ent, err := s.Entitlement(ctx, uid)
	if err != nil {
		metrics.RecordMeteredAction("failed")
		return subscription.Entitlement{}, err
	}
	if !ent.Allowed {
		metrics.RecordMeteredAction("denied")
		return ent, apperror.QuotaExceeded("metered.check", s.evaluator.Limit)
	}

	if produce != nil {
		if err := produce(ctx, ent); err != nil {
			metrics.RecordMeteredAction("failed")
			return ent, err
		}
	}

	account, charged, err := s.usage.Consume(ctx, uid)
	if errors.Is(err, apperror.ErrQuotaExceeded) {
		metrics.RecordMeteredAction("denied")
		s.logger.Info().Str("uid", uid).Msg("Metered action lost the race for the last trial slot")
		return s.evaluator.Evaluate(account), err
	}
	if err != nil {
		metrics.RecordMeteredAction("failed")
		return ent, err
	}

	if charged {
		metrics.RecordMeteredAction("charged")
		s.publishAccount(ctx, account)
	} else {
		metrics.RecordMeteredAction("unlimited")
	}
	return s.evaluator.Evaluate(account), nil
}

// SetPlan is the admin override.
func (s *Service) SetPlan(ctx context.Context, uid string, plan model.Plan) (notify.Snapshot, error) {
	res, err := s.apply(ctx, Transition{UID: uid, Plan: plan, Origin: OriginAdmin})
	if err != nil {
		return notify.Snapshot{}, err
	}
	return newSnapshot(res.Account, res.Subscription), nil
}

// ResetUsage is the admin counter reset.
func (s *Service) ResetUsage(ctx context.Context, uid string) (notify.Snapshot, error) {
	account, err := s.usage.Reset(ctx, uid)
	if err != nil {
		return notify.Snapshot{}, err
	}
	s.logger.Info().Str("uid", uid).Msg("Usage reset")
	s.publishAccount(ctx, account)
	return s.Snapshot(ctx, uid)
}

// SetRole grants or revokes admin. It touches only the role column.
func (s *Service) SetRole(ctx context.Context, uid string, role model.Role) (model.Account, error) {
	if uid == "" {
		return model.Account{}, apperror.Validation("accounts.set_role", "uid is required")
	}
	if !role.Valid() {
		return model.Account{}, apperror.Validation("accounts.set_role", "unsupported role %q", role)
	}

	var account model.Account
	err := runInTx(ctx, s.accounts.db, "accounts.set_role", func(tx *gorm.DB) error {
		current, err := s.accounts.lockTx(tx, uid)
		if err != nil {
			return err
		}
		if err := s.accounts.updateTx(tx, uid, accountUpdate{
			Role:      &role,
			UpdatedAt: monotonic(s.usage.now(), current.UpdatedAt),
		}); err != nil {
			return err
		}
		if account, err = s.accounts.getTx(tx, uid); err != nil {
			return err
		}
		return database.Notify(tx, notify.Channel, uid)
	})
	if err != nil {
		return model.Account{}, err
	}
	s.publishAccount(ctx, account)
	return account, nil
}

// CheckoutCompleted is a verified checkout.session.completed event.
type CheckoutCompleted struct {
	UID     string
	Event   model.LastEvent
	Stripe  StripeDetails
	Payload []byte
}

// HandleCheckoutCompleted upgrades ev.UID to pro. A session that carries no
// uid is audited as unknown_account and acknowledged.
func (s *Service) HandleCheckoutCompleted(ctx context.Context, ev CheckoutCompleted) (Outcome, error) {
	if ev.UID == "" && ev.Event.EventID != "" {
		return s.recordUnknown(ctx, OriginCheckoutCompleted, ev.Event, ev.Payload)
	}

	event := ev.Event
	stripeDetails := ev.Stripe
	res, err := s.apply(ctx, Transition{
		UID:     ev.UID,
		Plan:    model.PlanPro,
		Origin:  OriginCheckoutCompleted,
		Stripe:  &stripeDetails,
		Event:   &event,
		Payload: ev.Payload,
	})
	return res.Outcome, err
}

// SubscriptionDeleted is a verified customer.subscription.deleted event. UID
// may be empty, in which case the record is found by StripeSubscriptionID.
type SubscriptionDeleted struct {
	UID                  string
	StripeSubscriptionID string
	Event                model.LastEvent
	Payload              []byte
}

func (s *Service) HandleSubscriptionDeleted(ctx context.Context, ev SubscriptionDeleted) (Outcome, error) {
	uid := ev.UID
	if uid == "" && ev.StripeSubscriptionID != "" {
		sub, err := s.subscriptions.FindByStripeID(ctx, ev.StripeSubscriptionID)
		switch {
		case err == nil:
			uid = sub.UID
		case !errors.Is(err, apperror.ErrNotFound):
			return "", err
		}
	}
	if uid == "" {
		if ev.Event.EventID == "" {
			return "", apperror.Validation("transition.validate", "webhook transitions need an event id")
		}
		s.logger.Warn().Str("stripe_subscription", ev.StripeSubscriptionID).Msg("Subscription deletion matches no stored subscription")
		return s.recordUnknown(ctx, OriginSubscriptionDeleted, ev.Event, ev.Payload)
	}

	event := ev.Event
	res, err := s.apply(ctx, Transition{
		UID:     uid,
		Plan:    model.PlanTrial,
		Origin:  OriginSubscriptionDeleted,
		Event:   &event,
		Payload: ev.Payload,
	})
	return res.Outcome, err
}

func (s *Service) recordUnknown(ctx context.Context, origin Origin, event model.LastEvent, payload []byte) (Outcome, error) {
	s.logger.Warn().Str("event_id", event.EventID).Str("origin", string(origin)).
		Msg("Webhook for unknown account, acknowledging")
	metrics.RecordPlanTransition(string(origin), string(OutcomeUnknownAccount))

	row := model.WebhookEvent{
		ID:     event.EventID,
		Type:   event.Type,
		Result: model.WebhookUnknownAccount,
	}
	if len(payload) > 0 {
		row.Payload = datatypes.JSON(payload)
	}
	if err := s.subscriptions.RecordEvent(ctx, row); err != nil {
		return "", err
	}
	return OutcomeUnknownAccount, nil
}

// RecordIgnoredEvent audits a verified event type we do not act on.
func (s *Service) RecordIgnoredEvent(ctx context.Context, event model.LastEvent, uid string) error {
	return s.subscriptions.RecordEvent(ctx, model.WebhookEvent{
		ID:     event.EventID,
		Type:   event.Type,
		UID:    uid,
		Result: model.WebhookIgnored,
	})
}

// AccountView is one row of the admin listing.
type AccountView struct {
	Account      model.Account            `json:"account"`
	Subscription model.Subscription       `json:"subscription"`
	Entitlement  subscription.Entitlement `json:"entitlement"`
}

func (s *Service) ListAccounts(ctx context.Context) ([]AccountView, error) {
	accounts, err := s.accounts.List(ctx)
	if err != nil {
		return nil, err
	}
	subs, err := s.subscriptions.List(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]AccountView, 0, len(accounts))
	for _, account := range accounts {
		sub, ok := subs[account.UID]
		if !ok {
			sub = model.NoSubscription(account.UID)
		}
		views = append(views, AccountView{
			Account:      account,
			Subscription: sub,
			Entitlement:  s.evaluator.Evaluate(account),
		})
	}
	return views, nil
}

func (s *Service) apply(ctx context.Context, t Transition) (TransitionResult, error) {
	res, err := s.transitions.Apply(ctx, t)
	if err != nil {
		metrics.RecordPlanTransition(string(t.Origin), string(apperror.KindOf(err)))
		return TransitionResult{}, err
	}
	metrics.RecordPlanTransition(string(t.Origin), string(res.Outcome))

	logEvent := s.logger.Info()
	if res.Outcome == OutcomeUnknownAccount {
		logEvent = s.logger.Warn()
	}
	logEvent.Str("uid", t.UID).Str("origin", string(t.Origin)).Str("plan", string(t.Plan)).
		Str("outcome", string(res.Outcome)).Msg("Plan transition")

	if res.Outcome == OutcomeApplied {
		s.publish(newSnapshot(res.Account, res.Subscription))
		s.notifyByMail(t, res)
	}
	return res, nil
}

func (s *Service) publishAccount(ctx context.Context, account model.Account) {
	if s.publisher == nil {
		return
	}
	sub, err := s.subscriptions.Get(ctx, account.UID)
	if err != nil {
		s.logger.Warn().Err(err).Str("uid", account.UID).Msg("Could not load subscription for change notice")
		return
	}
	s.publisher.Publish(newSnapshot(account, sub))
}

func (s *Service) publish(snap notify.Snapshot) {
	if s.publisher != nil {
		s.publisher.Publish(snap)
	}
}

func (s *Service) notifyByMail(t Transition, res TransitionResult) {
	if s.mailer == nil || res.Account.Email == "" {
		return
	}
	to := res.Account.Email
	periodEnd := res.Subscription.CurrentPeriodEnd

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.mailWait)
		defer cancel()

		var err error
		if t.Plan == model.PlanPro {
			err = s.mailer.SendPlanUpgradedEmail(ctx, to, periodEnd)
		} else if t.Origin == OriginSubscriptionDeleted {
			err = s.mailer.SendPlanCanceledEmail(ctx, to)
		}
		if err != nil {
			s.logger.Warn().Err(err).Str("uid", res.Account.UID).Msg("Could not send plan e-mail")
		}
	}()
}

func newSnapshot(account model.Account, sub model.Subscription) notify.Snapshot {
	return notify.Snapshot{
		UID:          account.UID,
		Account:      account,
		Subscription: sub,
		Revision:     account.Revision,
		ObservedAt:   time.Now().UTC(),
	}
}
