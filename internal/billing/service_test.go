package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"metalcalc_backend/internal/model"
	"metalcalc_backend/internal/notify"
	"metalcalc_backend/internal/testutil"
	"metalcalc_backend/pkg/apperror"
	"metalcalc_backend/pkg/subscription"
)

type recordingPublisher struct {
	mu    sync.Mutex
	snaps []notify.Snapshot
}

func (p *recordingPublisher) Publish(s notify.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snaps = append(p.snaps, s)
}

func (p *recordingPublisher) last() notify.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snaps[len(p.snaps)-1]
}

type fixture struct {
	db    *gorm.DB
	svc   *Service
	pub   *recordingPublisher
	clock *testutil.Clock
	ctx   context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	clock := testutil.NewClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	pub := &recordingPublisher{}
	svc := NewService(db, Config{TrialLimit: subscription.DefaultTrialLimit, Now: clock.Now}, pub, nil, zerolog.Nop())
	return &fixture{db: db, svc: svc, pub: pub, clock: clock, ctx: context.Background()}
}

func (f *fixture) account(t *testing.T, uid string) model.Account {
	t.Helper()
	a, err := f.svc.Account(f.ctx, uid)
	require.NoError(t, err)
	return a
}

func (f *fixture) subscription(t *testing.T, uid string) model.Subscription {
	t.Helper()
	s, err := f.svc.Subscription(f.ctx, uid)
	require.NoError(t, err)
	return s
}

func (f *fixture) trialUser(t *testing.T, uid string, used int) {
	t.Helper()
	_, err := f.svc.EnsureAccount(f.ctx, uid, uid+"@example.com")
	require.NoError(t, err)
	for i := 0; i < used; i++ {
		_, err := f.svc.CheckAndConsume(f.ctx, uid)
		require.NoError(t, err)
	}
}

func TestEnsureAccountCreatesTrialOnce(t *testing.T) {
	f := newFixture(t)

	first, err := f.svc.EnsureAccount(f.ctx, "u1", "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.PlanTrial, first.Plan)
	assert.Equal(t, 0, first.UsedCount)
	assert.Equal(t, model.RoleUser, first.Role)
	assert.Nil(t, first.LastCalcAt)

	f.clock.Advance(time.Hour)
	second, err := f.svc.EnsureAccount(f.ctx, "u1", "other@example.com")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", second.Email)
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))

	assert.Len(t, f.pub.snaps, 1)
	assert.Equal(t, model.StatusNone, f.subscription(t, "u1").Status)
}

func TestEnsureAccountConcurrentFirstAccess(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.EnsureAccount(f.ctx, "u1", "a@example.com")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var count int64
	require.NoError(t, f.db.Model(&model.Account{}).Where("uid = ?", "u1").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestEnsureAccountRequiresUID(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.EnsureAccount(f.ctx, "", "a@example.com")
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

// Scenario A
func TestTrialAllowsExactlyLimitSequentialActions(t *testing.T) {
	f := newFixture(t)
	f.trialUser(t, "u1", 0)

	for i := 1; i <= 5; i++ {
		ent, err := f.svc.CheckAndConsume(f.ctx, "u1")
		require.NoError(t, err, "call %d", i)
		assert.Equal(t, 5-i, ent.Remaining)
	}
	assert.Equal(t, 5, f.account(t, "u1").UsedCount)

	ent, err := f.svc.CheckAndConsume(f.ctx, "u1")
	assert.ErrorIs(t, err, apperror.ErrQuotaExceeded)
	assert.False(t, ent.Allowed)
	assert.Equal(t, 0, ent.Remaining)
	assert.Equal(t, 5, f.account(t, "u1").UsedCount)
}

func TestConsumeStampsTimes(t *testing.T) {
	f := newFixture(t)
	f.trialUser(t, "u1", 0)
	f.clock.Advance(time.Minute)

	_, err := f.svc.CheckAndConsume(f.ctx, "u1")
	require.NoError(t, err)

	a := f.account(t, "u1")
	require.NotNil(t, a.LastCalcAt)
	assert.True(t, a.LastCalcAt.Equal(f.clock.Now()))
	assert.True(t, a.UpdatedAt.Equal(f.clock.Now()))
	assert.Equal(t, int64(1), a.Revision)
	assert.Equal(t, 1, f.pub.last().Account.UsedCount)
}

func TestConcurrentConsumeNeverExceedsLimit(t *testing.T) {
	f := newFixture(t)
	f.trialUser(t, "u1", 0)

	const callers = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
		denied  int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CheckAndConsume(f.ctx, "u1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				allowed++
			case errors.Is(err, apperror.ErrQuotaExceeded):
				denied++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, allowed)
	assert.Equal(t, callers-5, denied)
	assert.Equal(t, 5, f.account(t, "u1").UsedCount)
}

func TestConsumeUnknownAccount(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.usage.Consume(f.ctx, "ghost")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestConsumeOnProIsNoop(t *testing.T) {
	f := newFixture(t)
	f.trialUser(t, "u1", 2)
	_, err := f.svc.SetPlan(f.ctx, "u1", model.PlanPro)
	require.NoError(t, err)
	before := f.account(t, "u1")

	account, charged, err := f.svc.usage.Consume(f.ctx, "u1")
	require.NoError(t, err)
	assert.False(t, charged)
	assert.Equal(t, 2, account.UsedCount)
	assert.Equal(t, before.Revision, f.account(t, "u1").Revision)

	for i := 0; i < 10; i++ {
		ent, err := f.svc.CheckAndConsume(f.ctx, "u1")
		require.NoError(t, err)
		assert.True(t, ent.Unlimited())
	}
	assert.Equal(t, 2, f.account(t, "u1").UsedCount)
}

func TestRunMeteredChargesAfterProduction(t *testing.T) {
	f := newFixture(t)
	f.trialUser(t, "u1", 0)

	_, err := f.svc.RunMetered(f.ctx, "u1", func(context.Context, subscription.Entitlement) error {
		return errors.New("pdf failed")
	})
	assert.EqualError(t, err, "pdf failed")
	assert.Equal(t, 0, f.account(t, "u1").UsedCount)

	produced := false
	ent, err := f.svc.RunMetered(f.ctx, "u1", func(_ context.Context, pre subscription.Entitlement) error {
		produced = true
		assert.Equal(t, 5, pre.Remaining)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, produced)
	assert.Equal(t, 4, ent.Remaining)
	assert.Equal(t, 1, f.account(t, "u1").UsedCount)
}

func TestRunMeteredLosesRaceForLastSlot(t *testing.T) {
	f := newFixture(t)
	f.trialUser(t, "u1", 4)

	_, err := f.svc.RunMetered(f.ctx, "u1", func(ctx context.Context, _ subscription.Entitlement) error {
		// another session takes the last slot while this one is producing
		_, err := f.svc.CheckAndConsume(ctx, "u1")
		return err
	})
	assert.ErrorIs(t, err, apperror.ErrQuotaExceeded)
	assert.Equal(t, 5, f.account(t, "u1").UsedCount)
}

func TestRunMeteredDeniedDoesNotProduce(t *testing.T) {
	f := newFixture(t)
	f.trialUser(t, "u1", 5)

	called := false
	_, err := f.svc.RunMetered(f.ctx, "u1", func(context.Context, subscription.Entitlement) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, apperror.ErrQuotaExceeded)
	assert.False(t, called)
}

// Scenario B
func TestAdminSetPlanProKeepsUsage(t *testing.T) {
	f := newFixture(t)
	f.trialUser(t, "u1", 3)

	snap, err := f.svc.SetPlan(f.ctx, "u1", model.PlanPro)
	require.NoError(t, err)

	a := f.account(t, "u1")
	assert.Equal(t, model.PlanPro, a.Plan)
	assert.Equal(t, 3, a.UsedCount)

	s := f.subscription(t, "u1")
	assert.Equal(t, model.StatusActive, s.Status)
	require.NotNil(t, s.Provider)
	assert.Equal(t, model.ProviderAdmin, *s.Provider)

	assert.Equal(t, a.Revision, snap.Revision)
	assert.Equal(t, model.PlanPro, f.pub.last().Account.Plan)
}

func TestAdminSetPlanTrialResetsAndCancels(t *testing.T) {
	f := newFixture(t)
	f.trialUser(t, "u1", 3)
	_, err := f.svc.SetPlan(f.ctx, "u1", model.PlanPro)
	require.NoError(t, err)

	_, err = f.svc.SetPlan(f.ctx, "u1", model.PlanTrial)
	require.NoError(t, err)

	a := f.account(t, "u1")
	assert.Equal(t, model.PlanTrial, a.Plan)
	assert.Equal(t, 0, a.UsedCount)

	s := f.subscription(t, "u1")
	assert.Equal(t, model.StatusCanceled, s.Status)
	assert.Nil(t, s.Provider)
}

func TestReaffirmedTrialResetsUsage(t *testing.T) {
	f := newFixture(t)
	f.trialUser(t, "u1", 5)

	_, err := f.svc.SetPlan(f.ctx, "u1", model.PlanTrial)
	require.NoError(t, err)
	assert.Equal(t, 0, f.account(t, "u1").UsedCount)
}

func TestAdminSetPlanValidation(t *testing.T) {
	f := newFixture(t)
	f.trialUser(t, "u1", 1)
	before := f.account(t, "u1")

	_, err := f.svc.SetPlan(f.ctx, "u1", model.Plan("enterprise"))
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = f.svc.SetPlan(f.ctx, "", model.PlanPro)
	assert.ErrorIs(t, err, apperror.ErrValidation)

	assert.Equal(t, before, f.account(t, "u1"))
}

func TestAdminSetPlanUnknownAccount(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SetPlan(f.ctx, "ghost", model.PlanPro)
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	var count int64
	require.NoError(t, f.db.Model(&model.Subscription{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestResetUsage(t *testing.T) {
	f := newFixture(t)
	f.trialUser(t, "u1", 5)

	snap, err := f.svc.ResetUsage(f.ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Account.UsedCount)

	ent, err := f.svc.Entitlement(f.ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ent.Allowed)
	assert.Equal(t, 5, ent.Remaining)

	_, err = f.svc.ResetUsage(f.ctx, "ghost")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestSetRole(t *testing.T) {
	f := newFixture(t)
	f.trialUser(t, "u1", 2)

	a, err := f.svc.SetRole(f.ctx, "u1", model.RoleAdmin)
	require.NoError(t, err)
	assert.True(t, a.IsAdmin())
	assert.Equal(t, 2, a.UsedCount)
	assert.Equal(t, model.PlanTrial, a.Plan)

	_, err = f.svc.SetRole(f.ctx, "u1", model.Role("owner"))
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func checkoutEvent(uid, eventID string, periodEnd time.Time) CheckoutCompleted {
	at := time.Date(2024, 6, 1, 11, 0, 0, 0, time.UTC)
	return CheckoutCompleted{
		UID:   uid,
		Event: model.LastEvent{EventID: eventID, Type: "checkout.session.completed", At: &at},
		Stripe: StripeDetails{
			CustomerID:       "cus_1",
			SubscriptionID:   "sub_1",
			PriceID:          "price_pro",
			CurrentPeriodEnd: &periodEnd,
		},
		Payload: []byte(`{"id":"` + eventID + `"}`),
	}
}

func TestCheckoutCompletedUpgrades(t *testing.T) {
	f := newFixture(t)
	f.trialUser(t, "u1", 4)
	periodEnd := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	outcome, err := f.svc.HandleCheckoutCompleted(f.ctx, checkoutEvent("u1", "evt_1", periodEnd))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	a := f.account(t, "u1")
	assert.Equal(t, model.PlanPro, a.Plan)
	assert.Equal(t, 4, a.UsedCount)

	s := f.subscription(t, "u1")
	assert.Equal(t, model.StatusActive, s.Status)
	require.NotNil(t, s.Provider)
	assert.Equal(t, model.ProviderStripe, *s.Provider)
	require.NotNil(t, s.PriceID)
	assert.Equal(t, "price_pro", *s.PriceID)
	require.NotNil(t, s.CurrentPeriodEnd)
	assert.True(t, s.CurrentPeriodEnd.Equal(periodEnd))
	require.NotNil(t, s.StripeSubscriptionID)
	assert.Equal(t, "sub_1", *s.StripeSubscriptionID)
	assert.Equal(t, "evt_1", s.LastEvent.EventID)
	assert.Equal(t, "checkout.session.completed", s.LastEvent.Type)

	var audit model.WebhookEvent
	require.NoError(t, f.db.Where("id = ?", "evt_1").Take(&audit).Error)
	assert.Equal(t, model.WebhookApplied, audit.Result)
	assert.Equal(t, "u1", audit.UID)
}

func TestCheckoutCompletedIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.trialUser(t, "u1", 1)
	periodEnd := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	_, err := f.svc.HandleCheckoutCompleted(f.ctx, checkoutEvent("u1", "evt_1", periodEnd))
	require.NoError(t, err)
	onceAccount := f.account(t, "u1")
	onceSub := f.subscription(t, "u1")

	f.clock.Advance(time.Hour)
	outcome, err := f.svc.HandleCheckoutCompleted(f.ctx, checkoutEvent("u1", "evt_1", periodEnd))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	assert.Equal(t, onceAccount, f.account(t, "u1"))
	assert.Equal(t, onceSub, f.subscription(t, "u1"))
}

func TestLastEventWithoutTimestampClearsPreviousOne(t *testing.T) {
	f := newFixture(t)
	f.trialUser(t, "u1", 0)
	periodEnd := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	_, err := f.svc.HandleCheckoutCompleted(f.ctx, checkoutEvent("u1", "evt_1", periodEnd))
	require.NoError(t, err)
	require.NotNil(t, f.subscription(t, "u1").LastEvent.At)

	outcome, err := f.svc.HandleSubscriptionDeleted(f.ctx, SubscriptionDeleted{
		UID:   "u1",
		Event: model.LastEvent{EventID: "evt_2", Type: "customer.subscription.deleted"},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	last := f.subscription(t, "u1").LastEvent
	assert.Equal(t, "evt_2", last.EventID)
	assert.Equal(t, "customer.subscription.deleted", last.Type)
	assert.Nil(t, last.At)
}

func TestRedeliveredEventDoesNotUndoLaterChange(t *testing.T) {
	f := newFixture(t)
	f.trialUser(t, "u1", 0)
	periodEnd := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	_, err := f.svc.HandleCheckoutCompleted(f.ctx, checkoutEvent("u1", "evt_1", periodEnd))
	require.NoError(t, err)
	_, err = f.svc.SetPlan(f.ctx, "u1", model.PlanTrial)
	require.NoError(t, err)

	outcome, err := f.svc.HandleCheckoutCompleted(f.ctx, checkoutEvent("u1", "evt_1", periodEnd))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, model.PlanTrial, f.account(t, "u1").Plan)
}

// Scenario C
func TestSubscriptionDeletedRevertsToTrial(t *testing.T) {
	f := newFixture(t)
	f.trialUser(t, "u1", 3)
	periodEnd := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	_, err := f.svc.HandleCheckoutCompleted(f.ctx, checkoutEvent("u1", "evt_1", periodEnd))
	require.NoError(t, err)

	outcome, err := f.svc.HandleSubscriptionDeleted(f.ctx, SubscriptionDeleted{
		UID:   "u1",
		Event: model.LastEvent{EventID: "evt_2", Type: "customer.subscription.deleted"},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	a := f.account(t, "u1")
	assert.Equal(t, model.PlanTrial, a.Plan)
	assert.Equal(t, 0, a.UsedCount)

	s := f.subscription(t, "u1")
	assert.Equal(t, model.StatusCanceled, s.Status)
	require.NotNil(t, s.Provider)
	assert.Equal(t, model.ProviderStripe, *s.Provider)
	assert.Equal(t, "evt_2", s.LastEvent.EventID)
}

func TestSubscriptionDeletedResolvesByStripeID(t *testing.T) {
	f := newFixture(t)
	f.trialUser(t, "u1", 0)
	periodEnd := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	_, err := f.svc.HandleCheckoutCompleted(f.ctx, checkoutEvent("u1", "evt_1", periodEnd))
	require.NoError(t, err)

	outcome, err := f.svc.HandleSubscriptionDeleted(f.ctx, SubscriptionDeleted{
		StripeSubscriptionID: "sub_1",
		Event:                model.LastEvent{EventID: "evt_2", Type: "customer.subscription.deleted"},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, model.PlanTrial, f.account(t, "u1").Plan)
}

// Scenario D
func TestWebhookForUnknownAccountIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	periodEnd := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	outcome, err := f.svc.HandleCheckoutCompleted(f.ctx, checkoutEvent("ghost", "evt_9", periodEnd))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknownAccount, outcome)

	var accounts, subs int64
	require.NoError(t, f.db.Model(&model.Account{}).Count(&accounts).Error)
	require.NoError(t, f.db.Model(&model.Subscription{}).Count(&subs).Error)
	assert.Zero(t, accounts)
	assert.Zero(t, subs)
	assert.Empty(t, f.pub.snaps)

	var audit model.WebhookEvent
	require.NoError(t, f.db.Where("id = ?", "evt_9").Take(&audit).Error)
	assert.Equal(t, model.WebhookUnknownAccount, audit.Result)

	outcome, err = f.svc.HandleSubscriptionDeleted(f.ctx, SubscriptionDeleted{
		StripeSubscriptionID: "sub_missing",
		Event:                model.LastEvent{EventID: "evt_10", Type: "customer.subscription.deleted"},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknownAccount, outcome)
}

func TestWebhookTransitionNeedsEventID(t *testing.T) {
	f := newFixture(t)
	f.trialUser(t, "u1", 0)

	_, err := f.svc.HandleCheckoutCompleted(f.ctx, CheckoutCompleted{UID: "u1"})
	assert.ErrorIs(t, err, apperror.ErrValidation)
	assert.Equal(t, model.PlanTrial, f.account(t, "u1").Plan)
}

func TestEveryTrialTransitionResetsUsage(t *testing.T) {
	periodEnd := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	toTrial := map[string]func(f *fixture) error{
		"admin": func(f *fixture) error {
			_, err := f.svc.SetPlan(f.ctx, "u1", model.PlanTrial)
			return err
		},
		"webhook": func(f *fixture) error {
			_, err := f.svc.HandleSubscriptionDeleted(f.ctx, SubscriptionDeleted{
				UID:   "u1",
				Event: model.LastEvent{EventID: "evt_del", Type: "customer.subscription.deleted"},
			})
			return err
		},
	}
	fromPro := []bool{false, true}

	for name, transition := range toTrial {
		for _, pro := range fromPro {
			f := newFixture(t)
			f.trialUser(t, "u1", 4)
			if pro {
				_, err := f.svc.HandleCheckoutCompleted(f.ctx, checkoutEvent("u1", "evt_up", periodEnd))
				require.NoError(t, err)
			}
			require.NoError(t, transition(f), name)
			a := f.account(t, "u1")
			assert.Equal(t, model.PlanTrial, a.Plan, name)
			assert.Equal(t, 0, a.UsedCount, "%s from pro=%v", name, pro)
		}
	}
}

func TestUpdatedAtNeverMovesBackwards(t *testing.T) {
	f := newFixture(t)
	f.trialUser(t, "u1", 1)
	before := f.account(t, "u1").UpdatedAt

	f.clock.Advance(-time.Hour)
	_, err := f.svc.SetPlan(f.ctx, "u1", model.PlanPro)
	require.NoError(t, err)

	assert.False(t, f.account(t, "u1").UpdatedAt.Before(before))
}

func TestConsumeKeepsUpdatedAtWhenClockIsBehind(t *testing.T) {
	f := newFixture(t)
	f.trialUser(t, "u1", 0)

	f.clock.Advance(time.Hour)
	_, err := f.svc.ResetUsage(f.ctx, "u1")
	require.NoError(t, err)
	before := f.account(t, "u1").UpdatedAt

	f.clock.Advance(-2 * time.Hour)
	_, err = f.svc.CheckAndConsume(f.ctx, "u1")
	require.NoError(t, err)

	after := f.account(t, "u1")
	assert.Equal(t, 1, after.UsedCount)
	assert.False(t, after.UpdatedAt.Before(before), "updated_at moved from %s to %s", before, after.UpdatedAt)
	require.NotNil(t, after.LastCalcAt)
	assert.True(t, after.LastCalcAt.Equal(f.clock.Now()))

	f.clock.Advance(3 * time.Hour)
	_, err = f.svc.CheckAndConsume(f.ctx, "u1")
	require.NoError(t, err)
	assert.True(t, f.account(t, "u1").UpdatedAt.Equal(f.clock.Now()))
}

func TestListAccounts(t *testing.T) {
	f := newFixture(t)
	f.trialUser(t, "u1", 2)
	f.clock.Advance(time.Second)
	f.trialUser(t, "u2", 0)
	_, err := f.svc.SetPlan(f.ctx, "u2", model.PlanPro)
	require.NoError(t, err)

	views, err := f.svc.ListAccounts(f.ctx)
	require.NoError(t, err)
	require.Len(t, views, 2)

	byUID := map[string]AccountView{}
	for _, v := range views {
		byUID[v.Account.UID] = v
	}
	assert.Equal(t, 3, byUID["u1"].Entitlement.Remaining)
	assert.Equal(t, model.StatusNone, byUID["u1"].Subscription.Status)
	assert.True(t, byUID["u2"].Entitlement.Unlimited())
	assert.Equal(t, model.StatusActive, byUID["u2"].Subscription.Status)
}

func TestHubSeesCommittedChanges(t *testing.T) {
	f := newFixture(t)
	hub := notify.NewHub(f.svc)
	f.svc.SetPublisher(hub)
	f.trialUser(t, "u1", 0)

	ctx, cancel := context.WithTimeout(f.ctx, 2*time.Second)
	defer cancel()
	sub, err := hub.Subscribe(ctx, "u1")
	require.NoError(t, err)
	defer sub.Close()

	first, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, first.Account.UsedCount)

	_, err = f.svc.CheckAndConsume(f.ctx, "u1")
	require.NoError(t, err)
	_, err = f.svc.SetPlan(f.ctx, "u1", model.PlanPro)
	require.NoError(t, err)

	latest, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.PlanPro, latest.Account.Plan)
	assert.Equal(t, model.StatusActive, latest.Subscription.Status)
	assert.Greater(t, latest.Revision, first.Revision)
}
