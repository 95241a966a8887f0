package billing

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"metalcalc_backend/internal/model"
	"metalcalc_backend/pkg/apperror"
	"metalcalc_backend/pkg/database"
)

// SubscriptionStore owns the subscriptions table and the webhook audit log.
type SubscriptionStore struct {
	db *gorm.DB
}

func NewSubscriptionStore(db *gorm.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

// Get never fails with NotFound: a uid without a row has status none.
func (s *SubscriptionStore) Get(ctx context.Context, uid string) (model.Subscription, error) {
	sub, _, err := s.getTx(s.db.WithContext(ctx), uid)
	if err != nil {
		return model.Subscription{}, database.Classify("subscriptions.get", err)
	}
	return sub, nil
}

func (s *SubscriptionStore) FindByStripeID(ctx context.Context, stripeSubscriptionID string) (model.Subscription, error) {
	var sub model.Subscription
	err := s.db.WithContext(ctx).Where("stripe_subscription_id = ?", stripeSubscriptionID).Take(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Subscription{}, apperror.NotFound("subscriptions.find", "no subscription with stripe id %q", stripeSubscriptionID)
	}
	if err != nil {
		return model.Subscription{}, database.Classify("subscriptions.find", err)
	}
	return sub, nil
}

func (s *SubscriptionStore) List(ctx context.Context) (map[string]model.Subscription, error) {
	var subs []model.Subscription
	if err := s.db.WithContext(ctx).Find(&subs).Error; err != nil {
		return nil, database.Classify("subscriptions.list", err)
	}
	byUID := make(map[string]model.Subscription, len(subs))
	for _, sub := range subs {
		byUID[sub.UID] = sub
	}
	return byUID, nil
}

// RecordEvent stores an audit row for a provider event that did not go
// through a transition. A second row for the same event id is ignored.
func (s *SubscriptionStore) RecordEvent(ctx context.Context, event model.WebhookEvent) error {
	err := s.recordEventTx(s.db.WithContext(ctx), event)
	return database.Classify("subscriptions.record_event", err)
}

// StripeDetails is the provider payload copied onto the record at checkout.
type StripeDetails struct {
	CustomerID       string
	SubscriptionID   string
	PriceID          string
	CurrentPeriodEnd *time.Time
}

// subscriptionUpdate names every column a transition may write.
type subscriptionUpdate struct {
	Status model.SubscriptionStatus
	// SetProvider writes Provider, where nil stores NULL. Without it the
	// provider column is left as is.
	SetProvider bool
	Provider    *model.Provider
	Stripe      *StripeDetails
	Event       *model.LastEvent
	UpdatedAt   time.Time
}

func (u subscriptionUpdate) columns() map[string]interface{} {
	cols := map[string]interface{}{
		"status":     u.Status,
		"updated_at": u.UpdatedAt,
	}
	if u.SetProvider {
		if u.Provider == nil {
			cols["provider"] = nil
		} else {
			cols["provider"] = *u.Provider
		}
	}
	if u.Stripe != nil {
		cols["stripe_customer_id"] = nullable(u.Stripe.CustomerID)
		cols["stripe_subscription_id"] = nullable(u.Stripe.SubscriptionID)
		cols["price_id"] = nullable(u.Stripe.PriceID)
		if u.Stripe.CurrentPeriodEnd != nil {
			cols["current_period_end"] = *u.Stripe.CurrentPeriodEnd
		} else {
			cols["current_period_end"] = nil
		}
	}
	if u.Event != nil {
		cols["last_event_id"] = u.Event.EventID
		cols["last_event_type"] = u.Event.Type
		if u.Event.At != nil {
			cols["last_event_at"] = *u.Event.At
		} else {
			cols["last_event_at"] = nil
		}
	}
	return cols
}

func nullable(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

func (s *SubscriptionStore) getTx(tx *gorm.DB, uid string) (model.Subscription, bool, error) {
	var sub model.Subscription
	err := tx.Where("uid = ?", uid).Take(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.NoSubscription(uid), false, nil
	}
	if err != nil {
		return model.Subscription{}, false, err
	}
	return sub, true, nil
}

// lockTx must be called after the owning account row is locked, so every
// writer takes the two locks in the same order.
func (s *SubscriptionStore) lockTx(tx *gorm.DB, uid string) (model.Subscription, bool, error) {
	return s.getTx(forUpdate(tx), uid)
}

func (s *SubscriptionStore) upsertTx(tx *gorm.DB, uid string, exists bool, update subscriptionUpdate) error {
	if !exists {
		row := model.NoSubscription(uid)
		row.UpdatedAt = update.UpdatedAt
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
	}
	return tx.Model(&model.Subscription{}).Where("uid = ?", uid).Updates(update.columns()).Error
}

func (s *SubscriptionStore) hasEventTx(tx *gorm.DB, eventID string) (bool, error) {
	var count int64
	if err := tx.Model(&model.WebhookEvent{}).Where("id = ?", eventID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *SubscriptionStore) recordEventTx(tx *gorm.DB, event model.WebhookEvent) error {
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&event).Error
}
