package model

import "time"

type Provider string

const (
	ProviderStripe Provider = "stripe"
	ProviderAdmin  Provider = "admin"
)

type SubscriptionStatus string

const (
	StatusNone     SubscriptionStatus = "none"
	StatusActive   SubscriptionStatus = "active"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusCanceled SubscriptionStatus = "canceled"
)

// LastEvent is the most recent provider event applied to a subscription.
// It is kept for audit and duplicate detection, never for gating.
type LastEvent struct {
	EventID string     `json:"id" gorm:"column:id;size:255"`
	Type    string     `json:"type" gorm:"column:type;size:128"`
	At      *time.Time `json:"created_at" gorm:"column:at"`
}

// Subscription mirrors the payment provider's view of a user. It is advisory:
// Account.Plan decides access and this record should eventually agree with it.
// A missing row means StatusNone.
type Subscription struct {
	UID                  string             `json:"uid" gorm:"primaryKey;size:128"`
	Provider             *Provider          `json:"provider" gorm:"size:32"`
	Status               SubscriptionStatus `json:"status" gorm:"size:32;not null;default:none"`
	PriceID              *string            `json:"price_id" gorm:"size:255"`
	CurrentPeriodEnd     *time.Time         `json:"current_period_end"`
	StripeCustomerID     *string            `json:"stripe_customer_id,omitempty" gorm:"size:255"`
	StripeSubscriptionID *string            `json:"stripe_subscription_id,omitempty" gorm:"size:255;index"`
	LastEvent            LastEvent          `json:"last_event" gorm:"embedded;embeddedPrefix:last_event_"`
	UpdatedAt            time.Time          `json:"updated_at" gorm:"autoUpdateTime:false;not null"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

// NoSubscription is what callers see for a uid without a subscription row.
func NoSubscription(uid string) Subscription {
	return Subscription{UID: uid, Status: StatusNone}
}
