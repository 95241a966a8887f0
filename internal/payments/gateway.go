// Package payments talks to Stripe: checkout sessions, subscription lookups
// and webhook verification.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
	"github.com/stripe/stripe-go/v74/webhook"

	"metalcalc_backend/pkg/apperror"
	"metalcalc_backend/pkg/config"
)

// Event types acted on by the webhook.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// MetadataUID is the metadata key carrying our account uid through Stripe.
const MetadataUID = "uid"

var ErrNotConfigured = errors.New("stripe is not configured")

type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type SubscriptionInfo struct {
	ID               string
	CustomerID       string
	PriceID          string
	Status           string
	CurrentPeriodEnd *time.Time
}

// WebhookVerifier checks the Stripe-Signature header before any payload is
// trusted.
type WebhookVerifier struct {
	secret string
}

func NewWebhookVerifier(secret string) WebhookVerifier {
	return WebhookVerifier{secret: secret}
}

func (v WebhookVerifier) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	const op = "webhook.verify"
	if strings.TrimSpace(v.secret) == "" {
		return stripe.Event{}, apperror.Unavailable(op, ErrNotConfigured)
	}
	if strings.TrimSpace(signature) == "" {
		return stripe.Event{}, apperror.Authentication(op, errors.New("missing Stripe-Signature header"))
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, apperror.Authentication(op, err)
	}
	return event, nil
}

// Gateway wraps a per-instance Stripe client so the package-level stripe.Key
// is never touched.
type Gateway struct {
	WebhookVerifier
	api        *client.API
	priceID    string
	successURL string
	cancelURL  string
}

func NewGateway(cfg config.StripeConfig) *Gateway {
	g := &Gateway{
		WebhookVerifier: NewWebhookVerifier(cfg.WebhookSecret),
		priceID:         cfg.PriceID,
		successURL:      cfg.SuccessURL,
		cancelURL:       cfg.CancelURL,
	}
	if cfg.SecretKey != "" {
		g.api = client.New(cfg.SecretKey, nil)
	}
	return g
}

// CreateCheckoutSession starts a subscription checkout for uid. The uid is
// attached to both the session and the resulting subscription so either
// webhook can be correlated back to the account.
func (g *Gateway) CreateCheckoutSession(ctx context.Context, uid, email string) (CheckoutSession, error) {
	const op = "stripe.checkout"
	if g.api == nil || g.priceID == "" {
		return CheckoutSession{}, apperror.Unavailable(op, ErrNotConfigured)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		ClientReferenceID: stripe.String(uid),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(g.priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(g.successURL),
		CancelURL:  stripe.String(g.cancelURL),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{MetadataUID: uid},
		},
	}
	if email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	params.AddMetadata(MetadataUID, uid)
	params.Context = ctx

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return CheckoutSession{}, apperror.Unavailable(op, err)
	}
	return CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// LookupSubscription reads the price and billing period of a subscription
// created by checkout.
func (g *Gateway) LookupSubscription(ctx context.Context, id string) (SubscriptionInfo, error) {
	const op = "stripe.subscription"
	if g.api == nil {
		return SubscriptionInfo{}, apperror.Unavailable(op, ErrNotConfigured)
	}

	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := g.api.Subscriptions.Get(id, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == 404 {
			return SubscriptionInfo{}, apperror.NotFound(op, "subscription %q not found", id)
		}
		return SubscriptionInfo{}, apperror.Unavailable(op, err)
	}
	return subscriptionInfo(sub), nil
}

func subscriptionInfo(sub *stripe.Subscription) SubscriptionInfo {
	info := SubscriptionInfo{
		ID:     sub.ID,
		Status: string(sub.Status),
	}
	if sub.Customer != nil {
		info.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		info.PriceID = sub.Items.Data[0].Price.ID
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		info.CurrentPeriodEnd = &end
	}
	return info
}

// CheckoutCompleted is the part of a checkout.session.completed payload we use.
type CheckoutCompleted struct {
	SessionID      string
	UID            string
	CustomerID     string
	SubscriptionID string
}

// ParseCheckoutCompleted decodes the session and resolves its uid from
// metadata, falling back to client_reference_id.
func ParseCheckoutCompleted(event stripe.Event) (CheckoutCompleted, error) {
	var sess stripe.CheckoutSession
	if err := decode(event, &sess); err != nil {
		return CheckoutCompleted{}, err
	}

	out := CheckoutCompleted{
		SessionID: sess.ID,
		UID:       sess.Metadata[MetadataUID],
	}
	if out.UID == "" {
		out.UID = sess.ClientReferenceID
	}
	if sess.Customer != nil {
		out.CustomerID = sess.Customer.ID
	}
	if sess.Subscription != nil {
		out.SubscriptionID = sess.Subscription.ID
	}
	return out, nil
}

type SubscriptionDeleted struct {
	SubscriptionID string
	UID            string
}

func ParseSubscriptionDeleted(event stripe.Event) (SubscriptionDeleted, error) {
	var sub stripe.Subscription
	if err := decode(event, &sub); err != nil {
		return SubscriptionDeleted{}, err
	}
	return SubscriptionDeleted{
		SubscriptionID: sub.ID,
		UID:            sub.Metadata[MetadataUID],
	}, nil
}

// EventTime is when Stripe created the event.
func EventTime(event stripe.Event) *time.Time {
	if event.Created <= 0 {
		return nil
	}
	at := time.Unix(event.Created, 0).UTC()
	return &at
}

func decode(event stripe.Event, v interface{}) error {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return apperror.Validation("webhook.decode", "event %s has no data", event.ID)
	}
	if err := json.Unmarshal(event.Data.Raw, v); err != nil {
		return apperror.New(apperror.KindValidation, "webhook.decode", fmt.Errorf("decode %s: %w", event.Type, err))
	}
	return nil
}
