package controller

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v74"

	"metalcalc_backend/internal/billing"
	"metalcalc_backend/internal/model"
	"metalcalc_backend/internal/payments"
	"metalcalc_backend/pkg/apperror"
	"metalcalc_backend/pkg/metrics"
)

type Payments interface {
	CreateCheckoutSession(ctx context.Context, uid, email string) (payments.CheckoutSession, error)
	LookupSubscription(ctx context.Context, id string) (payments.SubscriptionInfo, error)
	ConstructEvent(payload []byte, signature string) (stripe.Event, error)
}

type SubscriptionController struct {
	billing  *billing.Service
	payments Payments
	logger   zerolog.Logger
}

func NewSubscriptionController(svc *billing.Service, p Payments, logger zerolog.Logger) *SubscriptionController {
	return &SubscriptionController{billing: svc, payments: p, logger: logger}
}

func (sc *SubscriptionController) CreateCheckoutSession(c *fiber.Ctx) error {
	account, err := currentAccount(c)
	if err != nil {
		return respondError(c, err)
	}
	if account.Plan == model.PlanPro {
		return respondError(c, apperror.Conflict("stripe.checkout", errors.New("account is already pro")))
	}

	sess, err := sc.payments.CreateCheckoutSession(c.UserContext(), account.UID, account.Email)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(sess)
}

func (sc *SubscriptionController) GetMySubscription(c *fiber.Ctx) error {
	account, err := currentAccount(c)
	if err != nil {
		return respondError(c, err)
	}

	sub, err := sc.billing.Subscription(c.UserContext(), account.UID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(sub)
}

// HandleStripeWebhook verifies the signature before reading anything from
// the payload. Handled events for unknown accounts and unhandled event types
// are acknowledged with 200; transient failures return 409/503 so Stripe
// redelivers.
func (sc *SubscriptionController) HandleStripeWebhook(c *fiber.Ctx) error {
	payload := append([]byte(nil), c.Body()...)

	event, err := sc.payments.ConstructEvent(payload, c.Get("Stripe-Signature"))
	if err != nil {
		metrics.RecordWebhookEvent("unverified", "rejected")
		if errors.Is(err, apperror.ErrAuthentication) {
			sc.logger.Warn().Err(err).Msg("Invalid webhook signature")
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid webhook signature",
			})
		}
		return respondError(c, err)
	}

	eventType := string(event.Type)
	last := model.LastEvent{EventID: event.ID, Type: eventType, At: payments.EventTime(event)}
	sc.logger.Info().Str("event_id", event.ID).Str("type", eventType).Msg("Processing Stripe webhook event")

	var outcome billing.Outcome
	switch eventType {
	case payments.EventCheckoutCompleted:
		outcome, err = sc.checkoutCompleted(c.UserContext(), event, last, payload)

	case payments.EventSubscriptionDeleted:
		var parsed payments.SubscriptionDeleted
		parsed, err = payments.ParseSubscriptionDeleted(event)
		if err == nil {
			outcome, err = sc.billing.HandleSubscriptionDeleted(c.UserContext(), billing.SubscriptionDeleted{
				UID:                  parsed.UID,
				StripeSubscriptionID: parsed.SubscriptionID,
				Event:                last,
				Payload:              payload,
			})
		}

	default:
		outcome = "ignored"
		if err = sc.billing.RecordIgnoredEvent(c.UserContext(), last, ""); err != nil {
			sc.logger.Warn().Err(err).Str("event_id", event.ID).Msg("Could not audit ignored webhook event")
			err = nil
		}
	}

	if err != nil {
		metrics.RecordWebhookEvent(eventType, string(apperror.KindOf(err)))
		sc.logger.Error().Err(err).Str("event_id", event.ID).Str("type", eventType).Msg("Stripe webhook processing failed")
		return respondError(c, err)
	}

	metrics.RecordWebhookEvent(eventType, string(outcome))
	return c.JSON(fiber.Map{
		"received": true,
		"outcome":  outcome,
	})
}

func (sc *SubscriptionController) checkoutCompleted(ctx context.Context, event stripe.Event, last model.LastEvent, payload []byte) (billing.Outcome, error) {
	parsed, err := payments.ParseCheckoutCompleted(event)
	if err != nil {
		return "", err
	}

	details := billing.StripeDetails{
		CustomerID:     parsed.CustomerID,
		SubscriptionID: parsed.SubscriptionID,
	}
	if parsed.SubscriptionID != "" {
		info, err := sc.payments.LookupSubscription(ctx, parsed.SubscriptionID)
		switch {
		case err == nil:
			details.PriceID = info.PriceID
			details.CurrentPeriodEnd = info.CurrentPeriodEnd
			if details.CustomerID == "" {
				details.CustomerID = info.CustomerID
			}
		case errors.Is(err, apperror.ErrNotFound):
			sc.logger.Warn().Str("subscription", parsed.SubscriptionID).Msg("Checkout subscription not found at Stripe")
		default:
			return "", err
		}
	}

	return sc.billing.HandleCheckoutCompleted(ctx, billing.CheckoutCompleted{
		UID:     parsed.UID,
		Event:   last,
		Stripe:  details,
		Payload: payload,
	})
}
