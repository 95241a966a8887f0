package controller

import (
	"github.com/gofiber/fiber/v2"

	"metalcalc_backend/internal/billing"
)

type AccountController struct {
	billing *billing.Service
}

func NewAccountController(svc *billing.Service) *AccountController {
	return &AccountController{billing: svc}
}

// GetMe returns the caller's account, subscription and entitlement.
func (ac *AccountController) GetMe(c *fiber.Ctx) error {
	account, err := currentAccount(c)
	if err != nil {
		return respondError(c, err)
	}

	sub, err := ac.billing.Subscription(c.UserContext(), account.UID)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(billing.AccountView{
		Account:      account,
		Subscription: sub,
		Entitlement:  ac.billing.Evaluator().Evaluate(account),
	})
}

// GetEntitlement reads the account again so the answer reflects every
// commit made before this request.
func (ac *AccountController) GetEntitlement(c *fiber.Ctx) error {
	account, err := currentAccount(c)
	if err != nil {
		return respondError(c, err)
	}

	ent, err := ac.billing.Entitlement(c.UserContext(), account.UID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(ent)
}
