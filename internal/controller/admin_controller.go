package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"metalcalc_backend/internal/billing"
	"metalcalc_backend/internal/middleware"
	"metalcalc_backend/internal/model"
)

type SetPlanInput struct {
	Plan model.Plan `json:"plan" validate:"required,oneof=trial pro"`
}

type AdminController struct {
	billing *billing.Service
	streams *StreamController
}

func NewAdminController(svc *billing.Service, streams *StreamController) *AdminController {
	return &AdminController{billing: svc, streams: streams}
}

func (ac *AdminController) ListUsers(c *fiber.Ctx) error {
	views, err := ac.billing.ListAccounts(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"users": views,
		"total": len(views),
	})
}

func (ac *AdminController) SetPlan(c *fiber.Ctx) error {
	input := new(SetPlanInput)
	if err := parseBody(c, "admin.set_plan", input); err != nil {
		return respondError(c, err)
	}

	uid := c.Params("uid")
	snap, err := ac.billing.SetPlan(c.UserContext(), uid, input.Plan)
	if err != nil {
		return respondError(c, err)
	}

	log.Info().Str("admin", adminUID(c)).Str("uid", uid).Str("plan", string(input.Plan)).Msg("Admin changed plan")
	return c.JSON(snap)
}

func (ac *AdminController) ResetUsage(c *fiber.Ctx) error {
	uid := c.Params("uid")
	snap, err := ac.billing.ResetUsage(c.UserContext(), uid)
	if err != nil {
		return respondError(c, err)
	}

	log.Info().Str("admin", adminUID(c)).Str("uid", uid).Msg("Admin reset usage")
	return c.JSON(snap)
}

// StreamUser follows any user's records.
func (ac *AdminController) StreamUser(c *fiber.Ctx) error {
	return ac.streams.serve(c, c.Params("uid"))
}

func adminUID(c *fiber.Ctx) string {
	if claims := middleware.Claims(c); claims != nil {
		return claims.UID
	}
	return ""
}
