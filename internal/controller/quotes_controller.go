package controller

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"metalcalc_backend/pkg/quotes"
)

type QuoteSource interface {
	Current(ctx context.Context) quotes.Quote
}

type QuotesController struct {
	quotes QuoteSource
}

func NewQuotesController(source QuoteSource) *QuotesController {
	return &QuotesController{quotes: source}
}

func (qc *QuotesController) GetQuotes(c *fiber.Ctx) error {
	return c.JSON(qc.quotes.Current(c.UserContext()))
}
