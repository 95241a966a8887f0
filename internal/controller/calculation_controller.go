package controller

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"metalcalc_backend/internal/billing"
	"metalcalc_backend/pkg/calculator"
	"metalcalc_backend/pkg/reporting"
	"metalcalc_backend/pkg/subscription"
	"metalcalc_backend/pkg/utils/cloudflare"
)

type ReportArchiver interface {
	Put(ctx context.Context, uid, fileName string, body []byte) (cloudflare.ArchivedReport, error)
}

type CalculationController struct {
	billing *billing.Service
	quotes  QuoteSource
	reports *reporting.PDFGenerator
	archive ReportArchiver
	logger  zerolog.Logger
	now     func() time.Time
}

// NewCalculationController accepts a nil archive when archiving is disabled.
func NewCalculationController(svc *billing.Service, source QuoteSource, reports *reporting.PDFGenerator, archive ReportArchiver, logger zerolog.Logger) *CalculationController {
	return &CalculationController{
		billing: svc,
		quotes:  source,
		reports: reports,
		archive: archive,
		logger:  logger,
		now:     time.Now,
	}
}

type CalculationResponse struct {
	Result      calculator.Result        `json:"result"`
	Entitlement subscription.Entitlement `json:"entitlement"`
	Report      ReportResponse           `json:"report"`
}

type ReportResponse struct {
	FileName   string `json:"file_name"`
	Content    string `json:"content_base64,omitempty"`
	ArchiveKey string `json:"archive_key,omitempty"`
}

// Create runs one metered calculation. The result and its PDF are produced
// before usage is charged; if the charge loses the race for the last trial
// slot nothing is returned. ?format=pdf streams the PDF itself.
func (cc *CalculationController) Create(c *fiber.Ctx) error {
	input := new(calculator.Input)
	if err := parseBody(c, "calculation.create", input); err != nil {
		return respondError(c, err)
	}
	account, err := currentAccount(c)
	if err != nil {
		return respondError(c, err)
	}

	var (
		result calculator.Result
		pdf    []byte
		name   string
	)
	ent, err := cc.billing.RunMetered(c.UserContext(), account.UID, func(ctx context.Context, ent subscription.Entitlement) error {
		quote := cc.quotes.Current(ctx)
		result = calculator.Calculate(*input, quote.PricePerGram(input.Metal))

		data := reporting.ReportData{
			Result:      result,
			Email:       account.Email,
			Pro:         ent.Unlimited(),
			QuoteSource: quote.Source,
			GeneratedAt: cc.now(),
		}
		out, err := cc.reports.Generate(data)
		if err != nil {
			return fmt.Errorf("generate report: %w", err)
		}
		pdf, name = out, cc.reports.FileName(data)
		return nil
	})
	if err != nil {
		return respondError(c, err)
	}

	resp := CalculationResponse{
		Result:      result,
		Entitlement: ent,
		Report:      ReportResponse{FileName: name},
	}
	if cc.archive != nil {
		ref, err := cc.archive.Put(c.UserContext(), account.UID, name, pdf)
		if err != nil {
			cc.logger.Warn().Err(err).Str("uid", account.UID).Msg("Could not archive report")
		} else {
			resp.Report.ArchiveKey = ref.Key
		}
	}

	if c.Query("format") == "pdf" {
		c.Set(fiber.HeaderContentType, "application/pdf")
		c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
		return c.Send(pdf)
	}

	resp.Report.Content = base64.StdEncoding.EncodeToString(pdf)
	return c.JSON(resp)
}
