package email

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const defaultBaseURL = "https://api.resend.com"

type EmailService struct {
	apiKey    string
	from      string
	baseURL   string
	client    *http.Client
	templates *template.Template
	logger    zerolog.Logger
	location  *time.Location
}

// Template data structures
type PlanUpgradedData struct {
	Email     string
	PeriodEnd *time.Time
}

type PlanCanceledData struct {
	Email string
}

type RenewalWarningData struct {
	Email     string
	DaysLeft  int
	PeriodEnd time.Time
}

func NewEmailService(apiKey, from string, logger zerolog.Logger) (*EmailService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("resend API key is required")
	}

	location, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		location = time.UTC
	}

	templates, err := loadTemplates(location)
	if err != nil {
		return nil, fmt.Errorf("error loading email templates: %v", err)
	}

	return &EmailService{
		apiKey:    apiKey,
		from:      from,
		baseURL:   defaultBaseURL,
		client:    &http.Client{Timeout: 10 * time.Second},
		templates: templates,
		logger:    logger,
		location:  location,
	}, nil
}

// Email sending methods
func (s *EmailService) SendPlanUpgradedEmail(ctx context.Context, to string, periodEnd *time.Time) error {
	data := PlanUpgradedData{Email: to, PeriodEnd: periodEnd}
	return s.sendTemplateEmail(ctx, to, "Seu plano Pro está ativo", "plan_upgraded.html", data)
}

func (s *EmailService) SendPlanCanceledEmail(ctx context.Context, to string) error {
	data := PlanCanceledData{Email: to}
	return s.sendTemplateEmail(ctx, to, "Sua assinatura foi cancelada", "plan_canceled.html", data)
}

func (s *EmailService) SendRenewalWarning(ctx context.Context, to string, daysLeft int, periodEnd time.Time) error {
	data := RenewalWarningData{Email: to, DaysLeft: daysLeft, PeriodEnd: periodEnd}
	subject := fmt.Sprintf("Sua assinatura renova em %d dias", daysLeft)
	return s.sendTemplateEmail(ctx, to, subject, "renewal_warning.html", data)
}
