package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"metalcalc_backend/internal/billing"
	"metalcalc_backend/internal/controller"
	"metalcalc_backend/internal/middleware"
	"metalcalc_backend/internal/model"
	"metalcalc_backend/internal/notify"
	"metalcalc_backend/internal/payments"
	"metalcalc_backend/pkg/config"
	"metalcalc_backend/pkg/cron"
	"metalcalc_backend/pkg/database"
	"metalcalc_backend/pkg/email"
	"metalcalc_backend/pkg/logging"
	"metalcalc_backend/pkg/quotes"
	"metalcalc_backend/pkg/reporting"
	"metalcalc_backend/pkg/seed"
	"metalcalc_backend/pkg/utils/cloudflare"
	"metalcalc_backend/pkg/utils/jwt"
)

type handlers struct {
	auth          *controller.AuthController
	account       *controller.AccountController
	quotes        *controller.QuotesController
	calculations  *controller.CalculationController
	subscriptions *controller.SubscriptionController
	streams       *controller.StreamController
	admin         *controller.AdminController
	authenticate  fiber.Handler
}

func setupRoutes(app *fiber.App, h handlers, db *gorm.DB) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.UserContext())
		}
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api")

	// Auth Routes
	auth := api.Group("/auth")
	auth.Post("/register", h.auth.Register)
	auth.Post("/login", h.auth.Login)

	// Stripe webhook
	api.Post("/webhook", h.subscriptions.HandleStripeWebhook)

	// Protected Routes
	api.Get("/me", h.authenticate, h.account.GetMe)
	api.Get("/entitlement", h.authenticate, h.account.GetEntitlement)
	api.Get("/quotes", h.authenticate, h.quotes.GetQuotes)
	api.Post("/calculations", h.authenticate, h.calculations.Create)
	api.Get("/stream", h.authenticate, h.streams.Stream)

	// Subscription routes
	subscriptions := api.Group("/subscriptions", h.authenticate)
	subscriptions.Post("/checkout", h.subscriptions.CreateCheckoutSession)
	subscriptions.Get("/my", h.subscriptions.GetMySubscription)

	// Admin routes
	admin := api.Group("/admin", h.authenticate, middleware.RequireAdmin())
	admin.Get("/users", h.admin.ListUsers)
	admin.Put("/users/:uid/plan", h.admin.SetPlan)
	admin.Post("/users/:uid/reset-usage", h.admin.ResetUsage)
	admin.Get("/users/:uid/stream", h.admin.StreamUser)
}

func main() {
	cfg := config.Load()
	logger := logging.Init(logging.Config{Format: cfg.Log.Format, Level: cfg.Log.Level, Component: "api"})

	if cfg.Database.URL == "" {
		log.Fatal().Msg("DATABASE_URL is not set")
	}
	if cfg.JWT.Secret == "" {
		log.Fatal().Msg("JWT_SECRET is not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not connect to database")
	}
	if err := database.Migrate(db, model.Tables()...); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}

	var (
		mailer  billing.Mailer
		renewal cron.RenewalMailer
	)
	if cfg.Email.ResendAPIKey != "" {
		emailService, err := email.NewEmailService(cfg.Email.ResendAPIKey, cfg.Email.From, logging.WithComponent("email"))
		if err != nil {
			log.Fatal().Err(err).Msg("Could not initialize email service")
		}
		mailer, renewal = emailService, emailService
	} else {
		log.Warn().Msg("RESEND_API_KEY is not set, e-mails are disabled")
	}

	svc := billing.NewService(db, billing.Config{TrialLimit: cfg.Billing.TrialLimit}, nil, mailer, logging.WithComponent("billing"))
	hub := notify.NewHub(svc)
	svc.SetPublisher(hub)

	if cfg.Database.Listen && database.IsPostgres(db) {
		relay := notify.NewPGRelay(cfg.Database.URL, svc, hub, logging.WithComponent("relay"))
		go relay.Run(ctx)
	}

	if _, err := seed.PromoteAdmins(ctx, db, svc, cfg.Billing.AdminEmails, logger); err != nil {
		log.Warn().Err(err).Msg("Could not promote admin accounts")
	}

	scheduler, err := cron.NewJobs(svc, renewal, logging.WithComponent("cron")).Start()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not start cron jobs")
	}
	defer scheduler.Stop()

	var archive controller.ReportArchiver
	if a, err := cloudflare.NewReportArchive(ctx, cfg.Storage); err != nil {
		log.Warn().Err(err).Msg("Report archive disabled")
	} else if a != nil {
		archive = a
	}

	location, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		location = time.UTC
	}

	quoteClient := quotes.NewClient(cfg.Quotes, logging.WithComponent("quotes"))
	tokens := jwt.NewManager(cfg.JWT.Secret, cfg.JWT.TTL)
	streams := controller.NewStreamController(hub, svc.Evaluator(), cfg.Server.StreamHeartbeat, logging.WithComponent("stream"))
	h := handlers{
		auth:          controller.NewAuthController(db, tokens, svc),
		account:       controller.NewAccountController(svc),
		quotes:        controller.NewQuotesController(quoteClient),
		calculations:  controller.NewCalculationController(svc, quoteClient, reporting.NewPDFGenerator(location), archive, logging.WithComponent("calculations")),
		subscriptions: controller.NewSubscriptionController(svc, payments.NewGateway(cfg.Stripe), logging.WithComponent("webhook")),
		streams:       streams,
		admin:         controller.NewAdminController(svc, streams),
		authenticate:  middleware.AuthMiddleware(tokens, svc),
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	app.Use(recover.New())
	app.Use(middleware.RequestLogger(logging.WithComponent("http")))
	app.Use(cors.New())

	setupRoutes(app, h, db)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Shutdown error")
		}
	}()

	log.Info().Str("port", cfg.Server.Port).Msg("Server is running")
	if err := app.Listen(":" + cfg.Server.Port); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}
