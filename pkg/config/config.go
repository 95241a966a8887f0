package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Stripe   StripeConfig
	Email    EmailConfig
	Storage  StorageConfig
	Quotes   QuotesConfig
	Billing  BillingConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port            string
	StreamHeartbeat time.Duration
}

type DatabaseConfig struct {
	URL          string
	MaxIdleConns int
	MaxOpenConns int
	// Listen enables the cross-process change relay (Postgres LISTEN/NOTIFY).
	Listen bool
}

type JWTConfig struct {
	Secret string
	TTL    time.Duration
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	PriceID       string
	SuccessURL    string
	CancelURL     string
}

type EmailConfig struct {
	ResendAPIKey string
	From         string
}

// StorageConfig points at an S3 compatible bucket (Cloudflare R2 by default).
// Report archiving is off when Bucket is empty.
type StorageConfig struct {
	AccountID string
	AccessKey string
	SecretKey string
	Bucket    string
	Endpoint  string
}

type QuotesConfig struct {
	URL      string
	CacheTTL time.Duration
	Timeout  time.Duration
}

type BillingConfig struct {
	TrialLimit  int
	AdminEmails []string
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() *Config {
	godotenv.Load() // .env is optional outside local development

	return &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "3000"),
			StreamHeartbeat: getDuration("STREAM_HEARTBEAT", 25*time.Second),
		},
		Database: DatabaseConfig{
			URL:          getEnv("DATABASE_URL", ""),
			MaxIdleConns: getInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns: getInt("DB_MAX_OPEN_CONNS", 100),
			Listen:       getBool("DB_LISTEN", true),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
			TTL:    getDuration("JWT_TTL", 24*time.Hour),
		},
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			PriceID:       getEnv("STRIPE_PRICE_ID", ""),
			SuccessURL:    getEnv("STRIPE_SUCCESS_URL", "http://localhost:3000/sucesso"),
			CancelURL:     getEnv("STRIPE_CANCEL_URL", "http://localhost:3000/precos"),
		},
		Email: EmailConfig{
			ResendAPIKey: getEnv("RESEND_API_KEY", ""),
			From:         getEnv("EMAIL_FROM", "Calculadora de Metais <noreply@metalcalc.app>"),
		},
		Storage: StorageConfig{
			AccountID: getEnv("R2_ACCOUNT_ID", ""),
			AccessKey: getEnv("R2_ACCESS_KEY", ""),
			SecretKey: getEnv("R2_SECRET_KEY", ""),
			Bucket:    getEnv("R2_BUCKET_NAME", ""),
			Endpoint:  getEnv("R2_ENDPOINT", ""),
		},
		Quotes: QuotesConfig{
			URL:      getEnv("QUOTES_URL", "https://economia.awesomeapi.com.br/json/last/XAU-BRL,XAG-BRL"),
			CacheTTL: getDuration("QUOTES_CACHE_TTL", 5*time.Minute),
			Timeout:  getDuration("QUOTES_TIMEOUT", 5*time.Second),
		},
		Billing: BillingConfig{
			TrialLimit:  getInt("TRIAL_LIMIT", 5),
			AdminEmails: getList("ADMIN_EMAILS"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "auto"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return defaultValue
}

func getList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToLower(part))
		}
	}
	return out
}
