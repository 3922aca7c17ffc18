package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/zwehtet-dev/exchange-bot/src/models"
)

// InitialBalance seeds a ledger row at startup when the account does not exist yet.
type InitialBalance struct {
	Currency models.Currency
	BankName string
	Balance  float64
}

// AppConfig is built once at process start and passed by value into every
// component that needs it. There is no ambient global lookup.
type AppConfig struct {
	Port         string
	DatabasePath string
	LogLevel     string

	// Recognition provider (OpenAI vision). Empty key selects the mock provider.
	OpenAIAPIKey string
	OpenAIModel  string

	// Operator credential for the admin command surface.
	JWTSecret            string
	OperatorUsername     string
	OperatorPasswordHash string
	TokenExpiry          time.Duration

	// Operator alert channel.
	NotifierProvider     string // "mailgun" or "log"
	MailgunDomain        string
	MailgunPrivateAPIKey string
	SenderEmail          string
	SenderName           string
	OperatorEmail        string

	DefaultExchangeRate float64

	// Matching and reconciliation policy. Configurable rather than hardcoded
	// because whether these should scale with transaction size is an open
	// policy question.
	AcceptThreshold float64
	WarnThreshold   float64
	AmountTolerance float64
	VerifyCurrency  models.Currency

	MaxAmount float64

	// Retry policy for external binary transfers (image retrieval).
	MaxRetries     int
	RetryBaseDelay time.Duration

	SessionTTL time.Duration

	ReceiptsDir        string
	CounterReceiptsDir string

	THBBanks []string
	MMKBanks []string

	InitialBalances []InitialBalance
}

// Load reads configuration from the environment (and .env when present) and
// validates required credentials. A missing credential is fatal to startup:
// the process must not accept traffic half-configured.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on OS environment variables and defaults.")
	}

	cfg := &AppConfig{
		Port:         getEnv("PORT", "8080"),
		DatabasePath: getEnv("DATABASE_PATH", "./data/exchange.db"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		OpenAIAPIKey: getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:  getEnv("OPENAI_MODEL", "gpt-4o-mini"),

		JWTSecret:            getEnv("JWT_SECRET", ""),
		OperatorUsername:     getEnv("OPERATOR_USERNAME", "operator"),
		OperatorPasswordHash: getEnv("OPERATOR_PASSWORD_HASH", ""),
		TokenExpiry:          getEnvAsDuration("TOKEN_EXPIRY", time.Hour),

		NotifierProvider:     strings.ToLower(getEnv("NOTIFIER_PROVIDER", "log")),
		MailgunDomain:        getEnv("MAILGUN_DOMAIN", ""),
		MailgunPrivateAPIKey: getEnv("MAILGUN_PRIVATE_API_KEY", ""),
		SenderEmail:          getEnv("SENDER_EMAIL", ""),
		SenderName:           getEnv("SENDER_NAME", "Exchange Desk"),
		OperatorEmail:        getEnv("OPERATOR_EMAIL", ""),

		DefaultExchangeRate: getEnvAsFloat("DEFAULT_EXCHANGE_RATE", 121.5),

		AcceptThreshold: getEnvAsFloat("ACCEPT_THRESHOLD", 0.80),
		WarnThreshold:   getEnvAsFloat("WARN_THRESHOLD", 0.70),
		AmountTolerance: getEnvAsFloat("AMOUNT_TOLERANCE", 1000),
		VerifyCurrency:  models.Currency(getEnv("VERIFY_CURRENCY", "MMK")),

		MaxAmount: getEnvAsFloat("MAX_AMOUNT", 10_000_000),

		MaxRetries:     getEnvAsInt("MAX_RETRIES", 3),
		RetryBaseDelay: getEnvAsDuration("RETRY_BASE_DELAY", 2*time.Second),

		SessionTTL: getEnvAsDuration("SESSION_TTL", 30*time.Minute),

		ReceiptsDir:        getEnv("RECEIPTS_DIR", "./receipts"),
		CounterReceiptsDir: getEnv("COUNTER_RECEIPTS_DIR", "./counter_receipts"),

		THBBanks: splitList(getEnv("THB_BANKS",
			"KBank,SCB,KTB,Bangkok Bank,Kasikorn,Siam Commercial,PromptPay")),
		MMKBanks: splitList(getEnv("MMK_BANKS",
			"KBZ,AYA,CB Bank,KPay,Wave Money,UAB")),

		InitialBalances: []InitialBalance{
			{models.THB, "KrungthaiBank", 150000},
			{models.THB, "PromptPay", 150000},
			{models.THB, "SiamCommercialBank", 150000},
			{models.MMK, "KBZ", 1500000},
			{models.MMK, "AYA", 1500000},
			{models.MMK, "KPay", 1500000},
			{models.MMK, "Wave", 1500000},
		},
	}

	var errs []string
	if cfg.JWTSecret == "" || len(cfg.JWTSecret) < 32 {
		errs = append(errs, "JWT_SECRET must be set and at least 32 bytes")
	}
	if cfg.OperatorPasswordHash == "" {
		errs = append(errs, "OPERATOR_PASSWORD_HASH is not set")
	}
	if cfg.NotifierProvider == "mailgun" {
		if cfg.MailgunDomain == "" || cfg.MailgunPrivateAPIKey == "" {
			errs = append(errs, "MAILGUN_DOMAIN and MAILGUN_PRIVATE_API_KEY are required when NOTIFIER_PROVIDER is 'mailgun'")
		}
		if cfg.SenderEmail == "" || cfg.OperatorEmail == "" {
			errs = append(errs, "SENDER_EMAIL and OPERATOR_EMAIL are required when NOTIFIER_PROVIDER is 'mailgun'")
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration errors:\n- %s", strings.Join(errs, "\n- "))
	}

	return cfg, nil
}

// AllowedBanks returns the receiving-bank allow list for a currency.
func (c *AppConfig) AllowedBanks(currency models.Currency) []string {
	if currency == models.MMK {
		return c.MMKBanks
	}
	return c.THBBanks
}

// CreateDirectories ensures the receipt storage directories exist.
func (c *AppConfig) CreateDirectories() error {
	for _, dir := range []string{c.ReceiptsDir, c.CounterReceiptsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid integer value for %s ('%s'), using default: %d", key, valueStr, fallback)
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	log.Printf("Invalid float value for %s ('%s'), using default: %g", key, valueStr, fallback)
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid duration value for %s ('%s'), using default: %s", key, valueStr, fallback)
	return fallback
}
