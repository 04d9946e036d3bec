package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ChargeMode selects when a user's balance is debited.
type ChargeMode string

const (
	// ChargeOnSuccess debits after the provider reports success.
	ChargeOnSuccess ChargeMode = "on_success"
	// ChargeProvisional holds the price at submission and refunds on failure.
	ChargeProvisional ChargeMode = "provisional"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	RedisURL    string

	LedgerFallback string
	LedgerFileDir  string
	HistoryDBPath  string
	ModelsPath     string

	UseMockProvider bool
	KieAPIKey       string
	KieBaseURL      string
	KieCallbackURL  string
	KieRPS          float64
	KieTimeout      time.Duration

	DedupWindow      time.Duration
	MaxActivePerUser int
	PollInitialDelay time.Duration
	PollMaxDelay     time.Duration
	PollMultiplier   float64
	PollMaxPolls     int
	ChargeMode       ChargeMode
	AdminPeriodLimit int64
	RecoveryInterval time.Duration
	MaxRecoveryTries int
	RateLimitPerMin  int
	RateLimitBurst   int
	ShutdownGrace    time.Duration

	HTTPReadTimeout       time.Duration
	HTTPReadHeaderTimeout time.Duration
	HTTPWriteTimeout      time.Duration
	HTTPIdleTimeout       time.Duration
	HTTPMaxHeaderBytes    int

	DBMaxConns        int
	DBMinConns        int
	DBMaxConnLifetime time.Duration
	DBMaxConnIdleTime time.Duration
	DBConnectTimeout  time.Duration

	AdminToken         string
	CORSAllowedOrigins []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	appEnv := getEnv("APP_ENV", "development")
	cfg := &Config{
		AppEnv:           appEnv,
		Port:             getEnv("PORT", "8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		LedgerFallback:   strings.ToLower(getEnv("LEDGER_FALLBACK", "file")),
		LedgerFileDir:    getEnv("LEDGER_FILE_DIR", "./data/ledger"),
		HistoryDBPath:    getEnv("HISTORY_DB_PATH", "./data/history.db"),
		ModelsPath:       getEnv("MODELS_PATH", "./configs/models.yaml"),
		UseMockProvider:  getEnvBool("USE_MOCK_PROVIDER", appEnv == "test"),
		KieAPIKey:        os.Getenv("KIE_API_KEY"),
		KieBaseURL:       getEnv("KIE_BASE_URL", "https://api.kie.ai"),
		KieCallbackURL:   os.Getenv("KIE_CALLBACK_URL"),
		KieRPS:           getEnvFloat("KIE_REQUESTS_PER_SECOND", 5),
		KieTimeout:       time.Second * time.Duration(getEnvInt("KIE_TIMEOUT_SECONDS", 30)),
		DedupWindow:      time.Second * time.Duration(getEnvInt("DEDUP_WINDOW_SECONDS", 10)),
		MaxActivePerUser: getEnvInt("MAX_ACTIVE_PER_USER", 3),
		PollInitialDelay: getEnvDuration("POLL_INITIAL_DELAY", 2*time.Second),
		PollMaxDelay:     getEnvDuration("POLL_MAX_DELAY", 30*time.Second),
		PollMultiplier:   getEnvFloat("POLL_MULTIPLIER", 1.5),
		PollMaxPolls:     getEnvInt("POLL_MAX_POLLS", 300),
		ChargeMode:       ChargeMode(strings.ToLower(getEnv("CHARGE_MODE", string(ChargeOnSuccess)))),
		AdminPeriodLimit: int64(getEnvInt("ADMIN_PERIOD_LIMIT", 5000)),
		RecoveryInterval: getEnvDuration("RECOVERY_INTERVAL", 5*time.Minute),
		MaxRecoveryTries: getEnvInt("MAX_RECOVERY_ATTEMPTS", 5),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		RateLimitBurst:   getEnvInt("RATE_LIMIT_BURST", 5),
		ShutdownGrace:    getEnvDuration("SHUTDOWN_GRACE", 10*time.Second),

		HTTPReadTimeout:       time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPReadHeaderTimeout: time.Second * time.Duration(getEnvInt("HTTP_READ_HEADER_TIMEOUT_SECONDS", 5)),
		HTTPWriteTimeout:      time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:       time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		HTTPMaxHeaderBytes:    getEnvInt("HTTP_MAX_HEADER_BYTES", 64<<10),

		DBMaxConns:        getEnvInt("DB_MAX_CONNS", 10),
		DBMinConns:        getEnvInt("DB_MIN_CONNS", 1),
		DBMaxConnLifetime: getEnvDuration("DB_MAX_CONN_LIFETIME", time.Hour),
		DBMaxConnIdleTime: getEnvDuration("DB_MAX_CONN_IDLE_TIME", 30*time.Minute),
		DBConnectTimeout:  getEnvDuration("DB_CONNECT_TIMEOUT", 10*time.Second),

		AdminToken:         os.Getenv("ADMIN_TOKEN"),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),
	}

	if !cfg.UseMockProvider && cfg.KieAPIKey == "" {
		return nil, fmt.Errorf("KIE_API_KEY is required unless USE_MOCK_PROVIDER is set")
	}

	if cfg.PollMultiplier < 1 {
		return nil, fmt.Errorf("POLL_MULTIPLIER must be >= 1")
	}

	if cfg.PollMaxPolls < 1 {
		return nil, fmt.Errorf("POLL_MAX_POLLS must be >= 1")
	}

	if cfg.MaxActivePerUser < 1 {
		return nil, fmt.Errorf("MAX_ACTIVE_PER_USER must be >= 1")
	}

	if cfg.DBMaxConns < 1 || cfg.DBMinConns < 0 || cfg.DBMinConns > cfg.DBMaxConns {
		return nil, fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS (>= 1)")
	}

	switch cfg.ChargeMode {
	case ChargeOnSuccess, ChargeProvisional:
	default:
		return nil, fmt.Errorf("CHARGE_MODE must be %q or %q", ChargeOnSuccess, ChargeProvisional)
	}

	switch cfg.LedgerFallback {
	case "file":
	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required when LEDGER_FALLBACK=redis")
		}
	default:
		return nil, fmt.Errorf("LEDGER_FALLBACK must be file or redis")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
