package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the billing core.
type Config struct {
	MySQLDSN string

	YooKassaShopID    string
	YooKassaSecretKey string
	YooKassaReturnURL string
	GatewayBaseURL    string
	RequestTimeout    time.Duration

	DefaultCurrency     string
	DefaultPlanName     string
	DefaultPlanPrice    int64
	DefaultPlanDuration int
	TrialDays           int

	SchedulerTick      time.Duration
	RenewalLeadWindow  time.Duration
	RenewalMaxAttempts int
	RenewalBatchSize   int

	ListenAddr     string
	AdminUsername  string
	AdminPassword  string
	AdminCORSHosts []string

	TelegramBotToken string

	LogDebug bool
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	loadEnvFile()

	cfg := Config{
		GatewayBaseURL:      getEnv("YOOKASSA_BASE_URL", "https://api.yookassa.ru"),
		YooKassaReturnURL:   getEnv("YOOKASSA_RETURN_URL", "https://t.me"),
		RequestTimeout:      getDuration("GATEWAY_TIMEOUT", 30*time.Second),
		DefaultCurrency:     getEnv("BILLING_CURRENCY", "RUB"),
		DefaultPlanName:     getEnv("DEFAULT_PLAN_NAME", "Подписка на месяц"),
		DefaultPlanPrice:    getInt64("DEFAULT_PLAN_PRICE_MINOR_UNITS", 29900),
		DefaultPlanDuration: getInt("DEFAULT_PLAN_DURATION_DAYS", 30),
		TrialDays:           getInt("TRIAL_DAYS", 7),
		SchedulerTick:       getDuration("SCHEDULER_TICK", time.Hour),
		RenewalLeadWindow:   getDuration("RENEWAL_LEAD_WINDOW", 24*time.Hour),
		RenewalMaxAttempts:  getInt("RENEWAL_MAX_ATTEMPTS", 3),
		RenewalBatchSize:    getInt("RENEWAL_BATCH_SIZE", 100),
		ListenAddr:          getEnv("LISTEN_ADDR", ":8080"),
		AdminUsername:       getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:       getEnv("ADMIN_PASSWORD", "change-me"),
		TelegramBotToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
		LogDebug:            getBool("LOG_DEBUG", false),
	}

	if hosts := os.Getenv("ADMIN_CORS_HOSTS"); hosts != "" {
		cfg.AdminCORSHosts = splitHosts(hosts)
	}

	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.YooKassaShopID = os.Getenv("YOOKASSA_SHOP_ID")
	cfg.YooKassaSecretKey = os.Getenv("YOOKASSA_SECRET_KEY")

	var missing []string
	if cfg.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if cfg.YooKassaShopID == "" {
		missing = append(missing, "YOOKASSA_SHOP_ID")
	}
	if cfg.YooKassaSecretKey == "" {
		missing = append(missing, "YOOKASSA_SECRET_KEY")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	if cfg.SchedulerTick <= 0 {
		return Config{}, fmt.Errorf("SCHEDULER_TICK must be positive")
	}
	if cfg.RenewalMaxAttempts <= 0 {
		return Config{}, fmt.Errorf("RENEWAL_MAX_ATTEMPTS must be positive")
	}
	if cfg.DefaultPlanDuration <= 0 {
		return Config{}, fmt.Errorf("DEFAULT_PLAN_DURATION_DAYS must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitHosts(raw string) []string {
	var hosts []string
	for _, h := range strings.Split(raw, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

func loadEnvFile() {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			continue
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err == nil {
			return
		}
	}
}
