package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/efreitasn/spotsim/internal/domain"
)

// Config holds all runtime configuration for the trading engine.
type Config struct {
	Port     int
	LogLevel string

	FeeRate      decimal.Decimal
	Symbols      []string
	StaticPrices map[string]decimal.Decimal

	Oracle         string // "static" or "http"
	OracleURL      string
	PriceTimeout   time.Duration
	PriceCacheTTL  time.Duration
	PriceRateLimit float64 // outbound requests per second

	Journal    string // "none", "sqlite" or "postgres"
	JournalDSN string

	MonitorInterval time.Duration
	WebhookTimeout  time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Auto-risk defaults for new accounts; nil leaves that exit off.
	DefaultStopLossPercent   *decimal.Decimal
	DefaultTakeProfitPercent *decimal.Decimal
}

// fileConfig is the optional YAML file named by CONFIG_FILE. Every key is
// optional and environment variables take precedence.
type fileConfig struct {
	Port         int               `yaml:"port"`
	LogLevel     string            `yaml:"log_level"`
	FeeRate      string            `yaml:"fee_rate"`
	Symbols      []string          `yaml:"symbols"`
	StaticPrices map[string]string `yaml:"static_prices"`
	Oracle       string            `yaml:"oracle"`
	OracleURL    string            `yaml:"oracle_url"`
	Journal      string            `yaml:"journal"`
	JournalDSN   string            `yaml:"journal_dsn"`
	Risk         struct {
		StopLossPercent   string `yaml:"stop_loss_percent"`
		TakeProfitPercent string `yaml:"take_profit_percent"`
	} `yaml:"risk"`
}

var defaultSymbols = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT"}

// Seed prices for the static oracle when nothing else is configured.
var defaultStaticPrices = map[string]string{
	"BTCUSDT": "50000",
	"ETHUSDT": "3000",
	"SOLUSDT": "150",
	"XRPUSDT": "0.5",
}

// Load reads configuration from the optional CONFIG_FILE and environment
// variables, applies defaults, and validates values. It returns an error for
// any invalid value.
func Load() (*Config, error) {
	var file fileConfig
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read CONFIG_FILE: %w", err)
		}
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return nil, fmt.Errorf("parse CONFIG_FILE %s: %w", path, err)
		}
	}

	port, err := getInt("PORT", orInt(file.Port, 8080))
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	logLevel := getStr("LOG_LEVEL", orStr(file.LogLevel, "info"))
	if !isValidLogLevel(logLevel) {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", logLevel)
	}

	feeRate, err := getDecimal("FEE_RATE", orStr(file.FeeRate, "0.001"))
	if err != nil {
		return nil, fmt.Errorf("invalid FEE_RATE: %w", err)
	}
	if feeRate.IsNegative() || feeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("invalid FEE_RATE: %s, must be >= 0 and < 1", feeRate)
	}

	symbols := getList("SUPPORTED_SYMBOLS", file.Symbols)
	if len(symbols) == 0 {
		symbols = defaultSymbols
	}

	staticPrices, err := parsePrices(file.StaticPrices)
	if err != nil {
		return nil, err
	}

	oracle := getStr("ORACLE", orStr(file.Oracle, "static"))
	if oracle != "static" && oracle != "http" {
		return nil, fmt.Errorf("invalid ORACLE: %q, must be one of: static, http", oracle)
	}
	oracleURL := getStr("ORACLE_URL", orStr(file.OracleURL, "https://api.binance.com"))

	priceTimeout, err := getDuration("PRICE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid PRICE_TIMEOUT: %w", err)
	}

	priceCacheTTL, err := getDuration("PRICE_CACHE_TTL", 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid PRICE_CACHE_TTL: %w", err)
	}

	priceRateLimit, err := getFloat("PRICE_RATE_LIMIT", 10)
	if err != nil {
		return nil, fmt.Errorf("invalid PRICE_RATE_LIMIT: %w", err)
	}
	if priceRateLimit <= 0 {
		return nil, fmt.Errorf("invalid PRICE_RATE_LIMIT: %v, must be > 0", priceRateLimit)
	}

	journal := getStr("JOURNAL", orStr(file.Journal, "none"))
	switch journal {
	case "none", "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("invalid JOURNAL: %q, must be one of: none, sqlite, postgres", journal)
	}
	journalDSN := getStr("JOURNAL_DSN", file.JournalDSN)
	if journal != "none" && journalDSN == "" {
		return nil, fmt.Errorf("JOURNAL_DSN is required when JOURNAL=%s", journal)
	}

	monitorInterval, err := getDuration("MONITOR_INTERVAL", 3*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid MONITOR_INTERVAL: %w", err)
	}
	if monitorInterval <= 0 {
		return nil, fmt.Errorf("invalid MONITOR_INTERVAL: %v, must be positive", monitorInterval)
	}

	webhookTimeout, err := getDuration("WEBHOOK_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid WEBHOOK_TIMEOUT: %w", err)
	}

	readTimeout, err := getDuration("READ_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid READ_TIMEOUT: %w", err)
	}

	writeTimeout, err := getDuration("WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid WRITE_TIMEOUT: %w", err)
	}

	idleTimeout, err := getDuration("IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid IDLE_TIMEOUT: %w", err)
	}

	shutdownTimeout, err := getDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}

	stopLoss, err := getOptDecimal("DEFAULT_STOP_LOSS_PERCENT", file.Risk.StopLossPercent)
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_STOP_LOSS_PERCENT: %w", err)
	}
	if stopLoss != nil && (!stopLoss.IsPositive() || stopLoss.GreaterThanOrEqual(decimal.NewFromInt(100))) {
		return nil, fmt.Errorf("invalid DEFAULT_STOP_LOSS_PERCENT: %s, must be between 0 and 100", stopLoss)
	}

	takeProfit, err := getOptDecimal("DEFAULT_TAKE_PROFIT_PERCENT", file.Risk.TakeProfitPercent)
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_TAKE_PROFIT_PERCENT: %w", err)
	}
	if takeProfit != nil && !takeProfit.IsPositive() {
		return nil, fmt.Errorf("invalid DEFAULT_TAKE_PROFIT_PERCENT: %s, must be > 0", takeProfit)
	}

	return &Config{
		Port:                     port,
		LogLevel:                 logLevel,
		FeeRate:                  feeRate,
		Symbols:                  symbols,
		StaticPrices:             staticPrices,
		Oracle:                   oracle,
		OracleURL:                oracleURL,
		PriceTimeout:             priceTimeout,
		PriceCacheTTL:            priceCacheTTL,
		PriceRateLimit:           priceRateLimit,
		Journal:                  journal,
		JournalDSN:               journalDSN,
		MonitorInterval:          monitorInterval,
		WebhookTimeout:           webhookTimeout,
		ReadTimeout:              readTimeout,
		WriteTimeout:             writeTimeout,
		IdleTimeout:              idleTimeout,
		ShutdownTimeout:          shutdownTimeout,
		DefaultStopLossPercent:   stopLoss,
		DefaultTakeProfitPercent: takeProfit,
	}, nil
}

// AutoRiskEnabled reports whether new accounts get default exits.
func (c *Config) AutoRiskEnabled() bool {
	return c.DefaultStopLossPercent != nil || c.DefaultTakeProfitPercent != nil
}

func parsePrices(raw map[string]string) (map[string]decimal.Decimal, error) {
	if len(raw) == 0 {
		raw = defaultStaticPrices
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	prices := make(map[string]decimal.Decimal, len(raw))
	for _, symbol := range keys {
		p, err := domain.ParseDecimal("static price for "+symbol, raw[symbol])
		if err != nil {
			return nil, err
		}
		if !p.IsPositive() {
			return nil, fmt.Errorf("invalid static price for %s: %q, must be > 0", symbol, raw[symbol])
		}
		prices[strings.ToUpper(symbol)] = p
	}
	return prices, nil
}

func orStr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func getStr(key, defaultVal string) string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func getFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.ParseFloat(v, 64)
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}

func getDecimal(key, defaultVal string) (decimal.Decimal, error) {
	return decimal.NewFromString(getStr(key, defaultVal))
}

func getOptDecimal(key, defaultVal string) (*decimal.Decimal, error) {
	v := getStr(key, defaultVal)
	if v == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// getList splits a comma-separated variable into upper-cased, trimmed,
// de-duplicated entries.
func getList(key string, defaultVal []string) []string {
	items := defaultVal
	if v := os.Getenv(key); v != "" {
		items = strings.Split(v, ",")
	}
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.ToUpper(strings.TrimSpace(item))
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
