package config

import (
	"errors"
	"fmt"
	"os"

	"locamove/internal/models"
	"locamove/internal/pricing"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig          `yaml:"app"`
	Database   DatabaseConfig     `yaml:"database"`
	Mongo      MongoConfig        `yaml:"mongo"`
	Redis      RedisConfig        `yaml:"redis"`
	Monitoring MonitoringConfig   `yaml:"monitoring"`
	Logging    LoggingConfig      `yaml:"logging"`
	API        APIConfig          `yaml:"api"`
	Booking    BookingConfig      `yaml:"booking"`
	Pricing    PricingConfig      `yaml:"pricing"`
	Worker     WorkerConfig       `yaml:"worker"`
	Payments   PaymentsConfig     `yaml:"payments"`
	Catalog    []models.CatalogItem `yaml:"catalog"`
	Exports    ExportConfig       `yaml:"exports"`
}

type BookingConfig struct {
	MaxBookingDays int `yaml:"max_booking_days"`
	// MinBookingAdvanceHours добавляется к "строго в будущем": 0 означает,
	// что бронь может начинаться в любой будущий момент
	MinBookingAdvanceHours int `yaml:"min_booking_advance_hours"`
	QuoteTTLSeconds        int `yaml:"quote_ttl_seconds"`
	RateLimitRequests      int `yaml:"rate_limit_requests"`
	RateLimitWindow        int `yaml:"rate_limit_window"`
}

// PricingConfig externalizes the surcharge rate card. Empty means the
// built-in production card.
type PricingConfig struct {
	Surcharges map[string][]pricing.OptionRule `yaml:"surcharges"`
}

type WorkerConfig struct {
	MaxRetries          int `yaml:"max_retries"`
	InitialDelaySeconds int `yaml:"initial_delay_seconds"`
	MaxDelaySeconds     int `yaml:"max_delay_seconds"`
}

// PaymentsConfig points at the payment gateway used for refund payouts.
// An empty base URL disables the refund worker.
type PaymentsConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type MongoConfig struct {
	Enabled        bool   `yaml:"enabled"`
	URI            string `yaml:"uri"`
	Database       string `yaml:"database"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	PrometheusPort    int    `yaml:"prometheus_port"`
	HealthCheckPort   int    `yaml:"health_check_port"`
	LogLevel          string `yaml:"log_level"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

func Load(configPath string) (*Config, error) {
	// Загружаем .env файл если существует
	err := godotenv.Load(".env")
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Mongo.Enabled && c.Mongo.URI == "" {
		return errors.New("mongo uri is required when mongo is enabled")
	}

	// Таблицы надбавок должны собираться без дублей
	if _, err := c.RuleSet(); err != nil {
		return err
	}

	return ValidateCatalog(c.Catalog)
}

// RuleSet builds the surcharge rule tables, falling back to the built-in
// rate card when the config section is empty.
func (c *Config) RuleSet() (*pricing.RuleSet, error) {
	rules := c.Pricing.Surcharges
	if len(rules) == 0 {
		rules = pricing.DefaultRules()
	}
	return pricing.NewRuleSet(rules)
}

func ValidateCatalog(items []models.CatalogItem) error {
	// Check for duplicate catalog IDs
	ids := make(map[int64]bool)
	for _, item := range items {
		if item.ID == 0 {
			return fmt.Errorf("catalog item '%s' has invalid ID 0", item.Name)
		}
		if ids[item.ID] {
			return fmt.Errorf("duplicate catalog item ID found: %d", item.ID)
		}
		ids[item.ID] = true
		switch item.Kind {
		case models.KindVehicle, models.KindMoving, models.KindEquipment:
		default:
			return fmt.Errorf("catalog item %d has unknown kind %q", item.ID, item.Kind)
		}
		if item.DailyRate < 0 {
			return fmt.Errorf("catalog item %d has negative daily rate", item.ID)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	// auth enabled by default when API is enabled
	if !c.API.Auth.Enabled {
		c.API.Auth.Enabled = true
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}

	// Booking defaults
	if c.Booking.MaxBookingDays == 0 {
		c.Booking.MaxBookingDays = 365
	}
	if c.Booking.QuoteTTLSeconds == 0 {
		c.Booking.QuoteTTLSeconds = models.DefaultQuoteTTL
	}
	if c.Booking.RateLimitRequests == 0 {
		c.Booking.RateLimitRequests = models.RateLimitRequests
	}
	if c.Booking.RateLimitWindow == 0 {
		c.Booking.RateLimitWindow = models.RateLimitWindow
	}

	// Worker defaults
	if c.Worker.MaxRetries == 0 {
		c.Worker.MaxRetries = 5
	}
	if c.Worker.InitialDelaySeconds == 0 {
		c.Worker.InitialDelaySeconds = 2
	}
	if c.Worker.MaxDelaySeconds == 0 {
		c.Worker.MaxDelaySeconds = 60
	}

	if c.Mongo.Enabled && c.Mongo.TimeoutSeconds == 0 {
		c.Mongo.TimeoutSeconds = 5
	}

	if c.Payments.BaseURL != "" && c.Payments.TimeoutSeconds == 0 {
		c.Payments.TimeoutSeconds = 10
	}
}
