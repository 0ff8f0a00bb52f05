package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	BaseURL     string

	CompanyName    string
	CompanyAddress string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SMTP SMTPConfig
	ERP  ERPConfig

	Storage StorageConfig
	Webhook WebhookConfig
	Metrics MetricsPushConfig

	SearchStatementTimeoutMS int

	BootstrapAdminEmail string
}

// SMTPConfig carries outbound mail settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	ReplyTo  string
}

// ERPConfig selects and configures the upstream ERP connector.
type ERPConfig struct {
	Provider  string
	BaseURL   string
	APIKey    string
	PageSize  int
	StaticDir string
}

// StorageConfig controls attachment persistence.
type StorageConfig struct {
	Dir            string
	MaxUploadBytes int64
}

// WebhookConfig points ticket notifications at an external chat webhook.
type WebhookConfig struct {
	URL     string
	Channel string
}

// MetricsPushConfig configures outbound metric delivery for fleet dashboards.
type MetricsPushConfig struct {
	Enabled   bool
	Exporter  string
	Endpoint  string
	AuthToken string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")

	cfg := Config{
		AppName:        getenv("APP_SERVICE", "collectra"),
		AppVersion:     getenv("APP_VERSION", "0.1.0"),
		Environment:    environment,
		HTTPAddr:       getenv("HTTP_ADDR", ":8080"),
		BaseURL:        strings.TrimRight(getenv("APP_BASE_URL", "http://localhost:8080"), "/"),
		CompanyName:    getenv("COMPANY_NAME", "Collectra"),
		CompanyAddress: getenv("COMPANY_ADDRESS", ""),
		OTLPEndpoint:   getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "collectra"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 0),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 0),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 0),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 0),

		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		SMTP: SMTPConfig{
			Host:     getenv("SMTP_HOST", ""),
			Port:     getenvInt("SMTP_PORT", 587),
			Username: getenv("SMTP_USERNAME", ""),
			Password: getenv("SMTP_PASSWORD", ""),
			From:     getenv("SMTP_FROM", "collections@localhost"),
			ReplyTo:  getenv("SMTP_REPLY_TO", ""),
		},
		ERP: ERPConfig{
			Provider:  strings.ToLower(getenv("ERP_PROVIDER", "static")),
			BaseURL:   strings.TrimSpace(getenv("ERP_BASE_URL", "")),
			APIKey:    strings.TrimSpace(getenv("ERP_API_KEY", "")),
			PageSize:  getenvInt("ERP_PAGE_SIZE", 500),
			StaticDir: getenv("ERP_STATIC_DIR", "./erpdata"),
		},
		Storage: StorageConfig{
			Dir:            getenv("STORAGE_DIR", "./data/uploads"),
			MaxUploadBytes: getenvInt64("STORAGE_MAX_UPLOAD_BYTES", 10<<20),
		},
		Webhook: WebhookConfig{
			URL:     strings.TrimSpace(getenv("NOTIFY_WEBHOOK_URL", "")),
			Channel: getenv("NOTIFY_WEBHOOK_CHANNEL", ""),
		},
		Metrics: MetricsPushConfig{
			Enabled:   getenvBool("METRICS_PUSH_ENABLED", false),
			Exporter:  strings.ToLower(getenv("METRICS_PUSH_EXPORTER", "")),
			Endpoint:  strings.TrimSpace(getenv("METRICS_PUSH_ENDPOINT", "")),
			AuthToken: strings.TrimSpace(getenv("METRICS_PUSH_AUTH_TOKEN", "")),
		},

		SearchStatementTimeoutMS: getenvInt("SEARCH_STATEMENT_TIMEOUT_MS", 2000),
		BootstrapAdminEmail:      strings.TrimSpace(getenv("BOOTSTRAP_ADMIN_EMAIL", "")),
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}
