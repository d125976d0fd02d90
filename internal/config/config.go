package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	apperrors "blingsync/internal/errors"
)

const (
	TokenStoreDatabase = "database"
	TokenStoreEnvFile  = "envfile"
)

type Config struct {
	// Database
	DatabaseURL   string
	DBHost        string
	DBPort        int
	DBUser        string
	DBPassword    string
	DBName        string
	DBAutoMigrate bool

	// Bling API
	BlingAPIBaseURL   string
	BlingTokenURL     string
	BlingAuthURL      string
	BlingClientID     string
	BlingClientSecret string
	PageSize          int
	ProductTypeFilter string
	ProductStatus     string
	ProductFormat     string

	// Token persistence
	TokenStore     string
	TokenKeyPrefix string
	EnvPath        string
	RefreshLockTTL time.Duration

	// HTTP behaviour
	HTTPTimeout time.Duration
	MaxRetry    int
	DelayOK     time.Duration
	DelayFail   time.Duration
	BackoffCap  time.Duration
	DetailDelay time.Duration

	// Sync
	DetailsMaxAge   time.Duration
	UpsertBatchSize int
	SyncResources   []string

	// Redis
	RedisURL string

	// Kafka
	KafkaBrokers       string
	KafkaEventsTopic   string
	KafkaRequestsTopic string

	// API Configuration
	APIPort     string
	APIHost     string
	CORSOrigins []string

	// Environment
	Env          string
	LogLevel     string
	LogDir       string
	LogToConsole bool
}

func Load() (*Config, error) {
	// Load .env file; a missing file is fine, the environment may be complete.
	envPath := getEnv("ENV_PATH", ".env")
	godotenv.Load(envPath)

	baseURL := strings.TrimRight(getEnv("BLING_API_BASE_URL", "https://api.bling.com.br/Api/v3"), "/")

	cfg := &Config{
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		DBHost:        getEnv("DB_HOST", ""),
		DBPort:        getEnvAsInt("DB_PORT", 3306),
		DBUser:        getEnv("DB_USER", ""),
		DBPassword:    getEnv("DB_PASSWORD", ""),
		DBName:        getEnv("DB_NAME", ""),
		DBAutoMigrate: getEnvAsBool("DB_AUTO_MIGRATE", false),

		BlingAPIBaseURL:   baseURL,
		BlingTokenURL:     getEnv("BLING_TOKEN_URL", baseURL+"/oauth/token"),
		BlingAuthURL:      getEnv("BLING_AUTH_URL", "https://www.bling.com.br/Api/v3/oauth/authorize"),
		BlingClientID:     getEnv("BLING_CLIENT_ID", ""),
		BlingClientSecret: getEnv("BLING_CLIENT_SECRET", ""),
		PageSize:          getEnvAsInt("BLING_LIMIT", 100),
		ProductTypeFilter: getEnv("BLING_TIPO", "P"),
		ProductStatus:     getEnv("BLING_SITUACAO", "A"),
		ProductFormat:     os.Getenv("PRODUCT_FORMAT_FILTER"),

		TokenStore:     strings.ToLower(getEnv("TOKEN_STORE", TokenStoreDatabase)),
		TokenKeyPrefix: getEnv("TOKEN_KEY_PREFIX", "bling"),
		EnvPath:        envPath,
		RefreshLockTTL: seconds(getEnvAsFloat("REFRESH_LOCK_TTL", 60)),

		HTTPTimeout: seconds(getEnvAsFloat("HTTP_TIMEOUT", 20)),
		MaxRetry:    getEnvAsInt("MAX_RETRY", 3),
		DelayOK:     seconds(getEnvAsFloat("DELAY_OK", 1.0)),
		DelayFail:   seconds(getEnvAsFloat("DELAY_FAIL", 5.0)),
		BackoffCap:  seconds(getEnvAsFloat("BACKOFF_CAP", 30)),
		DetailDelay: time.Duration(getEnvAsInt("DETAIL_DELAY_MS", 350)) * time.Millisecond,

		DetailsMaxAge:   time.Duration(getEnvAsInt("DETAILS_MAX_AGE_HOURS", 168)) * time.Hour,
		UpsertBatchSize: getEnvAsInt("UPSERT_BATCH_SIZE", 200),
		SyncResources:   splitList(getEnv("SYNC_RESOURCES", "products,contacts")),

		RedisURL: getEnv("REDIS_URL", ""),

		KafkaBrokers:       getEnv("KAFKA_BROKERS", ""),
		KafkaEventsTopic:   getEnv("KAFKA_EVENTS_TOPIC", "bling-catalog-events"),
		KafkaRequestsTopic: getEnv("KAFKA_REQUESTS_TOPIC", "bling-sync-requests"),

		APIPort:     getEnv("API_PORT", "8080"),
		APIHost:     getEnv("API_HOST", "0.0.0.0"),
		CORSOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),

		Env:          getEnv("ENV", "development"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogDir:       getEnv("LOG_DIR", "logs"),
		LogToConsole: getEnvAsBool("LOG_TO_CONSOLE", true),
	}

	// The format predicate is on unless explicitly emptied.
	if _, set := os.LookupEnv("PRODUCT_FORMAT_FILTER"); !set {
		cfg.ProductFormat = "S"
	}

	if cfg.DatabaseURL == "" && cfg.DBHost != "" {
		cfg.DatabaseURL = cfg.MySQLURL()
	}

	return cfg, nil
}

// MySQLURL assembles a mysql:// go-sql-driver DSN from the DB_* parts.
func (c *Config) MySQLURL() string {
	return fmt.Sprintf("mysql://%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=Local",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var problems []string

	if c.DatabaseURL == "" {
		problems = append(problems, "DATABASE_URL or DB_HOST/DB_USER/DB_PASSWORD/DB_NAME")
	} else if strings.HasPrefix(c.DatabaseURL, "mysql://") && c.DBHost != "" {
		for key, val := range map[string]string{"DB_USER": c.DBUser, "DB_PASSWORD": c.DBPassword, "DB_NAME": c.DBName} {
			if val == "" {
				problems = append(problems, key)
			}
		}
	}
	if c.BlingClientID == "" {
		problems = append(problems, "BLING_CLIENT_ID")
	}
	if c.BlingClientSecret == "" {
		problems = append(problems, "BLING_CLIENT_SECRET")
	}
	if c.TokenStore != TokenStoreDatabase && c.TokenStore != TokenStoreEnvFile {
		problems = append(problems, fmt.Sprintf("TOKEN_STORE (%q is not database|envfile)", c.TokenStore))
	}
	if c.PageSize <= 0 {
		problems = append(problems, "BLING_LIMIT must be positive")
	}
	if c.MaxRetry <= 0 {
		problems = append(problems, "MAX_RETRY must be positive")
	}
	if c.UpsertBatchSize <= 0 {
		problems = append(problems, "UPSERT_BATCH_SIZE must be positive")
	}
	for _, r := range c.SyncResources {
		if r != "products" && r != "contacts" {
			problems = append(problems, fmt.Sprintf("SYNC_RESOURCES (unknown resource %q)", r))
		}
	}

	if len(problems) > 0 {
		return apperrors.Newf(apperrors.ErrConfig, "missing or invalid settings: %s", strings.Join(problems, ", "))
	}
	return nil
}

// KafkaEnabled reports whether a broker list was configured.
func (c *Config) KafkaEnabled() bool {
	return c.KafkaBrokers != ""
}

// KafkaBrokerList splits KAFKA_BROKERS on commas.
func (c *Config) KafkaBrokerList() []string {
	return splitList(c.KafkaBrokers)
}

// Secrets returns the values that must never reach the logs.
func (c *Config) Secrets() []string {
	return []string{c.BlingClientSecret, c.DBPassword}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultValue
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
