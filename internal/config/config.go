package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the analytics API.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	ClickHouse  ClickHouseConfig
	Redis       RedisConfig
	Auth        AuthConfig
	RateLimit   RateLimitConfig
	Log         LogConfig
	Metrics     MetricsConfig
	Geo         GeoConfig
	Attribution AttributionConfig
	Dashboard   DashboardConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	// SeedFile is loaded into the in-memory store when no database is reachable.
	SeedFile string
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// ClickHouseConfig points at the journey event store.
type ClickHouseConfig struct {
	Enabled     bool
	Addr        []string
	Database    string
	Username    string
	Password    string
	DialTimeout time.Duration
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	Enabled   bool
	MasterKey string
	SkipPaths []string
}

type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled   bool
	Path      string
	Namespace string
}

// GeoConfig configures the country lookup for journey events.
type GeoConfig struct {
	Enabled      bool
	DatabasePath string
	CacheSize    int
	CacheTTL     time.Duration
}

// AttributionConfig tunes the referral matcher.
type AttributionConfig struct {
	Window           time.Duration
	ConversionStatus string
	TieBreak         string
	SourceTerms      []string
}

// DashboardConfig sets fetch limits, page sizes and caching.
type DashboardConfig struct {
	DefaultLimit    int
	MaxLimit        int
	RecentOrders    int
	RecentCheckouts int
	RecentReferrals int
	RecentJourneys  int
	TopPages        int
	TopLists        int
	CacheTTL        time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("ANALYTICS_HTTP_ADDR", ":8080"),
			Env:             getEnv("ANALYTICS_ENV", "development"),
			ShutdownTimeout: getDurationEnv("ANALYTICS_SHUTDOWN_TIMEOUT", 30*time.Second),
			RequestTimeout:  getDurationEnv("ANALYTICS_REQUEST_TIMEOUT", 20*time.Second),
			SeedFile:        getEnv("ANALYTICS_SEED_FILE", ""),
		},
		Database: DatabaseConfig{
			Enabled:  getBoolEnv("ANALYTICS_DB_ENABLED", true),
			Host:     getEnv("ANALYTICS_DB_HOST", "localhost"),
			Port:     getIntEnv("ANALYTICS_DB_PORT", 5432),
			User:     getEnv("ANALYTICS_DB_USER", "analytics"),
			Password: getEnv("ANALYTICS_DB_PASSWORD", "analytics_secret"),
			DBName:   getEnv("ANALYTICS_DB_NAME", "shop_analytics"),
			SSLMode:  getEnv("ANALYTICS_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("ANALYTICS_DB_MAX_CONNS", 10),
			MinConns: getIntEnv("ANALYTICS_DB_MIN_CONNS", 2),
		},
		ClickHouse: ClickHouseConfig{
			Enabled:     getBoolEnv("ANALYTICS_CLICKHOUSE_ENABLED", true),
			Addr:        getSliceEnv("ANALYTICS_CLICKHOUSE_ADDR", []string{"localhost:9000"}),
			Database:    getEnv("ANALYTICS_CLICKHOUSE_DB", "analytics"),
			Username:    getEnv("ANALYTICS_CLICKHOUSE_USER", "default"),
			Password:    getEnv("ANALYTICS_CLICKHOUSE_PASSWORD", ""),
			DialTimeout: getDurationEnv("ANALYTICS_CLICKHOUSE_DIAL_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			Enabled:  getBoolEnv("ANALYTICS_REDIS_ENABLED", true),
			Addr:     getEnv("ANALYTICS_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("ANALYTICS_REDIS_PASSWORD", ""),
			DB:       getIntEnv("ANALYTICS_REDIS_DB", 0),
		},
		Auth: AuthConfig{
			Enabled:   getBoolEnv("ANALYTICS_AUTH_ENABLED", true),
			MasterKey: getEnv("ANALYTICS_API_KEY", ""),
			SkipPaths: getSliceEnv("ANALYTICS_AUTH_SKIP_PATHS", []string{"/health", "/metrics"}),
		},
		RateLimit: RateLimitConfig{
			Enabled: getBoolEnv("ANALYTICS_RATE_LIMIT_ENABLED", true),
			RPS:     getFloatEnv("ANALYTICS_RATE_LIMIT_RPS", 20),
			Burst:   getIntEnv("ANALYTICS_RATE_LIMIT_BURST", 40),
		},
		Log: LogConfig{
			Level:  getEnv("ANALYTICS_LOG_LEVEL", "info"),
			Format: getEnv("ANALYTICS_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled:   getBoolEnv("ANALYTICS_METRICS_ENABLED", true),
			Path:      getEnv("ANALYTICS_METRICS_PATH", "/metrics"),
			Namespace: getEnv("ANALYTICS_METRICS_NAMESPACE", "shop_analytics"),
		},
		Geo: GeoConfig{
			Enabled:      getBoolEnv("ANALYTICS_GEO_ENABLED", false),
			DatabasePath: getEnv("ANALYTICS_GEO_DB_PATH", "/app/data/GeoLite2-Country.mmdb"),
			CacheSize:    getIntEnv("ANALYTICS_GEO_CACHE_SIZE", 10000),
			CacheTTL:     getDurationEnv("ANALYTICS_GEO_CACHE_TTL", time.Hour),
		},
		Attribution: AttributionConfig{
			Window:           getDurationEnv("ANALYTICS_ATTRIBUTION_WINDOW", 48*time.Hour),
			ConversionStatus: getEnv("ANALYTICS_ATTRIBUTION_STATUS", "converted"),
			TieBreak:         getEnv("ANALYTICS_ATTRIBUTION_TIE_BREAK", "first_in_list"),
			SourceTerms:      getSliceEnv("ANALYTICS_ATTRIBUTION_SOURCE_TERMS", []string{"ipick", "pavlo", "price comparison"}),
		},
		Dashboard: DashboardConfig{
			DefaultLimit:    getIntEnv("ANALYTICS_DASHBOARD_LIMIT", 100),
			MaxLimit:        getIntEnv("ANALYTICS_DASHBOARD_MAX_LIMIT", 1000),
			RecentOrders:    getIntEnv("ANALYTICS_DASHBOARD_RECENT_ORDERS", 20),
			RecentCheckouts: getIntEnv("ANALYTICS_DASHBOARD_RECENT_CHECKOUTS", 20),
			RecentReferrals: getIntEnv("ANALYTICS_DASHBOARD_RECENT_REFERRALS", 10),
			RecentJourneys:  getIntEnv("ANALYTICS_DASHBOARD_RECENT_JOURNEYS", 20),
			TopPages:        getIntEnv("ANALYTICS_DASHBOARD_TOP_PAGES", 10),
			TopLists:        getIntEnv("ANALYTICS_DASHBOARD_TOP_LISTS", 10),
			CacheTTL:        getDurationEnv("ANALYTICS_DASHBOARD_CACHE_TTL", 2*time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present and consistent.
func (c *Config) Validate() error {
	if c.Auth.Enabled && c.Auth.MasterKey == "" {
		return fmt.Errorf("ANALYTICS_API_KEY is required when auth is enabled")
	}
	if c.Attribution.Window <= 0 {
		return fmt.Errorf("ANALYTICS_ATTRIBUTION_WINDOW must be positive, got %s", c.Attribution.Window)
	}
	switch c.Attribution.TieBreak {
	case "first_in_list", "nearest_click":
	default:
		return fmt.Errorf("ANALYTICS_ATTRIBUTION_TIE_BREAK must be first_in_list or nearest_click, got %q", c.Attribution.TieBreak)
	}
	if c.Dashboard.DefaultLimit <= 0 || c.Dashboard.MaxLimit < c.Dashboard.DefaultLimit {
		return fmt.Errorf("dashboard limits are inconsistent: default %d, max %d", c.Dashboard.DefaultLimit, c.Dashboard.MaxLimit)
	}
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit RPS and burst must be positive when enabled")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getSliceEnv(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return def
}
