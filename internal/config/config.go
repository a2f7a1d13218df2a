package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	API      APIConfig
	Uploader UploaderConfig
	Deferred DeferredConfig
	Scraper  ScraperConfig
	Browser  BrowserConfig
	Staging  StagingConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Export   ExportConfig
	Logging  LoggingConfig
}

type APIConfig struct {
	BaseURL            string
	Username           string
	Password           string
	Timeout            time.Duration
	UploadTimeout      time.Duration
	InitialImageBudget int
	RequestsPerMinute  int
	UserAgents         []string
}

type UploaderConfig struct {
	BatchSize         int
	MaxAttempts       int
	RetryBase         time.Duration
	RetryMax          time.Duration
	RateLimitCooldown time.Duration
	ProductDelayMin   time.Duration
	ProductDelayMax   time.Duration
	BatchDelayMin     time.Duration
	BatchDelayMax     time.Duration
	SkipKnown         bool
}

type DeferredConfig struct {
	BatchSize   int
	DelayBase   time.Duration
	DelayJitter time.Duration
}

type ScraperConfig struct {
	DelayMin    time.Duration
	DelayMax    time.Duration
	NavRetries  int
	MaxScrolls  int
	MaxProducts int
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
}

type StagingConfig struct {
	Dir             string
	DownloadTimeout time.Duration
	MaxRetries      int
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type ExportConfig struct {
	Dir string
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		API: APIConfig{
			BaseURL:            getEnvOrDefault("API_BASE_URL", ""),
			Username:           getEnvOrDefault("API_USERNAME", ""),
			Password:           getEnvOrDefault("API_PASSWORD", ""),
			Timeout:            getDurationOrDefault("API_TIMEOUT", 30*time.Second),
			UploadTimeout:      getDurationOrDefault("API_UPLOAD_TIMEOUT", 60*time.Second),
			InitialImageBudget: getIntOrDefault("API_INITIAL_IMAGE_BUDGET", 2),
			RequestsPerMinute:  getIntOrDefault("API_REQUESTS_PER_MINUTE", 60),
			UserAgents:         getStringSliceOrDefault("API_USER_AGENTS", nil),
		},
		Uploader: UploaderConfig{
			BatchSize:         getIntOrDefault("UPLOADER_BATCH_SIZE", 2),
			MaxAttempts:       getIntOrDefault("UPLOADER_MAX_ATTEMPTS", 3),
			RetryBase:         getDurationOrDefault("UPLOADER_RETRY_BASE", 2*time.Second),
			RetryMax:          getDurationOrDefault("UPLOADER_RETRY_MAX", 60*time.Second),
			RateLimitCooldown: getDurationOrDefault("UPLOADER_RATE_LIMIT_COOLDOWN", 30*time.Second),
			ProductDelayMin:   getDurationOrDefault("UPLOADER_PRODUCT_DELAY_MIN", time.Second),
			ProductDelayMax:   getDurationOrDefault("UPLOADER_PRODUCT_DELAY_MAX", 3*time.Second),
			BatchDelayMin:     getDurationOrDefault("UPLOADER_BATCH_DELAY_MIN", 3*time.Second),
			BatchDelayMax:     getDurationOrDefault("UPLOADER_BATCH_DELAY_MAX", 7*time.Second),
			SkipKnown:         getBoolOrDefault("UPLOADER_SKIP_KNOWN", false),
		},
		Deferred: DeferredConfig{
			BatchSize:   getIntOrDefault("DEFERRED_BATCH_SIZE", 3),
			DelayBase:   getDurationOrDefault("DEFERRED_DELAY_BASE", 2*time.Second),
			DelayJitter: getDurationOrDefault("DEFERRED_DELAY_JITTER", 3*time.Second),
		},
		Scraper: ScraperConfig{
			DelayMin:    getDurationOrDefault("SCRAPER_DELAY_MIN", 2*time.Second),
			DelayMax:    getDurationOrDefault("SCRAPER_DELAY_MAX", 6*time.Second),
			NavRetries:  getIntOrDefault("SCRAPER_NAV_RETRIES", 3),
			MaxScrolls:  getIntOrDefault("SCRAPER_MAX_SCROLLS", 50),
			MaxProducts: getIntOrDefault("SCRAPER_MAX_PRODUCTS", 0),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "pt-BR,pt;q=0.9,en;q=0.8"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "America/Sao_Paulo"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "pt-BR"),
			ProxyServer:    getEnvOrDefault("BROWSER_PROXY", ""),
		},
		Staging: StagingConfig{
			Dir:             getEnvOrDefault("STAGING_DIR", ""),
			DownloadTimeout: getDurationOrDefault("STAGING_DOWNLOAD_TIMEOUT", 30*time.Second),
			MaxRetries:      getIntOrDefault("STAGING_MAX_RETRIES", 2),
		},
		Database: DatabaseConfig{
			Enabled:  getBoolOrDefault("DB_ENABLED", false),
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "catalog_sync"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:  getBoolOrDefault("REDIS_ENABLED", false),
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
			TTL:      getDurationOrDefault("REDIS_TTL", 7*24*time.Hour),
		},
		Export: ExportConfig{
			Dir: getEnvOrDefault("EXPORT_DIR", "./export"),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "text"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}
	if c.API.Username == "" || c.API.Password == "" {
		return fmt.Errorf("API_USERNAME and API_PASSWORD are required")
	}
	if c.Uploader.BatchSize < 1 {
		return fmt.Errorf("UPLOADER_BATCH_SIZE must be at least 1")
	}
	if c.Uploader.MaxAttempts < 1 {
		return fmt.Errorf("UPLOADER_MAX_ATTEMPTS must be at least 1")
	}
	if c.API.InitialImageBudget < 1 {
		return fmt.Errorf("API_INITIAL_IMAGE_BUDGET must be at least 1")
	}
	if c.Deferred.BatchSize < 1 {
		return fmt.Errorf("DEFERRED_BATCH_SIZE must be at least 1")
	}
	if c.Scraper.DelayMin > c.Scraper.DelayMax {
		return fmt.Errorf("SCRAPER_DELAY_MIN cannot be greater than SCRAPER_DELAY_MAX")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
