package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nemonet1337/tireshop-ledger/pkg/cache"
	"github.com/nemonet1337/tireshop-ledger/pkg/identity"
	"github.com/nemonet1337/tireshop-ledger/pkg/inventory"
)

// Config holds application configuration
// การตั้งค่าของแอปพลิเคชัน
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	Inventory InventoryConfig `yaml:"inventory"`
	Cache     CacheConfig     `yaml:"cache"`
	Redis     RedisConfig     `yaml:"redis"`
	Blob      BlobConfig      `yaml:"blob"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DatabaseConfig holds database configuration
// การตั้งค่าฐานข้อมูล
type DatabaseConfig struct {
	// URL, when set, is used as the DSN as is.
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// APIConfig holds API server configuration
type APIConfig struct {
	Port          int           `yaml:"port"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	EnableCORS    bool          `yaml:"enable_cors"`
	EnableMetrics bool          `yaml:"enable_metrics"`
}

// InventoryConfig holds ledger configuration
// การตั้งค่าคลังสินค้า
type InventoryConfig struct {
	LowStockThreshold int64    `yaml:"low_stock_threshold"`
	NotifyRoles       []string `yaml:"notify_roles"`
	ContentionRetries int      `yaml:"contention_retries"`
	AdminUsername     string   `yaml:"admin_username"`
	AdminPassword     string   `yaml:"admin_password"`
}

// CacheConfig selects the cache backend and its TTL policy.
type CacheConfig struct {
	Backend    string        `yaml:"backend"` // memory, redis
	ListingTTL time.Duration `yaml:"listing_ttl"`
	MasterTTL  time.Duration `yaml:"master_ttl"`
	StaticTTL  time.Duration `yaml:"static_ttl"`
}

// RedisConfig holds the Redis connection used by the redis cache backend.
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	PoolSize    int           `yaml:"pool_size"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	Namespace   string        `yaml:"namespace"`
}

// BlobConfig selects where movement photos are stored.
type BlobConfig struct {
	Backend         string `yaml:"backend"` // memory, gcs
	Bucket          string `yaml:"bucket"`
	PublicBaseURL   string `yaml:"public_base_url"`
	CredentialsJSON string `yaml:"credentials_json"`
}

// AuthConfig holds the bearer token settings
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// LoggingConfig holds logging configuration
// การตั้งค่าล็อก
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "tireshop",
			DBName:  "tireshop",
			SSLMode: "disable",
		},
		API: APIConfig{
			Port:          8080,
			ReadTimeout:   30 * time.Second,
			WriteTimeout:  30 * time.Second,
			IdleTimeout:   60 * time.Second,
			EnableCORS:    true,
			EnableMetrics: true,
		},
		Inventory: InventoryConfig{
			LowStockThreshold: 4,
			NotifyRoles:       []string{string(identity.RoleAdmin), string(identity.RoleEditor)},
			ContentionRetries: 1,
			AdminUsername:     "admin",
			AdminPassword:     "admin",
		},
		Cache: CacheConfig{
			Backend:    "memory",
			ListingTTL: cache.TTLProducts,
			MasterTTL:  cache.TTLMasters,
			StaticTTL:  cache.TTLStatic,
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PoolSize:    10,
			DialTimeout: 5 * time.Second,
			Namespace:   "tireshop",
		},
		Blob: BlobConfig{
			Backend:       "memory",
			PublicBaseURL: "http://localhost:8080/uploads",
		},
		Auth: AuthConfig{
			TokenTTL: 12 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads CONFIG_FILE when set, then applies environment overrides.
// โหลดการตั้งค่าจากไฟล์และตัวแปรสภาพแวดล้อม
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Database = DatabaseConfig{
		URL:      getEnv("DATABASE_URL", c.Database.URL),
		Host:     getEnv("DB_HOST", c.Database.Host),
		Port:     getEnvAsInt("DB_PORT", c.Database.Port),
		User:     getEnv("DB_USER", c.Database.User),
		Password: getEnv("DB_PASSWORD", c.Database.Password),
		DBName:   getEnv("DB_NAME", c.Database.DBName),
		SSLMode:  getEnv("DB_SSLMODE", c.Database.SSLMode),
	}
	c.API = APIConfig{
		Port:          getEnvAsInt("API_PORT", c.API.Port),
		ReadTimeout:   getEnvAsDuration("API_READ_TIMEOUT", c.API.ReadTimeout),
		WriteTimeout:  getEnvAsDuration("API_WRITE_TIMEOUT", c.API.WriteTimeout),
		IdleTimeout:   getEnvAsDuration("API_IDLE_TIMEOUT", c.API.IdleTimeout),
		EnableCORS:    getEnvAsBool("API_ENABLE_CORS", c.API.EnableCORS),
		EnableMetrics: getEnvAsBool("API_ENABLE_METRICS", c.API.EnableMetrics),
	}
	c.Inventory = InventoryConfig{
		LowStockThreshold: getEnvAsInt64("INVENTORY_LOW_STOCK_THRESHOLD", c.Inventory.LowStockThreshold),
		NotifyRoles:       getEnvAsList("INVENTORY_NOTIFY_ROLES", c.Inventory.NotifyRoles),
		ContentionRetries: getEnvAsInt("INVENTORY_CONTENTION_RETRIES", c.Inventory.ContentionRetries),
		AdminUsername:     getEnv("ADMIN_USERNAME", c.Inventory.AdminUsername),
		AdminPassword:     getEnv("ADMIN_PASSWORD", c.Inventory.AdminPassword),
	}
	c.Cache = CacheConfig{
		Backend:    getEnv("CACHE_BACKEND", c.Cache.Backend),
		ListingTTL: getEnvAsDuration("CACHE_LISTING_TTL", c.Cache.ListingTTL),
		MasterTTL:  getEnvAsDuration("CACHE_MASTER_TTL", c.Cache.MasterTTL),
		StaticTTL:  getEnvAsDuration("CACHE_STATIC_TTL", c.Cache.StaticTTL),
	}
	c.Redis = RedisConfig{
		Addr:        getEnv("REDIS_ADDR", c.Redis.Addr),
		Password:    getEnv("REDIS_PASSWORD", c.Redis.Password),
		DB:          getEnvAsInt("REDIS_DB", c.Redis.DB),
		PoolSize:    getEnvAsInt("REDIS_POOL_SIZE", c.Redis.PoolSize),
		DialTimeout: getEnvAsDuration("REDIS_DIAL_TIMEOUT", c.Redis.DialTimeout),
		Namespace:   getEnv("REDIS_NAMESPACE", c.Redis.Namespace),
	}
	c.Blob = BlobConfig{
		Backend:         getEnv("BLOB_BACKEND", c.Blob.Backend),
		Bucket:          getEnv("GCS_BUCKET", c.Blob.Bucket),
		PublicBaseURL:   getEnv("BLOB_PUBLIC_BASE_URL", c.Blob.PublicBaseURL),
		CredentialsJSON: getEnv("GCS_CREDENTIALS_JSON", c.Blob.CredentialsJSON),
	}
	c.Auth = AuthConfig{
		JWTSecret: getEnv("JWT_SECRET", c.Auth.JWTSecret),
		TokenTTL:  getEnvAsDuration("JWT_TOKEN_TTL", c.Auth.TokenTTL),
	}
	c.Logging = LoggingConfig{
		Level:  getEnv("LOG_LEVEL", c.Logging.Level),
		Format: getEnv("LOG_FORMAT", c.Logging.Format),
		Output: getEnv("LOG_OUTPUT", c.Logging.Output),
	}
}

// Validate validates the configuration
// ตรวจสอบความถูกต้องของการตั้งค่า
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		if c.Database.Host == "" {
			return errors.New("database host is required")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			return fmt.Errorf("invalid database port: %d", c.Database.Port)
		}
		if c.Database.User == "" {
			return errors.New("database user is required")
		}
		if c.Database.DBName == "" {
			return errors.New("database name is required")
		}
	}

	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("invalid api port: %d", c.API.Port)
	}

	if c.Inventory.LowStockThreshold < 0 {
		return errors.New("low stock threshold must be zero or more")
	}
	if c.Inventory.ContentionRetries < 0 {
		return errors.New("contention retries must be zero or more")
	}
	for _, r := range c.Inventory.NotifyRoles {
		if !identity.Role(r).Valid() {
			return fmt.Errorf("unknown notify role: %s", r)
		}
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("redis address is required for the redis cache backend")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s", c.Cache.Backend)
	}
	for name, ttl := range map[string]time.Duration{
		"listing": c.Cache.ListingTTL,
		"master":  c.Cache.MasterTTL,
		"static":  c.Cache.StaticTTL,
	} {
		if ttl <= 0 {
			return fmt.Errorf("%s cache ttl must be positive", name)
		}
	}

	switch c.Blob.Backend {
	case "memory":
	case "gcs":
		if c.Blob.Bucket == "" {
			return errors.New("gcs bucket is required for the gcs blob backend")
		}
	default:
		return fmt.Errorf("invalid blob backend: %s", c.Blob.Backend)
	}

	if c.Auth.TokenTTL <= 0 {
		return errors.New("token ttl must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	validLogFormats := map[string]bool{
		"json": true, "console": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}
	return nil
}

// DSN generates the PostgreSQL data source name
func (c *Config) DSN() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// ManagerConfig converts the ledger and cache sections into the manager's config.
func (c *Config) ManagerConfig() *inventory.Config {
	mc := inventory.DefaultConfig()
	mc.LowStockThreshold = c.Inventory.LowStockThreshold
	mc.NotifyRoles = append([]string(nil), c.Inventory.NotifyRoles...)
	mc.ContentionRetries = c.Inventory.ContentionRetries
	mc.AdminUsername = c.Inventory.AdminUsername
	mc.AdminPassword = c.Inventory.AdminPassword
	mc.ListingTTL = c.Cache.ListingTTL
	mc.MasterTTL = c.Cache.MasterTTL
	mc.StaticTTL = c.Cache.StaticTTL
	return mc
}

// RedisOptions converts the redis section for cache.NewRedisClient.
func (c *Config) RedisOptions() cache.RedisOptions {
	return cache.RedisOptions{
		Addr:         c.Redis.Addr,
		Password:     c.Redis.Password,
		DB:           c.Redis.DB,
		PoolSize:     c.Redis.PoolSize,
		DialTimeout:  c.Redis.DialTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// helpers

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

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if int64Value, err := strconv.ParseInt(value, 10, 64); err == nil {
			return int64Value
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
