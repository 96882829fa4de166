package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Engine   EngineConfig
}

type ServerConfig struct {
	Port    string
	GinMode string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
}

// EngineConfig 配額引擎的可調參數
type EngineConfig struct {
	StoreDriver    string // postgres | memory
	Timezone       string
	TicketCacheTTL time.Duration
	QuotaCacheTTL  time.Duration
	DuplicateTTL   time.Duration
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RetryAttempts  int
	// 訂閱重連
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	ReconnectAttempts  int
}

var AppConfig *Config

func LoadConfig() *Config {
	// .env 不存在時忽略
	_ = godotenv.Load()

	AppConfig = &Config{
		Server:   GetServerConfig(),
		Database: GetDatabaseConfig(),
		Redis:    GetRedisConfig(),
		Engine:   GetEngineConfig(),
	}

	return AppConfig
}

func LoadTestConfig() *Config {
	testConfig := &DatabaseConfig{
		Host:     getEnv("TEST_DB_HOST", "localhost"),
		Port:     getEnv("TEST_DB_PORT", "5433"), // 測試 DB 用 5433 port
		User:     "postgres",
		Password: "postgres",
		DBName:   "test_db",
		SSLMode:  "disable",
	}

	testRedisConfig := RedisConfig{
		Enabled:  true,
		Host:     getEnv("TEST_REDIS_HOST", "localhost"),
		Port:     getEnv("TEST_REDIS_PORT", "6380"), // 測試 Redis 用 6380 port
		Password: "",
		DB:       1,
	}

	return &Config{
		Server:   ServerConfig{Port: "0", GinMode: "test"},
		Database: *testConfig,
		Redis:    testRedisConfig,
		Engine:   DefaultEngineConfig(),
	}
}

func GetServerConfig() ServerConfig {
	return ServerConfig{
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "release"),
	}
}

func GetDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnv("DB_PORT", "5432"),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", "postgres"),
		DBName:   getEnv("DB_NAME", "postgres"),
		SSLMode:  getEnv("DB_SSL_MODE", "disable"),
	}
}

func GetRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:  getEnvBool("REDIS_ENABLED", true),
		Host:     getEnv("REDIS_HOST", "localhost"),
		Port:     getEnv("REDIS_PORT", "6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getEnvInt("REDIS_DB", 0),
	}
}

// DefaultEngineConfig 預設值：報表快取 5 秒、配額快取 3 秒、重複檢查 10 秒
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		StoreDriver:        "postgres",
		Timezone:           "UTC",
		TicketCacheTTL:     5 * time.Second,
		QuotaCacheTTL:      3 * time.Second,
		DuplicateTTL:       10 * time.Second,
		RetryBaseDelay:     100 * time.Millisecond,
		RetryMaxDelay:      2 * time.Second,
		RetryAttempts:      3,
		ReconnectBaseDelay: time.Second,
		ReconnectMaxDelay:  30 * time.Second,
		ReconnectAttempts:  15,
	}
}

func GetEngineConfig() EngineConfig {
	d := DefaultEngineConfig()
	return EngineConfig{
		StoreDriver:        getEnv("STORE_DRIVER", d.StoreDriver),
		Timezone:           getEnv("ENGINE_TIMEZONE", d.Timezone),
		TicketCacheTTL:     getEnvDuration("TICKET_CACHE_TTL", d.TicketCacheTTL),
		QuotaCacheTTL:      getEnvDuration("QUOTA_CACHE_TTL", d.QuotaCacheTTL),
		DuplicateTTL:       getEnvDuration("DUPLICATE_TTL", d.DuplicateTTL),
		RetryBaseDelay:     getEnvDuration("STORE_RETRY_BASE_DELAY", d.RetryBaseDelay),
		RetryMaxDelay:      getEnvDuration("STORE_RETRY_MAX_DELAY", d.RetryMaxDelay),
		RetryAttempts:      getEnvInt("STORE_RETRY_ATTEMPTS", d.RetryAttempts),
		ReconnectBaseDelay: getEnvDuration("NOTIFY_RECONNECT_BASE_DELAY", d.ReconnectBaseDelay),
		ReconnectMaxDelay:  getEnvDuration("NOTIFY_RECONNECT_MAX_DELAY", d.ReconnectMaxDelay),
		ReconnectAttempts:  getEnvInt("NOTIFY_RECONNECT_ATTEMPTS", d.ReconnectAttempts),
	}
}

// Location 解析設定的時區，失敗時退回 UTC
func (c EngineConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		panic(err)
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		panic(err)
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		panic(err)
	}
	return d
}
