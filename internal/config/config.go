package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	Env      string
	Upstream UpstreamConfig
	Database DatabaseConfig
	Trade    TradeConfig
	Batch    BatchConfig
	Cache    CacheConfig
}

// UpstreamConfig describes the Geyser-shaped gRPC feed and its connection
// pool, plus the SOL/USD reference websocket feed.
type UpstreamConfig struct {
	GRPCEndpoint  string
	GRPCToken     string
	PoolSize      int
	HealthCheckMs int
	ReconnectDelay time.Duration
	MaxReconnect   time.Duration

	RefPriceWSURL            string
	SolPriceUpdateIntervalMs int
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (d *DatabaseConfig) ConnectString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// TradeConfig drives the TradeHandler's lifecycle and save-threshold logic.
type TradeConfig struct {
	BCSaveThreshold  float64
	AMMSaveThreshold float64
	SaveAllTokens    bool
}

// BatchConfig drives BatchWriter's flush policy.
type BatchConfig struct {
	BatchSize       int
	BatchIntervalMs int
}

// CacheConfig drives the in-memory hot token cache.
type CacheConfig struct {
	RefreshIntervalMs int
	EvictionAfterMs   int
}

func LoadConfig() (*Config, error) {
	env := getEnv("ENV", "local")

	upstream := UpstreamConfig{
		GRPCEndpoint:             getEnv("GEYSER_GRPC_ENDPOINT", "localhost:10000"),
		GRPCToken:                getEnv("GEYSER_GRPC_TOKEN", ""),
		PoolSize:                 getEnvInt("STREAM_POOL_SIZE", 8),
		HealthCheckMs:            getEnvInt("STREAM_HEALTH_CHECK_INTERVAL_MS", 5000),
		ReconnectDelay:           time.Duration(getEnvInt("STREAM_RECONNECT_DELAY_SEC", 5)) * time.Second,
		MaxReconnect:             time.Duration(getEnvInt("STREAM_MAX_RECONNECT_DELAY_SEC", 60)) * time.Second,
		RefPriceWSURL:            getEnv("REF_PRICE_WS_URL", "wss://pricefeed.example/ws"),
		SolPriceUpdateIntervalMs: getEnvInt("SOL_PRICE_UPDATE_INTERVAL_MS", 10000),
	}

	dbConfig := DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "ingest"),
		Password:        getEnv("DB_PASSWORD", "secret_password"),
		DBName:          getEnv("DB_NAME", "ingest"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 20),
		MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
		ConnMaxLifetime: time.Duration(getEnvInt("DB_CONN_MAX_LIFETIME_MIN", 30)) * time.Minute,
	}

	tradeConfig := TradeConfig{
		BCSaveThreshold:  getEnvFloat("BC_SAVE_THRESHOLD", 8888),
		AMMSaveThreshold: getEnvFloat("AMM_SAVE_THRESHOLD", 1000),
		SaveAllTokens:    getEnvBool("SAVE_ALL_TOKENS", false),
	}

	batchConfig := BatchConfig{
		BatchSize:       getEnvInt("BATCH_SIZE", 50),
		BatchIntervalMs: getEnvInt("BATCH_INTERVAL_MS", 250),
	}

	cacheConfig := CacheConfig{
		RefreshIntervalMs: getEnvInt("CACHE_REFRESH_INTERVAL_MS", 60000),
		EvictionAfterMs:   getEnvInt("CACHE_EVICTION_AFTER_MS", 2*60*60*1000),
	}

	return &Config{
		Env:      env,
		Upstream: upstream,
		Database: dbConfig,
		Trade:    tradeConfig,
		Batch:    batchConfig,
		Cache:    cacheConfig,
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		v, err := strconv.Atoi(value)
		if err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		v, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return v
		}
	}
	return defaultValue
}
