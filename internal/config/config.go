package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Graph    GraphConfig    `mapstructure:"graph"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Engine   EngineConfig   `mapstructure:"engine"`
	WhatsApp WhatsAppConfig `mapstructure:"whatsapp"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Security SecurityConfig `mapstructure:"security"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	MiddlewareTimeout time.Duration `mapstructure:"middleware_timeout"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`

	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// StorageConfig selects the session store backend
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // postgres, sqlite, mysql, memory
	DSN    string `mapstructure:"dsn"`    // sqlite and mysql only
}

// GraphConfig selects where published flows are read from
type GraphConfig struct {
	Source   string        `mapstructure:"source"` // postgres, sql, mongo, file
	Dir      string        `mapstructure:"dir"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

type EngineConfig struct {
	MaxSteps      int            `mapstructure:"max_steps"`
	TurnTimeout   time.Duration  `mapstructure:"turn_timeout"`
	LockTimeout   time.Duration  `mapstructure:"lock_timeout"`
	SessionTTL    time.Duration  `mapstructure:"session_ttl"`
	SweepInterval time.Duration  `mapstructure:"sweep_interval"`
	Timezone      string         `mapstructure:"timezone"`
	Messages      MessagesConfig `mapstructure:"messages"`
}

// Location resolves Timezone, falling back to UTC
func (c EngineConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// MessagesConfig overrides the texts the bot synthesizes; empty keeps the default
type MessagesConfig struct {
	Welcome      string `mapstructure:"welcome"`
	Fallback     string `mapstructure:"fallback"`
	Greeting     string `mapstructure:"greeting"`
	Apology      string `mapstructure:"apology"`
	CycleApology string `mapstructure:"cycle_apology"`
	StillWorking string `mapstructure:"still_working"`
	UnknownNode  string `mapstructure:"unknown_node"`
}

type WhatsAppConfig struct {
	VerifyToken string            `mapstructure:"verify_token"`
	AppSecret   string            `mapstructure:"app_secret"`
	AccessToken string            `mapstructure:"access_token"`
	APIURL      string            `mapstructure:"api_url"`
	Tenants     map[string]string `mapstructure:"tenants"` // phone_number_id -> tenant id
}

type AuthConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

type SecurityConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

type LoggingConfig struct {
	Level        string        `mapstructure:"level"`
	Format       string        `mapstructure:"format"`
	File         string        `mapstructure:"file"`
	MaxAge       time.Duration `mapstructure:"max_age"`
	RotationTime time.Duration `mapstructure:"rotation_time"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	// Set config file path
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "45s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.middleware_timeout", "40s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "flowbot")
	v.SetDefault("database.database", "flowbot")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.health_check_period", "1m")

	// Storage and graph source
	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("graph.source", "postgres")
	v.SetDefault("graph.dir", "./flows")
	v.SetDefault("graph.cache_ttl", "1m")

	// Redis
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// Mongo
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "flowbot")
	v.SetDefault("mongo.collection", "flow_activations")

	// Engine
	v.SetDefault("engine.max_steps", 5)
	v.SetDefault("engine.turn_timeout", "30s")
	v.SetDefault("engine.lock_timeout", "10s")
	v.SetDefault("engine.session_ttl", "24h")
	v.SetDefault("engine.sweep_interval", "10m")
	v.SetDefault("engine.timezone", "UTC")

	// WhatsApp
	v.SetDefault("whatsapp.api_url", "https://graph.facebook.com/v19.0")

	// Auth
	v.SetDefault("auth.access_token_ttl", "15m")

	// Security
	v.SetDefault("security.rate_limit.requests_per_minute", 30)
	v.SetDefault("security.rate_limit.burst", 10)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.max_age", "168h")
	v.SetDefault("logging.rotation_time", "24h")
}

func bindEnvVars(v *viper.Viper) {
	// Database
	v.BindEnv("database.password", "POSTGRES_PASSWORD")
	v.BindEnv("storage.dsn", "STORAGE_DSN")

	// Redis
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Mongo
	v.BindEnv("mongo.uri", "MONGO_URI")

	// Auth
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")

	// WhatsApp
	v.BindEnv("whatsapp.verify_token", "WHATSAPP_VERIFY_TOKEN")
	v.BindEnv("whatsapp.app_secret", "WHATSAPP_APP_SECRET")
	v.BindEnv("whatsapp.access_token", "WHATSAPP_ACCESS_TOKEN")
}
