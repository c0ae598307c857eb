package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Store drivers.
const (
	DriverFirestore = "firestore"
	DriverMongo     = "mongo"
	DriverMemory    = "memory"
)

type Config struct {
	App       AppConfig       `koanf:"app"`
	Server    ServerConfig    `koanf:"server"`
	Store     StoreConfig     `koanf:"store"`
	Firebase  FirebaseConfig  `koanf:"firebase"`
	Mongo     MongoConfig     `koanf:"mongo"`
	Auth      AuthConfig      `koanf:"auth"`
	Redis     RedisConfig     `koanf:"redis"`
	NATS      NATSConfig      `koanf:"nats"`
	CORS      CORSConfig      `koanf:"cors"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Log       LogConfig       `koanf:"log"`
	Otel      OtelConfig      `koanf:"otel"`
}

type AppConfig struct {
	Name        string `koanf:"name"`
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
}

type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type StoreConfig struct {
	Driver   string        `koanf:"driver"`
	Timeout  time.Duration `koanf:"timeout"`
	DataFile string        `koanf:"data_file"`
}

type FirebaseConfig struct {
	ProjectID       string `koanf:"project_id"`
	CredentialsFile string `koanf:"credentials_file"`
	CredentialsJSON string `koanf:"credentials_json"`
	WebAPIKey       string `koanf:"web_api_key"`
	// AcceptIDTokens lets clients authenticate with a Firebase ID token
	// instead of a session token.
	AcceptIDTokens bool `koanf:"accept_id_tokens"`
	// DisableAccounts mirrors deactivation onto the Firebase Auth account.
	DisableAccounts bool `koanf:"disable_accounts"`
}

type MongoConfig struct {
	URI      string `koanf:"uri"`
	Database string `koanf:"database"`
}

type AuthConfig struct {
	JWTSecret         string        `koanf:"jwt_secret"`
	TokenTTL          time.Duration `koanf:"token_ttl"`
	AdminEmail        string        `koanf:"admin_email"`
	AdminPasswordHash string        `koanf:"admin_password_hash"`
	AdminName         string        `koanf:"admin_name"`
	SessionIdle       time.Duration `koanf:"session_idle"`
	SweepInterval     time.Duration `koanf:"sweep_interval"`
}

type RedisConfig struct {
	URL          string `koanf:"url"`
	PoolSize     int    `koanf:"pool_size"`
	MinIdleConns int    `koanf:"min_idle_conns"`
}

type NATSConfig struct {
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

type CORSConfig struct {
	AllowedOrigins   []string `koanf:"allowed_origins"`
	AllowedMethods   []string `koanf:"allowed_methods"`
	AllowedHeaders   []string `koanf:"allowed_headers"`
	AllowCredentials bool     `koanf:"allow_credentials"`
	MaxAge           int      `koanf:"max_age"`
}

type RateLimitConfig struct {
	LoginRequests int           `koanf:"login_requests"`
	Window        time.Duration `koanf:"window"`
	Burst         int           `koanf:"burst"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type OtelConfig struct {
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	Enabled     bool    `koanf:"enabled"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// Load reads defaults, then the optional YAML file at configPath, then the
// environment. A .env file in the working directory is loaded first if present.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKeyReplacer), nil); err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"app.name":        "FndParking Admin",
		"app.version":     "1.0.0",
		"app.environment": "development",

		"server.host":             "0.0.0.0",
		"server.port":             8080,
		"server.read_timeout":     "30s",
		"server.write_timeout":    "30s",
		"server.idle_timeout":     "120s",
		"server.shutdown_timeout": "15s",

		"store.driver":    DriverFirestore,
		"store.timeout":   "10s",
		"store.data_file": "",

		"firebase.accept_id_tokens": false,
		"firebase.disable_accounts": false,

		"mongo.database": "fndparking",

		"auth.token_ttl":      "12h",
		"auth.admin_name":     "Administrator",
		"auth.session_idle":   "30m",
		"auth.sweep_interval": "1m",

		"redis.pool_size":      10,
		"redis.min_idle_conns": 2,

		"nats.subject_prefix": "fndparking.admin",

		"cors.allowed_origins": []string{"http://localhost:3000"},
		"cors.allowed_methods": []string{
			"GET",
			"POST",
			"PATCH",
			"DELETE",
			"OPTIONS",
		},
		"cors.allowed_headers": []string{
			"Accept",
			"Authorization",
			"Content-Type",
			"X-Request-ID",
		},
		"cors.allow_credentials": true,
		"cors.max_age":           300,

		"rate_limit.login_requests": 10,
		"rate_limit.window":         "1m",
		"rate_limit.burst":          5,

		"log.level":  "info",
		"log.format": "json",

		"otel.enabled":      false,
		"otel.insecure":     true,
		"otel.sample_rate":  0.1,
		"otel.service_name": "fndparking-admin",
	}

	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}
	return nil
}

var envKeyMap = map[string]string{
	"ENVIRONMENT":                 "app.environment",
	"HOST":                        "server.host",
	"PORT":                        "server.port",
	"STORE_DRIVER":                "store.driver",
	"STORE_TIMEOUT":               "store.timeout",
	"STORE_DATA_FILE":             "store.data_file",
	"FIREBASE_PROJECT_ID":         "firebase.project_id",
	"FIREBASE_CREDENTIALS_FILE":   "firebase.credentials_file",
	"FIREBASE_CREDENTIALS_JSON":   "firebase.credentials_json",
	"FIREBASE_WEB_API_KEY":        "firebase.web_api_key",
	"FIREBASE_ACCEPT_ID_TOKENS":   "firebase.accept_id_tokens",
	"FIREBASE_DISABLE_ACCOUNTS":   "firebase.disable_accounts",
	"MONGO_URI":                   "mongo.uri",
	"MONGO_DATABASE":              "mongo.database",
	"JWT_SECRET":                  "auth.jwt_secret",
	"JWT_EXPIRATION":              "auth.token_ttl",
	"ADMIN_EMAIL":                 "auth.admin_email",
	"ADMIN_PASSWORD_HASH":         "auth.admin_password_hash",
	"ADMIN_NAME":                  "auth.admin_name",
	"SESSION_IDLE_TIMEOUT":        "auth.session_idle",
	"REDIS_URL":                   "redis.url",
	"NATS_URL":                    "nats.url",
	"NATS_SUBJECT_PREFIX":         "nats.subject_prefix",
	"CORS_ALLOWED_ORIGINS":        "cors.allowed_origins",
	"RATE_LIMIT_LOGIN_REQUESTS":   "rate_limit.login_requests",
	"RATE_LIMIT_WINDOW":           "rate_limit.window",
	"RATE_LIMIT_BURST":            "rate_limit.burst",
	"LOG_LEVEL":                   "log.level",
	"LOG_FORMAT":                  "log.format",
	"OTEL_ENDPOINT":               "otel.endpoint",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "otel.endpoint",
	"OTEL_SERVICE_NAME":           "otel.service_name",
	"OTEL_ENABLED":                "otel.enabled",
	"OTEL_INSECURE":               "otel.insecure",
	"OTEL_SAMPLE_RATE":            "otel.sample_rate",
}

func envKeyReplacer(s string) string {
	if mapped, ok := envKeyMap[s]; ok {
		return mapped
	}
	return ""
}

func validate(c *Config) error {
	switch c.Store.Driver {
	case DriverFirestore:
		if c.Firebase.ProjectID == "" && c.Firebase.CredentialsFile == "" && c.Firebase.CredentialsJSON == "" {
			return errors.New("FIREBASE_PROJECT_ID or Firebase credentials are required for the firestore driver")
		}
	case DriverMongo:
		if c.Mongo.URI == "" {
			return errors.New("MONGO_URI is required for the mongo driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	if c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.IsProduction() && len(c.Auth.JWTSecret) < 32 {
		return errors.New("JWT_SECRET must be at least 32 characters in production")
	}

	if c.Firebase.WebAPIKey == "" && (c.Auth.AdminEmail == "" || c.Auth.AdminPasswordHash == "") {
		return errors.New("either FIREBASE_WEB_API_KEY or ADMIN_EMAIL and ADMIN_PASSWORD_HASH are required")
	}
	if c.Auth.AdminPasswordHash != "" && !strings.HasPrefix(c.Auth.AdminPasswordHash, "$2") {
		return errors.New("ADMIN_PASSWORD_HASH must be a bcrypt hash")
	}

	if c.CORS.AllowCredentials {
		for _, origin := range c.CORS.AllowedOrigins {
			if origin == "*" {
				return errors.New("CORS wildcard '*' cannot be used with AllowCredentials")
			}
		}
	}

	if c.IsProduction() && c.Otel.Enabled && c.Otel.Insecure {
		return errors.New("OTEL_INSECURE must be false in production")
	}

	if c.Server.ReadTimeout <= 0 {
		return errors.New("server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		return errors.New("server.write_timeout must be positive")
	}
	if c.Store.Timeout <= 0 {
		return errors.New("store.timeout must be positive")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth.token_ttl must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
