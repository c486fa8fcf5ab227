package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Session    SessionConfig    `yaml:"session"`
	Uploads    UploadsConfig    `yaml:"uploads"`
	RateLimit  RateLimitConfig  `yaml:"ratelimit"`
	Policy     PolicyConfig     `yaml:"policy"`
	CORS       CORSConfig       `yaml:"cors"`
	Resilience ResilienceConfig `yaml:"resilience"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// StreamWriteTimeout bounds the gap between writes on an NDJSON stream.
	// Streams are exempt from WriteTimeout.
	StreamWriteTimeout time.Duration `yaml:"stream_write_timeout"`
	IdleTimeout        time.Duration `yaml:"idle_timeout"`
	GracefulShutdown   time.Duration `yaml:"graceful_shutdown"`
}

type DatabaseConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func (d DatabaseConfig) DSN() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", d.User, d.Password, d.Host, d.Port, d.Name, sslMode)
}

type RedisConfig struct {
	Addresses []string `yaml:"addresses"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	PoolSize  int      `yaml:"pool_size"`
}

type TelemetryConfig struct {
	LogLevel        string  `yaml:"log_level"`
	LogFormat       string  `yaml:"log_format"`
	MetricsPort     int     `yaml:"metrics_port"`
	OTLPEndpoint    string  `yaml:"otlp_endpoint"`
	TraceSampleRate float64 `yaml:"trace_sample_rate"`
	ServiceName     string  `yaml:"service_name"`
}

// SessionConfig controls where credentials are read from and how they are verified.
// An empty JWTSecret switches access-token verification to the auth service.
type SessionConfig struct {
	AccessCookie    string        `yaml:"access_cookie"`
	RefreshCookie   string        `yaml:"refresh_cookie"`
	CookieDomain    string        `yaml:"cookie_domain"`
	CookieSecure    bool          `yaml:"cookie_secure"`
	JWTSecret       string        `yaml:"jwt_secret"`
	Issuer          string        `yaml:"issuer"`
	Audience        string        `yaml:"audience"`
	RefreshLeeway   time.Duration `yaml:"refresh_leeway"`
	RefreshTimeout  time.Duration `yaml:"refresh_timeout"`
	RefreshCacheTTL time.Duration `yaml:"refresh_cache_ttl"`
	ProfileCacheTTL time.Duration `yaml:"profile_cache_ttl"`
}

type UploadsConfig struct {
	MaxBytes     int64 `yaml:"max_bytes"`
	MaxJSONBytes int64 `yaml:"max_json_bytes"`
}

type RateLimitConfig struct {
	Enabled    bool `yaml:"enabled"`
	DefaultRPM int  `yaml:"default_rpm"`
}

type PolicyConfig struct {
	Enabled           bool          `yaml:"enabled"`
	BundlePath        string        `yaml:"bundle_path"`
	EvaluationTimeout time.Duration `yaml:"evaluation_timeout"`
	FailOpen          bool          `yaml:"fail_open"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxAge         int      `yaml:"max_age"`
}

type ResilienceConfig struct {
	FailureThreshold      int           `yaml:"failure_threshold"`
	RecoveryProbeInterval time.Duration `yaml:"recovery_probe_interval"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8080,
			ReadTimeout:        30 * time.Second,
			WriteTimeout:       120 * time.Second,
			StreamWriteTimeout: 120 * time.Second,
			IdleTimeout:        120 * time.Second,
			GracefulShutdown:   30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Name:            "medgate",
			User:            "medgate",
			MaxOpenConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			DB:       0,
			PoolSize: 50,
		},
		Telemetry: TelemetryConfig{
			LogLevel:        "info",
			LogFormat:       "json",
			MetricsPort:     9090,
			TraceSampleRate: 0.1,
			ServiceName:     "medgate",
		},
		Session: SessionConfig{
			AccessCookie:    "sb-access-token",
			RefreshCookie:   "sb-refresh-token",
			CookieSecure:    true,
			RefreshLeeway:   30 * time.Second,
			RefreshTimeout:  5 * time.Second,
			RefreshCacheTTL: 10 * time.Second,
			ProfileCacheTTL: 5 * time.Minute,
		},
		Uploads: UploadsConfig{
			MaxBytes:     50 << 20,
			MaxJSONBytes: 1 << 20,
		},
		RateLimit: RateLimitConfig{
			Enabled:    true,
			DefaultRPM: 60,
		},
		Policy: PolicyConfig{
			EvaluationTimeout: 100 * time.Millisecond,
		},
		CORS: CORSConfig{
			MaxAge: 300,
		},
		Resilience: ResilienceConfig{
			FailureThreshold:      5,
			RecoveryProbeInterval: 15 * time.Second,
		},
	}
}
