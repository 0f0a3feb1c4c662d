// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL    string `env:"DATABASE_URL,notEmpty"`
	DBMaxOpenConns int    `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns int    `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`

	// Token
	SecretKey                string `env:"SECRET_KEY,notEmpty"`
	AccessTokenExpireMinutes int    `env:"ACCESS_TOKEN_EXPIRE_MINUTES" envDefault:"30"`

	// OAuth
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GitHubClientID     string `env:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string `env:"GITHUB_CLIENT_SECRET"`
	AccountLinkPolicy  string `env:"ACCOUNT_LINK_POLICY" envDefault:"link"`

	// Timeouts
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`
	OAuthTimeout time.Duration `env:"OAUTH_TIMEOUT" envDefault:"10s"`

	// Rate Limit (1分あたりのリクエスト数)
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitChat    int `env:"RATE_LIMIT_CHAT" envDefault:"30"`

	// Enrichment
	EnrichmentWorkers        int           `env:"ENRICHMENT_WORKERS" envDefault:"4"`
	EnrichmentQueueSize      int           `env:"ENRICHMENT_QUEUE_SIZE" envDefault:"256"`
	EnrichmentEnqueueTimeout time.Duration `env:"ENRICHMENT_ENQUEUE_TIMEOUT" envDefault:"5s"`
	EnrichmentTaskTimeout    time.Duration `env:"ENRICHMENT_TASK_TIMEOUT" envDefault:"30s"`
	EnrichmentExtractor      string        `env:"ENRICHMENT_EXTRACTOR" envDefault:"noop"`

	// Redis（未設定の場合はプロセス内でエンリッチメントを処理する）
	RedisURL      string `env:"REDIS_URL"`
	RedisQueueKey string `env:"REDIS_QUEUE_KEY" envDefault:"recall:enrichment:tasks"`

	// Neo4j（未設定の場合はグラフへの書き込みを行わない）
	Neo4jURI      string `env:"NEO4J_URI"`
	Neo4jUser     string `env:"NEO4J_USER" envDefault:"neo4j"`
	Neo4jPassword string `env:"NEO4J_PASSWORD"`

	// Server
	ServerPort  string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL     string `env:"BASE_URL" envDefault:"http://localhost:8080"`
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load は環境変数からConfigを読み込み、値を検証する。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv は.envファイルが存在すれば環境変数に読み込む。
// 既に設定されている環境変数は上書きしない。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// CookieSecure はBASE_URLがhttpsの場合にtrueを返す。
func (c *Config) CookieSecure() bool {
	return strings.HasPrefix(c.BaseURL, "https://")
}

// AccessTokenTTL はアクセストークンの有効期間を返す。
func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenExpireMinutes) * time.Minute
}

// OAuthCallbackBaseURL はOAuthコールバックURLの接頭辞を返す。
func (c *Config) OAuthCallbackBaseURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/api/auth/callback"
}

func (c *Config) validate() error {
	var errs []error

	switch c.AccountLinkPolicy {
	case "link", "reject":
	default:
		errs = append(errs, fmt.Errorf("ACCOUNT_LINK_POLICY must be link or reject: %q", c.AccountLinkPolicy))
	}
	switch c.EnrichmentExtractor {
	case "noop", "capitalized":
	default:
		errs = append(errs, fmt.Errorf("ENRICHMENT_EXTRACTOR must be noop or capitalized: %q", c.EnrichmentExtractor))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error: %q", c.LogLevel))
	}
	if c.AccessTokenExpireMinutes <= 0 {
		errs = append(errs, fmt.Errorf("ACCESS_TOKEN_EXPIRE_MINUTES must be positive: %d", c.AccessTokenExpireMinutes))
	}
	if c.RateLimitGeneral <= 0 || c.RateLimitChat <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_GENERAL and RATE_LIMIT_CHAT must be positive"))
	}
	if c.Neo4jURI != "" && c.Neo4jPassword == "" {
		errs = append(errs, errors.New("NEO4J_PASSWORD is required when NEO4J_URI is set"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
