// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// MinSessionSecretLength はセッション署名鍵に要求する最小文字数です。
const MinSessionSecretLength = 32

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	RateLimitStoreMemory = "memory"
	RateLimitStoreRedis  = "redis"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// アプリケーション設定
	AppEnv string // development / testing / production
	Port   string // APIサーバーのポート番号

	// データベース設定
	DatabaseURL string // sqlite://path または postgres://...

	// セッション設定
	SessionSecret         string        // セッション・CSRF トークン署名用の秘密鍵（32文字以上）
	SessionCookieName     string        // セッションクッキー名
	SessionMaxAge         time.Duration // セッションの有効期限
	SessionCookieSameSite string        // lax / strict / none
	SessionCookieSecure   bool          // Secure 属性
	CSRFMaxAge            time.Duration // CSRF トークンの有効期限

	// レート制限設定
	RateLimitAttempts int           // ウィンドウ内で許可する試行回数
	RateLimitWindow   time.Duration // スライディングウィンドウの長さ
	RateLimitStore    string        // memory / redis
	RateLimitSweep    string        // 空キー掃除の cron 式

	// Redis / 非同期処理
	RedisURL   string // レート制限ストアと監査キューで共有する Redis
	AuditAsync bool   // 監査ログを asynq 経由で書き込むか

	// Omni 埋め込み設定
	OmniBaseURL              string
	OmniSecret               string
	OmniContentPathAllowlist []string
	OmniTimeout              time.Duration

	// CORS / プロキシ設定
	CORSAllowedOrigins []string
	TrustedProxies     []string
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	appEnv := getEnv("APP_ENV", EnvDevelopment)

	config := &Config{
		AppEnv: appEnv,
		Port:   getEnv("PORT", "8080"),

		DatabaseURL: getEnv("DATABASE_URL", "sqlite://./data/app.db"),

		SessionSecret:         os.Getenv("SESSION_SECRET"),
		SessionCookieName:     getEnv("SESSION_COOKIE_NAME", "session"),
		SessionMaxAge:         getEnvAsSeconds("SESSION_MAX_AGE", 86400),
		SessionCookieSameSite: strings.ToLower(getEnv("SESSION_COOKIE_SAMESITE", "lax")),
		SessionCookieSecure:   getEnvAsBool("SESSION_COOKIE_SECURE", appEnv == EnvProduction),
		CSRFMaxAge:            getEnvAsSeconds("CSRF_MAX_AGE", 3600),

		RateLimitAttempts: getEnvAsInt("RATE_LIMIT_ATTEMPTS", 5),
		RateLimitWindow:   getEnvAsSeconds("RATE_LIMIT_WINDOW", 300),
		RateLimitStore:    strings.ToLower(getEnv("RATE_LIMIT_STORE", RateLimitStoreMemory)),
		RateLimitSweep:    getEnv("RATE_LIMIT_SWEEP", "@every 5m"),

		RedisURL:   os.Getenv("REDIS_URL"),
		AuditAsync: getEnvAsBool("AUDIT_ASYNC", false),

		OmniBaseURL:              strings.TrimRight(os.Getenv("OMNI_BASE_URL"), "/"),
		OmniSecret:               os.Getenv("OMNI_SECRET"),
		OmniContentPathAllowlist: getEnvAsList("OMNI_CONTENT_PATH_ALLOWLIST"),
		OmniTimeout:              getEnvAsSeconds("OMNI_TIMEOUT", 10),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		TrustedProxies:     getEnvAsList("TRUSTED_PROXIES"),
	}
	if len(config.CORSAllowedOrigins) == 0 {
		config.CORSAllowedOrigins = []string{"http://localhost:8080"}
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// IsProduction は本番プロファイルかどうかを返します。
func (c *Config) IsProduction() bool {
	return c.AppEnv == EnvProduction
}

// Validate は設定の妥当性を検証します。
// ここでエラーになる設定は起動を中止すべきものだけです。
func (c *Config) Validate() error {
	var errs []error

	if len(c.SessionSecret) < MinSessionSecretLength {
		errs = append(errs, fmt.Errorf("SESSION_SECRET must be at least %d characters", MinSessionSecretLength))
	}
	if c.SessionMaxAge <= 0 {
		errs = append(errs, errors.New("SESSION_MAX_AGE must be positive"))
	}
	if c.CSRFMaxAge <= 0 {
		errs = append(errs, errors.New("CSRF_MAX_AGE must be positive"))
	}
	switch c.SessionCookieSameSite {
	case "lax", "strict":
	case "none":
		// SameSite=None は Secure 属性なしではブラウザに拒否される
		if !c.SessionCookieSecure {
			errs = append(errs, errors.New("SESSION_COOKIE_SAMESITE=none requires SESSION_COOKIE_SECURE=true"))
		}
	default:
		errs = append(errs, fmt.Errorf("SESSION_COOKIE_SAMESITE must be lax, strict or none: %q", c.SessionCookieSameSite))
	}
	if c.RateLimitAttempts <= 0 || c.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_ATTEMPTS and RATE_LIMIT_WINDOW must be positive"))
	}
	switch c.RateLimitStore {
	case RateLimitStoreMemory:
	case RateLimitStoreRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required when RATE_LIMIT_STORE=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("RATE_LIMIT_STORE must be memory or redis: %q", c.RateLimitStore))
	}
	if c.AuditAsync && c.RedisURL == "" {
		errs = append(errs, errors.New("REDIS_URL is required when AUDIT_ASYNC=true"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %w", errors.Join(errs...))
	}
	return nil
}

// OmniWarnings は Omni 連携の設定不足を返します。
// 不足していても起動は継続し、埋め込みURLの生成だけが失敗します。
func (c *Config) OmniWarnings() []string {
	var warnings []string
	if c.OmniBaseURL == "" {
		warnings = append(warnings, "OMNI_BASE_URL is not configured")
	}
	if c.OmniSecret == "" {
		warnings = append(warnings, "OMNI_SECRET is not configured")
	}
	if len(c.OmniContentPathAllowlist) == 0 {
		warnings = append(warnings, "OMNI_CONTENT_PATH_ALLOWLIST is not configured")
	}
	return warnings
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSeconds は秒数の環境変数を time.Duration として取得します。
func getEnvAsSeconds(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultSeconds)) * time.Second
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList はカンマ区切りの環境変数を空要素を除いたスライスとして取得します。
func getEnvAsList(key string) []string {
	var values []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
