package config

import (
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"

	"github.com/lazywriting/api/internal/model"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Quota     QuotaConfig
	Worker    WorkerConfig
	Stages    StagesConfig
	Retry     RetryConfig
	Fusion    FusionConfig
	Providers map[model.Provider]ProviderConfig
	R2        R2Config
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
}

type DatabaseConfig struct {
	Driver string // postgres | sqlite
	DSN    string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	StartPerHour   int
	CommandsPerMin int
	ExportPerHour  int
}

type QuotaConfig struct {
	DefaultAllowance int
}

type WorkerConfig struct {
	Concurrency     int
	BrainstormQueue int // queue priority weight
	DraftQueue      int
}

// StageConfig bounds the provider call for one pipeline stage
type StageConfig struct {
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
	Streaming   bool
}

type StagesConfig struct {
	Brainstorm StageConfig
	Draft      StageConfig
	Fusion     StageConfig
}

// For returns the configuration of stage
func (s StagesConfig) For(stage model.Stage) StageConfig {
	switch stage {
	case model.StageDraft:
		return s.Draft
	case model.StageFusion:
		return s.Fusion
	default:
		return s.Brainstorm
	}
}

type RetryConfig struct {
	TransientAttempts int
	TransientDelay    time.Duration
	UpstreamAttempts  int
	UpstreamDelay     time.Duration
}

// MaxRetry is the queue-level retry cap, the larger of the per-class budgets
func (r RetryConfig) MaxRetry() int {
	if r.UpstreamAttempts > r.TransientAttempts {
		return r.UpstreamAttempts
	}
	return r.TransientAttempts
}

type FusionConfig struct {
	Provider model.Provider
}

type ProviderConfig struct {
	DisplayName string
	BaseURL     string
	APIKey      string
	Model       string
	Enabled     bool
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

// Configured reports whether export storage is available
func (c R2Config) Configured() bool {
	return c.AccountID != "" && c.AccessKeyID != "" && c.SecretAccessKey != "" && c.BucketName != ""
}

var providerDefaults = map[model.Provider]struct {
	name    string
	baseURL string
	model   string
}{
	model.ProviderGrok:     {"Grok", "https://api.x.ai/v1", "grok-3-mini"},
	model.ProviderQwen:     {"通义千问", "https://dashscope.aliyuncs.com/compatible-mode/v1", "qwen-plus"},
	model.ProviderDeepSeek: {"DeepSeek", "https://api.deepseek.com/v1", "deepseek-chat"},
	model.ProviderGemini:   {"Gemini", "https://generativelanguage.googleapis.com/v1beta/openai", "gemini-2.0-flash"},
	model.ProviderDoubao:   {"豆包", "https://ark.cn-beijing.volces.com/api/v3", "doubao-pro-32k"},
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("DATABASE_DSN")
	readSecret("JWT_SECRET")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	for _, p := range model.Roster {
		readSecret(providerEnv(p, "API_KEY"))
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables
	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("server.api_domain", "API_DOMAIN")
	_ = v.BindEnv("database.driver", "DATABASE_DRIVER")
	_ = v.BindEnv("database.dsn", "DATABASE_DSN")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("jwt.secret", "JWT_SECRET")
	_ = v.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = v.BindEnv("quota.default_allowance", "QUOTA_DEFAULT_ALLOWANCE")
	_ = v.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")
	_ = v.BindEnv("fusion.provider", "FUSION_PROVIDER")
	_ = v.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = v.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = v.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = v.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = v.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	for _, p := range model.Roster {
		_ = v.BindEnv(providerKey(p, "base_url"), providerEnv(p, "BASE_URL"))
		_ = v.BindEnv(providerKey(p, "api_key"), providerEnv(p, "API_KEY"))
		_ = v.BindEnv(providerKey(p, "model"), providerEnv(p, "MODEL"))
		_ = v.BindEnv(providerKey(p, "enabled"), providerEnv(p, "ENABLED"))
	}

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "lazywriting.db")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("jwt.expiration", 24)
	v.SetDefault("ratelimit.start_per_hour", 30)
	v.SetDefault("ratelimit.commands_per_min", 60)
	v.SetDefault("ratelimit.export_per_hour", 20)
	v.SetDefault("quota.default_allowance", 10)
	v.SetDefault("worker.concurrency", 20)
	v.SetDefault("worker.brainstorm_queue", 6)
	v.SetDefault("worker.draft_queue", 4)

	// Stage 2 reads transcript plus brainstorm and writes a full article
	v.SetDefault("stages.brainstorm.timeout", "60s")
	v.SetDefault("stages.brainstorm.max_tokens", 2048)
	v.SetDefault("stages.brainstorm.temperature", 0.9)
	v.SetDefault("stages.brainstorm.streaming", true)
	v.SetDefault("stages.draft.timeout", "180s")
	v.SetDefault("stages.draft.max_tokens", 8192)
	v.SetDefault("stages.draft.temperature", 0.7)
	v.SetDefault("stages.draft.streaming", true)
	v.SetDefault("stages.fusion.timeout", "180s")
	v.SetDefault("stages.fusion.max_tokens", 8192)
	v.SetDefault("stages.fusion.temperature", 0.7)
	v.SetDefault("stages.fusion.streaming", true)

	v.SetDefault("retry.transient_attempts", 3)
	v.SetDefault("retry.transient_delay", "5s")
	v.SetDefault("retry.upstream_attempts", 2)
	v.SetDefault("retry.upstream_delay", "10s")

	v.SetDefault("fusion.provider", string(model.ProviderDeepSeek))

	for p, d := range providerDefaults {
		v.SetDefault(providerKey(p, "display_name"), d.name)
		v.SetDefault(providerKey(p, "base_url"), d.baseURL)
		v.SetDefault(providerKey(p, "model"), d.model)
		v.SetDefault(providerKey(p, "enabled"), true)
	}

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	fusionProvider, err := model.ParseProvider(v.GetString("fusion.provider"))
	if err != nil {
		return nil, errors.Wrap(err, "fusion.provider")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:      v.GetString("server.port"),
			Env:       v.GetString("server.env"),
			LogLevel:  v.GetString("server.log_level"),
			ApiDomain: v.GetString("server.api_domain"),
		},
		Database: DatabaseConfig{
			Driver: v.GetString("database.driver"),
			DSN:    v.GetString("database.dsn"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     v.GetString("jwt.secret"),
			Expiration: v.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			StartPerHour:   v.GetInt("ratelimit.start_per_hour"),
			CommandsPerMin: v.GetInt("ratelimit.commands_per_min"),
			ExportPerHour:  v.GetInt("ratelimit.export_per_hour"),
		},
		Quota: QuotaConfig{
			DefaultAllowance: v.GetInt("quota.default_allowance"),
		},
		Worker: WorkerConfig{
			Concurrency:     v.GetInt("worker.concurrency"),
			BrainstormQueue: v.GetInt("worker.brainstorm_queue"),
			DraftQueue:      v.GetInt("worker.draft_queue"),
		},
		Stages: StagesConfig{
			Brainstorm: stageConfig(v, "brainstorm"),
			Draft:      stageConfig(v, "draft"),
			Fusion:     stageConfig(v, "fusion"),
		},
		Retry: RetryConfig{
			TransientAttempts: v.GetInt("retry.transient_attempts"),
			TransientDelay:    v.GetDuration("retry.transient_delay"),
			UpstreamAttempts:  v.GetInt("retry.upstream_attempts"),
			UpstreamDelay:     v.GetDuration("retry.upstream_delay"),
		},
		Fusion: FusionConfig{
			Provider: fusionProvider,
		},
		Providers: make(map[model.Provider]ProviderConfig, len(model.Roster)),
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
	}

	for _, p := range model.Roster {
		cfg.Providers[p] = ProviderConfig{
			DisplayName: v.GetString(providerKey(p, "display_name")),
			BaseURL:     v.GetString(providerKey(p, "base_url")),
			APIKey:      v.GetString(providerKey(p, "api_key")),
			Model:       v.GetString(providerKey(p, "model")),
			Enabled:     v.GetBool(providerKey(p, "enabled")),
		}
	}

	if cfg.Database.Driver != "postgres" && cfg.Database.Driver != "sqlite" {
		return nil, errors.Newf("unsupported database.driver %q", cfg.Database.Driver)
	}

	return cfg, nil
}

func stageConfig(v *viper.Viper, stage string) StageConfig {
	prefix := "stages." + stage + "."
	return StageConfig{
		Timeout:     v.GetDuration(prefix + "timeout"),
		MaxTokens:   v.GetInt(prefix + "max_tokens"),
		Temperature: v.GetFloat64(prefix + "temperature"),
		Streaming:   v.GetBool(prefix + "streaming"),
	}
}

func providerKey(p model.Provider, field string) string {
	return "providers." + string(p) + "." + field
}

// providerEnv maps a provider field to its env var, e.g. DEEPSEEK_API_KEY
func providerEnv(p model.Provider, field string) string {
	return strings.ToUpper(string(p)) + "_" + field
}
