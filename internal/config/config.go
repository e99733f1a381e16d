package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates application settings that may be sourced from files or environment variables.
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Auth     AuthConfig     `mapstructure:"auth"`
	LLM      LLMConfig      `mapstructure:"llm"`
	LiveKit  LiveKitConfig  `mapstructure:"livekit"`
	Mail     MailConfig     `mapstructure:"mail"`
	Qdrant   QdrantConfig   `mapstructure:"qdrant"`
	Clamd    ClamdConfig    `mapstructure:"clamd"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Voice    VoiceConfig    `mapstructure:"voice"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	InternalSecret string   `mapstructure:"internal_secret"`
	PublicBaseURL  string   `mapstructure:"public_base_url"`
}

// DatabaseConfig contains connection options for PostgreSQL.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
	LogSQL   bool   `mapstructure:"log_sql"`
}

// RedisConfig 包含 Redis 连接配置。
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// StorageConfig contains connection options for Cloudflare R2 or any S3-compatible store.
type StorageConfig struct {
	Endpoint         string `mapstructure:"endpoint"`
	PublicEndpoint   string `mapstructure:"public_endpoint"`
	AccessKeyID      string `mapstructure:"access_key_id"`
	SecretAccessKey  string `mapstructure:"secret_access_key"`
	UseSSL           bool   `mapstructure:"use_ssl"`
	Bucket           string `mapstructure:"bucket"`
	Region           string `mapstructure:"region"`
	BucketLookup     string `mapstructure:"bucket_lookup"`
	AutoCreateBucket bool   `mapstructure:"auto_create_bucket"`
}

// AuthConfig 包含 JWT 与登录保护相关配置。
type AuthConfig struct {
	PrivateKeyPath        string        `mapstructure:"private_key_path"`
	PublicKeyPath         string        `mapstructure:"public_key_path"`
	PrivateKeyPEM         string        `mapstructure:"private_key_pem"`
	PublicKeyPEM          string        `mapstructure:"public_key_pem"`
	AccessTokenTTL        time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL       time.Duration `mapstructure:"refresh_token_ttl"`
	LoginRateLimitPerHour int           `mapstructure:"login_rate_limit_per_hour"`
	LoginLockThreshold    int           `mapstructure:"login_lock_threshold"`
	LoginLockTTL          time.Duration `mapstructure:"login_lock_ttl"`
	CookieDomain          string        `mapstructure:"cookie_domain"`
}

// LLMConfig selects the completion provider. An empty key for the selected
// provider puts every AI feature on its canned fallback.
type LLMConfig struct {
	Provider         string        `mapstructure:"provider"`
	Model            string        `mapstructure:"model"`
	Temperature      float64       `mapstructure:"temperature"`
	Timeout          time.Duration `mapstructure:"timeout"`
	OpenAIAPIKey     string        `mapstructure:"openai_api_key"`
	OpenAIBaseURL    string        `mapstructure:"openai_base_url"`
	AnthropicAPIKey  string        `mapstructure:"anthropic_api_key"`
	AnthropicBaseURL string        `mapstructure:"anthropic_base_url"`
	GeminiAPIKey     string        `mapstructure:"gemini_api_key"`
	EmbeddingModel   string        `mapstructure:"embedding_model"`
}

// LiveKitConfig 语音面试房间配置。
type LiveKitConfig struct {
	URL       string        `mapstructure:"url"`
	APIKey    string        `mapstructure:"api_key"`
	APISecret string        `mapstructure:"api_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// Configured reports whether tokens can be issued.
func (l LiveKitConfig) Configured() bool {
	return l.URL != "" && l.APIKey != "" && l.APISecret != ""
}

// MailConfig selects the outbound mail transport.
type MailConfig struct {
	Provider       string `mapstructure:"provider"`
	From           string `mapstructure:"from"`
	FromName       string `mapstructure:"from_name"`
	SMTPHost       string `mapstructure:"smtp_host"`
	SMTPPort       int    `mapstructure:"smtp_port"`
	SMTPUser       string `mapstructure:"smtp_user"`
	SMTPPassword   string `mapstructure:"smtp_password"`
	SendGridAPIKey string `mapstructure:"sendgrid_api_key"`
}

// QdrantConfig 用于职位与简历的向量相似度匹配，URL 为空时禁用。
type QdrantConfig struct {
	URL        string `mapstructure:"url"`
	APIKey     string `mapstructure:"api_key"`
	Collection string `mapstructure:"collection"`
}

// ClamdConfig configures upload scanning. An empty address disables it.
type ClamdConfig struct {
	Addr string `mapstructure:"addr"`
}

// WorkerConfig contains asynq server settings.
type WorkerConfig struct {
	Concurrency    int    `mapstructure:"concurrency"`
	UsageResetCron string `mapstructure:"usage_reset_cron"`
	// MetricsPort 为 0 时 worker 不暴露 /metrics。
	MetricsPort int `mapstructure:"metrics_port"`
	// ChromiumPath 为空时由 go-rod 自动查找或下载浏览器。
	ChromiumPath string        `mapstructure:"chromium_path"`
	PDFTimeout   time.Duration `mapstructure:"pdf_timeout"`
}

// VoiceConfig is read by the voice sidecar.
type VoiceConfig struct {
	BackendURL string `mapstructure:"backend_url"`
	// WebhookAddr 接收 LiveKit webhook 的监听地址。
	WebhookAddr string `mapstructure:"webhook_addr"`
	// Identity is the hidden participant identity used to join rooms.
	Identity      string        `mapstructure:"identity"`
	SaveInterval  time.Duration `mapstructure:"save_interval"`
	MaxQuestions  int           `mapstructure:"max_questions"`
	FinishBackoff time.Duration `mapstructure:"finish_backoff"`
}

// DSN builds a lib/pq compatible connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host,
		d.Port,
		d.User,
		d.Password,
		d.Name,
		d.SSLMode,
	)
}

// Load reads configuration solely from environment variables (with optional defaults).
func Load() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if err := validate(*cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadVoice reads the same environment but only validates what the voice
// sidecar needs: the backend URL, the LiveKit key pair and the internal secret.
func LoadVoice() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	switch {
	case cfg.Voice.BackendURL == "":
		return nil, errors.New("voice backend url is required")
	case !cfg.LiveKit.Configured():
		return nil, errors.New("livekit url, api key and api secret are required")
	case cfg.API.InternalSecret == "":
		return nil, errors.New("internal api secret is required")
	case cfg.Voice.SaveInterval <= 0:
		return nil, errors.New("voice save interval must be positive")
	}
	return cfg, nil
}

func read() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	normalize(&cfg)
	return &cfg, nil
}

// MustLoad wraps Load and panics on failure.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.public_base_url", "http://localhost:8080")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "interviewly")
	v.SetDefault("database.user", "interviewly")
	v.SetDefault("database.password", "interviewly")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.public_endpoint", "http://localhost:9000")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.bucket", "interviewly")
	v.SetDefault("storage.region", "auto")
	v.SetDefault("storage.bucket_lookup", "auto")
	v.SetDefault("storage.auto_create_bucket", true)
	v.SetDefault("auth.access_token_ttl", 15*time.Minute)
	v.SetDefault("auth.refresh_token_ttl", 7*24*time.Hour)
	v.SetDefault("auth.login_rate_limit_per_hour", 10)
	v.SetDefault("auth.login_lock_threshold", 5)
	v.SetDefault("auth.login_lock_ttl", 15*time.Minute)
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.openai_base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.anthropic_base_url", "https://api.anthropic.com")
	v.SetDefault("llm.embedding_model", "text-embedding-004")
	v.SetDefault("livekit.token_ttl", 2*time.Hour)
	v.SetDefault("mail.provider", "log")
	v.SetDefault("mail.from", "no-reply@interviewly.app")
	v.SetDefault("mail.from_name", "Interviewly")
	v.SetDefault("mail.smtp_port", 587)
	v.SetDefault("qdrant.collection", "job_fit")
	v.SetDefault("worker.concurrency", 10)
	v.SetDefault("worker.usage_reset_cron", "@daily")
	v.SetDefault("worker.metrics_port", 9091)
	v.SetDefault("worker.pdf_timeout", 30*time.Second)
	v.SetDefault("voice.backend_url", "http://localhost:8080")
	v.SetDefault("voice.save_interval", 30*time.Second)
	v.SetDefault("voice.max_questions", 8)
	v.SetDefault("voice.webhook_addr", ":8090")
	v.SetDefault("voice.identity", "interviewly-recorder")
	v.SetDefault("voice.finish_backoff", 2*time.Second)
}

func bindEnv(v *viper.Viper) error {
	mappings := map[string]string{
		"api.port":                       "API_PORT",
		"api.allowed_origins":            "API_ALLOWED_ORIGINS",
		"api.internal_secret":            "INTERNAL_API_SECRET",
		"api.public_base_url":            "PUBLIC_BASE_URL",
		"database.host":                  "DATABASE_HOST",
		"database.port":                  "DATABASE_PORT",
		"database.name":                  "POSTGRES_DB",
		"database.user":                  "POSTGRES_USER",
		"database.password":              "POSTGRES_PASSWORD",
		"database.sslmode":               "DATABASE_SSLMODE",
		"database.log_sql":               "DATABASE_LOG_SQL",
		"redis.host":                     "REDIS_HOST",
		"redis.port":                     "REDIS_PORT",
		"redis.password":                 "REDIS_PASSWORD",
		"redis.db":                       "REDIS_DB",
		"storage.endpoint":               "R2_ENDPOINT",
		"storage.public_endpoint":        "R2_PUBLIC_ENDPOINT",
		"storage.access_key_id":          "R2_ACCESS_KEY_ID",
		"storage.secret_access_key":      "R2_SECRET_ACCESS_KEY",
		"storage.use_ssl":                "R2_USE_SSL",
		"storage.bucket":                 "R2_BUCKET_NAME",
		"storage.region":                 "R2_REGION",
		"storage.bucket_lookup":          "R2_BUCKET_LOOKUP",
		"storage.auto_create_bucket":     "R2_AUTO_CREATE_BUCKET",
		"auth.private_key_path":          "JWT_PRIVATE_KEY_PATH",
		"auth.public_key_path":           "JWT_PUBLIC_KEY_PATH",
		"auth.private_key_pem":           "JWT_PRIVATE_KEY",
		"auth.public_key_pem":            "JWT_PUBLIC_KEY",
		"auth.access_token_ttl":          "JWT_ACCESS_TTL",
		"auth.refresh_token_ttl":         "JWT_REFRESH_TTL",
		"auth.login_rate_limit_per_hour": "LOGIN_RATE_LIMIT_PER_HOUR",
		"auth.login_lock_threshold":      "LOGIN_LOCK_THRESHOLD",
		"auth.login_lock_ttl":            "LOGIN_LOCK_TTL",
		"auth.cookie_domain":             "COOKIE_DOMAIN",
		"llm.provider":                   "LLM_PROVIDER",
		"llm.model":                      "LLM_MODEL",
		"llm.temperature":                "LLM_TEMPERATURE",
		"llm.timeout":                    "LLM_TIMEOUT",
		"llm.openai_api_key":             "OPENAI_API_KEY",
		"llm.openai_base_url":            "OPENAI_BASE_URL",
		"llm.anthropic_api_key":          "ANTHROPIC_API_KEY",
		"llm.anthropic_base_url":         "ANTHROPIC_BASE_URL",
		"llm.gemini_api_key":             "GEMINI_API_KEY",
		"llm.embedding_model":            "EMBEDDING_MODEL",
		"livekit.url":                    "LIVEKIT_URL",
		"livekit.api_key":                "LIVEKIT_API_KEY",
		"livekit.api_secret":             "LIVEKIT_API_SECRET",
		"livekit.token_ttl":              "LIVEKIT_TOKEN_TTL",
		"mail.provider":                  "MAIL_PROVIDER",
		"mail.from":                      "MAIL_FROM",
		"mail.from_name":                 "MAIL_FROM_NAME",
		"mail.smtp_host":                 "SMTP_HOST",
		"mail.smtp_port":                 "SMTP_PORT",
		"mail.smtp_user":                 "SMTP_USER",
		"mail.smtp_password":             "SMTP_PASS",
		"mail.sendgrid_api_key":          "SENDGRID_API_KEY",
		"qdrant.url":                     "QDRANT_URL",
		"qdrant.api_key":                 "QDRANT_API_KEY",
		"qdrant.collection":              "QDRANT_COLLECTION",
		"clamd.addr":                     "CLAMD_ADDR",
		"worker.concurrency":             "WORKER_CONCURRENCY",
		"worker.usage_reset_cron":        "USAGE_RESET_CRON",
		"worker.metrics_port":            "WORKER_METRICS_PORT",
		"worker.chromium_path":           "CHROMIUM_PATH",
		"worker.pdf_timeout":             "PDF_TIMEOUT",
		"voice.backend_url":              "VOICE_BACKEND_URL",
		"voice.webhook_addr":             "VOICE_WEBHOOK_ADDR",
		"voice.identity":                 "VOICE_AGENT_IDENTITY",
		"voice.finish_backoff":           "VOICE_FINISH_BACKOFF",
		"voice.save_interval":            "VOICE_SAVE_INTERVAL",
		"voice.max_questions":            "VOICE_MAX_QUESTIONS",
	}

	for key, env := range mappings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, env, err)
		}
	}

	return nil
}

// allowed_origins 从环境变量读取时是逗号分隔的单个字符串。
func normalize(cfg *Config) {
	var origins []string
	for _, raw := range cfg.API.AllowedOrigins {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				origins = append(origins, part)
			}
		}
	}
	cfg.API.AllowedOrigins = origins
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	cfg.Mail.Provider = strings.ToLower(strings.TrimSpace(cfg.Mail.Provider))
}

func validate(cfg Config) error {
	if cfg.API.Port <= 0 {
		return errors.New("api port must be positive")
	}
	if cfg.Database.Host == "" {
		return errors.New("database host is required")
	}
	if cfg.Database.Port <= 0 {
		return errors.New("database port must be positive")
	}
	if cfg.Database.Name == "" {
		return errors.New("database name is required")
	}
	if cfg.Database.User == "" {
		return errors.New("database user is required")
	}
	if cfg.Database.Password == "" {
		return errors.New("database password is required")
	}
	if cfg.Database.SSLMode == "" {
		return errors.New("database sslmode is required")
	}
	if cfg.Redis.Host == "" {
		return errors.New("redis host is required")
	}
	if cfg.Redis.Port <= 0 {
		return errors.New("redis port must be positive")
	}
	if cfg.Storage.Endpoint == "" {
		return errors.New("storage endpoint is required")
	}
	if cfg.Storage.AccessKeyID == "" {
		return errors.New("storage access key id is required")
	}
	if cfg.Storage.SecretAccessKey == "" {
		return errors.New("storage secret access key is required")
	}
	if cfg.Storage.Bucket == "" {
		return errors.New("storage bucket is required")
	}
	if cfg.Auth.AccessTokenTTL <= 0 || cfg.Auth.RefreshTokenTTL <= 0 {
		return errors.New("token ttl must be positive")
	}
	switch cfg.LLM.Provider {
	case "openai", "anthropic", "gemini", "none":
	default:
		return fmt.Errorf("unsupported llm provider %q", cfg.LLM.Provider)
	}
	switch cfg.Mail.Provider {
	case "smtp":
		if cfg.Mail.SMTPHost == "" {
			return errors.New("smtp host is required for smtp mail provider")
		}
	case "sendgrid":
		if cfg.Mail.SendGridAPIKey == "" {
			return errors.New("sendgrid api key is required for sendgrid mail provider")
		}
	case "log":
	default:
		return fmt.Errorf("unsupported mail provider %q", cfg.Mail.Provider)
	}
	if cfg.Worker.Concurrency <= 0 {
		return errors.New("worker concurrency must be positive")
	}
	return nil
}
