package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName                string
	AppEnv                 string
	AppPort                string
	ServerURL              string
	FrontendURL            string
	DatabaseURL            string
	DBMaxOpenConns         int
	DBMaxIdleConns         int
	DBConnMaxLifetime      time.Duration
	RedisURL               string
	NATSURL                string
	EventChannel           string
	JWTSecret              string
	JWTExpiry              time.Duration
	ResetTokenTTL          time.Duration
	EmailHost              string
	EmailPort              int
	EmailUsername          string
	EmailPassword          string
	EmailFrom              string
	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadFolder string
	UploadMaxSizeMB        int
	DashboardCacheTTL      time.Duration
	ExecutionProvider      string
	Judge0URL              string
	Judge0APIKey           string
	Judge0APIHost          string
	Judge0PollInterval     time.Duration
	Judge0MaxPolls         int
	DockerHost             string
	ExecutionTimeout       time.Duration
	CodeRunMemoryMB        int
	CodeRunCPUShares       int
	CodeExecuteRateLimit   int
	CodingAggregation      string
	SessionSweepInterval   time.Duration
	SeedEnabled            bool
	SeedToken              string
	AdminEmail             string
	AdminPassword          string
	AdminName              string
	LogLevel               string
	MetricsToken           string
}

// Execution providers understood by the API.
const (
	ExecutionProviderJudge0 = "judge0"
	ExecutionProviderDocker = "docker"
)

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// MailEnabled reports whether SMTP credentials were supplied.
func (c Config) MailEnabled() bool {
	return c.EmailHost != "" && c.EmailFrom != ""
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("CODEQUEST")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "CodeQuest API")
	v.SetDefault("app.env", "development")
	v.SetDefault("port", "5000")
	v.SetDefault("server.url", "http://localhost:5000")
	v.SetDefault("frontend.url", "http://localhost:3000")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("event.channel", "codequest")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("reset_token.ttl", "1h")
	v.SetDefault("email.port", 587)
	v.SetDefault("cloudinary.folder", "codequest/assets")
	v.SetDefault("upload.max_size_mb", 5)
	v.SetDefault("dashboard.cache_ttl", "5m")
	v.SetDefault("execution.provider", ExecutionProviderJudge0)
	v.SetDefault("judge0.url", "https://judge0-ce.p.rapidapi.com")
	v.SetDefault("judge0.poll_interval", "1s")
	v.SetDefault("judge0.max_polls", 10)
	v.SetDefault("execution_timeout_ms", 5000)
	v.SetDefault("code_run_memory_mb", 256)
	v.SetDefault("code_run_cpu_shares", 512)
	v.SetDefault("code_execute.rate_limit", 20)
	v.SetDefault("scoring.coding_aggregation", "latest")
	v.SetDefault("session.sweep_interval", "1m")
	v.SetDefault("seed.enabled", false)
	v.SetDefault("admin.name", "CodeQuest Admin")
	v.SetDefault("log.level", "info")

	durations := map[string]time.Duration{}
	for _, key := range []string{"database.conn_max_lifetime", "jwt.expiry", "reset_token.ttl", "dashboard.cache_ttl", "judge0.poll_interval", "session.sweep_interval"} {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		durations[key] = parsed
	}

	timeoutMs := v.GetInt("execution_timeout_ms")
	if timeoutMs <= 0 {
		timeoutMs = 5000
	}

	cfg := Config{
		AppName:                v.GetString("app.name"),
		AppEnv:                 v.GetString("app.env"),
		AppPort:                v.GetString("port"),
		ServerURL:              strings.TrimRight(v.GetString("server.url"), "/"),
		FrontendURL:            strings.TrimRight(v.GetString("frontend.url"), "/"),
		DatabaseURL:            v.GetString("database.url"),
		DBMaxOpenConns:         v.GetInt("database.max_open_conns"),
		DBMaxIdleConns:         v.GetInt("database.max_idle_conns"),
		DBConnMaxLifetime:      durations["database.conn_max_lifetime"],
		RedisURL:               v.GetString("redis.url"),
		NATSURL:                v.GetString("nats.url"),
		EventChannel:           v.GetString("event.channel"),
		JWTSecret:              v.GetString("jwt.secret"),
		JWTExpiry:              durations["jwt.expiry"],
		ResetTokenTTL:          durations["reset_token.ttl"],
		EmailHost:              v.GetString("email.host"),
		EmailPort:              v.GetInt("email.port"),
		EmailUsername:          v.GetString("email.username"),
		EmailPassword:          v.GetString("email.password"),
		EmailFrom:              v.GetString("email.from"),
		CloudinaryCloudName:    v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:       v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:    v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder: v.GetString("cloudinary.folder"),
		UploadMaxSizeMB:        v.GetInt("upload.max_size_mb"),
		DashboardCacheTTL:      durations["dashboard.cache_ttl"],
		ExecutionProvider:      strings.ToLower(strings.TrimSpace(v.GetString("execution.provider"))),
		Judge0URL:              strings.TrimRight(v.GetString("judge0.url"), "/"),
		Judge0APIKey:           v.GetString("judge0.api_key"),
		Judge0APIHost:          v.GetString("judge0.api_host"),
		Judge0PollInterval:     durations["judge0.poll_interval"],
		Judge0MaxPolls:         v.GetInt("judge0.max_polls"),
		DockerHost:             v.GetString("docker_host"),
		ExecutionTimeout:       time.Duration(timeoutMs) * time.Millisecond,
		CodeRunMemoryMB:        v.GetInt("code_run_memory_mb"),
		CodeRunCPUShares:       v.GetInt("code_run_cpu_shares"),
		CodeExecuteRateLimit:   v.GetInt("code_execute.rate_limit"),
		CodingAggregation:      strings.ToLower(strings.TrimSpace(v.GetString("scoring.coding_aggregation"))),
		SessionSweepInterval:   durations["session.sweep_interval"],
		SeedEnabled:            v.GetBool("seed.enabled"),
		SeedToken:              v.GetString("seed.token"),
		AdminEmail:             strings.ToLower(strings.TrimSpace(v.GetString("admin.email"))),
		AdminPassword:          v.GetString("admin.password"),
		AdminName:              v.GetString("admin.name"),
		LogLevel:               strings.ToLower(strings.TrimSpace(v.GetString("log.level"))),
		MetricsToken:           v.GetString("metrics.token"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	switch cfg.ExecutionProvider {
	case ExecutionProviderJudge0, ExecutionProviderDocker:
	default:
		return Config{}, fmt.Errorf("unknown execution provider %q", cfg.ExecutionProvider)
	}

	if cfg.Judge0MaxPolls <= 0 {
		cfg.Judge0MaxPolls = 10
	}

	if cfg.CodeRunMemoryMB <= 0 {
		cfg.CodeRunMemoryMB = 256
	}

	if cfg.CodeRunCPUShares <= 0 {
		cfg.CodeRunCPUShares = 512
	}

	return cfg, nil
}
