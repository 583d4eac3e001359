package config

import (
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Gitea    GiteaConfig    `yaml:"gitea"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Review   ReviewConfig   `yaml:"review"`
	Redis    RedisConfig    `yaml:"redis"`
}

type ServerConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Mode     string `yaml:"mode"` // debug, release, test
	LogLevel string `yaml:"log_level"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn"`
}

// GiteaConfig holds the connection settings for the Gitea instance whose
// webhooks this service consumes.
type GiteaConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

// WebhookConfig controls inbound webhook validation. An empty Secret
// disables signature verification entirely (accept-all mode); this is an
// explicit deployment choice, not a fallback.
type WebhookConfig struct {
	Secret      string  `yaml:"secret"`
	BotUsername string  `yaml:"bot_username"` // required @mention for /review commands, empty = no mention needed
	RateLimit   float64 `yaml:"rate_limit"`   // requests per second per IP
	RateBurst   int     `yaml:"rate_burst"`
}

// ReviewConfig holds the review pipeline settings: workspace root, engine
// defaults and timeouts.
type ReviewConfig struct {
	WorkDir              string `yaml:"work_dir"`
	CloneTimeoutSeconds  int    `yaml:"clone_timeout_seconds"`
	EngineTimeoutSeconds int    `yaml:"engine_timeout_seconds"`
	DefaultEngine        string `yaml:"default_engine"` // claude_code, codex_cli, openai_api, anthropic_api, ollama, gemini
	DefaultModel         string `yaml:"default_model"`
	BaseURL              string `yaml:"base_url"` // global engine endpoint override
	APIKey               string `yaml:"api_key"`
	ClaudeCLIPath        string `yaml:"claude_cli_path"`
	CodexCLIPath         string `yaml:"codex_cli_path"`
	RetentionDays        int    `yaml:"retention_days"`            // review session retention, 0 = keep forever
	WorkspaceMaxAgeHours int    `yaml:"workspace_max_age_hours"`   // reaper threshold for stale checkouts
	MinDiskSpaceMB       int64  `yaml:"min_disk_space_mb"`         // refuse clones below this free space
}

// RedisConfig enables the asynq-backed task queue. When disabled the
// service falls back to in-process goroutine scheduling.
type RedisConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Addr        string `yaml:"addr"`
	Password    string `yaml:"password"`
	DB          int    `yaml:"db"`
	Concurrency int    `yaml:"concurrency"`
}

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	var cfg *Config

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg = DefaultConfig()
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}

		fileCfg := *DefaultConfig()
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, err
		}
		cfg = &fileCfg
	}

	cfg.overrideFromEnv()
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "0.0.0.0",
			Port:     "8000",
			Mode:     "release",
			LogLevel: "info",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "prsentry.db",
		},
		Gitea: GiteaConfig{
			BaseURL: "http://localhost:3000",
		},
		Webhook: WebhookConfig{
			RateLimit: 5,
			RateBurst: 10,
		},
		Review: ReviewConfig{
			WorkDir:              filepath.Join(os.TempDir(), "prsentry"),
			CloneTimeoutSeconds:  120,
			EngineTimeoutSeconds: 900,
			DefaultEngine:        "claude_code",
			ClaudeCLIPath:        "claude",
			CodexCLIPath:         "codex",
			RetentionDays:        90,
			WorkspaceMaxAgeHours: 4,
			MinDiskSpaceMB:       512,
		},
		Redis: RedisConfig{
			Enabled:     false,
			Addr:        "localhost:6379",
			Concurrency: 4,
		},
	}
}

func (c *Config) overrideFromEnv() {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
	if mode := os.Getenv("SERVER_MODE"); mode != "" {
		c.Server.Mode = mode
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Server.LogLevel = level
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if url := os.Getenv("GITEA_URL"); url != "" {
		c.Gitea.BaseURL = url
	}
	if token := os.Getenv("GITEA_TOKEN"); token != "" {
		c.Gitea.Token = token
	}
	if secret := os.Getenv("WEBHOOK_SECRET"); secret != "" {
		c.Webhook.Secret = secret
	}
	if bot := os.Getenv("BOT_USERNAME"); bot != "" {
		c.Webhook.BotUsername = bot
	}
	if dir := os.Getenv("WORK_DIR"); dir != "" {
		c.Review.WorkDir = dir
	}
	if engine := os.Getenv("DEFAULT_ENGINE"); engine != "" {
		c.Review.DefaultEngine = engine
	}
	if model := os.Getenv("DEFAULT_MODEL"); model != "" {
		c.Review.DefaultModel = model
	}
	if baseURL := os.Getenv("ENGINE_BASE_URL"); baseURL != "" {
		c.Review.BaseURL = baseURL
	}
	if apiKey := os.Getenv("ENGINE_API_KEY"); apiKey != "" {
		c.Review.APIKey = apiKey
	}
	if path := os.Getenv("CLAUDE_CLI_PATH"); path != "" {
		c.Review.ClaudeCLIPath = path
	}
	if path := os.Getenv("CODEX_CLI_PATH"); path != "" {
		c.Review.CodexCLIPath = path
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Enabled = true
		c.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		c.Redis.Password = password
	}
	if db := os.Getenv("REDIS_DB"); db != "" {
		if n, err := strconv.Atoi(db); err == nil {
			c.Redis.DB = n
		}
	}
}
