// Package config loads the process configuration from an optional YAML file,
// the env file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Server   Server   `mapstructure:"server"`
	JWT      JWT      `mapstructure:"jwt"`
	OpenAI   OpenAI   `mapstructure:"openai"`
	Laws     Laws     `mapstructure:"laws"`
	Database Database `mapstructure:"database"`
	Admin    Admin    `mapstructure:"admin"`
	Chat     Chat     `mapstructure:"chat"`
	Log      Log      `mapstructure:"log"`
	EnvFile  string   `mapstructure:"env_file"`
}

type Server struct {
	Addr string `mapstructure:"addr"`
}

type JWT struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type OpenAI struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

type Laws struct {
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type Database struct {
	Driver string `mapstructure:"driver"`
	URL    string `mapstructure:"url"`
	Path   string `mapstructure:"path"`
}

type Admin struct {
	Email string `mapstructure:"email"`
}

type Chat struct {
	MaxQuestionTokens int `mapstructure:"max_question_tokens"`
}

type Log struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// envBindings maps config keys to the environment variable names the
// deployment scripts already use.
var envBindings = map[string]string{
	"server.addr":              "SERVER_ADDR",
	"jwt.secret":               "JWT_SECRET",
	"jwt.ttl":                  "JWT_TTL",
	"openai.api_key":           "OPENAI_API_KEY",
	"openai.base_url":          "OPENAI_BASE_URL",
	"openai.model":             "OPENAI_MODEL",
	"laws.url":                 "INTERNAL_LAWS_API_URL",
	"laws.api_key":             "INTERNAL_LAWS_API_KEY",
	"laws.model":               "INTERNAL_LAWS_MODEL",
	"laws.timeout":             "INTERNAL_LAWS_TIMEOUT",
	"database.driver":          "DATABASE_DRIVER",
	"database.url":             "DATABASE_URL",
	"database.path":            "SQLITE_PATH",
	"admin.email":              "ADMIN_EMAIL",
	"chat.max_question_tokens": "MAX_QUESTION_TOKENS",
	"log.level":                "LOG_LEVEL",
	"log.development":          "LOG_DEVELOPMENT",
	"env_file":                 "ENV_FILE",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":5000")
	v.SetDefault("jwt.ttl", 24*time.Hour)
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4o")
	v.SetDefault("laws.url", "https://api.openai.com/v1/chat/completions")
	v.SetDefault("laws.model", "gpt-4o")
	v.SetDefault("laws.timeout", 60*time.Second)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "legisla.db")
	v.SetDefault("admin.email", "admin@cabedelo.pb.gov.br")
	v.SetDefault("chat.max_question_tokens", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("env_file", ".env")
}

// EnvNames lists the environment variables the configuration reads, sorted.
// ENV_FILE itself is left out since it cannot live inside the env file.
func EnvNames() []string {
	names := make([]string, 0, len(envBindings))
	for _, env := range envBindings {
		if env != "ENV_FILE" {
			names = append(names, env)
		}
	}
	sort.Strings(names)
	return names
}

// envFilePath is the env file named by ENV_FILE, defaulting to .env.
func envFilePath() string {
	if p := os.Getenv("ENV_FILE"); p != "" {
		return p
	}
	return ".env"
}

// Reload re-reads the env file over the current process environment, so values
// edited since startup take effect, and then loads the configuration again.
func Reload(configPath string) (*Config, error) {
	return load(configPath, godotenv.Overload)
}

// Load reads the env file into the process environment (existing variables win),
// then resolves the configuration from config.yaml and the environment.
// configPath may name a specific YAML file; empty searches . and ./config.
func Load(configPath string) (*Config, error) {
	return load(configPath, godotenv.Load)
}

// readEnvFile applies path to the process environment with loadEnv. A missing
// file is not an error.
func readEnvFile(path string, loadEnv func(...string) error) error {
	if err := loadEnv(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func load(configPath string, loadEnv func(...string) error) (*Config, error) {
	envFile := envFilePath()
	if err := readEnvFile(envFile, loadEnv); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	// The YAML file may name another env file; viper reads the environment
	// lazily, so loading it here still reaches Unmarshal.
	if p := v.GetString("env_file"); p != "" && p != envFile {
		if err := readEnvFile(p, loadEnv); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Laws.APIKey == "" {
		cfg.Laws.APIKey = cfg.OpenAI.APIKey
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every missing or invalid setting at once.
func (c *Config) Validate() error {
	var err error
	if c.JWT.Secret == "" {
		err = multierr.Append(err, errors.New("JWT_SECRET is required"))
	}
	if c.OpenAI.APIKey == "" {
		err = multierr.Append(err, errors.New("OPENAI_API_KEY is required"))
	}
	if c.JWT.TTL <= 0 {
		err = multierr.Append(err, fmt.Errorf("jwt ttl must be positive, got %s", c.JWT.TTL))
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			err = multierr.Append(err, errors.New("SQLITE_PATH is required for the sqlite driver"))
		}
	case "postgres":
		if c.Database.URL == "" {
			err = multierr.Append(err, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("unknown database driver %q", c.Database.Driver))
	}
	if _, perr := zapcore.ParseLevel(c.Log.Level); perr != nil {
		err = multierr.Append(err, fmt.Errorf("LOG_LEVEL: %w", perr))
	}
	if c.Chat.MaxQuestionTokens < 0 {
		err = multierr.Append(err, errors.New("max_question_tokens cannot be negative"))
	}
	return err
}

// DSN returns the data source for the configured driver.
func (c *Config) DSN() string {
	if c.Database.Driver == "postgres" {
		return c.Database.URL
	}
	return c.Database.Path
}
