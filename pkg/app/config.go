package app

import (
	"flag"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"pharmacy/pkg/admin"
	"pharmacy/pkg/backend"
	"pharmacy/pkg/checkout"
	"pharmacy/pkg/storage"
	"pharmacy/pkg/voice"
)

// Storage backends selectable with -storage.
const (
	StorageFile   = "file"
	StorageRedis  = "redis"
	StorageMemory = "memory"
)

// Config holds every setting shared by the subcommands. Values come from the
// defaults, then the YAML file, then the environment, then the flags.
type Config struct {
	APIURL         string        `yaml:"api_url"`
	Listen         string        `yaml:"listen"`
	DataPath       string        `yaml:"data_path"`
	Storage        string        `yaml:"storage"`
	RedisURL       string        `yaml:"redis_url"`
	RedisNamespace string        `yaml:"redis_namespace"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	AlertWindow    time.Duration `yaml:"alert_window"`
	CheckoutDelay  time.Duration `yaml:"checkout_delay"`
	JWTSecret      string        `yaml:"jwt_secret"`
	Language       string        `yaml:"language"`
	LogLevel       string        `yaml:"log_level"`
	LogFormat      string        `yaml:"log_format"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		APIURL:         backend.DefaultBaseURL,
		Listen:         ":8000",
		DataPath:       "data",
		Storage:        StorageFile,
		RedisURL:       "redis://localhost:6379/0",
		RedisNamespace: storage.DefaultNamespace,
		PollInterval:   admin.DefaultInterval,
		AlertWindow:    admin.DefaultAlertWindow,
		CheckoutDelay:  checkout.DefaultDelay,
		JWTSecret:      "nexus-dev-secret",
		Language:       "en",
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// LoadConfigFile overlays the YAML document at path onto cfg.
func LoadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.Wrapf(err, "parse config %s", path)
	}
	return nil
}

// applyEnv overlays the environment variables the deployment sets.
func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("PHARMACY_API_URL"); v != "" {
		c.APIURL = v
	}
	if port := getenv("PORT"); port != "" {
		c.Listen = ":" + port
	}
	if v := getenv("PHARMACY_JWT_SECRET"); v != "" {
		c.JWTSecret = v
	}
}

// Validate rejects settings no subcommand can work with.
func (c Config) Validate() error {
	switch c.Storage {
	case StorageFile:
		if strings.TrimSpace(c.DataPath) == "" {
			return errors.New("data_path is required for file storage")
		}
	case StorageRedis:
		if c.RedisURL == "" {
			return errors.New("redis_url is required for redis storage")
		}
	case StorageMemory:
	default:
		return errors.Errorf("unknown storage %q (want file, redis or memory)", c.Storage)
	}
	if c.PollInterval <= 0 || c.AlertWindow <= 0 {
		return errors.New("poll_interval and alert_window must be positive")
	}
	if c.CheckoutDelay < 0 {
		return errors.New("checkout_delay must not be negative")
	}
	if _, ok := voice.Lookup(c.Language); !ok {
		return errors.Errorf("unsupported language %q", c.Language)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "log_level")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return errors.Errorf("unknown log_format %q (want text or json)", c.LogFormat)
	}
	return nil
}

// bindFlags registers the shared flags on set with the current values of c
// as defaults.
func (c *Config) bindFlags(set *flag.FlagSet) {
	set.StringVar(&c.APIURL, "api-url", c.APIURL, "Base URL of the pharmacy backend.")
	set.StringVar(&c.Listen, "listen", c.Listen, "Address the reference backend listens on.")
	set.StringVar(&c.DataPath, "data-path", c.DataPath, "Directory holding the JSON snapshots for file storage.")
	set.StringVar(&c.Storage, "storage", c.Storage, "Storage backend: file, redis or memory.")
	set.StringVar(&c.RedisURL, "redis-url", c.RedisURL, "Redis URL for redis storage.")
	set.StringVar(&c.RedisNamespace, "redis-namespace", c.RedisNamespace, "Key prefix for redis storage.")
	set.DurationVar(&c.PollInterval, "poll-interval", c.PollInterval, "Admin order poll interval.")
	set.DurationVar(&c.AlertWindow, "alert-window", c.AlertWindow, "How long the new order alert stays up.")
	set.DurationVar(&c.CheckoutDelay, "checkout-delay", c.CheckoutDelay, "Simulated payment processing time.")
	set.StringVar(&c.JWTSecret, "jwt-secret", c.JWTSecret, "Secret used to sign login tokens.")
	set.StringVar(&c.Language, "language", c.Language, "Conversation language: en, hi or mr.")
	set.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level.")
	set.StringVar(&c.LogFormat, "log-format", c.LogFormat, "Log format: text or json.")
}

// parseConfig builds the configuration for one subcommand. The arguments are
// parsed twice: once to find -config, and once more over the file and
// environment values so explicit flags win. extra registers subcommand flags.
func parseConfig(name string, args []string, getenv func(string) string, extra func(*flag.FlagSet)) (Config, []string, error) {
	var path string
	probe := DefaultConfig()
	first := newFlagSet(name)
	probe.bindFlags(first)
	first.StringVar(&path, "config", "", "Path to a YAML config file.")
	if extra != nil {
		extra(first)
	}
	if err := first.Parse(args); err != nil {
		return Config{}, nil, err
	}

	cfg := DefaultConfig()
	if path != "" {
		if err := LoadConfigFile(path, &cfg); err != nil {
			return Config{}, nil, err
		}
	}
	cfg.applyEnv(getenv)

	second := newFlagSet(name)
	cfg.bindFlags(second)
	second.StringVar(&path, "config", path, "Path to a YAML config file.")
	if extra != nil {
		extra(second)
	}
	if err := second.Parse(args); err != nil {
		return Config{}, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, nil, err
	}
	return cfg, second.Args(), nil
}

func newFlagSet(name string) *flag.FlagSet {
	set := flag.NewFlagSet(name, flag.ContinueOnError)
	set.SetOutput(io.Discard)
	return set
}

// configureLogger applies the level and format to logger.
func configureLogger(logger *logrus.Logger, cfg Config) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err == nil {
		logger.SetLevel(level)
	}
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}
