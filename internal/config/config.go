package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment variable read by Load
	EnvPrefix = "LOGDEDUP"

	defaultMaxLineSize = 1024 * 1024
)

// MongoConfig holds the optional MongoDB sink settings
type MongoConfig struct {
	URI        string        `mapstructure:"uri"`
	Database   string        `mapstructure:"database"`
	Collection string        `mapstructure:"collection"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// Config represents the complete run configuration
type Config struct {
	Input       string      `mapstructure:"input"`
	Output      string      `mapstructure:"output"`
	IP          string      `mapstructure:"ip"`
	Max         int         `mapstructure:"max"` // inclusive minimum group size
	Format      string      `mapstructure:"format"`
	MaxLineSize int         `mapstructure:"max_line_size"` // stdin and files alike
	LogLevel    string      `mapstructure:"log_level"`
	LogFormat   string      `mapstructure:"log_format"`
	Mongo       MongoConfig `mapstructure:"mongo"`

	ConfigFile  string `mapstructure:"-"`
	ShowVersion bool   `mapstructure:"-"`
}

// NewFlagSet returns the command-line flags understood by Load
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false

	fs.StringP("input", "i", "", "path to the newline-delimited JSON access log (- for stdin)")
	fs.StringP("output", "o", "", "path of the summary file to create")
	fs.String("ip", "", "remote address to keep, compared exactly (may be empty)")
	fs.Int("max", 0, "minimum number of occurrences for a request to be reported")
	fs.String("format", "json", "output format: json or yaml")
	fs.Int("max-line-size", defaultMaxLineSize, "longest accepted input line in bytes, for files and stdin")
	fs.String("config", "", "optional configuration file")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("log-format", "console", "log format: console or json")
	fs.String("mongo-uri", "", "also store summaries in MongoDB at this URI")
	fs.Bool("version", false, "print version information and exit")

	return fs
}

// Load resolves the configuration from args, the environment and an
// optional config file, in that order of precedence
func Load(args []string) (*Config, error) {
	fs := NewFlagSet("logdedup")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if showVersion, _ := fs.GetBool("version"); showVersion {
		return &Config{ShowVersion: true}, nil
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	bindings := map[string]string{
		"input":         "input",
		"output":        "output",
		"ip":            "ip",
		"max":           "max",
		"format":        "format",
		"max_line_size": "max-line-size",
		"log_level":     "log-level",
		"log_format":    "log-format",
		"mongo.uri":     "mongo-uri",
	}
	for key, flagName := range bindings {
		if err := v.BindPFlag(key, fs.Lookup(flagName)); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", flagName, err)
		}
	}

	// Set defaults
	v.SetDefault("mongo.database", "logdedup")
	v.SetDefault("mongo.collection", "summaries")
	v.SetDefault("mongo.timeout", "10s")
	v.SetDefault("mongo.max_retries", 3)

	configFile, _ := fs.GetString("config")
	if configFile == "" {
		configFile = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.ConfigFile = configFile

	// Checked here rather than in Validate: an empty ip is a valid filter
	// for records without a remote address.
	if !v.IsSet("ip") {
		return nil, errors.New("ip is required")
	}
	if !v.IsSet("max") {
		return nil, errors.New("max is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks required fields and value ranges
func (c *Config) Validate() error {
	if c.Input == "" {
		return errors.New("input is required")
	}
	if c.Output == "" {
		return errors.New("output is required")
	}
	if c.Max < 0 {
		return fmt.Errorf("max must not be negative, got %d", c.Max)
	}

	if c.MaxLineSize <= 0 {
		return fmt.Errorf("max_line_size must be positive, got %d", c.MaxLineSize)
	}

	c.Format = strings.ToLower(c.Format)
	if c.Format != "json" && c.Format != "yaml" {
		return fmt.Errorf("format must be json or yaml, got %q", c.Format)
	}

	if c.Mongo.URI != "" {
		if c.Mongo.Database == "" || c.Mongo.Collection == "" {
			return errors.New("mongo.database and mongo.collection are required when mongo.uri is set")
		}
		if c.Mongo.Timeout <= 0 {
			return fmt.Errorf("mongo.timeout must be positive, got %s", c.Mongo.Timeout)
		}
		if c.Mongo.MaxRetries < 0 {
			return fmt.Errorf("mongo.max_retries must not be negative, got %d", c.Mongo.MaxRetries)
		}
	}

	return nil
}
