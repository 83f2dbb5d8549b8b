package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"pubsrv/internal/errors"
	"pubsrv/internal/slogutil"
)

const (
	// DefaultHost is the bind address used when no host argument is given
	DefaultHost = "0.0.0.0"
	// DefaultPort is the bind port used when no port argument is given
	DefaultPort = 5000
	// PublicationsDir is the static root, relative to the executable's directory
	PublicationsDir = "../publications"
)

// Flag names shared by every command that loads a Config.
const (
	FlagRoot      = "root"
	FlagCompress  = "compress"
	FlagLogLevel  = "log-level"
	FlagLogFormat = "log-format"
)

// Config is the effective pubsrv configuration. It is read once at startup
// and never changes afterwards.
type Config struct {
	Host       string        `json:"host" yaml:"host" toml:"host" mapstructure:"host"`
	Port       int           `json:"port" yaml:"port" toml:"port" mapstructure:"port"`
	StaticRoot string        `json:"staticRoot" yaml:"staticRoot" toml:"staticRoot" mapstructure:"root"`
	Compress   bool          `json:"compress" yaml:"compress" toml:"compress" mapstructure:"compress"`
	Logging    LoggingConfig `json:"logging" yaml:"logging" toml:"logging" mapstructure:"logging"`
}

// LoggingConfig contains diagnostic logging configuration
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level" mapstructure:"level"`
	Format string `json:"format" yaml:"format" toml:"format" mapstructure:"format"`
}

// DefaultConfig returns the default configuration. StaticRoot is left empty;
// Load resolves it against the executable.
func DefaultConfig() *Config {
	return &Config{
		Host: DefaultHost,
		Port: DefaultPort,
		Logging: LoggingConfig{
			Level:  "info",
			Format: string(slogutil.HumanFormat),
		},
	}
}

// RegisterFlags adds the configuration flags to flags.
func RegisterFlags(flags *pflag.FlagSet) {
	defaults := DefaultConfig()
	flags.String(FlagRoot, "", "Directory to serve (default: ../publications next to the executable)")
	flags.Bool(FlagCompress, defaults.Compress, "Gzip responses for clients that accept it")
	flags.String(FlagLogLevel, defaults.Logging.Level, "Diagnostic log level (debug, info, warn, error)")
	flags.String(FlagLogFormat, defaults.Logging.Format, "Diagnostic log format (human, json)")
}

// Load builds the configuration from defaults, the flags registered with
// RegisterFlags and the positional [host] [port] arguments. No config file
// or environment variable is consulted.
func Load(flags *pflag.FlagSet, args []string) (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("host", defaults.Host)
	v.SetDefault("port", defaults.Port)
	v.SetDefault("root", "")
	v.SetDefault("compress", defaults.Compress)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)

	if flags != nil {
		bindings := map[string]string{
			"root":           FlagRoot,
			"compress":       FlagCompress,
			"logging.level":  FlagLogLevel,
			"logging.format": FlagLogFormat,
		}
		for key, name := range bindings {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	if len(args) > 2 {
		return nil, invalid("args", fmt.Sprintf("expected at most 2 arguments (host, port), got %d", len(args)))
	}
	if len(args) > 0 && args[0] != "" {
		v.Set("host", args[0])
	}
	if len(args) > 1 && args[1] != "" {
		port, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, invalid("port", fmt.Sprintf("%q is not a number", args[1]))
		}
		v.Set("port", port)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(errors.ConfigInvalid, err, "decode configuration")
	}

	root, err := resolveStaticRoot(cfg.StaticRoot)
	if err != nil {
		return nil, err
	}
	cfg.StaticRoot = root

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Host == "" {
		return invalid("host", "must not be empty")
	}
	if c.Port < 0 || c.Port > 65535 {
		return invalid("port", fmt.Sprintf("%d is out of range 0-65535", c.Port))
	}
	if _, err := slogutil.ParseLevel(c.Logging.Level); err != nil {
		return invalid("logging.level", err.Error())
	}
	if _, err := slogutil.ParseFormat(c.Logging.Format); err != nil {
		return invalid("logging.format", err.Error())
	}
	return nil
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DefaultStaticRoot returns the publications directory next to the running
// executable's directory. The working directory plays no part in it.
func DefaultStaticRoot() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", errors.Wrap(errors.ConfigInvalid, err, "locate executable")
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Join(filepath.Dir(exe), PublicationsDir), nil
}

func resolveStaticRoot(root string) (string, error) {
	if root == "" {
		return DefaultStaticRoot()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", errors.Wrapf(errors.ConfigInvalid, err, "resolve static root %s", root)
	}
	return abs, nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}

func invalid(field, message string) error {
	return errors.Wrap(errors.ConfigInvalid, &ConfigError{Field: field, Message: message}, "invalid configuration")
}
