// Package config builds the service configuration from command-line flags,
// with environment variables taking precedence over flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// LevelOff disables logging entirely.
const LevelOff = "off"

type Config struct {
	Host string
	Port int

	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ConvertTimeout    time.Duration
	FetchTimeout      time.Duration
	ShutdownTimeout   time.Duration

	MaxBodyBytes int64
	RateLimit    float64
	RateBurst    int

	// Healthcheck runs a single GET /healthz against Addr and exits.
	Healthcheck bool
}

func Default() Config {
	return Config{
		Host:              "127.0.0.1",
		Port:              30990,
		LogLevel:          "info",
		LogFormat:         "console",
		ReadHeaderTimeout: 5 * time.Second,
		ConvertTimeout:    60 * time.Second,
		FetchTimeout:      15 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		MaxBodyBytes:      5 * 1024 * 1024,
		RateLimit:         0,
		RateBurst:         10,
	}
}

// Load parses args, then applies environment overrides: every flag can be set
// through the upper-cased flag name with '-' and '.' replaced by '_'
// (e.g. -log-level => LOG_LEVEL). lookupEnv is usually os.LookupEnv.
//
// flag.ErrHelp is returned as is for -h/-help.
func Load(args []string, lookupEnv func(string) (string, bool), output io.Writer) (Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("ua3f-sub", flag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}
	fs.StringVar(&cfg.Host, "host", cfg.Host, "HTTP listen host")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP listen port")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug|info|warn|error|off, or 0-3")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: console|json")
	fs.DurationVar(&cfg.ReadHeaderTimeout, "read-header-timeout", cfg.ReadHeaderTimeout, "HTTP ReadHeaderTimeout")
	fs.DurationVar(&cfg.ConvertTimeout, "convert-timeout", cfg.ConvertTimeout, "total timeout of one /api request, fetch included")
	fs.DurationVar(&cfg.FetchTimeout, "fetch-timeout", cfg.FetchTimeout, "timeout of the upstream subscription fetch")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "graceful shutdown wait after a signal")
	fs.Int64Var(&cfg.MaxBodyBytes, "max-body-bytes", cfg.MaxBodyBytes, "maximum upstream subscription size")
	fs.Float64Var(&cfg.RateLimit, "rate-limit", cfg.RateLimit, "global /api requests per second, 0 disables")
	fs.IntVar(&cfg.RateBurst, "rate-burst", cfg.RateBurst, "rate limiter burst")
	fs.BoolVar(&cfg.Healthcheck, "healthcheck", cfg.Healthcheck, "probe /healthz of a running instance and exit")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if err := applyEnv(fs, lookupEnv); err != nil {
		return Config{}, err
	}

	lvl, err := normalizeLevel(cfg.LogLevel)
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = lvl

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(fs *flag.FlagSet, lookupEnv func(string) (string, bool)) error {
	if lookupEnv == nil {
		return nil
	}
	replacer := strings.NewReplacer(".", "_", "-", "_")

	var errs []error
	fs.VisitAll(func(f *flag.Flag) {
		envName := strings.ToUpper(replacer.Replace(f.Name))
		value, ok := lookupEnv(envName)
		if !ok {
			return
		}
		if err := fs.Set(f.Name, value); err != nil {
			errs = append(errs, fmt.Errorf("env %s=%q: %w", envName, value, err))
		}
	})
	return errors.Join(errs...)
}

// normalizeLevel accepts zap level names and the numeric levels used by
// earlier deployments: 0 silences logging, 1 error, 2 info, 3 and above debug.
func normalizeLevel(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		switch {
		case n < 0:
			return "", fmt.Errorf("log level %d: must not be negative", n)
		case n == 0:
			return LevelOff, nil
		case n == 1:
			return "error", nil
		case n == 2:
			return "info", nil
		default:
			return "debug", nil
		}
	}
	if s == LevelOff {
		return s, nil
	}
	if _, err := zapcore.ParseLevel(s); err != nil {
		return "", fmt.Errorf("log level %q: %w", s, err)
	}
	return s, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, errors.New("host must not be empty"))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be within 1-65535, got %d", c.Port))
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log format must be console or json, got %q", c.LogFormat))
	}
	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"read-header-timeout", c.ReadHeaderTimeout},
		{"convert-timeout", c.ConvertTimeout},
		{"fetch-timeout", c.FetchTimeout},
		{"shutdown-timeout", c.ShutdownTimeout},
	} {
		if d.v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", d.name, d.v))
		}
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("max-body-bytes must be positive, got %d", c.MaxBodyBytes))
	}
	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate-limit must not be negative, got %g", c.RateLimit))
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		errs = append(errs, fmt.Errorf("rate-burst must be at least 1 when rate-limit is set, got %d", c.RateBurst))
	}
	return errors.Join(errs...)
}

// Addr is the listen address, e.g. "127.0.0.1:30990" or "[::1]:30990".
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
