package log

import (
	"flag"
	"fmt"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

var (
	// Logger is a shared go-kit logger.
	Logger = log.NewNopLogger()
)

// Config for the shared logger.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// RegisterFlags adds the flags required to config this to the given FlagSet.
func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	f.StringVar(&cfg.LogLevel, "log.level", "info", "Only log messages with the given severity or above. Valid levels: [debug, info, warn, error]")
	f.StringVar(&cfg.LogFormat, "log.format", "logfmt", "Output log messages in the given format. Valid formats: [logfmt, json]")
}

// InitLogger initialises the global gokit logger from the config.
func InitLogger(cfg *Config) error {
	l, err := NewLogger(cfg)
	if err != nil {
		return err
	}
	Logger = l
	return nil
}

// NewLogger creates a new gokit logger from the config.
func NewLogger(cfg *Config) (log.Logger, error) {
	var l log.Logger
	if cfg.LogFormat == "json" {
		l = log.NewJSONLogger(log.NewSyncWriter(os.Stderr))
	} else {
		l = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	}

	var lvl level.Option
	switch cfg.LogLevel {
	case "debug":
		lvl = level.AllowDebug()
	case "info":
		lvl = level.AllowInfo()
	case "warn":
		lvl = level.AllowWarn()
	case "error":
		lvl = level.AllowError()
	default:
		return nil, fmt.Errorf("unrecognized log level %q", cfg.LogLevel)
	}
	l = level.NewFilter(l, lvl)

	return log.With(l, "ts", log.DefaultTimestampUTC, "caller", log.Caller(5)), nil
}

// CheckFatal prints an error and exits with error code 1 if err is non-nil
func CheckFatal(location string, err error) {
	if err != nil {
		logger := level.Error(Logger)
		if location != "" {
			logger = log.With(logger, "msg", "error "+location)
		}
		// %+v gets the stack trace from errors using github.com/pkg/errors
		logger.Log("err", fmt.Sprintf("%+v", err))
		os.Exit(1)
	}
}
