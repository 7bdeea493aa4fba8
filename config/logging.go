package config

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogEncoder defines a log encoder kind.
type LogEncoder = string

const (
	defaultLoggingLevel = zapcore.InfoLevel
	// ConsoleLogEncoder represents logging with plain text.
	ConsoleLogEncoder LogEncoder = "console"
	// JSONLogEncoder represents logging with JSON.
	JSONLogEncoder LogEncoder = "json"
)

// LoggerConfig holds the process logging options.
type LoggerConfig struct {
	Encoder LogEncoder `mapstructure:"log-encoder"`
	Level   string     `mapstructure:"level"`
}

func defaultLoggingConfig() LoggerConfig {
	return LoggerConfig{
		Encoder: ConsoleLogEncoder,
		Level:   defaultLoggingLevel.String(),
	}
}

// Build constructs the process logger described by the section.
func (cfg LoggerConfig) Build() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.Encoding = cfg.Encoder
	if cfg.Encoder == ConsoleLogEncoder {
		zcfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}
