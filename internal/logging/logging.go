// Package logging builds the zap loggers used by wifid.
package logging

import (
	"fmt"
	"os"

	"github.com/mdlayher/wifictl/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New creates a logger from cfg. Logs go to standard error unless cfg.File is
// set, in which case they are written to a file rotated by size.
func New(cfg config.Log) (*zap.Logger, error) {
	level := zap.InfoLevel
	if cfg.Level != "" {
		l, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("logging: %w", err)
		}
		level = l
	}

	ecfg := zap.NewProductionEncoderConfig()
	if cfg.Development {
		ecfg = zap.NewDevelopmentEncoderConfig()
	}
	ecfg.EncodeTime = zapcore.ISO8601TimeEncoder

	encoder := zapcore.NewJSONEncoder(ecfg)
	if cfg.Development {
		encoder = zapcore.NewConsoleEncoder(ecfg)
	}

	var ws zapcore.WriteSyncer = zapcore.Lock(os.Stderr)
	if cfg.File != "" {
		ws = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		})
	}

	opts := []zap.Option{zap.ErrorOutput(zapcore.Lock(os.Stderr))}
	if cfg.Development {
		opts = append(opts, zap.Development(), zap.AddCaller())
	}

	return zap.New(zapcore.NewCore(encoder, ws, zap.NewAtomicLevelAt(level)), opts...), nil
}
