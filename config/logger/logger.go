// Package logger builds the zap logger shared by the factory binaries.
package logger

import (
	"log"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	config "github.com/crabzie/factory-runtime/config/utils"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// atomicLevel is the level shared by every core, updated on config reload
var atomicLevel zap.AtomicLevel

// Build sets up the base logger: info and below on stdout, errors on stderr.
// The level follows logger.level whenever the config file changes.
func Build(cfg *config.Logger) *zap.Logger {
	t, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		log.Fatalf("Couldn't parse initial atomic level at logger build: %v", err)
	}
	atomicLevel = t

	logger := zap.New(newCore(cfg, os.Stdout, os.Stderr), buildOptions(cfg)...)
	zap.ReplaceGlobals(logger)

	viper.OnConfigChange(func(in fsnotify.Event) {
		if in.Op&(fsnotify.Create) == 0 {
			SetLevel(viper.GetString("logger.level"))
		}
	})
	viper.WatchConfig()
	return logger
}

func newCore(cfg *config.Logger, out, errOut zapcore.WriteSyncer) zapcore.Core {
	encoder := zapcore.NewJSONEncoder(cfg.EncoderConfig)
	if cfg.Encoding == "console" {
		encoder = zapcore.NewConsoleEncoder(cfg.EncoderConfig)
	}

	highPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapcore.ErrorLevel
	})
	lowPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return atomicLevel.Enabled(lvl) && lvl < zapcore.ErrorLevel
	})

	return zapcore.NewTee(
		zapcore.NewCore(encoder, out, lowPriority),
		zapcore.NewCore(encoder, errOut, highPriority),
	)
}

func buildOptions(cfg *config.Logger) []zap.Option {
	opts := []zap.Option{zap.AddCaller()}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}
	if !cfg.DisableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	return opts
}

// SetLevel changes logger level dynamically
func SetLevel(level string) {
	l, err := zapcore.ParseLevel(level)
	if err != nil {
		zap.L().Error("Couldn't parse level", zap.Error(err))
	} else {
		zap.L().Info("Atomic level updated", zap.String("value", level))
		atomicLevel.SetLevel(l)
	}
}
