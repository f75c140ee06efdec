// Package logging builds the zap logger shared by gexctl and gexd.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/zerogex/internal/config"
)

// New returns a development logger when verbose is set and a JSON
// production logger otherwise. When file logging is enabled, output is
// also written to {directory}/{name}.log with size based rotation.
func New(name string, verbose bool, logCfg *config.LoggingConfig) (*zap.Logger, error) {
	var zapConfig zap.Config
	if verbose {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.DisableStacktrace = true
	}

	// Set log level from config
	if logCfg != nil && logCfg.Level != "" && !verbose {
		var level zapcore.Level
		if err := level.UnmarshalText([]byte(logCfg.Level)); err == nil {
			zapConfig.Level = zap.NewAtomicLevelAt(level)
		}
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	if logCfg == nil || !logCfg.Enabled {
		return logger, nil
	}

	if err := os.MkdirAll(logCfg.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("creating logs directory: %w", err)
	}
	sink := zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(logCfg.Directory, name+".log"),
		MaxSize:    logCfg.MaxSizeMB,
		MaxBackups: logCfg.MaxBackups,
		MaxAge:     logCfg.MaxAgeDays,
		Compress:   true,
	})
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		sink,
		zapConfig.Level,
	)

	return logger.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, fileCore)
	})), nil
}
