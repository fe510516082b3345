// Package logging builds the zap logger used by the daemon and adapts it to
// onboarding.Logger.
package logging

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goliatone/go-onboarding"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config configures the zap logger.
type Config struct {
	Level       string
	Development bool

	// File is the path of the current log file. Rotated files get a date
	// suffix and File is kept as a link to the newest one.
	File         string
	RotationTime time.Duration
	MaxAge       time.Duration
}

func levelFromString(l string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(l)) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds a *zap.Logger writing JSON to stdout, or console output in
// development, plus an optional rotating file.
func New(cfg Config) (*zap.Logger, error) {
	lvl := levelFromString(cfg.Level)

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var stdoutEncoder zapcore.Encoder
	if cfg.Development {
		devCfg := zap.NewDevelopmentEncoderConfig()
		devCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		stdoutEncoder = zapcore.NewConsoleEncoder(devCfg)
	} else {
		stdoutEncoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(stdoutEncoder, zapcore.AddSync(os.Stdout), lvl),
	}

	if cfg.File != "" {
		writer, err := newRotatingWriter(cfg)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(writer), lvl))
	}

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	return zap.New(zapcore.NewTee(cores...), opts...), nil
}

func newRotatingWriter(cfg Config) (*rotatelogs.RotateLogs, error) {
	rotation := cfg.RotationTime
	if rotation <= 0 {
		rotation = 24 * time.Hour
	}

	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}

	writer, err := rotatelogs.New(
		cfg.File+".%Y%m%d%H%M",
		rotatelogs.WithLinkName(cfg.File),
		rotatelogs.WithRotationTime(rotation),
		rotatelogs.WithMaxAge(maxAge),
	)
	if err != nil {
		return nil, fmt.Errorf("logging: failed to open %s: %w", cfg.File, err)
	}
	return writer, nil
}

// Adapter exposes a zap logger as onboarding.Logger. Arguments after the
// message are key/value pairs, as with zap's sugared *w methods.
type Adapter struct {
	sugar *zap.SugaredLogger
}

var _ onboarding.Logger = (*Adapter)(nil)

// Adapt wraps logger. The caller skip is adjusted so call sites point at
// the onboarding code, not the adapter.
func Adapt(logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{sugar: logger.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

// Named returns an adapter for a named child logger.
func (a *Adapter) Named(name string) *Adapter {
	return &Adapter{sugar: a.sugar.Named(name)}
}

func (a *Adapter) Debug(msg string, args ...any) {
	a.sugar.Debugw(msg, args...)
}

func (a *Adapter) Info(msg string, args ...any) {
	a.sugar.Infow(msg, args...)
}

func (a *Adapter) Warn(msg string, args ...any) {
	a.sugar.Warnw(msg, args...)
}

func (a *Adapter) Error(msg string, args ...any) {
	a.sugar.Errorw(msg, args...)
}
