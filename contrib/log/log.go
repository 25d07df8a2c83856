// Package log is a small leveled-logging facade over zap, in the shape the
// teacher repository's call sites expect (log.Infof, log.Context(ctx),
// log.NewHelper, log.SetLogger). It is a standalone rebuild: the teacher's
// own contrib/log package was not present in the retrieval pack, only its
// go.uber.org/zap + lumberjack dependency pins and its call-site idiom.
package log

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

func sprintf(format string, args ...any) string { return fmt.Sprintf(format, args...) }
func sprint(args ...any) string                 { return fmt.Sprint(args...) }

// Level mirrors zapcore.Level so call sites never import zap directly.
type Level = zapcore.Level

const (
	LevelDebug = zapcore.DebugLevel
	LevelInfo  = zapcore.InfoLevel
	LevelWarn  = zapcore.WarnLevel
	LevelError = zapcore.ErrorLevel
)

// Logger is the minimal structured-logging surface the rest of the module
// depends on.
type Logger interface {
	Log(level Level, keyvals ...any)
	Enabled(level Level) bool
}

type zapLogger struct {
	z *zap.SugaredLogger
	l *zap.Logger
}

func (z *zapLogger) Enabled(level Level) bool {
	return z.l.Core().Enabled(level)
}

func (z *zapLogger) Log(level Level, keyvals ...any) {
	switch level {
	case LevelDebug:
		z.z.Debugw("", keyvals...)
	case LevelWarn:
		z.z.Warnw("", keyvals...)
	case LevelError:
		z.z.Errorw("", keyvals...)
	default:
		z.z.Infow("", keyvals...)
	}
}

// Config controls where and how logs are written.
type Config struct {
	Level      string
	Path       string
	MaxSize    int
	MaxAge     int
	MaxBackups int
	Compress   bool
}

// New builds a Logger writing JSON lines to stdout and, when Path is set, to
// a lumberjack-rotated file.
func New(c Config) Logger {
	level := zapcore.InfoLevel
	_ = level.UnmarshalText([]byte(c.Level))

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(os.Stdout), level),
	}

	if c.Path != "" {
		rotator := &lumberjack.Logger{
			Filename:   c.Path,
			MaxSize:    orDefault(c.MaxSize, 100),
			MaxAge:     orDefault(c.MaxAge, 28),
			MaxBackups: orDefault(c.MaxBackups, 7),
			Compress:   c.Compress,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(rotator), level))
	}

	z := zap.New(zapcore.NewTee(cores...))
	return &zapLogger{z: z.Sugar(), l: z}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

var defaultLogger Logger = New(Config{Level: "info"})

// SetLogger replaces the process-wide default logger.
func SetLogger(l Logger) { defaultLogger = l }

// GetLogger returns the process-wide default logger.
func GetLogger() Logger { return defaultLogger }

// Enabled reports whether level is enabled on the default logger.
func Enabled(level Level) bool { return defaultLogger.Enabled(level) }

// Helper is a convenience wrapper offering printf-style methods, mirroring
// the teacher's log.Helper / log.NewHelper(logger) call sites.
type Helper struct {
	logger Logger
}

func NewHelper(l Logger) *Helper {
	if l == nil {
		l = defaultLogger
	}
	return &Helper{logger: l}
}

func (h *Helper) Enabled(level Level) bool { return h.logger.Enabled(level) }

func (h *Helper) Debugf(format string, args ...any) { h.logf(LevelDebug, format, args...) }
func (h *Helper) Infof(format string, args ...any)  { h.logf(LevelInfo, format, args...) }
func (h *Helper) Warnf(format string, args ...any)  { h.logf(LevelWarn, format, args...) }
func (h *Helper) Errorf(format string, args ...any) { h.logf(LevelError, format, args...) }

func (h *Helper) Debug(args ...any) { h.log(LevelDebug, args...) }
func (h *Helper) Info(args ...any)  { h.log(LevelInfo, args...) }
func (h *Helper) Warn(args ...any)  { h.log(LevelWarn, args...) }
func (h *Helper) Error(args ...any) { h.log(LevelError, args...) }

func (h *Helper) logf(level Level, format string, args ...any) {
	h.logger.Log(level, "msg", sprintf(format, args...))
}

func (h *Helper) log(level Level, args ...any) {
	h.logger.Log(level, "msg", sprint(args...))
}

// package-level convenience functions operating on the default logger.
func Debugf(format string, args ...any) { NewHelper(defaultLogger).Debugf(format, args...) }
func Infof(format string, args ...any)  { NewHelper(defaultLogger).Infof(format, args...) }
func Warnf(format string, args ...any)  { NewHelper(defaultLogger).Warnf(format, args...) }
func Errorf(format string, args ...any) { NewHelper(defaultLogger).Errorf(format, args...) }
func Debug(args ...any)                 { NewHelper(defaultLogger).Debug(args...) }
func Info(args ...any)                  { NewHelper(defaultLogger).Info(args...) }
func Warn(args ...any)                  { NewHelper(defaultLogger).Warn(args...) }

func Fatal(args ...any) {
	NewHelper(defaultLogger).Error(args...)
	os.Exit(1)
}

func Fatalf(format string, args ...any) {
	NewHelper(defaultLogger).Errorf(format, args...)
	os.Exit(1)
}

type ctxKey struct{}

// WithContext attaches a request-scoped Helper (e.g. one carrying a request
// ID field) to ctx.
func WithContext(ctx context.Context, h *Helper) context.Context {
	return context.WithValue(ctx, ctxKey{}, h)
}

// Context returns the request-scoped Helper, or a Helper over the default
// logger if none was attached.
func Context(ctx context.Context) *Helper {
	if h, ok := ctx.Value(ctxKey{}).(*Helper); ok {
		return h
	}
	return NewHelper(defaultLogger)
}
