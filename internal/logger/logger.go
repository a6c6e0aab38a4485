package logger

import (
	"fmt"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rajivgeraev/flippy-market/internal/config"
)

var root atomic.Pointer[zap.Logger]

// New создает логгер по настройкам из конфигурации
func New(cfg config.LogConfig) *zap.Logger {
	encCfg := zapcore.EncoderConfig{
		TimeKey:      "ts",
		LevelKey:     "level",
		NameKey:      "logger",
		CallerKey:    "caller",
		MessageKey:   "msg",
		LineEnding:   zapcore.DefaultLineEnding,
		EncodeTime:   zapcore.ISO8601TimeEncoder,
		EncodeLevel:  zapcore.CapitalLevelEncoder,
		EncodeCaller: zapcore.ShortCallerEncoder,
	}

	var enc zapcore.Encoder
	if cfg.Format == "json" {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(os.Stdout), parseLevel(cfg.Level))
	return zap.New(core, zap.AddCaller())
}

// SetDefault делает логгер глобальным для L()
func SetDefault(l *zap.Logger) {
	root.Store(l)
}

// L возвращает глобальный логгер; до SetDefault это no-op логгер
func L() *zap.Logger {
	if l := root.Load(); l != nil {
		return l
	}
	return zap.NewNop()
}

// OrNop подставляет глобальный логгер, если компоненту не передали свой
func OrNop(l *zap.Logger) *zap.Logger {
	if l != nil {
		return l
	}
	return L()
}

func parseLevel(s string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// Быстрые методы
func Info(msg string, fields ...zap.Field)  { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }
func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }

func Infof(format string, args ...interface{}) {
	L().Info(fmt.Sprintf(format, args...))
}

func Errorf(format string, args ...interface{}) {
	L().Error(fmt.Sprintf(format, args...))
}
