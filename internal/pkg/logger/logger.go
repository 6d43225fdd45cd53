package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	FieldQueue   = "queue"
	FieldJobID   = "job_id"
	FieldCVID    = "cv_id"
	FieldAttempt = "attempt"
)

// New 构建 zap logger，json 控制编码，debug 控制级别
func New(json bool, debug bool) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	encoding := "console"

	if json {
		encoding = "json"
	}

	if debug {
		level = zapcore.DebugLevel
	}

	cfg := zap.Config{
		Encoding:         encoding,
		Level:            zap.NewAtomicLevelAt(level),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey: "msg",

			LevelKey:    "level",
			EncodeLevel: zapcore.LowercaseLevelEncoder,

			TimeKey:    "time",
			EncodeTime: zapcore.RFC3339TimeEncoder,

			CallerKey:    "caller",
			EncodeCaller: zapcore.ShortCallerEncoder,
		},
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	return logger, nil
}

// OrNop 把 nil logger 替换为 no-op logger
func OrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// JobFields 返回一次任务执行的标准日志字段
func JobFields(queue, jobID string, cvID int64, attempt int) []zap.Field {
	fields := make([]zap.Field, 0, 4)
	if queue = strings.TrimSpace(queue); queue != "" {
		fields = append(fields, zap.String(FieldQueue, queue))
	}
	if jobID = strings.TrimSpace(jobID); jobID != "" {
		fields = append(fields, zap.String(FieldJobID, jobID))
	}
	if cvID > 0 {
		fields = append(fields, zap.Int64(FieldCVID, cvID))
	}
	if attempt > 0 {
		fields = append(fields, zap.Int(FieldAttempt, attempt))
	}
	return fields
}

// Truncate 截断过长的字符串用于日志输出
func Truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
