// Package log provides structured logging carrying run identity.
//
// Logger is the non-sugared variant for runtime hot paths; Sugar()
// yields a printf-style SugaredLogger for CLI and debug surfaces.
package log

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/quarrio/quarry/types"
)

// Logger emits structured JSON entries stamped with the run's identity
// fields (run_id, attempt, and job_id/parent_run_id when present).
type Logger struct {
	zap *zap.Logger
}

// SugaredLogger is the printf-style wrapper over the same core, for
// CLI output and debug logging where convenience wins over allocation
// discipline.
type SugaredLogger struct {
	sugar *zap.SugaredLogger
}

// NewLogger builds a logger for one run, writing JSON to os.Stderr.
func NewLogger(runMeta *types.RunMeta) *Logger {
	return &Logger{zap: zap.New(jsonCore(os.Stderr)).With(identityFields(runMeta)...)}
}

// WithOutput returns a copy of the logger that writes to w instead.
func (l *Logger) WithOutput(w io.Writer) *Logger {
	core := jsonCore(w)
	return &Logger{zap: l.zap.WithOptions(zap.WrapCore(func(zapcore.Core) zapcore.Core { return core }))}
}

func jsonCore(w io.Writer) zapcore.Core {
	enc := zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
	return zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(w), zapcore.DebugLevel)
}

func identityFields(runMeta *types.RunMeta) []zap.Field {
	fields := []zap.Field{
		zap.String("run_id", runMeta.RunID),
		zap.Int("attempt", runMeta.Attempt),
	}
	if runMeta.JobID != nil {
		fields = append(fields, zap.String("job_id", *runMeta.JobID))
	}
	if runMeta.ParentRunID != nil {
		fields = append(fields, zap.String("parent_run_id", *runMeta.ParentRunID))
	}
	return fields
}

// Debug logs at debug level.
func (l *Logger) Debug(message string, fields map[string]any) {
	l.zap.Debug(message, zap.Any("fields", fields))
}

// Info logs at info level.
func (l *Logger) Info(message string, fields map[string]any) {
	l.zap.Info(message, zap.Any("fields", fields))
}

// Warn logs at warn level.
func (l *Logger) Warn(message string, fields map[string]any) {
	l.zap.Warn(message, zap.Any("fields", fields))
}

// Error logs at error level.
func (l *Logger) Error(message string, fields map[string]any) {
	l.zap.Error(message, zap.Any("fields", fields))
}

// Sugar returns the printf-style view of the same logger.
func (l *Logger) Sugar() *SugaredLogger {
	return &SugaredLogger{sugar: l.zap.Sugar()}
}

// Debugf logs at debug level with printf formatting.
func (s *SugaredLogger) Debugf(template string, args ...any) {
	s.sugar.Debugf(template, args...)
}

// Infof logs at info level with printf formatting.
func (s *SugaredLogger) Infof(template string, args ...any) {
	s.sugar.Infof(template, args...)
}

// Warnf logs at warn level with printf formatting.
func (s *SugaredLogger) Warnf(template string, args ...any) {
	s.sugar.Warnf(template, args...)
}

// Errorf logs at error level with printf formatting.
func (s *SugaredLogger) Errorf(template string, args ...any) {
	s.sugar.Errorf(template, args...)
}

// With returns a SugaredLogger carrying additional key/value context.
func (s *SugaredLogger) With(args ...any) *SugaredLogger {
	return &SugaredLogger{sugar: s.sugar.With(args...)}
}
