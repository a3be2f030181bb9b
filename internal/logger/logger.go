package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// LogContext provides context for log messages
type LogContext struct {
	RunID     string `json:"runId,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Provider  string `json:"provider,omitempty"`
	Model     string `json:"model,omitempty"`
	Operation string `json:"operation,omitempty"`
}

// Logger provides leveled printf-style logging on top of zap
type Logger struct {
	sugar      *zap.SugaredLogger
	structured bool // JSON output, context and fields become zap fields
}

// New creates a logger. Production mode (or a Cloud Foundry container) logs JSON,
// everything else gets a colored console encoder.
func New(mode string) *Logger {
	if mode == "" && os.Getenv("VCAP_APPLICATION") != "" {
		mode = "production"
	}

	rawJSON := []byte(`{
		"level": "debug",
		"encoding": "json",
		"outputPaths": ["stdout"],
		"errorOutputPaths": ["stderr"],
		"encoderConfig": {
		  "messageKey": "message",
		  "levelKey": "level",
		  "timeKey": "timestamp",
		  "levelEncoder": "uppercase",
		  "timeEncoder": "rfc3339"
		}
	  }`)

	var cfg zap.Config
	if err := json.Unmarshal(rawJSON, &cfg); err != nil {
		panic(err)
	}

	if mode == "production" {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		return FromZap(zap.Must(cfg.Build()), true)
	}

	cfg.EncoderConfig.LevelKey = zapcore.OmitKey
	cfg.EncoderConfig.TimeKey = zapcore.OmitKey

	enc := &prefixEncoder{
		Encoder: zapcore.NewConsoleEncoder(cfg.EncoderConfig),
		pool:    buffer.NewPool(),
		cfg:     cfg.EncoderConfig,
	}

	return FromZap(zap.New(zapcore.NewCore(
		enc,
		zapcore.AddSync(colorable.NewColorableStdout()),
		zapcore.DebugLevel,
	)), false)
}

// FromZap wraps an existing zap logger
func FromZap(l *zap.Logger, structured bool) *Logger {
	return &Logger{sugar: l.Sugar(), structured: structured}
}

// NewNop returns a logger that discards everything
func NewNop() *Logger {
	return FromZap(zap.NewNop(), false)
}

// Sync flushes buffered entries
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	l.log(zapcore.DebugLevel, nil, nil, format, v...)
}

// Info logs an info message
func (l *Logger) Info(format string, v ...interface{}) {
	l.log(zapcore.InfoLevel, nil, nil, format, v...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, v ...interface{}) {
	l.log(zapcore.WarnLevel, nil, nil, format, v...)
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	l.log(zapcore.ErrorLevel, nil, nil, format, v...)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(format string, v ...interface{}) {
	l.log(zapcore.FatalLevel, nil, nil, format, v...)
}

// DebugWithContext logs a debug message with context
func (l *Logger) DebugWithContext(ctx *LogContext, format string, v ...interface{}) {
	l.log(zapcore.DebugLevel, ctx, nil, format, v...)
}

// InfoWithContext logs an info message with context
func (l *Logger) InfoWithContext(ctx *LogContext, format string, v ...interface{}) {
	l.log(zapcore.InfoLevel, ctx, nil, format, v...)
}

// WarnWithContext logs a warning message with context
func (l *Logger) WarnWithContext(ctx *LogContext, format string, v ...interface{}) {
	l.log(zapcore.WarnLevel, ctx, nil, format, v...)
}

// ErrorWithContext logs an error message with context
func (l *Logger) ErrorWithContext(ctx *LogContext, format string, v ...interface{}) {
	l.log(zapcore.ErrorLevel, ctx, nil, format, v...)
}

// DebugWithFields logs a debug message with structured fields
func (l *Logger) DebugWithFields(format string, fields map[string]interface{}, v ...interface{}) {
	l.log(zapcore.DebugLevel, nil, fields, format, v...)
}

// InfoWithFields logs an info message with structured fields
func (l *Logger) InfoWithFields(format string, fields map[string]interface{}, v ...interface{}) {
	l.log(zapcore.InfoLevel, nil, fields, format, v...)
}

// WarnWithFields logs a warning message with structured fields
func (l *Logger) WarnWithFields(format string, fields map[string]interface{}, v ...interface{}) {
	l.log(zapcore.WarnLevel, nil, fields, format, v...)
}

// ErrorWithFields logs an error message with structured fields
func (l *Logger) ErrorWithFields(format string, fields map[string]interface{}, v ...interface{}) {
	l.log(zapcore.ErrorLevel, nil, fields, format, v...)
}

func (l *Logger) log(level zapcore.Level, ctx *LogContext, fields map[string]interface{}, format string, v ...interface{}) {
	message := format
	if len(v) > 0 {
		message = fmt.Sprintf(format, v...)
	}

	var kv []interface{}
	if l.structured {
		kv = contextPairs(ctx)
		for _, k := range sortedKeys(fields) {
			kv = append(kv, k, fields[k])
		}
	} else {
		message = formatContext(ctx) + message + formatFields(fields)
	}

	switch level {
	case zapcore.DebugLevel:
		l.sugar.Debugw(message, kv...)
	case zapcore.InfoLevel:
		l.sugar.Infow(message, kv...)
	case zapcore.WarnLevel:
		l.sugar.Warnw(message, kv...)
	case zapcore.ErrorLevel:
		l.sugar.Errorw(message, kv...)
	default:
		l.sugar.Fatalw(message, kv...)
	}
}

func contextPairs(ctx *LogContext) []interface{} {
	if ctx == nil {
		return nil
	}
	var kv []interface{}
	if ctx.RunID != "" {
		kv = append(kv, "runId", ctx.RunID)
	}
	if ctx.RequestID != "" {
		kv = append(kv, "requestId", ctx.RequestID)
	}
	if ctx.Provider != "" {
		kv = append(kv, "provider", ctx.Provider)
	}
	if ctx.Model != "" {
		kv = append(kv, "model", ctx.Model)
	}
	if ctx.Operation != "" {
		kv = append(kv, "operation", ctx.Operation)
	}
	return kv
}

// formatContext formats context for human-readable logs
func formatContext(ctx *LogContext) string {
	if ctx == nil {
		return ""
	}

	parts := []string{}
	if ctx.RunID != "" {
		parts = append(parts, fmt.Sprintf("[Run:%s]", ctx.RunID))
	}
	if ctx.RequestID != "" {
		parts = append(parts, fmt.Sprintf("[Req:%s]", ctx.RequestID))
	}
	if ctx.Provider != "" {
		parts = append(parts, fmt.Sprintf("[Provider:%s]", ctx.Provider))
	}
	if ctx.Model != "" {
		parts = append(parts, fmt.Sprintf("[Model:%s]", ctx.Model))
	}
	if ctx.Operation != "" {
		parts = append(parts, fmt.Sprintf("[Op:%s]", ctx.Operation))
	}

	if len(parts) > 0 {
		return strings.Join(parts, "") + " "
	}
	return ""
}

// formatFields formats structured fields for human-readable logs
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}

	fieldStr := " |"
	for _, k := range sortedKeys(fields) {
		fieldStr += fmt.Sprintf(" %s=%v", k, fields[k])
	}
	return fieldStr
}

func sortedKeys(fields map[string]interface{}) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// WithContext returns a context logger for chaining
func (l *Logger) WithContext(ctx *LogContext) *ContextLogger {
	return &ContextLogger{
		logger: l,
		ctx:    ctx,
	}
}

// ContextLogger provides context-aware logging
type ContextLogger struct {
	logger *Logger
	ctx    *LogContext
}

// Debug logs a debug message with the context
func (cl *ContextLogger) Debug(format string, v ...interface{}) {
	cl.logger.DebugWithContext(cl.ctx, format, v...)
}

// Info logs an info message with the context
func (cl *ContextLogger) Info(format string, v ...interface{}) {
	cl.logger.InfoWithContext(cl.ctx, format, v...)
}

// Warn logs a warning message with the context
func (cl *ContextLogger) Warn(format string, v ...interface{}) {
	cl.logger.WarnWithContext(cl.ctx, format, v...)
}

// Error logs an error message with the context
func (cl *ContextLogger) Error(format string, v ...interface{}) {
	cl.logger.ErrorWithContext(cl.ctx, format, v...)
}

// InfoWithFields logs an info message with context and fields
func (cl *ContextLogger) InfoWithFields(format string, fields map[string]interface{}, v ...interface{}) {
	cl.logger.log(zapcore.InfoLevel, cl.ctx, fields, format, v...)
}

// ErrorWithFields logs an error message with context and fields
func (cl *ContextLogger) ErrorWithFields(format string, fields map[string]interface{}, v ...interface{}) {
	cl.logger.log(zapcore.ErrorLevel, cl.ctx, fields, format, v...)
}

// prefixEncoder prepends a colored tag, the level and a timestamp to console lines
type prefixEncoder struct {
	zapcore.Encoder
	cfg  zapcore.EncoderConfig
	pool buffer.Pool
}

func (e *prefixEncoder) Clone() zapcore.Encoder {
	return &prefixEncoder{
		Encoder: e.Encoder.Clone(),
		pool:    buffer.NewPool(),
		cfg:     e.cfg,
	}
}

func (e *prefixEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	buf := e.pool.Get()

	tag := color.New(color.BgBlue).Sprint("[LLMBENCH]")
	if entry.Level >= zapcore.WarnLevel {
		tag = color.New(color.BgRed).Sprint("[LLMBENCH]")
	}

	buf.AppendString(tag)
	buf.AppendString(" ")
	buf.AppendString(fmt.Sprintf("%-5s", entry.Level.CapitalString()))
	buf.AppendString(" | ")
	buf.AppendString(entry.Time.Format(time.RFC3339))
	buf.AppendString(" | ")

	line, err := e.Encoder.EncodeEntry(entry, fields)
	if err != nil {
		return nil, err
	}
	defer line.Free()

	if _, err := buf.Write(line.Bytes()); err != nil {
		return nil, err
	}
	return buf, nil
}
