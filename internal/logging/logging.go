// Package logging provides a redacting, structured logger, upgrading the
// teacher's internal/logger.go (io.Writer + stdlib log.Logger) to a
// zap.Logger while keeping the same global-singleton and redaction
// conventions.
package logging

import (
	"os"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	global      *zap.Logger
	globalMutex sync.RWMutex
)

// Redactor scrubs sensitive substrings out of a log field's string value.
type Redactor interface {
	Redact(string) string
}

// queryParamRedactor redacts sensitive query-string parameters that may
// appear in a download URL (access_token=, token=, key=, secret=, etc.).
type queryParamRedactor struct {
	patterns []*regexp.Regexp
}

func newQueryParamRedactor() *queryParamRedactor {
	names := []string{"access_token", "token", "key", "secret", "password", "pwd"}
	patterns := make([]*regexp.Regexp, len(names))
	for i, n := range names {
		patterns[i] = regexp.MustCompile(`(?i)(` + n + `=)[^&\s]+`)
	}
	return &queryParamRedactor{patterns: patterns}
}

func (r *queryParamRedactor) Redact(input string) string {
	out := input
	for _, p := range r.patterns {
		out = p.ReplaceAllString(out, "${1}[REDACTED]")
	}
	return out
}

// headerRedactor redacts Authorization/Cookie/Bearer style header values.
type headerRedactor struct{}

func (headerRedactor) Redact(input string) string {
	lower := strings.ToLower(input)
	for _, marker := range []string{"bearer ", "authorization:", "cookie:"} {
		if idx := strings.Index(lower, marker); idx != -1 {
			start := idx + len(marker)
			for start < len(input) && input[start] == ' ' {
				start++
			}
			end := start
			for end < len(input) && input[end] != ' ' && input[end] != ';' && input[end] != '\n' {
				end++
			}
			if end > start {
				input = input[:start] + "[REDACTED]" + input[end:]
				lower = strings.ToLower(input)
			}
		}
	}
	return input
}

var defaultRedactors = []Redactor{headerRedactor{}, newQueryParamRedactor()}

// redactingCore wraps a zapcore.Core, redacting each string field's value
// before it reaches the underlying encoder.
type redactingCore struct {
	zapcore.Core
	redactors []Redactor
}

func (c *redactingCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactingCore{Core: c.Core.With(redactFields(fields, c.redactors)), redactors: c.redactors}
}

func (c *redactingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *redactingCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	for _, r := range c.redactors {
		ent.Message = r.Redact(ent.Message)
	}
	return c.Core.Write(ent, redactFields(fields, c.redactors))
}

func redactFields(fields []zapcore.Field, redactors []Redactor) []zapcore.Field {
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		if f.Type == zapcore.StringType {
			v := f.String
			for _, r := range redactors {
				v = r.Redact(v)
			}
			f.String = v
		}
		out[i] = f
	}
	return out
}

// Init builds the global logger from a log level string ("debug"/"info"/
// "warn"/"error") and an optional file path; empty path logs to stderr.
func Init(level, path string) error {
	globalMutex.Lock()
	defer globalMutex.Unlock()

	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	var ws zapcore.WriteSyncer
	if path == "" {
		ws = zapcore.AddSync(os.Stderr)
	} else {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		ws = zapcore.AddSync(f)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), ws, zapLevel)
	global = zap.New(&redactingCore{Core: core, redactors: defaultRedactors})
	return nil
}

// Get returns the global logger, lazily creating a stderr/info default one
// if Init was never called.
func Get() *zap.Logger {
	globalMutex.RLock()
	l := global
	globalMutex.RUnlock()
	if l != nil {
		return l
	}

	globalMutex.Lock()
	defer globalMutex.Unlock()
	if global == nil {
		core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(os.Stderr), zapcore.InfoLevel)
		global = zap.New(&redactingCore{Core: core, redactors: defaultRedactors})
	}
	return global
}
