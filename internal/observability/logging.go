package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogConfig holds configuration for the structured logger.
type LogConfig struct {
	Level       string // "debug", "info", "warn", "error"
	Format      string // "json" or "text"
	ServiceName string
	Environment string
}

// redactedKeyPatterns are matched case-insensitively as substrings of the
// attribute key. Typed secrets (domain.SecretString, domain.SecretBytes)
// already redact themselves through LogValue; this list is the net under
// plain-string keys: credentials, token material, key material, TOTP
// secrets and the provisioning URIs that embed them.
var redactedKeyPatterns = []string{
	"password",
	"_hash",
	"_secret",
	"secret",
	"_token",
	"_key",
	"api_key",
	"apikey",
	"_credential",
	"authorization",
	"bearer",
	"private",
	"totp",
	"one_time_code",
	"otpauth",
	"provisioning",
}

// InitLogger creates the structured logger for a service and sets it as
// the process default. Every entry carries the service and environment
// attributes, and sensitive keys are redacted before they reach a sink.
func InitLogger(cfg LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: redactSecrets,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With(
		slog.String("service", cfg.ServiceName),
		slog.String("environment", cfg.Environment),
	)

	slog.SetDefault(logger)
	return logger
}

// NewRedactingHandler wraps a JSON handler with the redaction pass, for
// callers composing their own handler stack. A ReplaceAttr already present
// in opts runs first.
func NewRedactingHandler(w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}

	inner := opts.ReplaceAttr
	opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
		if inner != nil {
			a = inner(groups, a)
		}
		return redactSecrets(groups, a)
	}

	return slog.NewJSONHandler(w, opts)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// redactSecrets is the ReplaceAttr pass hiding sensitive values. The key
// survives so operators can see that a field was present.
func redactSecrets(_ []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, pattern := range redactedKeyPatterns {
		if strings.Contains(key, pattern) {
			return slog.String(a.Key, "[REDACTED]")
		}
	}
	return a
}

// WithTraceID returns a logger carrying the active trace id, when the
// context has a recording span. Log lines join up with traces that way.
func WithTraceID(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		return logger.With(slog.String("trace_id", traceID))
	}
	return logger
}
