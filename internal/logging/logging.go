package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Format selects the slog handler used by Setup.
type Format string

// Supported LOG_FORMAT values.
const (
	FormatJSON    Format = "json"
	FormatCompact Format = "compact"
	FormatFull    Format = "full"
)

// Options configures Setup beyond the service/env pair every service passes.
type Options struct {
	Format  Format
	LogFile string
}

// Setup configures the standard library logger to emit structured logs and returns
// the underlying slog.Logger for richer logging within the service. All log lines
// include the service name and environment when provided. When opts.LogFile is set,
// output is mirrored to a size-rotated file via lumberjack instead of stdout alone.
func Setup(service, env string, opts Options) *slog.Logger {
	var out io.Writer = os.Stdout
	if strings.TrimSpace(opts.LogFile) != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   opts.LogFile,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		})
	}

	handler := newHandler(out, opts.Format)

	attrs := []slog.Attr{
		slog.String("service", strings.TrimSpace(service)),
	}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}

	withArgs := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		withArgs = append(withArgs, attr)
	}

	base := slog.New(handler).With(withArgs...)
	slog.SetDefault(base)

	// Bridge the standard library logger so existing packages continue to work.
	stdBridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}

func newHandler(out io.Writer, format Format) slog.Handler {
	switch format {
	case FormatFull:
		return slog.NewTextHandler(out, &slog.HandlerOptions{AddSource: true})
	case FormatCompact:
		return slog.NewTextHandler(out, &slog.HandlerOptions{AddSource: false})
	case FormatJSON, "":
		fallthrough
	default:
		return slog.NewJSONHandler(out, &slog.HandlerOptions{
			AddSource: false,
			ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
				switch attr.Key {
				case slog.TimeKey:
					return slog.Attr{Key: "timestamp", Value: attr.Value}
				case slog.LevelKey:
					return slog.String("severity", strings.ToUpper(attr.Value.String()))
				case slog.MessageKey:
					return slog.Attr{Key: "message", Value: attr.Value}
				default:
					return attr
				}
			},
		})
	}
}
