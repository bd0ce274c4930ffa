package logger

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Logger is the global, pre-configured zerolog instance for the process.
var Logger zerolog.Logger

func Init(serviceName string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	zerolog.LevelFieldName = "level"
	zerolog.MessageFieldName = "msg"
	zerolog.TimestampFieldName = "ts"

	Logger = zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service_name", serviceName).
		Logger()
}

// Ctx returns a child logger enriched with the trace and span IDs found in
// the context, so log lines can be correlated with the distributed trace.
func Ctx(ctx context.Context) *zerolog.Logger {
	log := Logger

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		log = log.With().
			Str("trace_id", span.SpanContext().TraceID().String()).
			Str("span_id", span.SpanContext().SpanID().String()).
			Logger()
	}
	return &log
}
