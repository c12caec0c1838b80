package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowforge/sdlc-orchestrator/internal/mask"
)

var log zerolog.Logger

// maskingWriter wraps an io.Writer and redacts credential-shaped
// substrings from every write, per spec.md §6.5. Applied at the
// sink level so every call site benefits without remembering to mask.
type maskingWriter struct {
	out io.Writer
}

func (w maskingWriter) Write(p []byte) (int, error) {
	if _, err := w.out.Write(mask.RedactBytes(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

func Init(level string, pretty bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(lvl)

	var output io.Writer = os.Stdout
	if pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	log = zerolog.New(maskingWriter{out: output}).
		With().
		Timestamp().
		Caller().
		Logger()
}

func Get() *zerolog.Logger {
	return &log
}

func WithComponent(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

func WithWorker(workerID string) zerolog.Logger {
	return log.With().Str("worker_id", workerID).Logger()
}

func WithTask(taskID string) zerolog.Logger {
	return log.With().Str("task_id", taskID).Logger()
}

// WithTrace attaches the delegate invocation's trace_id, per spec.md
// §6.2/§6.5 — the field used to correlate a task across event log
// entries and delegate subprocess invocations.
func WithTrace(traceID string) zerolog.Logger {
	return log.With().Str("trace_id", traceID).Logger()
}

// Convenience methods
func Debug() *zerolog.Event {
	return log.Debug()
}

func Info() *zerolog.Event {
	return log.Info()
}

func Warn() *zerolog.Event {
	return log.Warn()
}

func Error() *zerolog.Event {
	return log.Error()
}

func Fatal() *zerolog.Event {
	return log.Fatal()
}
