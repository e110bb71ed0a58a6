package telemetry

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// RequestLog is one access-log line emitted by the HTTP middleware.
type RequestLog struct {
	Method     string
	Path       string
	Status     int
	DurationMS int64
	Tenant     string
	Device     string
	TraceID    string
}

// jsonLogWriter renders log lines as single-line JSON objects. It backs the
// process logger (via Write) and the middleware access log (via LogRequest).
// Lines written through the logger carry an optional leading level word,
// the convention used across this repo ("ERROR server failed: ...").
type jsonLogWriter struct {
	mu       sync.Mutex
	service  string
	out      io.Writer
	minDebug bool
}

func newJSONLogWriter(service string, out io.Writer) *jsonLogWriter {
	if out == nil {
		out = os.Stdout
	}
	return &jsonLogWriter{
		service:  service,
		out:      out,
		minDebug: strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug"),
	}
}

func (w *jsonLogWriter) Write(p []byte) (int, error) {
	level, message := splitLevel(strings.TrimSpace(string(p)))
	if level == "DEBUG" && !w.minDebug {
		return len(p), nil
	}
	if err := w.emit(map[string]any{
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
		"level":   level,
		"service": w.service,
		"msg":     message,
	}); err != nil {
		return 0, err
	}
	return len(p), nil
}

// LogRequest writes one access-log entry. Logging is best effort; a failed
// write must never fail the request it describes.
func (w *jsonLogWriter) LogRequest(entry RequestLog) {
	fields := map[string]any{
		"ts":          time.Now().UTC().Format(time.RFC3339Nano),
		"level":       "INFO",
		"service":     w.service,
		"method":      entry.Method,
		"path":        entry.Path,
		"status":      entry.Status,
		"duration_ms": entry.DurationMS,
	}
	if entry.Tenant != "" {
		fields["tenant"] = entry.Tenant
	}
	if entry.Device != "" {
		fields["device"] = entry.Device
	}
	if entry.TraceID != "" {
		fields["trace_id"] = entry.TraceID
	}
	_ = w.emit(fields)
}

func (w *jsonLogWriter) emit(fields map[string]any) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.out.Write(append(data, '\n'))
	return err
}

// splitLevel peels the leading level word off a logger line. Lines without
// one default to INFO.
func splitLevel(message string) (string, string) {
	word, rest, found := strings.Cut(message, " ")
	if !found {
		word = message
		rest = ""
	}
	switch level := strings.ToUpper(word); level {
	case "DEBUG", "INFO", "WARN", "ERROR":
		return level, strings.TrimSpace(rest)
	case "WARNING":
		return "WARN", strings.TrimSpace(rest)
	}
	return "INFO", message
}
