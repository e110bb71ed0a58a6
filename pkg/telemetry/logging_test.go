package telemetry

import (
	"bytes"
	"encoding/json"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLoggerLevelPrefix(t *testing.T) {
	cases := []struct {
		line      string
		wantLevel string
		wantMsg   string
	}{
		{"INFO listening on :8080", "INFO", "listening on :8080"},
		{"ERROR server failed: boom", "ERROR", "server failed: boom"},
		{"WARNING disk almost full", "WARN", "disk almost full"},
		{"no level at all", "INFO", "no level at all"},
	}

	for _, tc := range cases {
		var buf bytes.Buffer
		w := newJSONLogWriter("deployments-api", &buf)
		log.New(w, "", 0).Print(tc.line)

		entry := decodeLine(t, &buf)
		assert.Equal(t, tc.wantLevel, entry["level"], tc.line)
		assert.Equal(t, tc.wantMsg, entry["msg"], tc.line)
		assert.Equal(t, "deployments-api", entry["service"])
	}
}

func TestLoggerSuppressesDebugByDefault(t *testing.T) {
	var buf bytes.Buffer
	w := newJSONLogWriter("deployments-api", &buf)

	log.New(w, "", 0).Print("DEBUG noisy internals")
	assert.Zero(t, buf.Len())

	w.minDebug = true
	log.New(w, "", 0).Print("DEBUG noisy internals")
	entry := decodeLine(t, &buf)
	assert.Equal(t, "DEBUG", entry["level"])
}

func TestRequestLogFields(t *testing.T) {
	var buf bytes.Buffer
	w := newJSONLogWriter("deployments-api", &buf)

	w.LogRequest(RequestLog{
		Method:     "GET",
		Path:       "/api/devices/v1/deployments/device/deployments/next",
		Status:     204,
		DurationMS: 12,
		Tenant:     "acme",
		Device:     "device-1",
		TraceID:    "abc123",
	})

	entry := decodeLine(t, &buf)
	assert.Equal(t, "GET", entry["method"])
	assert.Equal(t, float64(204), entry["status"])
	assert.Equal(t, float64(12), entry["duration_ms"])
	assert.Equal(t, "acme", entry["tenant"])
	assert.Equal(t, "device-1", entry["device"])
	assert.Equal(t, "abc123", entry["trace_id"])
}

func TestRequestLogOmitsEmptyIdentity(t *testing.T) {
	var buf bytes.Buffer
	w := newJSONLogWriter("deployments-api", &buf)

	w.LogRequest(RequestLog{Method: "GET", Path: "/healthz", Status: 200})

	entry := decodeLine(t, &buf)
	assert.NotContains(t, entry, "tenant")
	assert.NotContains(t, entry, "device")
	assert.NotContains(t, entry, "trace_id")
}
