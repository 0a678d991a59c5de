package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/aegis/internal/models"
)

func TestSanitizedEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"user@example.com", "u***@*******.com"},
		{"a@b.co", "a@*.co"},
		{"not-an-email", "[invalid-email]"},
		{"a@b@c", "[invalid-email]"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizedEmail(tt.in), tt.in)
	}
}

func TestSubjectAttr(t *testing.T) {
	assert.Equal(t, "u***@*******.com", SubjectAttr("subject", "user@example.com").Value.String())
	assert.Equal(t, "user-42", SubjectAttr("subject", "user-42").Value.String())
}

func TestSanitizeQueryString(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"", false},
		{"limit=50&user_id=u1", false},
		{"token=abc", true},
		{"Access_Token=abc", true},
		{"device_fingerprint=fp", true},
		{"%zz", true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeQueryString(tt.query), tt.query)
	}
}

func TestRedactedAttr(t *testing.T) {
	assert.Equal(t, "[REDACTED]", RedactedAttr("k", "v", "production").Value.String())
	assert.Equal(t, "v", RedactedAttr("k", "v", "development").Value.String())
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	dec := json.NewDecoder(buf)
	for dec.More() {
		var line map[string]interface{}
		require.NoError(t, dec.Decode(&line))
		out = append(out, line)
	}
	return out
}

func TestAuditLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	audit := NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))
	ctx := context.Background()

	audit.LogEntry(ctx, &models.SecurityAuditLog{
		ID: "l1", UserID: "u1", Action: "user_login", Resource: "auth",
		Result: models.AuditResultFailure, RiskLevel: models.RiskLevelMedium, Timestamp: time.Now(),
	})
	audit.LogEvent(ctx, &models.SecurityEvent{
		ID: "e1", UserID: "u1", Type: models.EventAccountLocked, Severity: models.SeverityCritical, CreatedAt: time.Now(),
	})
	audit.LogEvent(ctx, &models.SecurityEvent{
		ID: "e2", Type: models.EventPasswordChanged, Severity: models.SeverityLow, CreatedAt: time.Now(),
	})
	audit.LogResolution(ctx, "e1", "admin-1")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 4)
	assert.Equal(t, "WARN", lines[0]["level"])
	assert.Equal(t, "entry", lines[0]["audit_type"])
	assert.Equal(t, "ERROR", lines[1]["level"])
	assert.Equal(t, "INFO", lines[2]["level"])
	assert.Equal(t, "e1", lines[3]["event_id"])
}
