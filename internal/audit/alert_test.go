package audit

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/BradenHooton/aegis/internal/models"
)

// MockSESClient implements SESClient for testing
type MockSESClient struct {
	SendEmailFunc func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
	calls         int
}

func (m *MockSESClient) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	m.calls++
	if m.SendEmailFunc != nil {
		return m.SendEmailFunc(ctx, params, optFns...)
	}
	return &ses.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func criticalEvent() *models.SecurityEvent {
	return &models.SecurityEvent{
		ID:          "evt-1",
		UserID:      "u1",
		Type:        models.EventSuspiciousLogin,
		Description: "login from new country",
		Severity:    models.SeverityCritical,
		IPAddress:   "203.0.113.7",
		CreatedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestEmailAlertHandler_SendsToRecipients(t *testing.T) {
	var sent *ses.SendEmailInput
	client := &MockSESClient{
		SendEmailFunc: func(_ context.Context, params *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
			sent = params
			return &ses.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
		},
	}
	h := NewEmailAlertHandler(client, EmailAlertConfig{
		From:       "alerts@example.com",
		Recipients: []string{"secops@example.com", "oncall@example.com"},
	}, discardLogger())

	require.NoError(t, h.HandleCriticalEvent(context.Background(), criticalEvent()))
	require.NotNil(t, sent)
	assert.Equal(t, "alerts@example.com", aws.ToString(sent.Source))
	assert.Equal(t, []string{"secops@example.com", "oncall@example.com"}, sent.Destination.ToAddresses)
	assert.Contains(t, aws.ToString(sent.Message.Subject.Data), "CRITICAL")
	assert.Contains(t, aws.ToString(sent.Message.Body.Text.Data), "203.0.113.7")
}

func TestEmailAlertHandler_NoRecipientsIsNoop(t *testing.T) {
	client := &MockSESClient{}
	h := NewEmailAlertHandler(client, EmailAlertConfig{From: "alerts@example.com"}, discardLogger())

	require.NoError(t, h.HandleCriticalEvent(context.Background(), criticalEvent()))
	assert.Equal(t, 0, client.calls)
}

func TestEmailAlertHandler_BreakerOpensAfterFailures(t *testing.T) {
	client := &MockSESClient{
		SendEmailFunc: func(context.Context, *ses.SendEmailInput, ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
			return nil, errors.New("throttled")
		},
	}
	h := NewEmailAlertHandler(client, EmailAlertConfig{
		From:        "alerts@example.com",
		Recipients:  []string{"secops@example.com"},
		MaxFailures: 2,
		OpenTimeout: time.Minute,
	}, discardLogger())
	ctx := context.Background()

	assert.Error(t, h.HandleCriticalEvent(ctx, criticalEvent()))
	assert.Error(t, h.HandleCriticalEvent(ctx, criticalEvent()))
	assert.Equal(t, 2, client.calls)

	err := h.HandleCriticalEvent(ctx, criticalEvent())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, client.calls, "open breaker must not call SES")
}

func TestMultiAlertHandler_FansOutAndJoinsErrors(t *testing.T) {
	first := &MockAlertHandler{}
	second := &MockAlertHandler{Err: errors.New("pager down")}
	third := &MockAlertHandler{}

	err := MultiAlertHandler{first, second, third}.HandleCriticalEvent(context.Background(), criticalEvent())
	assert.EqualError(t, err, "pager down")
	assert.Equal(t, 1, first.count())
	assert.Equal(t, 1, second.count())
	assert.Equal(t, 1, third.count())

	assert.NoError(t, MultiAlertHandler{first, third}.HandleCriticalEvent(context.Background(), criticalEvent()))
}

func TestLogAlertHandler(t *testing.T) {
	assert.NoError(t, NewLogAlertHandler(discardLogger()).HandleCriticalEvent(context.Background(), criticalEvent()))
}

func TestExportAuditLogs(t *testing.T) {
	store := newMockStore()
	l := newTestLogger(store, &MockAlertHandler{}, Config{})
	l.now = steppingClock()
	ctx := context.Background()

	l.LogLogin(ctx, "u1", true, RequestInfo{IPAddress: "10.0.0.1", UserAgent: "curl/8"}, nil)
	l.LogDataAccess(ctx, "u2", "orders", "data_read", RequestInfo{}, nil)

	var buf bytes.Buffer
	rows, err := l.ExportAuditLogs(ctx, &buf, models.AuditLogFilter{}, "admin-1", RequestInfo{IPAddress: "10.0.0.9"})
	require.NoError(t, err)
	assert.Equal(t, 2, rows)

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	sheet, err := f.GetRows(ExportSheet)
	require.NoError(t, err)
	require.Len(t, sheet, 3)
	assert.Equal(t, "ID", sheet[0][0])
	assert.Equal(t, "data_read", sheet[1][3])
	assert.Equal(t, "user_login", sheet[2][3])
	assert.Equal(t, "10.0.0.1", sheet[2][7])

	// the export is audited too
	exports, err := l.GetAuditLogs(ctx, models.AuditLogFilter{Action: models.AuditActionDataExport})
	require.NoError(t, err)
	require.Len(t, exports, 1)
	assert.Equal(t, "admin-1", exports[0].UserID)
	assert.Equal(t, models.RiskLevelHigh, exports[0].RiskLevel)
	assert.Equal(t, 2, exports[0].Metadata["rows"])

	events, err := l.GetSecurityEvents(ctx, models.SecurityEventFilter{Type: models.EventDataExport})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestExportAuditLogs_QueryFailureIsAudited(t *testing.T) {
	store := &failingQueryStore{MockStore: newMockStore()}
	l := newTestLogger(store, &MockAlertHandler{}, Config{})
	ctx := context.Background()

	var buf bytes.Buffer
	_, err := l.ExportAuditLogs(ctx, &buf, models.AuditLogFilter{}, "admin-1", RequestInfo{})
	require.Error(t, err)

	require.NoError(t, l.Flush(ctx))
	stats, err := store.Stats(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FailureLogs)
}

type failingQueryStore struct {
	*MockStore
}

func (s *failingQueryStore) QueryLogs(context.Context, models.AuditLogFilter) ([]*models.SecurityAuditLog, error) {
	return nil, models.ErrStoreUnavailable
}
