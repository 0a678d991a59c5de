package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/aegis/internal/audit"
	"github.com/BradenHooton/aegis/internal/auth"
	"github.com/BradenHooton/aegis/internal/models"
	"github.com/BradenHooton/aegis/internal/repositories/memory"
	pkghttp "github.com/BradenHooton/aegis/pkg/http"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestAudit returns an audit logger over an in-memory store. Reads flush first, so tests
// can query what they wrote.
func newTestAudit(t *testing.T) (*audit.Logger, *memory.AuditStore) {
	t.Helper()
	store := memory.NewAuditStore()
	return audit.NewLogger(store, nil, audit.Config{}, discardLogger()), store
}

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithClaims authenticates the request as subject with role
func WithClaims(req *http.Request, subject string, role models.Role) *http.Request {
	claims := &models.TokenClaims{Role: role}
	claims.Subject = subject
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch: %s", w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "Content-Type should be application/json")

	if target != nil {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), target), "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch: %s", w.Body.String())

	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// WithChiRouteContext adds chi URL params to the request
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// MockDeviceService implements DeviceService for testing
type MockDeviceService struct {
	RecordFingerprintFunc   func(ctx context.Context, fingerprint, userID string, components models.Metadata) (*models.DeviceFingerprint, error)
	GetFingerprintFunc      func(ctx context.Context, fingerprint string) (*models.DeviceFingerprint, error)
	GetUserFingerprintsFunc func(ctx context.Context, userID string) ([]*models.DeviceFingerprint, error)
	TrustDeviceFunc         func(ctx context.Context, fingerprint string) (bool, error)
	BlockDeviceFunc         func(ctx context.Context, fingerprint string) (bool, error)
	GetStatsFunc            func(ctx context.Context) (models.DeviceStats, error)
	CleanupFunc             func(ctx context.Context, daysOld int) (int, error)
}

func (m *MockDeviceService) RecordFingerprint(ctx context.Context, fingerprint, userID string, components models.Metadata) (*models.DeviceFingerprint, error) {
	if m.RecordFingerprintFunc != nil {
		return m.RecordFingerprintFunc(ctx, fingerprint, userID, components)
	}
	return nil, nil
}

func (m *MockDeviceService) GetFingerprint(ctx context.Context, fingerprint string) (*models.DeviceFingerprint, error) {
	if m.GetFingerprintFunc != nil {
		return m.GetFingerprintFunc(ctx, fingerprint)
	}
	return nil, models.ErrNotFound
}

func (m *MockDeviceService) GetUserFingerprints(ctx context.Context, userID string) ([]*models.DeviceFingerprint, error) {
	if m.GetUserFingerprintsFunc != nil {
		return m.GetUserFingerprintsFunc(ctx, userID)
	}
	return []*models.DeviceFingerprint{}, nil
}

func (m *MockDeviceService) TrustDevice(ctx context.Context, fingerprint string) (bool, error) {
	if m.TrustDeviceFunc != nil {
		return m.TrustDeviceFunc(ctx, fingerprint)
	}
	return false, nil
}

func (m *MockDeviceService) BlockDevice(ctx context.Context, fingerprint string) (bool, error) {
	if m.BlockDeviceFunc != nil {
		return m.BlockDeviceFunc(ctx, fingerprint)
	}
	return false, nil
}

func (m *MockDeviceService) GetStats(ctx context.Context) (models.DeviceStats, error) {
	if m.GetStatsFunc != nil {
		return m.GetStatsFunc(ctx)
	}
	return models.DeviceStats{}, nil
}

func (m *MockDeviceService) Cleanup(ctx context.Context, daysOld int) (int, error) {
	if m.CleanupFunc != nil {
		return m.CleanupFunc(ctx, daysOld)
	}
	return 0, nil
}
