package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/aegis/internal/audit"
	"github.com/BradenHooton/aegis/internal/auth"
	"github.com/BradenHooton/aegis/internal/models"
	pkghttp "github.com/BradenHooton/aegis/pkg/http"
)

const auditResourceDevice = "device"

// DeviceService is the part of *device.Manager the HTTP layer uses
type DeviceService interface {
	RecordFingerprint(ctx context.Context, fingerprint, userID string, components models.Metadata) (*models.DeviceFingerprint, error)
	GetFingerprint(ctx context.Context, fingerprint string) (*models.DeviceFingerprint, error)
	GetUserFingerprints(ctx context.Context, userID string) ([]*models.DeviceFingerprint, error)
	TrustDevice(ctx context.Context, fingerprint string) (bool, error)
	BlockDevice(ctx context.Context, fingerprint string) (bool, error)
	GetStats(ctx context.Context) (models.DeviceStats, error)
	Cleanup(ctx context.Context, daysOld int) (int, error)
}

// DeviceHandler serves device fingerprint endpoints
type DeviceHandler struct {
	devices DeviceService
	audit   *audit.Logger
	logger  *slog.Logger
}

// NewDeviceHandler creates a new DeviceHandler
func NewDeviceHandler(devices DeviceService, auditLogger *audit.Logger, logger *slog.Logger) *DeviceHandler {
	return &DeviceHandler{
		devices: devices,
		audit:   auditLogger,
		logger:  logger,
	}
}

// RecordDeviceRequest reports a device sighting. Fingerprint may be omitted when components
// are sent; it is then derived server side.
type RecordDeviceRequest struct {
	Fingerprint string          `json:"fingerprint" validate:"required_without=Components,max=256"`
	UserID      string          `json:"user_id" validate:"max=128"`
	Components  models.Metadata `json:"components"`
}

func (h *DeviceHandler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if !errors.Is(err, models.ErrNotFound) && !errors.Is(err, models.ErrBadRequest) {
		h.logger.ErrorContext(r.Context(), "device operation failed",
			slog.String("operation", op),
			slog.Any("error", err),
		)
	}
	pkghttp.WriteModelError(w, err)
}

// Record handles POST /v1/devices. A first sighting answers 201, a returning device 200.
func (h *DeviceHandler) Record(w http.ResponseWriter, r *http.Request) {
	var req RecordDeviceRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	device, err := h.devices.RecordFingerprint(r.Context(), req.Fingerprint, req.UserID, req.Components)
	if err != nil {
		h.writeServiceError(w, r, "record", err)
		return
	}

	status := http.StatusOK
	if device.SeenCount == 1 {
		status = http.StatusCreated
	}
	pkghttp.WriteJSON(w, status, device)
}

// Get handles GET /v1/devices/{fingerprint}
func (h *DeviceHandler) Get(w http.ResponseWriter, r *http.Request) {
	device, err := h.devices.GetFingerprint(r.Context(), chi.URLParam(r, "fingerprint"))
	if err != nil {
		h.writeServiceError(w, r, "get", err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, device)
}

// ListForUser handles GET /v1/users/{id}/devices
func (h *DeviceHandler) ListForUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	devices, err := h.devices.GetUserFingerprints(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, "list", err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"userId":  userID,
		"devices": devices,
		"count":   len(devices),
	})
}

// Stats handles GET /v1/devices/stats
func (h *DeviceHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.devices.GetStats(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "stats", err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, stats)
}

// Trust handles POST /v1/devices/{fingerprint}/trust
func (h *DeviceHandler) Trust(w http.ResponseWriter, r *http.Request) {
	h.setFlag(w, r, "device_trust", h.devices.TrustDevice)
}

// Block handles POST /v1/devices/{fingerprint}/block
func (h *DeviceHandler) Block(w http.ResponseWriter, r *http.Request) {
	h.setFlag(w, r, "device_block", h.devices.BlockDevice)
}

func (h *DeviceHandler) setFlag(w http.ResponseWriter, r *http.Request, action string, apply func(context.Context, string) (bool, error)) {
	ctx := r.Context()
	fingerprint := chi.URLParam(r, "fingerprint")

	ok, err := apply(ctx, fingerprint)
	if err != nil {
		h.writeServiceError(w, r, action, err)
		return
	}
	if !ok {
		pkghttp.WriteNotFound(w, "device not found")
		return
	}

	h.audit.Log(ctx, audit.Entry{
		UserID:   auth.Subject(r),
		Action:   action,
		Resource: auditResourceDevice,
		Result:   models.AuditResultSuccess,
		Metadata: models.Metadata{"fingerprint": fingerprint},
		Client:   audit.FromRequest(r),
	})

	device, err := h.devices.GetFingerprint(ctx, fingerprint)
	if err != nil {
		h.writeServiceError(w, r, "get", err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, device)
}

// Cleanup handles POST /v1/devices/cleanup?days=N
func (h *DeviceHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			pkghttp.WriteBadRequest(w, "days must be a positive integer")
			return
		}
		days = n
	}

	removed, err := h.devices.Cleanup(r.Context(), days)
	if err != nil {
		h.writeServiceError(w, r, "cleanup", err)
		return
	}

	h.audit.Log(r.Context(), audit.Entry{
		UserID:   auth.Subject(r),
		Action:   "device_cleanup",
		Resource: auditResourceDevice,
		Result:   models.AuditResultSuccess,
		Metadata: models.Metadata{"days": days, "removed": removed},
		Client:   audit.FromRequest(r),
	})
	pkghttp.WriteJSON(w, http.StatusOK, map[string]int{"removed": removed})
}
