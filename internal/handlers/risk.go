package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/aegis/internal/audit"
	"github.com/BradenHooton/aegis/internal/counter"
	"github.com/BradenHooton/aegis/internal/models"
	"github.com/BradenHooton/aegis/internal/risk"
	pkghttp "github.com/BradenHooton/aegis/pkg/http"
	pkglogger "github.com/BradenHooton/aegis/pkg/logger"
)

// Counter windows read when building typed contexts
const (
	window1m  = time.Minute
	window5m  = 5 * time.Minute
	window10m = 10 * time.Minute
	window1h  = time.Hour

	actionAny              = "any"
	actionExport           = "export"
	actionPermissionDenied = "permission_denied"
)

// RiskEngine is the part of *risk.Engine the HTTP layer uses
type RiskEngine interface {
	AssessRisk(ctx context.Context, ruleType models.RuleType, evalCtx map[string]interface{}, opts ...risk.AssessOption) *models.RiskAssessment
	AssessTyped(ctx context.Context, typed risk.TypedContext, opts ...risk.AssessOption) (*models.RiskAssessment, error)
	GetUserRiskHistory(userID string) []*models.RiskAssessment
	AddRule(rule models.RiskRule) error
	UpdateRule(id string, patch models.RiskRulePatch) bool
	EnableRule(id string) bool
	DisableRule(id string) bool
	GetRule(id string) (*models.RiskRule, bool)
	GetRules() []*models.RiskRule
	GetRuleStats() models.RuleStats
}

// RiskHandler serves risk assessments and rule management
type RiskHandler struct {
	engine   RiskEngine
	counters counter.Counter
	audit    *audit.Logger
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewRiskHandler creates a new RiskHandler
func NewRiskHandler(engine RiskEngine, counters counter.Counter, auditLogger *audit.Logger, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *RiskHandler {
	return &RiskHandler{
		engine:   engine,
		counters: counters,
		audit:    auditLogger,
		ipConfig: ipConfig,
		logger:   logger,
		now:      time.Now,
	}
}

// ClientFields identify the end user a calling service reports on. Empty values fall back to
// the inbound request.
type ClientFields struct {
	IPAddress string `json:"ip_address" validate:"omitempty,ip"`
	UserAgent string `json:"user_agent" validate:"max=1024"`
	Location  string `json:"location" validate:"max=256"`
}

func (c ClientFields) info(r *http.Request) audit.RequestInfo {
	return audit.RequestInfo{Request: r, IPAddress: c.IPAddress, UserAgent: c.UserAgent, Location: c.Location}
}

// AssessRequest evaluates an arbitrary context against one rule type
type AssessRequest struct {
	Type              models.RuleType        `json:"type" validate:"required,oneof=registration login device behavior"`
	Context           map[string]interface{} `json:"context" validate:"required"`
	UserID            string                 `json:"user_id" validate:"max=128"`
	DeviceFingerprint string                 `json:"device_fingerprint" validate:"max=256"`
	Metadata          models.Metadata        `json:"metadata"`
	ClientFields
}

// LoginAssessRequest assesses a login; failure counts come from the counters
type LoginAssessRequest struct {
	Subject            string                 `json:"subject" validate:"required,max=256"`
	UserID             string                 `json:"user_id" validate:"max=128"`
	DeviceFingerprint  string                 `json:"device_fingerprint" validate:"max=256"`
	LocationDistanceKm *float64               `json:"location_distance_km" validate:"omitempty,gte=0"`
	NewLocation        *bool                  `json:"new_location"`
	LoginHour          *int                   `json:"login_hour" validate:"omitempty,gte=0,lte=23"`
	Context            map[string]interface{} `json:"context"`
	Metadata           models.Metadata        `json:"metadata"`
	ClientFields
}

// LoginAttemptRequest reports the outcome of a login
type LoginAttemptRequest struct {
	Subject  string          `json:"subject" validate:"required,max=256"`
	UserID   string          `json:"user_id" validate:"max=128"`
	Success  *bool           `json:"success" validate:"required"`
	Metadata models.Metadata `json:"metadata"`
	ClientFields
}

// LoginAttemptResponse echoes the updated failure counts
type LoginAttemptResponse struct {
	AuditLog         *models.SecurityAuditLog `json:"auditLog"`
	FailedAttempts5m int64                    `json:"failedAttempts5m"`
	FailedAttempts1h int64                    `json:"failedAttempts1h"`
}

// RegistrationAssessRequest assesses a sign-up; the per-IP count comes from the counters
type RegistrationAssessRequest struct {
	Email             string                 `json:"email" validate:"required,email"`
	UserID            string                 `json:"user_id" validate:"max=128"`
	DeviceFingerprint string                 `json:"device_fingerprint" validate:"max=256"`
	FormFillTimeMs    *int                   `json:"form_fill_time_ms" validate:"omitempty,gte=0"`
	Context           map[string]interface{} `json:"context"`
	Metadata          models.Metadata        `json:"metadata"`
	ClientFields
}

// BehaviorAssessRequest assesses one in-session action
type BehaviorAssessRequest struct {
	UserID   string                 `json:"user_id" validate:"required,max=128"`
	Action   string                 `json:"action" validate:"required,max=128"`
	Resource string                 `json:"resource" validate:"max=256"`
	Role     string                 `json:"role" validate:"max=64"`
	Context  map[string]interface{} `json:"context"`
	Metadata models.Metadata        `json:"metadata"`
	ClientFields
}

func (h *RiskHandler) options(r *http.Request, userID, fingerprint string, client ClientFields, metadata models.Metadata) []risk.AssessOption {
	ip := client.IPAddress
	if ip == "" {
		ip = pkghttp.ExtractClientIP(r, h.ipConfig)
	}
	ua := client.UserAgent
	if ua == "" {
		ua = r.UserAgent()
	}
	return []risk.AssessOption{
		risk.WithUserID(userID),
		risk.WithRequestInfo(ip, ua),
		risk.WithLocation(client.Location),
		risk.WithDeviceFingerprint(fingerprint),
		risk.WithMetadata(metadata),
	}
}

// count reads a windowed counter. A counter failure is logged and counted as zero so
// assessment still answers.
func (h *RiskHandler) count(ctx context.Context, key string, window time.Duration) int {
	n, err := h.counters.Count(ctx, key, window)
	if err != nil {
		h.logger.WarnContext(ctx, "counter read failed",
			slog.String("key", key),
			slog.Duration("window", window),
			slog.Any("error", err),
		)
		return 0
	}
	return int(n)
}

func (h *RiskHandler) add(ctx context.Context, key string) {
	if err := h.counters.Add(ctx, key, h.now()); err != nil {
		h.logger.WarnContext(ctx, "counter write failed", slog.String("key", key), slog.Any("error", err))
	}
}

func (h *RiskHandler) writeTyped(w http.ResponseWriter, r *http.Request, typed risk.TypedContext, opts []risk.AssessOption) {
	assessment, err := h.engine.AssessTyped(r.Context(), typed, opts...)
	if err != nil {
		pkghttp.WriteErrorWithDetails(w, http.StatusBadRequest, "bad_request", "invalid assessment context", err.Error())
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, assessment)
}

// Assess handles POST /v1/risk/assess
func (h *RiskHandler) Assess(w http.ResponseWriter, r *http.Request) {
	var req AssessRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	assessment := h.engine.AssessRisk(r.Context(), req.Type, req.Context,
		h.options(r, req.UserID, req.DeviceFingerprint, req.ClientFields, req.Metadata)...)
	pkghttp.WriteJSON(w, http.StatusOK, assessment)
}

// AssessLogin handles POST /v1/risk/assess/login
func (h *RiskHandler) AssessLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginAssessRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	ctx := r.Context()
	key := counter.FailedLoginKey(req.Subject)
	typed := risk.LoginContext{
		FailedAttempts5m:   h.count(ctx, key, window5m),
		FailedAttempts1h:   h.count(ctx, key, window1h),
		LocationDistanceKm: req.LocationDistanceKm,
		NewLocation:        req.NewLocation,
		LoginHour:          req.LoginHour,
		Extra:              req.Context,
	}

	h.writeTyped(w, r, typed, h.options(r, req.UserID, req.DeviceFingerprint, req.ClientFields, req.Metadata))
}

// RecordLoginAttempt handles POST /v1/risk/login-attempts. Failures feed the failed-login
// counter; a success clears it. Every attempt is audited.
func (h *RiskHandler) RecordLoginAttempt(w http.ResponseWriter, r *http.Request) {
	var req LoginAttemptRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	ctx := r.Context()
	key := counter.FailedLoginKey(req.Subject)
	success := *req.Success

	if success {
		if err := h.counters.Reset(ctx, key); err != nil {
			h.logger.WarnContext(ctx, "failed login counter reset failed", slog.Any("error", err))
		}
	} else {
		h.add(ctx, key)
	}

	userID := req.UserID
	if userID == "" {
		userID = req.Subject
	}
	metadata := req.Metadata.Clone()
	metadata["subject"] = req.Subject

	entry := h.audit.LogLogin(ctx, userID, success, req.info(r), metadata)

	resp := LoginAttemptResponse{
		AuditLog:         entry,
		FailedAttempts5m: int64(h.count(ctx, key, window5m)),
		FailedAttempts1h: int64(h.count(ctx, key, window1h)),
	}
	h.logger.InfoContext(ctx, "login attempt recorded",
		pkglogger.SubjectAttr("subject", req.Subject),
		slog.Bool("success", success),
		slog.Int64("failed_attempts_1h", resp.FailedAttempts1h),
	)
	pkghttp.WriteJSON(w, http.StatusCreated, resp)
}

// AssessRegistration handles POST /v1/risk/assess/registration. The count reported to the
// rules covers earlier registrations from the same IP; this attempt is then recorded.
func (h *RiskHandler) AssessRegistration(w http.ResponseWriter, r *http.Request) {
	var req RegistrationAssessRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	ctx := r.Context()
	ip := req.IPAddress
	if ip == "" {
		ip = pkghttp.ExtractClientIP(r, h.ipConfig)
	}
	key := counter.IPRegistrationKey(ip)

	_, domain, _ := strings.Cut(req.Email, "@")
	typed := risk.RegistrationContext{
		IPRegistrationCount1h: h.count(ctx, key, window1h),
		EmailDomain:           strings.ToLower(domain),
		FormFillTimeMs:        req.FormFillTimeMs,
		Extra:                 req.Context,
	}
	h.add(ctx, key)

	client := req.ClientFields
	client.IPAddress = ip
	h.writeTyped(w, r, typed, h.options(r, req.UserID, req.DeviceFingerprint, client, req.Metadata))
}

// AssessBehavior handles POST /v1/risk/assess/behavior. The action is recorded before the
// per-minute and export counts are read, so both include it.
func (h *RiskHandler) AssessBehavior(w http.ResponseWriter, r *http.Request) {
	var req BehaviorAssessRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	ctx := r.Context()
	h.add(ctx, counter.ActionKey(req.UserID, actionAny))
	if strings.EqualFold(req.Action, actionExport) {
		h.add(ctx, counter.ActionKey(req.UserID, actionExport))
	}

	ua := req.UserAgent
	if ua == "" {
		ua = r.UserAgent()
	}
	typed := risk.BehaviorContext{
		ActionsPerMinute:         h.count(ctx, counter.ActionKey(req.UserID, actionAny), window1m),
		ExportCount1h:            h.count(ctx, counter.ActionKey(req.UserID, actionExport), window1h),
		PermissionDeniedCount10m: h.count(ctx, counter.ActionKey(req.UserID, actionPermissionDenied), window10m),
		Resource:                 req.Resource,
		Role:                     req.Role,
		UserAgent:                ua,
		Extra:                    req.Context,
	}

	h.writeTyped(w, r, typed, h.options(r, req.UserID, "", req.ClientFields, req.Metadata))
}

// GetUserHistory handles GET /v1/risk/users/{id}/history
func (h *RiskHandler) GetUserHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "" {
		pkghttp.WriteBadRequest(w, "user id is required")
		return
	}

	history := h.engine.GetUserRiskHistory(userID)
	if history == nil {
		history = []*models.RiskAssessment{}
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"userId":      userID,
		"assessments": history,
		"count":       len(history),
	})
}
