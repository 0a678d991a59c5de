// Package risk evaluates inbound events against a weighted rule table.
//
// The engine trusts the context it is given: windowed aggregates such as
// failed_attempts_5m are computed by the caller (see internal/counter).
package risk

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/BradenHooton/aegis/internal/metrics"
	"github.com/BradenHooton/aegis/internal/models"
	"github.com/BradenHooton/aegis/internal/telemetry"
)

const (
	// DefaultHistoryLimit caps the per-user assessment history
	DefaultHistoryLimit = 100

	// NoRiskReason is the reason reported when nothing triggered
	NoRiskReason = "No risk detected"

	deviceField = "device"
	epsilon     = 1e-9
)

// DeviceLookup exposes stored device records to the engine
type DeviceLookup interface {
	GetFingerprint(ctx context.Context, fingerprint string) (*models.DeviceFingerprint, error)
}

// EngineConfig holds optional engine collaborators and limits
type EngineConfig struct {
	HistoryLimit int
	Devices      DeviceLookup
}

// Engine scores events against the rule set and keeps a bounded per-user history
type Engine struct {
	rules        *RuleSet
	devices      DeviceLookup
	historyLimit int
	logger       *slog.Logger

	historyMu sync.Mutex
	history   map[string][]*models.RiskAssessment
}

// NewEngine creates an Engine over rules
func NewEngine(rules *RuleSet, cfg EngineConfig, logger *slog.Logger) *Engine {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	return &Engine{
		rules:        rules,
		devices:      cfg.Devices,
		historyLimit: cfg.HistoryLimit,
		logger:       logger,
		history:      make(map[string][]*models.RiskAssessment),
	}
}

type assessOptions struct {
	userID      string
	ipAddress   string
	userAgent   string
	location    string
	fingerprint string
	metadata    models.Metadata
}

// AssessOption decorates an assessment with request details
type AssessOption func(*assessOptions)

// WithUserID attributes the assessment to a user and records it in their history
func WithUserID(userID string) AssessOption {
	return func(o *assessOptions) { o.userID = userID }
}

// WithRequestInfo records the client IP and user agent
func WithRequestInfo(ipAddress, userAgent string) AssessOption {
	return func(o *assessOptions) {
		o.ipAddress = ipAddress
		o.userAgent = userAgent
	}
}

func WithLocation(location string) AssessOption {
	return func(o *assessOptions) { o.location = location }
}

// WithDeviceFingerprint names the client device; a known device contributes device.* context fields
func WithDeviceFingerprint(fingerprint string) AssessOption {
	return func(o *assessOptions) { o.fingerprint = fingerprint }
}

func WithMetadata(metadata models.Metadata) AssessOption {
	return func(o *assessOptions) { o.metadata = metadata }
}

// AssessRisk evaluates every enabled rule of ruleType against evalCtx.
// It always returns an assessment; malformed context only causes conditions to miss.
func (e *Engine) AssessRisk(ctx context.Context, ruleType models.RuleType, evalCtx map[string]interface{}, opts ...AssessOption) *models.RiskAssessment {
	start := time.Now()

	var o assessOptions
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := telemetry.StartSpan(ctx, "risk.assess", telemetry.RuleType(string(ruleType)))
	defer span.End()

	fields := e.withDeviceFields(ctx, evalCtx, o.fingerprint)

	var (
		totalWeight    float64
		triggeredScore float64
		triggered      = make([]models.TriggeredRule, 0)
	)
	for _, rule := range e.rules.ByType(ruleType, true) {
		totalWeight += rule.TotalWeight()

		score, matched := scoreRule(rule, fields)
		if len(matched) == 0 || score+epsilon < rule.Threshold {
			continue
		}
		triggeredScore += score
		triggered = append(triggered, models.TriggeredRule{
			RuleID:            rule.ID,
			RuleName:          rule.Name,
			Score:             roundScore(score),
			Action:            rule.Action,
			MatchedConditions: matched,
		})
		metrics.RiskRulesTriggeredTotal.WithLabelValues(rule.ID).Inc()
	}

	riskScore := 0.0
	if totalWeight > 0 {
		riskScore = clamp(triggeredScore / totalWeight)
	}

	assessment := &models.RiskAssessment{
		ID:                uuid.New().String(),
		UserID:            o.userID,
		Type:              ruleType,
		RiskScore:         riskScore,
		RiskLevel:         models.RiskLevelFromScore(riskScore),
		TriggeredRules:    triggered,
		Action:            resolveAction(triggered, riskScore),
		Reason:            reason(triggered),
		Metadata:          o.metadata.Clone(),
		IPAddress:         o.ipAddress,
		UserAgent:         o.userAgent,
		Location:          o.location,
		DeviceFingerprint: o.fingerprint,
		CreatedAt:         time.Now().UTC(),
	}

	if o.userID != "" {
		e.appendHistory(assessment)
	}

	span.SetAttributes(
		attribute.Float64("risk.score", assessment.RiskScore),
		attribute.String("risk.action", string(assessment.Action)),
		attribute.Int("risk.triggered", len(triggered)),
	)
	metrics.RiskAssessmentsTotal.WithLabelValues(string(ruleType), string(assessment.Action)).Inc()
	metrics.RiskAssessmentDuration.WithLabelValues(string(ruleType)).Observe(time.Since(start).Seconds())

	if assessment.Action != models.RiskActionAllow {
		e.logger.InfoContext(ctx, "risk assessment flagged",
			slog.String("assessment_id", assessment.ID),
			slog.String("type", string(ruleType)),
			slog.String("user_id", o.userID),
			slog.Float64("risk_score", assessment.RiskScore),
			slog.String("action", string(assessment.Action)),
			slog.String("reason", assessment.Reason),
		)
	}

	return assessment
}

// AssessTyped evaluates a typed context against the rules of its type
func (e *Engine) AssessTyped(ctx context.Context, typed TypedContext, opts ...AssessOption) (*models.RiskAssessment, error) {
	fields, err := typed.Fields()
	if err != nil {
		return nil, err
	}
	return e.AssessRisk(ctx, typed.RuleType(), fields, opts...), nil
}

// withDeviceFields returns a shallow copy of evalCtx with device.* fields for the fingerprint.
// Caller-supplied device fields are left untouched.
func (e *Engine) withDeviceFields(ctx context.Context, evalCtx map[string]interface{}, fingerprint string) map[string]interface{} {
	fields := make(map[string]interface{}, len(evalCtx)+1)
	for k, v := range evalCtx {
		fields[k] = v
	}
	if fingerprint == "" || e.devices == nil {
		return fields
	}
	if _, set := fields[deviceField]; set {
		return fields
	}

	device, err := e.devices.GetFingerprint(ctx, fingerprint)
	switch {
	case errors.Is(err, models.ErrNotFound):
		fields[deviceField] = map[string]interface{}{"known": false}
	case err != nil:
		e.logger.WarnContext(ctx, "device lookup failed during risk assessment",
			slog.String("fingerprint", fingerprint),
			slog.Any("error", err),
		)
	default:
		fields[deviceField] = map[string]interface{}{
			"known":      true,
			"risk_score": device.RiskScore,
			"trusted":    device.Trusted,
			"blocked":    device.Blocked,
			"seen_count": device.SeenCount,
		}
	}
	return fields
}

func scoreRule(rule *models.RiskRule, fields map[string]interface{}) (float64, []models.Condition) {
	var (
		score   float64
		matched []models.Condition
	)
	for _, cond := range rule.Conditions {
		if evaluateCondition(cond, fields) {
			score += cond.Weight
			matched = append(matched, cond)
		}
	}
	return score, matched
}

// resolveAction prefers the strictest action declared by a triggered rule, then falls back to the score.
func resolveAction(triggered []models.TriggeredRule, score float64) models.RiskAction {
	declared := make(map[models.RiskAction]bool, len(triggered))
	for _, t := range triggered {
		declared[t.Action] = true
	}
	for _, action := range []models.RiskAction{models.RiskActionBlock, models.RiskActionChallenge, models.RiskActionReview} {
		if declared[action] {
			return action
		}
	}

	switch {
	case score >= 0.8:
		return models.RiskActionBlock
	case score >= 0.5:
		return models.RiskActionChallenge
	case score >= 0.3:
		return models.RiskActionReview
	default:
		return models.RiskActionAllow
	}
}

func reason(triggered []models.TriggeredRule) string {
	if len(triggered) == 0 {
		return NoRiskReason
	}
	names := make([]string, len(triggered))
	for i, t := range triggered {
		names[i] = t.RuleName
	}
	return strings.Join(names, ", ")
}

func clamp(score float64) float64 {
	if math.IsNaN(score) || score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return roundScore(score)
}

// roundScore trims float noise so 0.6+0.1 reports as 0.7
func roundScore(score float64) float64 {
	return math.Round(score*1e4) / 1e4
}

func (e *Engine) appendHistory(assessment *models.RiskAssessment) {
	e.historyMu.Lock()
	defer e.historyMu.Unlock()

	entries := append(e.history[assessment.UserID], assessment)
	if overflow := len(entries) - e.historyLimit; overflow > 0 {
		entries = append([]*models.RiskAssessment(nil), entries[overflow:]...)
	}
	e.history[assessment.UserID] = entries
}

// GetUserRiskHistory returns the user's assessments, most recent last
func (e *Engine) GetUserRiskHistory(userID string) []*models.RiskAssessment {
	e.historyMu.Lock()
	defer e.historyMu.Unlock()

	return append([]*models.RiskAssessment(nil), e.history[userID]...)
}

// AddRule validates and adds a rule. A duplicate id fails with ErrConflict.
func (e *Engine) AddRule(rule models.RiskRule) error {
	if err := e.rules.Insert(&rule); err != nil {
		return err
	}
	e.logger.Info("risk rule added", slog.String("rule_id", rule.ID), slog.String("type", string(rule.Type)))
	return nil
}

// UpdateRule applies patch to the rule. It reports false when the rule is unknown or the result is invalid.
func (e *Engine) UpdateRule(id string, patch models.RiskRulePatch) bool {
	err := e.rules.Update(id, patch.Apply)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			e.logger.Warn("risk rule update rejected", slog.String("rule_id", id), slog.Any("error", err))
		}
		return false
	}
	e.logger.Info("risk rule updated", slog.String("rule_id", id))
	return true
}

func (e *Engine) EnableRule(id string) bool {
	return e.setEnabled(id, true)
}

func (e *Engine) DisableRule(id string) bool {
	return e.setEnabled(id, false)
}

func (e *Engine) setEnabled(id string, enabled bool) bool {
	err := e.rules.Update(id, func(rule *models.RiskRule) *models.RiskRule {
		rule.Enabled = enabled
		return rule
	})
	if err != nil {
		return false
	}
	e.logger.Info("risk rule toggled", slog.String("rule_id", id), slog.Bool("enabled", enabled))
	return true
}

// GetRule returns a copy of one rule
func (e *Engine) GetRule(id string) (*models.RiskRule, bool) {
	return e.rules.Get(id)
}

// GetRules returns copies of all rules, highest priority first
func (e *Engine) GetRules() []*models.RiskRule {
	return e.rules.All()
}

// GetRuleStats counts rules by type and enabled state
func (e *Engine) GetRuleStats() models.RuleStats {
	stats := models.RuleStats{ByType: make(map[models.RuleType]models.TypeCount, len(models.RuleTypes))}
	for _, t := range models.RuleTypes {
		stats.ByType[t] = models.TypeCount{}
	}
	for _, rule := range e.rules.All() {
		stats.Total++
		tc := stats.ByType[rule.Type]
		tc.Total++
		if rule.Enabled {
			stats.Enabled++
			tc.Enabled++
		} else {
			stats.Disabled++
		}
		stats.ByType[rule.Type] = tc
	}
	return stats
}
