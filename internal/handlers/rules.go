package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/aegis/internal/audit"
	"github.com/BradenHooton/aegis/internal/auth"
	"github.com/BradenHooton/aegis/internal/models"
	pkghttp "github.com/BradenHooton/aegis/pkg/http"
)

const auditResourceRule = "risk_rule"

// ListRules handles GET /v1/risk/rules. ?type= narrows to one rule type.
func (h *RiskHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules := h.engine.GetRules()

	if t := models.RuleType(r.URL.Query().Get("type")); t != "" {
		if !t.Valid() {
			pkghttp.WriteBadRequest(w, "unknown rule type")
			return
		}
		filtered := make([]*models.RiskRule, 0, len(rules))
		for _, rule := range rules {
			if rule.Type == t {
				filtered = append(filtered, rule)
			}
		}
		rules = filtered
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"rules": rules,
		"count": len(rules),
	})
}

// GetRuleStats handles GET /v1/risk/rules/stats
func (h *RiskHandler) GetRuleStats(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteJSON(w, http.StatusOK, h.engine.GetRuleStats())
}

// GetRule handles GET /v1/risk/rules/{id}
func (h *RiskHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.engine.GetRule(chi.URLParam(r, "id"))
	if !ok {
		pkghttp.WriteNotFound(w, "rule not found")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, rule)
}

// CreateRule handles POST /v1/risk/rules
func (h *RiskHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rule models.RiskRule
	if !decodeRequest(w, r, &rule) {
		return
	}

	now := h.now().UTC()
	rule.CreatedAt, rule.UpdatedAt = now, now
	if err := h.engine.AddRule(rule); err != nil {
		pkghttp.WriteModelError(w, err)
		return
	}

	h.auditRuleChange(r, "risk_rule_create", rule.ID)
	created, _ := h.engine.GetRule(rule.ID)
	pkghttp.WriteJSON(w, http.StatusCreated, created)
}

// UpdateRule handles PATCH /v1/risk/rules/{id}
func (h *RiskHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.engine.GetRule(id); !ok {
		pkghttp.WriteNotFound(w, "rule not found")
		return
	}

	var patch models.RiskRulePatch
	if !decodeRequest(w, r, &patch) {
		return
	}

	if !h.engine.UpdateRule(id, patch) {
		pkghttp.WriteError(w, http.StatusBadRequest, "invalid_rule", "patched rule failed validation")
		return
	}

	h.auditRuleChange(r, "risk_rule_update", id)
	updated, _ := h.engine.GetRule(id)
	pkghttp.WriteJSON(w, http.StatusOK, updated)
}

// EnableRule handles POST /v1/risk/rules/{id}/enable
func (h *RiskHandler) EnableRule(w http.ResponseWriter, r *http.Request) {
	h.toggleRule(w, r, true)
}

// DisableRule handles POST /v1/risk/rules/{id}/disable
func (h *RiskHandler) DisableRule(w http.ResponseWriter, r *http.Request) {
	h.toggleRule(w, r, false)
}

func (h *RiskHandler) toggleRule(w http.ResponseWriter, r *http.Request, enabled bool) {
	id := chi.URLParam(r, "id")

	var ok bool
	action := "risk_rule_disable"
	if enabled {
		ok = h.engine.EnableRule(id)
		action = "risk_rule_enable"
	} else {
		ok = h.engine.DisableRule(id)
	}
	if !ok {
		pkghttp.WriteNotFound(w, "rule not found")
		return
	}

	h.auditRuleChange(r, action, id)
	rule, _ := h.engine.GetRule(id)
	pkghttp.WriteJSON(w, http.StatusOK, rule)
}

// auditRuleChange records rule management under the operator's token subject
func (h *RiskHandler) auditRuleChange(r *http.Request, action, ruleID string) {
	h.audit.Log(r.Context(), audit.Entry{
		UserID:   auth.Subject(r),
		Action:   action,
		Resource: auditResourceRule,
		Result:   models.AuditResultSuccess,
		Metadata: models.Metadata{"rule_id": ruleID},
		Client:   audit.FromRequest(r),
	})
}
