package risk

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/aegis/internal/models"
)

// RuleSet is the in-memory rule table, keyed by rule id.
// Every read returns copies so callers can never mutate a live rule.
type RuleSet struct {
	mu    sync.RWMutex
	rules map[string]*models.RiskRule
}

// NewRuleSet validates rules and builds a table from them
func NewRuleSet(rules []models.RiskRule) (*RuleSet, error) {
	rs := &RuleSet{rules: make(map[string]*models.RiskRule, len(rules))}
	for i := range rules {
		if err := rs.Insert(&rules[i]); err != nil {
			return nil, err
		}
	}
	return rs, nil
}

// Insert adds a new rule. It fails with ErrInvalidRule or ErrConflict.
func (rs *RuleSet) Insert(rule *models.RiskRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	if _, exists := rs.rules[rule.ID]; exists {
		return fmt.Errorf("%w: rule %s already exists", models.ErrConflict, rule.ID)
	}
	stored := rule.Clone()
	now := time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}
	rs.rules[stored.ID] = stored
	return nil
}

// Update applies fn to a copy of the rule and stores the result if it still validates.
// The rule type and id cannot change.
func (rs *RuleSet) Update(id string, fn func(*models.RiskRule) *models.RiskRule) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	current, ok := rs.rules[id]
	if !ok {
		return models.ErrNotFound
	}
	next := fn(current.Clone())
	next.ID = current.ID
	next.Type = current.Type
	next.CreatedAt = current.CreatedAt
	if err := next.Validate(); err != nil {
		return err
	}
	next.UpdatedAt = time.Now().UTC()
	rs.rules[id] = next
	return nil
}

// Get returns a copy of the rule with the given id
func (rs *RuleSet) Get(id string) (*models.RiskRule, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	rule, ok := rs.rules[id]
	if !ok {
		return nil, false
	}
	return rule.Clone(), true
}

// ByType returns rules of one type, optionally only enabled ones, highest priority first.
func (rs *RuleSet) ByType(ruleType models.RuleType, enabledOnly bool) []*models.RiskRule {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	out := make([]*models.RiskRule, 0, len(rs.rules))
	for _, rule := range rs.rules {
		if rule.Type != ruleType || (enabledOnly && !rule.Enabled) {
			continue
		}
		out = append(out, rule.Clone())
	}
	sortRules(out)
	return out
}

// All returns every rule, highest priority first
func (rs *RuleSet) All() []*models.RiskRule {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	out := make([]*models.RiskRule, 0, len(rs.rules))
	for _, rule := range rs.rules {
		out = append(out, rule.Clone())
	}
	sortRules(out)
	return out
}

// Len returns the number of rules
func (rs *RuleSet) Len() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.rules)
}

func sortRules(rules []*models.RiskRule) {
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
}

// DisposableEmailDomains seeds registration_002
var DisposableEmailDomains = []interface{}{
	"10minutemail.com",
	"guerrillamail.com",
	"mailinator.com",
	"tempmail.com",
	"temp-mail.org",
	"throwaway.email",
	"yopmail.com",
}

// DefaultRules returns the rule table loaded at process start when no rule file is configured.
func DefaultRules() []models.RiskRule {
	return []models.RiskRule{
		{
			ID:          "registration_001",
			Name:        "批量注册检测",
			Description: "Many registrations from one IP within an hour",
			Type:        models.RuleTypeRegistration,
			Enabled:     true,
			Priority:    90,
			Conditions: []models.Condition{
				{Field: "ip_registration_count_1h", Operator: models.OpGte, Value: 5, Weight: 0.8},
			},
			Action:     models.RiskActionBlock,
			Threshold:  0.8,
			TimeWindow: 60,
			Cooldown:   60,
		},
		{
			ID:          "registration_002",
			Name:        "临时邮箱检测",
			Description: "Registration with a disposable email domain",
			Type:        models.RuleTypeRegistration,
			Enabled:     true,
			Priority:    70,
			Conditions: []models.Condition{
				{Field: "email_domain", Operator: models.OpIn, Value: DisposableEmailDomains, Weight: 0.6},
			},
			Action:    models.RiskActionChallenge,
			Threshold: 0.6,
		},
		{
			ID:          "registration_003",
			Name:        "自动化注册检测",
			Description: "Bot-like device or an implausibly fast form fill",
			Type:        models.RuleTypeRegistration,
			Enabled:     true,
			Priority:    80,
			Conditions: []models.Condition{
				{Field: "device.risk_score", Operator: models.OpGte, Value: 0.7, Weight: 0.6},
				{Field: "form_fill_time_ms", Operator: models.OpLt, Value: 2000, Weight: 0.4},
			},
			Action:    models.RiskActionChallenge,
			Threshold: 0.6,
		},
		{
			ID:          "login_001",
			Name:        "异地登录检测",
			Description: "Login far from the previous location",
			Type:        models.RuleTypeLogin,
			Enabled:     true,
			Priority:    80,
			Conditions: []models.Condition{
				{Field: "location_distance_km", Operator: models.OpGt, Value: 500, Weight: 0.6},
				{Field: "new_location", Operator: models.OpEq, Value: true, Weight: 0.4},
			},
			Action:    models.RiskActionChallenge,
			Threshold: 0.6,
		},
		{
			ID:          "login_002",
			Name:        "暴力破解检测",
			Description: "Repeated failed logins within five minutes",
			Type:        models.RuleTypeLogin,
			Enabled:     true,
			Priority:    100,
			Conditions: []models.Condition{
				{Field: "failed_attempts_5m", Operator: models.OpGte, Value: 5, Weight: 1.0},
			},
			Action:     models.RiskActionBlock,
			Threshold:  0.9,
			TimeWindow: 5,
			Cooldown:   30,
		},
		{
			ID:          "login_003",
			Name:        "新设备登录",
			Description: "Login from an unknown device after recent failures",
			Type:        models.RuleTypeLogin,
			Enabled:     true,
			Priority:    60,
			Conditions: []models.Condition{
				{Field: "device.known", Operator: models.OpEq, Value: false, Weight: 0.5},
				{Field: "failed_attempts_1h", Operator: models.OpGte, Value: 3, Weight: 0.5},
			},
			Action:     models.RiskActionReview,
			Threshold:  0.5,
			TimeWindow: 60,
		},
		{
			ID:          "login_004",
			Name:        "异常时间登录",
			Description: "Login during unusual hours",
			Type:        models.RuleTypeLogin,
			Enabled:     true,
			Priority:    40,
			Conditions: []models.Condition{
				{Field: "login_hour", Operator: models.OpIn, Value: []interface{}{0, 1, 2, 3, 4, 5}, Weight: 0.5},
			},
			Action:    models.RiskActionReview,
			Threshold: 0.5,
		},
		{
			ID:          "device_001",
			Name:        "高风险设备",
			Description: "Device fingerprint with a high bot score",
			Type:        models.RuleTypeDevice,
			Enabled:     true,
			Priority:    100,
			Conditions: []models.Condition{
				{Field: "device.risk_score", Operator: models.OpGte, Value: 0.8, Weight: 1.0},
			},
			Action:    models.RiskActionBlock,
			Threshold: 1.0,
		},
		{
			ID:          "device_002",
			Name:        "已封禁设备",
			Description: "Device blocked by an operator",
			Type:        models.RuleTypeDevice,
			Enabled:     true,
			Priority:    110,
			Conditions: []models.Condition{
				{Field: "device.blocked", Operator: models.OpEq, Value: true, Weight: 1.0},
			},
			Action:    models.RiskActionBlock,
			Threshold: 1.0,
		},
		{
			ID:          "device_003",
			Name:        "多账户设备",
			Description: "Untrusted device shared by many accounts",
			Type:        models.RuleTypeDevice,
			Enabled:     true,
			Priority:    60,
			Conditions: []models.Condition{
				{Field: "accounts_per_device", Operator: models.OpGte, Value: 5, Weight: 0.7},
				{Field: "device.trusted", Operator: models.OpEq, Value: false, Weight: 0.3},
			},
			Action:    models.RiskActionReview,
			Threshold: 0.7,
		},
		{
			ID:          "behavior_001",
			Name:        "异常操作频率",
			Description: "Request rate or client typical of scripts",
			Type:        models.RuleTypeBehavior,
			Enabled:     true,
			Priority:    80,
			Conditions: []models.Condition{
				{Field: "actions_per_minute", Operator: models.OpGt, Value: 60, Weight: 0.7},
				{Field: "user_agent", Operator: models.OpRegex, Value: `(?i)(curl|wget|python-requests)`, Weight: 0.3},
			},
			Action:     models.RiskActionChallenge,
			Threshold:  0.7,
			TimeWindow: 1,
		},
		{
			ID:          "behavior_002",
			Name:        "批量数据导出",
			Description: "Many exports within an hour",
			Type:        models.RuleTypeBehavior,
			Enabled:     true,
			Priority:    70,
			Conditions: []models.Condition{
				{Field: "export_count_1h", Operator: models.OpGte, Value: 10, Weight: 0.8},
				{Field: "resource", Operator: models.OpContains, Value: "admin", Weight: 0.2},
			},
			Action:     models.RiskActionReview,
			Threshold:  0.8,
			TimeWindow: 60,
		},
		{
			ID:          "behavior_003",
			Name:        "权限探测",
			Description: "Repeated permission denials by a non-admin",
			Type:        models.RuleTypeBehavior,
			Enabled:     true,
			Priority:    90,
			Conditions: []models.Condition{
				{Field: "permission_denied_count_10m", Operator: models.OpGte, Value: 5, Weight: 0.6},
				{Field: "role", Operator: models.OpNe, Value: "admin", Weight: 0.4},
			},
			Action:     models.RiskActionBlock,
			Threshold:  1.0,
			TimeWindow: 10,
		},
	}
}
