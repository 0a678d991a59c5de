package models

import (
	"fmt"
	"reflect"
	"regexp"
	"time"
)

// RuleType scopes a rule to one kind of inbound event
type RuleType string

const (
	RuleTypeRegistration RuleType = "registration"
	RuleTypeLogin        RuleType = "login"
	RuleTypeDevice       RuleType = "device"
	RuleTypeBehavior     RuleType = "behavior"
)

// RuleTypes lists every rule type in a stable order
var RuleTypes = []RuleType{RuleTypeRegistration, RuleTypeLogin, RuleTypeDevice, RuleTypeBehavior}

// Valid reports whether t is a known rule type
func (t RuleType) Valid() bool {
	switch t {
	case RuleTypeRegistration, RuleTypeLogin, RuleTypeDevice, RuleTypeBehavior:
		return true
	}
	return false
}

// RiskAction is the enforcement recommendation returned to callers
type RiskAction string

const (
	RiskActionAllow     RiskAction = "allow"
	RiskActionChallenge RiskAction = "challenge"
	RiskActionReview    RiskAction = "review"
	RiskActionBlock     RiskAction = "block"
)

// Valid reports whether a is a known action
func (a RiskAction) Valid() bool {
	switch a {
	case RiskActionAllow, RiskActionChallenge, RiskActionReview, RiskActionBlock:
		return true
	}
	return false
}

// RiskLevel buckets a numeric risk score
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// RiskLevelFromScore maps a score in [0,1] to its level
func RiskLevelFromScore(score float64) RiskLevel {
	switch {
	case score >= 0.8:
		return RiskLevelCritical
	case score >= 0.6:
		return RiskLevelHigh
	case score >= 0.4:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

// Operator is a condition comparison operator
type Operator string

const (
	OpEq       Operator = "eq"
	OpNe       Operator = "ne"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpIn       Operator = "in"
	OpNin      Operator = "nin"
	OpContains Operator = "contains"
	OpRegex    Operator = "regex"
)

// Valid reports whether o is a known operator
func (o Operator) Valid() bool {
	switch o {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpNin, OpContains, OpRegex:
		return true
	}
	return false
}

// Condition is one weighted predicate of a rule. Field is a dotted path into the evaluation context.
type Condition struct {
	Field    string      `json:"field" mapstructure:"field" validate:"required"`
	Operator Operator    `json:"operator" mapstructure:"operator" validate:"required"`
	Value    interface{} `json:"value" mapstructure:"value"`
	Weight   float64     `json:"weight" mapstructure:"weight" validate:"gte=0,lte=1"`
}

// RiskRule maps a set of conditions to a recommended action.
// TimeWindow and Cooldown are minutes; they describe how callers aggregate context values and
// are not enforced by the engine.
type RiskRule struct {
	ID          string      `json:"id" mapstructure:"id" validate:"required"`
	Name        string      `json:"name" mapstructure:"name" validate:"required"`
	Description string      `json:"description" mapstructure:"description"`
	Type        RuleType    `json:"type" mapstructure:"type" validate:"required"`
	Enabled     bool        `json:"enabled" mapstructure:"enabled"`
	Priority    int         `json:"priority" mapstructure:"priority"`
	Conditions  []Condition `json:"conditions" mapstructure:"conditions" validate:"required,min=1,dive"`
	Action      RiskAction  `json:"action" mapstructure:"action" validate:"required"`
	Threshold   float64     `json:"threshold" mapstructure:"threshold" validate:"gte=0,lte=1"`
	TimeWindow  int         `json:"timeWindow" mapstructure:"time_window" validate:"gte=0"`
	Cooldown    int         `json:"cooldown" mapstructure:"cooldown" validate:"gte=0"`
	CreatedAt   time.Time   `json:"createdAt" mapstructure:"-"`
	UpdatedAt   time.Time   `json:"updatedAt" mapstructure:"-"`
}

// TotalWeight returns the sum of all condition weights
func (r *RiskRule) TotalWeight() float64 {
	total := 0.0
	for _, c := range r.Conditions {
		total += c.Weight
	}
	return total
}

// Validate checks the structural invariants of a rule
func (r *RiskRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRule)
	}
	if !r.Type.Valid() {
		return fmt.Errorf("%w: rule %s has unknown type %q", ErrInvalidRule, r.ID, r.Type)
	}
	if !r.Action.Valid() {
		return fmt.Errorf("%w: rule %s has unknown action %q", ErrInvalidRule, r.ID, r.Action)
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("%w: rule %s has no conditions", ErrInvalidRule, r.ID)
	}
	for i, c := range r.Conditions {
		if c.Field == "" {
			return fmt.Errorf("%w: rule %s condition %d has no field", ErrInvalidRule, r.ID, i)
		}
		if !c.Operator.Valid() {
			return fmt.Errorf("%w: rule %s condition %d has unknown operator %q", ErrInvalidRule, r.ID, i, c.Operator)
		}
		if c.Weight < 0 || c.Weight > 1 {
			return fmt.Errorf("%w: rule %s condition %d weight %.2f outside [0,1]", ErrInvalidRule, r.ID, i, c.Weight)
		}
		switch c.Operator {
		case OpIn, OpNin:
			if c.Value == nil || reflect.TypeOf(c.Value).Kind() != reflect.Slice {
				return fmt.Errorf("%w: rule %s condition %d requires a list value", ErrInvalidRule, r.ID, i)
			}
		case OpRegex:
			if _, err := regexp.Compile(fmt.Sprint(c.Value)); err != nil {
				return fmt.Errorf("%w: rule %s condition %d: %v", ErrInvalidRule, r.ID, i, err)
			}
		}
	}
	if r.Threshold < 0 || r.Threshold > 1 {
		return fmt.Errorf("%w: rule %s threshold %.2f outside [0,1]", ErrInvalidRule, r.ID, r.Threshold)
	}
	if r.Threshold > r.TotalWeight()+1e-9 {
		return fmt.Errorf("%w: rule %s threshold %.2f exceeds total weight %.2f", ErrInvalidRule, r.ID, r.Threshold, r.TotalWeight())
	}
	return nil
}

// Clone returns a deep enough copy that mutating the result never touches r
func (r *RiskRule) Clone() *RiskRule {
	c := *r
	c.Conditions = append([]Condition(nil), r.Conditions...)
	return &c
}

// RiskRulePatch is a partial rule update. Nil fields are left unchanged; Type is fixed at creation.
type RiskRulePatch struct {
	Name        *string     `json:"name,omitempty"`
	Description *string     `json:"description,omitempty"`
	Enabled     *bool       `json:"enabled,omitempty"`
	Priority    *int        `json:"priority,omitempty"`
	Conditions  []Condition `json:"conditions,omitempty"`
	Action      *RiskAction `json:"action,omitempty"`
	Threshold   *float64    `json:"threshold,omitempty"`
	TimeWindow  *int        `json:"timeWindow,omitempty"`
	Cooldown    *int        `json:"cooldown,omitempty"`
}

// Apply returns a copy of rule with the patch applied
func (p RiskRulePatch) Apply(rule *RiskRule) *RiskRule {
	out := rule.Clone()
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.Enabled != nil {
		out.Enabled = *p.Enabled
	}
	if p.Priority != nil {
		out.Priority = *p.Priority
	}
	if p.Conditions != nil {
		out.Conditions = append([]Condition(nil), p.Conditions...)
	}
	if p.Action != nil {
		out.Action = *p.Action
	}
	if p.Threshold != nil {
		out.Threshold = *p.Threshold
	}
	if p.TimeWindow != nil {
		out.TimeWindow = *p.TimeWindow
	}
	if p.Cooldown != nil {
		out.Cooldown = *p.Cooldown
	}
	return out
}

// TriggeredRule records a rule whose matched weight reached its threshold
type TriggeredRule struct {
	RuleID            string      `json:"ruleId"`
	RuleName          string      `json:"ruleName"`
	Score             float64     `json:"score"`
	Action            RiskAction  `json:"action"`
	MatchedConditions []Condition `json:"matchedConditions"`
}

// RiskAssessment is the immutable result of one evaluation
type RiskAssessment struct {
	ID                string          `json:"id"`
	UserID            string          `json:"userId,omitempty"`
	Type              RuleType        `json:"type"`
	RiskScore         float64         `json:"riskScore"`
	RiskLevel         RiskLevel       `json:"riskLevel"`
	TriggeredRules    []TriggeredRule `json:"triggeredRules"`
	Action            RiskAction      `json:"action"`
	Reason            string          `json:"reason"`
	Metadata          Metadata        `json:"metadata,omitempty"`
	IPAddress         string          `json:"ipAddress,omitempty"`
	UserAgent         string          `json:"userAgent,omitempty"`
	Location          string          `json:"location,omitempty"`
	DeviceFingerprint string          `json:"deviceFingerprint,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// TypeCount holds per-type rule counts
type TypeCount struct {
	Total   int `json:"total"`
	Enabled int `json:"enabled"`
}

// RuleStats summarises the rule table
type RuleStats struct {
	Total    int                    `json:"total"`
	Enabled  int                    `json:"enabled"`
	Disabled int                    `json:"disabled"`
	ByType   map[RuleType]TypeCount `json:"byType"`
}
