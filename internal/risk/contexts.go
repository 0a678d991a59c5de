package risk

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/BradenHooton/aegis/internal/models"
)

// TypedContext is a schema-checked evaluation context for one rule type.
// Fields flattens it into the map the rules are evaluated against.
type TypedContext interface {
	RuleType() models.RuleType
	Fields() (map[string]interface{}, error)
}

// DeviceSignals mirrors the device.* fields the engine derives from a known fingerprint.
// Callers set it only when they already hold the device record.
type DeviceSignals struct {
	Known     bool    `mapstructure:"known" json:"known"`
	RiskScore float64 `mapstructure:"risk_score" json:"risk_score"`
	Trusted   bool    `mapstructure:"trusted" json:"trusted"`
	Blocked   bool    `mapstructure:"blocked" json:"blocked"`
	SeenCount int     `mapstructure:"seen_count" json:"seen_count"`
}

// LoginContext carries pre-aggregated login signals
type LoginContext struct {
	FailedAttempts5m   int            `mapstructure:"failed_attempts_5m" json:"failed_attempts_5m"`
	FailedAttempts1h   int            `mapstructure:"failed_attempts_1h" json:"failed_attempts_1h"`
	LocationDistanceKm *float64       `mapstructure:"location_distance_km,omitempty" json:"location_distance_km,omitempty"`
	NewLocation        *bool          `mapstructure:"new_location,omitempty" json:"new_location,omitempty"`
	LoginHour          *int           `mapstructure:"login_hour,omitempty" json:"login_hour,omitempty"`
	Device             *DeviceSignals `mapstructure:"device,omitempty" json:"device,omitempty"`

	Extra map[string]interface{} `mapstructure:"-" json:"extra,omitempty"`
}

func (c LoginContext) RuleType() models.RuleType { return models.RuleTypeLogin }

func (c LoginContext) Fields() (map[string]interface{}, error) {
	return flatten(c, c.Extra)
}

// RegistrationContext carries pre-aggregated registration signals
type RegistrationContext struct {
	IPRegistrationCount1h int            `mapstructure:"ip_registration_count_1h" json:"ip_registration_count_1h"`
	EmailDomain           string         `mapstructure:"email_domain,omitempty" json:"email_domain,omitempty"`
	FormFillTimeMs        *int           `mapstructure:"form_fill_time_ms,omitempty" json:"form_fill_time_ms,omitempty"`
	Device                *DeviceSignals `mapstructure:"device,omitempty" json:"device,omitempty"`

	Extra map[string]interface{} `mapstructure:"-" json:"extra,omitempty"`
}

func (c RegistrationContext) RuleType() models.RuleType { return models.RuleTypeRegistration }

func (c RegistrationContext) Fields() (map[string]interface{}, error) {
	return flatten(c, c.Extra)
}

// DeviceContext carries signals about one device
type DeviceContext struct {
	AccountsPerDevice int            `mapstructure:"accounts_per_device" json:"accounts_per_device"`
	Device            *DeviceSignals `mapstructure:"device,omitempty" json:"device,omitempty"`

	Extra map[string]interface{} `mapstructure:"-" json:"extra,omitempty"`
}

func (c DeviceContext) RuleType() models.RuleType { return models.RuleTypeDevice }

func (c DeviceContext) Fields() (map[string]interface{}, error) {
	return flatten(c, c.Extra)
}

// BehaviorContext carries in-session activity signals
type BehaviorContext struct {
	ActionsPerMinute         int    `mapstructure:"actions_per_minute" json:"actions_per_minute"`
	ExportCount1h            int    `mapstructure:"export_count_1h" json:"export_count_1h"`
	PermissionDeniedCount10m int    `mapstructure:"permission_denied_count_10m" json:"permission_denied_count_10m"`
	Resource                 string `mapstructure:"resource,omitempty" json:"resource,omitempty"`
	Role                     string `mapstructure:"role,omitempty" json:"role,omitempty"`
	UserAgent                string `mapstructure:"user_agent,omitempty" json:"user_agent,omitempty"`

	Extra map[string]interface{} `mapstructure:"-" json:"extra,omitempty"`
}

func (c BehaviorContext) RuleType() models.RuleType { return models.RuleTypeBehavior }

func (c BehaviorContext) Fields() (map[string]interface{}, error) {
	return flatten(c, c.Extra)
}

// flatten encodes a typed context into a field map. Typed fields win over Extra keys.
func flatten(typed interface{}, extra map[string]interface{}) (map[string]interface{}, error) {
	fields := make(map[string]interface{}, len(extra)+8)
	for k, v := range extra {
		fields[k] = v
	}

	var encoded map[string]interface{}
	if err := mapstructure.Decode(typed, &encoded); err != nil {
		return nil, fmt.Errorf("encode %T: %w", typed, err)
	}
	for k, v := range encoded {
		if signals, ok := v.(*DeviceSignals); ok {
			nested, err := flatten(*signals, nil)
			if err != nil {
				return nil, err
			}
			v = nested
		}
		fields[k] = v
	}
	return fields, nil
}
