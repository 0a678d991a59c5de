package risk

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/BradenHooton/aegis/internal/models"
)

// ruleFile is the on-disk layout of a rule table:
//
//	rules:
//	  - id: login_002
//	    type: login
//	    conditions:
//	      - {field: failed_attempts_5m, operator: gte, value: 5, weight: 1.0}
type ruleFile struct {
	Rules []models.RiskRule `mapstructure:"rules"`
}

// LoadRuleFile reads a YAML, JSON or TOML rule table. The format follows the file extension.
func LoadRuleFile(path string) ([]models.RiskRule, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read rule file %s: %w", path, err)
	}

	var file ruleFile
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("decode rule file %s: %w", path, err)
	}
	if len(file.Rules) == 0 {
		return nil, fmt.Errorf("%w: rule file %s defines no rules", models.ErrInvalidRule, path)
	}

	seen := make(map[string]struct{}, len(file.Rules))
	for i := range file.Rules {
		rule := &file.Rules[i]
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("rule file %s: %w", path, err)
		}
		if _, dup := seen[rule.ID]; dup {
			return nil, fmt.Errorf("%w: rule file %s defines %s twice", models.ErrConflict, path, rule.ID)
		}
		seen[rule.ID] = struct{}{}
	}
	return file.Rules, nil
}
