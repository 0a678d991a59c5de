package risk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/aegis/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// MockDeviceLookup implements DeviceLookup for testing
type MockDeviceLookup struct {
	GetFingerprintFunc func(ctx context.Context, fingerprint string) (*models.DeviceFingerprint, error)
}

func (m *MockDeviceLookup) GetFingerprint(ctx context.Context, fingerprint string) (*models.DeviceFingerprint, error) {
	if m.GetFingerprintFunc != nil {
		return m.GetFingerprintFunc(ctx, fingerprint)
	}
	return nil, models.ErrNotFound
}

func newEngine(t *testing.T, rules ...models.RiskRule) *Engine {
	t.Helper()
	rs, err := NewRuleSet(rules)
	require.NoError(t, err)
	return NewEngine(rs, EngineConfig{}, discardLogger())
}

func bruteForceRule() models.RiskRule {
	for _, r := range DefaultRules() {
		if r.ID == "login_002" {
			return r
		}
	}
	panic("login_002 missing from defaults")
}

func TestAssessRisk_BruteForceScenario(t *testing.T) {
	engine := newEngine(t, bruteForceRule())

	got := engine.AssessRisk(context.Background(), models.RuleTypeLogin, map[string]interface{}{"failed_attempts_5m": 5})

	assert.Equal(t, models.RiskActionBlock, got.Action)
	assert.Equal(t, models.RiskLevelCritical, got.RiskLevel)
	assert.Equal(t, 1.0, got.RiskScore)
	require.Len(t, got.TriggeredRules, 1)
	assert.Equal(t, "login_002", got.TriggeredRules[0].RuleID)
	assert.Equal(t, "暴力破解检测", got.Reason)
	assert.NotEmpty(t, got.ID)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestAssessRisk_DefaultRulesBlockBruteForce(t *testing.T) {
	rs, err := NewRuleSet(DefaultRules())
	require.NoError(t, err)
	engine := NewEngine(rs, EngineConfig{}, discardLogger())

	got := engine.AssessRisk(context.Background(), models.RuleTypeLogin, map[string]interface{}{"failed_attempts_5m": 7})

	assert.Equal(t, models.RiskActionBlock, got.Action)
	assert.Greater(t, got.RiskScore, 0.0)
	assert.LessOrEqual(t, got.RiskScore, 1.0)
}

func TestAssessRisk_NoMatchAllows(t *testing.T) {
	rs, err := NewRuleSet(DefaultRules())
	require.NoError(t, err)
	engine := NewEngine(rs, EngineConfig{}, discardLogger())

	contexts := []map[string]interface{}{
		nil,
		{},
		{"failed_attempts_5m": 0, "failed_attempts_1h": 0, "login_hour": 14, "new_location": false},
		{"unrelated": map[string]interface{}{"deep": []interface{}{1, 2}}},
	}
	for i, evalCtx := range contexts {
		got := engine.AssessRisk(context.Background(), models.RuleTypeLogin, evalCtx)
		assert.Equal(t, 0.0, got.RiskScore, "context %d", i)
		assert.Equal(t, models.RiskLevelLow, got.RiskLevel, "context %d", i)
		assert.Equal(t, models.RiskActionAllow, got.Action, "context %d", i)
		assert.Equal(t, NoRiskReason, got.Reason, "context %d", i)
		assert.Empty(t, got.TriggeredRules, "context %d", i)
	}
}

func TestAssessRisk_NoApplicableRules(t *testing.T) {
	engine := newEngine(t, bruteForceRule())

	got := engine.AssessRisk(context.Background(), models.RuleTypeBehavior, map[string]interface{}{"failed_attempts_5m": 100})

	assert.Equal(t, 0.0, got.RiskScore)
	assert.Equal(t, models.RiskActionAllow, got.Action)
}

func TestAssessRisk_DisabledRulesIgnored(t *testing.T) {
	engine := newEngine(t, bruteForceRule())
	require.True(t, engine.DisableRule("login_002"))

	got := engine.AssessRisk(context.Background(), models.RuleTypeLogin, map[string]interface{}{"failed_attempts_5m": 50})

	assert.Empty(t, got.TriggeredRules)
	assert.Equal(t, 0.0, got.RiskScore)
	assert.Equal(t, models.RiskActionAllow, got.Action)

	require.True(t, engine.EnableRule("login_002"))
	got = engine.AssessRisk(context.Background(), models.RuleTypeLogin, map[string]interface{}{"failed_attempts_5m": 50})
	assert.Equal(t, models.RiskActionBlock, got.Action)
}

func TestAssessRisk_DeclaredBlockWinsOverLowScore(t *testing.T) {
	block := models.RiskRule{
		ID: "tiny", Name: "tiny", Type: models.RuleTypeBehavior, Enabled: true,
		Conditions: []models.Condition{{Field: "flag", Operator: models.OpEq, Value: true, Weight: 0.1}},
		Action:     models.RiskActionBlock,
		Threshold:  0.1,
	}
	heavy := models.RiskRule{
		ID: "heavy", Name: "heavy", Type: models.RuleTypeBehavior, Enabled: true,
		Conditions: []models.Condition{{Field: "other", Operator: models.OpEq, Value: true, Weight: 1}},
		Action:     models.RiskActionReview,
		Threshold:  1,
	}
	engine := newEngine(t, block, heavy)

	got := engine.AssessRisk(context.Background(), models.RuleTypeBehavior, map[string]interface{}{"flag": true})

	assert.Equal(t, models.RiskActionBlock, got.Action)
	assert.InDelta(t, 0.1/1.1, got.RiskScore, 0.0001)
	assert.Equal(t, models.RiskLevelLow, got.RiskLevel)
}

func TestAssessRisk_ActionPrecedence(t *testing.T) {
	mk := func(id string, action models.RiskAction) models.RiskRule {
		return models.RiskRule{
			ID: id, Name: id, Type: models.RuleTypeLogin, Enabled: true,
			Conditions: []models.Condition{{Field: id, Operator: models.OpEq, Value: true, Weight: 1}},
			Action:     action,
			Threshold:  1,
		}
	}
	engine := newEngine(t,
		mk("r_review", models.RiskActionReview),
		mk("r_challenge", models.RiskActionChallenge),
		mk("r_allow", models.RiskActionAllow),
	)

	got := engine.AssessRisk(context.Background(), models.RuleTypeLogin, map[string]interface{}{"r_review": true, "r_challenge": true})
	assert.Equal(t, models.RiskActionChallenge, got.Action)

	got = engine.AssessRisk(context.Background(), models.RuleTypeLogin, map[string]interface{}{"r_review": true})
	assert.Equal(t, models.RiskActionReview, got.Action)

	// allow carries no precedence, so the score fallback decides: 1/3 >= 0.3
	got = engine.AssessRisk(context.Background(), models.RuleTypeLogin, map[string]interface{}{"r_allow": true, "r_review": false, "r_challenge": false})
	assert.Equal(t, models.RiskActionReview, got.Action)
	assert.Equal(t, "r_allow", got.Reason)
}

func TestResolveAction_ScoreFallback(t *testing.T) {
	assert.Equal(t, models.RiskActionBlock, resolveAction(nil, 0.8))
	assert.Equal(t, models.RiskActionChallenge, resolveAction(nil, 0.5))
	assert.Equal(t, models.RiskActionReview, resolveAction(nil, 0.3))
	assert.Equal(t, models.RiskActionAllow, resolveAction(nil, 0.29))

	allowOnly := []models.TriggeredRule{{Action: models.RiskActionAllow}}
	assert.Equal(t, models.RiskActionChallenge, resolveAction(allowOnly, 0.6))
}

func TestAssessRisk_PartialMatchBelowThreshold(t *testing.T) {
	rule := models.RiskRule{
		ID: "geo", Name: "异地登录检测", Type: models.RuleTypeLogin, Enabled: true,
		Conditions: []models.Condition{
			{Field: "location_distance_km", Operator: models.OpGt, Value: 500, Weight: 0.6},
			{Field: "new_location", Operator: models.OpEq, Value: true, Weight: 0.4},
		},
		Action:    models.RiskActionChallenge,
		Threshold: 0.6,
	}
	engine := newEngine(t, rule)

	got := engine.AssessRisk(context.Background(), models.RuleTypeLogin, map[string]interface{}{"new_location": true})
	assert.Empty(t, got.TriggeredRules)
	assert.Equal(t, models.RiskActionAllow, got.Action)

	got = engine.AssessRisk(context.Background(), models.RuleTypeLogin, map[string]interface{}{"location_distance_km": 900, "new_location": true})
	require.Len(t, got.TriggeredRules, 1)
	assert.Equal(t, 1.0, got.TriggeredRules[0].Score)
	assert.Len(t, got.TriggeredRules[0].MatchedConditions, 2)
	assert.Equal(t, 1.0, got.RiskScore)
}

func TestAssessRisk_ReasonJoinsNamesByPriority(t *testing.T) {
	low := testRule("low", models.RuleTypeLogin, 1)
	low.Name = "Low"
	high := testRule("high", models.RuleTypeLogin, 9)
	high.Name = "High"
	engine := newEngine(t, low, high)

	got := engine.AssessRisk(context.Background(), models.RuleTypeLogin, map[string]interface{}{"x": 1})
	assert.Equal(t, "High, Low", got.Reason)
}

func TestAssessRisk_ScoreAlwaysInRange(t *testing.T) {
	rs, err := NewRuleSet(DefaultRules())
	require.NoError(t, err)
	engine := NewEngine(rs, EngineConfig{}, discardLogger())

	everything := map[string]interface{}{
		"failed_attempts_5m": 99, "failed_attempts_1h": 99, "location_distance_km": 9999,
		"new_location": true, "login_hour": 3, "ip_registration_count_1h": 50,
		"email_domain": "mailinator.com", "form_fill_time_ms": 10, "accounts_per_device": 20,
		"actions_per_minute": 500, "user_agent": "curl/8", "export_count_1h": 50,
		"resource": "admin_users", "permission_denied_count_10m": 50, "role": "user",
		"device": map[string]interface{}{"risk_score": 1.0, "blocked": true, "trusted": false, "known": false},
	}
	for _, rt := range models.RuleTypes {
		got := engine.AssessRisk(context.Background(), rt, everything)
		assert.GreaterOrEqual(t, got.RiskScore, 0.0, "type %s", rt)
		assert.LessOrEqual(t, got.RiskScore, 1.0, "type %s", rt)
		assert.Equal(t, models.RiskActionBlock, got.Action, "type %s", rt)
	}
}

func TestAssessRisk_DoesNotMutateContext(t *testing.T) {
	devices := &MockDeviceLookup{
		GetFingerprintFunc: func(ctx context.Context, fp string) (*models.DeviceFingerprint, error) {
			return &models.DeviceFingerprint{Fingerprint: fp, RiskScore: 0.9}, nil
		},
	}
	rs, err := NewRuleSet(DefaultRules())
	require.NoError(t, err)
	engine := NewEngine(rs, EngineConfig{Devices: devices}, discardLogger())

	evalCtx := map[string]interface{}{"accounts_per_device": 1}
	engine.AssessRisk(context.Background(), models.RuleTypeDevice, evalCtx, WithDeviceFingerprint("fp1"))

	assert.Len(t, evalCtx, 1)
	assert.NotContains(t, evalCtx, "device")
}

func TestAssessRisk_DeviceContribution(t *testing.T) {
	devices := &MockDeviceLookup{
		GetFingerprintFunc: func(ctx context.Context, fp string) (*models.DeviceFingerprint, error) {
			switch fp {
			case "bot":
				return &models.DeviceFingerprint{Fingerprint: fp, RiskScore: 1.0, SeenCount: 1}, nil
			case "broken":
				return nil, errors.New("store down")
			}
			return nil, models.ErrNotFound
		},
	}
	rs, err := NewRuleSet(DefaultRules())
	require.NoError(t, err)
	engine := NewEngine(rs, EngineConfig{Devices: devices}, discardLogger())

	got := engine.AssessRisk(context.Background(), models.RuleTypeDevice, nil, WithDeviceFingerprint("bot"))
	assert.Equal(t, models.RiskActionBlock, got.Action)
	assert.Equal(t, "bot", got.DeviceFingerprint)

	got = engine.AssessRisk(context.Background(), models.RuleTypeLogin, map[string]interface{}{"failed_attempts_1h": 3}, WithDeviceFingerprint("unseen"))
	assert.Equal(t, models.RiskActionReview, got.Action)
	assert.Equal(t, "新设备登录", got.Reason)

	got = engine.AssessRisk(context.Background(), models.RuleTypeDevice, nil, WithDeviceFingerprint("broken"))
	assert.Equal(t, models.RiskActionAllow, got.Action)

	// Caller-supplied device fields take precedence over the lookup
	got = engine.AssessRisk(context.Background(), models.RuleTypeDevice,
		map[string]interface{}{"device": map[string]interface{}{"risk_score": 0.1}},
		WithDeviceFingerprint("bot"))
	assert.Equal(t, models.RiskActionAllow, got.Action)
}

func TestAssessRisk_RecordsRequestDetails(t *testing.T) {
	engine := newEngine(t, bruteForceRule())

	got := engine.AssessRisk(context.Background(), models.RuleTypeLogin, nil,
		WithUserID("u1"),
		WithRequestInfo("203.0.113.9", "Mozilla/5.0"),
		WithLocation("Berlin"),
		WithMetadata(models.Metadata{"source": "test"}),
	)

	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "203.0.113.9", got.IPAddress)
	assert.Equal(t, "Mozilla/5.0", got.UserAgent)
	assert.Equal(t, "Berlin", got.Location)
	assert.Equal(t, "test", got.Metadata["source"])
}

func TestHistory_OnlyWithUserAndCapped(t *testing.T) {
	rs, err := NewRuleSet([]models.RiskRule{bruteForceRule()})
	require.NoError(t, err)
	engine := NewEngine(rs, EngineConfig{HistoryLimit: 100}, discardLogger())
	ctx := context.Background()

	engine.AssessRisk(ctx, models.RuleTypeLogin, nil)
	assert.Empty(t, engine.GetUserRiskHistory(""))

	var ids []string
	for i := 0; i < 105; i++ {
		a := engine.AssessRisk(ctx, models.RuleTypeLogin, map[string]interface{}{"n": i}, WithUserID("u1"))
		ids = append(ids, a.ID)
	}

	history := engine.GetUserRiskHistory("u1")
	require.Len(t, history, 100)
	assert.Equal(t, ids[5], history[0].ID)
	assert.Equal(t, ids[104], history[99].ID)

	history[0] = nil
	assert.NotNil(t, engine.GetUserRiskHistory("u1")[0])
	assert.Empty(t, engine.GetUserRiskHistory("u2"))
}

func TestHistory_DefaultLimit(t *testing.T) {
	engine := newEngine(t, bruteForceRule())
	for i := 0; i < DefaultHistoryLimit+1; i++ {
		engine.AssessRisk(context.Background(), models.RuleTypeLogin, nil, WithUserID("u"))
	}
	assert.Len(t, engine.GetUserRiskHistory("u"), DefaultHistoryLimit)
}

func TestAddRule(t *testing.T) {
	engine := newEngine(t, bruteForceRule())

	require.NoError(t, engine.AddRule(testRule("custom", models.RuleTypeLogin, 5)))
	assert.ErrorIs(t, engine.AddRule(testRule("custom", models.RuleTypeLogin, 5)), models.ErrConflict)

	invalid := testRule("invalid", models.RuleTypeLogin, 5)
	invalid.Conditions = nil
	assert.ErrorIs(t, engine.AddRule(invalid), models.ErrInvalidRule)

	assert.Len(t, engine.GetRules(), 2)
}

func TestUpdateRule(t *testing.T) {
	engine := newEngine(t, bruteForceRule())

	threshold := 0.5
	name := "renamed"
	assert.True(t, engine.UpdateRule("login_002", models.RiskRulePatch{Threshold: &threshold, Name: &name}))

	rule, ok := engine.GetRule("login_002")
	require.True(t, ok)
	assert.Equal(t, 0.5, rule.Threshold)
	assert.Equal(t, "renamed", rule.Name)
	assert.Equal(t, models.RuleTypeLogin, rule.Type)

	tooHigh := 1.0
	weight := []models.Condition{{Field: "x", Operator: models.OpEq, Value: 1, Weight: 0.2}}
	assert.False(t, engine.UpdateRule("login_002", models.RiskRulePatch{Threshold: &tooHigh, Conditions: weight}))

	assert.False(t, engine.UpdateRule("missing", models.RiskRulePatch{Name: &name}))
	assert.False(t, engine.EnableRule("missing"))
	assert.False(t, engine.DisableRule("missing"))
}

func TestGetRuleStats(t *testing.T) {
	engine := newEngine(t,
		testRule("login_a", models.RuleTypeLogin, 1),
		testRule("login_b", models.RuleTypeLogin, 1),
		testRule("device_a", models.RuleTypeDevice, 1),
	)
	require.True(t, engine.DisableRule("login_b"))

	stats := engine.GetRuleStats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Enabled)
	assert.Equal(t, 1, stats.Disabled)
	assert.Equal(t, models.TypeCount{Total: 2, Enabled: 1}, stats.ByType[models.RuleTypeLogin])
	assert.Equal(t, models.TypeCount{Total: 1, Enabled: 1}, stats.ByType[models.RuleTypeDevice])
	assert.Equal(t, models.TypeCount{}, stats.ByType[models.RuleTypeBehavior])
}

func TestEngine_ConcurrentUse(t *testing.T) {
	rs, err := NewRuleSet(DefaultRules())
	require.NoError(t, err)
	engine := NewEngine(rs, EngineConfig{}, discardLogger())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("u%d", i%4)
			for j := 0; j < 50; j++ {
				engine.AssessRisk(context.Background(), models.RuleTypeLogin, map[string]interface{}{"failed_attempts_5m": j}, WithUserID(user))
				if j%10 == 0 {
					engine.DisableRule("login_001")
					engine.EnableRule("login_001")
				}
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 4; i++ {
		assert.Len(t, engine.GetUserRiskHistory(fmt.Sprintf("u%d", i)), 100)
	}
}
