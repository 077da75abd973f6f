package replay

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbarnes850/opensec-env/pkg/attacker"
	"github.com/jbarnes850/opensec-env/pkg/models"
	"github.com/jbarnes850/opensec-env/pkg/scenario"
)

type scriptedPolicy struct {
	decision attacker.Decision
	calls    int
}

func (p *scriptedPolicy) ChooseAction(
	_ context.Context, _ *scenario.Scenario, _ string, _ models.AgentAction, _ map[string]any,
) (attacker.Decision, error) {
	p.calls++
	return p.decision, nil
}

func managerScenario() *scenario.Scenario {
	return &scenario.Scenario{
		ScenarioID: "seed-001",
		Entities: scenario.Entities{
			Hosts:   []scenario.Host{{HostID: "h-001"}, {HostID: "h-002"}},
			Users:   []scenario.User{{UserID: "u-001"}},
			Domains: []scenario.Domain{{Domain: "evil-mail.com", DomainType: "attacker"}},
		},
	}
}

func testCache(t *testing.T) *Cache {
	t.Helper()
	cache, err := OpenCache(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func TestManagerRecordWritesCache(t *testing.T) {
	cache := testCache(t)
	policy := &scriptedPolicy{decision: attacker.Decision{
		ActionType: "reuse_credentials",
		Params:     map[string]any{"user": "u-001", "host": "h-001"},
	}}
	m := &Manager{Cache: cache, Mode: ModeRecord, Model: "mock"}
	sc := managerScenario()
	action := models.AgentAction{ActionType: "query_logs", Params: map[string]any{}}

	d, err := m.Decide(context.Background(), policy, sc, 0, "phish_sent", action, nil)
	require.NoError(t, err)
	assert.Equal(t, "reuse_credentials", d.ActionType)
	assert.Equal(t, 1, policy.calls)

	actionHash, err := HashAction(action)
	require.NoError(t, err)
	cached, err := cache.Get("seed-001", 0, "phish_sent", actionHash, "none")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "reuse_credentials", cached["action_type"])
}

func TestManagerReplayHitSkipsPolicy(t *testing.T) {
	cache := testCache(t)
	policy := &scriptedPolicy{decision: attacker.Decision{
		ActionType: "reuse_credentials",
		Params:     map[string]any{"user": "u-001", "host": "h-001"},
	}}
	sc := managerScenario()
	action := models.AgentAction{ActionType: "query_logs", Params: map[string]any{}}

	recorder := &Manager{Cache: cache, Mode: ModeRecord, Model: "mock"}
	_, err := recorder.Decide(context.Background(), policy, sc, 0, "phish_sent", action, nil)
	require.NoError(t, err)

	replayer := &Manager{Cache: cache, Mode: ModeReplay, Model: "mock"}
	d, err := replayer.Decide(context.Background(), policy, sc, 0, "phish_sent", action, nil)
	require.NoError(t, err)
	assert.Equal(t, "reuse_credentials", d.ActionType)
	assert.Equal(t, "h-001", d.Params["host"])
	assert.Equal(t, 1, policy.calls, "replay hit must not call the policy")
}

func TestManagerReplayMissFallsThroughAndRecords(t *testing.T) {
	cache := testCache(t)
	policy := &scriptedPolicy{decision: attacker.Decision{
		ActionType: "reuse_credentials",
		Params:     map[string]any{"user": "u-001", "host": "h-001"},
	}}
	m := &Manager{Cache: cache, Mode: ModeReplay, Model: "mock"}
	sc := managerScenario()
	action := models.AgentAction{ActionType: "query_logs", Params: map[string]any{}}

	d, err := m.Decide(context.Background(), policy, sc, 3, "phish_sent", action, nil)
	require.NoError(t, err)
	assert.Equal(t, "reuse_credentials", d.ActionType)
	assert.Equal(t, 1, policy.calls)

	// The miss was recorded; a second call replays without the policy.
	_, err = m.Decide(context.Background(), policy, sc, 3, "phish_sent", action, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, policy.calls)
}

func TestManagerInvalidDecisionBecomesNoOp(t *testing.T) {
	policy := &scriptedPolicy{decision: attacker.Decision{
		ActionType: "exfiltrate",
		Params:     map[string]any{"destination_domain": "evil-mail.com"},
	}}
	m := &Manager{Mode: ModeOff, Model: "mock"}

	d, err := m.Decide(context.Background(), policy, managerScenario(), 0, "phish_sent",
		models.AgentAction{ActionType: "query_logs"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "no_op", d.ActionType)
}

func TestManagerStrictRejectsInvalidDecision(t *testing.T) {
	policy := &scriptedPolicy{decision: attacker.Decision{
		ActionType: "exfiltrate",
		Params:     map[string]any{"destination_domain": "evil-mail.com"},
	}}
	m := &Manager{Mode: ModeOff, Strict: true, Model: "mock"}

	_, err := m.Decide(context.Background(), policy, managerScenario(), 0, "phish_sent",
		models.AgentAction{ActionType: "query_logs"}, nil)
	assert.Error(t, err)
}

func TestManagerContextChangesKey(t *testing.T) {
	cache := testCache(t)
	policy := &scriptedPolicy{decision: attacker.Decision{
		ActionType: "reuse_credentials",
		Params:     map[string]any{"user": "u-001", "host": "h-001"},
	}}
	m := &Manager{Cache: cache, Mode: ModeReplay, Model: "mock"}
	sc := managerScenario()
	action := models.AgentAction{ActionType: "query_logs", Params: map[string]any{}}

	_, err := m.Decide(context.Background(), policy, sc, 0, "phish_sent", action,
		map[string]any{"step": 0, "containment": map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, 1, policy.calls)

	// Different policy context misses the cache even at the same step.
	_, err = m.Decide(context.Background(), policy, sc, 0, "phish_sent", action,
		map[string]any{"step": 0, "containment": map[string]any{"isolated_hosts": []any{"h-001"}}})
	require.NoError(t, err)
	assert.Equal(t, 2, policy.calls)
}
