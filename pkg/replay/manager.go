package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jbarnes850/opensec-env/pkg/attacker"
	"github.com/jbarnes850/opensec-env/pkg/models"
	"github.com/jbarnes850/opensec-env/pkg/scenario"
)

// Replay cache modes.
const (
	ModeOff    = "off"
	ModeRecord = "record"
	ModeReplay = "replay"
)

// Manager wraps a policy with the replay cache and decision validation.
// In replay mode a cache hit short-circuits the policy entirely; a miss
// falls through to the policy and is recorded, so a partially recorded
// episode keeps extending its cache.
type Manager struct {
	Cache       *Cache
	Mode        string
	Strict      bool
	Model       string
	Temperature float64
	Logger      *slog.Logger
}

// Decide resolves one attacker decision for the current episode
// position. Invalid policy output becomes no_op unless strict mode is
// on, in which case the episode fails loudly.
func (m *Manager) Decide(
	ctx context.Context,
	policy attacker.Policy,
	sc *scenario.Scenario,
	step int,
	attackerState string,
	defenderAction models.AgentAction,
	policyCtx map[string]any,
) (attacker.Decision, error) {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}

	actionHash, err := HashAction(defenderAction)
	if err != nil {
		return attacker.Decision{}, fmt.Errorf("failed to hash defender action: %w", err)
	}
	contextHash, err := HashContext(policyCtx)
	if err != nil {
		return attacker.Decision{}, fmt.Errorf("failed to hash policy context: %w", err)
	}

	if m.Cache != nil && m.Mode == ModeReplay {
		cached, err := m.Cache.Get(sc.ScenarioID, step, attackerState, actionHash, contextHash)
		if err != nil {
			return attacker.Decision{}, err
		}
		if cached != nil {
			logger.Debug("replay cache hit",
				"scenario_id", sc.ScenarioID, "step", step, "attacker_state", attackerState)
			return decisionFromMap(cached)
		}
	}

	decision, err := policy.ChooseAction(ctx, sc, attackerState, defenderAction, policyCtx)
	if err != nil {
		return attacker.Decision{}, err
	}

	if !attacker.IsValidDecision(decision, sc, attackerState) {
		if m.Strict {
			return attacker.Decision{}, fmt.Errorf(
				"attacker produced invalid action %q in state %q", decision.ActionType, attackerState)
		}
		logger.Warn("invalid attacker action, substituting no_op",
			"action_type", decision.ActionType, "attacker_state", attackerState)
		decision = attacker.NoOp()
	}

	if m.Cache != nil && (m.Mode == ModeRecord || m.Mode == ModeReplay) {
		if err := m.Cache.Put(
			sc.ScenarioID, step, attackerState, actionHash, contextHash,
			decisionToMap(decision), m.Model, m.Temperature,
		); err != nil {
			return attacker.Decision{}, err
		}
	}
	return decision, nil
}

func decisionToMap(d attacker.Decision) map[string]any {
	out := map[string]any{
		"action_type": d.ActionType,
		"params":      d.Params,
	}
	if out["params"] == nil {
		out["params"] = map[string]any{}
	}
	if d.Rationale != "" {
		out["rationale"] = d.Rationale
	}
	if len(d.EvidenceIDs) > 0 {
		out["evidence_ids"] = d.EvidenceIDs
	}
	if len(d.PolicyTags) > 0 {
		out["policy_tags"] = d.PolicyTags
	}
	return out
}

func decisionFromMap(m map[string]any) (attacker.Decision, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return attacker.Decision{}, fmt.Errorf("failed to encode cached decision: %w", err)
	}
	var d attacker.Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		return attacker.Decision{}, fmt.Errorf("failed to decode cached decision: %w", err)
	}
	if d.Params == nil {
		d.Params = map[string]any{}
	}
	return d, nil
}
