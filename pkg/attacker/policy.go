package attacker

import (
	"context"

	"github.com/jbarnes850/opensec-env/pkg/models"
	"github.com/jbarnes850/opensec-env/pkg/scenario"
)

// Decision is one attacker action chosen by a policy.
type Decision struct {
	ActionType  string         `json:"action_type"`
	Params      map[string]any `json:"params"`
	Rationale   string         `json:"rationale,omitempty"`
	EvidenceIDs []string       `json:"evidence_ids,omitempty"`
	PolicyTags  []string       `json:"policy_tags,omitempty"`
}

// NoOp is the decision substituted for invalid or missing policy output
// in permissive mode.
func NoOp() Decision {
	return Decision{ActionType: "no_op", Params: map[string]any{}}
}

// Policy chooses one attacker action per step. Implementations may be
// stochastic; determinism across runs comes from the replay cache, not
// from the policy itself. The policy receives snapshots only and must not
// retain or mutate its arguments.
type Policy interface {
	ChooseAction(
		ctx context.Context,
		sc *scenario.Scenario,
		attackerState string,
		defenderAction models.AgentAction,
		policyCtx map[string]any,
	) (Decision, error)
}

// MockPolicy is the deterministic fallback: it walks the sample kill
// chain using the first available entities, steering around containment
// when the policy context lists available assets.
type MockPolicy struct{}

// ChooseAction implements Policy.
func (MockPolicy) ChooseAction(
	_ context.Context,
	sc *scenario.Scenario,
	attackerState string,
	_ models.AgentAction,
	policyCtx map[string]any,
) (Decision, error) {
	user := firstAvailable(policyCtx, "available_users", sc.UserIDs())
	host := firstAvailable(policyCtx, "available_hosts", sc.HostIDs())
	dstHost := secondAvailable(policyCtx, "available_hosts", sc.HostIDs(), host)
	target := first(sc.TargetIDs())
	domain := firstAvailable(policyCtx, "available_attacker_domains", sc.AttackerDomains())

	switch attackerState {
	case "phish_sent":
		return Decision{ActionType: "reuse_credentials", Params: map[string]any{"user": user, "host": host}}, nil
	case "recon":
		return Decision{ActionType: "send_phish", Params: map[string]any{"target_user": user}}, nil
	case "access":
		return Decision{ActionType: "reuse_credentials", Params: map[string]any{"user": user, "host": host}}, nil
	case "persistence":
		return Decision{ActionType: "establish_persistence", Params: map[string]any{"host": host}}, nil
	case "lateral_spread":
		return Decision{ActionType: "lateral_move", Params: map[string]any{"src": host, "dst": dstHost}}, nil
	case "staging":
		return Decision{ActionType: "stage_data", Params: map[string]any{"target": target, "host": host}}, nil
	case "exfil", "data_access":
		return Decision{ActionType: "exfiltrate", Params: map[string]any{"channel": "https", "destination_domain": domain}}, nil
	case "creds_used":
		return Decision{ActionType: "lateral_move", Params: map[string]any{"src": host, "dst": dstHost}}, nil
	case "lateral_move":
		return Decision{ActionType: "access_data", Params: map[string]any{"target": target}}, nil
	}
	return NoOp(), nil
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

func firstAvailable(policyCtx map[string]any, key string, fallback []string) string {
	if vals := stringSlice(policyCtx, key); len(vals) > 0 {
		return vals[0]
	}
	return first(fallback)
}

func secondAvailable(policyCtx map[string]any, key string, fallback []string, current string) string {
	if vals := stringSlice(policyCtx, key); len(vals) > 1 {
		return vals[1]
	}
	if len(fallback) > 1 {
		return fallback[1]
	}
	return current
}

func stringSlice(m map[string]any, key string) []string {
	if m == nil {
		return nil
	}
	switch v := m[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
