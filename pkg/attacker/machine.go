package attacker

import (
	"github.com/jbarnes850/opensec-env/pkg/models"
	"github.com/jbarnes850/opensec-env/pkg/scenario"
)

// LegacyStates is the linear kill chain used when a seed carries no
// attack graph.
var LegacyStates = []string{
	"phish_sent",
	"creds_used",
	"lateral_move",
	"data_access",
	"exfil_attempt",
}

var legacyStateIndex = func() map[string]int {
	idx := make(map[string]int, len(LegacyStates))
	for i, s := range LegacyStates {
		idx[s] = i
	}
	return idx
}()

// actionStateFallback maps action kinds to their destination state when
// a graph action omits next_state, and drives legacy advancement.
var actionStateFallback = map[string]string{
	"reuse_credentials": "creds_used",
	"lateral_move":      "lateral_move",
	"lateral_move_alt":  "lateral_move",
	"access_data":       "data_access",
	"exfiltrate":        "exfil_attempt",
	"exfiltrate_alt":    "exfil_attempt",
	"send_phish":        "phish_sent",
}

// Stall reasons returned by Advance.
const (
	ReasonAdvanced                  = "advanced"
	ReasonAdvancedGraph             = "advanced_graph"
	ReasonAdvancedAction            = "advanced_action"
	ReasonTerminalState             = "terminal_state"
	ReasonNoOp                      = "no_op"
	ReasonAttackerDomainBlocked     = "attacker_domain_blocked"
	ReasonPatientZeroIsolated       = "patient_zero_isolated"
	ReasonCompromisedUserReset      = "compromised_user_reset"
	ReasonUserReset                 = "user_reset"
	ReasonNoFoothold                = "no_foothold"
	ReasonSrcHostIsolated           = "src_host_isolated"
	ReasonSrcHostUncompromised      = "src_host_uncompromised"
	ReasonNoCurrentHost             = "no_current_host"
	ReasonCurrentHostIsolated       = "current_host_isolated"
	ReasonDestinationBlocked        = "destination_blocked"
	ReasonActionRequiresUnsatisfied = "action_requires_unsatisfied"
	ReasonActionParamsMismatch      = "action_params_mismatch"
	ReasonActionNotAllowed          = "action_not_allowed"
	ReasonObjectiveStateBlocked     = "objective_state_blocked"
	ReasonObjectiveNextStateBlocked = "objective_next_state_blocked"
)

// AdvanceResult reports the outcome of one attacker transition attempt.
type AdvanceResult struct {
	NextState     string
	Stalled       bool
	Reason        string
	MatchedAction *scenario.GraphAction
}

func stall(state, reason string) AdvanceResult {
	return AdvanceResult{NextState: state, Stalled: true, Reason: reason}
}

// Advance computes the attacker's next state. With no action (or no_op)
// the legacy linear machine advances subject to scenario-level containment
// guards. With an action, action-specific containment guards apply first,
// then the attack graph (when present) is consulted: requires, then
// match_params, then objectives gate the matched transition.
func Advance(
	current string,
	containment models.ContainmentState,
	refs ScenarioRefs,
	decision *Decision,
	attackerCtx *Context,
	graph *scenario.AttackGraph,
) AdvanceResult {
	if decision == nil {
		return advanceLegacy(current, containment, refs)
	}

	actionType := decision.ActionType
	params := decision.Params
	if actionType == "" || actionType == "no_op" {
		return stall(current, ReasonNoOp)
	}

	// Containment gates the action before any graph lookup.
	switch actionType {
	case "reuse_credentials":
		if contains(containment.ResetUsers, stringParam(params, "user")) {
			return stall(current, ReasonUserReset)
		}
	case "lateral_move", "lateral_move_alt":
		if attackerCtx != nil && !attackerCtx.HasFoothold() {
			return stall(current, ReasonNoFoothold)
		}
		src := stringParam(params, "src")
		if contains(containment.IsolatedHosts, src) {
			return stall(current, ReasonSrcHostIsolated)
		}
		if attackerCtx != nil && attackerCtx.HasFoothold() && !contains(attackerCtx.CompromisedHosts, src) {
			return stall(current, ReasonSrcHostUncompromised)
		}
	case "access_data":
		if attackerCtx != nil {
			if attackerCtx.CurrentHost == "" {
				return stall(current, ReasonNoCurrentHost)
			}
			if contains(containment.IsolatedHosts, attackerCtx.CurrentHost) {
				return stall(current, ReasonCurrentHostIsolated)
			}
		}
	case "exfiltrate", "exfiltrate_alt":
		if attackerCtx != nil && attackerCtx.CurrentHost == "" {
			return stall(current, ReasonNoCurrentHost)
		}
		if contains(containment.BlockedDomains, stringParam(params, "destination_domain")) {
			return stall(current, ReasonDestinationBlocked)
		}
		if attackerCtx != nil && contains(containment.IsolatedHosts, attackerCtx.CurrentHost) {
			return stall(current, ReasonCurrentHostIsolated)
		}
	}

	if graph != nil {
		if len(graph.Objectives) > 0 && !contains(graph.Objectives, current) {
			return stall(current, ReasonObjectiveStateBlocked)
		}
		if node, ok := graph.States[current]; ok && len(node.Actions) > 0 {
			return advanceGraph(current, actionType, params, attackerCtx, graph, node)
		}
	}

	if next, ok := actionStateFallback[actionType]; ok {
		return AdvanceResult{NextState: next, Reason: ReasonAdvancedAction}
	}

	idx := legacyStateIndex[current]
	if idx >= len(LegacyStates)-1 {
		return AdvanceResult{NextState: current, Reason: ReasonTerminalState}
	}
	return AdvanceResult{NextState: LegacyStates[idx+1], Reason: ReasonAdvanced}
}

func advanceLegacy(current string, containment models.ContainmentState, refs ScenarioRefs) AdvanceResult {
	if contains(containment.BlockedDomains, refs.AttackerDomain) {
		return stall(current, ReasonAttackerDomainBlocked)
	}
	if contains(containment.IsolatedHosts, refs.PatientZeroHost) {
		return stall(current, ReasonPatientZeroIsolated)
	}
	if contains(containment.ResetUsers, refs.CompromisedUser) {
		return stall(current, ReasonCompromisedUserReset)
	}
	idx := legacyStateIndex[current]
	if idx >= len(LegacyStates)-1 {
		return AdvanceResult{NextState: current, Reason: ReasonTerminalState}
	}
	return AdvanceResult{NextState: LegacyStates[idx+1], Reason: ReasonAdvanced}
}

func advanceGraph(
	current, actionType string,
	params map[string]any,
	attackerCtx *Context,
	graph *scenario.AttackGraph,
	node scenario.GraphState,
) AdvanceResult {
	hasAction := false
	requiresFailed := false
	paramsFailed := false
	var matched *scenario.GraphAction

	for i := range node.Actions {
		action := &node.Actions[i]
		if action.ActionType != actionType {
			continue
		}
		hasAction = true
		if len(action.Requires) > 0 && !requiresSatisfied(action.Requires, attackerCtx) {
			requiresFailed = true
			continue
		}
		if !paramsMatch(params, action.MatchParams) {
			paramsFailed = true
			continue
		}
		matched = action
		break
	}

	if matched != nil {
		next := matched.NextState
		if next == "" {
			if fallback, ok := actionStateFallback[actionType]; ok {
				next = fallback
			} else {
				next = current
			}
		}
		if len(graph.Objectives) > 0 && !contains(graph.Objectives, next) {
			r := stall(current, ReasonObjectiveNextStateBlocked)
			r.MatchedAction = matched
			return r
		}
		return AdvanceResult{NextState: next, Reason: ReasonAdvancedGraph, MatchedAction: matched}
	}
	if hasAction {
		if requiresFailed {
			return stall(current, ReasonActionRequiresUnsatisfied)
		}
		if paramsFailed {
			return stall(current, ReasonActionParamsMismatch)
		}
	}
	return stall(current, ReasonActionNotAllowed)
}

// requiresSatisfied evaluates attacker-context predicates: booleans on
// has_*, exact-match or set-membership on the current_* scalars, and the
// synthetic "foothold" (any compromised host).
func requiresSatisfied(requires map[string]any, ctx *Context) bool {
	if len(requires) == 0 {
		return true
	}
	if ctx == nil {
		return false
	}
	for key, expected := range requires {
		var actual any
		switch key {
		case "foothold":
			actual = ctx.HasFoothold()
		case "has_creds":
			actual = ctx.HasCreds
		case "has_admin":
			actual = ctx.HasAdmin
		case "has_stage":
			actual = ctx.HasStage
		case "has_persistence":
			actual = ctx.HasPersistence
		case "current_host":
			actual = ctx.CurrentHost
		case "current_user":
			actual = ctx.CurrentUser
		case "current_target":
			actual = ctx.CurrentTarget
		case "current_exfil_domain":
			actual = ctx.CurrentExfilDomain
		default:
			actual = nil
		}
		if !predicateHolds(actual, expected) {
			return false
		}
	}
	return true
}

func predicateHolds(actual, expected any) bool {
	if list, ok := expected.([]any); ok {
		for _, candidate := range list {
			if valuesEqual(actual, candidate) {
				return true
			}
		}
		return false
	}
	return valuesEqual(actual, expected)
}

func valuesEqual(a, b any) bool {
	// JSON decoding yields string/bool/float64; attacker context supplies
	// string/bool. Empty-string scalars compare unequal to any non-empty
	// expectation, which is the unset case.
	if ab, ok := a.(bool); ok {
		bb, ok := b.(bool)
		return ok && ab == bb
	}
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		return ok && as == bs
	}
	return a == b
}

// paramsMatch reports whether want is a subset of got.
func paramsMatch(got, want map[string]any) bool {
	for k, v := range want {
		if !valuesEqual(got[k], v) {
			return false
		}
	}
	return true
}

// ApplyDecision mutates the attacker context after a non-stalled
// transition. Graph mode merges the matched action's effects; legacy mode
// applies a fixed per-action-kind update.
func ApplyDecision(ctx *Context, decision *Decision, effects map[string]any) {
	if ctx == nil || decision == nil {
		return
	}
	if len(effects) > 0 {
		applyEffects(ctx, effects)
		if (decision.ActionType == "exfiltrate" || decision.ActionType == "exfiltrate_alt") &&
			ctx.CurrentExfilDomain == "" {
			ctx.CurrentExfilDomain = stringParam(decision.Params, "destination_domain")
		}
		return
	}
	switch decision.ActionType {
	case "reuse_credentials":
		ctx.RecordUser(stringParam(decision.Params, "user"))
		ctx.RecordHost(stringParam(decision.Params, "host"))
		ctx.HasCreds = true
	case "lateral_move", "lateral_move_alt":
		ctx.RecordHost(stringParam(decision.Params, "dst"))
		ctx.HasAdmin = true
	case "access_data":
		ctx.CurrentTarget = stringParam(decision.Params, "target")
		ctx.HasStage = true
	case "exfiltrate", "exfiltrate_alt":
		ctx.CurrentExfilDomain = stringParam(decision.Params, "destination_domain")
	case "establish_persistence":
		ctx.HasPersistence = true
	}
}

func applyEffects(ctx *Context, effects map[string]any) {
	if v, ok := effects["has_creds"]; ok {
		ctx.HasCreds = truthy(v)
	}
	if v, ok := effects["has_admin"]; ok {
		ctx.HasAdmin = truthy(v)
	}
	if v, ok := effects["has_stage"]; ok {
		ctx.HasStage = truthy(v)
	}
	if v, ok := effects["has_persistence"]; ok {
		ctx.HasPersistence = truthy(v)
	}
	for _, key := range []string{"compromise_host", "current_host", "set_current_host"} {
		if host, _ := effects[key].(string); host != "" {
			ctx.RecordHost(host)
			break
		}
	}
	for _, key := range []string{"compromise_user", "current_user", "set_current_user"} {
		if user, _ := effects[key].(string); user != "" {
			ctx.RecordUser(user)
			break
		}
	}
	if v, ok := effects["current_target"]; ok {
		ctx.CurrentTarget, _ = v.(string)
	}
	if v, ok := effects["current_exfil_domain"]; ok {
		ctx.CurrentExfilDomain, _ = v.(string)
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != "" && t != "false" && t != "0"
	default:
		return v != nil
	}
}

func stringParam(params map[string]any, key string) string {
	if params == nil {
		return ""
	}
	v, _ := params[key].(string)
	return v
}
