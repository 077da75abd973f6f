package attacker

import "github.com/jbarnes850/opensec-env/pkg/scenario"

// IsValidDecision checks a policy decision against the state's allowed
// actions and the scenario's entity inventory. no_op is never valid
// output from a policy; the manager substitutes it deliberately.
func IsValidDecision(d Decision, sc *scenario.Scenario, attackerState string) bool {
	if d.ActionType == "" || d.ActionType == "no_op" {
		return false
	}
	allowed := false
	for _, a := range AllowedActionsForState(sc, attackerState) {
		if a == d.ActionType {
			allowed = true
			break
		}
	}
	if !allowed {
		return false
	}

	users := toSet(sc.UserIDs())
	hosts := toSet(sc.HostIDs())
	targets := toSet(sc.TargetIDs())
	domains := toSet(sc.Domains())
	param := func(key string) string { return stringParam(d.Params, key) }

	switch d.ActionType {
	case "send_phish", "rephish":
		return users[param("target_user")]
	case "recon", "wait", "retreat":
		return true
	case "reuse_credentials":
		return users[param("user")] && hosts[param("host")]
	case "lateral_move", "lateral_move_alt", "lateral_spread", "pivot":
		return hosts[param("src")] && hosts[param("dst")]
	case "access_data":
		return targets[param("target")]
	case "stage_data":
		if t := param("target"); t != "" && !targets[t] {
			return false
		}
		if h := param("host"); h != "" && !hosts[h] {
			return false
		}
		return true
	case "establish_persistence":
		if h := param("host"); h != "" {
			return hosts[h]
		}
		return true
	case "exfiltrate", "exfiltrate_alt":
		return domains[param("destination_domain")]
	}
	return false
}

func toSet(vals []string) map[string]bool {
	set := make(map[string]bool, len(vals))
	for _, v := range vals {
		set[v] = true
	}
	return set
}
