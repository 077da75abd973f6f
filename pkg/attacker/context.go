// Package attacker implements the red side of an episode: the guarded
// kill-chain state machine and the policy that picks one attacker action
// per defender step.
package attacker

// Context is the attacker's accumulated position: footholds, credentials,
// and the assets currently in play. It is mutated only by applying a
// matched action's effects (graph mode) or the legacy per-action table.
type Context struct {
	CurrentHost        string   `json:"current_host,omitempty"`
	CurrentUser        string   `json:"current_user,omitempty"`
	CurrentTarget      string   `json:"current_target,omitempty"`
	CurrentExfilDomain string   `json:"current_exfil_domain,omitempty"`
	CompromisedHosts   []string `json:"compromised_hosts"`
	CompromisedUsers   []string `json:"compromised_users"`
	HasCreds           bool     `json:"has_creds"`
	HasAdmin           bool     `json:"has_admin"`
	HasStage           bool     `json:"has_stage"`
	HasPersistence     bool     `json:"has_persistence"`
}

// RecordHost marks a host compromised and current.
func (c *Context) RecordHost(hostID string) {
	if hostID == "" {
		return
	}
	if !contains(c.CompromisedHosts, hostID) {
		c.CompromisedHosts = append(c.CompromisedHosts, hostID)
	}
	c.CurrentHost = hostID
}

// RecordUser marks a user compromised and current.
func (c *Context) RecordUser(userID string) {
	if userID == "" {
		return
	}
	if !contains(c.CompromisedUsers, userID) {
		c.CompromisedUsers = append(c.CompromisedUsers, userID)
	}
	c.CurrentUser = userID
}

// HasFoothold reports whether the attacker holds any compromised host.
func (c *Context) HasFoothold() bool {
	return len(c.CompromisedHosts) > 0
}

// ScenarioRefs are the distinguished scenario references the legacy
// containment guards check against.
type ScenarioRefs struct {
	AttackerDomain  string
	PatientZeroHost string
	CompromisedUser string
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
