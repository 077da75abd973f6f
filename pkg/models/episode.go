// Package models defines the wire types shared between the episode
// controller, the HTTP API, and the oracle.
package models

// AgentAction is a single defender action submitted to /step.
type AgentAction struct {
	ActionType string         `json:"action_type"`
	Params     map[string]any `json:"params"`
}

// Param returns the named string param, or "" when absent or non-string.
func (a AgentAction) Param(key string) string {
	if a.Params == nil {
		return ""
	}
	v, _ := a.Params[key].(string)
	return v
}

// ContainmentState tracks executed containment. The three sets are
// append-only and duplicate-free for the lifetime of an episode.
type ContainmentState struct {
	IsolatedHosts  []string `json:"isolated_hosts"`
	BlockedDomains []string `json:"blocked_domains"`
	ResetUsers     []string `json:"reset_users"`
}

// ToMap converts the containment state for scoring and hashing.
func (c ContainmentState) ToMap() map[string][]string {
	return map[string][]string{
		"isolated_hosts":  append([]string{}, c.IsolatedHosts...),
		"blocked_domains": append([]string{}, c.BlockedDomains...),
		"reset_users":     append([]string{}, c.ResetUsers...),
	}
}

// ActionResult carries the outcome of the most recent defender action.
type ActionResult struct {
	OK      bool           `json:"ok"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

// Observation is the defender-visible view returned by reset and step.
type Observation struct {
	ScenarioID         string           `json:"scenario_id"`
	StepIndex          int              `json:"step_index"`
	AttackerState      string           `json:"attacker_state"`
	Containment        ContainmentState `json:"containment"`
	NewEmails          []string         `json:"new_emails"`
	NewAlerts          []string         `json:"new_alerts"`
	EvidenceSeenIDs    []string         `json:"evidence_seen_ids"`
	EvidenceContentIDs []string         `json:"evidence_content_ids"`
	LastActionResult   ActionResult     `json:"last_action_result"`
	Hint               string           `json:"hint,omitempty"`
	Done               bool             `json:"done"`
	Reward             *float64         `json:"reward,omitempty"`
	Metadata           map[string]any   `json:"metadata"`
}

// EpisodeState is the compact episode summary returned by GET /state.
type EpisodeState struct {
	EpisodeID  string `json:"episode_id"`
	ScenarioID string `json:"scenario_id"`
	StepCount  int    `json:"step_count"`
	MaxSteps   int    `json:"max_steps"`
	Terminated bool   `json:"terminated"`
	Truncated  bool   `json:"truncated"`
}

// StepResult bundles the observation with reward and episode bookkeeping.
type StepResult struct {
	Observation Observation    `json:"observation"`
	Reward      float64        `json:"reward"`
	Done        bool           `json:"done"`
	Info        map[string]any `json:"info"`
	State       EpisodeState   `json:"state"`
}

// Defender action kinds.
const (
	ActionQueryLogs    = "query_logs"
	ActionFetchEmail   = "fetch_email"
	ActionFetchAlert   = "fetch_alert"
	ActionIsolateHost  = "isolate_host"
	ActionBlockDomain  = "block_domain"
	ActionResetUser    = "reset_user"
	ActionSubmitReport = "submit_report"
)
