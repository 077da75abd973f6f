package attacker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jbarnes850/opensec-env/pkg/scenario"
)

func TestIsValidDecision(t *testing.T) {
	sc := testScenario()

	valid := Decision{ActionType: "reuse_credentials", Params: map[string]any{"user": "u-001", "host": "h-001"}}
	assert.True(t, IsValidDecision(valid, sc, "phish_sent"))

	unknownUser := Decision{ActionType: "reuse_credentials", Params: map[string]any{"user": "u-999", "host": "h-001"}}
	assert.False(t, IsValidDecision(unknownUser, sc, "phish_sent"))

	wrongState := Decision{ActionType: "exfiltrate", Params: map[string]any{"destination_domain": "evil-mail.com"}}
	assert.False(t, IsValidDecision(wrongState, sc, "phish_sent"))

	noOp := NoOp()
	assert.False(t, IsValidDecision(noOp, sc, "phish_sent"))

	exfil := Decision{ActionType: "exfiltrate", Params: map[string]any{"destination_domain": "evil-mail.com"}}
	assert.True(t, IsValidDecision(exfil, sc, "data_access"))

	badDomain := Decision{ActionType: "exfiltrate", Params: map[string]any{"destination_domain": "nope.example"}}
	assert.False(t, IsValidDecision(badDomain, sc, "data_access"))

	move := Decision{ActionType: "lateral_move", Params: map[string]any{"src": "h-001", "dst": "h-002"}}
	assert.True(t, IsValidDecision(move, sc, "creds_used"))
}

func TestAllowedActionsForState(t *testing.T) {
	sc := testScenario()
	assert.Equal(t, []string{"reuse_credentials"}, AllowedActionsForState(sc, "phish_sent"))
	assert.Equal(t, []string{"exfiltrate", "exfiltrate_alt"}, AllowedActionsForState(sc, "data_access"))
	// Unknown states admit the full vocabulary.
	assert.Len(t, AllowedActionsForState(sc, "made_up_state"), len(AllowedActions))
}

func TestAllowedActionsFromGraph(t *testing.T) {
	sc := testScenario()
	sc.AttackGraph = &scenario.AttackGraph{
		StartState: "recon",
		States: map[string]scenario.GraphState{
			"recon": {Actions: []scenario.GraphAction{
				{ActionType: "send_phish"},
				{ActionType: "recon"},
			}},
		},
	}
	assert.Equal(t, []string{"recon", "send_phish"}, AllowedActionsForState(sc, "recon"))
}
