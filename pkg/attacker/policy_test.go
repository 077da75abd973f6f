package attacker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbarnes850/opensec-env/pkg/models"
	"github.com/jbarnes850/opensec-env/pkg/scenario"
)

func testScenario() *scenario.Scenario {
	return &scenario.Scenario{
		ScenarioID: "seed-001",
		Entities: scenario.Entities{
			Hosts: []scenario.Host{{HostID: "h-001"}, {HostID: "h-002"}},
			Users: []scenario.User{{UserID: "u-001"}},
			Domains: []scenario.Domain{
				{Domain: "evil-mail.com", DomainType: "attacker"},
				{Domain: "corp.example.com", DomainType: "corporate"},
			},
			DataTargets: []scenario.DataTarget{{TargetID: "t-001"}},
		},
		PatientZeroHost: "h-001",
		CompromisedUser: "u-001",
		AttackerDomain:  "evil-mail.com",
		DataTarget:      "t-001",
	}
}

func TestMockPolicyKillChain(t *testing.T) {
	sc := testScenario()
	policy := MockPolicy{}
	noAction := models.AgentAction{ActionType: "query_logs", Params: map[string]any{}}

	cases := map[string]string{
		"phish_sent":   "reuse_credentials",
		"creds_used":   "lateral_move",
		"lateral_move": "access_data",
		"data_access":  "exfiltrate",
	}
	for state, want := range cases {
		d, err := policy.ChooseAction(context.Background(), sc, state, noAction, nil)
		require.NoError(t, err)
		assert.Equal(t, want, d.ActionType, "state %s", state)
	}

	d, err := policy.ChooseAction(context.Background(), sc, "exfil_attempt", noAction, nil)
	require.NoError(t, err)
	assert.Equal(t, "no_op", d.ActionType)
}

func TestMockPolicySteersAroundContainment(t *testing.T) {
	sc := testScenario()
	policy := MockPolicy{}
	policyCtx := map[string]any{
		"available_hosts": []any{"h-002"},
		"available_users": []any{"u-001"},
	}
	d, err := policy.ChooseAction(context.Background(), sc, "phish_sent",
		models.AgentAction{ActionType: "isolate_host"}, policyCtx)
	require.NoError(t, err)
	assert.Equal(t, "reuse_credentials", d.ActionType)
	assert.Equal(t, "h-002", d.Params["host"])
}

func TestMockPolicyExfiltrateTargetsAttackerDomain(t *testing.T) {
	sc := testScenario()
	d, err := MockPolicy{}.ChooseAction(context.Background(), sc, "data_access",
		models.AgentAction{ActionType: "query_logs"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "exfiltrate", d.ActionType)
	assert.Equal(t, "evil-mail.com", d.Params["destination_domain"])
}
