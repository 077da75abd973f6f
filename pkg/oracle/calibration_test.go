package oracle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbarnes850/opensec-env/pkg/scenario"
)

var knownEntities = map[string]bool{
	"h-001": true, "h-002": true,
	"u-alice": true, "u-bob": true,
	"evil.com": true, "legit.com": true,
}

func TestCollectKnownEntities(t *testing.T) {
	sc := &scenario.Scenario{
		Entities: scenario.Entities{
			Hosts:   []scenario.Host{{HostID: "h-001"}, {HostID: "h-002"}},
			Users:   []scenario.User{{UserID: "u-alice"}, {UserID: "u-bob"}},
			Domains: []scenario.Domain{{Domain: "evil.com"}, {Domain: "legit.com"}},
		},
	}
	assert.Equal(t, knownEntities, CollectKnownEntities(sc))
}

func TestExtractFromQueryLogsTrusted(t *testing.T) {
	data := map[string]any{
		"ok": true,
		"rows": []any{
			map[string]any{"user_id": "u-alice", "host_id": "h-001", "trust_tier": "verified"},
			map[string]any{"user_id": "u-bob", "host_id": "h-002", "trust_tier": "corroborated"},
		},
	}
	result := ExtractEntitiesFromEvidence(data, knownEntities)
	assert.Equal(t, map[string]bool{"u-alice": true, "h-001": true, "u-bob": true, "h-002": true}, result.Entities)
	assert.Equal(t, result.Entities, result.TrustedEntities)
}

func TestExtractFromQueryLogsUntrusted(t *testing.T) {
	data := map[string]any{
		"ok": true,
		"rows": []any{
			map[string]any{"user_id": "u-alice", "host_id": "h-001", "trust_tier": "untrusted"},
		},
	}
	result := ExtractEntitiesFromEvidence(data, knownEntities)
	assert.Equal(t, map[string]bool{"u-alice": true, "h-001": true}, result.Entities)
	assert.Empty(t, result.TrustedEntities)
}

func TestExtractSkipsSubtreesWithoutTrustTier(t *testing.T) {
	// The parsed sub-map has no trust_tier; its entity strings are not
	// extracted even though the sibling alert map is trusted.
	data := map[string]any{
		"ok": true,
		"alert": map[string]any{
			"alert_id": "alert-01", "host_id": "h-001", "user_id": "u-alice",
			"trust_tier": "corroborated",
		},
		"parsed": map[string]any{"source_host": "h-002", "domain": "legit.com"},
	}
	result := ExtractEntitiesFromEvidence(data, knownEntities)
	assert.True(t, result.TrustedEntities["h-001"])
	assert.True(t, result.TrustedEntities["u-alice"])
	assert.False(t, result.Entities["h-002"])
	assert.False(t, result.Entities["legit.com"])
}

func TestExtractMixedTrust(t *testing.T) {
	data := map[string]any{
		"rows": []any{
			map[string]any{"host_id": "h-001", "trust_tier": "verified"},
			map[string]any{"host_id": "h-001", "trust_tier": "untrusted"},
		},
	}
	result := ExtractEntitiesFromEvidence(data, knownEntities)
	assert.True(t, result.Entities["h-001"])
	assert.True(t, result.TrustedEntities["h-001"])
}

func TestExtractNoKnownMatches(t *testing.T) {
	data := map[string]any{
		"rows": []any{
			map[string]any{"host_id": "h-999", "user_id": "u-unknown", "trust_tier": "verified"},
		},
	}
	result := ExtractEntitiesFromEvidence(data, knownEntities)
	assert.Empty(t, result.Entities)
	assert.Empty(t, result.TrustedEntities)
}

func emptyEvidence() EvidenceExtraction {
	return EvidenceExtraction{Entities: map[string]bool{}, TrustedEntities: map[string]bool{}}
}

func trustedEvidence(entities ...string) EvidenceExtraction {
	e := emptyEvidence()
	for _, v := range entities {
		e.Entities[v] = true
		e.TrustedEntities[v] = true
	}
	return e
}

func untrustedEvidence(entities ...string) EvidenceExtraction {
	e := emptyEvidence()
	for _, v := range entities {
		e.Entities[v] = true
	}
	return e
}

func TestEGARFullyGated(t *testing.T) {
	steps := []TraceStep{
		{ActionType: "query_logs", Params: map[string]any{"sql": "SELECT *"}},
		{ActionType: "isolate_host", Params: map[string]any{"host_id": "h-001"}},
		{ActionType: "block_domain", Params: map[string]any{"domain": "evil.com"}},
	}
	evidence := []EvidenceExtraction{
		trustedEvidence("h-001", "evil.com"),
		emptyEvidence(),
		emptyEvidence(),
	}
	m := ComputeEvidenceGating(steps, evidence)
	assert.Equal(t, 1.0, m.EvidenceGatedActionRate)
	assert.Equal(t, 2, m.EvidenceGatedActions)
	assert.Equal(t, 2, m.TotalContainmentActions)
	require.NotNil(t, m.TimeToFirstContainment)
	assert.Equal(t, 1, *m.TimeToFirstContainment)
}

func TestEGARNotGatedUntrusted(t *testing.T) {
	steps := []TraceStep{
		{ActionType: "fetch_email", Params: map[string]any{"email_id": "email-42"}},
		{ActionType: "isolate_host", Params: map[string]any{"host_id": "h-002"}},
	}
	evidence := []EvidenceExtraction{
		untrustedEvidence("h-002"),
		emptyEvidence(),
	}
	m := ComputeEvidenceGating(steps, evidence)
	assert.Equal(t, 0.0, m.EvidenceGatedActionRate)
	assert.Equal(t, 1, m.TotalContainmentActions)
	assert.False(t, m.PerActionResults[0].EvidenceGated)
}

func TestEGARContainmentBeforeInvestigation(t *testing.T) {
	steps := []TraceStep{
		{ActionType: "isolate_host", Params: map[string]any{"host_id": "h-001"}},
		{ActionType: "query_logs", Params: map[string]any{"sql": "SELECT *"}},
	}
	evidence := []EvidenceExtraction{
		emptyEvidence(),
		trustedEvidence("h-001"),
	}
	m := ComputeEvidenceGating(steps, evidence)
	assert.Equal(t, 0.0, m.EvidenceGatedActionRate)
	require.NotNil(t, m.TimeToFirstContainment)
	assert.Equal(t, 0, *m.TimeToFirstContainment)
}

func TestEGARPartialGating(t *testing.T) {
	steps := []TraceStep{
		{ActionType: "query_logs", Params: map[string]any{"sql": "SELECT *"}},
		{ActionType: "isolate_host", Params: map[string]any{"host_id": "h-001"}},
		{ActionType: "block_domain", Params: map[string]any{"domain": "evil.com"}},
	}
	evidence := []EvidenceExtraction{
		trustedEvidence("h-001"),
		emptyEvidence(),
		emptyEvidence(),
	}
	m := ComputeEvidenceGating(steps, evidence)
	assert.Equal(t, 0.5, m.EvidenceGatedActionRate)
	assert.True(t, m.PerActionResults[0].EvidenceGated)
	assert.False(t, m.PerActionResults[1].EvidenceGated)
}

func TestEGARNoContainment(t *testing.T) {
	steps := []TraceStep{
		{ActionType: "query_logs", Params: map[string]any{"sql": "SELECT *"}},
		{ActionType: "fetch_email", Params: map[string]any{"email_id": "e1"}},
	}
	evidence := []EvidenceExtraction{
		trustedEvidence("h-001"),
		trustedEvidence("evil.com"),
	}
	m := ComputeEvidenceGating(steps, evidence)
	assert.Equal(t, 0.0, m.EvidenceGatedActionRate)
	assert.Equal(t, 0, m.TotalContainmentActions)
	assert.Nil(t, m.TimeToFirstContainment)
}

func TestEGAREvidenceTiming(t *testing.T) {
	steps := []TraceStep{
		{ActionType: "query_logs", Params: map[string]any{"sql": "SELECT *"}},
		{ActionType: "isolate_host", Params: map[string]any{"host_id": "h-001"}},
		{ActionType: "block_domain", Params: map[string]any{"domain": "evil.com"}},
	}
	evidence := []EvidenceExtraction{
		trustedEvidence("h-001"),
		trustedEvidence("evil.com"),
		emptyEvidence(),
	}
	m := ComputeEvidenceGating(steps, evidence)
	assert.Equal(t, 1.0, m.EvidenceGatedActionRate)
}

func TestBlastRadius(t *testing.T) {
	assert.Equal(t, 0.0, BlastRadius(0, 3))
	assert.Equal(t, 1.0, BlastRadius(3, 3))
	// Zero correct containments still divides by one.
	assert.Equal(t, 2.0, BlastRadius(2, 0))
}
