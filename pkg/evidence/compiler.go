package evidence

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jbarnes850/opensec-env/pkg/scenario"
)

// defaultBaseTime anchors artifact timestamps when the seed metadata
// carries no created_at.
var defaultBaseTime = time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)

// parseKV splits a template body into whitespace-separated k=v tokens.
// Values containing spaces are unsupported; seed authors must encode
// multi-word values without whitespace.
func parseKV(body string) map[string]string {
	kv := make(map[string]string)
	for _, part := range strings.Fields(body) {
		if k, v, ok := strings.Cut(part, "="); ok {
			kv[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return kv
}

func baseTime(seed *scenario.Scenario) time.Time {
	if created := seed.Metadata.CreatedAt; created != "" {
		if t, err := time.Parse(time.RFC3339, created); err == nil {
			return t
		}
	}
	return defaultBaseTime
}

// stepTime renders base_time + step minutes as RFC3339 UTC with a Z suffix.
func stepTime(base time.Time, step int) string {
	return base.Add(time.Duration(step) * time.Minute).UTC().Truncate(time.Second).Format(time.RFC3339)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *Store) insertEmail(seed *scenario.Scenario, emailID string, step int) error {
	email, ok := seed.EmailByID(emailID)
	if !ok {
		return fmt.Errorf("seed email %q not found", emailID)
	}
	isPhish := 0
	if email.InjectionID != "" {
		isPhish = 1
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO email_logs
		(email_id, scenario_id, step, sender, recipient, subject, body, is_phish, injection_id, trust_tier, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		email.EmailID, seed.ScenarioID, step,
		email.Sender, email.Recipient, email.Subject, email.Body,
		isPhish, nullable(email.InjectionID), nullable(email.TrustTier), nullable(email.Source),
		stepTime(baseTime(seed), step),
	)
	return err
}

func (s *Store) insertAuth(seed *scenario.Scenario, step int, body, trustTier, source string) error {
	kv := parseKV(body)
	success := 0
	if strings.Contains(strings.ToLower(body), "success") {
		success = 1
	}
	user := kv["user"]
	if user == "" {
		user = seed.CompromisedUser
	}
	host := kv["host"]
	if host == "" {
		host = seed.PatientZeroHost
	}
	authType := kv["method"]
	if authType == "" {
		authType = "password"
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO auth_logs
		(auth_id, scenario_id, step, user_id, host_id, source_ip, auth_type, success, trust_tier, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fmt.Sprintf("auth-%s-%d", seed.ScenarioID, step), seed.ScenarioID, step,
		user, host, nullable(kv["src_ip"]), authType, success,
		nullable(trustTier), nullable(source),
		stepTime(baseTime(seed), step),
	)
	return err
}

func (s *Store) insertNetflow(seed *scenario.Scenario, step int, body, trustTier, source string) error {
	kv := parseKV(body)
	var bytesSent int64
	if n, err := strconv.ParseInt(kv["bytes"], 10, 64); err == nil && n >= 0 {
		bytesSent = n
	}
	var dstPort sql.NullInt64
	if n, err := strconv.ParseInt(kv["port"], 10, 64); err == nil && n >= 0 {
		dstPort = sql.NullInt64{Int64: n, Valid: true}
	}
	src := kv["src"]
	if src == "" {
		src = seed.PatientZeroHost
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO netflow
		(flow_id, scenario_id, step, src_host, dst_host, dst_domain, dst_port, protocol, bytes_sent, bytes_received, trust_tier, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fmt.Sprintf("flow-%s-%d", seed.ScenarioID, step), seed.ScenarioID, step,
		src, nullable(kv["dst"]), nullable(kv["dst_domain"]), dstPort, nullable(kv["proto"]),
		bytesSent, 0,
		nullable(trustTier), nullable(source),
		stepTime(baseTime(seed), step),
	)
	return err
}

func (s *Store) insertProcess(seed *scenario.Scenario, step int, body, trustTier, source string) error {
	kv := parseKV(body)
	host := kv["host"]
	if host == "" {
		host = seed.PatientZeroHost
	}
	user := kv["user"]
	if user == "" {
		user = seed.CompromisedUser
	}
	process := kv["process"]
	if process == "" {
		process = "unknown"
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO process_events
		(event_id, scenario_id, step, host_id, user_id, process_name, command_line, parent_process, trust_tier, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fmt.Sprintf("proc-%s-%d", seed.ScenarioID, step), seed.ScenarioID, step,
		host, user, process, body, nullable(kv["parent"]),
		nullable(trustTier), nullable(source),
		stepTime(baseTime(seed), step),
	)
	return err
}

func (s *Store) insertAlert(seed *scenario.Scenario, step int, body, injectionID, trustTier, source string) error {
	kv := parseKV(body)
	alertType := kv["type"]
	if alertType == "" {
		alertType = "unknown"
	}
	severity := kv["severity"]
	if severity == "" {
		severity = "medium"
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO alerts
		(alert_id, scenario_id, step, alert_type, severity, message, related_log_id, injection_id, trust_tier, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fmt.Sprintf("alert-%s-%d", seed.ScenarioID, step), seed.ScenarioID, step,
		alertType, severity, body, nil, nullable(injectionID),
		nullable(trustTier), nullable(source),
		stepTime(baseTime(seed), step),
	)
	return err
}

func (s *Store) insertPromptInjections(seed *scenario.Scenario) error {
	for _, p := range seed.PromptInjectionPayloads {
		var evidenceJSON, targetParamsJSON any
		if p.EvidenceIDs != nil {
			b, err := json.Marshal(p.EvidenceIDs)
			if err != nil {
				return fmt.Errorf("failed to encode evidence_ids for %s: %w", p.InjectionID, err)
			}
			evidenceJSON = string(b)
		}
		if p.TargetParams != nil {
			b, err := json.Marshal(p.TargetParams)
			if err != nil {
				return fmt.Errorf("failed to encode target_params for %s: %w", p.InjectionID, err)
			}
			targetParamsJSON = string(b)
		}
		_, err := s.db.Exec(`
			INSERT OR REPLACE INTO prompt_injections
			(injection_id, scenario_id, surface, payload, expected_violation, target_action, target_params, evidence_ids, injection_type, objective, source)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.InjectionID, seed.ScenarioID, p.Surface, p.Payload, p.ExpectedViolation,
			nullable(p.TargetAction), targetParamsJSON, evidenceJSON,
			nullable(p.InjectionType), nullable(p.Objective), nullable(p.Source),
		)
		if err != nil {
			return fmt.Errorf("failed to insert injection %s: %w", p.InjectionID, err)
		}
	}
	return nil
}

func (s *Store) insertFromTemplate(seed *scenario.Scenario, step int, tpl scenario.LogTemplate) error {
	if !LogTables[tpl.Table] {
		return fmt.Errorf("unknown log table: %s", tpl.Table)
	}
	switch tpl.Table {
	case "auth_logs":
		return s.insertAuth(seed, step, tpl.TemplateBody, tpl.TrustTier, tpl.Source)
	case "netflow":
		return s.insertNetflow(seed, step, tpl.TemplateBody, tpl.TrustTier, tpl.Source)
	case "process_events":
		return s.insertProcess(seed, step, tpl.TemplateBody, tpl.TrustTier, tpl.Source)
	case "alerts":
		return s.insertAlert(seed, step, tpl.TemplateBody, tpl.InjectionID, tpl.TrustTier, tpl.Source)
	case "email_logs":
		return s.insertEmail(seed, tpl.TemplateID, step)
	}
	return nil
}

// EmitArtifact inserts one artifact's rows at the given step. Artifacts
// tagged with a variant_action_type are skipped unless allowVariant is
// set (branch-selective emission is the caller's decision).
func (s *Store) EmitArtifact(seed *scenario.Scenario, step int, art scenario.Artifact, allowVariant bool) error {
	if art.VariantActionType != "" && !allowVariant {
		return nil
	}
	switch art.ArtifactType {
	case "email":
		return s.insertEmail(seed, art.ArtifactID, step)
	case "log_template", "alert":
		tpl, ok := seed.TemplateByID(art.ArtifactID)
		if !ok {
			return fmt.Errorf("log template %q not found", art.ArtifactID)
		}
		return s.insertFromTemplate(seed, step, tpl)
	default:
		return fmt.Errorf("unknown artifact_type: %s", art.ArtifactType)
	}
}

// CompileSeed populates a fresh store from the scenario seed: the
// prompt-injection registry first, then either the attack graph's
// initial_artifacts or the legacy timeline's non-variant artifacts.
func (s *Store) CompileSeed(seed *scenario.Scenario) error {
	if err := s.insertPromptInjections(seed); err != nil {
		return err
	}
	if seed.AttackGraph != nil {
		for _, art := range seed.AttackGraph.InitialArtifacts {
			if err := s.EmitArtifact(seed, art.Step, art, true); err != nil {
				return fmt.Errorf("failed to emit initial artifact %s: %w", art.ArtifactID, err)
			}
		}
		return nil
	}
	if seed.AttackPlan == nil {
		return fmt.Errorf("seed %s has neither attack_graph nor attack_plan", seed.ScenarioID)
	}
	for _, item := range seed.AttackPlan.Timeline {
		for _, art := range item.Artifacts {
			if err := s.EmitArtifact(seed, item.Step, art, false); err != nil {
				return fmt.Errorf("failed to emit timeline artifact %s: %w", art.ArtifactID, err)
			}
		}
	}
	return nil
}
