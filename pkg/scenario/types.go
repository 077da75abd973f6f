// Package scenario defines the typed seed model an episode is compiled
// from, plus loading and referential validation.
package scenario

// Host is a machine entity in the scenario inventory.
type Host struct {
	HostID   string `json:"host_id" validate:"required"`
	Hostname string `json:"hostname,omitempty"`
	Role     string `json:"role,omitempty"`
}

// User is an account entity.
type User struct {
	UserID      string `json:"user_id" validate:"required"`
	DisplayName string `json:"display_name,omitempty"`
	Department  string `json:"department,omitempty"`
}

// Domain is a network domain entity. DomainType "attacker" marks
// adversary-controlled infrastructure.
type Domain struct {
	Domain     string `json:"domain" validate:"required"`
	DomainType string `json:"domain_type" validate:"required"`
}

// DataTarget is a sensitive data asset the attacker may go after.
type DataTarget struct {
	TargetID    string `json:"target_id" validate:"required"`
	Description string `json:"description,omitempty"`
	HostID      string `json:"host_id,omitempty"`
}

// Entities groups the scenario's entity inventories.
type Entities struct {
	Hosts       []Host       `json:"hosts" validate:"min=1,dive"`
	Users       []User       `json:"users" validate:"min=1,dive"`
	Domains     []Domain     `json:"domains" validate:"min=1,dive"`
	DataTargets []DataTarget `json:"data_targets" validate:"min=1,dive"`
}

// Artifact is a single evidence emission: an email, a log template
// instantiation, or an alert. Timeline artifacts may carry a
// variant_action_type so they only fire when the attacker takes the
// matching branch; graph initial_artifacts carry their emission step.
type Artifact struct {
	ArtifactType      string         `json:"artifact_type"`
	ArtifactID        string         `json:"artifact_id"`
	Step              int            `json:"step,omitempty"`
	VariantActionType string         `json:"variant_action_type,omitempty"`
	VariantParams     map[string]any `json:"variant_params,omitempty"`
	MatchParams       map[string]any `json:"match_params,omitempty"`
}

// TimelineStep is one step of the legacy linear attack plan.
type TimelineStep struct {
	Step      int        `json:"step"`
	Artifacts []Artifact `json:"artifacts"`
}

// AttackPlan is the legacy linear attack timeline. InitialVector names
// the intrusion technique ground truth expects in report attribution.
type AttackPlan struct {
	InitialVector string         `json:"initial_vector,omitempty"`
	Timeline      []TimelineStep `json:"timeline"`
}

// GraphAction is an edge of the attack graph: an attacker action the
// current state admits, with optional guards, effects, and artifacts.
type GraphAction struct {
	ActionType  string         `json:"action_type"`
	MatchParams map[string]any `json:"match_params,omitempty"`
	Requires    map[string]any `json:"requires,omitempty"`
	Effects     map[string]any `json:"effects,omitempty"`
	NextState   string         `json:"next_state,omitempty"`
	Artifacts   []Artifact     `json:"artifacts,omitempty"`
}

// GraphState is a node of the attack graph.
type GraphState struct {
	Actions []GraphAction `json:"actions"`
}

// AttackGraph is the preferred attack specification: a guarded,
// effect-bearing transition system.
type AttackGraph struct {
	StartState       string                `json:"start_state"`
	Objectives       []string              `json:"objectives,omitempty"`
	States           map[string]GraphState `json:"states"`
	InitialArtifacts []Artifact            `json:"initial_artifacts,omitempty"`
}

// SeedEmail is a pre-authored email artifact.
type SeedEmail struct {
	EmailID     string `json:"email_id" validate:"required"`
	Sender      string `json:"sender"`
	Recipient   string `json:"recipient"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
	InjectionID string `json:"injection_id,omitempty"`
	TrustTier   string `json:"trust_tier,omitempty"`
	Source      string `json:"source,omitempty"`
}

// LogTemplate is a pre-authored log or alert body. The template body is
// parsed as whitespace-separated k=v tokens; values must not contain
// spaces (seed-author constraint).
type LogTemplate struct {
	TemplateID   string `json:"template_id" validate:"required"`
	Table        string `json:"table" validate:"required,oneof=email_logs auth_logs netflow process_events alerts"`
	TemplateBody string `json:"template_body"`
	InjectionID  string `json:"injection_id,omitempty"`
	TrustTier    string `json:"trust_tier,omitempty"`
	Source       string `json:"source,omitempty"`
}

// SeedArtifacts bundles the pre-authored artifact pools.
type SeedArtifacts struct {
	Emails       []SeedEmail   `json:"emails" validate:"dive"`
	LogTemplates []LogTemplate `json:"log_templates" validate:"dive"`
}

// InjectionPayload is a planted prompt-injection attempt.
type InjectionPayload struct {
	InjectionID       string         `json:"injection_id" validate:"required"`
	Surface           string         `json:"surface" validate:"required,oneof=email alert log"`
	Payload           string         `json:"payload"`
	ExpectedViolation string         `json:"expected_violation"`
	TargetAction      string         `json:"target_action,omitempty"`
	TargetParams      map[string]any `json:"target_params,omitempty"`
	EvidenceIDs       []string       `json:"evidence_ids,omitempty"`
	InjectionType     string         `json:"injection_type,omitempty"`
	DifficultyTier    int            `json:"difficulty_tier,omitempty" validate:"omitempty,oneof=1 2 3"`
	Objective         string         `json:"objective,omitempty"`
	Source            string         `json:"source,omitempty"`
}

// Metadata carries optional seed-level settings.
type Metadata struct {
	MaxSteps  int    `json:"max_steps,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// Scenario is an immutable scenario seed.
type Scenario struct {
	ScenarioID              string             `json:"scenario_id" validate:"required"`
	Entities                Entities           `json:"entities" validate:"required"`
	PatientZeroHost         string             `json:"patient_zero_host" validate:"required"`
	CompromisedUser         string             `json:"compromised_user" validate:"required"`
	AttackerDomain          string             `json:"attacker_domain" validate:"required"`
	DataTarget              string             `json:"data_target" validate:"required"`
	AttackPlan              *AttackPlan        `json:"attack_plan,omitempty"`
	AttackGraph             *AttackGraph       `json:"attack_graph,omitempty"`
	SeedArtifacts           SeedArtifacts      `json:"seed_artifacts"`
	PromptInjectionPayloads []InjectionPayload `json:"prompt_injection_payloads,omitempty"`
	Metadata                Metadata           `json:"metadata,omitempty"`
}

// HasAttackGraph reports whether the seed supplies a usable attack graph.
func (s *Scenario) HasAttackGraph() bool {
	return s.AttackGraph != nil && s.AttackGraph.StartState != ""
}

// HostIDs returns all host identifiers.
func (s *Scenario) HostIDs() []string {
	ids := make([]string, 0, len(s.Entities.Hosts))
	for _, h := range s.Entities.Hosts {
		if h.HostID != "" {
			ids = append(ids, h.HostID)
		}
	}
	return ids
}

// UserIDs returns all user identifiers.
func (s *Scenario) UserIDs() []string {
	ids := make([]string, 0, len(s.Entities.Users))
	for _, u := range s.Entities.Users {
		if u.UserID != "" {
			ids = append(ids, u.UserID)
		}
	}
	return ids
}

// Domains returns all domain names.
func (s *Scenario) Domains() []string {
	ds := make([]string, 0, len(s.Entities.Domains))
	for _, d := range s.Entities.Domains {
		if d.Domain != "" {
			ds = append(ds, d.Domain)
		}
	}
	return ds
}

// AttackerDomains returns domains tagged domain_type=attacker.
func (s *Scenario) AttackerDomains() []string {
	var ds []string
	for _, d := range s.Entities.Domains {
		if d.DomainType == "attacker" && d.Domain != "" {
			ds = append(ds, d.Domain)
		}
	}
	return ds
}

// TargetIDs returns all data target identifiers.
func (s *Scenario) TargetIDs() []string {
	ids := make([]string, 0, len(s.Entities.DataTargets))
	for _, t := range s.Entities.DataTargets {
		if t.TargetID != "" {
			ids = append(ids, t.TargetID)
		}
	}
	return ids
}

// EmailByID looks up a seed email.
func (s *Scenario) EmailByID(id string) (SeedEmail, bool) {
	for _, e := range s.SeedArtifacts.Emails {
		if e.EmailID == id {
			return e, true
		}
	}
	return SeedEmail{}, false
}

// TemplateByID looks up a log template.
func (s *Scenario) TemplateByID(id string) (LogTemplate, bool) {
	for _, t := range s.SeedArtifacts.LogTemplates {
		if t.TemplateID == id {
			return t, true
		}
	}
	return LogTemplate{}, false
}

// GroundTruthAttribution is the attribution section of ground truth.
type GroundTruthAttribution struct {
	PatientZeroHost string `json:"patient_zero_host"`
	CompromisedUser string `json:"compromised_user"`
	AttackerDomain  string `json:"attacker_domain"`
	DataTarget      string `json:"data_target"`
	InitialVector   string `json:"initial_vector"`
}

// ContainmentRequirements lists the containment ground truth expects.
type ContainmentRequirements struct {
	IsolateHosts []string `json:"isolate_hosts"`
	BlockDomains []string `json:"block_domains"`
	ResetUsers   []string `json:"reset_users"`
}

// GroundTruth is the hidden answer key for a scenario.
type GroundTruth struct {
	ScenarioID              string                  `json:"scenario_id,omitempty"`
	Attribution             GroundTruthAttribution  `json:"attribution"`
	ContainmentRequirements ContainmentRequirements `json:"containment_requirements"`
}
