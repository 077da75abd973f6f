package scenario

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var structValidator = validator.New()

// ValidationIssue is a single referential or structural problem in a seed.
type ValidationIssue struct {
	Field   string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

// Validate checks a seed for structural problems (struct tags) and
// referential integrity: every distinguished reference and every artifact
// must point at an entity or seed artifact that exists. Returns the full
// list of issues rather than stopping at the first.
func Validate(s *Scenario) []ValidationIssue {
	var issues []ValidationIssue

	if err := structValidator.Struct(s); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				issues = append(issues, ValidationIssue{
					Field:   fe.Namespace(),
					Message: fmt.Sprintf("failed %q validation", fe.Tag()),
				})
			}
		} else {
			issues = append(issues, ValidationIssue{Field: "scenario", Message: err.Error()})
		}
	}

	hosts := toSet(s.HostIDs())
	users := toSet(s.UserIDs())
	domains := toSet(s.Domains())
	targets := toSet(s.TargetIDs())
	emails := make(map[string]bool, len(s.SeedArtifacts.Emails))
	for _, e := range s.SeedArtifacts.Emails {
		emails[e.EmailID] = true
	}
	templates := make(map[string]bool, len(s.SeedArtifacts.LogTemplates))
	for _, t := range s.SeedArtifacts.LogTemplates {
		templates[t.TemplateID] = true
	}

	if !hosts[s.PatientZeroHost] {
		issues = append(issues, ValidationIssue{"patient_zero_host", "not in entities.hosts"})
	}
	if !users[s.CompromisedUser] {
		issues = append(issues, ValidationIssue{"compromised_user", "not in entities.users"})
	}
	if !domains[s.AttackerDomain] {
		issues = append(issues, ValidationIssue{"attacker_domain", "not in entities.domains"})
	}
	if !targets[s.DataTarget] {
		issues = append(issues, ValidationIssue{"data_target", "not in entities.data_targets"})
	}

	checkArtifact := func(where string, art Artifact) {
		switch art.ArtifactType {
		case "email":
			if !emails[art.ArtifactID] {
				issues = append(issues, ValidationIssue{where,
					fmt.Sprintf("email artifact %q not in seed_artifacts.emails", art.ArtifactID)})
			}
		case "log_template", "alert":
			if !templates[art.ArtifactID] {
				issues = append(issues, ValidationIssue{where,
					fmt.Sprintf("artifact %q not in seed_artifacts.log_templates", art.ArtifactID)})
			}
		default:
			issues = append(issues, ValidationIssue{where,
				fmt.Sprintf("unknown artifact_type %q", art.ArtifactType)})
		}
	}

	if s.AttackPlan != nil {
		for _, item := range s.AttackPlan.Timeline {
			for _, art := range item.Artifacts {
				checkArtifact(fmt.Sprintf("attack_plan.timeline[step=%d]", item.Step), art)
			}
		}
	}
	if s.AttackGraph != nil {
		if s.AttackGraph.StartState == "" {
			issues = append(issues, ValidationIssue{"attack_graph.start_state", "required"})
		} else if _, ok := s.AttackGraph.States[s.AttackGraph.StartState]; !ok {
			issues = append(issues, ValidationIssue{"attack_graph.start_state", "not in attack_graph.states"})
		}
		for _, obj := range s.AttackGraph.Objectives {
			if _, ok := s.AttackGraph.States[obj]; !ok {
				issues = append(issues, ValidationIssue{"attack_graph.objectives",
					fmt.Sprintf("objective %q not in attack_graph.states", obj)})
			}
		}
		for _, art := range s.AttackGraph.InitialArtifacts {
			checkArtifact("attack_graph.initial_artifacts", art)
		}
		for name, node := range s.AttackGraph.States {
			for _, action := range node.Actions {
				if action.NextState != "" {
					if _, ok := s.AttackGraph.States[action.NextState]; !ok {
						issues = append(issues, ValidationIssue{
							fmt.Sprintf("attack_graph.states.%s", name),
							fmt.Sprintf("next_state %q not in attack_graph.states", action.NextState)})
					}
				}
				for _, art := range action.Artifacts {
					checkArtifact(fmt.Sprintf("attack_graph.states.%s.actions", name), art)
				}
			}
		}
	}
	if s.AttackPlan == nil && s.AttackGraph == nil {
		issues = append(issues, ValidationIssue{"scenario", "one of attack_plan or attack_graph is required"})
	}

	for _, p := range s.PromptInjectionPayloads {
		for _, eid := range p.EvidenceIDs {
			// Evidence IDs may reference derived row IDs (auth-*, flow-*,
			// proc-*, alert-*) which only exist after compilation; only
			// email references are checkable against the seed.
			if emails[eid] || !isSeedEmailRef(eid) {
				continue
			}
			issues = append(issues, ValidationIssue{
				fmt.Sprintf("prompt_injection_payloads.%s", p.InjectionID),
				fmt.Sprintf("evidence id %q not in seed_artifacts.emails", eid)})
		}
	}

	return issues
}

func isSeedEmailRef(id string) bool {
	return len(id) > 6 && id[:6] == "email-"
}

func toSet(vals []string) map[string]bool {
	set := make(map[string]bool, len(vals))
	for _, v := range vals {
		set[v] = true
	}
	return set
}
