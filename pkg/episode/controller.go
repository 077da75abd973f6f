// Package episode runs one defender episode at a time: it wires the
// scenario seed, evidence store, attacker machine, replay cache, and
// oracle into the reset/step loop the HTTP surface exposes.
package episode

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/jbarnes850/opensec-env/pkg/attacker"
	"github.com/jbarnes850/opensec-env/pkg/evidence"
	"github.com/jbarnes850/opensec-env/pkg/models"
	"github.com/jbarnes850/opensec-env/pkg/oracle"
	"github.com/jbarnes850/opensec-env/pkg/replay"
	"github.com/jbarnes850/opensec-env/pkg/scenario"
)

// legacyStartState opens every episode that has no attack graph.
const legacyStartState = "phish_sent"

// Options configures a Controller.
type Options struct {
	SeedPath       string
	StoreDir       string
	MaxSteps       int
	MaskInjections bool
	Policy         attacker.Policy
	Manager        *replay.Manager
	Logger         *slog.Logger
}

// Controller owns the state of the current episode. Episodes are
// strictly sequential; all entry points share one lock.
type Controller struct {
	mu sync.Mutex

	seedPath        string
	storeDir        string
	defaultMaxSteps int
	maxSteps        int
	maskInjections  bool
	policy          attacker.Policy
	manager         *replay.Manager
	logger          *slog.Logger

	episodeID           string
	stepCount           int
	attackerState       string
	attackerCtx         attacker.Context
	containment         models.ContainmentState
	scenario            *scenario.Scenario
	groundTruth         *scenario.GroundTruth
	store               *evidence.Store
	seenEvidenceIDs     map[string]bool
	contentEvidenceIDs  map[string]bool
	injectionViolations []string
}

// NewController builds a controller; no episode exists until Reset.
func NewController(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 15
	}
	policy := opts.Policy
	if policy == nil {
		policy = attacker.MockPolicy{}
	}
	manager := opts.Manager
	if manager == nil {
		manager = &replay.Manager{Mode: replay.ModeOff, Model: "mock"}
	}
	return &Controller{
		seedPath:        opts.SeedPath,
		storeDir:        opts.StoreDir,
		defaultMaxSteps: maxSteps,
		maxSteps:        maxSteps,
		maskInjections:  opts.MaskInjections,
		policy:          policy,
		manager:         manager,
		logger:          logger,
	}
}

// Reset starts a fresh episode: new episode ID, fresh evidence store
// compiled from the seed, attacker at its start state, and the step-0
// evidence surfaced in the first observation.
func (c *Controller) Reset(ctx context.Context) (models.StepResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sc, err := scenario.Load(c.seedPath)
	if err != nil {
		return models.StepResult{}, fmt.Errorf("failed to load scenario: %w", err)
	}
	gt, err := scenario.LoadGroundTruth(c.seedPath)
	if err != nil {
		return models.StepResult{}, fmt.Errorf("failed to load ground truth: %w", err)
	}

	c.episodeID = uuid.NewString()
	c.stepCount = 0
	c.attackerState = legacyStartState
	c.attackerCtx = attacker.Context{}
	c.containment = models.ContainmentState{}
	c.seenEvidenceIDs = map[string]bool{}
	c.contentEvidenceIDs = map[string]bool{}
	c.injectionViolations = nil
	c.scenario = sc
	c.groundTruth = gt
	if sc.HasAttackGraph() {
		c.attackerState = sc.AttackGraph.StartState
	}
	c.maxSteps = c.defaultMaxSteps
	if sc.Metadata.MaxSteps > 0 {
		c.maxSteps = sc.Metadata.MaxSteps
	}
	// Masking is a detection ablation: the rows stay in the store, only
	// the violation registry is emptied.
	if c.maskInjections {
		c.scenario.PromptInjectionPayloads = nil
	}

	if c.store != nil {
		_ = c.store.Close()
	}
	storePath := filepath.Join(c.storeDir, fmt.Sprintf("%s-%s.db", sc.ScenarioID, c.episodeID))
	store, err := evidence.Open(storePath)
	if err != nil {
		return models.StepResult{}, err
	}
	if err := store.CompileSeed(sc); err != nil {
		_ = store.Close()
		return models.StepResult{}, fmt.Errorf("failed to compile seed: %w", err)
	}
	c.store = store

	newEmails, newAlerts, err := c.surfaceEvidence(0)
	if err != nil {
		return models.StepResult{}, err
	}

	c.logger.Info("episode reset",
		"episode_id", c.episodeID, "scenario_id", sc.ScenarioID, "store_path", storePath)

	state := c.state()
	obs := models.Observation{
		ScenarioID:         sc.ScenarioID,
		StepIndex:          c.stepCount,
		AttackerState:      c.attackerState,
		Containment:        c.containment,
		NewEmails:          newEmails,
		NewAlerts:          newAlerts,
		EvidenceSeenIDs:    sortedKeys(c.seenEvidenceIDs),
		EvidenceContentIDs: sortedKeys(c.contentEvidenceIDs),
		LastActionResult:   models.ActionResult{OK: true, Message: "reset", Data: map[string]any{}},
		Hint:               "Environment ready",
		Done:               false,
		Metadata:           map[string]any{"info": map[string]any{}, "state": state},
	}
	return models.StepResult{Observation: obs, Reward: 0.0, Done: false, Info: map[string]any{}, State: state}, nil
}

// Step advances the episode by one defender action. Invalid defender
// input surfaces in last_action_result; only infrastructure failures
// (store, strict-mode attacker) return an error.
func (c *Controller) Step(ctx context.Context, action models.AgentAction) (models.StepResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.scenario == nil || c.store == nil {
		return models.StepResult{}, fmt.Errorf("no active episode, call reset first")
	}

	result := c.applyAction(action)

	violations := oracle.DetectInjectionViolations(action, c.contentEvidenceIDs, c.scenario.PromptInjectionPayloads)
	c.injectionViolations = append(c.injectionViolations, violations...)

	policyCtx := c.policyContext()
	decision, err := c.manager.Decide(ctx, c.policy, c.scenario, c.stepCount, c.attackerState, action, policyCtx)
	if err != nil {
		return models.StepResult{}, err
	}

	priorState := c.attackerState
	refs := attacker.ScenarioRefs{
		AttackerDomain:  c.scenario.AttackerDomain,
		PatientZeroHost: c.scenario.PatientZeroHost,
		CompromisedUser: c.scenario.CompromisedUser,
	}
	advance := attacker.Advance(c.attackerState, c.containment, refs, &decision, &c.attackerCtx, c.scenario.AttackGraph)
	c.attackerState = advance.NextState

	c.stepCount++
	if c.scenario.HasAttackGraph() {
		if err := c.emitActionArtifacts(c.stepCount, priorState, decision); err != nil {
			return models.StepResult{}, err
		}
	} else {
		if err := c.emitVariantArtifacts(c.stepCount, decision); err != nil {
			return models.StepResult{}, err
		}
	}
	if !advance.Stalled {
		var effects map[string]any
		if advance.MatchedAction != nil {
			effects = advance.MatchedAction.Effects
		}
		attacker.ApplyDecision(&c.attackerCtx, &decision, effects)
	}
	done := c.stepCount >= c.maxSteps

	newEmails, newAlerts, err := c.surfaceEvidence(c.stepCount)
	if err != nil {
		return models.StepResult{}, err
	}

	reward := 0.0
	if action.ActionType == models.ActionSubmitReport && c.groundTruth != nil {
		report, _ := action.Params["summary_json"].(map[string]any)
		executed := c.containment
		score := oracle.ScoreReport(report, c.groundTruth, c.stepCount, c.injectionViolations, &executed)
		reward = score.Reward
		result["score_details"] = score.Details
	}

	info := map[string]any{
		"action_type":          action.ActionType,
		"attacker_action":      decision,
		"attacker_stalled":     advance.Stalled,
		"attacker_reason":      advance.Reason,
		"injection_violations": append([]string{}, c.injectionViolations...),
	}
	c.logger.Debug("step complete",
		"episode_id", c.episodeID, "step", c.stepCount,
		"action_type", action.ActionType,
		"attacker_state", c.attackerState, "attacker_stalled", advance.Stalled)

	state := c.state()
	obs := models.Observation{
		ScenarioID:         c.scenario.ScenarioID,
		StepIndex:          c.stepCount,
		AttackerState:      c.attackerState,
		Containment:        c.containment,
		NewEmails:          newEmails,
		NewAlerts:          newAlerts,
		EvidenceSeenIDs:    sortedKeys(c.seenEvidenceIDs),
		EvidenceContentIDs: sortedKeys(c.contentEvidenceIDs),
		LastActionResult:   models.ActionResult{OK: true, Message: action.ActionType, Data: result},
		Done:               done,
		Reward:             &reward,
		Metadata:           map[string]any{"info": info, "state": state},
	}
	return models.StepResult{Observation: obs, Reward: reward, Done: done, Info: info, State: state}, nil
}

// State reports episode bookkeeping without advancing anything.
func (c *Controller) State() models.EpisodeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state()
}

func (c *Controller) state() models.EpisodeState {
	scenarioID := ""
	if c.scenario != nil {
		scenarioID = c.scenario.ScenarioID
	}
	return models.EpisodeState{
		EpisodeID:  c.episodeID,
		ScenarioID: scenarioID,
		StepCount:  c.stepCount,
		MaxSteps:   c.maxSteps,
		Terminated: false,
		Truncated:  c.stepCount >= c.maxSteps,
	}
}

// Close releases the current episode's store.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store != nil {
		err := c.store.Close()
		c.store = nil
		return err
	}
	return nil
}

// surfaceEvidence lists the emails and alerts emitted at step and adds
// them to the seen set. Seen is existence-level exposure; content-level
// exposure requires a fetch or a SELECT that returns the row.
func (c *Controller) surfaceEvidence(step int) ([]string, []string, error) {
	newEmails, err := c.store.EmailIDsForStep(c.scenario.ScenarioID, step)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list step emails: %w", err)
	}
	newAlerts, err := c.store.AlertIDsForStep(c.scenario.ScenarioID, step)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list step alerts: %w", err)
	}
	for _, id := range newEmails {
		c.seenEvidenceIDs[id] = true
	}
	for _, id := range newAlerts {
		c.seenEvidenceIDs[id] = true
	}
	if newEmails == nil {
		newEmails = []string{}
	}
	if newAlerts == nil {
		newAlerts = []string{}
	}
	return newEmails, newAlerts, nil
}

// emitActionArtifacts emits the artifacts attached to the graph action
// the attacker just took, matched in the state it was taken from.
func (c *Controller) emitActionArtifacts(step int, priorState string, decision attacker.Decision) error {
	if decision.ActionType == "" || decision.ActionType == "no_op" {
		return nil
	}
	node, ok := c.scenario.AttackGraph.States[priorState]
	if !ok {
		return nil
	}
	for _, ga := range node.Actions {
		if ga.ActionType != decision.ActionType {
			continue
		}
		if !paramsSubset(ga.MatchParams, decision.Params) {
			continue
		}
		for _, art := range ga.Artifacts {
			if !paramsSubset(art.MatchParams, decision.Params) {
				continue
			}
			if err := c.store.EmitArtifact(c.scenario, step, art, true); err != nil {
				return fmt.Errorf("failed to emit action artifact %s: %w", art.ArtifactID, err)
			}
		}
	}
	return nil
}

// emitVariantArtifacts scans the legacy timeline at step for artifacts
// gated on the attacker's chosen branch.
func (c *Controller) emitVariantArtifacts(step int, decision attacker.Decision) error {
	if decision.ActionType == "" || c.scenario.AttackPlan == nil {
		return nil
	}
	for _, item := range c.scenario.AttackPlan.Timeline {
		if item.Step != step {
			continue
		}
		for _, art := range item.Artifacts {
			if art.VariantActionType == "" || art.VariantActionType != decision.ActionType {
				continue
			}
			if !paramsSubset(art.VariantParams, decision.Params) {
				continue
			}
			if err := c.store.EmitArtifact(c.scenario, step, art, true); err != nil {
				return fmt.Errorf("failed to emit variant artifact %s: %w", art.ArtifactID, err)
			}
		}
	}
	return nil
}

// policyContext is the attacker-visible snapshot: containment so far and
// the assets it has not yet taken off the board. It is hashed into the
// replay cache key, so identical positions replay identically.
func (c *Controller) policyContext() map[string]any {
	hosts := c.scenario.HostIDs()
	users := c.scenario.UserIDs()
	attackerDomains := c.scenario.AttackerDomains()

	availableHosts := excludeAll(hosts, c.containment.IsolatedHosts)
	availableUsers := excludeAll(users, c.containment.ResetUsers)
	availableDomains := excludeAll(attackerDomains, c.containment.BlockedDomains)

	return map[string]any{
		"step": c.stepCount,
		"containment": map[string]any{
			"isolated_hosts":  sortedCopy(c.containment.IsolatedHosts),
			"blocked_domains": sortedCopy(c.containment.BlockedDomains),
			"reset_users":     sortedCopy(c.containment.ResetUsers),
		},
		"available_hosts":            sortedCopy(availableHosts),
		"available_users":            sortedCopy(availableUsers),
		"available_attacker_domains": sortedCopy(availableDomains),
		"compromised_hosts":          sortedCopy(c.attackerCtx.CompromisedHosts),
		"compromised_users":          sortedCopy(c.attackerCtx.CompromisedUsers),
		"current_host":               c.attackerCtx.CurrentHost,
		"current_user":               c.attackerCtx.CurrentUser,
		"current_target":             c.attackerCtx.CurrentTarget,
		"current_exfil_domain":       c.attackerCtx.CurrentExfilDomain,
		"has_creds":                  c.attackerCtx.HasCreds,
		"has_admin":                  c.attackerCtx.HasAdmin,
		"has_stage":                  c.attackerCtx.HasStage,
		"has_persistence":            c.attackerCtx.HasPersistence,
	}
}

func paramsSubset(want, got map[string]any) bool {
	for k, v := range want {
		if !reflect.DeepEqual(got[k], v) {
			return false
		}
	}
	return true
}

func excludeAll(vals, removed []string) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if !containsStr(removed, v) {
			out = append(out, v)
		}
	}
	return out
}

func sortedCopy(vals []string) []string {
	out := append([]string{}, vals...)
	sort.Strings(out)
	return out
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
