package attacker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"github.com/jbarnes850/opensec-env/pkg/models"
	"github.com/jbarnes850/opensec-env/pkg/scenario"
)

// maxDecisionTokens caps policy completions. A decision is one small
// JSON object; anything longer is the model rambling.
const maxDecisionTokens = 96

// RemotePolicy drives the attacker from an OpenAI-compatible chat
// endpoint, which covers both hosted APIs and local inference servers.
type RemotePolicy struct {
	llm         llms.Model
	model       string
	temperature float64
	strict      bool
	logger      *slog.Logger
}

// RemoteOptions configures a RemotePolicy.
type RemoteOptions struct {
	Model       string
	Temperature float64
	BaseURL     string
	APIKey      string
	Strict      bool
	Logger      *slog.Logger
}

// NewRemotePolicy builds a policy backed by the configured endpoint.
func NewRemotePolicy(opts RemoteOptions) (*RemotePolicy, error) {
	clientOpts := []openai.Option{openai.WithModel(opts.Model)}
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, openai.WithToken(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, openai.WithBaseURL(opts.BaseURL))
	}
	llm, err := openai.New(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create attacker LLM client: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RemotePolicy{
		llm:         llm,
		model:       opts.Model,
		temperature: opts.Temperature,
		strict:      opts.Strict,
		logger:      logger,
	}, nil
}

// Model returns the configured model name, recorded as cache provenance.
func (p *RemotePolicy) Model() string { return p.model }

// Temperature returns the sampling temperature, recorded as cache provenance.
func (p *RemotePolicy) Temperature() float64 { return p.temperature }

// ChooseAction implements Policy.
func (p *RemotePolicy) ChooseAction(
	ctx context.Context,
	sc *scenario.Scenario,
	attackerState string,
	defenderAction models.AgentAction,
	policyCtx map[string]any,
) (Decision, error) {
	if policyCtx == nil {
		policyCtx = map[string]any{}
	}
	userInput := map[string]any{
		"attacker_state":      attackerState,
		"allowed_actions":     AllowedActionsForState(sc, attackerState),
		"action_schema":       ActionSchemaForState(sc, attackerState),
		"entities":            sc.Entities,
		"recent_agent_action": defenderAction,
		"attacker_context":    policyCtx,
	}
	payload, err := json.Marshal(userInput)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to encode policy prompt: %w", err)
	}

	resp, err := p.llm.GenerateContent(ctx,
		[]llms.MessageContent{
			llms.TextParts(schema.ChatMessageTypeSystem, SystemPrompt),
			llms.TextParts(schema.ChatMessageTypeHuman, string(payload)),
		},
		llms.WithTemperature(p.temperature),
		llms.WithMaxTokens(maxDecisionTokens),
		llms.WithJSONMode(),
	)
	if err != nil {
		if p.strict {
			return Decision{}, fmt.Errorf("attacker inference failed: %w", err)
		}
		p.logger.Warn("attacker inference failed, substituting no_op", "error", err)
		return NoOp(), nil
	}
	if len(resp.Choices) == 0 {
		if p.strict {
			return Decision{}, fmt.Errorf("attacker inference returned no choices")
		}
		return NoOp(), nil
	}

	decision, err := ParseDecision(resp.Choices[0].Content)
	if err != nil {
		if p.strict {
			return Decision{}, fmt.Errorf("attacker returned invalid json: %w", err)
		}
		p.logger.Warn("attacker returned invalid json, substituting no_op",
			"state", attackerState, "error", err)
		return Decision{ActionType: "no_op", Params: map[string]any{}, Rationale: "invalid_json"}, nil
	}
	return decision, nil
}
