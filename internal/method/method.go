// Package method defines method documents: the ordered, declarative phase lists that
// drive a pipeline run, together with the prompt templates their standard phases use.
package method

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/makr-code/VCC-Veritas-sub002/internal/config"
)

var (
	// ErrConfigNotFound is returned when no document exists for a method id.
	ErrConfigNotFound = errors.New("method config not found")

	// ErrConfigInvalid is returned when a method document cannot be parsed or fails validation.
	ErrConfigInvalid = errors.New("method config invalid")

	// ErrPromptNotFound is returned when a phase references a missing prompt template.
	ErrPromptNotFound = errors.New("prompt template not found")
)

// ExecutorKind selects the adapter that runs a phase.
type ExecutorKind string

const (
	ExecutorStandard         ExecutorKind = "standard"
	ExecutorSupervisor       ExecutorKind = "supervisor"
	ExecutorAgentCoordinator ExecutorKind = "agent_coordinator"
)

// Conditional reports whether phases of this kind only run in supervisor mode.
func (k ExecutorKind) Conditional() bool {
	return k == ExecutorSupervisor || k == ExecutorAgentCoordinator
}

// Supervisor operations selectable through Phase.Method.
const (
	MethodSelectAgents      = "select_agents"
	MethodSynthesizeResults = "synthesize_results"
)

// Config is one method document. It is immutable once loaded.
type Config struct {
	MethodID          string              `yaml:"method_id" json:"method_id" toml:"method_id"`
	Name              string              `yaml:"name" json:"name,omitempty" toml:"name"`
	Version           string              `yaml:"version" json:"version,omitempty" toml:"version"`
	Description       string              `yaml:"description" json:"description,omitempty" toml:"description"`
	SupervisorEnabled bool                `yaml:"supervisor_enabled" json:"supervisor_enabled" toml:"supervisor_enabled"`
	Orchestration     OrchestrationConfig `yaml:"orchestration_config" json:"orchestration_config" toml:"orchestration_config"`
	Phases            []Phase             `yaml:"phases" json:"phases" toml:"phases"`

	byID    map[string]int
	schemas map[string]*jsonschema.Resolved
}

// OrchestrationConfig holds run-level policy.
type OrchestrationConfig struct {
	CriticalPhases      []string `yaml:"critical_phases" json:"critical_phases,omitempty" toml:"critical_phases"`
	MaxAgentConcurrency int      `yaml:"max_agent_concurrency" json:"max_agent_concurrency,omitempty" toml:"max_agent_concurrency"`
}

// Phase is one declared step of a method.
type Phase struct {
	PhaseID        string            `yaml:"phase_id" json:"phase_id" toml:"phase_id"`
	PhaseNumber    int               `yaml:"phase_number" json:"phase_number" toml:"phase_number"`
	Name           string            `yaml:"name" json:"name,omitempty" toml:"name"`
	Executor       ExecutorKind      `yaml:"executor" json:"executor" toml:"executor"`
	Method         string            `yaml:"method" json:"method,omitempty" toml:"method"`
	Execution      Execution         `yaml:"execution" json:"execution" toml:"execution"`
	RetryPolicy    RetryPolicy       `yaml:"retry_policy" json:"retry_policy" toml:"retry_policy"`
	OutputSchema   map[string]any    `yaml:"output_schema" json:"output_schema,omitempty" toml:"output_schema"`
	InputMapping   map[string]string `yaml:"input_mapping" json:"input_mapping,omitempty" toml:"input_mapping"`
	PromptTemplate string            `yaml:"prompt_template" json:"prompt_template,omitempty" toml:"prompt_template"`
}

// Execution holds per-call LLM parameters.
type Execution struct {
	Model       string          `yaml:"model" json:"model" toml:"model"`
	Temperature float64         `yaml:"temperature" json:"temperature" toml:"temperature"`
	MaxTokens   int             `yaml:"max_tokens" json:"max_tokens" toml:"max_tokens"`
	Timeout     config.Duration `yaml:"timeout" json:"timeout" toml:"timeout"`
}

// RetryPolicy bounds LLM retries. Attempt i runs at Temperature × TemperatureAdjustment^i.
type RetryPolicy struct {
	MaxRetries            int     `yaml:"max_retries" json:"max_retries" toml:"max_retries"`
	TemperatureAdjustment float64 `yaml:"temperature_adjustment" json:"temperature_adjustment" toml:"temperature_adjustment"`
}

// Phase returns the phase with the given id.
func (c *Config) Phase(id string) (*Phase, bool) {
	i, ok := c.byID[id]
	if !ok {
		return nil, false
	}
	return &c.Phases[i], true
}

// PhaseIDs returns the phase ids in execution order.
func (c *Config) PhaseIDs() []string {
	ids := make([]string, len(c.Phases))
	for i := range c.Phases {
		ids[i] = c.Phases[i].PhaseID
	}
	return ids
}

// IsCritical reports whether a failure of phaseID aborts the run.
func (c *Config) IsCritical(phaseID string) bool {
	for _, id := range c.Orchestration.CriticalPhases {
		if id == phaseID {
			return true
		}
	}
	return false
}

// Schema returns the compiled output schema for a phase, or nil if it has none.
func (c *Config) Schema(phaseID string) *jsonschema.Resolved {
	return c.schemas[phaseID]
}

// Prepare applies defaults, validates the document and compiles output schemas.
// Errors wrap ErrConfigInvalid.
func (c *Config) Prepare() error {
	if len(c.Phases) == 0 {
		return fmt.Errorf("%w: method %q declares no phases", ErrConfigInvalid, c.MethodID)
	}

	var errs []error
	c.byID = make(map[string]int, len(c.Phases))
	c.schemas = make(map[string]*jsonschema.Resolved)

	for i := range c.Phases {
		p := &c.Phases[i]
		p.applyDefaults()

		if p.PhaseID == "" {
			errs = append(errs, fmt.Errorf("phase %d: phase_id is required", i))
			continue
		}
		if _, dup := c.byID[p.PhaseID]; dup {
			errs = append(errs, fmt.Errorf("phase %q: duplicate phase_id", p.PhaseID))
			continue
		}
		c.byID[p.PhaseID] = i

		if err := p.validate(); err != nil {
			errs = append(errs, fmt.Errorf("phase %q: %w", p.PhaseID, err))
			continue
		}

		if len(p.OutputSchema) > 0 {
			resolved, err := compileSchema(p.OutputSchema)
			if err != nil {
				errs = append(errs, fmt.Errorf("phase %q: output_schema: %w", p.PhaseID, err))
				continue
			}
			c.schemas[p.PhaseID] = resolved
		}
	}

	for _, id := range c.Orchestration.CriticalPhases {
		if _, ok := c.byID[id]; !ok {
			errs = append(errs, fmt.Errorf("critical phase %q is not declared", id))
		}
	}
	if c.Orchestration.MaxAgentConcurrency < 0 {
		errs = append(errs, errors.New("orchestration_config.max_agent_concurrency must be >= 0"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: method %q: %w", ErrConfigInvalid, c.MethodID, err)
	}
	return nil
}

func (p *Phase) applyDefaults() {
	if p.Executor == "" {
		p.Executor = ExecutorStandard
	}
	if p.RetryPolicy.TemperatureAdjustment == 0 {
		p.RetryPolicy.TemperatureAdjustment = 1.0
	}
	if p.Executor == ExecutorStandard && p.PromptTemplate == "" {
		p.PromptTemplate = p.PhaseID
	}
}

func (p *Phase) validate() error {
	switch p.Executor {
	case ExecutorStandard:
	case ExecutorSupervisor:
		if p.Method != MethodSelectAgents && p.Method != MethodSynthesizeResults {
			return fmt.Errorf("supervisor method must be %s or %s, got %q",
				MethodSelectAgents, MethodSynthesizeResults, p.Method)
		}
		if len(p.InputMapping) == 0 {
			return errors.New("input_mapping is required for supervisor phases")
		}
	case ExecutorAgentCoordinator:
		if len(p.InputMapping) == 0 {
			return errors.New("input_mapping is required for agent_coordinator phases")
		}
	default:
		return fmt.Errorf("unknown executor %q", p.Executor)
	}

	if p.RetryPolicy.MaxRetries < 0 {
		return fmt.Errorf("retry_policy.max_retries must be >= 0, got %d", p.RetryPolicy.MaxRetries)
	}
	if f := p.RetryPolicy.TemperatureAdjustment; f <= 0 || f > 1 {
		return fmt.Errorf("retry_policy.temperature_adjustment must be in (0, 1], got %v", f)
	}
	if p.Execution.Temperature < 0 {
		return fmt.Errorf("execution.temperature must be >= 0, got %v", p.Execution.Temperature)
	}
	if p.Execution.MaxTokens < 0 {
		return fmt.Errorf("execution.max_tokens must be >= 0, got %d", p.Execution.MaxTokens)
	}
	return nil
}

// compileSchema round-trips the decoded document through JSON so that YAML and TOML
// sources produce the same jsonschema.Schema.
func compileSchema(doc map[string]any) (*jsonschema.Resolved, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, err
	}
	return schema.Resolve(nil)
}

// ValidateOutput checks payload against the phase schema and returns one message per
// violation. A phase without a schema always validates.
func (c *Config) ValidateOutput(phaseID string, payload map[string]any) []string {
	resolved := c.Schema(phaseID)
	if resolved == nil {
		return nil
	}
	err := resolved.Validate(payload)
	if err == nil {
		return nil
	}
	var msgs []string
	for _, line := range strings.Split(err.Error(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			msgs = append(msgs, line)
		}
	}
	return msgs
}
