package method

import "fmt"

// PromptTemplate is the static part of a standard phase prompt.
type PromptTemplate struct {
	ID                string    `yaml:"id" json:"id" toml:"id"`
	Role              string    `yaml:"role" json:"role" toml:"role"`
	Task              string    `yaml:"task" json:"task" toml:"task"`
	Methodology       string    `yaml:"methodology" json:"methodology" toml:"methodology"`
	Instructions      []string  `yaml:"instructions" json:"instructions" toml:"instructions"`
	RequiredFields    []string  `yaml:"required_fields" json:"required_fields" toml:"required_fields"`
	QualityGuidelines []string  `yaml:"quality_guidelines" json:"quality_guidelines" toml:"quality_guidelines"`
	Examples          []Example `yaml:"examples" json:"examples" toml:"examples"`
}

// Example is a worked input/output pair shown to the model.
type Example struct {
	Input  string `yaml:"input" json:"input" toml:"input"`
	Output string `yaml:"output" json:"output" toml:"output"`
}

// PromptSource resolves prompt template references.
type PromptSource interface {
	LoadPrompt(ref string) (*PromptTemplate, error)
}

// StaticPrompts is an in-memory PromptSource keyed by reference.
type StaticPrompts map[string]*PromptTemplate

// LoadPrompt implements PromptSource.
func (s StaticPrompts) LoadPrompt(ref string) (*PromptTemplate, error) {
	if t, ok := s[ref]; ok && t != nil {
		return t, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrPromptNotFound, ref)
}
