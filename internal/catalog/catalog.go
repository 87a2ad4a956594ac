// Package catalog provides a registry of LLM models with their providers,
// context windows and per-token pricing. The catalog is constructed once,
// passed in as an explicit dependency and treated as immutable afterwards.
package catalog

import (
	"sort"
	"strings"
	"sync"
)

// Provider identifies an LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderGoogle    Provider = "google"
	ProviderMistral   Provider = "mistral"
	ProviderOllama    Provider = "ollama"
)

// Model represents an LLM model with its pricing metadata.
type Model struct {
	// ID is the model identifier used in API calls.
	ID string `json:"id"`

	// Name is a human-readable name.
	Name string `json:"name"`

	// Provider is the LLM provider.
	Provider Provider `json:"provider"`

	// ContextWindow is the maximum context size in tokens.
	ContextWindow int `json:"context_window"`

	// Aliases are alternative names for this model.
	Aliases []string `json:"aliases,omitempty"`

	// InputPrice is the price per million input tokens (USD).
	InputPrice float64 `json:"input_price,omitempty"`

	// OutputPrice is the price per million output tokens (USD).
	OutputPrice float64 `json:"output_price,omitempty"`
}

// Catalog manages a collection of models.
type Catalog struct {
	models  map[string]*Model // id -> model
	aliases map[string]string // alias -> id
	mu      sync.RWMutex
}

// New creates a catalog populated with the built-in models.
func New() *Catalog {
	c := &Catalog{
		models:  make(map[string]*Model),
		aliases: make(map[string]string),
	}
	c.registerBuiltinModels()
	return c
}

// Register adds a model to the catalog. Intended for construction time;
// the catalog is read-only once shared.
func (c *Catalog) Register(model *Model) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.models[model.ID] = model
	for _, alias := range model.Aliases {
		c.aliases[strings.ToLower(alias)] = model.ID
	}
}

// Get retrieves a model by ID or alias.
func (c *Catalog) Get(id string) (*Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if model, ok := c.models[id]; ok {
		return model, true
	}
	if realID, ok := c.aliases[strings.ToLower(id)]; ok {
		return c.models[realID], true
	}
	return nil, false
}

// Exists reports whether the model ID or alias resolves.
func (c *Catalog) Exists(id string) bool {
	_, ok := c.Get(id)
	return ok
}

// List returns all models sorted by provider then name.
func (c *Catalog) List() []*Model {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]*Model, 0, len(c.models))
	for _, model := range c.models {
		result = append(result, model)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Provider != result[j].Provider {
			return result[i].Provider < result[j].Provider
		}
		return result[i].Name < result[j].Name
	})
	return result
}

func (c *Catalog) registerBuiltinModels() {
	c.Register(&Model{
		ID:            "claude-opus-4",
		Name:          "Claude Opus 4",
		Provider:      ProviderAnthropic,
		ContextWindow: 200000,
		Aliases:       []string{"opus"},
		InputPrice:    15.0,
		OutputPrice:   75.0,
	})
	c.Register(&Model{
		ID:            "claude-3-5-sonnet-latest",
		Name:          "Claude 3.5 Sonnet",
		Provider:      ProviderAnthropic,
		ContextWindow: 200000,
		Aliases:       []string{"claude-3-5-sonnet", "sonnet"},
		InputPrice:    3.0,
		OutputPrice:   15.0,
	})
	c.Register(&Model{
		ID:            "claude-3-5-haiku-latest",
		Name:          "Claude 3.5 Haiku",
		Provider:      ProviderAnthropic,
		ContextWindow: 200000,
		Aliases:       []string{"claude-3-5-haiku", "haiku"},
		InputPrice:    0.8,
		OutputPrice:   4.0,
	})
	c.Register(&Model{
		ID:            "gpt-4o",
		Name:          "GPT-4o",
		Provider:      ProviderOpenAI,
		ContextWindow: 128000,
		Aliases:       []string{"gpt-4o-2024-11-20"},
		InputPrice:    2.5,
		OutputPrice:   10.0,
	})
	c.Register(&Model{
		ID:            "gpt-4o-mini",
		Name:          "GPT-4o Mini",
		Provider:      ProviderOpenAI,
		ContextWindow: 128000,
		Aliases:       []string{"gpt-4o-mini-2024-07-18"},
		InputPrice:    0.15,
		OutputPrice:   0.6,
	})
	c.Register(&Model{
		ID:            "gemini-2.0-flash",
		Name:          "Gemini 2.0 Flash",
		Provider:      ProviderGoogle,
		ContextWindow: 1000000,
		Aliases:       []string{"gemini-flash"},
		InputPrice:    0.1,
		OutputPrice:   0.4,
	})
	c.Register(&Model{
		ID:            "mistral-large-latest",
		Name:          "Mistral Large",
		Provider:      ProviderMistral,
		ContextWindow: 128000,
		Aliases:       []string{"mistral-large"},
		InputPrice:    2.0,
		OutputPrice:   6.0,
	})
}
