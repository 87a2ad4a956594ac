package catalog

import "testing"

func TestGetByIDAndAlias(t *testing.T) {
	c := New()

	tests := []struct {
		query  string
		wantID string
	}{
		{"claude-opus-4", "claude-opus-4"},
		{"opus", "claude-opus-4"},
		{"OPUS", "claude-opus-4"},
		{"sonnet", "claude-3-5-sonnet-latest"},
		{"gpt-4o", "gpt-4o"},
		{"gemini-flash", "gemini-2.0-flash"},
	}
	for _, tt := range tests {
		model, ok := c.Get(tt.query)
		if !ok {
			t.Errorf("Get(%q) not found", tt.query)
			continue
		}
		if model.ID != tt.wantID {
			t.Errorf("Get(%q).ID = %q, want %q", tt.query, model.ID, tt.wantID)
		}
	}

	if _, ok := c.Get("no-such-model"); ok {
		t.Error("Get(no-such-model) found")
	}
	if c.Exists("no-such-model") {
		t.Error("Exists(no-such-model) = true")
	}
}

func TestRegisterCustomModel(t *testing.T) {
	c := New()
	c.Register(&Model{
		ID:       "llama3",
		Name:     "Llama 3",
		Provider: ProviderOllama,
		Aliases:  []string{"llama"},
	})

	model, ok := c.Get("llama")
	if !ok || model.ID != "llama3" {
		t.Errorf("custom alias not resolved: %+v, %v", model, ok)
	}
}

func TestListSorted(t *testing.T) {
	c := New()
	list := c.List()
	if len(list) == 0 {
		t.Fatal("empty catalog")
	}
	for i := 1; i < len(list); i++ {
		prev, cur := list[i-1], list[i]
		if prev.Provider > cur.Provider {
			t.Fatalf("providers out of order at %d: %s > %s", i, prev.Provider, cur.Provider)
		}
		if prev.Provider == cur.Provider && prev.Name > cur.Name {
			t.Fatalf("names out of order at %d: %s > %s", i, prev.Name, cur.Name)
		}
	}
}

func TestBuiltinPricing(t *testing.T) {
	c := New()
	for _, model := range c.List() {
		if model.InputPrice <= 0 || model.OutputPrice <= 0 {
			t.Errorf("model %s has no pricing", model.ID)
		}
		if model.ContextWindow <= 0 {
			t.Errorf("model %s has no context window", model.ID)
		}
	}
}
