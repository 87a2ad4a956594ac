package estimate

import (
	"errors"
	"strings"
	"testing"

	"github.com/haasonsaas/weave/internal/catalog"
	"github.com/haasonsaas/weave/pkg/models"
)

func TestTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"four chars", "abcd", 1},
		{"rounds up", "abcde", 2},
		{"word floor", "a b c d e f", 6},
		{"long text", strings.Repeat("word ", 100), 125},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Tokens(tt.text); got != tt.want {
				t.Errorf("Tokens(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestFragments(t *testing.T) {
	est := New(catalog.New())
	fragments := []models.Fragment{
		models.Role("a helpful assistant persona"),
		models.User("what is a monad"),
	}

	result, err := est.Fragments("gpt-4o", fragments)
	if err != nil {
		t.Fatalf("fragments: %v", err)
	}
	if result.Model != "gpt-4o" || result.Provider != string(catalog.ProviderOpenAI) {
		t.Errorf("model = %q provider = %q", result.Model, result.Provider)
	}
	if len(result.Fragments) != 2 {
		t.Fatalf("breakdown len = %d, want 2", len(result.Fragments))
	}
	sum := 0
	for _, f := range result.Fragments {
		if f.Tokens <= 0 || f.Chars <= 0 {
			t.Errorf("fragment %q: tokens=%d chars=%d", f.Name, f.Tokens, f.Chars)
		}
		sum += f.Tokens
	}
	if sum != result.Tokens {
		t.Errorf("total %d != sum of fragments %d", result.Tokens, sum)
	}
	if result.Cost <= 0 {
		t.Errorf("cost = %f, want positive", result.Cost)
	}
}

func TestFragmentsUnknownModel(t *testing.T) {
	est := New(catalog.New())
	if _, err := est.Fragments("no-such-model", nil); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("err = %v, want ErrModelNotFound", err)
	}
}

func TestFragmentsResolvesAlias(t *testing.T) {
	est := New(catalog.New())
	result, err := est.Fragments("haiku", []models.Fragment{models.User("hi")})
	if err != nil {
		t.Fatalf("fragments: %v", err)
	}
	if result.Model != "claude-3-5-haiku-latest" {
		t.Errorf("model = %q, alias not resolved", result.Model)
	}
}

func TestEstimateDeterminism(t *testing.T) {
	est := New(catalog.New())
	fragments := []models.Fragment{
		models.Hint("settings", map[string]any{"z": "last", "a": "first"}),
		models.User("same question"),
	}
	first, err := est.Fragments("opus", fragments)
	if err != nil {
		t.Fatalf("fragments: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, _ := est.Fragments("opus", fragments)
		if again.Tokens != first.Tokens || again.Cost != first.Cost {
			t.Fatalf("estimate not deterministic: %+v vs %+v", first, again)
		}
	}
}
