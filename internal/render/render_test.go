package render

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/haasonsaas/weave/pkg/models"
)

func TestXMLRender(t *testing.T) {
	fragments := []models.Fragment{
		models.Role("be <helpful> & honest"),
		models.User("hello"),
	}
	out, err := NewXML().Render(fragments)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "<role>be &lt;helpful&gt; &amp; honest</role>\n<user>hello</user>"
	if out != want {
		t.Errorf("render =\n%s\nwant\n%s", out, want)
	}
}

func TestXMLElementName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"role", "role"},
		{"my fragment!", "my-fragment-"},
		{"2nd-try", "f-2nd-try"},
		{"", "fragment"},
		{"snake_case", "snake_case"},
	}
	for _, tt := range tests {
		if got := elementName(tt.in); got != tt.want {
			t.Errorf("elementName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEmptyFragmentsAreSkipped(t *testing.T) {
	fragments := []models.Fragment{
		models.Role("first"),
		{Kind: models.FragmentHint, Name: "blank", Data: json.RawMessage(`null`)},
		{Kind: models.FragmentHint, Name: "missing"},
		models.User("last"),
	}
	for _, r := range []Renderer{NewXML(), NewMarkdown(), NewTOML()} {
		out, err := r.Render(fragments)
		if err != nil {
			t.Fatalf("%s render: %v", r.Name(), err)
		}
		if strings.Contains(out, "blank") || strings.Contains(out, "missing") {
			t.Errorf("%s rendered empty fragments:\n%s", r.Name(), out)
		}
		if !strings.Contains(out, "first") || !strings.Contains(out, "last") {
			t.Errorf("%s dropped non-empty fragments:\n%s", r.Name(), out)
		}
	}
}

func TestMarkdownRender(t *testing.T) {
	out, err := NewMarkdown().Render([]models.Fragment{
		models.Role("persona"),
		models.User("question"),
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "## role\n\npersona\n\n## user\n\nquestion"
	if out != want {
		t.Errorf("render =\n%s\nwant\n%s", out, want)
	}
}

func TestTOMLRender(t *testing.T) {
	out, err := NewTOML().Render([]models.Fragment{models.User(`say "hi"`)})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "[[fragment]]\nname = \"user\"\nkind = \"user\"\ntext = \"say \\\"hi\\\"\"\n"
	if out != want {
		t.Errorf("render =\n%s\nwant\n%s", out, want)
	}
}

func TestByName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"xml", "xml"},
		{"markdown", "markdown"},
		{"md", "markdown"},
		{"toml", "toml"},
		{"TOML", "toml"},
		{"", "xml"},
		{"unknown", "xml"},
	}
	for _, tt := range tests {
		if got := ByName(tt.in).Name(); got != tt.want {
			t.Errorf("ByName(%q).Name() = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRenderDeterminism(t *testing.T) {
	fragments := []models.Fragment{
		models.Hint("prefs", map[string]any{"b": 2, "a": 1, "c": "three"}),
	}
	first, err := NewXML().Render(fragments)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, _ := NewXML().Render(fragments)
		if again != first {
			t.Fatalf("render not deterministic:\n%s\n---\n%s", first, again)
		}
	}
}
