package render

import (
	"strconv"
	"strings"

	"github.com/haasonsaas/weave/pkg/models"
)

// TOML renders fragments as an array of tables, one per fragment.
type TOML struct{}

// NewTOML creates a TOML renderer.
func NewTOML() *TOML { return &TOML{} }

func (r *TOML) Name() string { return "toml" }

func (r *TOML) Render(fragments []models.Fragment) (string, error) {
	var b strings.Builder
	for i, frag := range visible(fragments) {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("[[fragment]]\n")
		b.WriteString("name = ")
		b.WriteString(strconv.Quote(frag.Name))
		b.WriteString("\nkind = ")
		b.WriteString(strconv.Quote(string(frag.Kind)))
		b.WriteString("\ntext = ")
		b.WriteString(strconv.Quote(frag.Text()))
		b.WriteString("\n")
	}
	return b.String(), nil
}

// ByName returns the renderer for a format name, defaulting to XML.
func ByName(name string) Renderer {
	switch strings.ToLower(name) {
	case "markdown", "md":
		return NewMarkdown()
	case "toml":
		return NewTOML()
	default:
		return NewXML()
	}
}
