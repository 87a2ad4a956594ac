package render

import (
	"strings"

	"github.com/haasonsaas/weave/pkg/models"
)

// Markdown renders each fragment as a heading followed by its text.
type Markdown struct{}

// NewMarkdown creates a Markdown renderer.
func NewMarkdown() *Markdown { return &Markdown{} }

func (r *Markdown) Name() string { return "markdown" }

func (r *Markdown) Render(fragments []models.Fragment) (string, error) {
	var b strings.Builder
	for i, frag := range visible(fragments) {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("## ")
		b.WriteString(frag.Name)
		b.WriteString("\n\n")
		b.WriteString(frag.Text())
	}
	return b.String(), nil
}
