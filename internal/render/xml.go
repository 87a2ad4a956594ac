package render

import (
	"encoding/xml"
	"strings"

	"github.com/haasonsaas/weave/pkg/models"
)

// XML renders each fragment as an escaped element named after the
// fragment.
type XML struct{}

// NewXML creates an XML renderer.
func NewXML() *XML { return &XML{} }

func (r *XML) Name() string { return "xml" }

func (r *XML) Render(fragments []models.Fragment) (string, error) {
	var b strings.Builder
	for i, frag := range visible(fragments) {
		if i > 0 {
			b.WriteString("\n")
		}
		tag := elementName(frag.Name)
		b.WriteString("<")
		b.WriteString(tag)
		b.WriteString(">")
		if err := xml.EscapeText(&b, []byte(frag.Text())); err != nil {
			return "", err
		}
		b.WriteString("</")
		b.WriteString(tag)
		b.WriteString(">")
	}
	return b.String(), nil
}

// elementName sanitizes a fragment name into a valid element name.
func elementName(name string) string {
	if name == "" {
		return "fragment"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	out := b.String()
	if out[0] >= '0' && out[0] <= '9' {
		out = "f-" + out
	}
	return out
}
