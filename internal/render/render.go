// Package render turns an ordered fragment list into a prompt string.
// Renderers are pure and deterministic: the same fragments always produce
// the same output, and fragments with a null or empty payload are skipped
// without altering the output of their neighbours.
package render

import (
	"github.com/haasonsaas/weave/pkg/models"
)

// Renderer formats an ordered fragment list. The engine depends only on
// this interface, never on a concrete format.
type Renderer interface {
	// Render formats the fragments in order.
	Render(fragments []models.Fragment) (string, error)

	// Name identifies the format ("xml", "markdown", "toml").
	Name() string
}

// visible filters out fragments with no payload.
func visible(fragments []models.Fragment) []models.Fragment {
	out := make([]models.Fragment, 0, len(fragments))
	for _, frag := range fragments {
		if frag.Empty() {
			continue
		}
		out = append(out, frag)
	}
	return out
}
