// Package estimate maps composed context fragments and a model identifier
// to token counts and a cost estimate, using the model catalog for pricing.
// Estimation is pure: identical inputs always produce identical results.
package estimate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/haasonsaas/weave/internal/catalog"
	"github.com/haasonsaas/weave/pkg/models"
)

// ErrModelNotFound is returned when a model ID does not resolve in the
// catalog.
var ErrModelNotFound = errors.New("model not found")

// Estimator computes token and cost estimates against a catalog.
type Estimator struct {
	catalog *catalog.Catalog
}

// New creates an estimator over the given catalog.
func New(c *catalog.Catalog) *Estimator {
	return &Estimator{catalog: c}
}

// Tokens estimates the token count for a single text. Roughly 4 characters
// per token, floored at the word count so short texts are not
// underestimated.
func Tokens(text string) int {
	if text == "" {
		return 0
	}
	tokens := (len(text) + 3) / 4
	if words := len(strings.Fields(text)); words > tokens {
		tokens = words
	}
	return tokens
}

// Fragments estimates the composed fragment list for a model and returns
// the per-fragment breakdown, total and input cost. Unknown model IDs fail
// with ErrModelNotFound rather than silently estimating zero.
func (e *Estimator) Fragments(modelID string, fragments []models.Fragment) (*models.Estimate, error) {
	model, ok := e.catalog.Get(modelID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, modelID)
	}

	result := &models.Estimate{
		Model:     model.ID,
		Provider:  string(model.Provider),
		Fragments: make([]models.FragmentEstimate, 0, len(fragments)),
	}
	for _, frag := range fragments {
		text := frag.Text()
		tokens := Tokens(text)
		result.Tokens += tokens
		result.Fragments = append(result.Fragments, models.FragmentEstimate{
			Name:   frag.Name,
			Kind:   string(frag.Kind),
			Tokens: tokens,
			Chars:  len(text),
		})
	}
	result.Cost = float64(result.Tokens) * model.InputPrice / 1_000_000
	return result, nil
}

// Texts estimates raw rendered texts for a model.
func (e *Estimator) Texts(modelID string, texts ...string) (*models.Estimate, error) {
	model, ok := e.catalog.Get(modelID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, modelID)
	}

	result := &models.Estimate{
		Model:     model.ID,
		Provider:  string(model.Provider),
		Fragments: make([]models.FragmentEstimate, 0, len(texts)),
	}
	for _, text := range texts {
		tokens := Tokens(text)
		result.Tokens += tokens
		result.Fragments = append(result.Fragments, models.FragmentEstimate{
			Tokens: tokens,
			Chars:  len(text),
		})
	}
	result.Cost = float64(result.Tokens) * model.InputPrice / 1_000_000
	return result, nil
}
