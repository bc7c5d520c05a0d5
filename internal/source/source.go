// Package source describes the parameterized inputs of the summarization pipeline.
package source

import (
	"errors"
	"fmt"
	"sort"

	"KnowledgeDigest/internal/domain"
	"KnowledgeDigest/internal/ports"
	"KnowledgeDigest/internal/prompt"
)

// Definition carries everything the pipeline needs to run one source.
type Definition struct {
	Category domain.Category
	Opener   ports.SourceOpener
	Build    prompt.BuildFunc
	Params   domain.ModelParams
	// MinDetails skips groups with fewer context rows. Zero disables the guard.
	MinDetails int
}

// Validate reports missing wiring.
func (d Definition) Validate() error {
	var errs []error
	if d.Category == "" {
		errs = append(errs, errors.New("category is empty"))
	}
	if d.Opener == nil {
		errs = append(errs, errors.New("opener is nil"))
	}
	if d.Build == nil {
		errs = append(errs, errors.New("prompt builder is nil"))
	}
	if d.MinDetails < 0 {
		errs = append(errs, errors.New("min details is negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("source %s: %w", d.Category, err)
	}
	return nil
}

// Registry keeps a mapping from categories to their definitions.
type Registry struct {
	defs map[domain.Category]Definition
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: map[domain.Category]Definition{}}
}

// Register adds or replaces a definition.
func (r *Registry) Register(def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if r.defs == nil {
		r.defs = map[domain.Category]Definition{}
	}
	r.defs[def.Category] = def
	return nil
}

// Resolve returns a definition by category or an error if it is absent.
func (r *Registry) Resolve(category domain.Category) (Definition, error) {
	if def, ok := r.defs[category]; ok {
		return def, nil
	}
	return Definition{}, fmt.Errorf("source %s is not registered", category)
}

// Categories lists registered sources in pipeline order; unknown categories sort last by name.
func (r *Registry) Categories() []domain.Category {
	rank := map[domain.Category]int{}
	for i, c := range domain.Categories() {
		rank[c] = i
	}

	out := make([]domain.Category, 0, len(r.defs))
	for c := range r.defs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, iok := rank[out[i]]
		rj, jok := rank[out[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return out[i] < out[j]
		}
	})
	return out
}
