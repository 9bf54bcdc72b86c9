package prompt

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-pkgz/lgr"

	"github.com/sqlscope/sqlscope/pkg/config"
)

// Registry caches built system prompts per use case. Prompts are expensive to
// build (warehouse metadata queries), so they are constructed lazily and
// refreshed by the scheduler.
type Registry struct {
	builder  *Builder
	useCases []config.UseCaseConfig

	mu      sync.RWMutex
	prompts map[string]string // lower-cased use case name -> system prompt
}

// NewRegistry creates a registry for the configured use cases
func NewRegistry(builder *Builder, useCases []config.UseCaseConfig) *Registry {
	return &Registry{
		builder:  builder,
		useCases: useCases,
		prompts:  make(map[string]string),
	}
}

// SystemPrompt returns the cached system prompt for a use case, building it
// on first access
func (r *Registry) SystemPrompt(ctx context.Context, useCase string) (string, error) {
	key := strings.ToLower(useCase)

	r.mu.RLock()
	p, ok := r.prompts[key]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}

	uc := r.findUseCase(useCase)
	if uc == nil {
		return "", fmt.Errorf("unknown use case %q", useCase)
	}

	built, err := r.builder.SystemPrompt(ctx, *uc)
	if err != nil {
		return "", fmt.Errorf("build system prompt for %q: %w", useCase, err)
	}

	r.mu.Lock()
	r.prompts[key] = built
	r.mu.Unlock()

	return built, nil
}

// Refresh rebuilds prompts for all use cases that were built before. Errors
// on individual use cases keep the previous prompt in place.
func (r *Registry) Refresh(ctx context.Context) {
	for _, uc := range r.useCases {
		key := strings.ToLower(uc.Name)

		r.mu.RLock()
		_, built := r.prompts[key]
		r.mu.RUnlock()
		if !built {
			continue // never requested, keep it lazy
		}

		fresh, err := r.builder.SystemPrompt(ctx, uc)
		if err != nil {
			lgr.Printf("[WARN] failed to refresh prompt for %q: %v", uc.Name, err)
			continue
		}

		r.mu.Lock()
		r.prompts[key] = fresh
		r.mu.Unlock()
		lgr.Printf("[DEBUG] refreshed system prompt for %q", uc.Name)
	}
}

// Known reports whether a use case is configured
func (r *Registry) Known(useCase string) bool {
	return r.findUseCase(useCase) != nil
}

func (r *Registry) findUseCase(name string) *config.UseCaseConfig {
	for i := range r.useCases {
		if strings.EqualFold(r.useCases[i].Name, name) {
			return &r.useCases[i]
		}
	}
	return nil
}
