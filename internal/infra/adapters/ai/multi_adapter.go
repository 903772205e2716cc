package ai

import (
	"context"
	"errors"
	"sort"
	"strings"

	"propulse/internal/domain/ports/adapter"
)

var _ adapter.AIServiceAdapter = (*MultiAIAdapter)(nil)

// ErrNoProvider is returned when no provider adapter is configured.
var ErrNoProvider = errors.New("ai: no provider configured")

type MultiAIAdapter struct {
	defaultProvider string // e.g., "openai" or "gemini"
	byProvider      map[string]adapter.AIServiceAdapter
	modelToProvider map[string]string // model -> provider ("openai" | "gemini")
}

// NewMultiAIAdapter routes by model name. Each provider adapter owns its default model.
func NewMultiAIAdapter(
	defaultProvider string,
	byProvider map[string]adapter.AIServiceAdapter,
	modelToProvider map[string]string,
) *MultiAIAdapter {
	return &MultiAIAdapter{
		defaultProvider: strings.ToLower(defaultProvider),
		byProvider:      byProvider,
		modelToProvider: modelToProvider,
	}
}

func (m *MultiAIAdapter) Name() string { return "multi" }

func (m *MultiAIAdapter) resolveProvider(model string) string {
	if p := m.modelToProvider[model]; p != "" {
		return strings.ToLower(p)
	}
	l := strings.ToLower(model)
	switch {
	case strings.HasPrefix(l, "gemini"):
		return "gemini"
	case strings.HasPrefix(l, "gpt"), strings.HasPrefix(l, "o1"), strings.HasPrefix(l, "o3"), strings.HasPrefix(l, "o4"):
		return "openai"
	default:
		return m.defaultProvider
	}
}

// pick reports exact=false when it falls back to a provider the model was not meant for.
func (m *MultiAIAdapter) pick(model string) (a adapter.AIServiceAdapter, exact bool) {
	prov := m.resolveProvider(model)
	if a := m.byProvider[prov]; a != nil {
		return a, true
	}
	// last resort: first available, in a stable order
	names := make([]string, 0, len(m.byProvider))
	for name := range m.byProvider {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if a := m.byProvider[name]; a != nil {
			return a, false
		}
	}
	return nil, false
}

func (m *MultiAIAdapter) ChatWithUsage(ctx context.Context, model string, messages []adapter.Message) (string, adapter.Usage, error) {
	a, exact := m.pick(model)
	if a == nil {
		return "", adapter.Usage{}, ErrNoProvider
	}
	if !exact {
		// the fallback provider uses its own default model
		model = ""
	}
	return a.ChatWithUsage(ctx, model, messages)
}
