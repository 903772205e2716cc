package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"propulse/internal/domain/ports/adapter"
)

var _ adapter.AIServiceAdapter = (*NoopAIAdapter)(nil)

// NoopAIAdapter answers with a canned proposal. It is wired when no provider key is configured.
type NoopAIAdapter struct {
	log   zerolog.Logger
	delay time.Duration
}

func NewNoopAIAdapter(logger *zerolog.Logger) *NoopAIAdapter {
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	return &NoopAIAdapter{log: l.With().Str("component", "noop-ai").Logger(), delay: 100 * time.Millisecond}
}

func (a *NoopAIAdapter) Name() string { return "noop" }

func (a *NoopAIAdapter) ChatWithUsage(ctx context.Context, model string, messages []adapter.Message) (string, adapter.Usage, error) {
	select {
	case <-time.After(a.delay):
	case <-ctx.Done():
		return "", adapter.Usage{}, ctx.Err()
	}
	words := 0
	for _, m := range messages {
		words += len(strings.Fields(m.Content))
	}
	a.log.Debug().Str("model", model).Int("messages", len(messages)).Msg("noop generation")
	text := fmt.Sprintf("Hello,\n\nI read your post carefully and can start right away. (noop reply to %d words)\n\nBest regards", words)
	return text, adapter.Usage{PromptTokens: words, CompletionTokens: len(strings.Fields(text)), TotalTokens: words + len(strings.Fields(text))}, nil
}
