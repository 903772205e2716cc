package ai

import (
	"strings"
	"time"

	"propulse/internal/domain/ports/adapter"
	"propulse/internal/infra/metrics"
)

func observe(provider, model string, u adapter.Usage, start time.Time, ok bool) {
	metrics.ObserveChatUsage(provider, model, u.PromptTokens, u.CompletionTokens, int(time.Since(start).Milliseconds()), ok)
}

func modelOrDefault(model, def string) string {
	if strings.TrimSpace(model) != "" {
		return model
	}
	return def
}
