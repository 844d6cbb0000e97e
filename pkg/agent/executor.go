package agent

import (
	"context"
	"log/slog"
)

// RunSingleAgent executes one agent to completion and returns its final
// text output. Intermediate messages and tool chatter are discarded; only
// the last non-empty message matters.
func RunSingleAgent(ctx context.Context, a *Agent, input string) (string, error) {
	lastText := ""
	messageCount := 0

	for ev := range a.Run(ctx, input) {
		switch ev.Kind {
		case EventError:
			return "", ev.Err
		case EventMessage:
			if ev.Text != "" {
				lastText = ev.Text
				messageCount++
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	slog.Debug("Agent run completed", "agent", a.Name(), "messages", messageCount)
	return lastText, nil
}

// RunSingleAgentWithRetry is RunSingleAgent wrapped in the rate-limit
// retry policy.
func RunSingleAgentWithRetry(ctx context.Context, a *Agent, input string, cfg RetryConfig) (string, error) {
	return WithRetry(ctx, cfg, func(ctx context.Context) (string, error) {
		return RunSingleAgent(ctx, a, input)
	})
}
