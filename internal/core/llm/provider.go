package llm

import (
	"context"
	"fmt"
	"strings"
)

// Provider is the interface for LLM backends
type Provider interface {
	// GenerateText generates text from a prompt
	GenerateText(ctx context.Context, prompt string) (string, error)

	// Name returns the provider name (e.g., "bedrock", "echo")
	Name() string
}

// EchoProvider answers without a model. It is the offline default and keeps
// tests deterministic.
type EchoProvider struct{}

// GenerateText replies with the last "Latest message" block of the prompt
func (EchoProvider) GenerateText(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	latest := prompt
	if i := strings.LastIndex(prompt, latestMarker); i >= 0 {
		latest = prompt[i+len(latestMarker):]
	}
	latest = strings.TrimSpace(latest)
	if latest == "" {
		return "I'm here. What would you like to talk about?", nil
	}
	return fmt.Sprintf("You said: %s", latest), nil
}

// Name implements Provider
func (EchoProvider) Name() string {
	return "echo"
}

// latestMarker ends the default prompt template, just before the user's message
const latestMarker = "Latest message from the user:"
