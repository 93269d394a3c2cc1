package llm

import (
	"context"

	"github.com/sashabaranov/go-openai"
)

// Client is minimal subset of openai.Client used by the gateway; it is easy to mock in tests.
type Client interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Gateway forwards one prompt to the model and returns its reply. The gateway,
// not the caller, remembers earlier turns.
type Gateway interface {
	Ask(ctx context.Context, prompt string) (string, error)
	// Reset forgets the model-side conversation memory.
	Reset()
}

// Func adapts a plain function to Gateway. Reset is a no-op.
type Func func(ctx context.Context, prompt string) (string, error)

func (f Func) Ask(ctx context.Context, prompt string) (string, error) { return f(ctx, prompt) }

func (f Func) Reset() {}
