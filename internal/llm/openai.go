package llm

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/parley/internal/config"
	"github.com/comigor/parley/internal/logger"
)

// CredentialEnv is read when no API key was configured explicitly.
const CredentialEnv = "OPENAI_API_KEY"

// OpenAI is a Gateway backed by an OpenAI-compatible chat completion API.
// It keeps the turns of the conversation so every request carries the full
// context.
type OpenAI struct {
	mu        sync.Mutex
	cfg       config.LLMConfig
	client    Client
	newClient func(config.LLMConfig) Client
	memory    []openai.ChatCompletionMessage
}

// OpenAIOption customizes an OpenAI gateway.
type OpenAIOption func(*OpenAI)

// WithClient makes the gateway use c instead of building a client from the
// configuration. The gateway counts as configured.
func WithClient(c Client) OpenAIOption {
	return func(g *OpenAI) { g.client = c }
}

// WithClientFactory overrides how Configure builds the client.
func WithClientFactory(f func(config.LLMConfig) Client) OpenAIOption {
	return func(g *OpenAI) { g.newClient = f }
}

// NewOpenAI returns an unconfigured gateway. Configure is called lazily on the
// first Ask if the caller did not call it.
func NewOpenAI(cfg config.LLMConfig, opts ...OpenAIOption) *OpenAI {
	g := &OpenAI{
		cfg:       cfg,
		newClient: func(c config.LLMConfig) Client { return NewClient(c) },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Configure sets up the provider client. The credential argument wins over the
// configured key, which wins over OPENAI_API_KEY. With none of them set it
// returns ErrMissingCredential.
func (g *OpenAI) Configure(credential string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.configureLocked(credential)
}

func (g *OpenAI) configureLocked(credential string) error {
	key := credential
	if key == "" {
		key = g.cfg.APIKey
	}
	if key == "" {
		key = os.Getenv(CredentialEnv)
	}
	if key == "" {
		return ErrMissingCredential
	}
	g.cfg.APIKey = key
	g.client = g.newClient(g.cfg)
	logger.L.Debug("llm gateway configured", "provider", g.cfg.Provider, "model", g.cfg.Model, "base_url", g.cfg.BaseURL)
	return nil
}

// Configured reports whether a client is available.
func (g *OpenAI) Configured() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.client != nil
}

// Ask sends prompt along with the remembered conversation and returns the
// model's reply. The turn is remembered only if the call succeeds.
func (g *OpenAI) Ask(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	if g.client == nil {
		if err := g.configureLocked(""); err != nil {
			g.mu.Unlock()
			return "", err
		}
	}
	client := g.client
	userMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt}
	messages := g.requestMessagesLocked(userMsg)
	g.mu.Unlock()

	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    g.cfg.Model,
		Messages: messages,
	})
	if err != nil {
		logger.L.Error("LLM call failed", "error", err)
		return "", &GatewayError{Err: err}
	}
	if len(resp.Choices) == 0 {
		logger.L.Error("LLM returned no choices", "id", resp.ID)
		return "", &GatewayError{Err: errors.New("provider returned no choices")}
	}
	reply := resp.Choices[0].Message.Content
	logger.L.Debug("LLM response received", "model", resp.Model, "total_tokens", resp.Usage.TotalTokens)

	g.mu.Lock()
	g.memory = append(g.memory, userMsg, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: reply,
	})
	g.mu.Unlock()

	return reply, nil
}

func (g *OpenAI) requestMessagesLocked(next openai.ChatCompletionMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(g.memory)+2)
	if g.cfg.SystemPrompt != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: g.cfg.SystemPrompt,
		})
	}
	out = append(out, g.memory...)
	return append(out, next)
}

// Reset forgets every remembered turn. The client stays configured.
func (g *OpenAI) Reset() {
	g.mu.Lock()
	g.memory = nil
	g.mu.Unlock()
}

// Turns returns how many messages the gateway currently remembers.
func (g *OpenAI) Turns() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.memory)
}
