package llm

import (
	"context"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"

	"docongo/pkg/errs"
)

// Message is a minimal role-tagged chat message.
// Role must be one of: "system", "user", or "assistant".
type Message struct {
	Role    string
	Content string
}

// Client is the single-shot gateway to the external model.  Calls are
// blocking and non-streaming, with no built-in retry; a failed call
// surfaces immediately to the invoking component.
type Client interface {
	Invoke(ctx context.Context, messages []Message) (string, error)
}

// Options configures one gateway instance.  The API key is always caller
// supplied; there is no embedded default.  Conversational callers use a
// higher temperature than prescription callers, which favor determinism.
type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
}

// OpenAIClient talks to an OpenAI-compatible chat completion endpoint.
// Gemini is reachable through its compatibility layer by pointing BaseURL
// at it.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
}

// NewClient constructs a gateway from explicit options.  A missing API key
// is an auth failure the caller can act on (re-enter the key), not a
// server defect.
func NewClient(opts Options) (*OpenAIClient, error) {
	if opts.APIKey == "" {
		return nil, errors.Wrap(errs.ErrAuth, "model API key is required")
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return &OpenAIClient{
		client:      openai.NewClientWithConfig(cfg),
		model:       opts.Model,
		temperature: opts.Temperature,
	}, nil
}

// Invoke sends the message sequence and returns the primary text output.
// Transport, quota, and provider-auth failures wrap errs.ErrModelTransport;
// a response with no usable text wraps errs.ErrContentParse so the caller's
// repair logic can take over.
func (c *OpenAIClient) Invoke(ctx context.Context, messages []Message) (string, error) {
	oaMsgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := m.Role
		if role != openai.ChatMessageRoleSystem && role != openai.ChatMessageRoleUser && role != openai.ChatMessageRoleAssistant {
			// coerce anything unknown to user
			role = openai.ChatMessageRoleUser
		}
		oaMsgs = append(oaMsgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    oaMsgs,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", errors.Wrap(errs.ErrModelTransport, err.Error())
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", errors.Wrap(errs.ErrContentParse, "model returned no text")
	}
	return resp.Choices[0].Message.Content, nil
}
