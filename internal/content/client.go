package content

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/p-n-ai/pai-planner/internal/ai"
	"github.com/p-n-ai/pai-planner/internal/apperr"
)

const systemPrompt = `You write short study tasks for a secondary-school learner.
Reply with one JSON object only, shaped as:
{"tasks":[{"subject":"...","topic":"...","title":"...","steps":["..."],"resources":[{"title":"...","url":"https://..."}]}]}
Write exactly one task per requested topic, copying subject and topic verbatim.
Steps are short imperative sentences that fit in the session length.
Resources are optional; only include real, public links.`

// Client generates payloads through an AI completer.
type Client struct {
	ai        ai.Completer
	validator *Validator
	model     string
	maxTokens int
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithModel pins the model name sent with each request.
func WithModel(model string) ClientOption {
	return func(c *Client) { c.model = model }
}

// NewClient creates a generator over completer.
func NewClient(completer ai.Completer, opts ...ClientOption) (*Client, error) {
	v, err := NewValidator()
	if err != nil {
		return nil, err
	}
	c := &Client{ai: completer, validator: v, maxTokens: 2048}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Generate implements Generator. A transport failure is
// apperr.ErrGenerationFailure; unusable output is apperr.ErrGenerationFormat.
func (c *Client) Generate(ctx context.Context, req Request) (*Response, error) {
	const op = "content.Generate"
	if len(req.Topics) == 0 {
		return &Response{}, nil
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.ai.Complete(ctx, ai.CompletionRequest{
		Messages: []ai.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: string(body)},
		},
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: 0.4,
		Task:        ai.TaskContent,
		JSONOnly:    true,
	})
	if err != nil {
		return nil, apperr.Wrap(op, apperr.ErrGenerationFailure, err)
	}

	return c.validator.Decode([]byte(strings.TrimSpace(resp.Content)))
}
