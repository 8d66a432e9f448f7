// Package enrich runs LLM extraction over stored emails: categorization,
// action items, and structured spending data.
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Caller sends one prompt to a language model and returns its text output.
type Caller interface {
	Call(ctx context.Context, prompt string, timeout time.Duration) (string, error)
}

// maxCommandTimeout caps the timeout forwarded to the command runner. The
// runner kills the subprocess at 600s, so staying under it keeps the error
// on our side of the wire.
const maxCommandTimeout = 590 * time.Second

// CommandClient calls a local command-runner service: POST {prompt,
// timeout_seconds} to the configured URL, response {stdout}.
type CommandClient struct {
	url    string
	client *http.Client
}

// NewCommandClient returns a caller for the command runner at url.
func NewCommandClient(url string) *CommandClient {
	return &CommandClient{url: url, client: &http.Client{}}
}

type commandRequest struct {
	Prompt         string  `json:"prompt"`
	TimeoutSeconds float64 `json:"timeout_seconds"`
}

// Call sends the prompt and returns the runner's stdout. The HTTP deadline
// is the model timeout plus a grace period so the runner's own timeout
// response can still arrive.
func (c *CommandClient) Call(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	forwarded := min(timeout, maxCommandTimeout)
	payload, err := json.Marshal(commandRequest{
		Prompt:         prompt,
		TimeoutSeconds: forwarded.Seconds(),
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout+10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("llm call failed: status %d: %s", resp.StatusCode, body)
	}

	var out struct {
		Stdout string `json:"stdout"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	return out.Stdout, nil
}

// OpenAIClient calls an OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient returns a chat completions caller. baseURL is optional
// and overrides the OpenAI endpoint for compatible local servers.
func NewOpenAIClient(apiKey, baseURL, model string) (*OpenAIClient, error) {
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

func (c *OpenAIClient) Call(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("llm call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm call failed: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

var (
	_ Caller = (*CommandClient)(nil)
	_ Caller = (*OpenAIClient)(nil)
)
