// Package openai is the AI collaborator: intent classification and answer
// generation over the Chat Completions HTTP API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/suspectuso/ton-assistant/internal/intent"
)

var ErrEmptyCompletion = errors.New("empty completion")

const answerSystemPrompt = "You are a helpful AI assistant reached over a messaging app. " +
	"Provide clear, concise answers."

// Client is a Chat Completions HTTP client
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
	httpClient *http.Client
}

// NewClient creates a new client. timeout bounds every API call; both
// Classify and Answer may time out and callers must degrade gracefully.
func NewClient(baseURL, apiKey, model string, maxTokens int, timeout time.Duration) *Client {
	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		apiKey:    apiKey,
		model:     model,
		maxTokens: maxTokens,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (c *Client) complete(ctx context.Context, req chatRequest) (*chatResponse, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(data))
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, ErrEmptyCompletion
	}
	return &out, nil
}

// Classify asks the model for one of the fixed intent labels. The router
// validates the response and falls back to keywords on anything unexpected.
func (c *Client) Classify(ctx context.Context, text string) (string, error) {
	var labels []string
	for _, l := range intent.Labels() {
		labels = append(labels, string(l))
	}

	prompt := fmt.Sprintf(
		"Classify the user message into exactly one of these intents: %s.\n"+
			"Reply with the intent name only.\n\nMessage: %q",
		strings.Join(labels, ", "), text,
	)

	resp, err := c.complete(ctx, chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are an intent classifier for a paid AI assistant bot."},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   20,
		Temperature: 0,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Answer generates a reply and reports the total tokens consumed, which the
// billing engine turns into the exact charge.
func (c *Client) Answer(ctx context.Context, text string) (string, int, error) {
	resp, err := c.complete(ctx, chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: answerSystemPrompt},
			{Role: "user", Content: text},
		},
		MaxTokens:   c.maxTokens,
		Temperature: 0.7,
	})
	if err != nil {
		return "", 0, err
	}

	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	if answer == "" {
		return "", 0, ErrEmptyCompletion
	}

	tokens := resp.Usage.TotalTokens
	if tokens == 0 {
		// Some gateways omit usage; bill on a conservative estimate
		tokens = (len(text) + len(answer)) / 4
		if tokens < 1 {
			tokens = 1
		}
	}

	return answer, tokens, nil
}
