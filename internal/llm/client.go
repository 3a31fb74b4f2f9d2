package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"
)

type FinishReason string

const (
	FinishStop   FinishReason = "stop"
	FinishLength FinishReason = "length"
	FinishOther  FinishReason = "other"
)

type Sampling struct {
	Temperature      float64
	MaxTokens        int
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

type Completion struct {
	FinishReason FinishReason
	Text         string
	Usage        Usage
}

// Completer issues a single completion request for a transcript.
type Completer interface {
	Complete(ctx context.Context, turns []Turn, s Sampling) (*Completion, error)
}

type Config struct {
	Endpoint string
	APIKey   string
	Model    string
	// APIVersion selects Azure OpenAI routing. Leave empty for an
	// OpenAI-compatible endpoint, where Endpoint becomes the base URL.
	APIVersion string
	Timeout    time.Duration
}

type Client struct {
	openai openai.Client
	model  string
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	// Retries are the caller's decision; the only automatic repeat in this
	// system is the continuation of truncated output.
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.APIVersion != "" && cfg.Endpoint != "" {
		opts = append(opts,
			azure.WithEndpoint(cfg.Endpoint, cfg.APIVersion),
			azure.WithAPIKey(cfg.APIKey),
		)
	} else {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
		if cfg.Endpoint != "" {
			opts = append(opts, option.WithBaseURL(cfg.Endpoint))
		}
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &Client{
		openai: openai.NewClient(opts...),
		model:  cfg.Model,
		logger: logger,
	}, nil
}

func (c *Client) Model() string {
	return c.model
}

// Complete sends the transcript to the chat completion endpoint and returns the
// first choice with its text cleaned up.
func (c *Client) Complete(ctx context.Context, turns []Turn, s Sampling) (*Completion, error) {
	params := openai.ChatCompletionNewParams{
		Model:            c.model,
		Messages:         convertTurns(turns),
		Temperature:      openai.Float(s.Temperature),
		TopP:             openai.Float(s.TopP),
		FrequencyPenalty: openai.Float(s.FrequencyPenalty),
		PresencePenalty:  openai.Float(s.PresencePenalty),
	}
	if s.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(s.MaxTokens))
	}

	start := time.Now()
	resp, err := c.openai.Chat.Completions.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("chat completion: %w", ctx.Err())
		}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, &UpstreamError{StatusCode: apiErr.StatusCode, Err: err}
		}
		return nil, &UpstreamError{Err: err}
	}

	usage := Usage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}

	if len(resp.Choices) == 0 {
		c.logger.Warn("completion returned no choices", "model", c.model, "total_tokens", usage.TotalTokens)
		return nil, ErrEmptyResponse
	}

	choice := resp.Choices[0]
	finish := mapFinishReason(string(choice.FinishReason))

	c.logger.Info("token usage",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", usage.PromptTokens,
		"completion_tokens", usage.CompletionTokens,
		"total_tokens", usage.TotalTokens,
		"finish_reason", string(finish),
	)

	return &Completion{
		FinishReason: finish,
		Text:         CleanText(choice.Message.Content),
		Usage:        usage,
	}, nil
}

// CleanText removes the stray space models tend to leave before full stops and
// trims surrounding whitespace.
func CleanText(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, " .", "."))
}

func mapFinishReason(reason string) FinishReason {
	switch reason {
	case "stop":
		return FinishStop
	case "length":
		return FinishLength
	default:
		return FinishOther
	}
}

func convertTurns(turns []Turn) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(t.Text))
		case RoleUser:
			out = append(out, openai.UserMessage(t.Text))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(t.Text))
		}
	}
	return out
}
