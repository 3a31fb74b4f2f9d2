package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// DefaultMaxContinuations bounds continuation rounds when none is configured.
const DefaultMaxContinuations = 8

// Request is one logical generation: a system message, optional few-shot
// examples and the prompt.
type Request struct {
	System      string
	Prompt      string
	Examples    []Example
	Temperature float64
}

// Result carries the stitched text plus the transcript that produced it.
type Result struct {
	Text     string
	Requests int
	Turns    []Turn
	Usage    Usage
}

// Continuer drives a Completer until the response is no longer cut off by the
// token limit, concatenating each fragment in order.
type Continuer struct {
	client           Completer
	sampling         Sampling
	maxContinuations int
	logger           *slog.Logger
}

// NewContinuer builds a controller. base supplies every sampling knob except
// temperature, which comes from each Request. A non-positive maxContinuations
// falls back to DefaultMaxContinuations.
func NewContinuer(client Completer, base Sampling, maxContinuations int, logger *slog.Logger) *Continuer {
	if maxContinuations <= 0 {
		maxContinuations = DefaultMaxContinuations
	}
	return &Continuer{
		client:           client,
		sampling:         base,
		maxContinuations: maxContinuations,
		logger:           logger,
	}
}

// Generate runs the initial request and as many continuation rounds as needed.
// It fails with ErrContinuationLimit once the cap is reached while the latest
// fragment is still truncated.
func (c *Continuer) Generate(ctx context.Context, req Request) (*Result, error) {
	conv := NewConversation(req.System)
	conv.AddExamples(req.Examples)
	conv.AddUser(req.Prompt)

	sampling := c.sampling
	sampling.Temperature = req.Temperature

	var (
		text     strings.Builder
		usage    Usage
		requests int
	)
	for {
		comp, err := c.client.Complete(ctx, conv.Turns(), sampling)
		requests++
		if err != nil {
			return nil, fmt.Errorf("completion round %d: %w", requests, err)
		}
		usage = usage.Add(comp.Usage)
		text.WriteString(comp.Text)
		conv.AddAssistant(comp.Text)

		if comp.FinishReason != FinishLength {
			break
		}
		if requests > c.maxContinuations {
			c.logger.Error("response still truncated after continuation cap",
				"requests", requests,
				"max_continuations", c.maxContinuations,
				"partial_len", text.Len(),
			)
			return nil, fmt.Errorf("%w: %d continuations", ErrContinuationLimit, c.maxContinuations)
		}
		c.logger.Debug("response truncated, requesting continuation", "round", requests)
		conv.AddUser(ContinuePrompt)
	}

	c.logger.Info("generation complete",
		"requests", requests,
		"examples", len(req.Examples),
		"text_len", text.Len(),
		"total_tokens", usage.TotalTokens,
	)

	return &Result{
		Text:     text.String(),
		Requests: requests,
		Turns:    conv.Turns(),
		Usage:    usage,
	}, nil
}
