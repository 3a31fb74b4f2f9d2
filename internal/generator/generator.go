package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MikeSquared-Agency/bddgen/internal/examples"
	"github.com/MikeSquared-Agency/bddgen/internal/llm"
	"github.com/MikeSquared-Agency/bddgen/internal/structured"
	"github.com/MikeSquared-Agency/bddgen/internal/testcase"
)

var (
	// ErrNoTestCases is returned by Feature when nothing survives the
	// completeness filter.
	ErrNoTestCases = errors.New("no complete test cases")

	ErrEmptyFeature = errors.New("empty feature text")
)

// TextGenerator produces one stitched completion for a request.
type TextGenerator interface {
	Generate(ctx context.Context, req llm.Request) (*llm.Result, error)
}

// ExampleSource supplies few-shot pairs per stage.
type ExampleSource interface {
	Examples(stage examples.Stage) []llm.Example
}

type Options struct {
	// ExampleStages lists the stages that receive few-shot examples.
	ExampleStages []examples.Stage
}

// DefaultOptions injects examples into glue generation only.
func DefaultOptions() Options {
	return Options{ExampleStages: []examples.Stage{examples.StageGlue}}
}

// Generator runs the three generation stages. It holds no per-run state and is
// safe for concurrent use.
type Generator struct {
	llm         TextGenerator
	examples    ExampleSource
	useExamples map[examples.Stage]bool
	schema      []byte
	logger      *slog.Logger
}

func New(gen TextGenerator, ex ExampleSource, opts Options, logger *slog.Logger) *Generator {
	use := make(map[examples.Stage]bool, len(opts.ExampleStages))
	for _, s := range opts.ExampleStages {
		use[s] = true
	}
	if ex == nil {
		ex = examples.Empty()
	}

	schema, err := structured.Schema[testcase.Batch]()
	if err != nil {
		logger.Warn("test case schema unavailable, skipping validation", "error", err)
	}

	return &Generator{
		llm:         gen,
		examples:    ex,
		useExamples: use,
		schema:      schema,
		logger:      logger,
	}
}

func (g *Generator) examplesFor(stage examples.Stage) []llm.Example {
	if !g.useExamples[stage] {
		return nil
	}
	return g.examples.Examples(stage)
}

// TestCases asks the model for structured test cases. Output that cannot be
// decoded or does not satisfy the batch schema is logged with the raw text and
// yields a nil batch and a nil error so callers can continue with partial
// results.
func (g *Generator) TestCases(ctx context.Context, userStory, acceptanceCriteria string, temperature float64) (*testcase.Batch, error) {
	g.logger.Info("generating test cases",
		"story_len", len(userStory),
		"criteria_len", len(acceptanceCriteria),
		"temperature", temperature,
	)

	res, err := g.llm.Generate(ctx, llm.Request{
		System:      testCaseSystemPrompt,
		Prompt:      testcase.StoryPrompt(userStory, acceptanceCriteria),
		Examples:    g.examplesFor(examples.StageManualTest),
		Temperature: temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("test case generation: %w", err)
	}

	var batch testcase.Batch
	if err := structured.Parse(res.Text, &batch); err != nil {
		g.logger.Error("failed to parse test case response",
			"error", err,
			"raw", res.Text,
		)
		return nil, nil
	}

	if err := g.validate(&batch); err != nil {
		g.logger.Error("test case response does not match schema",
			"error", err,
			"raw", res.Text,
		)
		return nil, nil
	}

	g.logger.Info("test cases generated",
		"test_cases", len(batch.TestCases),
		"requests", res.Requests,
	)
	return &batch, nil
}

// validate checks the decoded batch rather than the raw text, so numbering
// accepted leniently by the decoder is judged by its value.
func (g *Generator) validate(batch *testcase.Batch) error {
	if len(batch.TestCases) == 0 {
		return errors.New("no test cases")
	}
	if g.schema == nil {
		return nil
	}
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	return structured.Validate(g.schema, data)
}

// Feature filters and renumbers the cases, renders them to text and asks the
// model for a BDD feature document.
func (g *Generator) Feature(ctx context.Context, cases []testcase.TestCase, temperature float64) (string, error) {
	kept := testcase.Normalize(cases)
	if dropped := len(cases) - len(kept); dropped > 0 {
		g.logger.Warn("dropped incomplete test cases", "dropped", dropped, "kept", len(kept))
	}
	if len(kept) == 0 {
		return "", ErrNoTestCases
	}

	res, err := g.llm.Generate(ctx, llm.Request{
		System:      featureSystemPrompt,
		Prompt:      testcase.RenderAll(kept),
		Examples:    g.examplesFor(examples.StageFeature),
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("feature generation: %w", err)
	}

	g.logger.Info("feature generated", "test_cases", len(kept), "feature_len", len(res.Text))
	return res.Text, nil
}

// Glue asks the model for step bindings implementing every scenario in the
// feature text.
func (g *Generator) Glue(ctx context.Context, feature string, temperature float64) (string, error) {
	if strings.TrimSpace(feature) == "" {
		return "", ErrEmptyFeature
	}

	ex := g.examplesFor(examples.StageGlue)
	res, err := g.llm.Generate(ctx, llm.Request{
		System:      glueSystemPrompt,
		Prompt:      feature,
		Examples:    ex,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("glue generation: %w", err)
	}

	g.logger.Info("glue generated", "examples", len(ex), "glue_len", len(res.Text))
	return res.Text, nil
}
