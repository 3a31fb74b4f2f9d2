package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/MikeSquared-Agency/bddgen/internal/sheet"
	"github.com/MikeSquared-Agency/bddgen/internal/testcase"
)

// DefaultMaxRuns bounds concurrent end-to-end runs when no limit is configured.
const DefaultMaxRuns = 4

const (
	WarnMalformedTestCases = "test case response could not be parsed"
	WarnNoExistingCases    = "no existing test cases supplied, feature and glue skipped"
)

// Stages is the set of generation stages the orchestrator sequences.
type Stages interface {
	TestCases(ctx context.Context, userStory, acceptanceCriteria string, temperature float64) (*testcase.Batch, error)
	Feature(ctx context.Context, cases []testcase.TestCase, temperature float64) (string, error)
	Glue(ctx context.Context, feature string, temperature float64) (string, error)
}

// ArtifactSet holds everything one run produced. TestCases is nil when the
// test-case stage was skipped or its output was malformed; Warnings says which.
type ArtifactSet struct {
	RunID     uuid.UUID
	TestCases []testcase.TestCase
	Feature   string
	Glue      string
	Warnings  []string
}

// Request drives a full run. Existing is the separately supplied test-case
// source for the feature and glue branch; it is not the freshly generated set.
type Request struct {
	UserStory          string
	AcceptanceCriteria string
	Temperature        float64
	Existing           []testcase.TestCase
}

type Orchestrator struct {
	stages Stages
	runs   *semaphore.Weighted
	logger *slog.Logger
}

func New(stages Stages, maxRuns int, logger *slog.Logger) *Orchestrator {
	if maxRuns <= 0 {
		maxRuns = DefaultMaxRuns
	}
	return &Orchestrator{
		stages: stages,
		runs:   semaphore.NewWeighted(int64(maxRuns)),
		logger: logger,
	}
}

func (o *Orchestrator) begin(ctx context.Context, kind string) (*ArtifactSet, *slog.Logger, func(), error) {
	if err := o.runs.Acquire(ctx, 1); err != nil {
		return nil, nil, nil, fmt.Errorf("waiting for run slot: %w", err)
	}
	set := &ArtifactSet{RunID: uuid.New()}
	logger := o.logger.With("run_id", set.RunID, "kind", kind)
	logger.Info("run started")
	return set, logger, func() { o.runs.Release(1) }, nil
}

// Run executes the test-case branch and the feature+glue branch concurrently
// and joins both. A hard error in either branch cancels the other.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*ArtifactSet, error) {
	set, logger, release, err := o.begin(ctx, "full")
	if err != nil {
		return nil, err
	}
	defer release()

	var (
		cases         []testcase.TestCase
		caseWarnings  []string
		feature, glue string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(2)

	g.Go(func() error {
		var err error
		cases, caseWarnings, err = o.testCases(gctx, logger, req.UserStory, req.AcceptanceCriteria, req.Temperature)
		return err
	})

	if len(req.Existing) > 0 {
		g.Go(func() error {
			var err error
			feature, glue, err = o.code(gctx, logger, req.Existing, req.Temperature)
			return err
		})
	} else {
		set.Warnings = append(set.Warnings, WarnNoExistingCases)
	}

	if err := g.Wait(); err != nil {
		logger.Error("run failed", "error", err)
		return nil, err
	}

	set.TestCases = cases
	set.Feature = feature
	set.Glue = glue
	set.Warnings = append(set.Warnings, caseWarnings...)
	logger.Info("run complete",
		"test_cases", len(set.TestCases),
		"feature_len", len(set.Feature),
		"glue_len", len(set.Glue),
		"warnings", len(set.Warnings),
	)
	return set, nil
}

// TestCases runs only the test-case stage.
func (o *Orchestrator) TestCases(ctx context.Context, userStory, acceptanceCriteria string, temperature float64) (*ArtifactSet, error) {
	set, logger, release, err := o.begin(ctx, "test_cases")
	if err != nil {
		return nil, err
	}
	defer release()

	set.TestCases, set.Warnings, err = o.testCases(ctx, logger, userStory, acceptanceCriteria, temperature)
	if err != nil {
		logger.Error("run failed", "error", err)
		return nil, err
	}
	logger.Info("run complete", "test_cases", len(set.TestCases))
	return set, nil
}

// Code generates a feature from existing test cases and glue from that feature.
func (o *Orchestrator) Code(ctx context.Context, cases []testcase.TestCase, temperature float64) (*ArtifactSet, error) {
	set, logger, release, err := o.begin(ctx, "code")
	if err != nil {
		return nil, err
	}
	defer release()

	set.Feature, set.Glue, err = o.code(ctx, logger, cases, temperature)
	if err != nil {
		logger.Error("run failed", "error", err)
		return nil, err
	}
	logger.Info("run complete", "feature_len", len(set.Feature), "glue_len", len(set.Glue))
	return set, nil
}

// CodeFromTable converts an uploaded test-case sheet and runs Code on it.
func (o *Orchestrator) CodeFromTable(ctx context.Context, t *sheet.Table, temperature float64) (*ArtifactSet, error) {
	cases, err := testcase.FromTable(t)
	if err != nil {
		return nil, err
	}
	return o.Code(ctx, cases, temperature)
}

func (o *Orchestrator) testCases(ctx context.Context, logger *slog.Logger, story, criteria string, temperature float64) ([]testcase.TestCase, []string, error) {
	batch, err := o.stages.TestCases(ctx, story, criteria, temperature)
	if err != nil {
		return nil, nil, err
	}
	if batch == nil || len(batch.TestCases) == 0 {
		logger.Warn("continuing without test cases", "reason", WarnMalformedTestCases)
		return nil, []string{WarnMalformedTestCases}, nil
	}
	return batch.TestCases, nil, nil
}

func (o *Orchestrator) code(ctx context.Context, logger *slog.Logger, cases []testcase.TestCase, temperature float64) (string, string, error) {
	feature, err := o.stages.Feature(ctx, cases, temperature)
	if err != nil {
		return "", "", err
	}
	logger.Debug("feature ready, generating glue")

	glue, err := o.stages.Glue(ctx, feature, temperature)
	if err != nil {
		return "", "", err
	}
	return feature, glue, nil
}
