package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/bddgen/internal/hermes"
	"github.com/MikeSquared-Agency/bddgen/internal/pipeline"
	"github.com/MikeSquared-Agency/bddgen/internal/store"
	"github.com/MikeSquared-Agency/bddgen/internal/testcase"
)

// Runner is the part of the orchestrator the event handlers drive.
type Runner interface {
	TestCases(ctx context.Context, userStory, acceptanceCriteria string, temperature float64) (*pipeline.ArtifactSet, error)
	Code(ctx context.Context, cases []testcase.TestCase, temperature float64) (*pipeline.ArtifactSet, error)
	Run(ctx context.Context, req pipeline.Request) (*pipeline.ArtifactSet, error)
}

type ArtifactSaver interface {
	SaveArtifact(ctx context.Context, a store.Artifact) error
}

type Publisher interface {
	Publish(subject string, data any) error
}

// Processor turns bus requests into pipeline runs, stores what they produce
// and announces the result.
type Processor struct {
	runner    Runner
	artifacts ArtifactSaver
	bus       Publisher
	timeout   time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	stopped  bool
	inflight sync.WaitGroup
}

func New(r Runner, a ArtifactSaver, bus Publisher, timeout time.Duration, logger *slog.Logger) *Processor {
	return &Processor{
		runner:    r,
		artifacts: a,
		bus:       bus,
		timeout:   timeout,
		logger:    logger,
	}
}

func (p *Processor) runContext() (context.Context, context.CancelFunc) {
	if p.timeout > 0 {
		return context.WithTimeout(context.Background(), p.timeout)
	}
	return context.WithCancel(context.Background())
}

// Go wraps a handler so each message runs on its own goroutine and the bus
// callback returns at once. The pipeline's run cap still bounds how many
// generate concurrently.
func (p *Processor) Go(handler func(subject string, data []byte)) func(subject string, data []byte) {
	return func(subject string, data []byte) {
		p.mu.Lock()
		if p.stopped {
			p.mu.Unlock()
			p.logger.Warn("dropping message after shutdown", "subject", subject)
			return
		}
		p.inflight.Add(1)
		p.mu.Unlock()
		go func() {
			defer p.inflight.Done()
			handler(subject, data)
		}()
	}
}

// Wait stops Go from starting new handlers and blocks until the started ones
// have returned.
func (p *Processor) Wait() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.inflight.Wait()
}

// HandleTestCasesRequested is the NATS handler for bddgen.testcases.requested.
func (p *Processor) HandleTestCasesRequested(subject string, data []byte) {
	var req hermes.TestCasesRequest
	if err := json.Unmarshal(data, &req); err != nil {
		p.logger.Error("failed to parse test case request", "subject", subject, "error", err)
		return
	}

	ctx, cancel := p.runContext()
	defer cancel()

	p.logger.Info("test cases requested", "request_id", req.RequestID)

	set, err := p.runner.TestCases(ctx, req.UserStory, req.AcceptanceCriteria, req.Temperature)
	if err != nil {
		p.fail(req.RequestID, "test_cases", err)
		return
	}
	if set.TestCases == nil {
		p.fail(req.RequestID, "test_cases", errors.New(pipeline.WarnMalformedTestCases))
		return
	}

	content, err := testcase.XLSX(set.TestCases)
	if err != nil {
		p.fail(req.RequestID, "export", err)
		return
	}

	refs, err := p.save(ctx, store.NewArtifact(set.RunID, store.KindTestCases, content))
	if err != nil {
		p.fail(req.RequestID, "store", err)
		return
	}
	p.announce(req.RequestID, set, refs)
}

// HandleCodeRequested is the NATS handler for bddgen.code.requested.
func (p *Processor) HandleCodeRequested(subject string, data []byte) {
	var req hermes.CodeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		p.logger.Error("failed to parse code request", "subject", subject, "error", err)
		return
	}

	ctx, cancel := p.runContext()
	defer cancel()

	p.logger.Info("code requested", "request_id", req.RequestID, "test_cases", len(req.TestCases))

	set, err := p.runner.Code(ctx, req.TestCases, req.Temperature)
	if err != nil {
		p.fail(req.RequestID, "code", err)
		return
	}

	refs, err := p.save(ctx,
		store.NewArtifact(set.RunID, store.KindFeature, []byte(set.Feature)),
		store.NewArtifact(set.RunID, store.KindGlue, []byte(set.Glue)),
	)
	if err != nil {
		p.fail(req.RequestID, "store", err)
		return
	}
	p.announce(req.RequestID, set, refs)
}

// HandleRunRequested is the NATS handler for bddgen.run.requested. It stores
// every artifact the run produced, announces them together with the run's
// warnings, and fails only when the run itself fails.
func (p *Processor) HandleRunRequested(subject string, data []byte) {
	var req hermes.RunRequest
	if err := json.Unmarshal(data, &req); err != nil {
		p.logger.Error("failed to parse run request", "subject", subject, "error", err)
		return
	}

	ctx, cancel := p.runContext()
	defer cancel()

	p.logger.Info("run requested", "request_id", req.RequestID, "test_cases", len(req.TestCases))

	set, err := p.runner.Run(ctx, pipeline.Request{
		UserStory:          req.UserStory,
		AcceptanceCriteria: req.AcceptanceCriteria,
		Temperature:        req.Temperature,
		Existing:           req.TestCases,
	})
	if err != nil {
		p.fail(req.RequestID, "run", err)
		return
	}

	var artifacts []store.Artifact
	if set.TestCases != nil {
		content, err := testcase.XLSX(set.TestCases)
		if err != nil {
			p.fail(req.RequestID, "export", err)
			return
		}
		artifacts = append(artifacts, store.NewArtifact(set.RunID, store.KindTestCases, content))
	}
	if set.Feature != "" {
		artifacts = append(artifacts,
			store.NewArtifact(set.RunID, store.KindFeature, []byte(set.Feature)),
			store.NewArtifact(set.RunID, store.KindGlue, []byte(set.Glue)),
		)
	}

	refs, err := p.save(ctx, artifacts...)
	if err != nil {
		p.fail(req.RequestID, "store", err)
		return
	}
	p.announce(req.RequestID, set, refs)
}

func (p *Processor) save(ctx context.Context, artifacts ...store.Artifact) ([]hermes.ArtifactRef, error) {
	refs := make([]hermes.ArtifactRef, 0, len(artifacts))
	for _, a := range artifacts {
		if err := p.artifacts.SaveArtifact(ctx, a); err != nil {
			return nil, fmt.Errorf("save %s artifact: %w", a.Kind, err)
		}
		refs = append(refs, hermes.ArtifactRef{
			ID:       a.ID.String(),
			Kind:     string(a.Kind),
			Filename: a.Filename,
		})
	}
	return refs, nil
}

func (p *Processor) announce(requestID string, set *pipeline.ArtifactSet, refs []hermes.ArtifactRef) {
	evt := hermes.ArtifactsGenerated{
		RequestID: requestID,
		RunID:     set.RunID.String(),
		Artifacts: refs,
		Warnings:  set.Warnings,
	}
	if err := p.bus.Publish(hermes.SubjectArtifactsGenerated, evt); err != nil {
		p.logger.Error("failed to publish artifacts", "request_id", requestID, "error", err)
		return
	}
	p.logger.Info("artifacts published", "request_id", requestID, "run_id", set.RunID, "artifacts", len(refs))
}

func (p *Processor) fail(requestID, stage string, err error) {
	p.logger.Error("request failed", "request_id", requestID, "stage", stage, "error", err)
	evt := hermes.RunFailed{RequestID: requestID, Stage: stage, Error: err.Error()}
	if perr := p.bus.Publish(hermes.SubjectRunFailed, evt); perr != nil {
		p.logger.Warn("failed to publish run failure", "request_id", requestID, "error", perr)
	}
}
