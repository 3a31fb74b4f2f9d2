package main

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/MikeSquared-Agency/bddgen/internal/config"
	"github.com/MikeSquared-Agency/bddgen/internal/examples"
	"github.com/MikeSquared-Agency/bddgen/internal/generator"
	"github.com/MikeSquared-Agency/bddgen/internal/llm"
	"github.com/MikeSquared-Agency/bddgen/internal/pipeline"
)

func parseStages(names []string) ([]examples.Stage, error) {
	known := []examples.Stage{examples.StageGlue, examples.StageFeature, examples.StageManualTest}
	stages := make([]examples.Stage, 0, len(names))
	for _, n := range names {
		s := examples.Stage(n)
		if !slices.Contains(known, s) {
			return nil, fmt.Errorf("unknown example stage %q", n)
		}
		stages = append(stages, s)
	}
	return stages, nil
}

// loadExamples reads the reference dataset. A missing dataset is fatal only
// when it is required and at least one stage uses examples.
func loadExamples(cfg config.Config, stages []examples.Stage, logger *slog.Logger) (*examples.Store, error) {
	store, err := examples.Load(cfg.DatasetPath)
	if err == nil {
		logger.Info("reference dataset loaded", "path", cfg.DatasetPath, "examples", store.Counts())
		return store, nil
	}
	if cfg.DatasetRequired && len(stages) > 0 {
		return nil, err
	}
	logger.Warn("reference dataset unavailable, generating without examples", "path", cfg.DatasetPath, "error", err)
	return examples.Empty(), nil
}

// buildPipeline assembles completion client, stages and orchestrator.
func buildPipeline(cfg config.Config, logger *slog.Logger) (*pipeline.Orchestrator, error) {
	stages, err := parseStages(cfg.ExampleStages)
	if err != nil {
		return nil, err
	}

	client, err := llm.NewClient(llm.Config{
		Endpoint:   cfg.LLMEndpoint,
		APIKey:     cfg.LLMAPIKey,
		Model:      cfg.LLMModel,
		APIVersion: cfg.LLMAPIVersion,
		Timeout:    cfg.RequestTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("completion client: %w", err)
	}
	logger.Info("completion client ready", "model", client.Model(), "endpoint", cfg.LLMEndpoint)

	ex, err := loadExamples(cfg, stages, logger)
	if err != nil {
		if errors.Is(err, examples.ErrDatasetUnavailable) {
			return nil, fmt.Errorf("%w (set DATASET_REQUIRED=false to run without examples)", err)
		}
		return nil, err
	}

	cont := llm.NewContinuer(client, llm.Sampling{
		MaxTokens:        cfg.MaxTokens,
		TopP:             cfg.TopP,
		FrequencyPenalty: cfg.FrequencyPenalty,
		PresencePenalty:  cfg.PresencePenalty,
	}, cfg.MaxContinuations, logger)

	gen := generator.New(cont, ex, generator.Options{ExampleStages: stages}, logger)
	return pipeline.New(gen, cfg.MaxConcurrentRuns, logger), nil
}

// runTimeout bounds one bus-driven run: two stages, each allowed every
// continuation round at the full request timeout.
func runTimeout(cfg config.Config) time.Duration {
	return 2 * time.Duration(cfg.MaxContinuations+1) * cfg.RequestTimeout
}
