package main

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/bddgen/internal/config"
	"github.com/MikeSquared-Agency/bddgen/internal/examples"
	"github.com/MikeSquared-Agency/bddgen/internal/pipeline"
	"github.com/MikeSquared-Agency/bddgen/internal/sheet"
	"github.com/MikeSquared-Agency/bddgen/internal/testcase"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q): expected %v, got %v", in, want, got)
		}
	}
}

func TestParseStages(t *testing.T) {
	stages, err := parseStages([]string{"glue", "manual_test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stages) != 2 || stages[0] != examples.StageGlue || stages[1] != examples.StageManualTest {
		t.Errorf("expected [glue manual_test], got %v", stages)
	}

	if _, err := parseStages([]string{"java"}); err == nil {
		t.Error("expected error for unknown stage")
	}
}

func TestLoadExamples_Required(t *testing.T) {
	cfg := config.Config{DatasetPath: filepath.Join(t.TempDir(), "missing.xlsx"), DatasetRequired: true}

	_, err := loadExamples(cfg, []examples.Stage{examples.StageGlue}, discardLogger())
	if !errors.Is(err, examples.ErrDatasetUnavailable) {
		t.Errorf("expected ErrDatasetUnavailable, got %v", err)
	}
}

func TestLoadExamples_OptionalFallsBackToEmpty(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.xlsx")

	for _, cfg := range []struct {
		required bool
		stages   []examples.Stage
	}{
		{false, []examples.Stage{examples.StageGlue}},
		{true, nil},
	} {
		c := config.Config{DatasetPath: missing, DatasetRequired: cfg.required}
		ex, err := loadExamples(c, cfg.stages, discardLogger())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(ex.Examples(examples.StageGlue)) != 0 {
			t.Error("expected empty example store")
		}
	}
}

func TestBuildPipeline_RequiresAPIKey(t *testing.T) {
	cfg := config.Config{LLMModel: "gpt-4", ExampleStages: []string{"glue"}}

	if _, err := buildPipeline(cfg, discardLogger()); err == nil {
		t.Error("expected error without API key")
	}
}

func TestRunTimeout(t *testing.T) {
	cfg := config.Config{MaxContinuations: 8, RequestTimeout: time.Minute}

	if got := runTimeout(cfg); got != 18*time.Minute {
		t.Errorf("expected 18m, got %v", got)
	}
}

func TestWriteRun_AllArtifacts(t *testing.T) {
	dir := t.TempDir()
	casesPath := filepath.Join(dir, "cases.xlsx")
	featurePath := filepath.Join(dir, "login.feature")
	gluePath := filepath.Join(dir, "LoginSteps.java")

	set := &pipeline.ArtifactSet{
		RunID: uuid.New(),
		TestCases: []testcase.TestCase{{
			No:          1,
			Description: "Valid login",
			Steps:       []testcase.Step{{No: 1, Description: "log in", InputData: "user", ExpectedResult: "home"}},
		}},
		Feature: "Feature: Login",
		Glue:    "public class LoginSteps {}",
	}

	var out bytes.Buffer
	if err := writeRun(&out, set, casesPath, featurePath, gluePath); err != nil {
		t.Fatalf("writeRun failed: %v", err)
	}

	tbl, err := sheet.ReadFile(casesPath)
	if err != nil {
		t.Fatalf("reading workbook failed: %v", err)
	}
	if tbl.Len() != 1 {
		t.Errorf("expected 1 workbook row, got %d", tbl.Len())
	}
	if b, _ := os.ReadFile(featurePath); string(b) != "Feature: Login" {
		t.Errorf("expected feature text, got %q", b)
	}
	if b, _ := os.ReadFile(gluePath); string(b) != "public class LoginSteps {}" {
		t.Errorf("expected glue text, got %q", b)
	}
}

func TestWriteRun_PartialReportsWarnings(t *testing.T) {
	dir := t.TempDir()
	casesPath := filepath.Join(dir, "cases.xlsx")

	set := &pipeline.ArtifactSet{
		RunID:    uuid.New(),
		Warnings: []string{pipeline.WarnMalformedTestCases, pipeline.WarnNoExistingCases},
	}

	var out bytes.Buffer
	if err := writeRun(&out, set, casesPath, filepath.Join(dir, "f"), filepath.Join(dir, "g")); err != nil {
		t.Fatalf("writeRun failed: %v", err)
	}
	if _, err := os.Stat(casesPath); !os.IsNotExist(err) {
		t.Errorf("expected no workbook written, stat returned %v", err)
	}
	if !strings.Contains(out.String(), "warning: "+pipeline.WarnMalformedTestCases) {
		t.Errorf("expected malformed warning in output, got %q", out.String())
	}
}
