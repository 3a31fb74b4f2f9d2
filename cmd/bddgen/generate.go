package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/bddgen/internal/pipeline"
	"github.com/MikeSquared-Agency/bddgen/internal/sheet"
	"github.com/MikeSquared-Agency/bddgen/internal/store"
	"github.com/MikeSquared-Agency/bddgen/internal/testcase"
)

var (
	story       string
	criteria    string
	temperature float64
	casesOut    string

	casesFile  string
	featureOut string
	glueOut    string
)

// testCasesCmd generates manual test cases into a workbook
var testCasesCmd = &cobra.Command{
	Use:   "testcases",
	Short: "Generate manual test cases for a user story",
	Example: `  bddgen testcases --story "As a user, I want to log in" \
    --criteria "valid/invalid credentials" --out login.xlsx`,
	RunE: runTestCases,
}

// codeCmd generates a feature file and glue code from a test case workbook
var codeCmd = &cobra.Command{
	Use:     "code",
	Short:   "Generate a BDD feature file and Java glue code from test cases",
	Example: `  bddgen code --file login.xlsx --feature-out login.feature --glue-out LoginSteps.java`,
	RunE:    runCode,
}

// runCmd runs both branches: test cases from the story and, given a workbook,
// a feature file and glue code from it
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Generate test cases, a feature file and glue code in one run",
	Example: `  bddgen run --story "As a user, I want to log in" --criteria "valid/invalid credentials" \
    --file existing.xlsx --out login.xlsx --feature-out login.feature --glue-out LoginSteps.java`,
	RunE: runFull,
}

func init() {
	testCasesCmd.Flags().StringVar(&story, "story", "", "User story text")
	testCasesCmd.Flags().StringVar(&criteria, "criteria", "", "Acceptance criteria text")
	testCasesCmd.Flags().Float64Var(&temperature, "temperature", 0, "Sampling temperature")
	testCasesCmd.Flags().StringVar(&casesOut, "out", store.TestCasesFilename, "Output workbook path")
	_ = testCasesCmd.MarkFlagRequired("story")

	codeCmd.Flags().StringVar(&casesFile, "file", "", "Test case workbook (.xlsx or .csv)")
	codeCmd.Flags().StringVar(&featureOut, "feature-out", store.FeatureFilename, "Feature file output path")
	codeCmd.Flags().StringVar(&glueOut, "glue-out", store.GlueFilename, "Glue code output path")
	codeCmd.Flags().Float64Var(&temperature, "temperature", 0, "Sampling temperature")
	_ = codeCmd.MarkFlagRequired("file")

	runCmd.Flags().StringVar(&story, "story", "", "User story text")
	runCmd.Flags().StringVar(&criteria, "criteria", "", "Acceptance criteria text")
	runCmd.Flags().Float64Var(&temperature, "temperature", 0, "Sampling temperature")
	runCmd.Flags().StringVar(&casesFile, "file", "", "Existing test case workbook for the feature and glue (.xlsx or .csv)")
	runCmd.Flags().StringVar(&casesOut, "out", store.TestCasesFilename, "Output workbook path")
	runCmd.Flags().StringVar(&featureOut, "feature-out", store.FeatureFilename, "Feature file output path")
	runCmd.Flags().StringVar(&glueOut, "glue-out", store.GlueFilename, "Glue code output path")
	_ = runCmd.MarkFlagRequired("story")
}

func runTestCases(cmd *cobra.Command, args []string) error {
	logger := slog.Default()
	orch, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}

	set, err := orch.TestCases(cmd.Context(), story, criteria, temperature)
	if err != nil {
		return err
	}
	if set.TestCases == nil {
		return errors.New(pipeline.WarnMalformedTestCases)
	}

	content, err := testcase.XLSX(set.TestCases)
	if err != nil {
		return err
	}
	if err := os.WriteFile(casesOut, content, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", casesOut, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d test cases written to %s\n", len(set.TestCases), casesOut)
	return nil
}

func runCode(cmd *cobra.Command, args []string) error {
	logger := slog.Default()
	table, err := sheet.ReadFile(casesFile)
	if err != nil {
		return err
	}

	orch, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}

	set, err := orch.CodeFromTable(cmd.Context(), table, temperature)
	if err != nil {
		return err
	}

	if err := os.WriteFile(featureOut, []byte(set.Feature), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", featureOut, err)
	}
	if err := os.WriteFile(glueOut, []byte(set.Glue), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", glueOut, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "feature written to %s\nglue written to %s\n", featureOut, glueOut)
	return nil
}

func runFull(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	req := pipeline.Request{
		UserStory:          story,
		AcceptanceCriteria: criteria,
		Temperature:        temperature,
	}
	if casesFile != "" {
		table, err := sheet.ReadFile(casesFile)
		if err != nil {
			return err
		}
		if req.Existing, err = testcase.FromTable(table); err != nil {
			return err
		}
	}

	orch, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}

	set, err := orch.Run(cmd.Context(), req)
	if err != nil {
		return err
	}
	return writeRun(cmd.OutOrStdout(), set, casesOut, featureOut, glueOut)
}

// writeRun writes whichever artifacts the run produced and reports warnings
// for the rest.
func writeRun(w io.Writer, set *pipeline.ArtifactSet, casesPath, featurePath, gluePath string) error {
	if set.TestCases != nil {
		content, err := testcase.XLSX(set.TestCases)
		if err != nil {
			return err
		}
		if err := os.WriteFile(casesPath, content, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", casesPath, err)
		}
		fmt.Fprintf(w, "%d test cases written to %s\n", len(set.TestCases), casesPath)
	}
	if set.Feature != "" {
		if err := os.WriteFile(featurePath, []byte(set.Feature), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", featurePath, err)
		}
		if err := os.WriteFile(gluePath, []byte(set.Glue), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", gluePath, err)
		}
		fmt.Fprintf(w, "feature written to %s\nglue written to %s\n", featurePath, gluePath)
	}
	for _, warning := range set.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
	return nil
}
