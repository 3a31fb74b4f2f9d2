// Package testcase holds the structured manual test case model produced by the
// test-case stage and consumed by the feature stage.
package testcase

import (
	"fmt"
	"strings"
)

// NA marks a step that takes no input data.
const NA = "NA"

type Step struct {
	No             int    `json:"test_step_no" jsonschema:"minimum=1"`
	Description    string `json:"test_step_description"`
	InputData      string `json:"input_test_data"`
	ExpectedResult string `json:"expected_results"`
}

type TestCase struct {
	No          int    `json:"test_case_no" jsonschema:"minimum=1"`
	Description string `json:"test_case_description"`
	Steps       []Step `json:"test_steps" jsonschema:"minItems=1"`
}

// Batch is the JSON document the test-case stage asks the model for.
type Batch struct {
	TestCases []TestCase `json:"test_cases" jsonschema:"minItems=1"`
}

// StoryPrompt formats a user story and its acceptance criteria the way both
// the live prompt and the reference examples present them.
func StoryPrompt(userStory, acceptanceCriteria string) string {
	return fmt.Sprintf("User Story:\n %s \nAcceptance Criteria:\n %s", userStory, acceptanceCriteria)
}

// Missing reports whether a field value counts as absent: blank, or a literal
// null/nan left behind by spreadsheets and model output.
func Missing(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "null", "nan", "none":
		return true
	}
	return false
}

// Complete reports whether every field of the flattened case is present.
func (tc TestCase) Complete() bool {
	if Missing(tc.Description) || len(tc.Steps) == 0 {
		return false
	}
	for _, s := range tc.Steps {
		if Missing(s.Description) || Missing(s.ExpectedResult) || Missing(s.InputData) {
			return false
		}
	}
	return true
}

// Normalize drops incomplete cases and renumbers the survivors, and their
// steps, contiguously from 1. The input slice is not modified.
func Normalize(cases []TestCase) []TestCase {
	out := make([]TestCase, 0, len(cases))
	for _, tc := range cases {
		if !tc.Complete() {
			continue
		}
		steps := make([]Step, len(tc.Steps))
		for i, s := range tc.Steps {
			s.No = i + 1
			steps[i] = s
		}
		tc.Steps = steps
		tc.No = len(out) + 1
		out = append(out, tc)
	}
	return out
}

// Render formats one case as the text block fed to the feature stage.
func Render(tc TestCase) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Test Case %d:\n%s\nTest Steps:\n", tc.No, tc.Description)
	for _, s := range tc.Steps {
		fmt.Fprintf(&b, "%d. Description: %s\n", s.No, s.Description)
		fmt.Fprintf(&b, "   - Expected Results: %s\n", s.ExpectedResult)
		fmt.Fprintf(&b, "   - Input Test Data: %s\n", s.InputData)
	}
	return b.String()
}

// RenderAll concatenates the rendered blocks in order.
func RenderAll(cases []TestCase) string {
	var b strings.Builder
	for _, tc := range cases {
		b.WriteString(Render(tc))
	}
	return b.String()
}
