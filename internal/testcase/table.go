package testcase

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/MikeSquared-Agency/bddgen/internal/sheet"
)

// Spreadsheet columns for uploaded and exported test cases.
const (
	ColID        = "Test Case ID"
	ColDesc      = "Description"
	ColSteps     = "Steps"
	ColExpected  = "Expected Result"
	ColInputData = "Input Test Data"
)

// RequiredColumns must be present in an uploaded table.
var RequiredColumns = []string{ColID, ColDesc, ColSteps, ColExpected}

var linePrefix = regexp.MustCompile(`^\s*\d+[.)](\s+|$)`)

// FromTable converts an uploaded table, one row per test case. Multi-line
// Steps cells become individual steps; Expected Result and Input Test Data are
// paired per step when their line counts match, otherwise the whole cell goes
// to the last step and earlier steps get NA.
func FromTable(t *sheet.Table) ([]TestCase, error) {
	if err := t.Require(RequiredColumns...); err != nil {
		return nil, err
	}
	hasInput := t.Index(ColInputData) >= 0

	cases := make([]TestCase, 0, t.Len())
	for i := range t.Rows {
		no, err := strconv.Atoi(strings.TrimSpace(t.Value(i, ColID)))
		if err != nil {
			no = i + 1
		}

		stepLines := lines(t.Value(i, ColSteps))
		expected := spread(t.Value(i, ColExpected), len(stepLines))
		// Input data is optional in uploads; a blank cell means no input.
		input := spread(NA, len(stepLines))
		if hasInput && !Missing(t.Value(i, ColInputData)) {
			input = spread(t.Value(i, ColInputData), len(stepLines))
		}

		tc := TestCase{No: no, Description: strings.TrimSpace(t.Value(i, ColDesc))}
		for j, line := range stepLines {
			tc.Steps = append(tc.Steps, Step{
				No:             j + 1,
				Description:    line,
				ExpectedResult: expected[j],
				InputData:      input[j],
			})
		}
		cases = append(cases, tc)
	}
	return cases, nil
}

// ToTable flattens cases into the export layout that FromTable reads back.
func ToTable(cases []TestCase) *sheet.Table {
	t := sheet.NewTable(ColID, ColDesc, ColSteps, ColExpected, ColInputData)
	for _, tc := range cases {
		var steps, expected, input []string
		for _, s := range tc.Steps {
			steps = append(steps, fmt.Sprintf("%d. %s", s.No, s.Description))
			expected = append(expected, fmt.Sprintf("%d. %s", s.No, s.ExpectedResult))
			input = append(input, fmt.Sprintf("%d. %s", s.No, s.InputData))
		}
		t.Append(
			strconv.Itoa(tc.No),
			tc.Description,
			strings.Join(steps, "\n"),
			strings.Join(expected, "\n"),
			strings.Join(input, "\n"),
		)
	}
	return t
}

// XLSX renders cases as a workbook.
func XLSX(cases []TestCase) ([]byte, error) {
	var buf bytes.Buffer
	if err := sheet.WriteXLSX(&buf, ToTable(cases)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// lines splits a cell on newlines, strips "N." / "N)" prefixes and drops blanks.
func lines(cell string) []string {
	var out []string
	for _, l := range strings.Split(strings.ReplaceAll(cell, "\r\n", "\n"), "\n") {
		l = strings.TrimSpace(linePrefix.ReplaceAllString(l, ""))
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

func spread(cell string, n int) []string {
	out := make([]string, n)
	if n == 0 {
		return out
	}
	parts := lines(cell)
	if len(parts) == n {
		return parts
	}
	for i := range out {
		out[i] = NA
	}
	out[n-1] = strings.TrimSpace(cell)
	return out
}
