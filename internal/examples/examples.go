// Package examples serves few-shot (prompt, completion) pairs drawn from the
// reference dataset, keyed by generation stage.
package examples

import (
	"errors"
	"fmt"

	"github.com/MikeSquared-Agency/bddgen/internal/llm"
	"github.com/MikeSquared-Agency/bddgen/internal/sheet"
	"github.com/MikeSquared-Agency/bddgen/internal/testcase"
)

type Stage string

const (
	StageGlue       Stage = "glue"
	StageFeature    Stage = "feature"
	StageManualTest Stage = "manual_test"
)

// Reference dataset columns.
const (
	ColFeature         = "feature"
	ColGlue            = "glue"
	ColManualTestsText = "manual_test_cases_text"
	ColUserStory       = "user_story"
	ColCriteria        = "acceptance_criteria"
	ColManualTestsJSON = "manual_test_cases_json"
)

var DatasetColumns = []string{
	ColFeature, ColGlue, ColManualTestsText, ColUserStory, ColCriteria, ColManualTestsJSON,
}

var ErrDatasetUnavailable = errors.New("reference dataset unavailable")

// Store is immutable once built and safe for concurrent readers.
type Store struct {
	pairs map[Stage][]llm.Example
}

// Empty returns a store with no examples for any stage.
func Empty() *Store {
	return &Store{pairs: map[Stage][]llm.Example{}}
}

// Load reads the dataset file and builds the store. Any failure is reported as
// ErrDatasetUnavailable.
func Load(path string) (*Store, error) {
	t, err := sheet.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatasetUnavailable, err)
	}
	return FromTable(t)
}

func FromTable(t *sheet.Table) (*Store, error) {
	if err := t.Require(DatasetColumns...); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatasetUnavailable, err)
	}

	glue := newPairs()
	feature := newPairs()
	manual := newPairs()
	for i := range t.Rows {
		glue.put(t.Value(i, ColFeature), t.Value(i, ColGlue))
		feature.put(t.Value(i, ColManualTestsText), t.Value(i, ColFeature))
		if story := t.Value(i, ColUserStory); !testcase.Missing(story) {
			manual.put(
				testcase.StoryPrompt(story, t.Value(i, ColCriteria)),
				t.Value(i, ColManualTestsJSON),
			)
		}
	}

	return &Store{pairs: map[Stage][]llm.Example{
		StageGlue:       glue.list,
		StageFeature:    feature.list,
		StageManualTest: manual.list,
	}}, nil
}

// Examples returns the pairs for a stage in dataset order. Unknown stages
// yield none.
func (s *Store) Examples(stage Stage) []llm.Example {
	src := s.pairs[stage]
	if len(src) == 0 {
		return nil
	}
	out := make([]llm.Example, len(src))
	copy(out, src)
	return out
}

// Counts reports how many pairs each stage holds.
func (s *Store) Counts() map[Stage]int {
	out := make(map[Stage]int, len(s.pairs))
	for stage, p := range s.pairs {
		out[stage] = len(p)
	}
	return out
}

// pairs keeps first-seen order while letting a repeated prompt take the
// latest completion.
type pairs struct {
	list  []llm.Example
	index map[string]int
}

func newPairs() *pairs {
	return &pairs{index: map[string]int{}}
}

func (p *pairs) put(prompt, completion string) {
	if testcase.Missing(prompt) || testcase.Missing(completion) {
		return
	}
	if i, ok := p.index[prompt]; ok {
		p.list[i].Completion = completion
		return
	}
	p.index[prompt] = len(p.list)
	p.list = append(p.list, llm.Example{Prompt: prompt, Completion: completion})
}
