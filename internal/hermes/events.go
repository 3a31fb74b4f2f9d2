package hermes

import "github.com/MikeSquared-Agency/bddgen/internal/testcase"

const (
	SubjectTestCasesRequested = "bddgen.testcases.requested"
	SubjectCodeRequested      = "bddgen.code.requested"
	SubjectRunRequested       = "bddgen.run.requested"
	SubjectArtifactsGenerated = "bddgen.artifacts.generated"
	SubjectRunFailed          = "bddgen.run.failed"
	SubjectAgentRegistered    = "bddgen.agent.registered"
)

// TestCasesRequest asks for test cases from a user story.
type TestCasesRequest struct {
	RequestID          string  `json:"request_id"`
	UserStory          string  `json:"user_story"`
	AcceptanceCriteria string  `json:"acceptance_criteria"`
	Temperature        float64 `json:"temperature"`
}

// CodeRequest asks for a feature and glue code from existing test cases. The
// test cases use the same JSON shape the model emits.
type CodeRequest struct {
	RequestID   string              `json:"request_id"`
	TestCases   []testcase.TestCase `json:"test_cases"`
	Temperature float64             `json:"temperature"`
}

// RunRequest asks for a full run: test cases from the story and, when
// TestCases is non-empty, a feature and glue code from those cases.
type RunRequest struct {
	RequestID          string              `json:"request_id"`
	UserStory          string              `json:"user_story"`
	AcceptanceCriteria string              `json:"acceptance_criteria"`
	TestCases          []testcase.TestCase `json:"test_cases,omitempty"`
	Temperature        float64             `json:"temperature"`
}

// ArtifactRef points at one stored artifact.
type ArtifactRef struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Filename string `json:"filename"`
}

type ArtifactsGenerated struct {
	RequestID string        `json:"request_id"`
	RunID     string        `json:"run_id"`
	Artifacts []ArtifactRef `json:"artifacts"`
	Warnings  []string      `json:"warnings,omitempty"`
}

type RunFailed struct {
	RequestID string `json:"request_id"`
	Stage     string `json:"stage"`
	Error     string `json:"error"`
}

type AgentRegistered struct {
	Agent     string   `json:"agent"`
	Model     string   `json:"model"`
	Port      int      `json:"port"`
	Stages    []string `json:"stages"`
	Timestamp string   `json:"timestamp"`
}
