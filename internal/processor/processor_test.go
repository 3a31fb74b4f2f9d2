package processor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/bddgen/internal/hermes"
	"github.com/MikeSquared-Agency/bddgen/internal/pipeline"
	"github.com/MikeSquared-Agency/bddgen/internal/store"
	"github.com/MikeSquared-Agency/bddgen/internal/testcase"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRunner struct {
	set   *pipeline.ArtifactSet
	err   error
	cases []testcase.TestCase
	req   pipeline.Request
}

func (f *fakeRunner) TestCases(_ context.Context, _, _ string, _ float64) (*pipeline.ArtifactSet, error) {
	return f.set, f.err
}

func (f *fakeRunner) Code(_ context.Context, cases []testcase.TestCase, _ float64) (*pipeline.ArtifactSet, error) {
	f.cases = cases
	return f.set, f.err
}

func (f *fakeRunner) Run(_ context.Context, req pipeline.Request) (*pipeline.ArtifactSet, error) {
	f.req = req
	return f.set, f.err
}

type published struct {
	subject string
	data    any
}

type fakeBus struct {
	mu   sync.Mutex
	msgs []published
}

func (b *fakeBus) Publish(subject string, data any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, published{subject, data})
	return nil
}

type failingSaver struct{}

func (failingSaver) SaveArtifact(context.Context, store.Artifact) error {
	return errors.New("disk full")
}

func oneCase() []testcase.TestCase {
	return []testcase.TestCase{{
		No:          1,
		Description: "Valid login",
		Steps:       []testcase.Step{{No: 1, Description: "log in", InputData: "user", ExpectedResult: "home"}},
	}}
}

func TestHandleTestCasesRequested_StoresAndPublishes(t *testing.T) {
	run := uuid.New()
	runner := &fakeRunner{set: &pipeline.ArtifactSet{RunID: run, TestCases: oneCase()}}
	mem := store.NewMemory()
	bus := &fakeBus{}
	p := New(runner, mem, bus, 0, discardLogger())

	payload, _ := json.Marshal(hermes.TestCasesRequest{RequestID: "req-1", UserStory: "story"})
	p.HandleTestCasesRequested(hermes.SubjectTestCasesRequested, payload)

	if len(bus.msgs) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(bus.msgs))
	}
	if bus.msgs[0].subject != hermes.SubjectArtifactsGenerated {
		t.Errorf("expected subject %s, got %s", hermes.SubjectArtifactsGenerated, bus.msgs[0].subject)
	}
	evt := bus.msgs[0].data.(hermes.ArtifactsGenerated)
	if evt.RequestID != "req-1" {
		t.Errorf("expected request_id req-1, got %s", evt.RequestID)
	}
	if len(evt.Artifacts) != 1 || evt.Artifacts[0].Kind != string(store.KindTestCases) {
		t.Fatalf("expected one test_cases artifact, got %+v", evt.Artifacts)
	}

	list, _ := mem.ListRun(context.Background(), run)
	if len(list) != 1 {
		t.Errorf("expected 1 stored artifact, got %d", len(list))
	}
}

func TestHandleTestCasesRequested_MalformedPublishesFailure(t *testing.T) {
	runner := &fakeRunner{set: &pipeline.ArtifactSet{RunID: uuid.New(), Warnings: []string{pipeline.WarnMalformedTestCases}}}
	bus := &fakeBus{}
	p := New(runner, store.NewMemory(), bus, 0, discardLogger())

	payload, _ := json.Marshal(hermes.TestCasesRequest{RequestID: "req-2"})
	p.HandleTestCasesRequested(hermes.SubjectTestCasesRequested, payload)

	if len(bus.msgs) != 1 || bus.msgs[0].subject != hermes.SubjectRunFailed {
		t.Fatalf("expected one run.failed message, got %+v", bus.msgs)
	}
	evt := bus.msgs[0].data.(hermes.RunFailed)
	if evt.Stage != "test_cases" {
		t.Errorf("expected stage test_cases, got %s", evt.Stage)
	}
}

func TestHandleCodeRequested_StoresFeatureAndGlue(t *testing.T) {
	run := uuid.New()
	runner := &fakeRunner{set: &pipeline.ArtifactSet{RunID: run, Feature: "Feature: Login", Glue: "class LoginSteps {}"}}
	mem := store.NewMemory()
	bus := &fakeBus{}
	p := New(runner, mem, bus, 0, discardLogger())

	payload, _ := json.Marshal(hermes.CodeRequest{RequestID: "req-3", TestCases: oneCase()})
	p.HandleCodeRequested(hermes.SubjectCodeRequested, payload)

	if len(runner.cases) != 1 || runner.cases[0].Steps[0].InputData != "user" {
		t.Errorf("expected decoded test cases passed to the runner, got %+v", runner.cases)
	}

	evt := bus.msgs[0].data.(hermes.ArtifactsGenerated)
	if len(evt.Artifacts) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(evt.Artifacts))
	}

	id, err := uuid.Parse(evt.Artifacts[1].ID)
	if err != nil {
		t.Fatalf("invalid artifact id: %v", err)
	}
	glue, err := mem.TakeArtifact(context.Background(), id)
	if err != nil {
		t.Fatalf("TakeArtifact failed: %v", err)
	}
	if string(glue.Content) != "class LoginSteps {}" {
		t.Errorf("expected glue content, got %q", glue.Content)
	}
}

func TestHandleCodeRequested_RunnerError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("upstream down")}
	bus := &fakeBus{}
	p := New(runner, store.NewMemory(), bus, 0, discardLogger())

	payload, _ := json.Marshal(hermes.CodeRequest{RequestID: "req-4"})
	p.HandleCodeRequested(hermes.SubjectCodeRequested, payload)

	evt := bus.msgs[0].data.(hermes.RunFailed)
	if evt.Stage != "code" || evt.Error != "upstream down" {
		t.Errorf("expected code failure, got %+v", evt)
	}
}

func TestHandleCodeRequested_StoreError(t *testing.T) {
	runner := &fakeRunner{set: &pipeline.ArtifactSet{RunID: uuid.New(), Feature: "f", Glue: "g"}}
	bus := &fakeBus{}
	p := New(runner, failingSaver{}, bus, 0, discardLogger())

	payload, _ := json.Marshal(hermes.CodeRequest{RequestID: "req-5"})
	p.HandleCodeRequested(hermes.SubjectCodeRequested, payload)

	evt := bus.msgs[0].data.(hermes.RunFailed)
	if evt.Stage != "store" {
		t.Errorf("expected store failure, got %+v", evt)
	}
}

func TestHandlers_IgnoreInvalidPayload(t *testing.T) {
	bus := &fakeBus{}
	p := New(&fakeRunner{}, store.NewMemory(), bus, 0, discardLogger())

	p.HandleTestCasesRequested(hermes.SubjectTestCasesRequested, []byte("not json"))
	p.HandleCodeRequested(hermes.SubjectCodeRequested, []byte("{"))

	if len(bus.msgs) != 0 {
		t.Errorf("expected nothing published, got %d messages", len(bus.msgs))
	}
}

// stages is a canned pipeline.Stages for driving a real orchestrator.
type stages struct {
	batch *testcase.Batch
}

func (s stages) TestCases(context.Context, string, string, float64) (*testcase.Batch, error) {
	return s.batch, nil
}

func (s stages) Feature(_ context.Context, cases []testcase.TestCase, _ float64) (string, error) {
	return "Feature: " + cases[0].Description, nil
}

func (s stages) Glue(_ context.Context, feature string, _ float64) (string, error) {
	return "class Steps {} // " + feature, nil
}

func kinds(refs []hermes.ArtifactRef) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.Kind)
	}
	return out
}

func TestHandleRunRequested_StoresEveryArtifact(t *testing.T) {
	orch := pipeline.New(stages{batch: &testcase.Batch{TestCases: oneCase()}}, 1, discardLogger())
	mem := store.NewMemory()
	bus := &fakeBus{}
	p := New(orch, mem, bus, 0, discardLogger())

	payload, _ := json.Marshal(hermes.RunRequest{RequestID: "req-6", UserStory: "story", TestCases: oneCase()})
	p.HandleRunRequested(hermes.SubjectRunRequested, payload)

	if len(bus.msgs) != 1 || bus.msgs[0].subject != hermes.SubjectArtifactsGenerated {
		t.Fatalf("expected one artifacts.generated message, got %+v", bus.msgs)
	}
	evt := bus.msgs[0].data.(hermes.ArtifactsGenerated)
	got := kinds(evt.Artifacts)
	want := []string{string(store.KindTestCases), string(store.KindFeature), string(store.KindGlue)}
	if len(got) != len(want) {
		t.Fatalf("expected kinds %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected kind %s at %d, got %s", want[i], i, got[i])
		}
	}

	run, _ := uuid.Parse(evt.RunID)
	list, _ := mem.ListRun(context.Background(), run)
	if len(list) != 3 {
		t.Errorf("expected 3 stored artifacts, got %d", len(list))
	}
}

func TestHandleRunRequested_PartialResultCarriesWarnings(t *testing.T) {
	orch := pipeline.New(stages{batch: nil}, 1, discardLogger())
	bus := &fakeBus{}
	p := New(orch, store.NewMemory(), bus, 0, discardLogger())

	payload, _ := json.Marshal(hermes.RunRequest{RequestID: "req-7", TestCases: oneCase()})
	p.HandleRunRequested(hermes.SubjectRunRequested, payload)

	evt := bus.msgs[0].data.(hermes.ArtifactsGenerated)
	if len(evt.Artifacts) != 2 {
		t.Errorf("expected feature and glue only, got %v", kinds(evt.Artifacts))
	}
	if len(evt.Warnings) != 1 || evt.Warnings[0] != pipeline.WarnMalformedTestCases {
		t.Errorf("expected malformed warning, got %v", evt.Warnings)
	}
}

func TestHandleRunRequested_PassesRequestThrough(t *testing.T) {
	runner := &fakeRunner{set: &pipeline.ArtifactSet{RunID: uuid.New(), Warnings: []string{pipeline.WarnNoExistingCases}}}
	bus := &fakeBus{}
	p := New(runner, store.NewMemory(), bus, 0, discardLogger())

	payload, _ := json.Marshal(hermes.RunRequest{RequestID: "req-8", UserStory: "story", AcceptanceCriteria: "ac", Temperature: 0.3})
	p.HandleRunRequested(hermes.SubjectRunRequested, payload)

	if runner.req.UserStory != "story" || runner.req.AcceptanceCriteria != "ac" || runner.req.Temperature != 0.3 {
		t.Errorf("expected request fields passed through, got %+v", runner.req)
	}
	evt := bus.msgs[0].data.(hermes.ArtifactsGenerated)
	if len(evt.Artifacts) != 0 {
		t.Errorf("expected no artifacts, got %v", kinds(evt.Artifacts))
	}
}

func TestHandleRunRequested_RunnerError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("upstream down")}
	bus := &fakeBus{}
	p := New(runner, store.NewMemory(), bus, 0, discardLogger())

	payload, _ := json.Marshal(hermes.RunRequest{RequestID: "req-9"})
	p.HandleRunRequested(hermes.SubjectRunRequested, payload)

	evt := bus.msgs[0].data.(hermes.RunFailed)
	if evt.Stage != "run" {
		t.Errorf("expected run failure, got %+v", evt)
	}
}

func TestGo_DispatchesWithoutBlocking(t *testing.T) {
	p := New(&fakeRunner{}, store.NewMemory(), &fakeBus{}, 0, discardLogger())

	release := make(chan struct{})
	var mu sync.Mutex
	var seen []string
	handler := p.Go(func(subject string, _ []byte) {
		<-release
		mu.Lock()
		seen = append(seen, subject)
		mu.Unlock()
	})

	returned := make(chan struct{})
	go func() {
		handler("a", nil)
		handler("b", nil)
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("expected the wrapped handler to return before the work finished")
	}

	close(release)
	p.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Errorf("expected both handlers to finish before Wait returned, got %v", seen)
	}
}

func TestGo_DropsAfterWait(t *testing.T) {
	p := New(&fakeRunner{}, store.NewMemory(), &fakeBus{}, 0, discardLogger())
	p.Wait()

	called := make(chan struct{}, 1)
	p.Go(func(string, []byte) { called <- struct{}{} })("late", nil)
	p.Wait()

	select {
	case <-called:
		t.Error("expected no handler to start after Wait")
	default:
	}
}
