package flow_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kataras/golog"
	"github.com/meikuraledutech/flow"
	"github.com/meikuraledutech/flow/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	store *memory.Store
	pub   *flow.Publisher
	run   *flow.Runner

	mu    sync.Mutex
	clock time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{store: memory.New(), clock: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	var ids atomic.Int64
	opts := flow.Options{
		Logger: golog.New().SetOutput(io.Discard),
		Now: func() time.Time {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.clock = h.clock.Add(time.Second)
			return h.clock
		},
		NewID:        func() string { return fmt.Sprintf("id-%d", ids.Add(1)) },
		MaxAutoSteps: 50,
	}
	h.pub = flow.NewPublisher(h.store, opts)
	h.run = flow.NewRunner(h.store, h.store, opts)
	return h
}

// live creates, publishes and activates g and returns the flow id and
// version.
func (h *harness) live(t *testing.T, g flow.Graph) (string, *flow.Version) {
	t.Helper()
	ctx := context.Background()
	f, err := h.pub.CreateFlow(ctx, g.ID, g)
	require.NoError(t, err)
	v, err := h.pub.Publish(ctx, f.ID, "tester", "")
	require.NoError(t, err)
	_, err = h.pub.Activate(ctx, f.ID, v.ID)
	require.NoError(t, err)
	return f.ID, v
}

func pizza(id string) flow.Graph {
	return flow.Graph{
		ID: id,
		Nodes: []flow.Node{
			{ID: "start", Kind: flow.KindStart, Data: flow.StartData{}},
			{ID: "q", Kind: flow.KindYesNo, Data: flow.YesNoData{Prompt: "Like pizza?"}},
			{ID: "end1", Kind: flow.KindEnd, Data: flow.EndData{}},
			{ID: "end2", Kind: flow.KindEnd, Data: flow.EndData{}},
		},
		Edges: []flow.Edge{
			{ID: "e1", Source: "start", Target: "q"},
			{ID: "e2", Source: "q", SourceHandle: flow.HandleYes, Target: "end1"},
			{ID: "e3", Source: "q", SourceHandle: flow.HandleNo, Target: "end2"},
		},
	}
}

func TestRunner_Pizza(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	flowID, v := h.live(t, pizza("pizza"))

	s, err := h.run.Start(ctx, flowID)
	require.NoError(t, err)
	assert.Equal(t, "q", s.CurrentNodeID, "start is passed automatically")
	assert.Equal(t, v.ID, s.VersionID)
	assert.Equal(t, []string{"start", "q"}, s.Path)
	assert.False(t, s.Completed())

	s, err = h.run.SubmitAnswer(ctx, s.ID, "q", flow.Answer{"yes"})
	require.NoError(t, err)
	assert.Equal(t, "end1", s.CurrentNodeID)
	assert.True(t, s.Completed())
	assert.Equal(t, []string{"start", "q", "end1"}, s.Path)
	assert.Equal(t, flow.Answer{"yes"}, s.Answers["q"])
	assert.Equal(t, time.Second, s.Timings["q"])

	_, err = h.run.SubmitAnswer(ctx, s.ID, "q", flow.Answer{"yes"})
	assert.ErrorIs(t, err, flow.ErrSessionAlreadyComplete)

	stored, err := h.run.Session(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s, stored)
}

func TestRunner_StartErrors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.run.Start(ctx, "ghost")
	assert.ErrorIs(t, err, flow.ErrFlowNotFound)

	_, err = h.pub.CreateFlow(ctx, "draft only", pizza("draft"))
	require.NoError(t, err)
	_, err = h.run.Start(ctx, "draft")
	assert.ErrorIs(t, err, flow.ErrNoActiveVersion)

	_, err = h.run.Session(ctx, "ghost")
	assert.ErrorIs(t, err, flow.ErrSessionNotFound)
}

func TestRunner_StaleAndInvalidAnswers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	flowID, _ := h.live(t, pizza("pizza"))

	s, err := h.run.Start(ctx, flowID)
	require.NoError(t, err)

	_, err = h.run.SubmitAnswer(ctx, s.ID, "start", flow.Answer{"yes"})
	assert.ErrorIs(t, err, flow.ErrStaleStep)

	_, err = h.run.SubmitAnswer(ctx, s.ID, "q", flow.Answer{"perhaps"})
	assert.ErrorIs(t, err, flow.ErrInvalidAnswer)
	assert.True(t, flow.IsTraversalError(err))

	after, err := h.run.Session(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s, after, "rejected answers leave the session untouched")
}

func TestRunner_UnroutedHandleKeepsSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	g := pizza("half")
	g.Nodes = g.Nodes[:3]
	g.Edges = g.Edges[:2]
	flowID, _ := h.live(t, g)

	s, err := h.run.Start(ctx, flowID)
	require.NoError(t, err)
	_, err = h.run.SubmitAnswer(ctx, s.ID, "q", flow.Answer{"no"})
	assert.ErrorIs(t, err, flow.ErrUnroutedHandle)

	after, err := h.run.Session(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "q", after.CurrentNodeID)
	assert.False(t, after.Completed())
}

func TestRunner_ScoreScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	w := 3.0
	g := flow.Graph{
		ID:        "quiz",
		Variables: []flow.Variable{{Name: "score", Default: flow.Number(0)}},
		Nodes: []flow.Node{
			{ID: "start", Kind: flow.KindStart, Data: flow.StartData{}},
			{ID: "w", Kind: flow.KindWeight, Data: flow.WeightData{Weight: 7, VariableName: "score"}},
			{ID: "mc", Kind: flow.KindMultipleChoice, Data: flow.MultipleChoiceData{Options: []flow.Option{
				{ID: "a", Label: "A", Weight: &w, VariableName: "score"},
				{ID: "b", Label: "B"},
			}}},
			{ID: "fn", Kind: flow.KindFunction, Data: flow.FunctionData{Steps: []flow.Step{{
				Type: flow.StepCondition, Variable: "score", Comparator: flow.CmpGreaterEqual,
				Value: ptr(flow.Number(10)), TrueHandle: "handleA", FalseHandle: "handleB",
			}}}},
			{ID: "endA", Kind: flow.KindEnd, Data: flow.EndData{}},
			{ID: "endB", Kind: flow.KindEnd, Data: flow.EndData{}},
		},
		Edges: []flow.Edge{
			{ID: "e1", Source: "start", Target: "w"},
			{ID: "e2", Source: "w", Target: "mc"},
			{ID: "e3", Source: "mc", Target: "fn"},
			{ID: "e4", Source: "fn", SourceHandle: "handleA", Target: "endA"},
			{ID: "e5", Source: "fn", SourceHandle: "handleB", Target: "endB"},
		},
	}
	flowID, _ := h.live(t, g)

	s, err := h.run.Start(ctx, flowID)
	require.NoError(t, err)
	assert.Equal(t, "mc", s.CurrentNodeID)
	assert.Equal(t, flow.Number(7), s.Variables.Get("score"))

	s, err = h.run.SubmitAnswer(ctx, s.ID, "mc", flow.Answer{"a"})
	require.NoError(t, err)
	assert.Equal(t, "endA", s.CurrentNodeID)
	assert.Equal(t, []string{"start", "w", "mc", "fn", "endA"}, s.Path)
	assert.Equal(t, flow.Number(10), s.Variables.Get("score"))

	other, err := h.run.Start(ctx, flowID)
	require.NoError(t, err)
	other, err = h.run.SubmitAnswer(ctx, other.ID, "mc", flow.Answer{"b"})
	require.NoError(t, err)
	assert.Equal(t, "endB", other.CurrentNodeID)

	report, err := h.run.Analyze(ctx, flowID)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Completed)
	assert.Equal(t, map[string]int{"endA": 1, "endB": 1}, report.Endings)
	assert.Equal(t, flow.VariableStat{Min: 7, Max: 10, Mean: 8.5, N: 2}, report.Variables["score"])
}

func TestRunner_VersionPinning(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	flowID, v1 := h.live(t, pizza("pizza"))

	s, err := h.run.Start(ctx, flowID)
	require.NoError(t, err)

	// v2 renames the question node.
	g := pizza("pizza")
	g.Nodes[1].ID = "q2"
	g.Edges[0].Target = "q2"
	g.Edges[1].Source = "q2"
	g.Edges[2].Source = "q2"
	_, err = h.pub.UpdateDraft(ctx, flowID, g)
	require.NoError(t, err)
	v2, err := h.pub.Publish(ctx, flowID, "tester", "rename question")
	require.NoError(t, err)
	_, err = h.pub.Activate(ctx, flowID, v2.ID)
	require.NoError(t, err)

	s, err = h.run.SubmitAnswer(ctx, s.ID, "q", flow.Answer{"no"})
	require.NoError(t, err)
	assert.Equal(t, v1.ID, s.VersionID)
	assert.Equal(t, "end2", s.CurrentNodeID)

	fresh, err := h.run.Start(ctx, flowID)
	require.NoError(t, err)
	assert.Equal(t, v2.ID, fresh.VersionID)
	assert.Equal(t, "q2", fresh.CurrentNodeID)

	// Unpublishing stops new sessions but not running ones.
	running, err := h.run.Start(ctx, flowID)
	require.NoError(t, err)
	_, err = h.pub.Unpublish(ctx, flowID)
	require.NoError(t, err)
	_, err = h.run.Start(ctx, flowID)
	assert.ErrorIs(t, err, flow.ErrNoActiveVersion)
	running, err = h.run.SubmitAnswer(ctx, running.ID, "q2", flow.Answer{"yes"})
	require.NoError(t, err)
	assert.True(t, running.Completed())
}

func TestRunner_Complete(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	flowID, _ := h.live(t, pizza("pizza"))

	s, err := h.run.Start(ctx, flowID)
	require.NoError(t, err)

	done, err := h.run.Complete(ctx, s.ID)
	require.NoError(t, err)
	require.True(t, done.Completed())
	assert.True(t, done.Abandoned)
	assert.Equal(t, "q", done.CurrentNodeID)

	report, err := h.run.Analyze(ctx, flowID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Abandoned)
	assert.Zero(t, report.Completed)
	assert.Empty(t, report.Endings)

	_, err = h.run.Redirect(ctx, s.ID)
	assert.ErrorIs(t, err, flow.ErrNotRedirectable)

	again, err := h.run.Complete(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, done, again)

	_, err = h.run.SubmitAnswer(ctx, s.ID, "q", flow.Answer{"yes"})
	assert.ErrorIs(t, err, flow.ErrSessionAlreadyComplete)

	_, err = h.run.Complete(ctx, "ghost")
	assert.ErrorIs(t, err, flow.ErrSessionNotFound)
}

func TestRunner_Redirect(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	target := pizza("followup")
	target.Variables = []flow.Variable{{Name: "tier", Default: flow.String("free"), Scope: flow.ScopeGlobal}}
	_, _ = h.live(t, target)

	src := pizza("intake")
	src.Variables = []flow.Variable{
		{Name: "tier", Default: flow.String("gold"), Scope: flow.ScopeGlobal},
		{Name: "scratch", Default: flow.Number(1)},
	}
	src.Nodes[2].Data = flow.EndData{RedirectTarget: "followup"}
	srcID, _ := h.live(t, src)

	s, err := h.run.Start(ctx, srcID)
	require.NoError(t, err)

	_, err = h.run.Redirect(ctx, s.ID)
	assert.ErrorIs(t, err, flow.ErrNotRedirectable, "still in progress")

	s, err = h.run.SubmitAnswer(ctx, s.ID, "q", flow.Answer{"yes"})
	require.NoError(t, err)

	child, err := h.run.Redirect(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "followup", child.FlowID)
	assert.Equal(t, s.ID, child.ParentID)
	assert.Equal(t, flow.String("gold"), child.Variables.Get("tier"))
	_, ok := child.Variables.Lookup("scratch")
	assert.False(t, ok, "locals stay behind")

	again, err := h.run.Redirect(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, child.ID, again.ID, "redirect is idempotent per parent")
	parent, err := h.run.Session(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, child.ID, parent.ChildID)
	report, err := h.run.Analyze(ctx, "followup")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sessions)

	other, err := h.run.Start(ctx, srcID)
	require.NoError(t, err)
	other, err = h.run.SubmitAnswer(ctx, other.ID, "q", flow.Answer{"no"})
	require.NoError(t, err)
	_, err = h.run.Redirect(ctx, other.ID)
	assert.ErrorIs(t, err, flow.ErrNotRedirectable)
}

func TestRunner_RedirectTypeMismatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	target := pizza("followup")
	target.Variables = []flow.Variable{{Name: "tier", Default: flow.Number(0), Scope: flow.ScopeGlobal}}
	_, _ = h.live(t, target)

	src := pizza("intake")
	src.Variables = []flow.Variable{{Name: "tier", Default: flow.String("gold"), Scope: flow.ScopeGlobal}}
	src.Nodes[2].Data = flow.EndData{RedirectTarget: "followup"}
	srcID, _ := h.live(t, src)

	s, err := h.run.Start(ctx, srcID)
	require.NoError(t, err)
	s, err = h.run.SubmitAnswer(ctx, s.ID, "q", flow.Answer{"yes"})
	require.NoError(t, err)

	_, err = h.run.Redirect(ctx, s.ID)
	assert.ErrorIs(t, err, flow.ErrTypeMismatch)

	parent, err := h.run.Session(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, parent.ChildID)
	report, err := h.run.Analyze(ctx, "followup")
	require.NoError(t, err)
	assert.Zero(t, report.Sessions)
}

func TestRunner_AutoAdvanceLimit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	// w1 and w2 loop into each other behind a yes/no gate, so the graph
	// validates but answering "yes" never reaches another question.
	g := flow.Graph{
		ID: "loop",
		Nodes: []flow.Node{
			{ID: "start", Kind: flow.KindStart, Data: flow.StartData{}},
			{ID: "q", Kind: flow.KindYesNo, Data: flow.YesNoData{}},
			{ID: "fn", Kind: flow.KindFunction, Data: flow.FunctionData{Steps: []flow.Step{{
				Type: flow.StepCondition, Variable: "n", Comparator: flow.CmpLess,
				Value: ptr(flow.Number(0)), TrueHandle: "out",
			}}}},
			{ID: "w", Kind: flow.KindWeight, Data: flow.WeightData{Weight: 1, VariableName: "n"}},
			{ID: "end", Kind: flow.KindEnd, Data: flow.EndData{}},
		},
		Edges: []flow.Edge{
			{ID: "e1", Source: "start", Target: "q"},
			{ID: "e2", Source: "q", SourceHandle: flow.HandleYes, Target: "fn"},
			{ID: "e3", Source: "q", SourceHandle: flow.HandleNo, Target: "end"},
			{ID: "e4", Source: "fn", SourceHandle: "out", Target: "end"},
			{ID: "e5", Source: "fn", SourceHandle: flow.HandleDefault, Target: "w"},
			{ID: "e6", Source: "w", Target: "fn"},
		},
	}
	flowID, _ := h.live(t, g)

	s, err := h.run.Start(ctx, flowID)
	require.NoError(t, err)
	_, err = h.run.SubmitAnswer(ctx, s.ID, "q", flow.Answer{"yes"})
	assert.ErrorIs(t, err, flow.ErrAutoAdvanceLimit)

	after, err := h.run.Session(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "q", after.CurrentNodeID)
}

func TestRunner_ConcurrentAnswers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	flowID, _ := h.live(t, pizza("pizza"))

	s, err := h.run.Start(ctx, flowID)
	require.NoError(t, err)

	const n = 8
	var (
		wg  sync.WaitGroup
		ok  atomic.Int32
		bad atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.run.SubmitAnswer(ctx, s.ID, "q", flow.Answer{"yes"})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, flow.ErrSessionAlreadyComplete):
				bad.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, ok.Load())
	assert.EqualValues(t, n-1, bad.Load())

	final, err := h.run.Session(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "q", "end1"}, final.Path)
}

func TestRunner_Metrics(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	reg := prometheus.NewRegistry()
	opts := flow.Options{Logger: golog.New().SetOutput(io.Discard), Metrics: flow.NewMetrics(reg)}
	pub := flow.NewPublisher(store, opts)
	run := flow.NewRunner(store, store, opts)

	f, err := pub.CreateFlow(ctx, "p", pizza("p"))
	require.NoError(t, err)
	v, err := pub.Publish(ctx, f.ID, "", "")
	require.NoError(t, err)
	_, err = pub.Activate(ctx, f.ID, v.ID)
	require.NoError(t, err)
	s, err := run.Start(ctx, f.ID)
	require.NoError(t, err)
	_, err = run.SubmitAnswer(ctx, s.ID, "q", flow.Answer{"no"})
	require.NoError(t, err)

	err = testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP flow_sessions_completed_total Respondent sessions completed
# TYPE flow_sessions_completed_total counter
flow_sessions_completed_total 1
# HELP flow_sessions_started_total Respondent sessions started
# TYPE flow_sessions_started_total counter
flow_sessions_started_total 1
# HELP flow_versions_publishes_total Publish attempts by outcome
# TYPE flow_versions_publishes_total counter
flow_versions_publishes_total{outcome="ok"} 1
`), "flow_sessions_started_total", "flow_sessions_completed_total", "flow_versions_publishes_total")
	assert.NoError(t, err)
}

func ptr[T any](v T) *T { return &v }
