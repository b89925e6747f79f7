package flow

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Runner drives respondent sessions through the version they were started
// on. Calls for the same session are serialized; calls for different
// sessions do not block each other.
type Runner struct {
	flows    FlowStore
	sessions SessionStore
	opts     Options
	locks    *keyedMutex

	// versions caches immutable versions by id.
	versions sync.Map
}

// NewRunner creates a Runner reading flows and versions from flows and
// persisting sessions to sessions.
func NewRunner(flows FlowStore, sessions SessionStore, opts Options) *Runner {
	return &Runner{
		flows:    flows,
		sessions: sessions,
		opts:     opts.withDefaults(),
		locks:    newKeyedMutex(),
	}
}

// Start begins a session on the flow's active version and advances it to the
// first question.
func (r *Runner) Start(ctx context.Context, flowID string) (*Session, error) {
	return r.start(ctx, flowID, "", nil)
}

func (r *Runner) start(ctx context.Context, flowID, parentID string, carried Variables) (*Session, error) {
	f, err := r.flows.GetFlow(ctx, flowID)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, fmt.Errorf("%w: %s", ErrFlowNotFound, flowID)
	}
	// Read the pointer once; the session is pinned to whatever it says now.
	versionID := f.ActiveVersionID
	if versionID == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoActiveVersion, flowID)
	}
	v, err := r.version(ctx, versionID)
	if err != nil {
		return nil, err
	}
	start, ok := v.Graph.StartNode()
	if !ok {
		return nil, fmt.Errorf("%w: version %s has no start node", ErrInvalidGraph, v.ID)
	}

	now := r.opts.Now()
	vars := v.Graph.InitialVariables()
	if err := vars.Merge(carried); err != nil {
		return nil, fmt.Errorf("flow %s: %w", flowID, err)
	}
	s := &Session{
		ID:            r.opts.NewID(),
		FlowID:        flowID,
		VersionID:     v.ID,
		ParentID:      parentID,
		CurrentNodeID: start.ID,
		Answers:       make(map[string]Answer),
		Variables:     vars,
		Path:          []string{start.ID},
		Timings:       make(map[string]time.Duration),
		NodeEnteredAt: now,
		StartedAt:     now,
	}
	if err := r.advance(&v.Graph, s, now); err != nil {
		r.opts.Logger.Debugf("flow %s: start failed: %v", flowID, err)
		return nil, err
	}
	if err := r.sessions.CreateSession(ctx, s); err != nil {
		r.opts.Logger.Errorf("flow %s: create session: %v", flowID, err)
		return nil, err
	}
	r.opts.Metrics.sessionStarted()
	if s.Completed() {
		r.opts.Metrics.sessionCompleted()
	}
	r.opts.Logger.Debugf("session %s started on flow %s version %d", s.ID, flowID, v.Number)
	return s, nil
}

// SubmitAnswer applies answer to nodeID, which must be the session's current
// node. On any error the stored session is left unchanged.
func (r *Runner) SubmitAnswer(ctx context.Context, sessionID, nodeID string, answer Answer) (*Session, error) {
	unlock := r.locks.Lock(sessionID)
	defer unlock()

	cur, err := r.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if cur.Completed() {
		return nil, fmt.Errorf("%w: %s", ErrSessionAlreadyComplete, sessionID)
	}
	if nodeID != cur.CurrentNodeID {
		return nil, fmt.Errorf("%w: session %s is at %q, not %q", ErrStaleStep, sessionID, cur.CurrentNodeID, nodeID)
	}
	v, err := r.version(ctx, cur.VersionID)
	if err != nil {
		return nil, err
	}
	n, ok := v.Graph.Node(nodeID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, nodeID)
	}

	s := cur.Clone()
	now := r.opts.Now()
	res, err := r.step(&v.Graph, n, answer, s.Variables)
	r.opts.Metrics.answer(n.Kind, err)
	if err != nil {
		r.opts.Logger.Debugf("session %s: answer for %s rejected: %v", sessionID, nodeID, err)
		return nil, err
	}
	s.Answers[n.ID] = append(Answer(nil), answer...)
	s.Timings[n.ID] += now.Sub(s.NodeEnteredAt)
	s.moveTo(res, now)
	if err := r.advance(&v.Graph, s, now); err != nil {
		r.opts.Logger.Debugf("session %s: advance after %s failed: %v", sessionID, nodeID, err)
		return nil, err
	}

	if err := r.sessions.UpdateSession(ctx, s); err != nil {
		return nil, err
	}
	if s.Completed() {
		r.opts.Metrics.sessionCompleted()
		r.opts.Logger.Debugf("session %s completed at %s", s.ID, s.CurrentNodeID)
	}
	return s, nil
}

// Complete closes the session. One still waiting on a question is marked
// abandoned. A completed session is returned unchanged.
func (r *Runner) Complete(ctx context.Context, sessionID string) (*Session, error) {
	unlock := r.locks.Lock(sessionID)
	defer unlock()

	cur, err := r.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if cur.Completed() {
		return cur, nil
	}
	s := cur.Clone()
	now := r.opts.Now()
	s.CompletedAt = &now
	s.Abandoned = true
	if err := r.sessions.UpdateSession(ctx, s); err != nil {
		return nil, err
	}
	r.opts.Metrics.sessionAbandoned()
	r.opts.Logger.Debugf("session %s abandoned at %s", s.ID, s.CurrentNodeID)
	return s, nil
}

// Redirect continues a session that ended on an end node with a redirect
// target: it starts a session on the target flow's active version carrying
// the global variables over. Calling it again returns the same child.
func (r *Runner) Redirect(ctx context.Context, sessionID string) (*Session, error) {
	unlock := r.locks.Lock(sessionID)
	defer unlock()

	parent, err := r.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if parent.ChildID != "" {
		return r.Session(ctx, parent.ChildID)
	}
	if !parent.Completed() {
		return nil, fmt.Errorf("%w: session %s is still in progress", ErrNotRedirectable, sessionID)
	}
	v, err := r.version(ctx, parent.VersionID)
	if err != nil {
		return nil, err
	}
	n, ok := v.Graph.Node(parent.CurrentNodeID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, parent.CurrentNodeID)
	}
	end, ok := deref(n.Data).(EndData)
	if !ok || end.RedirectTarget == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotRedirectable, sessionID)
	}

	child, err := r.start(ctx, end.RedirectTarget, parent.ID, parent.Variables.Globals())
	if err != nil {
		return nil, err
	}
	parent.ChildID = child.ID
	if err := r.sessions.UpdateSession(ctx, parent); err != nil {
		r.opts.Logger.Errorf("session %s: link child %s: %v", parent.ID, child.ID, err)
		return nil, err
	}
	r.opts.Logger.Debugf("session %s redirected to flow %s as %s", parent.ID, end.RedirectTarget, child.ID)
	return child, nil
}

// Session returns a stored session.
func (r *Runner) Session(ctx context.Context, sessionID string) (*Session, error) {
	s, err := r.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return s, nil
}

// Analyze aggregates every stored session of a flow.
func (r *Runner) Analyze(ctx context.Context, flowID string) (Report, error) {
	sessions, err := r.sessions.ListSessions(ctx, flowID)
	if err != nil {
		return Report{}, err
	}
	return Analyze(sessions), nil
}

// advance steps through nodes that take no answer until the session sits on
// a question or has ended.
func (r *Runner) advance(g *Graph, s *Session, now time.Time) error {
	for i := 0; ; i++ {
		n, ok := g.Node(s.CurrentNodeID)
		if !ok {
			return fmt.Errorf("%w: %q", ErrNodeNotFound, s.CurrentNodeID)
		}
		if n.Kind == KindEnd {
			s.CompletedAt = &now
			return nil
		}
		if Interactive(n.Kind) {
			return nil
		}
		if i >= r.opts.MaxAutoSteps {
			return fmt.Errorf("%w: stopped at %q after %d steps", ErrAutoAdvanceLimit, n.ID, i)
		}
		res, err := r.step(g, n, nil, s.Variables)
		if err != nil {
			return err
		}
		s.moveTo(res, now)
	}
}

func (r *Runner) step(g *Graph, n *Node, answer Answer, vars Variables) (StepResult, error) {
	begin := time.Now()
	res, err := StepNode(g, n.ID, answer, vars)
	r.opts.Metrics.step(n.Kind, time.Since(begin))
	return res, err
}

func (r *Runner) version(ctx context.Context, versionID string) (*Version, error) {
	if v, ok := r.versions.Load(versionID); ok {
		return v.(*Version), nil
	}
	v, err := r.flows.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, versionID)
	}
	r.versions.Store(versionID, v)
	return v, nil
}

func (s *Session) moveTo(res StepResult, now time.Time) {
	s.Variables = res.Variables
	s.CurrentNodeID = res.Next
	s.Path = append(s.Path, res.Next)
	s.NodeEnteredAt = now
}
