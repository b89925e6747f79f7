// Package memory provides an in-process implementation of the flow stores.
// Records are copied on the way in and out, so callers never share state with
// the store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/meikuraledutech/flow"
)

// Store implements flow.FlowStore and flow.SessionStore.
type Store struct {
	mu       sync.RWMutex
	flows    map[string]*flow.Flow
	versions map[string]*flow.Version
	sessions map[string]*flow.Session
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		flows:    make(map[string]*flow.Flow),
		versions: make(map[string]*flow.Version),
		sessions: make(map[string]*flow.Session),
	}
}

var (
	_ flow.FlowStore    = (*Store)(nil)
	_ flow.SessionStore = (*Store)(nil)
)

func (s *Store) CreateFlow(_ context.Context, f *flow.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flows[f.ID]; ok {
		return fmt.Errorf("%w: flow %s already exists", flow.ErrConflict, f.ID)
	}
	s.flows[f.ID] = copyFlow(f)
	return nil
}

func (s *Store) GetFlow(_ context.Context, flowID string) (*flow.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flows[flowID]
	if !ok {
		return nil, nil
	}
	return copyFlow(f), nil
}

func (s *Store) SaveDraft(_ context.Context, flowID string, draft flow.Graph) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[flowID]
	if !ok {
		return fmt.Errorf("%w: %s", flow.ErrFlowNotFound, flowID)
	}
	f.Draft = draft.Clone()
	return nil
}

func (s *Store) AppendVersion(_ context.Context, v *flow.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[v.FlowID]
	if !ok {
		return fmt.Errorf("%w: %s", flow.ErrFlowNotFound, v.FlowID)
	}
	if v.Number <= f.LastVersion {
		return fmt.Errorf("%w: version %d already issued for flow %s", flow.ErrConflict, v.Number, v.FlowID)
	}
	if _, ok := s.versions[v.ID]; ok {
		return fmt.Errorf("%w: version id %s already exists", flow.ErrConflict, v.ID)
	}
	f.LastVersion = v.Number
	s.versions[v.ID] = copyVersion(v)
	return nil
}

func (s *Store) GetVersion(_ context.Context, versionID string) (*flow.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.versions[versionID]
	if !ok {
		return nil, nil
	}
	return copyVersion(v), nil
}

func (s *Store) ListVersions(_ context.Context, flowID string) ([]flow.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []flow.Version{}
	for _, v := range s.versions {
		if v.FlowID == flowID {
			out = append(out, *copyVersion(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (s *Store) SetActiveVersion(_ context.Context, flowID, versionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[flowID]
	if !ok {
		return fmt.Errorf("%w: %s", flow.ErrFlowNotFound, flowID)
	}
	if versionID != "" {
		v, ok := s.versions[versionID]
		if !ok {
			return fmt.Errorf("%w: %s", flow.ErrVersionNotFound, versionID)
		}
		if v.FlowID != flowID {
			return fmt.Errorf("%w: version %s belongs to flow %s", flow.ErrVersionMismatch, versionID, v.FlowID)
		}
	}
	f.ActiveVersionID = versionID
	return nil
}

func (s *Store) CreateSession(_ context.Context, sess *flow.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return fmt.Errorf("%w: session %s already exists", flow.ErrConflict, sess.ID)
	}
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *Store) GetSession(_ context.Context, sessionID string) (*flow.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return sess.Clone(), nil
}

func (s *Store) UpdateSession(_ context.Context, sess *flow.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.sessions[sess.ID]
	if !ok {
		return fmt.Errorf("%w: %s", flow.ErrSessionNotFound, sess.ID)
	}
	if cur.Revision != sess.Revision {
		return fmt.Errorf("%w: session %s is at revision %d, not %d", flow.ErrConflict, sess.ID, cur.Revision, sess.Revision)
	}
	sess.Revision++
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *Store) ListSessions(_ context.Context, flowID string) ([]*flow.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*flow.Session{}
	for _, sess := range s.sessions {
		if sess.FlowID == flowID {
			out = append(out, sess.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func copyFlow(f *flow.Flow) *flow.Flow {
	c := *f
	c.Draft = f.Draft.Clone()
	return &c
}

func copyVersion(v *flow.Version) *flow.Version {
	c := *v
	c.Graph = v.Graph.Clone()
	return &c
}
