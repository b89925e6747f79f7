package flow

import (
	"context"
	"time"
)

// Flow is the servable unit: a mutable draft plus a pointer to the version
// new sessions are served. An empty ActiveVersionID means unpublished.
// LastVersion is the highest version number ever issued for the flow.
type Flow struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Draft           Graph     `json:"draft"`
	ActiveVersionID string    `json:"activeVersionId,omitempty"`
	LastVersion     int       `json:"lastVersion"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Version is an immutable, numbered snapshot of a flow's draft.
type Version struct {
	ID        string    `json:"id"`
	FlowID    string    `json:"flowId"`
	Number    int       `json:"version"`
	Graph     Graph     `json:"graph"`
	Checksum  string    `json:"checksum"`
	CreatedAt time.Time `json:"createdAt"`
	CreatedBy string    `json:"createdBy,omitempty"`
	Changelog string    `json:"changelog,omitempty"`
}

// Session is one respondent's traversal of a pinned version. Revision is
// bumped by every successful store update and guards against lost writes.
// ParentID and ChildID link the sessions of a redirect chain. Abandoned
// marks a session closed by Complete before it reached an end node.
type Session struct {
	ID            string                   `json:"id"`
	FlowID        string                   `json:"flowId"`
	VersionID     string                   `json:"versionId"`
	ParentID      string                   `json:"parentId,omitempty"`
	ChildID       string                   `json:"childId,omitempty"`
	CurrentNodeID string                   `json:"currentNodeId"`
	Answers       map[string]Answer        `json:"answers"`
	Variables     Variables                `json:"variables"`
	Path          []string                 `json:"path"`
	Timings       map[string]time.Duration `json:"timings"`
	NodeEnteredAt time.Time                `json:"nodeEnteredAt"`
	StartedAt     time.Time                `json:"startedAt"`
	CompletedAt   *time.Time               `json:"completedAt,omitempty"`
	Abandoned     bool                     `json:"abandoned,omitempty"`
	Revision      int                      `json:"revision"`
}

// Completed reports whether the session has finished.
func (s *Session) Completed() bool { return s.CompletedAt != nil }

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	c := *s
	c.Answers = make(map[string]Answer, len(s.Answers))
	for k, a := range s.Answers {
		c.Answers[k] = append(Answer(nil), a...)
	}
	c.Variables = s.Variables.Clone()
	c.Path = append([]string(nil), s.Path...)
	c.Timings = make(map[string]time.Duration, len(s.Timings))
	for k, d := range s.Timings {
		c.Timings[k] = d
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// FlowStore persists flows and their version history. Getters return nil, nil
// when the record does not exist.
type FlowStore interface {
	CreateFlow(ctx context.Context, f *Flow) error
	GetFlow(ctx context.Context, flowID string) (*Flow, error)
	SaveDraft(ctx context.Context, flowID string, draft Graph) error

	// AppendVersion stores v and raises the flow's LastVersion to v.Number in
	// one atomic step. It fails with ErrConflict if v.Number is not greater
	// than the stored LastVersion.
	AppendVersion(ctx context.Context, v *Version) error
	GetVersion(ctx context.Context, versionID string) (*Version, error)
	ListVersions(ctx context.Context, flowID string) ([]Version, error)

	// SetActiveVersion atomically replaces the active pointer; "" unpublishes.
	SetActiveVersion(ctx context.Context, flowID, versionID string) error
}

// SessionStore persists respondent sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)

	// UpdateSession writes s if the stored revision still equals s.Revision,
	// then increments s.Revision. Otherwise it returns ErrConflict.
	UpdateSession(ctx context.Context, s *Session) error
	ListSessions(ctx context.Context, flowID string) ([]*Session, error)
}
