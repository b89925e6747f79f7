package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/meikuraledutech/flow"
)

// CreateSession inserts a new session row.
func (s *PGStore) CreateSession(ctx context.Context, sess *flow.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("flow: marshal session: %w", err)
	}
	ct, err := s.db.Exec(ctx,
		`INSERT INTO flow_sessions (id, flow_id, version_id, revision, data, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (id) DO NOTHING`,
		sess.ID, sess.FlowID, sess.VersionID, sess.Revision, data, sess.StartedAt, sess.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("flow: insert session: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: session %s already exists", flow.ErrConflict, sess.ID)
	}
	return nil
}

// GetSession fetches a session by its ID.
// Returns nil, nil if not found.
func (s *PGStore) GetSession(ctx context.Context, sessionID string) (*flow.Session, error) {
	var (
		revision int
		data     []byte
	)
	err := s.db.QueryRow(ctx,
		`SELECT revision, data FROM flow_sessions WHERE id = $1`, sessionID,
	).Scan(&revision, &data)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("flow: get session: %w", err)
	}
	return decodeSession(data, revision)
}

// UpdateSession writes sess only if the stored revision still matches, then
// bumps sess.Revision.
func (s *PGStore) UpdateSession(ctx context.Context, sess *flow.Session) error {
	next := sess.Clone()
	next.Revision++
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("flow: marshal session: %w", err)
	}
	ct, err := s.db.Exec(ctx,
		`UPDATE flow_sessions SET data = $1, revision = $2, completed_at = $3
		 WHERE id = $4 AND revision = $5`,
		data, next.Revision, next.CompletedAt, sess.ID, sess.Revision,
	)
	if err != nil {
		return fmt.Errorf("flow: update session: %w", err)
	}
	if ct.RowsAffected() == 0 {
		var exists bool
		if err := s.db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM flow_sessions WHERE id = $1)`, sess.ID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("flow: check session: %w", err)
		}
		if !exists {
			return fmt.Errorf("%w: %s", flow.ErrSessionNotFound, sess.ID)
		}
		return fmt.Errorf("%w: session %s changed since revision %d", flow.ErrConflict, sess.ID, sess.Revision)
	}
	sess.Revision = next.Revision
	return nil
}

// ListSessions returns all sessions of a flow, oldest first.
// Returns an empty slice (not nil) if none found.
func (s *PGStore) ListSessions(ctx context.Context, flowID string) ([]*flow.Session, error) {
	rows, err := s.db.Query(ctx,
		`SELECT revision, data FROM flow_sessions WHERE flow_id = $1 ORDER BY started_at, id`, flowID)
	if err != nil {
		return nil, fmt.Errorf("flow: list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*flow.Session{}
	for rows.Next() {
		var (
			revision int
			data     []byte
		)
		if err := rows.Scan(&revision, &data); err != nil {
			return nil, fmt.Errorf("flow: scan session: %w", err)
		}
		sess, err := decodeSession(data, revision)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("flow: rows sessions: %w", err)
	}
	return sessions, nil
}

func decodeSession(data []byte, revision int) (*flow.Session, error) {
	var sess flow.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("flow: decode session: %w", err)
	}
	sess.Revision = revision
	return &sess, nil
}
