package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/meikuraledutech/flow"
)

// CreateFlow inserts a new flow row. A duplicate id yields flow.ErrConflict.
func (s *PGStore) CreateFlow(ctx context.Context, f *flow.Flow) error {
	draft, err := json.Marshal(f.Draft)
	if err != nil {
		return fmt.Errorf("flow: marshal draft: %w", err)
	}
	ct, err := s.db.Exec(ctx,
		`INSERT INTO flows (id, name, draft, active_version_id, last_version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (id) DO NOTHING`,
		f.ID, f.Name, draft, f.ActiveVersionID, f.LastVersion, f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("flow: insert flow: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: flow %s already exists", flow.ErrConflict, f.ID)
	}
	return nil
}

// GetFlow fetches a flow with its draft.
// Returns nil, nil if not found.
func (s *PGStore) GetFlow(ctx context.Context, flowID string) (*flow.Flow, error) {
	var (
		f     flow.Flow
		draft []byte
	)
	err := s.db.QueryRow(ctx,
		`SELECT id, name, draft, active_version_id, last_version, created_at, updated_at
		 FROM flows WHERE id = $1`, flowID,
	).Scan(&f.ID, &f.Name, &draft, &f.ActiveVersionID, &f.LastVersion, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("flow: get flow: %w", err)
	}
	if err := json.Unmarshal(draft, &f.Draft); err != nil {
		return nil, fmt.Errorf("flow: decode draft of %s: %w", flowID, err)
	}
	return &f, nil
}

// SaveDraft replaces the draft of an existing flow.
// Returns flow.ErrFlowNotFound if the flow doesn't exist.
func (s *PGStore) SaveDraft(ctx context.Context, flowID string, draft flow.Graph) error {
	b, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("flow: marshal draft: %w", err)
	}
	ct, err := s.db.Exec(ctx,
		`UPDATE flows SET draft = $1, updated_at = NOW() WHERE id = $2`, b, flowID)
	if err != nil {
		return fmt.Errorf("flow: save draft: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", flow.ErrFlowNotFound, flowID)
	}
	return nil
}

// SetActiveVersion points the flow at versionID, or unpublishes it when
// versionID is empty. The version must belong to the flow.
func (s *PGStore) SetActiveVersion(ctx context.Context, flowID, versionID string) error {
	if versionID == "" {
		ct, err := s.db.Exec(ctx,
			`UPDATE flows SET active_version_id = '', updated_at = NOW() WHERE id = $1`, flowID)
		if err != nil {
			return fmt.Errorf("flow: unpublish: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", flow.ErrFlowNotFound, flowID)
		}
		return nil
	}

	ct, err := s.db.Exec(ctx,
		`UPDATE flows SET active_version_id = $1, updated_at = NOW()
		 WHERE id = $2 AND EXISTS (SELECT 1 FROM flow_versions WHERE id = $1 AND flow_id = $2)`,
		versionID, flowID,
	)
	if err != nil {
		return fmt.Errorf("flow: activate: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: version %s is not a version of flow %s", flow.ErrVersionMismatch, versionID, flowID)
	}
	return nil
}
