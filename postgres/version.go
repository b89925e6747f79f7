package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/meikuraledutech/flow"
)

// AppendVersion stores an immutable version and raises the flow's
// last_version in one transaction. The flow row is locked so concurrent
// publishes of the same flow cannot issue the same number.
func (s *PGStore) AppendVersion(ctx context.Context, v *flow.Version) error {
	graph, err := json.Marshal(v.Graph)
	if err != nil {
		return fmt.Errorf("flow: marshal graph: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("flow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var last int
	err = tx.QueryRow(ctx,
		`SELECT last_version FROM flows WHERE id = $1 FOR UPDATE`, v.FlowID,
	).Scan(&last)
	if err != nil {
		if isNoRows(err) {
			return fmt.Errorf("%w: %s", flow.ErrFlowNotFound, v.FlowID)
		}
		return fmt.Errorf("flow: lock flow: %w", err)
	}
	if v.Number <= last {
		return fmt.Errorf("%w: version %d already issued for flow %s", flow.ErrConflict, v.Number, v.FlowID)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO flow_versions (id, flow_id, version, graph, checksum, created_by, changelog, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		v.ID, v.FlowID, v.Number, graph, v.Checksum, v.CreatedBy, v.Changelog, v.CreatedAt,
	); err != nil {
		return fmt.Errorf("flow: insert version %d: %w", v.Number, err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE flows SET last_version = $1, updated_at = NOW() WHERE id = $2`,
		v.Number, v.FlowID,
	); err != nil {
		return fmt.Errorf("flow: bump last_version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("flow: commit: %w", err)
	}
	return nil
}

// GetVersion fetches a single version by its ID.
// Returns nil, nil if not found.
func (s *PGStore) GetVersion(ctx context.Context, versionID string) (*flow.Version, error) {
	var (
		v     flow.Version
		graph []byte
	)
	err := s.db.QueryRow(ctx,
		`SELECT id, flow_id, version, graph, checksum, created_by, changelog, created_at
		 FROM flow_versions WHERE id = $1`, versionID,
	).Scan(&v.ID, &v.FlowID, &v.Number, &graph, &v.Checksum, &v.CreatedBy, &v.Changelog, &v.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("flow: get version: %w", err)
	}
	if err := json.Unmarshal(graph, &v.Graph); err != nil {
		return nil, fmt.Errorf("flow: decode version %s: %w", versionID, err)
	}
	return &v, nil
}

// ListVersions returns all versions of a flow, ordered by number.
// Returns an empty slice (not nil) if none found.
func (s *PGStore) ListVersions(ctx context.Context, flowID string) ([]flow.Version, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, flow_id, version, graph, checksum, created_by, changelog, created_at
		 FROM flow_versions WHERE flow_id = $1 ORDER BY version`, flowID)
	if err != nil {
		return nil, fmt.Errorf("flow: list versions: %w", err)
	}
	defer rows.Close()

	versions := []flow.Version{}
	for rows.Next() {
		var (
			v     flow.Version
			graph []byte
		)
		if err := rows.Scan(&v.ID, &v.FlowID, &v.Number, &graph, &v.Checksum, &v.CreatedBy, &v.Changelog, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("flow: scan version: %w", err)
		}
		if err := json.Unmarshal(graph, &v.Graph); err != nil {
			return nil, fmt.Errorf("flow: decode version %s: %w", v.ID, err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("flow: rows versions: %w", err)
	}
	return versions, nil
}
