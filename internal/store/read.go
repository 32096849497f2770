package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// LoadContext reads the persisted OTA context.
// A missing row is not an error: found reports whether one existed.
func (s *Store) LoadContext(ctx context.Context) (c OTAContext, found bool, err error) {
	var inProgress int
	var providerNodeID, downloadNodeID, softwareVersion int64

	row := s.db.QueryRowContext(ctx, `
		SELECT in_progress, provider_node_id, download_node_id, fabric_index, file_designator, software_version
		FROM ota_context
		WHERE id = 1
	`)
	err = row.Scan(&inProgress, &providerNodeID, &downloadNodeID, &c.FabricIndex, &c.FileDesignator, &softwareVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return OTAContext{}, false, nil
	}
	if err != nil {
		return OTAContext{}, false, fmt.Errorf("load context: %w", err)
	}

	c.InProgress = inProgress != 0
	c.ProviderNodeID = uint64(providerNodeID)
	c.DownloadNodeID = uint64(downloadNodeID)
	c.SoftwareVersion = uint32(softwareVersion)
	return c, true, nil
}

// Transitions returns the full state-transition log in insertion order.
// Returns an empty slice (not nil) when no transitions were recorded.
func (s *Store) Transitions(ctx context.Context) ([]Transition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, from_state, to_state, at_elapsed_ms
		FROM state_transitions
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	transitions := []Transition{}
	for rows.Next() {
		var t Transition
		if err := rows.Scan(&t.Seq, &t.FromState, &t.ToState, &t.ElapsedMS); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		transitions = append(transitions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}

	return transitions, nil
}

// DownloadErrors returns the download-error log in insertion order.
func (s *Store) DownloadErrors(ctx context.Context) ([]DownloadError, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, reason, at_elapsed_ms
		FROM download_errors
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query download errors: %w", err)
	}
	defer rows.Close()

	downloadErrors := []DownloadError{}
	for rows.Next() {
		var e DownloadError
		if err := rows.Scan(&e.Seq, &e.Reason, &e.ElapsedMS); err != nil {
			return nil, fmt.Errorf("scan download error: %w", err)
		}
		downloadErrors = append(downloadErrors, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate download errors: %w", err)
	}

	return downloadErrors, nil
}

// AppliedVersions returns the applied-version log in insertion order.
func (s *Store) AppliedVersions(ctx context.Context) ([]AppliedVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, version, at_elapsed_ms
		FROM applied_versions
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query applied versions: %w", err)
	}
	defer rows.Close()

	versions := []AppliedVersion{}
	for rows.Next() {
		var v AppliedVersion
		var raw int64
		if err := rows.Scan(&v.Seq, &raw, &v.ElapsedMS); err != nil {
			return nil, fmt.Errorf("scan applied version: %w", err)
		}
		v.Version = uint32(raw)
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied versions: %w", err)
	}

	return versions, nil
}
