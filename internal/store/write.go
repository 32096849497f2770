package store

import (
	"context"
	"fmt"
)

// SaveContext upserts the single ongoing-OTA context row.
// Uses ON CONFLICT(id) DO UPDATE so repeated saves during one update cycle
// keep exactly one row.
func (s *Store) SaveContext(ctx context.Context, c OTAContext) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ota_context
		(id, in_progress, provider_node_id, download_node_id, fabric_index, file_designator, software_version)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			in_progress      = excluded.in_progress,
			provider_node_id = excluded.provider_node_id,
			download_node_id = excluded.download_node_id,
			fabric_index     = excluded.fabric_index,
			file_designator  = excluded.file_designator,
			software_version = excluded.software_version
	`,
		boolToInt(c.InProgress),
		int64(c.ProviderNodeID),
		int64(c.DownloadNodeID),
		c.FabricIndex,
		c.FileDesignator,
		int64(c.SoftwareVersion),
	)
	if err != nil {
		return fmt.Errorf("save context: %w", err)
	}
	return nil
}

// ClearContext removes the persisted OTA context, if any.
// Idempotent - clearing an absent context is not an error.
func (s *Store) ClearContext(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM ota_context WHERE id = 1`); err != nil {
		return fmt.Errorf("clear context: %w", err)
	}
	return nil
}

// RecordStateTransition appends one state change to the transition log.
func (s *Store) RecordStateTransition(ctx context.Context, fromState, toState string, elapsedMS int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state_transitions (from_state, to_state, at_elapsed_ms)
		VALUES (?, ?, ?)
	`, fromState, toState, elapsedMS)
	if err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	return nil
}

// RecordDownloadError appends one download failure to the error log.
func (s *Store) RecordDownloadError(ctx context.Context, reason string, elapsedMS int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO download_errors (reason, at_elapsed_ms)
		VALUES (?, ?)
	`, reason, elapsedMS)
	if err != nil {
		return fmt.Errorf("record download error: %w", err)
	}
	return nil
}

// RecordVersionApplied appends one successful apply to the version log.
func (s *Store) RecordVersionApplied(ctx context.Context, version uint32, elapsedMS int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO applied_versions (version, at_elapsed_ms)
		VALUES (?, ?)
	`, int64(version), elapsedMS)
	if err != nil {
		return fmt.Errorf("record applied version: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
