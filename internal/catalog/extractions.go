package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LatestExtractionTime returns the time_made of the most recent extraction
// produced by a group database, or nil when none exists yet. This is the
// low watermark of the next delta snapshot.
func (s *Store) LatestExtractionTime(ctx context.Context, groupDatabaseID string) (*time.Time, error) {
	var latest time.Time
	err := s.db.Pool().QueryRow(ctx,
		"SELECT time_made FROM group_extractions WHERE group_database_id = $1 ORDER BY time_made DESC LIMIT 1",
		groupDatabaseID).Scan(&latest)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest extraction time: %w", err)
	}
	return &latest, nil
}

// RecordExtraction persists the record of one produced payload and returns it
func (s *Store) RecordExtraction(ctx context.Context, e GroupExtraction) (*GroupExtraction, error) {
	query := `
		INSERT INTO group_extractions (extraction_id, group_id, group_database_id, time_made, start_time, end_time, file_path, file_size, file_sha256)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING extraction_id, group_id, group_database_id, time_made, start_time, end_time, file_path, file_size, file_sha256
	`

	var out GroupExtraction
	err := s.db.Pool().QueryRow(ctx, query, uuid.NewString(), e.GroupID, e.GroupDatabaseID,
		e.TimeMade, e.StartTime, e.EndTime, e.FilePath, e.FileSize, e.FileSHA256).Scan(
		&out.ID, &out.GroupID, &out.GroupDatabaseID, &out.TimeMade, &out.StartTime, &out.EndTime,
		&out.FilePath, &out.FileSize, &out.FileSHA256)
	if err != nil {
		return nil, fmt.Errorf("failed to record extraction: %w", err)
	}
	return &out, nil
}

// RecordObligations creates one unapplied synchronization per target group
// database, all in one transaction so the fan-out is complete or absent
func (s *Store) RecordObligations(ctx context.Context, extractionID string, targetGroupDatabaseIDs []string) error {
	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, targetID := range targetGroupDatabaseIDs {
		_, err := tx.Exec(ctx,
			"INSERT INTO group_database_synchronizations (synchronization_id, extraction_id, group_database_id) VALUES ($1, $2, $3)",
			uuid.NewString(), extractionID, targetID)
		if err != nil {
			return fmt.Errorf("failed to record obligation: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit obligations: %w", err)
	}
	return nil
}

// PendingObligations returns the unapplied synchronizations of a group
// database, oldest extraction first. The apply pipeline works head-of-line:
// a failure on the first obligation blocks the rest.
func (s *Store) PendingObligations(ctx context.Context, groupDatabaseID string) ([]PendingObligation, error) {
	query := `
		SELECT sy.synchronization_id, sy.extraction_id, sy.group_database_id, sy.is_applied, sy.time_applied,
			ex.extraction_id, ex.group_id, ex.group_database_id, ex.time_made, ex.start_time, ex.end_time,
			ex.file_path, ex.file_size, ex.file_sha256,
			g.group_id, g.slug
		FROM group_database_synchronizations sy
		JOIN group_extractions ex ON ex.extraction_id = sy.extraction_id
		JOIN groups g ON g.group_id = ex.group_id
		WHERE sy.group_database_id = $1 AND NOT sy.is_applied
		ORDER BY ex.time_made
	`

	rows, err := s.db.Pool().Query(ctx, query, groupDatabaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending obligations: %w", err)
	}
	defer rows.Close()

	var pending []PendingObligation
	for rows.Next() {
		var p PendingObligation
		if err := rows.Scan(
			&p.Synchronization.ID, &p.Synchronization.ExtractionID, &p.Synchronization.GroupDatabaseID,
			&p.Synchronization.IsApplied, &p.Synchronization.TimeApplied,
			&p.Extraction.ID, &p.Extraction.GroupID, &p.Extraction.GroupDatabaseID,
			&p.Extraction.TimeMade, &p.Extraction.StartTime, &p.Extraction.EndTime,
			&p.Extraction.FilePath, &p.Extraction.FileSize, &p.Extraction.FileSHA256,
			&p.GroupID, &p.GroupSlug); err != nil {
			return nil, fmt.Errorf("failed to scan pending obligation: %w", err)
		}
		pending = append(pending, p)
	}

	return pending, rows.Err()
}

// ListGroupDatabasesWithPending returns the group databases that have at
// least one unapplied obligation, the apply pump's work list
func (s *Store) ListGroupDatabasesWithPending(ctx context.Context) ([]GroupDatabase, error) {
	query := `
		SELECT DISTINCT gd.group_database_id, gd.group_id, gd.member_id, gd.can_write, gd.can_read
		FROM group_databases gd
		JOIN group_database_synchronizations sy ON sy.group_database_id = gd.group_database_id
		WHERE NOT sy.is_applied
	`

	rows, err := s.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list group databases with pending work: %w", err)
	}
	defer rows.Close()

	var memberships []GroupDatabase
	for rows.Next() {
		var gd GroupDatabase
		if err := rows.Scan(&gd.ID, &gd.GroupID, &gd.MemberID, &gd.CanWrite, &gd.CanRead); err != nil {
			return nil, fmt.Errorf("failed to scan group database: %w", err)
		}
		memberships = append(memberships, gd)
	}

	return memberships, rows.Err()
}

// MarkObligationApplied flips one synchronization to applied
func (s *Store) MarkObligationApplied(ctx context.Context, synchronizationID string, appliedAt time.Time) error {
	_, err := s.db.Pool().Exec(ctx,
		"UPDATE group_database_synchronizations SET is_applied = true, time_applied = $1 WHERE synchronization_id = $2",
		appliedAt, synchronizationID)
	if err != nil {
		return fmt.Errorf("failed to mark obligation applied: %w", err)
	}
	return nil
}

// ExpiredExtractions returns extractions older than cutoff whose obligations
// are all applied. Extractions with unapplied obligations are never eligible
// regardless of age.
func (s *Store) ExpiredExtractions(ctx context.Context, cutoff time.Time) ([]GroupExtraction, error) {
	query := `
		SELECT ex.extraction_id, ex.group_id, ex.group_database_id, ex.time_made, ex.start_time, ex.end_time,
			ex.file_path, ex.file_size, ex.file_sha256
		FROM group_extractions ex
		WHERE ex.time_made < $1
			AND NOT EXISTS (
				SELECT 1 FROM group_database_synchronizations sy
				WHERE sy.extraction_id = ex.extraction_id AND NOT sy.is_applied
			)
		ORDER BY ex.time_made
	`

	rows, err := s.db.Pool().Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired extractions: %w", err)
	}
	defer rows.Close()

	var expired []GroupExtraction
	for rows.Next() {
		var e GroupExtraction
		if err := rows.Scan(&e.ID, &e.GroupID, &e.GroupDatabaseID, &e.TimeMade, &e.StartTime, &e.EndTime,
			&e.FilePath, &e.FileSize, &e.FileSHA256); err != nil {
			return nil, fmt.Errorf("failed to scan expired extraction: %w", err)
		}
		expired = append(expired, e)
	}

	return expired, rows.Err()
}

// SurplusExtractions returns the fully-applied extractions of each source
// beyond the newest keep per source, oldest first
func (s *Store) SurplusExtractions(ctx context.Context, keep int) ([]GroupExtraction, error) {
	query := `
		SELECT extraction_id, group_id, group_database_id, time_made, start_time, end_time, file_path, file_size, file_sha256
		FROM (
			SELECT ex.*, row_number() OVER (PARTITION BY ex.group_database_id ORDER BY ex.time_made DESC) AS rn
			FROM group_extractions ex
			WHERE NOT EXISTS (
				SELECT 1 FROM group_database_synchronizations sy
				WHERE sy.extraction_id = ex.extraction_id AND NOT sy.is_applied
			)
		) ranked
		WHERE rn > $1
		ORDER BY time_made
	`

	rows, err := s.db.Pool().Query(ctx, query, keep)
	if err != nil {
		return nil, fmt.Errorf("failed to list surplus extractions: %w", err)
	}
	defer rows.Close()

	var surplus []GroupExtraction
	for rows.Next() {
		var e GroupExtraction
		if err := rows.Scan(&e.ID, &e.GroupID, &e.GroupDatabaseID, &e.TimeMade, &e.StartTime, &e.EndTime,
			&e.FilePath, &e.FileSize, &e.FileSHA256); err != nil {
			return nil, fmt.Errorf("failed to scan surplus extraction: %w", err)
		}
		surplus = append(surplus, e)
	}

	return surplus, rows.Err()
}

// DeleteExtraction removes one extraction record and, by cascade, its
// synchronizations. The payload file is the caller's to remove.
func (s *Store) DeleteExtraction(ctx context.Context, extractionID string) error {
	_, err := s.db.Pool().Exec(ctx,
		"DELETE FROM group_extractions WHERE extraction_id = $1", extractionID)
	if err != nil {
		return fmt.Errorf("failed to delete extraction: %w", err)
	}
	return nil
}
