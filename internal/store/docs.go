package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wufengchun/AFFiNE/internal/docmerge"
)

// DocStore persists document updates and merged snapshots for one space
// type. Updates are applied in receipt order; the row lock on the
// snapshot serializes concurrent writers to the same document.
type DocStore struct {
	db        *sql.DB
	merger    docmerge.Merger
	spaceType string
}

func NewDocStore(db *sql.DB, merger docmerge.Merger, spaceType string) *DocStore {
	return &DocStore{db: db, merger: merger, spaceType: spaceType}
}

func (s *DocStore) PushDocUpdates(ctx context.Context, spaceID, docID string, updates [][]byte, editorID string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin push tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var state []byte
	err = tx.QueryRowContext(ctx, `
		SELECT state FROM doc_snapshots
		WHERE space_type=$1 AND space_id=$2 AND doc_id=$3
		FOR UPDATE
	`, s.spaceType, spaceID, docID).Scan(&state)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("lock snapshot: %w", err)
	}

	for _, update := range updates {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO doc_updates (space_type, space_id, doc_id, blob, editor_id)
			VALUES ($1, $2, $3, $4, $5)
		`, s.spaceType, spaceID, docID, update, editorID); err != nil {
			return 0, fmt.Errorf("insert update: %w", err)
		}
		state, err = s.merger.ApplyUpdate(state, update)
		if err != nil {
			return 0, fmt.Errorf("merge update: %w", err)
		}
	}

	timestamp := time.Now().UnixMilli()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO doc_snapshots (space_type, space_id, doc_id, state, timestamp, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (space_type, space_id, doc_id)
		DO UPDATE SET state=EXCLUDED.state, timestamp=EXCLUDED.timestamp, updated_at=NOW()
	`, s.spaceType, spaceID, docID, state, timestamp); err != nil {
		return 0, fmt.Errorf("upsert snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit push tx: %w", err)
	}
	return timestamp, nil
}

// GetDocDiff returns nil when the document has never been written. An
// existing document always yields a non-nil diff, even when the caller is
// missing nothing; the gateway relies on that distinction.
func (s *DocStore) GetDocDiff(ctx context.Context, spaceID, docID string, stateVector []byte) (*DocDiff, error) {
	var state []byte
	var timestamp int64
	err := s.db.QueryRowContext(ctx, `
		SELECT state, timestamp FROM doc_snapshots
		WHERE space_type=$1 AND space_id=$2 AND doc_id=$3
	`, s.spaceType, spaceID, docID).Scan(&state, &timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	missing, err := s.merger.Diff(state, stateVector)
	if err != nil {
		return nil, fmt.Errorf("diff snapshot: %w", err)
	}
	return &DocDiff{Missing: missing, State: state, Timestamp: timestamp}, nil
}

// GetDocState returns the merged state of a document, or nil when absent.
func (s *DocStore) GetDocState(ctx context.Context, spaceID, docID string) ([]byte, error) {
	var state []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT state FROM doc_snapshots
		WHERE space_type=$1 AND space_id=$2 AND doc_id=$3
	`, s.spaceType, spaceID, docID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot state: %w", err)
	}
	return state, nil
}

func (s *DocStore) DeleteDoc(ctx context.Context, spaceID, docID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM doc_updates WHERE space_type=$1 AND space_id=$2 AND doc_id=$3
	`, s.spaceType, spaceID, docID); err != nil {
		return fmt.Errorf("delete updates: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM doc_snapshots WHERE space_type=$1 AND space_id=$2 AND doc_id=$3
	`, s.spaceType, spaceID, docID); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete tx: %w", err)
	}
	return nil
}

func (s *DocStore) GetSpaceDocTimestamps(ctx context.Context, spaceID string, after int64) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, timestamp FROM doc_snapshots
		WHERE space_type=$1 AND space_id=$2 AND timestamp > $3
	`, s.spaceType, spaceID, after)
	if err != nil {
		return nil, fmt.Errorf("list doc timestamps: %w", err)
	}
	defer rows.Close()

	timestamps := map[string]int64{}
	for rows.Next() {
		var docID string
		var timestamp int64
		if err := rows.Scan(&docID, &timestamp); err != nil {
			return nil, fmt.Errorf("scan doc timestamp: %w", err)
		}
		timestamps[docID] = timestamp
	}
	return timestamps, rows.Err()
}
