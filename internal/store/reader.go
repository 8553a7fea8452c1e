package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wufengchun/AFFiNE/internal/docmerge"
)

// SnapshotReader is the read-optimized diff path the workspace adapter
// uses for load-doc. It only ever touches the snapshot table, so it can
// point at a read replica without seeing the update log.
type SnapshotReader struct {
	db        *sql.DB
	merger    docmerge.Merger
	spaceType string
}

func NewSnapshotReader(db *sql.DB, merger docmerge.Merger, spaceType string) *SnapshotReader {
	return &SnapshotReader{db: db, merger: merger, spaceType: spaceType}
}

// GetDocDiff mirrors DocStore.GetDocDiff, including the nil-when-absent
// contract.
func (r *SnapshotReader) GetDocDiff(ctx context.Context, spaceID, docID string, stateVector []byte) (*DocDiff, error) {
	var state []byte
	var timestamp int64
	err := r.db.QueryRowContext(ctx, `
		SELECT state, timestamp FROM doc_snapshots
		WHERE space_type=$1 AND space_id=$2 AND doc_id=$3
	`, r.spaceType, spaceID, docID).Scan(&state, &timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	missing, err := r.merger.Diff(state, stateVector)
	if err != nil {
		return nil, fmt.Errorf("diff snapshot: %w", err)
	}
	return &DocDiff{Missing: missing, State: state, Timestamp: timestamp}, nil
}
