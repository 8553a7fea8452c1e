package store

import "time"

// DocUpdate is one row of the append-only update log.
type DocUpdate struct {
	SpaceID   string
	DocID     string
	Seq       int64
	Blob      []byte
	EditorID  string
	CreatedAt time.Time
}

// DocSnapshot is the merged state of a document plus the server timestamp
// assigned to its latest update.
type DocSnapshot struct {
	SpaceID   string
	DocID     string
	State     []byte
	Timestamp int64
	UpdatedAt time.Time
}

// DocDiff is the catch-up payload for one document: the updates the
// caller is missing, the merged state, and the latest server timestamp.
type DocDiff struct {
	Missing   []byte
	State     []byte
	Timestamp int64
}
