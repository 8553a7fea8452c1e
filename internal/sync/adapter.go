package sync

import (
	"context"

	"github.com/wufengchun/AFFiNE/internal/permission"
	"github.com/wufengchun/AFFiNE/internal/space"
	"github.com/wufengchun/AFFiNE/internal/store"
)

// DocStorage is the persistence contract the adapters delegate to.
// Implemented by store.DocStore.
type DocStorage interface {
	PushDocUpdates(ctx context.Context, spaceID, docID string, updates [][]byte, editorID string) (int64, error)
	GetDocDiff(ctx context.Context, spaceID, docID string, stateVector []byte) (*store.DocDiff, error)
	GetDocState(ctx context.Context, spaceID, docID string) ([]byte, error)
	DeleteDoc(ctx context.Context, spaceID, docID string) error
	GetSpaceDocTimestamps(ctx context.Context, spaceID string, after int64) (map[string]int64, error)
}

// DocReader is the read-optimized diff path. Implemented by
// store.SnapshotReader; the workspace adapter prefers it for load-doc.
type DocReader interface {
	GetDocDiff(ctx context.Context, spaceID, docID string, stateVector []byte) (*store.DocDiff, error)
}

// SpaceAdapter is the per-connection, per-space-type session surface.
// The two variants (workspace, userspace) share this one type; behavior
// differences are switches on spaceType: access policy, doc-id guid
// normalization, and the diff fast-path.
type SpaceAdapter struct {
	spaceType space.Type
	conn      *Connection
	storage   DocStorage
	reader    DocReader
	perm      permission.Service
}

// Room composes the broadcast channel name for a space room.
func (a *SpaceAdapter) Room(spaceID, roomType string) string {
	return space.Room(a.spaceType, spaceID, roomType)
}

func (a *SpaceAdapter) assertAccessible(ctx context.Context, userID, spaceID string, required permission.Role) error {
	switch a.spaceType {
	case space.TypeUserspace:
		// A userspace belongs to exactly one user.
		if spaceID != userID {
			return errSpaceAccessDenied(spaceID)
		}
		return nil
	default:
		ok, err := a.perm.IsWorkspaceMember(ctx, spaceID, userID, required)
		if err != nil {
			return err
		}
		if !ok {
			return errSpaceAccessDenied(spaceID)
		}
		return nil
	}
}

// Join subscribes the connection to a room after an access check. Joining
// a room the connection is already in is a no-op and skips the check.
func (a *SpaceAdapter) Join(ctx context.Context, userID, spaceID, roomType string) error {
	room := a.Room(spaceID, roomType)
	if a.conn.inRoom(room) {
		return nil
	}
	if err := a.assertAccessible(ctx, userID, spaceID, permission.RoleCollaborator); err != nil {
		return err
	}
	a.conn.rooms[room] = struct{}{}
	a.conn.gateway.hub.add(a.conn, room)
	return nil
}

// Leave is a safe no-op when the connection never joined.
func (a *SpaceAdapter) Leave(spaceID, roomType string) {
	room := a.Room(spaceID, roomType)
	if !a.conn.inRoom(room) {
		return
	}
	delete(a.conn.rooms, room)
	a.conn.gateway.hub.remove(a.conn, room)
}

func (a *SpaceAdapter) In(spaceID, roomType string) bool {
	return a.conn.inRoom(a.Room(spaceID, roomType))
}

// AssertIn guards every space-scoped operation except Join itself.
func (a *SpaceAdapter) AssertIn(spaceID, roomType string) error {
	if !a.In(spaceID, roomType) {
		return errNotInSpace(spaceID)
	}
	return nil
}

// docGuid translates the externally visible doc id to the canonical id
// storage keys on. Only workspace docs carry the legacy composite forms.
func (a *SpaceAdapter) docGuid(spaceID, docID string) string {
	if a.spaceType == space.TypeWorkspace {
		return space.Guid(spaceID, docID)
	}
	return docID
}

func (a *SpaceAdapter) Push(ctx context.Context, spaceID, docID string, updates [][]byte, editorID string) (int64, error) {
	if err := a.AssertIn(spaceID, space.RoomSync); err != nil {
		return 0, err
	}
	return a.storage.PushDocUpdates(ctx, spaceID, a.docGuid(spaceID, docID), updates, editorID)
}

// Diff returns nil when the document does not exist. The workspace
// variant reads through the snapshot reader.
func (a *SpaceAdapter) Diff(ctx context.Context, spaceID, docID string, stateVector []byte) (*store.DocDiff, error) {
	if err := a.AssertIn(spaceID, space.RoomSync); err != nil {
		return nil, err
	}
	guid := a.docGuid(spaceID, docID)
	if a.spaceType == space.TypeWorkspace && a.reader != nil {
		return a.reader.GetDocDiff(ctx, spaceID, guid, stateVector)
	}
	return a.storage.GetDocDiff(ctx, spaceID, guid, stateVector)
}

func (a *SpaceAdapter) Delete(ctx context.Context, spaceID, docID string) error {
	if err := a.AssertIn(spaceID, space.RoomSync); err != nil {
		return err
	}
	return a.storage.DeleteDoc(ctx, spaceID, a.docGuid(spaceID, docID))
}

func (a *SpaceAdapter) Timestamps(ctx context.Context, spaceID string, since int64) (map[string]int64, error) {
	if err := a.AssertIn(spaceID, space.RoomSync); err != nil {
		return nil, err
	}
	return a.storage.GetSpaceDocTimestamps(ctx, spaceID, since)
}

// State reads the merged document state, for snapshot archival.
func (a *SpaceAdapter) State(ctx context.Context, spaceID, docID string) ([]byte, error) {
	if err := a.AssertIn(spaceID, space.RoomSync); err != nil {
		return nil, err
	}
	return a.storage.GetDocState(ctx, spaceID, a.docGuid(spaceID, docID))
}
