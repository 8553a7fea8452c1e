// Package space holds the identity model for document namespaces: space
// types, room names, and the workspace doc-id to guid normalization.
package space

import (
	"fmt"
	"strings"
)

type Type string

const (
	TypeWorkspace Type = "workspace"
	TypeUserspace Type = "userspace"
)

// RoomSync is the room every space-scoped operation requires a prior join
// on; awareness rooms are derived per document via AwarenessRoom.
const RoomSync = "sync"

func (t Type) Valid() bool {
	return t == TypeWorkspace || t == TypeUserspace
}

// ParseType normalizes a wire-level space type string.
func ParseType(raw string) (Type, error) {
	switch Type(raw) {
	case TypeWorkspace, TypeUserspace:
		return Type(raw), nil
	default:
		return "", fmt.Errorf("unknown space type %q", raw)
	}
}

// AwarenessRoom builds the room type for a document's presence channel.
func AwarenessRoom(docID string) string {
	return docID + ":awareness"
}

// IsAwarenessRoom reports whether a room type names an awareness channel
// and, if so, which document it belongs to.
func IsAwarenessRoom(roomType string) (docID string, ok bool) {
	docID, found := strings.CutSuffix(roomType, ":awareness")
	if !found || docID == "" {
		return "", false
	}
	return docID, true
}

// Room composes the broadcast channel name for a space room. Rooms are
// names, not entities; membership lives on each connection.
func Room(spaceType Type, spaceID, roomType string) string {
	return string(spaceType) + ":" + spaceID + ":" + roomType
}

// Guid reduces an externally visible workspace doc id to the canonical id
// used by storage. Clients historically sent ids as "<spaceId>:space:<id>"
// or "<spaceId>:<id>"; both collapse to the bare id. A doc id equal to the
// space id names the space's root doc and stays as-is.
func Guid(spaceID, docID string) string {
	if docID == spaceID {
		return docID
	}
	if rest, ok := strings.CutPrefix(docID, spaceID+":space:"); ok && rest != "" {
		return rest
	}
	if rest, ok := strings.CutPrefix(docID, spaceID+":"); ok && rest != "" {
		return rest
	}
	return docID
}
