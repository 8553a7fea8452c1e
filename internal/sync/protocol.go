package sync

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Wire format: one JSON text frame per event. Binary fields travel as
// base64 strings and are decoded here, at the boundary; everything past
// this file works on raw bytes.

type inboundMessage struct {
	Event     string          `json:"event"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type errorBody struct {
	Name    string         `json:"name"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type replyMessage struct {
	RequestID string     `json:"requestId,omitempty"`
	Data      any        `json:"data,omitempty"`
	Error     *errorBody `json:"error,omitempty"`
}

type eventMessage struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// Inbound payloads, current surface.

type joinSpacePayload struct {
	SpaceType     string `json:"spaceType"`
	SpaceID       string `json:"spaceId"`
	ClientVersion string `json:"clientVersion,omitempty"`
}

type leaveSpacePayload struct {
	SpaceType string `json:"spaceType"`
	SpaceID   string `json:"spaceId"`
}

type loadDocPayload struct {
	SpaceType   string  `json:"spaceType"`
	SpaceID     string  `json:"spaceId"`
	DocID       string  `json:"docId"`
	StateVector *string `json:"stateVector,omitempty"`
}

type deleteDocPayload struct {
	SpaceType string `json:"spaceType"`
	SpaceID   string `json:"spaceId"`
	DocID     string `json:"docId"`
}

type pushDocUpdatesPayload struct {
	SpaceType string   `json:"spaceType"`
	SpaceID   string   `json:"spaceId"`
	DocID     string   `json:"docId"`
	Updates   []string `json:"updates"`
}

type pushDocUpdatePayload struct {
	SpaceType string `json:"spaceType"`
	SpaceID   string `json:"spaceId"`
	DocID     string `json:"docId"`
	Update    string `json:"update"`
}

type loadDocTimestampsPayload struct {
	SpaceType string `json:"spaceType"`
	SpaceID   string `json:"spaceId"`
	Timestamp *int64 `json:"timestamp,omitempty"`
}

type awarenessPayload struct {
	SpaceType     string `json:"spaceType"`
	SpaceID       string `json:"spaceId"`
	DocID         string `json:"docId"`
	ClientVersion string `json:"clientVersion,omitempty"`
}

type updateAwarenessPayload struct {
	SpaceType       string `json:"spaceType"`
	SpaceID         string `json:"spaceId"`
	DocID           string `json:"docId"`
	AwarenessUpdate string `json:"awarenessUpdate"`
}

// Replies.

type joinReply struct {
	ClientID string `json:"clientId"`
	Success  bool   `json:"success"`
}

type loadDocReply struct {
	Missing   string `json:"missing"`
	State     string `json:"state"`
	Timestamp int64  `json:"timestamp"`
}

type pushReply struct {
	Accepted  bool  `json:"accepted"`
	Timestamp int64 `json:"timestamp"`
}

type clientIDReply struct {
	ClientID string `json:"clientId"`
}

// Room-scoped broadcasts.

type broadcastDocUpdates struct {
	SpaceType string   `json:"spaceType"`
	SpaceID   string   `json:"spaceId"`
	DocID     string   `json:"docId"`
	Updates   []string `json:"updates"`
	Timestamp int64    `json:"timestamp"`
}

type broadcastDocUpdate struct {
	SpaceType string `json:"spaceType"`
	SpaceID   string `json:"spaceId"`
	DocID     string `json:"docId"`
	Update    string `json:"update"`
	Timestamp int64  `json:"timestamp"`
	Editor    string `json:"editor"`
}

type legacyServerUpdates struct {
	WorkspaceID string   `json:"workspaceId"`
	Guid        string   `json:"guid"`
	Updates     []string `json:"updates"`
	Timestamp   int64    `json:"timestamp"`
}

type collectAwareness struct {
	SpaceType string `json:"spaceType"`
	SpaceID   string `json:"spaceId"`
	DocID     string `json:"docId"`
}

type legacyAwarenessInit struct {
	WorkspaceID string `json:"workspaceId"`
}

type broadcastAwarenessUpdate struct {
	SpaceType       string `json:"spaceType"`
	SpaceID         string `json:"spaceId"`
	DocID           string `json:"docId"`
	AwarenessUpdate string `json:"awarenessUpdate"`
}

type legacyAwarenessBroadcast struct {
	WorkspaceID     string `json:"workspaceId"`
	AwarenessUpdate string `json:"awarenessUpdate"`
}

type versionRejected struct {
	Version       string `json:"version"`
	ServerVersion string `json:"serverVersion"`
}

func decodeBinary(field, value string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, errInvalidPayload(fmt.Sprintf("field %s is not valid base64", field))
	}
	return raw, nil
}

func encodeBinary(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

func decodePayload[T any](raw json.RawMessage) (T, error) {
	var payload T
	if len(raw) == 0 {
		return payload, errInvalidPayload("missing payload")
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, errInvalidPayload("malformed payload: " + err.Error())
	}
	return payload, nil
}
