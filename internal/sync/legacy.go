package sync

import (
	"context"
	"encoding/json"

	"github.com/wufengchun/AFFiNE/internal/space"
)

// The legacy surface predates userspaces and carried flat
// workspaceId/guid fields. Every handler here only reshapes the payload
// onto its current counterpart; none adds business logic. Awareness
// events had no doc id, the space's root doc stood in for it.

type legacyHandshakePayload struct {
	WorkspaceID string `json:"workspaceId"`
	Version     string `json:"version,omitempty"`
}

type legacyPreSyncPayload struct {
	WorkspaceID string `json:"workspaceId"`
	Timestamp   *int64 `json:"timestamp,omitempty"`
}

type legacyUpdateV2Payload struct {
	WorkspaceID string   `json:"workspaceId"`
	Guid        string   `json:"guid"`
	Updates     []string `json:"updates"`
}

type legacyDocLoadV2Payload struct {
	WorkspaceID string  `json:"workspaceId"`
	Guid        string  `json:"guid"`
	StateVector *string `json:"stateVector,omitempty"`
}

type legacyAwarenessUpdatePayload struct {
	WorkspaceID     string `json:"workspaceId"`
	AwarenessUpdate string `json:"awarenessUpdate"`
}

func reshape(payload any) (json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errInvalidPayload("reshape legacy payload: " + err.Error())
	}
	return raw, nil
}

func (g *Gateway) handleLegacyHandshakeSync(ctx context.Context, c *Connection, raw json.RawMessage) (any, error) {
	payload, err := decodePayload[legacyHandshakePayload](raw)
	if err != nil {
		return nil, err
	}
	reshaped, err := reshape(joinSpacePayload{
		SpaceType:     string(space.TypeWorkspace),
		SpaceID:       payload.WorkspaceID,
		ClientVersion: payload.Version,
	})
	if err != nil {
		return nil, err
	}
	return g.handleJoinSpace(ctx, c, reshaped)
}

func (g *Gateway) handleLegacyLeaveSync(ctx context.Context, c *Connection, raw json.RawMessage) (any, error) {
	payload, err := decodePayload[legacyHandshakePayload](raw)
	if err != nil {
		return nil, err
	}
	reshaped, err := reshape(leaveSpacePayload{
		SpaceType: string(space.TypeWorkspace),
		SpaceID:   payload.WorkspaceID,
	})
	if err != nil {
		return nil, err
	}
	return g.handleLeaveSpace(ctx, c, reshaped)
}

func (g *Gateway) handleLegacyPreSync(ctx context.Context, c *Connection, raw json.RawMessage) (any, error) {
	payload, err := decodePayload[legacyPreSyncPayload](raw)
	if err != nil {
		return nil, err
	}
	reshaped, err := reshape(loadDocTimestampsPayload{
		SpaceType: string(space.TypeWorkspace),
		SpaceID:   payload.WorkspaceID,
		Timestamp: payload.Timestamp,
	})
	if err != nil {
		return nil, err
	}
	return g.handleLoadDocTimestamps(ctx, c, reshaped)
}

func (g *Gateway) handleLegacyUpdateV2(ctx context.Context, c *Connection, raw json.RawMessage) (any, error) {
	payload, err := decodePayload[legacyUpdateV2Payload](raw)
	if err != nil {
		return nil, err
	}
	reshaped, err := reshape(pushDocUpdatesPayload{
		SpaceType: string(space.TypeWorkspace),
		SpaceID:   payload.WorkspaceID,
		DocID:     payload.Guid,
		Updates:   payload.Updates,
	})
	if err != nil {
		return nil, err
	}
	return g.handlePushDocUpdates(ctx, c, reshaped)
}

func (g *Gateway) handleLegacyDocLoadV2(ctx context.Context, c *Connection, raw json.RawMessage) (any, error) {
	payload, err := decodePayload[legacyDocLoadV2Payload](raw)
	if err != nil {
		return nil, err
	}
	reshaped, err := reshape(loadDocPayload{
		SpaceType:   string(space.TypeWorkspace),
		SpaceID:     payload.WorkspaceID,
		DocID:       payload.Guid,
		StateVector: payload.StateVector,
	})
	if err != nil {
		return nil, err
	}
	return g.handleLoadDoc(ctx, c, reshaped)
}

func (g *Gateway) handleLegacyHandshakeAwareness(ctx context.Context, c *Connection, raw json.RawMessage) (any, error) {
	payload, err := decodePayload[legacyHandshakePayload](raw)
	if err != nil {
		return nil, err
	}
	reshaped, err := reshape(awarenessPayload{
		SpaceType:     string(space.TypeWorkspace),
		SpaceID:       payload.WorkspaceID,
		DocID:         payload.WorkspaceID,
		ClientVersion: payload.Version,
	})
	if err != nil {
		return nil, err
	}
	return g.handleJoinAwareness(ctx, c, reshaped)
}

func (g *Gateway) handleLegacyLeaveAwareness(ctx context.Context, c *Connection, raw json.RawMessage) (any, error) {
	payload, err := decodePayload[legacyHandshakePayload](raw)
	if err != nil {
		return nil, err
	}
	reshaped, err := reshape(awarenessPayload{
		SpaceType: string(space.TypeWorkspace),
		SpaceID:   payload.WorkspaceID,
		DocID:     payload.WorkspaceID,
	})
	if err != nil {
		return nil, err
	}
	return g.handleLeaveAwareness(ctx, c, reshaped)
}

func (g *Gateway) handleLegacyAwarenessInit(ctx context.Context, c *Connection, raw json.RawMessage) (any, error) {
	payload, err := decodePayload[legacyHandshakePayload](raw)
	if err != nil {
		return nil, err
	}
	reshaped, err := reshape(awarenessPayload{
		SpaceType: string(space.TypeWorkspace),
		SpaceID:   payload.WorkspaceID,
		DocID:     payload.WorkspaceID,
	})
	if err != nil {
		return nil, err
	}
	return g.handleLoadAwarenesses(ctx, c, reshaped)
}

func (g *Gateway) handleLegacyAwarenessUpdate(ctx context.Context, c *Connection, raw json.RawMessage) (any, error) {
	payload, err := decodePayload[legacyAwarenessUpdatePayload](raw)
	if err != nil {
		return nil, err
	}
	reshaped, err := reshape(updateAwarenessPayload{
		SpaceType:       string(space.TypeWorkspace),
		SpaceID:         payload.WorkspaceID,
		DocID:           payload.WorkspaceID,
		AwarenessUpdate: payload.AwarenessUpdate,
	})
	if err != nil {
		return nil, err
	}
	return g.handleUpdateAwareness(ctx, c, reshaped)
}
