package sync

import (
	"context"
	"encoding/json"
	"log"

	"github.com/wufengchun/AFFiNE/internal/space"
)

func (g *Gateway) handleJoinSpace(ctx context.Context, c *Connection, raw json.RawMessage) (any, error) {
	payload, err := decodePayload[joinSpacePayload](raw)
	if err != nil {
		return nil, err
	}
	spaceType, err := space.ParseType(payload.SpaceType)
	if err != nil {
		return nil, errInvalidPayload(err.Error())
	}
	if err := g.assertVersion(ctx, c, payload.ClientVersion); err != nil {
		return nil, err
	}
	if err := c.adapter(spaceType).Join(ctx, c.user.ID, payload.SpaceID, space.RoomSync); err != nil {
		return nil, err
	}
	return joinReply{ClientID: c.id, Success: true}, nil
}

func (g *Gateway) handleLeaveSpace(ctx context.Context, c *Connection, raw json.RawMessage) (any, error) {
	payload, err := decodePayload[leaveSpacePayload](raw)
	if err != nil {
		return nil, err
	}
	spaceType, err := space.ParseType(payload.SpaceType)
	if err != nil {
		return nil, errInvalidPayload(err.Error())
	}
	c.adapter(spaceType).Leave(payload.SpaceID, space.RoomSync)
	return joinReply{ClientID: c.id, Success: true}, nil
}

func (g *Gateway) handleLoadDoc(ctx context.Context, c *Connection, raw json.RawMessage) (any, error) {
	payload, err := decodePayload[loadDocPayload](raw)
	if err != nil {
		return nil, err
	}
	spaceType, err := space.ParseType(payload.SpaceType)
	if err != nil {
		return nil, errInvalidPayload(err.Error())
	}
	var stateVector []byte
	if payload.StateVector != nil {
		stateVector, err = decodeBinary("stateVector", *payload.StateVector)
		if err != nil {
			return nil, err
		}
	}
	diff, err := c.adapter(spaceType).Diff(ctx, payload.SpaceID, payload.DocID, stateVector)
	if err != nil {
		return nil, err
	}
	if diff == nil {
		return nil, errDocNotFound(payload.SpaceID, payload.DocID)
	}
	return loadDocReply{
		Missing:   encodeBinary(diff.Missing),
		State:     encodeBinary(diff.State),
		Timestamp: diff.Timestamp,
	}, nil
}

func (g *Gateway) handleDeleteDoc(ctx context.Context, c *Connection, raw json.RawMessage) (any, error) {
	payload, err := decodePayload[deleteDocPayload](raw)
	if err != nil {
		return nil, err
	}
	spaceType, err := space.ParseType(payload.SpaceType)
	if err != nil {
		return nil, errInvalidPayload(err.Error())
	}
	adapter := c.adapter(spaceType)

	if g.archiver != nil {
		state, err := adapter.State(ctx, payload.SpaceID, payload.DocID)
		if err != nil {
			return nil, err
		}
		if state != nil {
			if err := g.archiver.Archive(ctx, string(spaceType), payload.SpaceID, payload.DocID, state); err != nil {
				// Archival failure must not block the delete.
				log.Printf("sync: archive snapshot %s/%s: %v", payload.SpaceID, payload.DocID, err)
			}
		}
	}

	if err := adapter.Delete(ctx, payload.SpaceID, payload.DocID); err != nil {
		return nil, err
	}
	return nil, nil
}

// handlePushDocUpdates is the deprecated multi-update push. It keeps the
// historical quirk of emitting the legacy server-updates event for
// workspace spaces only.
func (g *Gateway) handlePushDocUpdates(ctx context.Context, c *Connection, raw json.RawMessage) (any, error) {
	payload, err := decodePayload[pushDocUpdatesPayload](raw)
	if err != nil {
		return nil, err
	}
	spaceType, err := space.ParseType(payload.SpaceType)
	if err != nil {
		return nil, errInvalidPayload(err.Error())
	}
	updates := make([][]byte, 0, len(payload.Updates))
	for _, encoded := range payload.Updates {
		update, err := decodeBinary("updates", encoded)
		if err != nil {
			return nil, err
		}
		updates = append(updates, update)
	}

	adapter := c.adapter(spaceType)
	timestamp, err := adapter.Push(ctx, payload.SpaceID, payload.DocID, updates, c.user.ID)
	if err != nil {
		return nil, err
	}

	room := adapter.Room(payload.SpaceID, space.RoomSync)
	g.hub.Broadcast(room, "space:broadcast-doc-updates", broadcastDocUpdates{
		SpaceType: payload.SpaceType,
		SpaceID:   payload.SpaceID,
		DocID:     payload.DocID,
		Updates:   payload.Updates,
		Timestamp: timestamp,
	}, c)
	if spaceType == space.TypeWorkspace {
		g.hub.Broadcast(room, "server-updates", legacyServerUpdates{
			WorkspaceID: payload.SpaceID,
			Guid:        space.Guid(payload.SpaceID, payload.DocID),
			Updates:     payload.Updates,
			Timestamp:   timestamp,
		}, c)
	}
	return pushReply{Accepted: true, Timestamp: timestamp}, nil
}

func (g *Gateway) handlePushDocUpdate(ctx context.Context, c *Connection, raw json.RawMessage) (any, error) {
	payload, err := decodePayload[pushDocUpdatePayload](raw)
	if err != nil {
		return nil, err
	}
	spaceType, err := space.ParseType(payload.SpaceType)
	if err != nil {
		return nil, errInvalidPayload(err.Error())
	}
	update, err := decodeBinary("update", payload.Update)
	if err != nil {
		return nil, err
	}

	adapter := c.adapter(spaceType)
	timestamp, err := adapter.Push(ctx, payload.SpaceID, payload.DocID, [][]byte{update}, c.user.ID)
	if err != nil {
		return nil, err
	}

	room := adapter.Room(payload.SpaceID, space.RoomSync)
	g.hub.Broadcast(room, "space:broadcast-doc-updates", broadcastDocUpdates{
		SpaceType: payload.SpaceType,
		SpaceID:   payload.SpaceID,
		DocID:     payload.DocID,
		Updates:   []string{payload.Update},
		Timestamp: timestamp,
	}, c)
	g.hub.Broadcast(room, "space:broadcast-doc-update", broadcastDocUpdate{
		SpaceType: payload.SpaceType,
		SpaceID:   payload.SpaceID,
		DocID:     payload.DocID,
		Update:    payload.Update,
		Timestamp: timestamp,
		Editor:    c.user.ID,
	}, c)
	return pushReply{Accepted: true, Timestamp: timestamp}, nil
}

func (g *Gateway) handleLoadDocTimestamps(ctx context.Context, c *Connection, raw json.RawMessage) (any, error) {
	payload, err := decodePayload[loadDocTimestampsPayload](raw)
	if err != nil {
		return nil, err
	}
	spaceType, err := space.ParseType(payload.SpaceType)
	if err != nil {
		return nil, errInvalidPayload(err.Error())
	}
	var since int64
	if payload.Timestamp != nil {
		since = *payload.Timestamp
	}
	timestamps, err := c.adapter(spaceType).Timestamps(ctx, payload.SpaceID, since)
	if err != nil {
		return nil, err
	}
	if timestamps == nil {
		timestamps = map[string]int64{}
	}
	return timestamps, nil
}

func (g *Gateway) handleJoinAwareness(ctx context.Context, c *Connection, raw json.RawMessage) (any, error) {
	payload, err := decodePayload[awarenessPayload](raw)
	if err != nil {
		return nil, err
	}
	spaceType, err := space.ParseType(payload.SpaceType)
	if err != nil {
		return nil, errInvalidPayload(err.Error())
	}
	if err := g.assertVersion(ctx, c, payload.ClientVersion); err != nil {
		return nil, err
	}
	room := space.AwarenessRoom(payload.DocID)
	if err := c.adapter(spaceType).Join(ctx, c.user.ID, payload.SpaceID, room); err != nil {
		return nil, err
	}
	return joinReply{ClientID: c.id, Success: true}, nil
}

func (g *Gateway) handleLeaveAwareness(ctx context.Context, c *Connection, raw json.RawMessage) (any, error) {
	payload, err := decodePayload[awarenessPayload](raw)
	if err != nil {
		return nil, err
	}
	spaceType, err := space.ParseType(payload.SpaceType)
	if err != nil {
		return nil, errInvalidPayload(err.Error())
	}
	c.adapter(spaceType).Leave(payload.SpaceID, space.AwarenessRoom(payload.DocID))
	return joinReply{ClientID: c.id, Success: true}, nil
}

func (g *Gateway) handleLoadAwarenesses(ctx context.Context, c *Connection, raw json.RawMessage) (any, error) {
	payload, err := decodePayload[awarenessPayload](raw)
	if err != nil {
		return nil, err
	}
	spaceType, err := space.ParseType(payload.SpaceType)
	if err != nil {
		return nil, errInvalidPayload(err.Error())
	}
	adapter := c.adapter(spaceType)
	roomType := space.AwarenessRoom(payload.DocID)
	if err := adapter.AssertIn(payload.SpaceID, roomType); err != nil {
		return nil, err
	}

	room := adapter.Room(payload.SpaceID, roomType)
	g.hub.Broadcast(room, "space:collect-awareness", collectAwareness{
		SpaceType: payload.SpaceType,
		SpaceID:   payload.SpaceID,
		DocID:     payload.DocID,
	}, c)
	if spaceType == space.TypeWorkspace {
		g.hub.Broadcast(room, "new-client-awareness-init", legacyAwarenessInit{
			WorkspaceID: payload.SpaceID,
		}, c)
	}
	return clientIDReply{ClientID: c.id}, nil
}

func (g *Gateway) handleUpdateAwareness(ctx context.Context, c *Connection, raw json.RawMessage) (any, error) {
	payload, err := decodePayload[updateAwarenessPayload](raw)
	if err != nil {
		return nil, err
	}
	spaceType, err := space.ParseType(payload.SpaceType)
	if err != nil {
		return nil, errInvalidPayload(err.Error())
	}
	if _, err := decodeBinary("awarenessUpdate", payload.AwarenessUpdate); err != nil {
		return nil, err
	}
	adapter := c.adapter(spaceType)
	roomType := space.AwarenessRoom(payload.DocID)
	if err := adapter.AssertIn(payload.SpaceID, roomType); err != nil {
		return nil, err
	}

	room := adapter.Room(payload.SpaceID, roomType)
	g.hub.Broadcast(room, "space:broadcast-awareness-update", broadcastAwarenessUpdate{
		SpaceType:       payload.SpaceType,
		SpaceID:         payload.SpaceID,
		DocID:           payload.DocID,
		AwarenessUpdate: payload.AwarenessUpdate,
	}, c)
	if spaceType == space.TypeWorkspace {
		g.hub.Broadcast(room, "server-awareness-broadcast", legacyAwarenessBroadcast{
			WorkspaceID:     payload.SpaceID,
			AwarenessUpdate: payload.AwarenessUpdate,
		}, c)
	}
	return struct{}{}, nil
}
