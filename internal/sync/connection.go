package sync

import (
	"encoding/json"
	"log"

	"github.com/google/uuid"

	"github.com/wufengchun/AFFiNE/internal/auth"
	"github.com/wufengchun/AFFiNE/internal/space"
)

// Connection is the per-socket session state. All fields except the send
// channel are touched only by the connection's own read loop: the
// transport serializes message handling per connection, so joined-room
// bookkeeping and the lazily built adapter pair need no locking.
type Connection struct {
	id   string
	user auth.User

	// send carries marshaled outbound frames to the write pump. Writers
	// must never block on it; a full buffer drops the frame.
	send chan []byte

	rooms    map[string]struct{}
	adapters map[space.Type]*SpaceAdapter

	gateway *Gateway
}

func newConnection(g *Gateway, user auth.User, sendBuffer int) *Connection {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Connection{
		id:       uuid.NewString(),
		user:     user,
		send:     make(chan []byte, sendBuffer),
		rooms:    map[string]struct{}{},
		adapters: map[space.Type]*SpaceAdapter{},
		gateway:  g,
	}
}

func (c *Connection) ClientID() string { return c.id }

func (c *Connection) User() auth.User { return c.user }

// adapter returns the session adapter for a space type, creating it on
// first use. The pair is cached for the connection's lifetime.
func (c *Connection) adapter(spaceType space.Type) *SpaceAdapter {
	if a, ok := c.adapters[spaceType]; ok {
		return a
	}
	a := c.gateway.newAdapter(c, spaceType)
	c.adapters[spaceType] = a
	return a
}

func (c *Connection) inRoom(room string) bool {
	_, ok := c.rooms[room]
	return ok
}

// enqueue marshals a frame onto the send channel, dropping it if the
// client cannot keep up. Broadcasts are fire-and-forget.
func (c *Connection) enqueue(frame any) {
	raw, err := json.Marshal(frame)
	if err != nil {
		log.Printf("sync: marshal outbound frame for %s: %v", c.id, err)
		return
	}
	select {
	case c.send <- raw:
	default:
		log.Printf("sync: send buffer full, dropping frame for %s", c.id)
	}
}

func (c *Connection) sendReply(requestID string, data any) {
	c.enqueue(replyMessage{RequestID: requestID, Data: data})
}

func (c *Connection) sendError(requestID string, body *errorBody) {
	c.enqueue(replyMessage{RequestID: requestID, Error: body})
}

func (c *Connection) sendEvent(event string, payload any) {
	c.enqueue(eventMessage{Event: event, Payload: payload})
}
