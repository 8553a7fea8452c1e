// Package sync implements the realtime document synchronization gateway:
// connection lifecycle, the event protocol, per-connection space
// adapters, and room broadcasts.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wufengchun/AFFiNE/internal/auth"
	"github.com/wufengchun/AFFiNE/internal/flags"
	"github.com/wufengchun/AFFiNE/internal/metrics"
	"github.com/wufengchun/AFFiNE/internal/permission"
	"github.com/wufengchun/AFFiNE/internal/space"
)

// flagVersionCheck gates handshake version enforcement at runtime.
const flagVersionCheck = "sync_client_version_check"

const gaugeConnections = "sync_connections"

// SnapshotArchiver receives a doc's merged state before deletion.
type SnapshotArchiver interface {
	Archive(ctx context.Context, spaceType, spaceID, docID string, state []byte) error
}

type handlerFunc func(ctx context.Context, c *Connection, payload json.RawMessage) (any, error)

type Options struct {
	// Version is what clients must declare when the version-check flag
	// is on.
	Version string

	WorkspaceDocs DocStorage
	UserspaceDocs DocStorage
	// WorkspaceReader, when set, serves workspace load-doc instead of
	// WorkspaceDocs.
	WorkspaceReader DocReader

	Permissions permission.Service
	Flags       flags.Source
	Metrics     metrics.Sink
	// Archiver is optional; nil disables snapshot archival on delete.
	Archiver SnapshotArchiver

	TokenSecret []byte
	SendBuffer  int
}

type Gateway struct {
	version string

	workspaceDocs   DocStorage
	userspaceDocs   DocStorage
	workspaceReader DocReader

	perm     permission.Service
	flags    flags.Source
	metrics  metrics.Sink
	archiver SnapshotArchiver

	hub        *Hub
	secret     []byte
	sendBuffer int
	upgrader   websocket.Upgrader

	handlers map[string]handlerFunc
}

func New(opts Options) *Gateway {
	g := &Gateway{
		version:         opts.Version,
		workspaceDocs:   opts.WorkspaceDocs,
		userspaceDocs:   opts.UserspaceDocs,
		workspaceReader: opts.WorkspaceReader,
		perm:            opts.Permissions,
		flags:           opts.Flags,
		metrics:         opts.Metrics,
		archiver:        opts.Archiver,
		hub:             NewHub(),
		secret:          opts.TokenSecret,
		sendBuffer:      opts.SendBuffer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		handlers: map[string]handlerFunc{},
	}
	if g.metrics == nil {
		g.metrics = metrics.NewRegistry()
	}
	if g.flags == nil {
		g.flags = flags.NewStatic(nil)
	}

	// Current surface.
	g.register("join-space", g.handleJoinSpace)
	g.register("leave-space", g.handleLeaveSpace)
	g.register("load-doc", g.handleLoadDoc)
	g.register("delete-doc", g.handleDeleteDoc)
	g.register("push-doc-updates", g.handlePushDocUpdates) // deprecated, kept for older clients
	g.register("push-doc-update", g.handlePushDocUpdate)
	g.register("load-doc-timestamps", g.handleLoadDocTimestamps)
	g.register("join-space-awareness", g.handleJoinAwareness)
	g.register("leave-space-awareness", g.handleLeaveAwareness)
	g.register("load-awarenesses", g.handleLoadAwarenesses)
	g.register("update-awareness", g.handleUpdateAwareness)

	// Legacy surface: payload reshaping onto the handlers above.
	g.register("client-handshake-sync", g.handleLegacyHandshakeSync)
	g.register("client-leave-sync", g.handleLegacyLeaveSync)
	g.register("client-pre-sync", g.handleLegacyPreSync)
	g.register("client-update-v2", g.handleLegacyUpdateV2)
	g.register("doc-load-v2", g.handleLegacyDocLoadV2)
	g.register("client-handshake-awareness", g.handleLegacyHandshakeAwareness)
	g.register("client-leave-awareness", g.handleLegacyLeaveAwareness)
	g.register("awareness-init", g.handleLegacyAwarenessInit)
	g.register("awareness-update", g.handleLegacyAwarenessUpdate)

	return g
}

func (g *Gateway) Hub() *Hub { return g.hub }

func (g *Gateway) newAdapter(c *Connection, spaceType space.Type) *SpaceAdapter {
	a := &SpaceAdapter{
		spaceType: spaceType,
		conn:      c,
		perm:      g.perm,
	}
	if spaceType == space.TypeUserspace {
		a.storage = g.userspaceDocs
	} else {
		a.storage = g.workspaceDocs
		a.reader = g.workspaceReader
	}
	return a
}

// register installs a handler wrapped with the cross-cutting timing
// metric; error translation happens once, in dispatch.
func (g *Gateway) register(event string, h handlerFunc) {
	g.handlers[event] = func(ctx context.Context, c *Connection, payload json.RawMessage) (any, error) {
		start := time.Now()
		data, err := h(ctx, c, payload)
		g.metrics.CounterAdd(event, 1)
		g.metrics.Timer(event, time.Since(start))
		return data, err
	}
}

// dispatch routes one inbound message and writes the reply. Every error
// becomes a structured error response on the message's reply; nothing
// escapes to the transport.
func (g *Gateway) dispatch(ctx context.Context, c *Connection, msg inboundMessage) {
	h, ok := g.handlers[msg.Event]
	if !ok {
		c.sendError(msg.RequestID, &errorBody{Name: "UNKNOWN_EVENT", Message: "unknown event " + msg.Event})
		return
	}
	data, err := h(ctx, c, msg.Payload)
	if err != nil {
		c.sendError(msg.RequestID, g.mapError(msg.Event, err))
		return
	}
	c.sendReply(msg.RequestID, data)
}

func (g *Gateway) mapError(event string, err error) *errorBody {
	var domain *DomainError
	if errors.As(err, &domain) {
		return &errorBody{Name: domain.Name, Message: domain.Message, Details: domain.Details}
	}
	log.Printf("sync: internal error handling %s: %v", event, err)
	return &errorBody{Name: "INTERNAL_ERROR", Message: "internal error"}
}

// assertVersion enforces the handshake version when the runtime flag is
// on. It must run before any room join. Flag lookup failures fail open.
func (g *Gateway) assertVersion(ctx context.Context, c *Connection, clientVersion string) error {
	enforced, err := g.flags.Fetch(ctx, flagVersionCheck)
	if err != nil {
		log.Printf("sync: fetch %s: %v", flagVersionCheck, err)
		return nil
	}
	if !enforced || clientVersion == g.version {
		return nil
	}
	rejection := errVersionRejected(clientVersion, g.version)
	c.sendEvent("server-version-rejected", versionRejected{
		Version:       clientVersion,
		ServerVersion: g.version,
	})
	return rejection
}

func (g *Gateway) handleConnect(c *Connection) {
	g.metrics.GaugeAdd(gaugeConnections, 1)
}

func (g *Gateway) handleDisconnect(c *Connection) {
	g.hub.removeAll(c)
	for room := range c.rooms {
		delete(c.rooms, room)
	}
	g.metrics.GaugeAdd(gaugeConnections, -1)
}

// ServeWS upgrades an HTTP request and runs the connection's read loop.
// The loop is the per-connection serialization point: a message's handler
// finishes before the next message is read.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	user, err := g.currentUser(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("sync: upgrade failed: %v", err)
		return
	}

	c := newConnection(g, user, g.sendBuffer)
	g.handleConnect(c)
	defer g.handleDisconnect(c)

	done := make(chan struct{})
	go writePump(ws, c.send, done)
	defer close(done)
	defer ws.Close()

	// Handlers outlive the socket if it drops mid-operation; a fresh
	// context keeps in-flight storage calls from being cancelled by the
	// disconnect.
	ctx := context.Background()
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("sync: connection %s closed: %v", c.id, err)
			}
			return
		}
		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError("", &errorBody{Name: "INVALID_PAYLOAD", Message: "malformed frame"})
			continue
		}
		g.dispatch(ctx, c, msg)
	}
}

func (g *Gateway) currentUser(r *http.Request) (auth.User, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if header := r.Header.Get("Authorization"); len(header) > 7 && header[:7] == "Bearer " {
			token = header[7:]
		}
	}
	if token == "" {
		return auth.User{}, auth.ErrInvalidToken
	}
	return auth.ParseToken(g.secret, token)
}

func writePump(ws *websocket.Conn, send <-chan []byte, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case raw := <-send:
			if err := ws.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		}
	}
}
