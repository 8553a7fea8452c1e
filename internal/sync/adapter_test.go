package sync

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/wufengchun/AFFiNE/internal/auth"
	"github.com/wufengchun/AFFiNE/internal/docmerge"
	"github.com/wufengchun/AFFiNE/internal/flags"
	"github.com/wufengchun/AFFiNE/internal/metrics"
	"github.com/wufengchun/AFFiNE/internal/permission"
	"github.com/wufengchun/AFFiNE/internal/space"
	"github.com/wufengchun/AFFiNE/internal/store"
)

type pushCall struct {
	spaceID  string
	docID    string
	updates  [][]byte
	editorID string
}

// memDocStorage is an in-memory DocStorage. Tests drive a single
// goroutine, so it carries no locking.
type memDocStorage struct {
	merger    docmerge.LogMerger
	states    map[string][]byte
	stamps    map[string]int64
	clock     int64
	pushes    []pushCall
	diffCalls int
}

func newMemDocStorage() *memDocStorage {
	return &memDocStorage{
		merger: docmerge.NewLogMerger(),
		states: map[string][]byte{},
		stamps: map[string]int64{},
		clock:  1000,
	}
}

func (m *memDocStorage) key(spaceID, docID string) string { return spaceID + "/" + docID }

func (m *memDocStorage) PushDocUpdates(_ context.Context, spaceID, docID string, updates [][]byte, editorID string) (int64, error) {
	m.pushes = append(m.pushes, pushCall{spaceID, docID, updates, editorID})
	key := m.key(spaceID, docID)
	state := m.states[key]
	var err error
	for _, update := range updates {
		state, err = m.merger.ApplyUpdate(state, update)
		if err != nil {
			return 0, err
		}
	}
	m.clock++
	m.states[key] = state
	m.stamps[key] = m.clock
	return m.clock, nil
}

func (m *memDocStorage) GetDocDiff(_ context.Context, spaceID, docID string, stateVector []byte) (*store.DocDiff, error) {
	m.diffCalls++
	key := m.key(spaceID, docID)
	state, ok := m.states[key]
	if !ok {
		return nil, nil
	}
	missing, err := m.merger.Diff(state, stateVector)
	if err != nil {
		return nil, err
	}
	return &store.DocDiff{Missing: missing, State: state, Timestamp: m.stamps[key]}, nil
}

func (m *memDocStorage) GetDocState(_ context.Context, spaceID, docID string) ([]byte, error) {
	return m.states[m.key(spaceID, docID)], nil
}

func (m *memDocStorage) DeleteDoc(_ context.Context, spaceID, docID string) error {
	delete(m.states, m.key(spaceID, docID))
	delete(m.stamps, m.key(spaceID, docID))
	return nil
}

func (m *memDocStorage) GetSpaceDocTimestamps(_ context.Context, spaceID string, after int64) (map[string]int64, error) {
	out := map[string]int64{}
	prefix := spaceID + "/"
	for key, stamp := range m.stamps {
		if stamp > after && strings.HasPrefix(key, prefix) {
			out[strings.TrimPrefix(key, prefix)] = stamp
		}
	}
	return out, nil
}

type fakePerm struct {
	isMemberFn func(workspaceID, userID string, required permission.Role) (bool, error)
	calls      int
}

func (f *fakePerm) IsWorkspaceMember(_ context.Context, workspaceID, userID string, required permission.Role) (bool, error) {
	f.calls++
	if f.isMemberFn != nil {
		return f.isMemberFn(workspaceID, userID, required)
	}
	return true, nil
}

type fixture struct {
	gateway   *Gateway
	workspace *memDocStorage
	userspace *memDocStorage
	perm      *fakePerm
	flags     *flags.Static
	metrics   *metrics.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		workspace: newMemDocStorage(),
		userspace: newMemDocStorage(),
		perm:      &fakePerm{},
		flags:     flags.NewStatic(nil),
		metrics:   metrics.NewRegistry(),
	}
	f.gateway = New(Options{
		Version:       "1.2.3",
		WorkspaceDocs: f.workspace,
		UserspaceDocs: f.userspace,
		Permissions:   f.perm,
		Flags:         f.flags,
		Metrics:       f.metrics,
		SendBuffer:    64,
	})
	return f
}

func (f *fixture) connect(userID string) *Connection {
	c := newConnection(f.gateway, auth.User{ID: userID}, 64)
	f.gateway.handleConnect(c)
	return c
}

// dispatchRaw runs one message through the gateway and returns nothing;
// replies land on the connection's send channel.
func (f *fixture) dispatch(t *testing.T, c *Connection, event string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	f.gateway.dispatch(context.Background(), c, inboundMessage{
		Event:     event,
		RequestID: "req-1",
		Payload:   raw,
	})
}

type testFrame struct {
	// reply fields
	RequestID string          `json:"requestId"`
	Data      json.RawMessage `json:"data"`
	Error     *errorBody      `json:"error"`
	// broadcast fields
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func nextFrame(t *testing.T, c *Connection) testFrame {
	t.Helper()
	select {
	case raw := <-c.send:
		var frame testFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("unmarshal frame %s: %v", raw, err)
		}
		return frame
	default:
		t.Fatal("expected a queued frame, got none")
		return testFrame{}
	}
}

func expectNoFrame(t *testing.T, c *Connection) {
	t.Helper()
	select {
	case raw := <-c.send:
		t.Fatalf("expected no frame, got %s", raw)
	default:
	}
}

func dataField(t *testing.T, frame testFrame) map[string]any {
	t.Helper()
	if frame.Error != nil {
		t.Fatalf("expected data, got error %s: %s", frame.Error.Name, frame.Error.Message)
	}
	if len(frame.Data) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(frame.Data, &out); err != nil {
		t.Fatalf("unmarshal data %s: %v", frame.Data, err)
	}
	return out
}

func payloadField(t *testing.T, frame testFrame) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(frame.Payload, &out); err != nil {
		t.Fatalf("unmarshal payload %s: %v", frame.Payload, err)
	}
	return out
}

func expectError(t *testing.T, frame testFrame, name string) {
	t.Helper()
	if frame.Error == nil {
		t.Fatalf("expected error %s, got data %s", name, frame.Data)
	}
	if frame.Error.Name != name {
		t.Fatalf("expected error %s, got %s: %s", name, frame.Error.Name, frame.Error.Message)
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	f := newFixture(t)
	c := f.connect("user-a")
	adapter := c.adapter(space.TypeWorkspace)

	ctx := context.Background()
	if err := adapter.Join(ctx, "user-a", "ws-1", space.RoomSync); err != nil {
		t.Fatalf("first join failed: %v", err)
	}
	if err := adapter.Join(ctx, "user-a", "ws-1", space.RoomSync); err != nil {
		t.Fatalf("second join failed: %v", err)
	}
	if f.perm.calls != 1 {
		t.Errorf("second join should skip the access check, got %d checks", f.perm.calls)
	}
	if got := f.gateway.hub.MemberCount("workspace:ws-1:sync"); got != 1 {
		t.Errorf("expected 1 member, got %d", got)
	}
}

func TestLeaveBeforeJoinIsNoop(t *testing.T) {
	f := newFixture(t)
	c := f.connect("user-a")
	adapter := c.adapter(space.TypeWorkspace)

	adapter.Leave("ws-1", space.RoomSync)
	if adapter.In("ws-1", space.RoomSync) {
		t.Error("connection should not be in the room")
	}
}

func TestOperationsRequirePriorJoin(t *testing.T) {
	f := newFixture(t)
	c := f.connect("user-a")
	adapter := c.adapter(space.TypeWorkspace)
	ctx := context.Background()

	if _, err := adapter.Push(ctx, "ws-1", "doc-1", [][]byte{[]byte("u")}, "user-a"); err == nil {
		t.Error("push without join should fail")
	}
	if _, err := adapter.Diff(ctx, "ws-1", "doc-1", nil); err == nil {
		t.Error("diff without join should fail")
	}
	if err := adapter.Delete(ctx, "ws-1", "doc-1"); err == nil {
		t.Error("delete without join should fail")
	}
	if _, err := adapter.Timestamps(ctx, "ws-1", 0); err == nil {
		t.Error("timestamps without join should fail")
	}
	err := adapter.AssertIn("ws-1", space.RoomSync)
	var domain *DomainError
	if !asDomainError(err, &domain) || domain.Name != "NOT_IN_SPACE" {
		t.Errorf("expected NOT_IN_SPACE, got %v", err)
	}
}

func TestWorkspaceJoinDeniedForNonMember(t *testing.T) {
	f := newFixture(t)
	f.perm.isMemberFn = func(string, string, permission.Role) (bool, error) { return false, nil }
	c := f.connect("user-a")

	err := c.adapter(space.TypeWorkspace).Join(context.Background(), "user-a", "ws-1", space.RoomSync)
	var domain *DomainError
	if !asDomainError(err, &domain) || domain.Name != "SPACE_ACCESS_DENIED" {
		t.Fatalf("expected SPACE_ACCESS_DENIED, got %v", err)
	}
	if c.inRoom("workspace:ws-1:sync") {
		t.Error("denied join must not record membership")
	}
}

func TestUserspaceIsSelfOnly(t *testing.T) {
	f := newFixture(t)
	c := f.connect("user-a")
	adapter := c.adapter(space.TypeUserspace)
	ctx := context.Background()

	if err := adapter.Join(ctx, "user-a", "user-a", space.RoomSync); err != nil {
		t.Fatalf("joining own userspace should succeed: %v", err)
	}
	err := adapter.Join(ctx, "user-a", "user-b", space.RoomSync)
	var domain *DomainError
	if !asDomainError(err, &domain) || domain.Name != "SPACE_ACCESS_DENIED" {
		t.Fatalf("expected SPACE_ACCESS_DENIED, got %v", err)
	}
	if f.perm.calls != 0 {
		t.Errorf("userspace checks must not hit the permission service, got %d calls", f.perm.calls)
	}
}

func TestWorkspaceDocGuidTranslation(t *testing.T) {
	f := newFixture(t)
	c := f.connect("user-a")
	adapter := c.adapter(space.TypeWorkspace)
	ctx := context.Background()

	if err := adapter.Join(ctx, "user-a", "ws-1", space.RoomSync); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if _, err := adapter.Push(ctx, "ws-1", "ws-1:space:doc-1", [][]byte{[]byte("u")}, "user-a"); err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if len(f.workspace.pushes) != 1 || f.workspace.pushes[0].docID != "doc-1" {
		t.Errorf("expected storage to receive guid doc-1, got %+v", f.workspace.pushes)
	}
}

func TestUserspaceDocIDPassesThrough(t *testing.T) {
	f := newFixture(t)
	c := f.connect("user-a")
	adapter := c.adapter(space.TypeUserspace)
	ctx := context.Background()

	if err := adapter.Join(ctx, "user-a", "user-a", space.RoomSync); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if _, err := adapter.Push(ctx, "user-a", "user-a:doc-1", [][]byte{[]byte("u")}, "user-a"); err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if len(f.userspace.pushes) != 1 || f.userspace.pushes[0].docID != "user-a:doc-1" {
		t.Errorf("userspace doc id must not be translated, got %+v", f.userspace.pushes)
	}
}

type countingReader struct {
	inner *memDocStorage
	calls int
}

func (r *countingReader) GetDocDiff(ctx context.Context, spaceID, docID string, sv []byte) (*store.DocDiff, error) {
	r.calls++
	return r.inner.GetDocDiff(ctx, spaceID, docID, sv)
}

func TestWorkspaceDiffPrefersReader(t *testing.T) {
	f := newFixture(t)
	reader := &countingReader{inner: f.workspace}
	f.gateway.workspaceReader = reader
	c := f.connect("user-a")
	adapter := c.adapter(space.TypeWorkspace)
	ctx := context.Background()

	if err := adapter.Join(ctx, "user-a", "ws-1", space.RoomSync); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if _, err := adapter.Push(ctx, "ws-1", "doc-1", [][]byte{[]byte("u")}, "user-a"); err != nil {
		t.Fatalf("push failed: %v", err)
	}
	before := f.workspace.diffCalls
	if _, err := adapter.Diff(ctx, "ws-1", "doc-1", nil); err != nil {
		t.Fatalf("diff failed: %v", err)
	}
	if reader.calls != 1 {
		t.Errorf("expected the reader path, got %d reader calls", reader.calls)
	}
	// The counting reader delegates to storage, so allow exactly that one.
	if f.workspace.diffCalls != before+1 {
		t.Errorf("unexpected extra storage diff calls: %d", f.workspace.diffCalls-before)
	}
}

func asDomainError(err error, target **DomainError) bool {
	if err == nil {
		return false
	}
	de, ok := err.(*DomainError)
	if !ok {
		return false
	}
	*target = de
	return true
}
