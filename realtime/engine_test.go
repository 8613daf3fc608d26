package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"drawdeck/core"
)

type emittedEvent struct {
	name string
	args []any
}

type fakeSession struct {
	id     string
	mu     sync.Mutex
	events []emittedEvent
}

func newFakeSession(id string) *fakeSession {
	return &fakeSession{id: id}
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) Emit(event string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, emittedEvent{name: event, args: args})
	return nil
}

func (s *fakeSession) count(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.name == event {
			n++
		}
	}
	return n
}

func (s *fakeSession) last(event string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].name == event && len(s.events[i].args) > 0 {
			payload, ok := s.events[i].args[0].(map[string]any)
			return payload, ok
		}
	}
	return nil, false
}

type fakeStore struct {
	mu         sync.Mutex
	boards     map[string]*core.Board
	writeCount int
	lastShapes []core.Shape
	lastName   string
}

func newFakeStore(boards ...*core.Board) *fakeStore {
	s := &fakeStore{boards: make(map[string]*core.Board)}
	for _, b := range boards {
		s.boards[b.ID] = b
	}
	return s
}

func (s *fakeStore) Create(ctx context.Context, board *core.Board) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boards[board.ID] = board
	return nil
}

func (s *fakeStore) List(ctx context.Context, ownerID string) ([]*core.Board, error) {
	return nil, nil
}

func (s *fakeStore) Get(ctx context.Context, id string) (*core.Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	board, ok := s.boards[id]
	if !ok {
		return nil, core.ErrBoardNotFound
	}
	out := *board
	return &out, nil
}

func (s *fakeStore) Delete(ctx context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.boards, id)
	return nil
}

func (s *fakeStore) OverwriteShapes(ctx context.Context, id string, shapes []core.Shape) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeCount++
	s.lastShapes = shapes
	if board, ok := s.boards[id]; ok {
		board.Shapes = shapes
	}
	return nil
}

func (s *fakeStore) SetName(ctx context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastName = name
	if board, ok := s.boards[id]; ok {
		board.Name = name
	}
	return nil
}

func (s *fakeStore) SetDescription(ctx context.Context, id, description string) error {
	return nil
}

func (s *fakeStore) writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeCount
}

func (s *fakeStore) persistedShapes() []core.Shape {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastShapes
}

func testBoard(id string) *core.Board {
	return &core.Board{ID: id, OwnerID: "owner", Name: "Board", Shapes: []core.Shape{}}
}

func newTestEngine(delay time.Duration, boards ...*core.Board) (*Engine, *fakeStore) {
	store := newFakeStore(boards...)
	return NewEngine(store, NewRegistry(), NewWriter(delay)), store
}

func join(t *testing.T, engine *Engine, session Session, boardID string) {
	t.Helper()
	if err := engine.Join(context.Background(), session, boardID, session.ID()); err != nil {
		t.Fatalf("Join(%s, %s) failed: %v", session.ID(), boardID, err)
	}
}

func rectIntent(boardID, shapeID string) Intent {
	return Intent{
		Type:    IntentShapeCreate,
		BoardID: boardID,
		Shape: map[string]any{
			"id":     shapeID,
			"type":   "rect",
			"x":      float64(10),
			"y":      float64(10),
			"width":  float64(50),
			"height": float64(50),
		},
	}
}

func TestJoin_SendsSnapshotToJoinerAndPresenceToPeers(t *testing.T) {
	engine, _ := newTestEngine(time.Hour, testBoard("b1"))
	a := newFakeSession("a")
	b := newFakeSession("b")

	join(t, engine, a, "b1")
	join(t, engine, b, "b1")

	if a.count(FactRoomJoined) != 1 {
		t.Errorf("Joiner a got %d room-joined events, want 1", a.count(FactRoomJoined))
	}
	if a.count(FactPresenceJoined) != 1 {
		t.Errorf("Peer a got %d presence-joined events, want 1", a.count(FactPresenceJoined))
	}
	if b.count(FactPresenceJoined) != 0 {
		t.Errorf("Joiner b received its own presence fact")
	}

	payload, ok := a.last(FactPresenceJoined)
	if !ok {
		t.Fatal("presence-joined payload missing")
	}
	if payload["sessionId"] != "b" {
		t.Errorf("presence-joined sessionId: got %v, want b", payload["sessionId"])
	}
}

func TestJoin_UnknownBoardIsRefused(t *testing.T) {
	engine, _ := newTestEngine(time.Hour)
	a := newFakeSession("a")

	if err := engine.Join(context.Background(), a, "missing", "a"); err == nil {
		t.Fatal("Expected join of a missing board to fail")
	}
	if engine.Registry().Count("missing") != 0 {
		t.Error("Refused session was still registered")
	}
}

func TestJoin_SwitchingBoardsLeavesPreviousRoom(t *testing.T) {
	engine, _ := newTestEngine(time.Hour, testBoard("b1"), testBoard("b2"))
	a := newFakeSession("a")
	b := newFakeSession("b")

	join(t, engine, a, "b1")
	join(t, engine, b, "b1")
	join(t, engine, b, "b2")

	if engine.Registry().Count("b1") != 1 {
		t.Errorf("Room b1 count: got %d, want 1", engine.Registry().Count("b1"))
	}
	if engine.Registry().Count("b2") != 1 {
		t.Errorf("Room b2 count: got %d, want 1", engine.Registry().Count("b2"))
	}
	if a.count(FactPresenceLeft) != 1 {
		t.Errorf("Remaining peer got %d presence-left events, want 1", a.count(FactPresenceLeft))
	}
}

func TestShapeCreate_FanOutCompleteAndEchoSuppressed(t *testing.T) {
	engine, _ := newTestEngine(time.Hour, testBoard("b1"))
	sessions := []*fakeSession{newFakeSession("a"), newFakeSession("b"), newFakeSession("c"), newFakeSession("d")}
	for _, s := range sessions {
		join(t, engine, s, "b1")
	}

	engine.HandleIntent(sessions[0], rectIntent("b1", "s1"))

	if got := sessions[0].count(FactShapeCreated); got != 0 {
		t.Errorf("Author received its own fact %d times", got)
	}
	for _, peer := range sessions[1:] {
		if got := peer.count(FactShapeCreated); got != 1 {
			t.Errorf("Peer %s got %d shape-created facts, want 1", peer.ID(), got)
		}
	}
}

func TestShapeCreate_Idempotent(t *testing.T) {
	engine, _ := newTestEngine(time.Hour, testBoard("b1"))
	a := newFakeSession("a")
	join(t, engine, a, "b1")

	engine.HandleIntent(a, rectIntent("b1", "s1"))
	second := rectIntent("b1", "s1")
	second.Shape["x"] = float64(99)
	engine.HandleIntent(a, second)

	shapes, ok := engine.Snapshot("b1")
	if !ok {
		t.Fatal("No live room for b1")
	}
	if len(shapes) != 1 {
		t.Fatalf("Shape count after re-applied create: got %d, want 1", len(shapes))
	}
	if shapes[0].X == nil || *shapes[0].X != 99 {
		t.Errorf("Re-applied create did not replace: x=%v", shapes[0].X)
	}
}

func TestShapeCreate_PreservesPaintOrder(t *testing.T) {
	engine, _ := newTestEngine(time.Hour, testBoard("b1"))
	a := newFakeSession("a")
	join(t, engine, a, "b1")

	engine.HandleIntent(a, rectIntent("b1", "s1"))
	engine.HandleIntent(a, rectIntent("b1", "s2"))
	engine.HandleIntent(a, rectIntent("b1", "s3"))
	// Re-creating s1 replaces in place, it does not move it to the top.
	engine.HandleIntent(a, rectIntent("b1", "s1"))

	shapes, _ := engine.Snapshot("b1")
	ids := make([]string, len(shapes))
	for i, s := range shapes {
		ids[i] = s.ID
	}
	want := []string{"s1", "s2", "s3"}
	if len(ids) != 3 || ids[0] != want[0] || ids[1] != want[1] || ids[2] != want[2] {
		t.Errorf("Paint order: got %v, want %v", ids, want)
	}
}

func TestShapeCreate_MalformedDroppedSilently(t *testing.T) {
	engine, _ := newTestEngine(time.Hour, testBoard("b1"))
	a := newFakeSession("a")
	b := newFakeSession("b")
	join(t, engine, a, "b1")
	join(t, engine, b, "b1")

	engine.HandleIntent(a, Intent{
		Type:    IntentShapeCreate,
		BoardID: "b1",
		Shape:   map[string]any{"id": "s1", "type": "rect"}, // no geometry
	})

	if b.count(FactShapeCreated) != 0 {
		t.Error("Malformed intent reached a peer")
	}
	shapes, _ := engine.Snapshot("b1")
	if len(shapes) != 0 {
		t.Errorf("Malformed intent mutated state: %d shapes", len(shapes))
	}
}

func TestShapeUpdate_MergesOnlyGivenFields(t *testing.T) {
	engine, _ := newTestEngine(time.Hour, testBoard("b1"))
	a := newFakeSession("a")
	join(t, engine, a, "b1")

	engine.HandleIntent(a, rectIntent("b1", "s1"))
	engine.HandleIntent(a, Intent{
		Type:    IntentShapeUpdate,
		BoardID: "b1",
		ShapeID: "s1",
		Props:   map[string]any{"x": float64(20)},
	})

	shapes, _ := engine.Snapshot("b1")
	if len(shapes) != 1 {
		t.Fatalf("Shape count: got %d, want 1", len(shapes))
	}
	s := shapes[0]
	if *s.X != 20 {
		t.Errorf("x: got %v, want 20", *s.X)
	}
	if *s.Y != 10 || *s.Width != 50 || *s.Height != 50 {
		t.Errorf("Untouched fields changed: y=%v w=%v h=%v", *s.Y, *s.Width, *s.Height)
	}
}

func TestShapeUpdate_UnknownTargetIsNoOpButBroadcasts(t *testing.T) {
	engine, _ := newTestEngine(time.Hour, testBoard("b1"))
	a := newFakeSession("a")
	b := newFakeSession("b")
	join(t, engine, a, "b1")
	join(t, engine, b, "b1")

	engine.HandleIntent(a, Intent{
		Type:    IntentShapeUpdate,
		BoardID: "b1",
		ShapeID: "ghost",
		Props:   map[string]any{"x": float64(1)},
	})

	shapes, _ := engine.Snapshot("b1")
	if len(shapes) != 0 {
		t.Errorf("Unknown-target update mutated state: %d shapes", len(shapes))
	}
	if b.count(FactShapeUpdated) != 1 {
		t.Errorf("Peer got %d shape-updated facts for unknown target, want 1", b.count(FactShapeUpdated))
	}
}

func TestShapeUpdate_LastWriteWins(t *testing.T) {
	engine, _ := newTestEngine(time.Hour, testBoard("b1"))
	a := newFakeSession("a")
	b := newFakeSession("b")
	join(t, engine, a, "b1")
	join(t, engine, b, "b1")

	engine.HandleIntent(a, rectIntent("b1", "s1"))
	engine.HandleIntent(a, Intent{Type: IntentShapeUpdate, BoardID: "b1", ShapeID: "s1", Props: map[string]any{"x": float64(111)}})
	engine.HandleIntent(b, Intent{Type: IntentShapeUpdate, BoardID: "b1", ShapeID: "s1", Props: map[string]any{"x": float64(222)}})

	shapes, _ := engine.Snapshot("b1")
	if *shapes[0].X != 222 {
		t.Errorf("Last write did not win: x=%v, want 222", *shapes[0].X)
	}
}

func TestShapeDelete_RemovesExactlyOne(t *testing.T) {
	engine, _ := newTestEngine(time.Hour, testBoard("b1"))
	a := newFakeSession("a")
	join(t, engine, a, "b1")

	engine.HandleIntent(a, rectIntent("b1", "s1"))
	engine.HandleIntent(a, rectIntent("b1", "s2"))
	engine.HandleIntent(a, rectIntent("b1", "s3"))

	engine.HandleIntent(a, Intent{Type: IntentShapeDelete, BoardID: "b1", ShapeID: "s2"})

	shapes, _ := engine.Snapshot("b1")
	if len(shapes) != 2 {
		t.Fatalf("Shape count after delete: got %d, want 2", len(shapes))
	}
	if shapes[0].ID != "s1" || shapes[1].ID != "s3" {
		t.Errorf("Wrong survivors: %s, %s", shapes[0].ID, shapes[1].ID)
	}
}

func TestShapeDelete_AbsentTargetIsNoOp(t *testing.T) {
	engine, _ := newTestEngine(time.Hour, testBoard("b1"))
	a := newFakeSession("a")
	join(t, engine, a, "b1")

	engine.HandleIntent(a, rectIntent("b1", "s1"))
	engine.HandleIntent(a, Intent{Type: IntentShapeDelete, BoardID: "b1", ShapeID: "ghost"})

	shapes, _ := engine.Snapshot("b1")
	if len(shapes) != 1 || shapes[0].ID != "s1" {
		t.Errorf("Absent-target delete changed the list: %v", shapes)
	}
}

func TestBoardRename_TrimsAndDefaults(t *testing.T) {
	engine, _ := newTestEngine(time.Hour, testBoard("b1"))
	a := newFakeSession("a")
	b := newFakeSession("b")
	join(t, engine, a, "b1")
	join(t, engine, b, "b1")

	engine.HandleIntent(a, Intent{Type: IntentBoardRename, BoardID: "b1", Name: "  Sprint planning  "})
	payload, ok := b.last(FactBoardRenamed)
	if !ok {
		t.Fatal("Peer did not receive board-renamed")
	}
	if payload["name"] != "Sprint planning" {
		t.Errorf("Rename not trimmed: got %v", payload["name"])
	}

	engine.HandleIntent(a, Intent{Type: IntentBoardRename, BoardID: "b1", Name: "   "})
	payload, _ = b.last(FactBoardRenamed)
	if payload["name"] != core.DefaultBoardName {
		t.Errorf("Empty rename not defaulted: got %v", payload["name"])
	}
}

func TestShapeUpdate_NullingRequiredFieldDropped(t *testing.T) {
	engine, _ := newTestEngine(time.Hour, testBoard("b1"))
	a := newFakeSession("a")
	b := newFakeSession("b")
	join(t, engine, a, "b1")
	join(t, engine, b, "b1")

	engine.HandleIntent(a, rectIntent("b1", "s1"))
	engine.HandleIntent(a, Intent{
		Type:    IntentShapeUpdate,
		BoardID: "b1",
		ShapeID: "s1",
		Props:   map[string]any{"x": nil},
	})

	shapes, _ := engine.Snapshot("b1")
	if len(shapes) != 1 || shapes[0].X == nil || *shapes[0].X != 10 {
		t.Errorf("Geometry-stripping update reached authoritative state: %+v", shapes)
	}
	if b.count(FactShapeUpdated) != 0 {
		t.Error("Geometry-stripping update reached a peer")
	}
}

func TestIntent_ForUnjoinedBoardDropped(t *testing.T) {
	engine, _ := newTestEngine(time.Hour, testBoard("b1"), testBoard("b2"))
	a := newFakeSession("a")
	b := newFakeSession("b")
	join(t, engine, a, "b1")
	join(t, engine, b, "b2")

	// a is a member of b1, not b2.
	engine.HandleIntent(a, rectIntent("b2", "s1"))

	shapes, _ := engine.Snapshot("b2")
	if len(shapes) != 0 {
		t.Error("Intent from a non-member mutated the room")
	}
	if b.count(FactShapeCreated) != 0 {
		t.Error("Non-member intent reached room peers")
	}
}

func TestLeave_StopsDelivery(t *testing.T) {
	engine, _ := newTestEngine(time.Hour, testBoard("b1"))
	a := newFakeSession("a")
	b := newFakeSession("b")
	join(t, engine, a, "b1")
	join(t, engine, b, "b1")

	engine.Leave(b)
	engine.HandleIntent(a, rectIntent("b1", "s1"))

	if b.count(FactShapeCreated) != 0 {
		t.Error("Departed session still received facts")
	}
	if a.count(FactPresenceLeft) != 1 {
		t.Errorf("Remaining peer got %d presence-left events, want 1", a.count(FactPresenceLeft))
	}
}

func TestLeave_LastSessionEvictsRoomState(t *testing.T) {
	engine, store := newTestEngine(time.Hour, testBoard("b1"))
	a := newFakeSession("a")
	join(t, engine, a, "b1")
	engine.HandleIntent(a, rectIntent("b1", "s1"))
	engine.Leave(a)

	if _, ok := engine.Snapshot("b1"); ok {
		t.Error("Room state retained after the last session left")
	}

	// State written while the room was empty is what the next joiner
	// must see, not a cached copy.
	x, y, wd, h := 1.0, 2.0, 3.0, 4.0
	store.OverwriteShapes(context.Background(), "b1", []core.Shape{
		{ID: "s9", Kind: core.KindRect, X: &x, Y: &y, Width: &wd, Height: &h},
	})

	b := newFakeSession("b")
	join(t, engine, b, "b1")
	payload, ok := b.last(FactRoomJoined)
	if !ok {
		t.Fatal("Joiner did not receive the room snapshot")
	}
	shapes, ok := payload["shapes"].([]core.Shape)
	if !ok {
		t.Fatalf("Snapshot shapes payload is %T", payload["shapes"])
	}
	if len(shapes) != 1 || shapes[0].ID != "s9" {
		t.Errorf("Joiner saw stale room state: %+v", shapes)
	}
}

func TestJoin_SwitchEvictsEmptiedRoom(t *testing.T) {
	engine, _ := newTestEngine(time.Hour, testBoard("b1"), testBoard("b2"))
	a := newFakeSession("a")
	join(t, engine, a, "b1")
	engine.HandleIntent(a, rectIntent("b1", "s1"))
	join(t, engine, a, "b2")

	if _, ok := engine.Snapshot("b1"); ok {
		t.Error("Room state retained after its only session switched away")
	}
}

func TestRenameBoard_ReachesLiveRoomAndPeers(t *testing.T) {
	engine, _ := newTestEngine(time.Hour, testBoard("b1"))
	a := newFakeSession("a")
	join(t, engine, a, "b1")

	engine.RenameBoard("b1", "Quarterly plan")

	payload, ok := a.last(FactBoardRenamed)
	if !ok {
		t.Fatal("Live peer did not receive board-renamed")
	}
	if payload["name"] != "Quarterly plan" {
		t.Errorf("board-renamed name: got %v", payload["name"])
	}

	b := newFakeSession("b")
	join(t, engine, b, "b1")
	snapshot, _ := b.last(FactRoomJoined)
	if snapshot["name"] != "Quarterly plan" {
		t.Errorf("Snapshot name after rename: got %v", snapshot["name"])
	}

	// No live room is a no-op.
	engine.RenameBoard("missing", "whatever")
}

func TestCloseBoard_InvalidatesRoom(t *testing.T) {
	engine, _ := newTestEngine(time.Hour, testBoard("b1"))
	a := newFakeSession("a")
	b := newFakeSession("b")
	join(t, engine, a, "b1")
	join(t, engine, b, "b1")

	engine.CloseBoard("b1")

	if a.count(FactBoardDeleted) != 1 || b.count(FactBoardDeleted) != 1 {
		t.Error("Sessions were not told the board is gone")
	}
	if engine.Registry().Count("b1") != 0 {
		t.Error("Room not cleared")
	}
	if _, ok := engine.Snapshot("b1"); ok {
		t.Error("Live room state survived CloseBoard")
	}
}

func TestDebounce_CoalescesBurstIntoOneWrite(t *testing.T) {
	engine, store := newTestEngine(50*time.Millisecond, testBoard("b1"))
	a := newFakeSession("a")
	join(t, engine, a, "b1")

	for i := 0; i < 10; i++ {
		engine.HandleIntent(a, Intent{
			Type:    IntentShapeCreate,
			BoardID: "b1",
			Shape: map[string]any{
				"id": "s1", "type": "rect",
				"x": float64(i), "y": float64(0), "width": float64(5), "height": float64(5),
			},
		})
	}

	time.Sleep(200 * time.Millisecond)

	if got := store.writes(); got != 1 {
		t.Errorf("Burst of 10 mutations produced %d writes, want 1", got)
	}
	persisted := store.persistedShapes()
	if len(persisted) != 1 {
		t.Fatalf("Persisted %d shapes, want 1", len(persisted))
	}
	if persisted[0].X == nil || *persisted[0].X != 9 {
		t.Errorf("Persisted intermediate state: x=%v, want 9", persisted[0].X)
	}
}

func TestRename_Persisted(t *testing.T) {
	engine, store := newTestEngine(20*time.Millisecond, testBoard("b1"))
	a := newFakeSession("a")
	join(t, engine, a, "b1")

	engine.HandleIntent(a, Intent{Type: IntentBoardRename, BoardID: "b1", Name: "Renamed"})
	time.Sleep(100 * time.Millisecond)

	store.mu.Lock()
	name := store.lastName
	store.mu.Unlock()
	if name != "Renamed" {
		t.Errorf("Persisted name: got %q, want %q", name, "Renamed")
	}
}

// Full collaborative session from the protocol description: create,
// update, delete between two clients, then the debounced write.
func TestCollaborationScenario(t *testing.T) {
	engine, store := newTestEngine(50*time.Millisecond, testBoard("b1"))
	a := newFakeSession("a")
	b := newFakeSession("b")
	join(t, engine, a, "b1")
	join(t, engine, b, "b1")

	engine.HandleIntent(a, rectIntent("b1", "s1"))
	if b.count(FactShapeCreated) != 1 {
		t.Fatal("B did not receive shape-created")
	}
	if a.count(FactShapeCreated) != 0 {
		t.Fatal("A received its own shape-created")
	}
	payload, _ := b.last(FactShapeCreated)
	created, ok := payload["shape"].(core.Shape)
	if !ok {
		t.Fatalf("shape-created payload is %T", payload["shape"])
	}
	if created.ID != "s1" || *created.X != 10 || *created.Y != 10 || *created.Width != 50 || *created.Height != 50 {
		t.Errorf("B received wrong shape: %+v", created)
	}

	engine.HandleIntent(b, Intent{Type: IntentShapeUpdate, BoardID: "b1", ShapeID: "s1", Props: map[string]any{"x": float64(20)}})
	if a.count(FactShapeUpdated) != 1 {
		t.Fatal("A did not receive shape-updated")
	}
	shapes, _ := engine.Snapshot("b1")
	s := shapes[0]
	if *s.X != 20 || *s.Y != 10 || *s.Width != 50 || *s.Height != 50 {
		t.Errorf("Post-update shape wrong: x=%v y=%v w=%v h=%v", *s.X, *s.Y, *s.Width, *s.Height)
	}

	engine.HandleIntent(a, Intent{Type: IntentShapeDelete, BoardID: "b1", ShapeID: "s1"})
	if b.count(FactShapeDeleted) != 1 {
		t.Fatal("B did not receive shape-deleted")
	}
	shapes, _ = engine.Snapshot("b1")
	if len(shapes) != 0 {
		t.Errorf("Shape list not empty after delete: %d", len(shapes))
	}

	time.Sleep(200 * time.Millisecond)
	persisted := store.persistedShapes()
	if persisted == nil || len(persisted) != 0 {
		t.Errorf("Store should hold zero shapes after the quiet period, got %v", persisted)
	}
	if store.writes() == 0 {
		t.Error("No persistence write happened")
	}
}
