package realtime

import (
	"context"
	"sync"
	"time"

	"drawdeck/core"

	"github.com/sirupsen/logrus"
)

// IntentType names a client-submitted mutation request. The values
// double as the wire event names.
type IntentType string

const (
	IntentShapeCreate IntentType = "shape-create"
	IntentShapeUpdate IntentType = "shape-update"
	IntentShapeDelete IntentType = "shape-delete"
	IntentBoardRename IntentType = "board-rename"
)

// Fact event names broadcast to peers after a mutation is applied.
const (
	FactShapeCreated   = "shape-created"
	FactShapeUpdated   = "shape-updated"
	FactShapeDeleted   = "shape-deleted"
	FactBoardRenamed   = "board-renamed"
	FactPresenceJoined = "presence-joined"
	FactPresenceLeft   = "presence-left"
	FactBoardDeleted   = "board-deleted"
	FactRoomJoined     = "room-joined"
)

// Intent is a decoded mutation request addressed to one board.
type Intent struct {
	Type    IntentType
	BoardID string
	Shape   map[string]any // shape-create
	ShapeID string         // shape-update, shape-delete
	Props   map[string]any // shape-update
	Name    string         // board-rename
}

// room is the authoritative live state for one board. All intents for
// the board are applied under its mutex, strictly in arrival order,
// which is what makes last-write-wins well defined. Only the engine
// mutates it; everything else sees copies.
type room struct {
	boardID string
	mu      sync.Mutex
	name    string
	shapes  []core.Shape
	renamed bool // name changed since the last persisted write
}

// Engine is the authoritative state-transition function for board
// shape lists: it validates intents, applies them, fans the resulting
// facts out to room peers (never back to the author) and schedules
// debounced persistence.
type Engine struct {
	store    core.BoardStore
	registry *Registry
	writer   *Writer

	mu    sync.Mutex
	rooms map[string]*room
}

func NewEngine(store core.BoardStore, registry *Registry, writer *Writer) *Engine {
	return &Engine{
		store:    store,
		registry: registry,
		writer:   writer,
		rooms:    make(map[string]*room),
	}
}

// Registry exposes the connection registry, for occupancy reporting.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Join subscribes the session to the board's room. The joiner gets the
// current authoritative snapshot; peers get a presence fact. Joining a
// board the session is already in is a no-op apart from re-sending the
// snapshot.
func (e *Engine) Join(ctx context.Context, session Session, boardID, displayName string) error {
	rm, err := e.room(ctx, boardID)
	if err != nil {
		return err
	}

	left, switched := e.registry.Join(session, boardID)
	if switched {
		e.registry.Broadcast(left, FactPresenceLeft, session.ID(), map[string]any{
			"sessionId": session.ID(),
		})
		e.evictIfEmpty(left)
	}

	rm.mu.Lock()
	snapshot := map[string]any{
		"name":   rm.name,
		"shapes": copyShapes(rm.shapes),
	}
	rm.mu.Unlock()

	if err := session.Emit(FactRoomJoined, snapshot); err != nil {
		logrus.WithFields(logrus.Fields{
			"board_id":   boardID,
			"session_id": session.ID(),
		}).WithError(err).Warn("Failed to send room snapshot to joiner")
	}

	e.registry.Broadcast(boardID, FactPresenceJoined, session.ID(), map[string]any{
		"sessionId":   session.ID(),
		"displayName": displayName,
	})

	logrus.WithFields(logrus.Fields{
		"board_id":   boardID,
		"session_id": session.ID(),
		"peers":      e.registry.Count(boardID),
	}).Info("Session joined board")
	return nil
}

// Leave detaches the session from its room; remaining peers get a
// presence-left fact. Safe to call for sessions that never joined.
func (e *Engine) Leave(session Session) {
	boardID, ok := e.registry.Leave(session)
	if !ok {
		return
	}
	e.registry.Broadcast(boardID, FactPresenceLeft, session.ID(), map[string]any{
		"sessionId": session.ID(),
	})
	e.evictIfEmpty(boardID)
	logrus.WithFields(logrus.Fields{
		"board_id":   boardID,
		"session_id": session.ID(),
	}).Info("Session left board")
}

// evictIfEmpty drops the cached room once its last session is gone, so
// the next join reloads authoritative state from the store. A pending
// debounced write keeps its own room pointer and still completes.
func (e *Engine) evictIfEmpty(boardID string) {
	if e.registry.Count(boardID) > 0 {
		return
	}
	e.mu.Lock()
	delete(e.rooms, boardID)
	e.mu.Unlock()
}

// RenameBoard pushes a rename applied through the CRUD surface into
// the live room, if one exists, and tells its peers. The store was
// already updated by the caller, so the room is not re-marked dirty.
func (e *Engine) RenameBoard(boardID, name string) {
	e.mu.Lock()
	rm, ok := e.rooms[boardID]
	e.mu.Unlock()
	if !ok {
		return
	}
	rm.mu.Lock()
	rm.name = name
	e.registry.Broadcast(boardID, FactBoardRenamed, "", map[string]any{"name": name})
	rm.mu.Unlock()
}

// HandleIntent validates and applies one intent from a session, then
// fans the fact out to every other session in the room. Malformed
// intents are logged and dropped; they never mutate state and never
// reach peers. The live channel is fire-and-forget, so no error is
// reported back to the author.
func (e *Engine) HandleIntent(session Session, intent Intent) {
	log := logrus.WithFields(logrus.Fields{
		"board_id":   intent.BoardID,
		"session_id": session.ID(),
		"intent":     string(intent.Type),
	})

	current, ok := e.registry.Room(session)
	if !ok || current != intent.BoardID {
		log.Debug("Dropping intent for a board the session has not joined")
		return
	}

	e.mu.Lock()
	rm, ok := e.rooms[intent.BoardID]
	e.mu.Unlock()
	if !ok {
		log.Debug("Dropping intent for an unknown room")
		return
	}

	// The fact is derived and broadcast under the room lock so peers
	// observe facts in exactly the order intents were applied.
	rm.mu.Lock()
	defer rm.mu.Unlock()

	var (
		fact    string
		payload map[string]any
	)

	switch intent.Type {
	case IntentShapeCreate:
		shape, err := core.ShapeFromPayload(intent.Shape)
		if err != nil {
			log.WithError(err).Debug("Dropping malformed shape-create intent")
			return
		}
		rm.upsertShape(shape)
		fact, payload = FactShapeCreated, map[string]any{"shape": shape}

	case IntentShapeUpdate:
		if intent.ShapeID == "" || intent.Props == nil {
			log.Debug("Dropping malformed shape-update intent")
			return
		}
		// An unknown shape id is a no-op, but the fact still goes out
		// so peers that hold the shape locally converge.
		if i := rm.indexOf(intent.ShapeID); i >= 0 {
			merged, err := rm.shapes[i].Merge(intent.Props)
			if err != nil {
				log.WithError(err).Debug("Dropping unmergeable shape-update intent")
				return
			}
			rm.shapes[i] = merged
		}
		fact, payload = FactShapeUpdated, map[string]any{
			"shapeId": intent.ShapeID,
			"props":   intent.Props,
		}

	case IntentShapeDelete:
		if intent.ShapeID == "" {
			log.Debug("Dropping malformed shape-delete intent")
			return
		}
		rm.removeShape(intent.ShapeID)
		fact, payload = FactShapeDeleted, map[string]any{"shapeId": intent.ShapeID}

	case IntentBoardRename:
		name := core.NormalizeBoardName(intent.Name)
		rm.name = name
		rm.renamed = true
		fact, payload = FactBoardRenamed, map[string]any{"name": name}

	default:
		log.Debug("Dropping intent of unknown type")
		return
	}

	e.registry.Broadcast(intent.BoardID, fact, session.ID(), payload)
	e.writer.Schedule(intent.BoardID, e.persist(rm))
}

// CloseBoard invalidates the live room for a deleted board: every
// session is told and detached. A pending debounced write is left to
// fire; overwriting the deleted id is a no-op at the store.
func (e *Engine) CloseBoard(boardID string) {
	e.mu.Lock()
	delete(e.rooms, boardID)
	e.mu.Unlock()

	e.registry.Broadcast(boardID, FactBoardDeleted, "", map[string]any{})
	cleared := e.registry.Clear(boardID)
	if len(cleared) > 0 {
		logrus.WithFields(logrus.Fields{
			"board_id": boardID,
			"sessions": len(cleared),
		}).Info("Closed live room for deleted board")
	}
}

// Snapshot returns a copy of the current authoritative shape list, or
// false if the board has no live room.
func (e *Engine) Snapshot(boardID string) ([]core.Shape, bool) {
	e.mu.Lock()
	rm, ok := e.rooms[boardID]
	e.mu.Unlock()
	if !ok {
		return nil, false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return copyShapes(rm.shapes), true
}

// room returns the live room for the board, loading the authoritative
// state from the store on first use.
func (e *Engine) room(ctx context.Context, boardID string) (*room, error) {
	e.mu.Lock()
	if rm, ok := e.rooms[boardID]; ok {
		e.mu.Unlock()
		return rm, nil
	}
	e.mu.Unlock()

	board, err := e.store.Get(ctx, boardID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if rm, ok := e.rooms[boardID]; ok {
		// Another join loaded it first.
		return rm, nil
	}
	rm := &room{
		boardID: boardID,
		name:    board.Name,
		shapes:  copyShapes(board.Shapes),
	}
	e.rooms[boardID] = rm
	return rm, nil
}

// persist returns the write callback handed to the debounce writer. It
// snapshots the room when it runs, so a coalesced write always
// reflects the latest state, and it holds the room pointer directly so
// it still completes if the board was deleted meanwhile.
func (e *Engine) persist(rm *room) func() {
	return func() {
		rm.mu.Lock()
		shapes := copyShapes(rm.shapes)
		name := rm.name
		renamed := rm.renamed
		rm.renamed = false
		rm.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		log := logrus.WithFields(logrus.Fields{
			"board_id": rm.boardID,
			"shapes":   len(shapes),
		})
		if err := e.store.OverwriteShapes(ctx, rm.boardID, shapes); err != nil {
			// Already-broadcast facts cannot be rolled back; the next
			// debounce cycle retries with whatever the state is then.
			log.WithError(err).Error("Failed to persist board shapes")
			return
		}
		if renamed {
			if err := e.store.SetName(ctx, rm.boardID, name); err != nil {
				rm.mu.Lock()
				rm.renamed = true
				rm.mu.Unlock()
				log.WithError(err).Error("Failed to persist board name")
				return
			}
		}
		log.Debug("Persisted board snapshot")
	}
}

func (rm *room) indexOf(shapeID string) int {
	for i := range rm.shapes {
		if rm.shapes[i].ID == shapeID {
			return i
		}
	}
	return -1
}

// upsertShape appends a new shape or replaces an existing one in
// place, keeping paint order stable so re-applied creates are
// idempotent rather than duplicating.
func (rm *room) upsertShape(shape core.Shape) {
	if i := rm.indexOf(shape.ID); i >= 0 {
		rm.shapes[i] = shape
		return
	}
	rm.shapes = append(rm.shapes, shape)
}

func (rm *room) removeShape(shapeID string) {
	if i := rm.indexOf(shapeID); i >= 0 {
		rm.shapes = append(rm.shapes[:i], rm.shapes[i+1:]...)
	}
}

func copyShapes(shapes []core.Shape) []core.Shape {
	out := make([]core.Shape, len(shapes))
	copy(out, shapes)
	return out
}
