package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"drawdeck/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// memStore implements BoardStore and ExportStore for in-memory use.
// Default backend; everything is lost on restart.
type memStore struct {
	mu      sync.RWMutex
	boards  map[string]*core.Board
	exports map[string]*core.Export
}

// NewStore creates a new in-memory store.
func NewStore() *memStore {
	return &memStore{
		boards:  make(map[string]*core.Board),
		exports: make(map[string]*core.Export),
	}
}

func (s *memStore) Create(ctx context.Context, board *core.Board) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if board.ID == "" {
		return fmt.Errorf("board ID cannot be empty")
	}
	if board.OwnerID == "" {
		return fmt.Errorf("board OwnerID cannot be empty")
	}

	now := time.Now()
	board.CreatedAt = now
	board.UpdatedAt = now

	stored := *board
	stored.Shapes = copyShapes(board.Shapes)
	s.boards[board.ID] = &stored

	logrus.WithFields(logrus.Fields{"board_id": board.ID, "owner_id": board.OwnerID}).Info("Board created")
	return nil
}

func (s *memStore) List(ctx context.Context, ownerID string) ([]*core.Board, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	boards := make([]*core.Board, 0)
	for _, board := range s.boards {
		if board.OwnerID != ownerID {
			continue
		}
		// Metadata only; the shape list stays out of list views.
		boards = append(boards, &core.Board{
			ID:          board.ID,
			OwnerID:     board.OwnerID,
			Name:        board.Name,
			Description: board.Description,
			CreatedAt:   board.CreatedAt,
			UpdatedAt:   board.UpdatedAt,
		})
	}

	logrus.WithField("owner_id", ownerID).Infof("Listed %d boards", len(boards))
	return boards, nil
}

func (s *memStore) Get(ctx context.Context, id string) (*core.Board, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	board, ok := s.boards[id]
	if !ok {
		logrus.WithField("board_id", id).Warn("Board not found")
		return nil, core.ErrBoardNotFound
	}

	out := *board
	out.Shapes = copyShapes(board.Shapes)
	return &out, nil
}

func (s *memStore) Delete(ctx context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	board, ok := s.boards[id]
	if !ok || board.OwnerID != ownerID {
		return core.ErrBoardNotFound
	}

	delete(s.boards, id)
	logrus.WithFields(logrus.Fields{"board_id": id, "owner_id": ownerID}).Info("Board deleted")
	return nil
}

func (s *memStore) OverwriteShapes(ctx context.Context, id string, shapes []core.Shape) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	board, ok := s.boards[id]
	if !ok {
		// The board may have been deleted while a debounced write was
		// pending; that write is a no-op, not an error.
		logrus.WithField("board_id", id).Debug("Skipping shape overwrite for missing board")
		return nil
	}

	board.Shapes = copyShapes(shapes)
	board.UpdatedAt = time.Now()
	return nil
}

func (s *memStore) SetName(ctx context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	board, ok := s.boards[id]
	if !ok {
		return nil
	}
	board.Name = name
	board.UpdatedAt = time.Now()
	return nil
}

func (s *memStore) SetDescription(ctx context.Context, id, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	board, ok := s.boards[id]
	if !ok {
		return nil
	}
	board.Description = description
	board.UpdatedAt = time.Now()
	return nil
}

// ExportStore implementation.
func (s *memStore) CreateExport(ctx context.Context, export *core.Export) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := ulid.Make().String()
	data := make([]byte, len(export.Data))
	copy(data, export.Data)
	s.exports[id] = &core.Export{Data: data}

	logrus.WithFields(logrus.Fields{"export_id": id, "data_length": len(data)}).Info("Export created")
	return id, nil
}

func (s *memStore) FindID(ctx context.Context, id string) (*core.Export, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	export, ok := s.exports[id]
	if !ok {
		logrus.WithField("export_id", id).Warn("Export not found")
		return nil, core.ErrExportNotFound
	}
	return export, nil
}

func copyShapes(shapes []core.Shape) []core.Shape {
	out := make([]core.Shape, len(shapes))
	copy(out, shapes)
	return out
}
