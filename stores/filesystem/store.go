package filesystem

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"drawdeck/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// storedBoard is the on-disk form; ownership has to live inside the
// file because the JSON tag on Board hides it from API responses.
type storedBoard struct {
	core.Board
	OwnerID string `json:"ownerId"`
}

type fsStore struct {
	basePath string
}

// NewStore creates a new filesystem-based store. Boards live under
// basePath/boards, exports under basePath/exports, one JSON file each.
func NewStore(basePath string) *fsStore {
	for _, dir := range []string{basePath, filepath.Join(basePath, "boards"), filepath.Join(basePath, "exports")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("failed to create storage directory %s: %v", dir, err)
		}
	}
	return &fsStore{basePath: basePath}
}

func (s *fsStore) boardPath(id string) (string, error) {
	// ids are server-generated ULIDs, but reject anything path-like anyway
	if id == "" || filepath.Base(id) != id || strings.HasPrefix(id, ".") {
		return "", core.ErrBoardNotFound
	}
	return filepath.Join(s.basePath, "boards", id+".json"), nil
}

func (s *fsStore) readBoard(id string) (*storedBoard, error) {
	path, err := s.boardPath(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrBoardNotFound
		}
		return nil, err
	}
	var stored storedBoard
	if err := json.Unmarshal(data, &stored); err != nil {
		logrus.WithField("board_id", id).WithError(err).Error("Failed to decode board file")
		return nil, err
	}
	stored.Board.OwnerID = stored.OwnerID
	return &stored, nil
}

func (s *fsStore) writeBoard(board *core.Board) error {
	path, err := s.boardPath(board.ID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(storedBoard{Board: *board, OwnerID: board.OwnerID})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (s *fsStore) Create(ctx context.Context, board *core.Board) error {
	now := time.Now()
	board.CreatedAt = now
	board.UpdatedAt = now

	log := logrus.WithFields(logrus.Fields{"board_id": board.ID, "owner_id": board.OwnerID})
	if err := s.writeBoard(board); err != nil {
		log.WithError(err).Error("Failed to write board file")
		return err
	}
	log.Info("Board created")
	return nil
}

func (s *fsStore) List(ctx context.Context, ownerID string) ([]*core.Board, error) {
	dir := filepath.Join(s.basePath, "boards")
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*core.Board{}, nil
		}
		return nil, err
	}

	boards := make([]*core.Board, 0)
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(file.Name(), ".json")
		stored, err := s.readBoard(id)
		if err != nil {
			logrus.WithError(err).Warnf("Skipping unreadable board file %s", file.Name())
			continue
		}
		if stored.Board.OwnerID != ownerID {
			continue
		}
		board := stored.Board
		board.Shapes = nil
		boards = append(boards, &board)
	}

	logrus.WithField("owner_id", ownerID).Infof("Listed %d boards", len(boards))
	return boards, nil
}

func (s *fsStore) Get(ctx context.Context, id string) (*core.Board, error) {
	stored, err := s.readBoard(id)
	if err != nil {
		return nil, err
	}
	board := stored.Board
	if board.Shapes == nil {
		board.Shapes = []core.Shape{}
	}
	return &board, nil
}

func (s *fsStore) Delete(ctx context.Context, ownerID, id string) error {
	stored, err := s.readBoard(id)
	if err != nil {
		return err
	}
	if stored.Board.OwnerID != ownerID {
		return core.ErrBoardNotFound
	}
	path, err := s.boardPath(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	logrus.WithFields(logrus.Fields{"board_id": id, "owner_id": ownerID}).Info("Board deleted")
	return nil
}

func (s *fsStore) OverwriteShapes(ctx context.Context, id string, shapes []core.Shape) error {
	stored, err := s.readBoard(id)
	if err != nil {
		if err == core.ErrBoardNotFound {
			// Late debounced write against a deleted board; nothing to do.
			logrus.WithField("board_id", id).Debug("Skipping shape overwrite for missing board")
			return nil
		}
		return err
	}
	stored.Board.Shapes = shapes
	stored.Board.UpdatedAt = time.Now()
	return s.writeBoard(&stored.Board)
}

func (s *fsStore) SetName(ctx context.Context, id, name string) error {
	stored, err := s.readBoard(id)
	if err != nil {
		if err == core.ErrBoardNotFound {
			return nil
		}
		return err
	}
	stored.Board.Name = name
	stored.Board.UpdatedAt = time.Now()
	return s.writeBoard(&stored.Board)
}

func (s *fsStore) SetDescription(ctx context.Context, id, description string) error {
	stored, err := s.readBoard(id)
	if err != nil {
		if err == core.ErrBoardNotFound {
			return nil
		}
		return err
	}
	stored.Board.Description = description
	stored.Board.UpdatedAt = time.Now()
	return s.writeBoard(&stored.Board)
}

// ExportStore implementation.
func (s *fsStore) CreateExport(ctx context.Context, export *core.Export) (string, error) {
	id := ulid.Make().String()
	path := filepath.Join(s.basePath, "exports", id)
	if err := os.WriteFile(path, export.Data, 0644); err != nil {
		logrus.WithField("export_id", id).WithError(err).Error("Failed to write export file")
		return "", err
	}
	return id, nil
}

func (s *fsStore) FindID(ctx context.Context, id string) (*core.Export, error) {
	if id == "" || filepath.Base(id) != id || strings.HasPrefix(id, ".") {
		return nil, core.ErrExportNotFound
	}
	data, err := os.ReadFile(filepath.Join(s.basePath, "exports", id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrExportNotFound
		}
		return nil, err
	}
	return &core.Export{Data: data}, nil
}
