package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"drawdeck/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	db *sql.DB
}

// NewStore creates a new SQLite-based store.
func NewStore(dataSourceName string) *sqliteStore {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		log.Fatalf("failed to open sqlite database: %v", err)
	}

	boardTableStmt := `
	CREATE TABLE IF NOT EXISTS boards (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		shapes BLOB,
		created_at DATETIME,
		updated_at DATETIME
	);`
	if _, err = db.Exec(boardTableStmt); err != nil {
		log.Fatalf("failed to create boards table: %v", err)
	}

	exportTableStmt := `CREATE TABLE IF NOT EXISTS exports (id TEXT PRIMARY KEY, data BLOB);`
	if _, err = db.Exec(exportTableStmt); err != nil {
		log.Fatalf("failed to create exports table: %v", err)
	}

	return &sqliteStore{db}
}

func (s *sqliteStore) Create(ctx context.Context, board *core.Board) error {
	now := time.Now()
	board.CreatedAt = now
	board.UpdatedAt = now

	shapes, err := json.Marshal(board.Shapes)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO boards (id, owner_id, name, description, shapes, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		board.ID, board.OwnerID, board.Name, board.Description, shapes, now, now)
	if err != nil {
		logrus.WithField("board_id", board.ID).WithError(err).Error("Failed to create board")
		return err
	}
	logrus.WithFields(logrus.Fields{"board_id": board.ID, "owner_id": board.OwnerID}).Info("Board created")
	return nil
}

func (s *sqliteStore) List(ctx context.Context, ownerID string) ([]*core.Board, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, description, created_at, updated_at FROM boards WHERE owner_id = ?", ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	boards := make([]*core.Board, 0)
	for rows.Next() {
		board := core.Board{OwnerID: ownerID}
		if err := rows.Scan(&board.ID, &board.Name, &board.Description, &board.CreatedAt, &board.UpdatedAt); err != nil {
			return nil, err
		}
		boards = append(boards, &board)
	}
	return boards, rows.Err()
}

func (s *sqliteStore) Get(ctx context.Context, id string) (*core.Board, error) {
	var (
		board     core.Board
		rawShapes []byte
	)
	board.ID = id
	err := s.db.QueryRowContext(ctx,
		"SELECT owner_id, name, description, shapes, created_at, updated_at FROM boards WHERE id = ?", id).
		Scan(&board.OwnerID, &board.Name, &board.Description, &rawShapes, &board.CreatedAt, &board.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrBoardNotFound
		}
		logrus.WithField("board_id", id).WithError(err).Error("Failed to retrieve board")
		return nil, err
	}

	board.Shapes = []core.Shape{}
	if len(rawShapes) > 0 {
		if err := json.Unmarshal(rawShapes, &board.Shapes); err != nil {
			logrus.WithField("board_id", id).WithError(err).Error("Failed to decode stored shapes")
			return nil, err
		}
	}
	return &board, nil
}

func (s *sqliteStore) Delete(ctx context.Context, ownerID, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM boards WHERE id = ? AND owner_id = ?", id, ownerID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return core.ErrBoardNotFound
	}
	return nil
}

func (s *sqliteStore) OverwriteShapes(ctx context.Context, id string, shapes []core.Shape) error {
	data, err := json.Marshal(shapes)
	if err != nil {
		return err
	}
	// Zero rows affected means the board is gone; a late debounced
	// write against a deleted board is a no-op.
	_, err = s.db.ExecContext(ctx,
		"UPDATE boards SET shapes = ?, updated_at = ? WHERE id = ?", data, time.Now(), id)
	return err
}

func (s *sqliteStore) SetName(ctx context.Context, id, name string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE boards SET name = ?, updated_at = ? WHERE id = ?", name, time.Now(), id)
	return err
}

func (s *sqliteStore) SetDescription(ctx context.Context, id, description string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE boards SET description = ?, updated_at = ? WHERE id = ?", description, time.Now(), id)
	return err
}

// ExportStore implementation.
func (s *sqliteStore) CreateExport(ctx context.Context, export *core.Export) (string, error) {
	id := ulid.Make().String()
	_, err := s.db.ExecContext(ctx, "INSERT INTO exports (id, data) VALUES (?, ?)", id, export.Data)
	if err != nil {
		logrus.WithField("export_id", id).WithError(err).Error("Failed to create export")
		return "", err
	}
	return id, nil
}

func (s *sqliteStore) FindID(ctx context.Context, id string) (*core.Export, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM exports WHERE id = ?", id).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrExportNotFound
		}
		return nil, err
	}
	return &core.Export{Data: data}, nil
}
