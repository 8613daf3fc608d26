package boards

import (
	"encoding/json"
	"errors"
	"net/http"

	"drawdeck/core"
	"drawdeck/handlers/auth"
	"drawdeck/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type (
	BoardCreateRequest struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}

	BoardUpdateRequest struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
	}

	ShapesOverwriteRequest struct {
		Shapes []map[string]any `json:"shapes"`
	}

	// RoomNotifier pushes CRUD-side changes into the live sync layer,
	// so connected peers are not left with stale state. Satisfied by
	// the realtime engine.
	RoomNotifier interface {
		CloseBoard(boardID string)
		RenameBoard(boardID, name string)
	}
)

func claimsFromContext(w http.ResponseWriter, r *http.Request) (*auth.AppClaims, bool) {
	claims, ok := r.Context().Value(middleware.ClaimsContextKey).(*auth.AppClaims)
	if !ok {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, map[string]string{"error": "User claims not found"})
		return nil, false
	}
	return claims, true
}

// ownedBoard loads the board and enforces ownership. Boards owned by
// someone else read as not found, so existence is not leaked.
func ownedBoard(w http.ResponseWriter, r *http.Request, store core.BoardStore, ownerID string) (*core.Board, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, map[string]string{"error": "Board id is required"})
		return nil, false
	}

	board, err := store.Get(r.Context(), id)
	if err != nil || board.OwnerID != ownerID {
		if err != nil && !errors.Is(err, core.ErrBoardNotFound) {
			logrus.WithFields(logrus.Fields{"board_id": id, "owner_id": ownerID}).
				WithError(err).Error("Failed to load board")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to load board"})
			return nil, false
		}
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, map[string]string{"error": "Board not found"})
		return nil, false
	}
	return board, true
}

func HandleCreate(store core.BoardStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFromContext(w, r)
		if !ok {
			return
		}

		var req BoardCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}

		name, err := core.ValidateBoardName(req.Name)
		if err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": err.Error()})
			return
		}
		description, err := core.ValidateBoardDescription(req.Description)
		if err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": err.Error()})
			return
		}

		board := &core.Board{
			ID:          ulid.Make().String(),
			OwnerID:     claims.Subject,
			Name:        name,
			Description: description,
			Shapes:      []core.Shape{},
		}
		if err := store.Create(r.Context(), board); err != nil {
			logrus.WithField("owner_id", claims.Subject).WithError(err).Error("Failed to create board")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to create board"})
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, board)
	}
}

func HandleList(store core.BoardStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFromContext(w, r)
		if !ok {
			return
		}

		boards, err := store.List(r.Context(), claims.Subject)
		if err != nil {
			logrus.WithField("owner_id", claims.Subject).WithError(err).Error("Failed to list boards")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to list boards"})
			return
		}
		if boards == nil {
			boards = []*core.Board{}
		}
		render.JSON(w, r, boards)
	}
}

func HandleGet(store core.BoardStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFromContext(w, r)
		if !ok {
			return
		}
		board, ok := ownedBoard(w, r, store, claims.Subject)
		if !ok {
			return
		}
		render.JSON(w, r, board)
	}
}

func HandleUpdate(store core.BoardStore, rooms RoomNotifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFromContext(w, r)
		if !ok {
			return
		}
		board, ok := ownedBoard(w, r, store, claims.Subject)
		if !ok {
			return
		}

		var req BoardUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}

		if req.Name != nil {
			name, err := core.ValidateBoardName(*req.Name)
			if err != nil {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, map[string]string{"error": err.Error()})
				return
			}
			if err := store.SetName(r.Context(), board.ID, name); err != nil {
				logrus.WithField("board_id", board.ID).WithError(err).Error("Failed to rename board")
				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, map[string]string{"error": "Failed to rename board"})
				return
			}
			board.Name = name
			if rooms != nil {
				rooms.RenameBoard(board.ID, name)
			}
		}

		if req.Description != nil {
			description, err := core.ValidateBoardDescription(*req.Description)
			if err != nil {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, map[string]string{"error": err.Error()})
				return
			}
			if err := store.SetDescription(r.Context(), board.ID, description); err != nil {
				logrus.WithField("board_id", board.ID).WithError(err).Error("Failed to update board description")
				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, map[string]string{"error": "Failed to update board"})
				return
			}
			board.Description = description
		}

		render.JSON(w, r, board)
	}
}

func HandleOverwriteShapes(store core.BoardStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFromContext(w, r)
		if !ok {
			return
		}
		board, ok := ownedBoard(w, r, store, claims.Subject)
		if !ok {
			return
		}

		var req ShapesOverwriteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}

		shapes := make([]core.Shape, 0, len(req.Shapes))
		for _, payload := range req.Shapes {
			shape, err := core.ShapeFromPayload(payload)
			if err != nil {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, map[string]string{"error": err.Error()})
				return
			}
			shapes = append(shapes, shape)
		}

		if err := store.OverwriteShapes(r.Context(), board.ID, shapes); err != nil {
			logrus.WithField("board_id", board.ID).WithError(err).Error("Failed to overwrite shapes")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to overwrite shapes"})
			return
		}
		render.Status(r, http.StatusOK)
		render.JSON(w, r, map[string]int{"shapes": len(shapes)})
	}
}

func HandleDelete(store core.BoardStore, rooms RoomNotifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFromContext(w, r)
		if !ok {
			return
		}
		board, ok := ownedBoard(w, r, store, claims.Subject)
		if !ok {
			return
		}

		if err := store.Delete(r.Context(), claims.Subject, board.ID); err != nil {
			logrus.WithField("board_id", board.ID).WithError(err).Error("Failed to delete board")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to delete board"})
			return
		}

		// Deleting the board invalidates any in-progress sync session.
		if rooms != nil {
			rooms.CloseBoard(board.ID)
		}
		render.Status(r, http.StatusOK)
		render.JSON(w, r, map[string]string{"status": "deleted"})
	}
}
