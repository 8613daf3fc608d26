package core

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultBoardName is substituted when a rename intent arrives with an
// empty (after trimming) name.
const DefaultBoardName = "Untitled board"

const (
	MaxBoardNameLength        = 120
	MaxBoardDescriptionLength = 500
)

// ErrBoardNotFound is returned by stores when no board exists for the
// requested id (or it is owned by someone else).
var ErrBoardNotFound = errors.New("board not found")

// ErrExportNotFound is returned when no export exists for an id.
var ErrExportNotFound = errors.New("export not found")

type (
	// Board is one whiteboard document: metadata plus the ordered shape
	// list. Shape order is paint order; later entries draw on top.
	Board struct {
		ID          string    `json:"id"`
		OwnerID     string    `json:"-"` // Subject from the auth claims, never exposed.
		Name        string    `json:"name"`
		Description string    `json:"description,omitempty"`
		Shapes      []Shape   `json:"shapes"`
		CreatedAt   time.Time `json:"createdAt"`
		UpdatedAt   time.Time `json:"updatedAt"`
	}

	// BoardStore is the persistence layer for boards. Get and the
	// field-level writers are id-keyed because the sync engine only
	// knows board ids; List and Delete are owner-scoped for the CRUD
	// surface. OverwriteShapes, SetName and SetDescription against a
	// missing id are no-ops: a debounced write may land after its
	// board was deleted.
	BoardStore interface {
		Create(ctx context.Context, board *Board) error
		List(ctx context.Context, ownerID string) ([]*Board, error)
		Get(ctx context.Context, id string) (*Board, error)
		Delete(ctx context.Context, ownerID, id string) error
		OverwriteShapes(ctx context.Context, id string, shapes []Shape) error
		SetName(ctx context.Context, id, name string) error
		SetDescription(ctx context.Context, id, description string) error
	}

	// Export is a frozen, anonymously shareable copy of a board's
	// content, stored as an opaque blob.
	Export struct {
		Data []byte
	}

	// ExportStore persists anonymous exports.
	ExportStore interface {
		CreateExport(ctx context.Context, export *Export) (string, error)
		FindID(ctx context.Context, id string) (*Export, error)
	}
)

// NormalizeBoardName trims the name, substitutes the default for an
// empty result and truncates to the maximum length. Used on the sync
// path, where a fixable name must not cause the intent to be dropped.
func NormalizeBoardName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultBoardName
	}
	if utf8.RuneCountInString(name) > MaxBoardNameLength {
		runes := []rune(name)
		name = string(runes[:MaxBoardNameLength])
	}
	return name
}

// ValidateBoardName enforces the strict CRUD-side rules: trimmed,
// non-empty, at most MaxBoardNameLength runes.
func ValidateBoardName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("board name is required")
	}
	if utf8.RuneCountInString(name) > MaxBoardNameLength {
		return "", errors.New("board name is too long")
	}
	return name, nil
}

// ValidateBoardDescription enforces the description length limit.
func ValidateBoardDescription(description string) (string, error) {
	if utf8.RuneCountInString(description) > MaxBoardDescriptionLength {
		return "", errors.New("board description is too long")
	}
	return description, nil
}
