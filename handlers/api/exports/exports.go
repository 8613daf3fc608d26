package exports

import (
	"errors"
	"io"
	"net/http"

	"drawdeck/core"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type ExportCreateResponse struct {
	ID string `json:"id"`
}

// HandleCreate stores an anonymous, frozen board export and returns
// its share id.
func HandleCreate(store core.ExportStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			logrus.WithError(err).Error("Failed to read export body")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to read request body"})
			return
		}
		defer r.Body.Close()

		if len(data) == 0 {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Export body is empty"})
			return
		}

		id, err := store.CreateExport(r.Context(), &core.Export{Data: data})
		if err != nil {
			logrus.WithError(err).Error("Failed to create export")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to create export"})
			return
		}

		render.JSON(w, r, ExportCreateResponse{ID: id})
	}
}

// HandleGet returns a previously shared export by id.
func HandleGet(store core.ExportStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		export, err := store.FindID(r.Context(), id)
		if err != nil {
			if !errors.Is(err, core.ErrExportNotFound) {
				logrus.WithField("export_id", id).WithError(err).Error("Failed to load export")
			}
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, map[string]string{"error": "Export not found"})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(export.Data)
	}
}
