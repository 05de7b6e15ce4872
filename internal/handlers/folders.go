package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/maneesh/quotadrive/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// FolderService is the folder tree as seen by the request layer
type FolderService interface {
	ListRoots(ctx context.Context, userID string) ([]*models.Folder, error)
	Children(ctx context.Context, userID, folderID string) (*models.FolderContents, error)
	Create(ctx context.Context, userID, name string, parentID *string) (*models.Folder, error)
	Rename(ctx context.Context, userID, folderID, name string) (*models.Folder, error)
	Delete(ctx context.Context, userID, folderID string) (*models.FolderDeletion, error)
}

// FolderHandler serves /folders
type FolderHandler struct {
	folders FolderService
}

func NewFolderHandler(folders FolderService) *FolderHandler {
	return &FolderHandler{folders: folders}
}

type createFolderRequest struct {
	Name     string  `json:"name"`
	ParentID *string `json:"parentId"`
}

type renameRequest struct {
	Name string `json:"name"`
}

// List handles GET /folders
func (fh *FolderHandler) List(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	folders, err := fh.folders.ListRoots(r.Context(), uid)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "Root folders retrieved successfully!", folders)
}

// Children handles GET /folders/{id}/children
func (fh *FolderHandler) Children(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	folderID := mux.Vars(r)["id"]
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("folder_id", folderID))

	contents, err := fh.folders.Children(r.Context(), uid, folderID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "Folder contents retrieved successfully!", contents)
}

// Create handles POST /folders
func (fh *FolderHandler) Create(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var req createFolderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	folder, err := fh.folders.Create(r.Context(), uid, req.Name, req.ParentID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, "Folder created successfully!", folder)
}

// Rename handles PATCH /folders/{id}
func (fh *FolderHandler) Rename(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	folderID := mux.Vars(r)["id"]
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("folder_id", folderID))

	var req renameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	folder, err := fh.folders.Rename(r.Context(), uid, folderID, req.Name)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "Folder renamed successfully!", folder)
}

// Delete handles DELETE /folders/{id}
func (fh *FolderHandler) Delete(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	folderID := mux.Vars(r)["id"]
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("folder_id", folderID))

	result, err := fh.folders.Delete(r.Context(), uid, folderID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "Folder deleted successfully!", result)
}
