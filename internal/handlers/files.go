package handlers

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/maneesh/quotadrive/internal/apperr"
	"github.com/maneesh/quotadrive/internal/file"
	"github.com/maneesh/quotadrive/internal/models"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// multipart parts above this size spill to temporary files
const multipartMemory = 32 << 20

var errNoUpload = apperr.BadRequest("No file uploaded. Please attach a file.")

// FileService is the file registry as seen by the request layer
type FileService interface {
	Upload(ctx context.Context, userID, folderID string, in file.Upload) (*models.File, error)
	GetByID(ctx context.Context, userID, fileID string) (*models.File, error)
	Rename(ctx context.Context, userID, fileID, name string) (*models.File, error)
	Delete(ctx context.Context, userID, fileID string) (*models.FileDeletion, error)
	Download(ctx context.Context, userID, fileID string) (*models.Download, error)
	Open(ctx context.Context, download *models.Download) (io.ReadCloser, error)
}

// FileHandler serves /files
type FileHandler struct {
	files          FileService
	maxUploadBytes int64
}

func NewFileHandler(files FileService, maxUploadBytes int64) *FileHandler {
	return &FileHandler{files: files, maxUploadBytes: maxUploadBytes}
}

// Upload handles POST /files/upload with a multipart "file" part and a
// "folderId" field.
func (fh *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	errTooLarge := apperr.BadRequestf("Upload exceeds the limit of %d MB.", fh.maxUploadBytes>>20)
	if r.ContentLength > fh.maxUploadBytes {
		respondError(w, r, errTooLarge)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, fh.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, errTooLarge)
			return
		}
		respondError(w, r, errNoUpload)
		return
	}
	defer r.MultipartForm.RemoveAll()

	part, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, errNoUpload)
		return
	}
	defer part.Close()

	folderID := r.FormValue("folderId")
	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("folder_id", folderID),
		attribute.String("file_name", header.Filename),
		attribute.Int64("file_size", header.Size),
	)

	uploaded, err := fh.files.Upload(r.Context(), uid, folderID, file.Upload{
		Name:     header.Filename,
		MIMEType: header.Header.Get("Content-Type"),
		Size:     header.Size,
		Body:     part,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, "File uploaded successfully!", uploaded)
}

// Get handles GET /files/{id}
func (fh *FileHandler) Get(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	fileID := mux.Vars(r)["id"]
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("file_id", fileID))

	found, err := fh.files.GetByID(r.Context(), uid, fileID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "File retrieved successfully!", found)
}

// Rename handles PATCH /files/{id}
func (fh *FileHandler) Rename(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	fileID := mux.Vars(r)["id"]
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("file_id", fileID))

	var req renameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	renamed, err := fh.files.Rename(r.Context(), uid, fileID, req.Name)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "File renamed successfully!", renamed)
}

// Delete handles DELETE /files/{id}
func (fh *FileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	fileID := mux.Vars(r)["id"]
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("file_id", fileID))

	result, err := fh.files.Delete(r.Context(), uid, fileID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "File deleted successfully!", result)
}

// Download handles GET /files/{id}/download and streams the payload
func (fh *FileHandler) Download(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	fileID := mux.Vars(r)["id"]
	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("file_id", fileID))

	download, err := fh.files.Download(r.Context(), uid, fileID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	body, err := fh.files.Open(r.Context(), download)
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer body.Close()

	contentType := download.MIMEType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": download.OriginalName}))
	w.WriteHeader(http.StatusOK)

	written, err := io.Copy(w, body)
	span.SetAttributes(attribute.Int64("bytes_sent", written))
	if err != nil {
		span.RecordError(err)
		zerolog.Ctx(r.Context()).Warn().Err(err).Str("file_id", fileID).Msg("download interrupted")
	}
}
