// Package file implements the file registry: uploads admitted against the
// owner's plan, metadata reads through the file cache, rename, delete and
// download.
package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/maneesh/quotadrive/internal/apperr"
	"github.com/maneesh/quotadrive/internal/logger"
	"github.com/maneesh/quotadrive/internal/metrics"
	"github.com/maneesh/quotadrive/internal/models"
	"github.com/maneesh/quotadrive/internal/quota"
	"github.com/maneesh/quotadrive/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("quotadrive-file")

var (
	errFileNotFound    = apperr.NotFound("File not found!")
	errNoFileAccess    = apperr.Forbidden("You do not have access to this file!")
	errFolderNotFound  = apperr.NotFound("Folder not found!")
	errNoFolderAccess  = apperr.Forbidden("You do not have access to this folder!")
	errPayloadMissing  = apperr.NotFound("Physical file not found on server!")
	errInvalidName     = apperr.BadRequest("File name must be between 1 and 255 characters.")
	errMissingFolderID = apperr.BadRequest("folderId is required.")
	errMissingPayload  = apperr.BadRequest("No file uploaded. Please attach a file.")
)

// Upload is an incoming file payload
type Upload struct {
	Name     string
	MIMEType string
	Size     int64
	Body     io.Reader
}

// Registry serves file operations for authenticated users
type Registry struct {
	store storage.Store
	bytes storage.ByteStore
	cache storage.FileCache
	now   func() time.Time
}

// NewRegistry creates a Registry. cache may be nil.
func NewRegistry(store storage.Store, bytes storage.ByteStore, cache storage.FileCache) *Registry {
	return &Registry{
		store: store,
		bytes: bytes,
		cache: cache,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *Registry) start(ctx context.Context, name, userID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("user_id", userID))
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.MessageOf(err))
	}
	span.End()
}

func ownedFile(ctx context.Context, q storage.Queries, userID, fileID string) (*models.File, error) {
	file, err := q.GetFile(ctx, fileID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errFileNotFound
	}
	if err != nil {
		return nil, apperr.Wrap(err, "load file")
	}
	if file.UserID != userID {
		return nil, errNoFileAccess
	}
	return file, nil
}

// Upload stores a payload in folderID. The subscription gate runs before any
// bytes are staged. The admission checks then run in the transaction that
// inserts the metadata, and a rejected upload has its staged payload erased.
func (r *Registry) Upload(ctx context.Context, userID, folderID string, in Upload) (uploaded *models.File, err error) {
	ctx, span := r.start(ctx, "file.upload", userID,
		attribute.String("folder_id", folderID),
		attribute.Int64("size_bytes", in.Size),
	)
	defer func() { finish(span, err) }()

	if _, err := quota.ActivePackage(ctx, r.store, userID); err != nil {
		return nil, err
	}

	switch {
	case in.Body == nil || in.Size < 0:
		return nil, errMissingPayload
	case folderID == "":
		return nil, errMissingFolderID
	case !models.ValidName(in.Name):
		return nil, errInvalidName
	}

	key := storageKey(userID, in.Name)
	handle, err := r.bytes.Stage(ctx, key, in.Body, in.Size, in.MIMEType)
	if err != nil {
		return nil, apperr.Wrap(err, "stage upload")
	}

	sizeMB := quota.SizeMB(in.Size)
	err = r.store.WithTx(ctx, func(q storage.Queries) error {
		if err := q.LockUser(ctx, userID); err != nil {
			return apperr.Wrap(err, "lock user")
		}

		pkg, err := quota.ActivePackage(ctx, q, userID)
		if err != nil {
			return err
		}

		fileType, err := quota.CheckFileType(pkg, in.MIMEType)
		if err != nil {
			return err
		}
		if err := quota.CheckFileSize(pkg, sizeMB); err != nil {
			return err
		}

		total, err := q.CountFiles(ctx, userID)
		if err != nil {
			return apperr.Wrap(err, "count files")
		}
		if err := quota.CheckTotalFiles(pkg, total); err != nil {
			return err
		}

		inFolder, err := q.CountFolderFiles(ctx, folderID)
		if err != nil {
			return apperr.Wrap(err, "count folder files")
		}
		if err := quota.CheckFolderFiles(pkg, inFolder); err != nil {
			return err
		}

		folder, err := q.GetFolder(ctx, folderID)
		if errors.Is(err, storage.ErrNotFound) {
			return errFolderNotFound
		}
		if err != nil {
			return apperr.Wrap(err, "load folder")
		}
		if folder.UserID != userID {
			return errNoFolderAccess
		}

		now := r.now()
		file := &models.File{
			ID:           uuid.New().String(),
			UserID:       userID,
			FolderID:     folderID,
			Name:         in.Name,
			OriginalName: in.Name,
			FileType:     fileType,
			MIMEType:     in.MIMEType,
			SizeMB:       math.Round(sizeMB*1e4) / 1e4,
			StorageKey:   handle.Key,
			StorageURL:   handle.URL,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := q.CreateFile(ctx, file); err != nil {
			return apperr.Wrap(err, "create file")
		}
		uploaded = file
		return nil
	})
	if err != nil {
		r.discard(ctx, handle.Key)
		return nil, err
	}

	logger.Log.Info().
		Str("user_id", userID).
		Str("file_id", uploaded.ID).
		Str("folder_id", folderID).
		Float64("size_mb", uploaded.SizeMB).
		Msg("file uploaded")

	return uploaded, nil
}

// discard erases a staged payload whose upload was rejected
func (r *Registry) discard(ctx context.Context, key string) {
	if err := r.bytes.Erase(context.WithoutCancel(ctx), key); err != nil {
		logger.Log.Error().Err(err).Str("storage_key", key).Msg("failed to erase staged payload")
		return
	}
	metrics.StagedPayloadsErased.Inc()
}

func storageKey(userID, name string) string {
	return fmt.Sprintf("%s/%s%s", userID, uuid.New().String(), strings.ToLower(filepath.Ext(name)))
}

// GetByID returns a file with its folder reference. Metadata is read through
// the cache; ownership is checked on every call.
func (r *Registry) GetByID(ctx context.Context, userID, fileID string) (file *models.File, err error) {
	ctx, span := r.start(ctx, "file.get", userID, attribute.String("file_id", fileID))
	defer func() { finish(span, err) }()

	if r.cache != nil {
		cached, cerr := r.cache.Get(ctx, fileID)
		if cerr != nil {
			logger.Log.Warn().Err(cerr).Str("file_id", fileID).Msg("file cache read failed")
		}
		if cached != nil {
			metrics.CacheHits.Inc()
			if cached.UserID != userID {
				return nil, errNoFileAccess
			}
			return cached, nil
		}
		metrics.CacheMisses.Inc()
	}

	file, err = ownedFile(ctx, r.store, userID, fileID)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if cerr := r.cache.Set(ctx, file); cerr != nil {
			logger.Log.Warn().Err(cerr).Str("file_id", fileID).Msg("file cache write failed")
		}
	}
	return file, nil
}

// Rename changes a file's display name. File names need not be unique.
func (r *Registry) Rename(ctx context.Context, userID, fileID, name string) (renamed *models.File, err error) {
	ctx, span := r.start(ctx, "file.rename", userID, attribute.String("file_id", fileID))
	defer func() { finish(span, err) }()

	if !models.ValidName(name) {
		return nil, errInvalidName
	}

	err = r.store.WithTx(ctx, func(q storage.Queries) error {
		file, err := ownedFile(ctx, q, userID, fileID)
		if err != nil {
			return err
		}
		file.Name = name
		file.UpdatedAt = r.now()
		if err := q.RenameFile(ctx, file.ID, file.Name, file.UpdatedAt); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return errFileNotFound
			}
			return apperr.Wrap(err, "rename file")
		}
		renamed = file
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.invalidate(ctx, fileID)

	logger.Log.Info().Str("user_id", userID).Str("file_id", fileID).Msg("file renamed")
	return renamed, nil
}

// Delete removes the metadata, then the payload. A payload that is already
// gone or cannot be erased does not fail the delete.
func (r *Registry) Delete(ctx context.Context, userID, fileID string) (result *models.FileDeletion, err error) {
	ctx, span := r.start(ctx, "file.delete", userID, attribute.String("file_id", fileID))
	defer func() { finish(span, err) }()

	file, err := ownedFile(ctx, r.store, userID, fileID)
	if err != nil {
		return nil, err
	}

	if err := r.store.DeleteFile(ctx, file.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errFileNotFound
		}
		return nil, apperr.Wrap(err, "delete file")
	}

	r.invalidate(ctx, fileID)

	// the row is gone; an erase failure only orphans the object
	if err := r.bytes.Erase(context.WithoutCancel(ctx), file.StorageKey); err != nil {
		logger.Log.Warn().Err(err).Str("file_id", fileID).Str("storage_key", file.StorageKey).Msg("failed to erase payload of deleted file")
	}

	logger.Log.Info().Str("user_id", userID).Str("file_id", fileID).Msg("file deleted")
	return &models.FileDeletion{Deleted: true, FileID: fileID}, nil
}

// Download locates a file's payload. Metadata whose payload is missing is
// reported as not found.
func (r *Registry) Download(ctx context.Context, userID, fileID string) (download *models.Download, err error) {
	ctx, span := r.start(ctx, "file.download", userID, attribute.String("file_id", fileID))
	defer func() { finish(span, err) }()

	file, err := ownedFile(ctx, r.store, userID, fileID)
	if err != nil {
		return nil, err
	}

	exists, err := r.bytes.Exists(ctx, file.StorageKey)
	if err != nil {
		return nil, apperr.Wrap(err, "check payload")
	}
	if !exists {
		logger.Log.Warn().Str("file_id", fileID).Str("storage_key", file.StorageKey).Msg("metadata without payload")
		return nil, errPayloadMissing
	}

	return &models.Download{
		StorageKey:   file.StorageKey,
		OriginalName: file.OriginalName,
		MIMEType:     file.MIMEType,
	}, nil
}

// Open streams the payload of a download. The caller closes the reader.
func (r *Registry) Open(ctx context.Context, download *models.Download) (io.ReadCloser, error) {
	body, err := r.bytes.Open(ctx, download.StorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errPayloadMissing
	}
	if err != nil {
		return nil, apperr.Wrap(err, "open payload")
	}
	return body, nil
}

func (r *Registry) invalidate(ctx context.Context, fileIDs ...string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Invalidate(ctx, fileIDs...); err != nil {
		logger.Log.Warn().Err(err).Strs("file_ids", fileIDs).Msg("failed to invalidate cached files")
	}
}
