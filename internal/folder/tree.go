// Package folder implements the per-user folder tree: listing, creation under
// plan limits, rename and subtree deletion.
package folder

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/maneesh/quotadrive/internal/apperr"
	"github.com/maneesh/quotadrive/internal/logger"
	"github.com/maneesh/quotadrive/internal/models"
	"github.com/maneesh/quotadrive/internal/quota"
	"github.com/maneesh/quotadrive/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("quotadrive-folder")

var (
	errFolderNotFound = apperr.NotFound("Folder not found!")
	errParentNotFound = apperr.NotFound("Parent folder not found!")
	errNoAccess       = apperr.Forbidden("You do not have access to this folder!")
	errDuplicateName  = apperr.Conflict("A folder with this name already exists here!")
	errInvalidName    = apperr.BadRequest("Folder name must be between 1 and 255 characters.")
)

// Tree serves folder operations for authenticated users
type Tree struct {
	store storage.Store
	bytes storage.ByteStore
	cache storage.FileCache
	now   func() time.Time
}

// NewTree creates a Tree. bytes holds the payloads of files removed by Delete;
// bytes and cache may be nil.
func NewTree(store storage.Store, bytes storage.ByteStore, cache storage.FileCache) *Tree {
	return &Tree{
		store: store,
		bytes: bytes,
		cache: cache,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (t *Tree) start(ctx context.Context, name, userID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attribute.String("user_id", userID)))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.MessageOf(err))
	}
	span.End()
}

// owned loads a folder and checks it belongs to userID
func owned(ctx context.Context, q storage.Queries, userID, folderID string, notFound error) (*models.Folder, error) {
	folder, err := q.GetFolder(ctx, folderID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, notFound
	}
	if err != nil {
		return nil, apperr.Wrap(err, "load folder")
	}
	if folder.UserID != userID {
		return nil, errNoAccess
	}
	return folder, nil
}

// ListRoots returns the user's top-level folders in creation order with their
// child counts.
func (t *Tree) ListRoots(ctx context.Context, userID string) (folders []*models.Folder, err error) {
	ctx, span := t.start(ctx, "folder.list_roots", userID)
	defer func() { finish(span, err) }()

	folders, err = t.store.ListRootFolders(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(err, "list root folders")
	}
	span.SetAttributes(attribute.Int("folder_count", len(folders)))
	return folders, nil
}

// Children is a shallow listing of one folder
func (t *Tree) Children(ctx context.Context, userID, folderID string) (contents *models.FolderContents, err error) {
	ctx, span := t.start(ctx, "folder.children", userID)
	defer func() { finish(span, err) }()

	folder, err := owned(ctx, t.store, userID, folderID, errFolderNotFound)
	if err != nil {
		return nil, err
	}

	subFolders, err := t.store.ListChildFolders(ctx, userID, folderID)
	if err != nil {
		return nil, apperr.Wrap(err, "list subfolders")
	}
	files, err := t.store.ListFolderFiles(ctx, userID, folderID)
	if err != nil {
		return nil, apperr.Wrap(err, "list folder files")
	}

	return &models.FolderContents{Folder: folder, SubFolders: subFolders, Files: files}, nil
}

// Create adds a folder under parentID, or at the root when parentID is nil
func (t *Tree) Create(ctx context.Context, userID, name string, parentID *string) (created *models.Folder, err error) {
	ctx, span := t.start(ctx, "folder.create", userID)
	defer func() { finish(span, err) }()

	if !models.ValidName(name) {
		return nil, errInvalidName
	}
	if parentID != nil && *parentID == "" {
		parentID = nil
	}

	err = t.store.WithTx(ctx, func(q storage.Queries) error {
		if err := q.LockUser(ctx, userID); err != nil {
			return apperr.Wrap(err, "lock user")
		}

		pkg, err := quota.ActivePackage(ctx, q, userID)
		if err != nil {
			return err
		}

		total, err := q.CountFolders(ctx, userID)
		if err != nil {
			return apperr.Wrap(err, "count folders")
		}
		if err := quota.CheckFolderCount(pkg, total); err != nil {
			return err
		}

		depth := 0
		if parentID != nil {
			parent, err := owned(ctx, q, userID, *parentID, errParentNotFound)
			if err != nil {
				return err
			}
			depth = parent.Depth + 1
			if err := quota.CheckNesting(pkg, depth); err != nil {
				return err
			}
		}

		dup, err := q.FindSiblingFolder(ctx, userID, parentID, name, "")
		if err != nil {
			return apperr.Wrap(err, "check sibling names")
		}
		if dup != nil {
			return errDuplicateName
		}

		now := t.now()
		folder := &models.Folder{
			ID:        uuid.New().String(),
			UserID:    userID,
			ParentID:  parentID,
			Name:      name,
			Depth:     depth,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := q.CreateFolder(ctx, folder); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				return errDuplicateName
			}
			return apperr.Wrap(err, "create folder")
		}
		created = folder
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info().
		Str("user_id", userID).
		Str("folder_id", created.ID).
		Int("depth", created.Depth).
		Msg("folder created")

	return created, nil
}

// Rename changes a folder's name. Only siblings other than the folder itself
// count as duplicates.
func (t *Tree) Rename(ctx context.Context, userID, folderID, name string) (renamed *models.Folder, err error) {
	ctx, span := t.start(ctx, "folder.rename", userID)
	defer func() { finish(span, err) }()

	if !models.ValidName(name) {
		return nil, errInvalidName
	}

	var fileIDs []string
	err = t.store.WithTx(ctx, func(q storage.Queries) error {
		if err := q.LockUser(ctx, userID); err != nil {
			return apperr.Wrap(err, "lock user")
		}

		folder, err := owned(ctx, q, userID, folderID, errFolderNotFound)
		if err != nil {
			return err
		}

		dup, err := q.FindSiblingFolder(ctx, userID, folder.ParentID, name, folder.ID)
		if err != nil {
			return apperr.Wrap(err, "check sibling names")
		}
		if dup != nil {
			return errDuplicateName
		}

		folder.Name = name
		folder.UpdatedAt = t.now()
		if err := q.RenameFolder(ctx, folder.ID, folder.Name, folder.UpdatedAt); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				return errDuplicateName
			}
			return apperr.Wrap(err, "rename folder")
		}

		// cached files carry the folder name
		fileIDs, err = q.ListFileIDsInFolders(ctx, []string{folder.ID})
		if err != nil {
			return apperr.Wrap(err, "list folder files")
		}

		renamed = folder
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.invalidate(ctx, fileIDs)

	logger.Log.Info().
		Str("user_id", userID).
		Str("folder_id", folderID).
		Msg("folder renamed")

	return renamed, nil
}

// Delete removes a folder, every descendant folder and all their files in one
// transaction. The files' payloads are erased once the transaction commits.
func (t *Tree) Delete(ctx context.Context, userID, folderID string) (result *models.FolderDeletion, err error) {
	ctx, span := t.start(ctx, "folder.delete", userID)
	defer func() { finish(span, err) }()

	var folderIDs, fileIDs, storageKeys []string
	err = t.store.WithTx(ctx, func(q storage.Queries) error {
		if err := q.LockUser(ctx, userID); err != nil {
			return apperr.Wrap(err, "lock user")
		}

		if _, err := owned(ctx, q, userID, folderID, errFolderNotFound); err != nil {
			return err
		}

		subtree, err := collectSubtree(ctx, q, folderID)
		if err != nil {
			return apperr.Wrap(err, "collect descendant folders")
		}

		files, err := q.ListFileIDsInFolders(ctx, subtree)
		if err != nil {
			return apperr.Wrap(err, "list subtree files")
		}
		keys, err := q.ListFileKeysInFolders(ctx, subtree)
		if err != nil {
			return apperr.Wrap(err, "list subtree payloads")
		}
		folderIDs, fileIDs, storageKeys = subtree, files, keys

		if _, err := q.DeleteFilesInFolders(ctx, folderIDs); err != nil {
			return apperr.Wrap(err, "delete subtree files")
		}

		// deepest first, the target last
		for i := len(folderIDs) - 1; i >= 0; i-- {
			if err := q.DeleteFolder(ctx, folderIDs[i]); err != nil {
				return apperr.Wrap(err, "delete folder")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.invalidate(ctx, fileIDs)
	erased := t.erase(ctx, storageKeys)

	span.SetAttributes(
		attribute.Int("folder_count", len(folderIDs)),
		attribute.Int("file_count", len(fileIDs)),
		attribute.Int("payloads_erased", erased),
	)
	logger.Log.Info().
		Str("user_id", userID).
		Str("folder_id", folderID).
		Int("folders_deleted", len(folderIDs)).
		Int("files_deleted", len(fileIDs)).
		Msg("folder deleted")

	return &models.FolderDeletion{Deleted: true, FolderID: folderID}, nil
}

// erase removes the payloads of deleted files. The rows are already gone, so a
// failure leaves an orphaned object and is only logged.
func (t *Tree) erase(ctx context.Context, keys []string) int {
	if t.bytes == nil {
		return 0
	}
	ctx = context.WithoutCancel(ctx)
	erased := 0
	for _, key := range keys {
		if err := t.bytes.Erase(ctx, key); err != nil {
			logger.Log.Warn().Err(err).Str("storage_key", key).Msg("failed to erase payload of deleted file")
			continue
		}
		erased++
	}
	return erased
}

// collectSubtree returns rootID followed by every descendant in breadth-first
// discovery order, so a parent always precedes its children. It walks an
// explicit worklist, so depth is bounded by memory rather than the stack.
func collectSubtree(ctx context.Context, q storage.Queries, rootID string) ([]string, error) {
	ids := []string{rootID}
	seen := map[string]bool{rootID: true}

	for i := 0; i < len(ids); i++ {
		children, err := q.ListChildFolderIDs(ctx, ids[i])
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			if seen[child] {
				continue
			}
			seen[child] = true
			ids = append(ids, child)
		}
	}
	return ids, nil
}

func (t *Tree) invalidate(ctx context.Context, fileIDs []string) {
	if t.cache == nil || len(fileIDs) == 0 {
		return
	}
	if err := t.cache.Invalidate(ctx, fileIDs...); err != nil {
		logger.Log.Warn().Err(err).Int("file_count", len(fileIDs)).Msg("failed to invalidate cached files")
	}
}
