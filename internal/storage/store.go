package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/maneesh/quotadrive/internal/models"
)

var (
	// ErrNotFound is returned when a row or object does not exist
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique constraint rejects a write
	ErrDuplicate = errors.New("duplicate record")
	// ErrReferenced is returned when a row cannot be deleted because others point at it
	ErrReferenced = errors.New("record is still referenced")
)

// Queries are the per-entity reads and writes of the metadata store. The same
// set is available on the store itself and inside a transaction.
type Queries interface {
	// LockUser takes an exclusive per-user lock held until the surrounding
	// transaction ends. Outside a transaction it is a no-op.
	LockUser(ctx context.Context, userID string) error

	// Folders
	GetFolder(ctx context.Context, id string) (*models.Folder, error)
	ListRootFolders(ctx context.Context, userID string) ([]*models.Folder, error)
	ListChildFolders(ctx context.Context, userID, parentID string) ([]*models.Folder, error)
	ListChildFolderIDs(ctx context.Context, parentID string) ([]string, error)
	FindSiblingFolder(ctx context.Context, userID string, parentID *string, name, excludeID string) (*models.Folder, error)
	CountFolders(ctx context.Context, userID string) (int, error)
	CreateFolder(ctx context.Context, folder *models.Folder) error
	RenameFolder(ctx context.Context, id, name string, updatedAt time.Time) error
	DeleteFolder(ctx context.Context, id string) error

	// Files
	GetFile(ctx context.Context, id string) (*models.File, error)
	ListFolderFiles(ctx context.Context, userID, folderID string) ([]*models.File, error)
	ListFileIDsInFolders(ctx context.Context, folderIDs []string) ([]string, error)
	ListFileKeysInFolders(ctx context.Context, folderIDs []string) ([]string, error)
	CountFiles(ctx context.Context, userID string) (int, error)
	CountFolderFiles(ctx context.Context, folderID string) (int, error)
	CreateFile(ctx context.Context, file *models.File) error
	RenameFile(ctx context.Context, id, name string, updatedAt time.Time) error
	DeleteFile(ctx context.Context, id string) error
	DeleteFilesInFolders(ctx context.Context, folderIDs []string) (int64, error)

	// Packages
	GetPackage(ctx context.Context, id string) (*models.Package, error)
	ListPackages(ctx context.Context) ([]*models.Package, error)
	CreatePackage(ctx context.Context, pkg *models.Package) error
	UpdatePackage(ctx context.Context, pkg *models.Package) error
	DeletePackage(ctx context.Context, id string) error

	// Subscriptions
	GetActiveSubscription(ctx context.Context, userID string) (*models.Subscription, error)
	ListSubscriptions(ctx context.Context, userID string) ([]*models.Subscription, error)
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	DeactivateSubscription(ctx context.Context, id string, endDate time.Time) error
}

// Store is the transactional metadata store
type Store interface {
	Queries

	// WithTx runs fn in a transaction. It commits when fn returns nil and
	// rolls back otherwise; the error from fn is returned unchanged.
	WithTx(ctx context.Context, fn func(q Queries) error) error

	Close() error
}

// Handle locates a staged payload in the byte store
type Handle struct {
	Key string
	URL string
}

// ByteStore holds file payloads. Keys are opaque to callers.
type ByteStore interface {
	Stage(ctx context.Context, key string, body io.Reader, size int64, contentType string) (Handle, error)
	// Erase removes a payload. Erasing a missing key is not an error.
	Erase(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// FileCache is a read-through cache of file metadata keyed by file id
type FileCache interface {
	// Get returns nil, nil on a miss
	Get(ctx context.Context, fileID string) (*models.File, error)
	Set(ctx context.Context, file *models.File) error
	Invalidate(ctx context.Context, fileIDs ...string) error
}
