package file

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/maneesh/quotadrive/internal/apperr"
	"github.com/maneesh/quotadrive/internal/models"
	"github.com/maneesh/quotadrive/internal/storage"
	"github.com/maneesh/quotadrive/internal/storage/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice = "user-alice"
	bob   = "user-bob"
)

type fixture struct {
	registry *Registry
	store    *memstore.Store
	blobs    *memstore.Blobs
	cache    *storage.LRUCache
	folderID string
}

func silverPackage() *models.Package {
	return &models.Package{
		ID:               "pkg-silver",
		Name:             models.TierSilver,
		Price:            9.99,
		MaxFolders:       10,
		MaxNestingLevel:  3,
		AllowedFileTypes: []models.FileType{models.FileTypeImage, models.FileTypePDF},
		MaxFileSizeMB:    5,
		TotalFileLimit:   20,
		FilesPerFolder:   5,
		IsActive:         true,
	}
}

func newFixture(t *testing.T, pkg *models.Package) *fixture {
	t.Helper()
	ctx := context.Background()

	store := memstore.New()
	blobs := memstore.NewBlobs()
	cache := storage.NewLRUCache(100, time.Minute)

	if pkg != nil {
		require.NoError(t, store.CreatePackage(ctx, pkg))
		for _, user := range []string{alice, bob} {
			require.NoError(t, store.CreateSubscription(ctx, &models.Subscription{
				ID: "sub-" + user, UserID: user, PackageID: pkg.ID, IsActive: true, StartDate: time.Now(),
			}))
		}
	}

	f := &fixture{
		registry: NewRegistry(store, blobs, cache),
		store:    store,
		blobs:    blobs,
		cache:    cache,
		folderID: "folder-alice",
	}
	f.addFolder(t, f.folderID, alice)
	return f
}

func (f *fixture) addFolder(t *testing.T, id, userID string) {
	t.Helper()
	require.NoError(t, f.store.CreateFolder(context.Background(), &models.Folder{
		ID: id, UserID: userID, Name: id, CreatedAt: time.Now(),
	}))
}

func payload(name, mime string, size int) Upload {
	return Upload{
		Name:     name,
		MIMEType: mime,
		Size:     int64(size),
		Body:     bytes.NewReader(make([]byte, size)),
	}
}

func (f *fixture) upload(t *testing.T, userID, folderID string) *models.File {
	t.Helper()
	file, err := f.registry.Upload(context.Background(), userID, folderID, payload("report.pdf", "application/pdf", 1024))
	require.NoError(t, err)
	return file
}

func TestUploadStoresMetadataAndPayload(t *testing.T) {
	f := newFixture(t, silverPackage())

	file, err := f.registry.Upload(context.Background(), alice, f.folderID, Upload{
		Name:     "Holiday.PNG",
		MIMEType: "image/png",
		Size:     5,
		Body:     strings.NewReader("hello"),
	})
	require.NoError(t, err)

	assert.Equal(t, alice, file.UserID)
	assert.Equal(t, f.folderID, file.FolderID)
	assert.Equal(t, "Holiday.PNG", file.Name)
	assert.Equal(t, "Holiday.PNG", file.OriginalName)
	assert.Equal(t, models.FileTypeImage, file.FileType)
	assert.True(t, strings.HasPrefix(file.StorageKey, alice+"/"))
	assert.True(t, strings.HasSuffix(file.StorageKey, ".png"))
	assert.Equal(t, []string{file.StorageKey}, f.blobs.Keys())
}

func TestUploadWithoutSubscriptionStagesNothing(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.registry.Upload(context.Background(), alice, f.folderID, payload("a.pdf", "application/pdf", 10))
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.Equal(t, "You do not have an active subscription package.", apperr.MessageOf(err))
	assert.Empty(t, f.blobs.Keys())
}

func TestUploadRejectionsEraseStagedPayload(t *testing.T) {
	tests := []struct {
		name    string
		upload  Upload
		folder  string
		kind    error
		message string
	}{
		{
			name:    "unsupported mime",
			upload:  payload("a.zip", "application/zip", 10),
			kind:    apperr.ErrBadRequest,
			message: "Unsupported file type.",
		},
		{
			name:    "type not in plan",
			upload:  payload("a.mp4", "video/mp4", 10),
			kind:    apperr.ErrForbidden,
			message: "File type VIDEO is not allowed on your SILVER plan. Allowed types: IMAGE, PDF.",
		},
		{
			name:    "too large",
			upload:  payload("big.pdf", "application/pdf", 6*1024*1024),
			kind:    apperr.ErrForbidden,
			message: "File size (6.00MB) exceeds the 5MB limit for your SILVER plan.",
		},
		{
			name:    "missing folder",
			upload:  payload("a.pdf", "application/pdf", 10),
			folder:  "missing",
			kind:    apperr.ErrNotFound,
			message: "Folder not found!",
		},
		{
			name:    "foreign folder",
			upload:  payload("a.pdf", "application/pdf", 10),
			folder:  "folder-bob",
			kind:    apperr.ErrForbidden,
			message: "You do not have access to this folder!",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, silverPackage())
			f.addFolder(t, "folder-bob", bob)

			folder := tt.folder
			if folder == "" {
				folder = f.folderID
			}

			_, err := f.registry.Upload(context.Background(), alice, folder, tt.upload)
			assert.ErrorIs(t, err, tt.kind)
			assert.Equal(t, tt.message, apperr.MessageOf(err))
			assert.Empty(t, f.blobs.Keys(), "staged payload must be erased")

			_, files := f.store.Snapshot()
			assert.Empty(t, files)
		})
	}
}

func TestUploadTotalFileLimit(t *testing.T) {
	pkg := silverPackage()
	pkg.TotalFileLimit = 2
	f := newFixture(t, pkg)
	f.addFolder(t, "folder-2", alice)

	f.upload(t, alice, f.folderID)
	f.upload(t, alice, "folder-2")

	_, err := f.registry.Upload(context.Background(), alice, f.folderID, payload("c.pdf", "application/pdf", 10))
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.Equal(t, "Total file limit (2) reached for your SILVER plan.", apperr.MessageOf(err))
	assert.Len(t, f.blobs.Keys(), 2)
}

func TestUploadFilesPerFolderLimit(t *testing.T) {
	pkg := silverPackage()
	pkg.FilesPerFolder = 1
	f := newFixture(t, pkg)
	f.addFolder(t, "folder-2", alice)

	f.upload(t, alice, f.folderID)

	_, err := f.registry.Upload(context.Background(), alice, f.folderID, payload("b.pdf", "application/pdf", 10))
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.Equal(t, "This folder has reached the maximum files per folder (1) for your SILVER plan.", apperr.MessageOf(err))

	f.upload(t, alice, "folder-2")
}

func TestUploadValidatesBeforeStaging(t *testing.T) {
	f := newFixture(t, silverPackage())
	ctx := context.Background()

	_, err := f.registry.Upload(ctx, alice, f.folderID, payload("", "application/pdf", 10))
	assert.ErrorIs(t, err, apperr.ErrBadRequest)

	_, err = f.registry.Upload(ctx, alice, "", payload("a.pdf", "application/pdf", 10))
	assert.ErrorIs(t, err, apperr.ErrBadRequest)

	assert.Empty(t, f.blobs.Keys())
}

func TestUploadStagingFailure(t *testing.T) {
	f := newFixture(t, silverPackage())
	f.blobs.FailStaging(errors.New("bucket unavailable"))

	_, err := f.registry.Upload(context.Background(), alice, f.folderID, payload("a.pdf", "application/pdf", 10))
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))

	_, files := f.store.Snapshot()
	assert.Empty(t, files)
}

func TestUploadInsertFailureErasesPayload(t *testing.T) {
	f := newFixture(t, silverPackage())
	f.store.FailOn("CreateFile", errors.New("deadlock"))

	_, err := f.registry.Upload(context.Background(), alice, f.folderID, payload("a.pdf", "application/pdf", 10))
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	assert.Empty(t, f.blobs.Keys())
}

func TestConcurrentUploadsRespectFolderLimit(t *testing.T) {
	pkg := silverPackage()
	pkg.FilesPerFolder = 3
	f := newFixture(t, pkg)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.registry.Upload(ctx, alice, f.folderID, payload("a.pdf", "application/pdf", 10))
		}()
	}
	wg.Wait()

	count, err := f.store.CountFolderFiles(ctx, f.folderID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Len(t, f.blobs.Keys(), 3, "rejected uploads leave no payload behind")
}

func TestGetByID(t *testing.T) {
	f := newFixture(t, silverPackage())
	ctx := context.Background()
	uploaded := f.upload(t, alice, f.folderID)

	got, err := f.registry.GetByID(ctx, alice, uploaded.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Folder)
	assert.Equal(t, f.folderID, got.Folder.ID)

	cached, err := f.cache.Get(ctx, uploaded.ID)
	require.NoError(t, err)
	require.NotNil(t, cached)

	// ownership is enforced on cache hits too
	_, err = f.registry.GetByID(ctx, bob, uploaded.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.Equal(t, "You do not have access to this file!", apperr.MessageOf(err))

	_, err = f.registry.GetByID(ctx, alice, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, "File not found!", apperr.MessageOf(err))
}

func TestRename(t *testing.T) {
	f := newFixture(t, silverPackage())
	ctx := context.Background()
	uploaded := f.upload(t, alice, f.folderID)
	other := f.upload(t, alice, f.folderID)

	_, err := f.registry.GetByID(ctx, alice, uploaded.ID)
	require.NoError(t, err)

	renamed, err := f.registry.Rename(ctx, alice, uploaded.ID, "final.pdf")
	require.NoError(t, err)
	assert.Equal(t, "final.pdf", renamed.Name)
	assert.Equal(t, "report.pdf", renamed.OriginalName)

	// duplicates among files are allowed
	_, err = f.registry.Rename(ctx, alice, other.ID, "final.pdf")
	require.NoError(t, err)

	got, err := f.registry.GetByID(ctx, alice, uploaded.ID)
	require.NoError(t, err)
	assert.Equal(t, "final.pdf", got.Name, "rename evicts the cached copy")

	_, err = f.registry.Rename(ctx, bob, uploaded.ID, "x.pdf")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.registry.Rename(ctx, alice, uploaded.ID, strings.Repeat("x", 256))
	assert.ErrorIs(t, err, apperr.ErrBadRequest)
}

func TestDelete(t *testing.T) {
	f := newFixture(t, silverPackage())
	ctx := context.Background()
	uploaded := f.upload(t, alice, f.folderID)

	_, err := f.registry.Delete(ctx, bob, uploaded.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.registry.GetByID(ctx, alice, uploaded.ID)
	require.NoError(t, err)

	result, err := f.registry.Delete(ctx, alice, uploaded.ID)
	require.NoError(t, err)
	assert.Equal(t, &models.FileDeletion{Deleted: true, FileID: uploaded.ID}, result)
	assert.Empty(t, f.blobs.Keys())

	_, err = f.registry.GetByID(ctx, alice, uploaded.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.registry.Delete(ctx, alice, uploaded.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDeleteWithMissingPayload(t *testing.T) {
	f := newFixture(t, silverPackage())
	ctx := context.Background()
	uploaded := f.upload(t, alice, f.folderID)

	require.NoError(t, f.blobs.Erase(ctx, uploaded.StorageKey))

	_, err := f.registry.Delete(ctx, alice, uploaded.ID)
	require.NoError(t, err)
}

func TestDeleteSucceedsWhenErasingFails(t *testing.T) {
	f := newFixture(t, silverPackage())
	ctx := context.Background()
	uploaded := f.upload(t, alice, f.folderID)

	f.blobs.FailErasing(errors.New("bucket unreachable"))
	result, err := f.registry.Delete(ctx, alice, uploaded.ID)
	require.NoError(t, err)
	assert.True(t, result.Deleted)

	_, err = f.registry.GetByID(ctx, alice, uploaded.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, []string{uploaded.StorageKey}, f.blobs.Keys())
}

func TestDownload(t *testing.T) {
	f := newFixture(t, silverPackage())
	ctx := context.Background()

	uploaded, err := f.registry.Upload(ctx, alice, f.folderID, Upload{
		Name: "notes.pdf", MIMEType: "application/pdf", Size: 4, Body: strings.NewReader("%PDF"),
	})
	require.NoError(t, err)

	download, err := f.registry.Download(ctx, alice, uploaded.ID)
	require.NoError(t, err)
	assert.Equal(t, "notes.pdf", download.OriginalName)
	assert.Equal(t, "application/pdf", download.MIMEType)

	body, err := f.registry.Open(ctx, download)
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(data))

	_, err = f.registry.Download(ctx, bob, uploaded.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestDownloadDetectsMissingPayload(t *testing.T) {
	f := newFixture(t, silverPackage())
	ctx := context.Background()
	uploaded := f.upload(t, alice, f.folderID)

	require.NoError(t, f.blobs.Erase(ctx, uploaded.StorageKey))

	_, err := f.registry.Download(ctx, alice, uploaded.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, "Physical file not found on server!", apperr.MessageOf(err))

	_, err = f.registry.Open(ctx, &models.Download{StorageKey: uploaded.StorageKey})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
