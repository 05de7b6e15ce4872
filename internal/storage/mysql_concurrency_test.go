package storage_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/maneesh/quotadrive/internal/apperr"
	"github.com/maneesh/quotadrive/internal/file"
	"github.com/maneesh/quotadrive/internal/folder"
	"github.com/maneesh/quotadrive/internal/models"
	"github.com/maneesh/quotadrive/internal/storage"
	"github.com/maneesh/quotadrive/internal/storage/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const racers = 12

// subscribeDirect writes the package and subscription rows without going
// through the subscription service, so the user has no lock row yet.
func subscribeDirect(t *testing.T, store storage.Store, userID string, pkg *models.Package) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	pkg.CreatedAt, pkg.UpdatedAt = now, now
	require.NoError(t, store.CreatePackage(ctx, pkg))
	require.NoError(t, store.CreateSubscription(ctx, &models.Subscription{
		ID: "sub-" + userID, UserID: userID, PackageID: pkg.ID, IsActive: true, StartDate: now,
	}))
}

// race runs fn concurrently racers times and sorts the outcomes
func race(t *testing.T, fn func(i int) error) (succeeded int, failures []error) {
	t.Helper()

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			err := fn(i)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			failures = append(failures, err)
		}(i)
	}
	close(start)
	wg.Wait()
	return succeeded, failures
}

func TestMySQLConcurrentFolderCreatesRespectLimit(t *testing.T) {
	store := storage.SetupMySQL(t)
	ctx := context.Background()

	const limit = 3
	subscribeDirect(t, store, "racer", &models.Package{
		ID: "pkg-folders", Name: models.TierSilver, MaxFolders: limit, MaxNestingLevel: 3,
		AllowedFileTypes: []models.FileType{models.FileTypePDF},
		MaxFileSizeMB:    5, TotalFileLimit: 20, FilesPerFolder: 5, IsActive: true,
	})

	tree := folder.NewTree(store, nil, nil)
	succeeded, failures := race(t, func(i int) error {
		_, err := tree.Create(ctx, "racer", fmt.Sprintf("Folder-%d", i), nil)
		return err
	})

	assert.Equal(t, limit, succeeded)
	require.Len(t, failures, racers-limit)
	for _, err := range failures {
		assert.ErrorIs(t, err, apperr.ErrForbidden)
	}

	roots, err := store.ListRootFolders(ctx, "racer")
	require.NoError(t, err)
	assert.Len(t, roots, limit)
}

func TestMySQLConcurrentUploadsRespectLimit(t *testing.T) {
	store := storage.SetupMySQL(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	const limit = 2
	subscribeDirect(t, store, "uploader", &models.Package{
		ID: "pkg-files", Name: models.TierSilver, MaxFolders: 10, MaxNestingLevel: 3,
		AllowedFileTypes: []models.FileType{models.FileTypePDF},
		MaxFileSizeMB:    5, TotalFileLimit: 20, FilesPerFolder: limit, IsActive: true,
	})
	require.NoError(t, store.CreateFolder(ctx, &models.Folder{
		ID: "inbox", UserID: "uploader", Name: "Inbox", CreatedAt: now, UpdatedAt: now,
	}))

	blobs := memstore.NewBlobs()
	registry := file.NewRegistry(store, blobs, nil)
	succeeded, failures := race(t, func(i int) error {
		_, err := registry.Upload(ctx, "uploader", "inbox", file.Upload{
			Name:     fmt.Sprintf("report-%d.pdf", i),
			MIMEType: "application/pdf",
			Size:     4,
			Body:     strings.NewReader("%PDF"),
		})
		return err
	})

	assert.Equal(t, limit, succeeded)
	require.Len(t, failures, racers-limit)
	for _, err := range failures {
		assert.ErrorIs(t, err, apperr.ErrForbidden)
	}

	count, err := store.CountFolderFiles(ctx, "inbox")
	require.NoError(t, err)
	assert.Equal(t, limit, count)
	assert.Len(t, blobs.Keys(), limit, "rejected uploads leave no payload behind")
}
