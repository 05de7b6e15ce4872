package storage

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/maneesh/quotadrive/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupMySQL starts MySQL in a container and applies the migrations
func setupMySQL(t *testing.T) *MySQLStore {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("skipping integration test: TEST_INTEGRATION not set")
	}

	ctx := context.Background()

	container, err := tcmysql.Run(ctx,
		"mysql:8.0.36",
		tcmysql.WithDatabase("quotadrive_test"),
		tcmysql.WithUsername("quotadrive"),
		tcmysql.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("port: 3306  MySQL Community Server").
				WithStartupTimeout(90*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "charset=utf8mb4", "parseTime=True", "loc=UTC")
	require.NoError(t, err)

	require.NoError(t, Migrate("mysql://"+dsn+"&multiStatements=true"))

	store, err := NewMySQLStore(dsn, 10, 5)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func TestMySQLFolderTree(t *testing.T) {
	store := setupMySQL(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	root := &models.Folder{ID: "root", UserID: "u1", Name: "Docs", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.CreateFolder(ctx, root))

	parent := "root"
	child := &models.Folder{ID: "child", UserID: "u1", ParentID: &parent, Name: "Inner", Depth: 1, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.CreateFolder(ctx, child))

	dup := &models.Folder{ID: "dup", UserID: "u1", Name: "Docs", CreatedAt: now, UpdatedAt: now}
	assert.ErrorIs(t, store.CreateFolder(ctx, dup), ErrDuplicate)

	// names compare case-sensitively
	other := &models.Folder{ID: "lower", UserID: "u1", Name: "docs", CreatedAt: now, UpdatedAt: now}
	assert.NoError(t, store.CreateFolder(ctx, other))

	roots, err := store.ListRootFolders(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, roots, 2)
	assert.Equal(t, "root", roots[0].ID)
	require.NotNil(t, roots[0].Counts)
	assert.Equal(t, 1, roots[0].Counts.Children)

	sibling, err := store.FindSiblingFolder(ctx, "u1", &parent, "Inner", "")
	require.NoError(t, err)
	require.NotNil(t, sibling)
	assert.Equal(t, "child", sibling.ID)

	sibling, err = store.FindSiblingFolder(ctx, "u1", &parent, "Inner", "child")
	require.NoError(t, err)
	assert.Nil(t, sibling)

	file := &models.File{
		ID: "f1", UserID: "u1", FolderID: "child", Name: "a.pdf", OriginalName: "a.pdf",
		FileType: models.FileTypePDF, MIMEType: "application/pdf", SizeMB: 1.5,
		StorageKey: "k1", StorageURL: "/bucket/k1", CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.CreateFile(ctx, file))

	got, err := store.GetFile(ctx, "f1")
	require.NoError(t, err)
	require.NotNil(t, got.Folder)
	assert.Equal(t, "Inner", got.Folder.Name)
	assert.InDelta(t, 1.5, got.SizeMB, 0.001)

	assert.ErrorIs(t, store.DeleteFolder(ctx, "child"), ErrReferenced)

	err = store.WithTx(ctx, func(q Queries) error {
		if err := q.LockUser(ctx, "u1"); err != nil {
			return err
		}
		if _, err := q.DeleteFilesInFolders(ctx, []string{"child"}); err != nil {
			return err
		}
		if err := q.DeleteFolder(ctx, "child"); err != nil {
			return err
		}
		return q.DeleteFolder(ctx, "root")
	})
	require.NoError(t, err)

	_, err = store.GetFile(ctx, "f1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMySQLTxRollback(t *testing.T) {
	store := setupMySQL(t)
	ctx := context.Background()
	now := time.Now().UTC()

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(q Queries) error {
		if err := q.CreateFolder(ctx, &models.Folder{ID: "tmp", UserID: "u1", Name: "Tmp", CreatedAt: now, UpdatedAt: now}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.GetFolder(ctx, "tmp")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMySQLSubscriptions(t *testing.T) {
	store := setupMySQL(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	pkg := &models.Package{
		ID: "p1", Name: models.TierSilver, Price: 0, MaxFolders: 10, MaxNestingLevel: 3,
		AllowedFileTypes: []models.FileType{models.FileTypeImage, models.FileTypePDF},
		MaxFileSizeMB:    5, TotalFileLimit: 20, FilesPerFolder: 5, IsActive: true,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.CreatePackage(ctx, pkg))

	got, err := store.GetPackage(ctx, "p1")
	require.NoError(t, err)
	assert.ElementsMatch(t, pkg.AllowedFileTypes, got.AllowedFileTypes)

	_, err = store.GetActiveSubscription(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.CreateSubscription(ctx, &models.Subscription{ID: "s1", UserID: "u1", PackageID: "p1", IsActive: true, StartDate: now}))
	active, err := store.GetActiveSubscription(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, active.Package)
	assert.Equal(t, 10, active.Package.MaxFolders)

	require.NoError(t, store.DeactivateSubscription(ctx, "s1", now.Add(time.Minute)))
	_, err = store.GetActiveSubscription(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.DeletePackage(ctx, "p1"), ErrReferenced)
	assert.ErrorIs(t, store.CreateSubscription(ctx, &models.Subscription{ID: "s2", UserID: "u1", PackageID: "nope", StartDate: now}), ErrNotFound)
}

func TestMySQLUpdatesReportMissingRows(t *testing.T) {
	store := setupMySQL(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	assert.ErrorIs(t, store.RenameFolder(ctx, "missing", "Docs", now), ErrNotFound)
	assert.ErrorIs(t, store.RenameFile(ctx, "missing", "a.pdf", now), ErrNotFound)
	assert.ErrorIs(t, store.DeactivateSubscription(ctx, "missing", now), ErrNotFound)
	assert.ErrorIs(t, store.UpdatePackage(ctx, &models.Package{ID: "missing", Name: models.TierGold, UpdatedAt: now}), ErrNotFound)

	// writing the current values still matches the row
	require.NoError(t, store.CreateFolder(ctx, &models.Folder{ID: "docs", UserID: "u1", Name: "Docs", CreatedAt: now, UpdatedAt: now}))
	assert.NoError(t, store.RenameFolder(ctx, "docs", "Docs", now))
}

func TestMySQLLockUserSeedsRow(t *testing.T) {
	store := setupMySQL(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.WithTx(ctx, func(q Queries) error {
				return q.LockUser(ctx, "first-timer")
			})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}

	var n int
	require.NoError(t, store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_locks WHERE user_id = ?`, "first-timer").Scan(&n))
	assert.Equal(t, 1, n)
}
