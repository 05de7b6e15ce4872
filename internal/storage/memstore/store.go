// Package memstore is an in-process implementation of the storage
// interfaces. It backs the test suites and STORE_DRIVER=memory.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/maneesh/quotadrive/internal/models"
	"github.com/maneesh/quotadrive/internal/storage"
)

// Store keeps all metadata in memory. Transactions run one at a time against a
// private copy of the data that replaces the live copy on commit, so a failed
// transaction leaves no trace. The fn passed to WithTx must only use the
// Queries it is given.
type Store struct {
	mu sync.Mutex
	st *state
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) WithTx(ctx context.Context, fn func(q storage.Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := s.st.clone()
	if err := fn(tx); err != nil {
		return err
	}
	s.st = tx
	return nil
}

func (s *Store) Close() error {
	return nil
}

// FailOn makes every later call of the named write operation fail with err,
// for exercising rollback. A nil err clears the fault.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.st.faults, op)
		return
	}
	s.st.faults[op] = err
}

// Snapshot returns every folder and file currently committed
func (s *Store) Snapshot() ([]models.Folder, []models.File) {
	s.mu.Lock()
	defer s.mu.Unlock()

	folders := make([]models.Folder, 0, len(s.st.folders))
	for _, f := range s.st.folders {
		folders = append(folders, *copyFolder(f))
	}
	files := make([]models.File, 0, len(s.st.files))
	for _, f := range s.st.files {
		files = append(files, *copyFile(f))
	}
	return folders, files
}

func (s *Store) do(fn func(st *state)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.st)
}

func (s *Store) LockUser(ctx context.Context, userID string) error {
	return nil
}

func (s *Store) GetFolder(ctx context.Context, id string) (f *models.Folder, err error) {
	s.do(func(st *state) { f, err = st.GetFolder(ctx, id) })
	return
}

func (s *Store) ListRootFolders(ctx context.Context, userID string) (fs []*models.Folder, err error) {
	s.do(func(st *state) { fs, err = st.ListRootFolders(ctx, userID) })
	return
}

func (s *Store) ListChildFolders(ctx context.Context, userID, parentID string) (fs []*models.Folder, err error) {
	s.do(func(st *state) { fs, err = st.ListChildFolders(ctx, userID, parentID) })
	return
}

func (s *Store) ListChildFolderIDs(ctx context.Context, parentID string) (ids []string, err error) {
	s.do(func(st *state) { ids, err = st.ListChildFolderIDs(ctx, parentID) })
	return
}

func (s *Store) FindSiblingFolder(ctx context.Context, userID string, parentID *string, name, excludeID string) (f *models.Folder, err error) {
	s.do(func(st *state) { f, err = st.FindSiblingFolder(ctx, userID, parentID, name, excludeID) })
	return
}

func (s *Store) CountFolders(ctx context.Context, userID string) (n int, err error) {
	s.do(func(st *state) { n, err = st.CountFolders(ctx, userID) })
	return
}

func (s *Store) CreateFolder(ctx context.Context, folder *models.Folder) (err error) {
	s.do(func(st *state) { err = st.CreateFolder(ctx, folder) })
	return
}

func (s *Store) RenameFolder(ctx context.Context, id, name string, updatedAt time.Time) (err error) {
	s.do(func(st *state) { err = st.RenameFolder(ctx, id, name, updatedAt) })
	return
}

func (s *Store) DeleteFolder(ctx context.Context, id string) (err error) {
	s.do(func(st *state) { err = st.DeleteFolder(ctx, id) })
	return
}

func (s *Store) GetFile(ctx context.Context, id string) (f *models.File, err error) {
	s.do(func(st *state) { f, err = st.GetFile(ctx, id) })
	return
}

func (s *Store) ListFolderFiles(ctx context.Context, userID, folderID string) (fs []*models.File, err error) {
	s.do(func(st *state) { fs, err = st.ListFolderFiles(ctx, userID, folderID) })
	return
}

func (s *Store) ListFileIDsInFolders(ctx context.Context, folderIDs []string) (ids []string, err error) {
	s.do(func(st *state) { ids, err = st.ListFileIDsInFolders(ctx, folderIDs) })
	return
}

func (s *Store) ListFileKeysInFolders(ctx context.Context, folderIDs []string) (keys []string, err error) {
	s.do(func(st *state) { keys, err = st.ListFileKeysInFolders(ctx, folderIDs) })
	return
}

func (s *Store) CountFiles(ctx context.Context, userID string) (n int, err error) {
	s.do(func(st *state) { n, err = st.CountFiles(ctx, userID) })
	return
}

func (s *Store) CountFolderFiles(ctx context.Context, folderID string) (n int, err error) {
	s.do(func(st *state) { n, err = st.CountFolderFiles(ctx, folderID) })
	return
}

func (s *Store) CreateFile(ctx context.Context, file *models.File) (err error) {
	s.do(func(st *state) { err = st.CreateFile(ctx, file) })
	return
}

func (s *Store) RenameFile(ctx context.Context, id, name string, updatedAt time.Time) (err error) {
	s.do(func(st *state) { err = st.RenameFile(ctx, id, name, updatedAt) })
	return
}

func (s *Store) DeleteFile(ctx context.Context, id string) (err error) {
	s.do(func(st *state) { err = st.DeleteFile(ctx, id) })
	return
}

func (s *Store) DeleteFilesInFolders(ctx context.Context, folderIDs []string) (n int64, err error) {
	s.do(func(st *state) { n, err = st.DeleteFilesInFolders(ctx, folderIDs) })
	return
}

func (s *Store) GetPackage(ctx context.Context, id string) (p *models.Package, err error) {
	s.do(func(st *state) { p, err = st.GetPackage(ctx, id) })
	return
}

func (s *Store) ListPackages(ctx context.Context) (ps []*models.Package, err error) {
	s.do(func(st *state) { ps, err = st.ListPackages(ctx) })
	return
}

func (s *Store) CreatePackage(ctx context.Context, pkg *models.Package) (err error) {
	s.do(func(st *state) { err = st.CreatePackage(ctx, pkg) })
	return
}

func (s *Store) UpdatePackage(ctx context.Context, pkg *models.Package) (err error) {
	s.do(func(st *state) { err = st.UpdatePackage(ctx, pkg) })
	return
}

func (s *Store) DeletePackage(ctx context.Context, id string) (err error) {
	s.do(func(st *state) { err = st.DeletePackage(ctx, id) })
	return
}

func (s *Store) GetActiveSubscription(ctx context.Context, userID string) (sub *models.Subscription, err error) {
	s.do(func(st *state) { sub, err = st.GetActiveSubscription(ctx, userID) })
	return
}

func (s *Store) ListSubscriptions(ctx context.Context, userID string) (subs []*models.Subscription, err error) {
	s.do(func(st *state) { subs, err = st.ListSubscriptions(ctx, userID) })
	return
}

func (s *Store) CreateSubscription(ctx context.Context, sub *models.Subscription) (err error) {
	s.do(func(st *state) { err = st.CreateSubscription(ctx, sub) })
	return
}

func (s *Store) DeactivateSubscription(ctx context.Context, id string, endDate time.Time) (err error) {
	s.do(func(st *state) { err = st.DeactivateSubscription(ctx, id, endDate) })
	return
}
