package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/maneesh/quotadrive/internal/models"
	"github.com/maneesh/quotadrive/internal/storage"
)

// state is one consistent copy of the data. It implements storage.Queries
// without locking; Store serializes access to it.
type state struct {
	folders  map[string]*models.Folder
	files    map[string]*models.File
	packages map[string]*models.Package
	subs     map[string]*models.Subscription
	order    map[string]int64
	seq      int64
	faults   map[string]error
}

func newState() *state {
	return &state{
		folders:  map[string]*models.Folder{},
		files:    map[string]*models.File{},
		packages: map[string]*models.Package{},
		subs:     map[string]*models.Subscription{},
		order:    map[string]int64{},
		faults:   map[string]error{},
	}
}

// clone deep-copies the maps. Records are replaced, never mutated in place,
// so copying the pointers is enough. faults is shared on purpose.
func (s *state) clone() *state {
	cp := &state{
		folders:  make(map[string]*models.Folder, len(s.folders)),
		files:    make(map[string]*models.File, len(s.files)),
		packages: make(map[string]*models.Package, len(s.packages)),
		subs:     make(map[string]*models.Subscription, len(s.subs)),
		order:    make(map[string]int64, len(s.order)),
		seq:      s.seq,
		faults:   s.faults,
	}
	for k, v := range s.folders {
		cp.folders[k] = v
	}
	for k, v := range s.files {
		cp.files[k] = v
	}
	for k, v := range s.packages {
		cp.packages[k] = v
	}
	for k, v := range s.subs {
		cp.subs[k] = v
	}
	for k, v := range s.order {
		cp.order[k] = v
	}
	return cp
}

func (s *state) fault(op string) error {
	if err, ok := s.faults[op]; ok {
		return fmt.Errorf("memstore %s: %w", op, err)
	}
	return nil
}

func (s *state) remember(id string) {
	s.seq++
	s.order[id] = s.seq
}

// before orders by creation time, then by insertion
func (s *state) before(aID string, aTime time.Time, bID string, bTime time.Time) bool {
	if !aTime.Equal(bTime) {
		return aTime.Before(bTime)
	}
	return s.order[aID] < s.order[bID]
}

func copyFolder(f *models.Folder) *models.Folder {
	cp := *f
	if f.ParentID != nil {
		parent := *f.ParentID
		cp.ParentID = &parent
	}
	cp.Counts = nil
	return &cp
}

func copyFile(f *models.File) *models.File {
	cp := *f
	cp.Folder = nil
	return &cp
}

func copyPackage(p *models.Package) *models.Package {
	cp := *p
	cp.AllowedFileTypes = append([]models.FileType(nil), p.AllowedFileTypes...)
	return &cp
}

func copySubscription(sub *models.Subscription) *models.Subscription {
	cp := *sub
	if sub.EndDate != nil {
		end := *sub.EndDate
		cp.EndDate = &end
	}
	cp.Package = nil
	return &cp
}

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s *state) LockUser(context.Context, string) error {
	return nil
}

// --- Folders ---

func (s *state) withCounts(f *models.Folder) *models.Folder {
	cp := copyFolder(f)
	cp.Counts = &models.FolderCounts{}
	for _, child := range s.folders {
		if child.ParentID != nil && *child.ParentID == f.ID {
			cp.Counts.Children++
		}
	}
	for _, file := range s.files {
		if file.FolderID == f.ID {
			cp.Counts.Files++
		}
	}
	return cp
}

func (s *state) sortFolders(folders []*models.Folder) {
	sort.Slice(folders, func(i, j int) bool {
		return s.before(folders[i].ID, folders[i].CreatedAt, folders[j].ID, folders[j].CreatedAt)
	})
}

func (s *state) GetFolder(_ context.Context, id string) (*models.Folder, error) {
	f, ok := s.folders[id]
	if !ok {
		return nil, fmt.Errorf("folder %s: %w", id, storage.ErrNotFound)
	}
	return copyFolder(f), nil
}

func (s *state) ListRootFolders(_ context.Context, userID string) ([]*models.Folder, error) {
	folders := []*models.Folder{}
	for _, f := range s.folders {
		if f.UserID == userID && f.ParentID == nil {
			folders = append(folders, s.withCounts(f))
		}
	}
	s.sortFolders(folders)
	return folders, nil
}

func (s *state) ListChildFolders(_ context.Context, userID, parentID string) ([]*models.Folder, error) {
	folders := []*models.Folder{}
	for _, f := range s.folders {
		if f.UserID == userID && f.ParentID != nil && *f.ParentID == parentID {
			folders = append(folders, s.withCounts(f))
		}
	}
	s.sortFolders(folders)
	return folders, nil
}

func (s *state) ListChildFolderIDs(_ context.Context, parentID string) ([]string, error) {
	var ids []string
	for _, f := range s.folders {
		if f.ParentID != nil && *f.ParentID == parentID {
			ids = append(ids, f.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *state) FindSiblingFolder(_ context.Context, userID string, parentID *string, name, excludeID string) (*models.Folder, error) {
	for _, f := range s.folders {
		if f.UserID == userID && sameParent(f.ParentID, parentID) && f.Name == name && f.ID != excludeID {
			return copyFolder(f), nil
		}
	}
	return nil, nil
}

func (s *state) CountFolders(_ context.Context, userID string) (int, error) {
	n := 0
	for _, f := range s.folders {
		if f.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (s *state) CreateFolder(ctx context.Context, folder *models.Folder) error {
	if err := s.fault("CreateFolder"); err != nil {
		return err
	}
	if _, ok := s.folders[folder.ID]; ok {
		return fmt.Errorf("folder %s: %w", folder.ID, storage.ErrDuplicate)
	}
	if folder.ParentID != nil {
		if _, ok := s.folders[*folder.ParentID]; !ok {
			return fmt.Errorf("parent folder %s: %w", *folder.ParentID, storage.ErrNotFound)
		}
	}
	if dup, _ := s.FindSiblingFolder(ctx, folder.UserID, folder.ParentID, folder.Name, folder.ID); dup != nil {
		return fmt.Errorf("folder name %q: %w", folder.Name, storage.ErrDuplicate)
	}
	s.folders[folder.ID] = copyFolder(folder)
	s.remember(folder.ID)
	return nil
}

func (s *state) RenameFolder(ctx context.Context, id, name string, updatedAt time.Time) error {
	if err := s.fault("RenameFolder"); err != nil {
		return err
	}
	f, ok := s.folders[id]
	if !ok {
		return fmt.Errorf("folder %s: %w", id, storage.ErrNotFound)
	}
	if dup, _ := s.FindSiblingFolder(ctx, f.UserID, f.ParentID, name, id); dup != nil {
		return fmt.Errorf("folder name %q: %w", name, storage.ErrDuplicate)
	}
	cp := copyFolder(f)
	cp.Name = name
	cp.UpdatedAt = updatedAt
	s.folders[id] = cp
	return nil
}

// DeleteFolder refuses to delete a folder that still has children or files,
// like the foreign keys of the SQL schema.
func (s *state) DeleteFolder(_ context.Context, id string) error {
	if err := s.fault("DeleteFolder"); err != nil {
		return err
	}
	if _, ok := s.folders[id]; !ok {
		return fmt.Errorf("folder %s: %w", id, storage.ErrNotFound)
	}
	for _, child := range s.folders {
		if child.ParentID != nil && *child.ParentID == id {
			return fmt.Errorf("folder %s has subfolders: %w", id, storage.ErrReferenced)
		}
	}
	for _, file := range s.files {
		if file.FolderID == id {
			return fmt.Errorf("folder %s has files: %w", id, storage.ErrReferenced)
		}
	}
	delete(s.folders, id)
	delete(s.order, id)
	return nil
}

// --- Files ---

func (s *state) GetFile(_ context.Context, id string) (*models.File, error) {
	f, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("file %s: %w", id, storage.ErrNotFound)
	}
	cp := copyFile(f)
	if folder, ok := s.folders[f.FolderID]; ok {
		cp.Folder = &models.FolderRef{ID: folder.ID, Name: folder.Name}
	}
	return cp, nil
}

func (s *state) ListFolderFiles(_ context.Context, userID, folderID string) ([]*models.File, error) {
	files := []*models.File{}
	for _, f := range s.files {
		if f.UserID == userID && f.FolderID == folderID {
			files = append(files, copyFile(f))
		}
	}
	sort.Slice(files, func(i, j int) bool {
		return s.before(files[i].ID, files[i].CreatedAt, files[j].ID, files[j].CreatedAt)
	})
	return files, nil
}

func (s *state) ListFileIDsInFolders(_ context.Context, folderIDs []string) ([]string, error) {
	in := make(map[string]bool, len(folderIDs))
	for _, id := range folderIDs {
		in[id] = true
	}
	var ids []string
	for _, f := range s.files {
		if in[f.FolderID] {
			ids = append(ids, f.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *state) ListFileKeysInFolders(_ context.Context, folderIDs []string) ([]string, error) {
	in := make(map[string]bool, len(folderIDs))
	for _, id := range folderIDs {
		in[id] = true
	}
	var keys []string
	for _, f := range s.files {
		if in[f.FolderID] {
			keys = append(keys, f.StorageKey)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *state) CountFiles(_ context.Context, userID string) (int, error) {
	n := 0
	for _, f := range s.files {
		if f.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (s *state) CountFolderFiles(_ context.Context, folderID string) (int, error) {
	n := 0
	for _, f := range s.files {
		if f.FolderID == folderID {
			n++
		}
	}
	return n, nil
}

func (s *state) CreateFile(_ context.Context, file *models.File) error {
	if err := s.fault("CreateFile"); err != nil {
		return err
	}
	if _, ok := s.files[file.ID]; ok {
		return fmt.Errorf("file %s: %w", file.ID, storage.ErrDuplicate)
	}
	if _, ok := s.folders[file.FolderID]; !ok {
		return fmt.Errorf("folder %s: %w", file.FolderID, storage.ErrNotFound)
	}
	for _, f := range s.files {
		if f.StorageKey == file.StorageKey {
			return fmt.Errorf("storage key %s: %w", file.StorageKey, storage.ErrDuplicate)
		}
	}
	s.files[file.ID] = copyFile(file)
	s.remember(file.ID)
	return nil
}

func (s *state) RenameFile(_ context.Context, id, name string, updatedAt time.Time) error {
	if err := s.fault("RenameFile"); err != nil {
		return err
	}
	f, ok := s.files[id]
	if !ok {
		return fmt.Errorf("file %s: %w", id, storage.ErrNotFound)
	}
	cp := copyFile(f)
	cp.Name = name
	cp.UpdatedAt = updatedAt
	s.files[id] = cp
	return nil
}

func (s *state) DeleteFile(_ context.Context, id string) error {
	if err := s.fault("DeleteFile"); err != nil {
		return err
	}
	if _, ok := s.files[id]; !ok {
		return fmt.Errorf("file %s: %w", id, storage.ErrNotFound)
	}
	delete(s.files, id)
	delete(s.order, id)
	return nil
}

func (s *state) DeleteFilesInFolders(_ context.Context, folderIDs []string) (int64, error) {
	if err := s.fault("DeleteFilesInFolders"); err != nil {
		return 0, err
	}
	in := make(map[string]bool, len(folderIDs))
	for _, id := range folderIDs {
		in[id] = true
	}
	var n int64
	for id, f := range s.files {
		if in[f.FolderID] {
			delete(s.files, id)
			delete(s.order, id)
			n++
		}
	}
	return n, nil
}

// --- Packages ---

func (s *state) GetPackage(_ context.Context, id string) (*models.Package, error) {
	p, ok := s.packages[id]
	if !ok {
		return nil, fmt.Errorf("package %s: %w", id, storage.ErrNotFound)
	}
	return copyPackage(p), nil
}

func (s *state) ListPackages(_ context.Context) ([]*models.Package, error) {
	packages := []*models.Package{}
	for _, p := range s.packages {
		packages = append(packages, copyPackage(p))
	}
	sort.Slice(packages, func(i, j int) bool {
		if packages[i].Price != packages[j].Price {
			return packages[i].Price < packages[j].Price
		}
		return s.before(packages[i].ID, packages[i].CreatedAt, packages[j].ID, packages[j].CreatedAt)
	})
	return packages, nil
}

func (s *state) CreatePackage(_ context.Context, pkg *models.Package) error {
	if err := s.fault("CreatePackage"); err != nil {
		return err
	}
	if _, ok := s.packages[pkg.ID]; ok {
		return fmt.Errorf("package %s: %w", pkg.ID, storage.ErrDuplicate)
	}
	s.packages[pkg.ID] = copyPackage(pkg)
	s.remember(pkg.ID)
	return nil
}

func (s *state) UpdatePackage(_ context.Context, pkg *models.Package) error {
	if err := s.fault("UpdatePackage"); err != nil {
		return err
	}
	if _, ok := s.packages[pkg.ID]; !ok {
		return fmt.Errorf("package %s: %w", pkg.ID, storage.ErrNotFound)
	}
	s.packages[pkg.ID] = copyPackage(pkg)
	return nil
}

func (s *state) DeletePackage(_ context.Context, id string) error {
	if err := s.fault("DeletePackage"); err != nil {
		return err
	}
	if _, ok := s.packages[id]; !ok {
		return fmt.Errorf("package %s: %w", id, storage.ErrNotFound)
	}
	for _, sub := range s.subs {
		if sub.PackageID == id {
			return fmt.Errorf("package %s: %w", id, storage.ErrReferenced)
		}
	}
	delete(s.packages, id)
	delete(s.order, id)
	return nil
}

// --- Subscriptions ---

func (s *state) withPackage(sub *models.Subscription) *models.Subscription {
	cp := copySubscription(sub)
	if p, ok := s.packages[sub.PackageID]; ok {
		cp.Package = copyPackage(p)
	}
	return cp
}

func (s *state) sortSubscriptions(subs []*models.Subscription) {
	sort.Slice(subs, func(i, j int) bool {
		if !subs[i].StartDate.Equal(subs[j].StartDate) {
			return subs[i].StartDate.After(subs[j].StartDate)
		}
		return s.order[subs[i].ID] > s.order[subs[j].ID]
	})
}

func (s *state) GetActiveSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	subs, _ := s.ListSubscriptions(ctx, userID)
	for _, sub := range subs {
		if sub.IsActive {
			return sub, nil
		}
	}
	return nil, fmt.Errorf("active subscription for %s: %w", userID, storage.ErrNotFound)
}

func (s *state) ListSubscriptions(_ context.Context, userID string) ([]*models.Subscription, error) {
	subs := []*models.Subscription{}
	for _, sub := range s.subs {
		if sub.UserID == userID {
			subs = append(subs, s.withPackage(sub))
		}
	}
	s.sortSubscriptions(subs)
	return subs, nil
}

func (s *state) CreateSubscription(_ context.Context, sub *models.Subscription) error {
	if err := s.fault("CreateSubscription"); err != nil {
		return err
	}
	if _, ok := s.subs[sub.ID]; ok {
		return fmt.Errorf("subscription %s: %w", sub.ID, storage.ErrDuplicate)
	}
	if _, ok := s.packages[sub.PackageID]; !ok {
		return fmt.Errorf("package %s: %w", sub.PackageID, storage.ErrNotFound)
	}
	s.subs[sub.ID] = copySubscription(sub)
	s.remember(sub.ID)
	return nil
}

func (s *state) DeactivateSubscription(_ context.Context, id string, endDate time.Time) error {
	if err := s.fault("DeactivateSubscription"); err != nil {
		return err
	}
	sub, ok := s.subs[id]
	if !ok {
		return fmt.Errorf("subscription %s: %w", id, storage.ErrNotFound)
	}
	cp := copySubscription(sub)
	cp.IsActive = false
	cp.EndDate = &endDate
	s.subs[id] = cp
	return nil
}
