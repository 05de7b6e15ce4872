package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/maneesh/quotadrive/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MySQL error numbers the store translates
const (
	errDupEntry         = 1062
	errLockDeadlock     = 1213
	errRowIsReferenced  = 1217
	errRowIsReferenced2 = 1451
	errNoReferencedRow2 = 1452
)

// maxTxAttempts bounds how often WithTx reruns fn after a deadlock or after
// seeding a user's lock row
const maxTxAttempts = 3

// dbtx is satisfied by both *sql.DB and *sql.Tx
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// MySQLStore implements Store on MySQL or TiDB
type MySQLStore struct {
	*mysqlQueries
	db *sql.DB
}

type mysqlQueries struct {
	db   dbtx
	inTx bool
}

// NewMySQLStore opens the database and checks the connection. The connection
// reports matched rather than changed rows, so an UPDATE that writes the
// current values still counts as touching its row.
func NewMySQLStore(dsn string, maxOpenConns, maxIdleConns int) (*MySQLStore, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dsn: %w", err)
	}
	cfg.ClientFoundRows = true

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db := sql.OpenDB(connector)

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)

	return &MySQLStore{mysqlQueries: &mysqlQueries{db: db}, db: db}, nil
}

// Close closes the database connection
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable
func (s *MySQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn inside a READ COMMITTED transaction. Admission checks take
// LockUser first, so every count read afterwards sees the latest committed rows.
// fn is run again, up to maxTxAttempts times, when InnoDB picks the
// transaction as a deadlock victim or when the user had no lock row yet.
func (s *MySQLStore) WithTx(ctx context.Context, fn func(q Queries) error) (err error) {
	ctx, span := tracer.Start(ctx, "mysql.tx")
	defer span.End()

	for attempt := 1; ; attempt++ {
		span.SetAttributes(attribute.Int("attempts", attempt))

		err = s.runTx(ctx, span, fn)
		if err == nil || attempt == maxTxAttempts {
			return err
		}

		var missing *missingLockError
		switch {
		case errors.As(err, &missing):
			if err := s.seedLock(ctx, missing.userID); err != nil {
				span.RecordError(err)
				return err
			}
		case isDeadlock(err):
			span.AddEvent("deadlock, retrying")
		default:
			return err
		}
	}
}

func (s *MySQLStore) runTx(ctx context.Context, span trace.Span, fn func(q Queries) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&mysqlQueries{db: tx, inTx: true}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			span.RecordError(rbErr)
		}
		span.SetAttributes(attribute.Bool("committed", false))
		return err
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to commit transaction: %w", translate(err))
	}

	span.SetAttributes(attribute.Bool("committed", true))
	return nil
}

// seedLock creates a user's lock row in its own autocommit statement. It runs
// with no transaction open, so it can wait on a concurrent holder but never
// deadlock with one.
func (s *MySQLStore) seedLock(ctx context.Context, userID string) error {
	ctx, span := tracer.Start(ctx, "mysql.seed_lock", trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	query := `INSERT IGNORE INTO user_locks (user_id, locked_at) VALUES (?, ?)`
	if _, err := s.db.ExecContext(ctx, query, userID, time.Now().UTC()); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to seed user lock: %w", err)
	}
	return nil
}

func isDeadlock(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == errLockDeadlock
}

// missingLockError aborts a transaction whose user has no lock row yet
type missingLockError struct {
	userID string
}

func (e *missingLockError) Error() string {
	return "no lock row for user " + e.userID
}

func (q *mysqlQueries) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "mysql."+name, trace.WithAttributes(attrs...))
}

// translate maps constraint violations onto the store's sentinel errors
func translate(err error) error {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return err
	}
	switch me.Number {
	case errDupEntry:
		return fmt.Errorf("%w: %s", ErrDuplicate, me.Message)
	case errRowIsReferenced, errRowIsReferenced2:
		return fmt.Errorf("%w: %s", ErrReferenced, me.Message)
	case errNoReferencedRow2:
		return fmt.Errorf("%w: %s", ErrNotFound, me.Message)
	}
	return err
}

// LockUser takes an exclusive row lock on the user's lock row until the
// transaction ends. A user without a row aborts the transaction; WithTx seeds
// the row outside any transaction and runs fn again.
func (q *mysqlQueries) LockUser(ctx context.Context, userID string) error {
	if !q.inTx {
		return nil
	}

	ctx, span := q.start(ctx, "lock_user", attribute.String("user_id", userID))
	defer span.End()

	var locked string
	err := q.db.QueryRowContext(ctx, `SELECT user_id FROM user_locks WHERE user_id = ? FOR UPDATE`, userID).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return &missingLockError{userID: userID}
	}
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to lock user: %w", err)
	}
	return nil
}

// --- Folders ---

const folderColumns = `f.id, f.user_id, f.parent_id, f.name, f.depth, f.created_at, f.updated_at`

const folderCountColumns = `,
	(SELECT COUNT(*) FROM folders c WHERE c.parent_id = f.id),
	(SELECT COUNT(*) FROM files x WHERE x.folder_id = f.id)`

type scanner interface {
	Scan(dest ...any) error
}

func scanFolder(row scanner, withCounts bool) (*models.Folder, error) {
	var (
		folder   models.Folder
		parentID sql.NullString
	)
	dest := []any{
		&folder.ID,
		&folder.UserID,
		&parentID,
		&folder.Name,
		&folder.Depth,
		&folder.CreatedAt,
		&folder.UpdatedAt,
	}
	if withCounts {
		folder.Counts = &models.FolderCounts{}
		dest = append(dest, &folder.Counts.Children, &folder.Counts.Files)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if parentID.Valid {
		folder.ParentID = &parentID.String
	}
	return &folder, nil
}

func (q *mysqlQueries) queryFolders(ctx context.Context, span trace.Span, query string, args ...any) ([]*models.Folder, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query folders: %w", err)
	}
	defer rows.Close()

	folders := []*models.Folder{}
	for rows.Next() {
		folder, err := scanFolder(rows, true)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan folder: %w", err)
		}
		folders = append(folders, folder)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating folders: %w", err)
	}

	span.SetAttributes(attribute.Int("folder_count", len(folders)))
	return folders, nil
}

// GetFolder retrieves a folder by ID
func (q *mysqlQueries) GetFolder(ctx context.Context, id string) (*models.Folder, error) {
	ctx, span := q.start(ctx, "get_folder", attribute.String("folder_id", id))
	defer span.End()

	query := `SELECT ` + folderColumns + ` FROM folders f WHERE f.id = ?`

	folder, err := scanFolder(q.db.QueryRowContext(ctx, query, id), false)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, fmt.Errorf("folder %s: %w", id, ErrNotFound)
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query folder: %w", err)
	}

	span.SetAttributes(attribute.Bool("found", true))
	return folder, nil
}

// ListRootFolders returns the user's parentless folders in creation order
func (q *mysqlQueries) ListRootFolders(ctx context.Context, userID string) ([]*models.Folder, error) {
	ctx, span := q.start(ctx, "list_root_folders", attribute.String("user_id", userID))
	defer span.End()

	query := `SELECT ` + folderColumns + folderCountColumns + `
			  FROM folders f
			  WHERE f.user_id = ? AND f.parent_id IS NULL
			  ORDER BY f.created_at ASC, f.id ASC`

	return q.queryFolders(ctx, span, query, userID)
}

// ListChildFolders returns the direct subfolders of parentID in creation order
func (q *mysqlQueries) ListChildFolders(ctx context.Context, userID, parentID string) ([]*models.Folder, error) {
	ctx, span := q.start(ctx, "list_child_folders", attribute.String("folder_id", parentID))
	defer span.End()

	query := `SELECT ` + folderColumns + folderCountColumns + `
			  FROM folders f
			  WHERE f.user_id = ? AND f.parent_id = ?
			  ORDER BY f.created_at ASC, f.id ASC`

	return q.queryFolders(ctx, span, query, userID, parentID)
}

// ListChildFolderIDs returns the ids of the direct subfolders of parentID
func (q *mysqlQueries) ListChildFolderIDs(ctx context.Context, parentID string) ([]string, error) {
	ctx, span := q.start(ctx, "list_child_folder_ids", attribute.String("folder_id", parentID))
	defer span.End()

	rows, err := q.db.QueryContext(ctx, `SELECT id FROM folders WHERE parent_id = ?`, parentID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query child folders: %w", err)
	}
	return collectIDs(span, rows)
}

// FindSiblingFolder finds a folder with the given name under the same parent,
// ignoring excludeID. Returns nil, nil when there is none.
func (q *mysqlQueries) FindSiblingFolder(ctx context.Context, userID string, parentID *string, name, excludeID string) (*models.Folder, error) {
	ctx, span := q.start(ctx, "find_sibling_folder",
		attribute.String("user_id", userID),
		attribute.String("name", name),
	)
	defer span.End()

	parentKey := ""
	if parentID != nil {
		parentKey = *parentID
	}

	query := `SELECT ` + folderColumns + `
			  FROM folders f
			  WHERE f.user_id = ? AND f.parent_key = ? AND f.name = ? AND f.id <> ?
			  LIMIT 1`

	folder, err := scanFolder(q.db.QueryRowContext(ctx, query, userID, parentKey, name, excludeID), false)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, nil
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query sibling folder: %w", err)
	}

	span.SetAttributes(attribute.Bool("found", true))
	return folder, nil
}

// CountFolders counts all folders owned by userID
func (q *mysqlQueries) CountFolders(ctx context.Context, userID string) (int, error) {
	ctx, span := q.start(ctx, "count_folders", attribute.String("user_id", userID))
	defer span.End()

	return q.count(ctx, span, `SELECT COUNT(*) FROM folders WHERE user_id = ?`, userID)
}

// CreateFolder inserts a folder
func (q *mysqlQueries) CreateFolder(ctx context.Context, folder *models.Folder) error {
	ctx, span := q.start(ctx, "create_folder",
		attribute.String("folder_id", folder.ID),
		attribute.Int("depth", folder.Depth),
	)
	defer span.End()

	query := `INSERT INTO folders (id, user_id, parent_id, name, depth, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := q.db.ExecContext(ctx, query,
		folder.ID, folder.UserID, folder.ParentID, folder.Name, folder.Depth, folder.CreatedAt, folder.UpdatedAt)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert folder: %w", translate(err))
	}

	span.SetAttributes(attribute.Bool("insert_success", true))
	return nil
}

// RenameFolder updates a folder's name
func (q *mysqlQueries) RenameFolder(ctx context.Context, id, name string, updatedAt time.Time) error {
	ctx, span := q.start(ctx, "rename_folder", attribute.String("folder_id", id))
	defer span.End()

	query := `UPDATE folders SET name = ?, updated_at = ? WHERE id = ?`
	if err := q.execOne(ctx, span, query, name, updatedAt, id); err != nil {
		return fmt.Errorf("failed to rename folder %s: %w", id, err)
	}
	return nil
}

// DeleteFolder deletes one folder row. Children and files must already be gone.
func (q *mysqlQueries) DeleteFolder(ctx context.Context, id string) error {
	ctx, span := q.start(ctx, "delete_folder", attribute.String("folder_id", id))
	defer span.End()

	if err := q.execOne(ctx, span, `DELETE FROM folders WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete folder %s: %w", id, err)
	}
	return nil
}

// --- Files ---

const fileColumns = `x.id, x.user_id, x.folder_id, x.name, x.original_name, x.file_type, x.mime_type,
	x.size_mb, x.storage_key, x.storage_url, x.created_at, x.updated_at`

func scanFile(row scanner, extra ...any) (*models.File, error) {
	var file models.File
	dest := append([]any{
		&file.ID,
		&file.UserID,
		&file.FolderID,
		&file.Name,
		&file.OriginalName,
		&file.FileType,
		&file.MIMEType,
		&file.SizeMB,
		&file.StorageKey,
		&file.StorageURL,
		&file.CreatedAt,
		&file.UpdatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &file, nil
}

// GetFile retrieves file metadata by ID together with its folder's name
func (q *mysqlQueries) GetFile(ctx context.Context, id string) (*models.File, error) {
	ctx, span := q.start(ctx, "get_file", attribute.String("file_id", id))
	defer span.End()

	query := `SELECT ` + fileColumns + `, f.name
			  FROM files x JOIN folders f ON f.id = x.folder_id
			  WHERE x.id = ?`

	var folderName string
	file, err := scanFile(q.db.QueryRowContext(ctx, query, id), &folderName)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, fmt.Errorf("file %s: %w", id, ErrNotFound)
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query file: %w", err)
	}
	file.Folder = &models.FolderRef{ID: file.FolderID, Name: folderName}

	span.SetAttributes(attribute.Bool("found", true))
	return file, nil
}

// ListFolderFiles returns the files directly inside folderID in creation order
func (q *mysqlQueries) ListFolderFiles(ctx context.Context, userID, folderID string) ([]*models.File, error) {
	ctx, span := q.start(ctx, "list_folder_files", attribute.String("folder_id", folderID))
	defer span.End()

	query := `SELECT ` + fileColumns + `
			  FROM files x
			  WHERE x.user_id = ? AND x.folder_id = ?
			  ORDER BY x.created_at ASC, x.id ASC`

	rows, err := q.db.QueryContext(ctx, query, userID, folderID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	files := []*models.File{}
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, file)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating files: %w", err)
	}

	span.SetAttributes(attribute.Int("file_count", len(files)))
	return files, nil
}

// ListFileIDsInFolders returns the ids of every file inside any of folderIDs
func (q *mysqlQueries) ListFileIDsInFolders(ctx context.Context, folderIDs []string) ([]string, error) {
	ctx, span := q.start(ctx, "list_file_ids_in_folders", attribute.Int("folder_count", len(folderIDs)))
	defer span.End()

	if len(folderIDs) == 0 {
		return nil, nil
	}

	query := `SELECT id FROM files WHERE folder_id IN (` + placeholders(len(folderIDs)) + `)`
	rows, err := q.db.QueryContext(ctx, query, stringArgs(folderIDs)...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query file ids: %w", err)
	}
	return collectIDs(span, rows)
}

// ListFileKeysInFolders returns the byte store keys of every file inside any of folderIDs
func (q *mysqlQueries) ListFileKeysInFolders(ctx context.Context, folderIDs []string) ([]string, error) {
	ctx, span := q.start(ctx, "list_file_keys_in_folders", attribute.Int("folder_count", len(folderIDs)))
	defer span.End()

	if len(folderIDs) == 0 {
		return nil, nil
	}

	query := `SELECT storage_key FROM files WHERE folder_id IN (` + placeholders(len(folderIDs)) + `)`
	rows, err := q.db.QueryContext(ctx, query, stringArgs(folderIDs)...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query file keys: %w", err)
	}
	return collectIDs(span, rows)
}

// CountFiles counts all files owned by userID
func (q *mysqlQueries) CountFiles(ctx context.Context, userID string) (int, error) {
	ctx, span := q.start(ctx, "count_files", attribute.String("user_id", userID))
	defer span.End()

	return q.count(ctx, span, `SELECT COUNT(*) FROM files WHERE user_id = ?`, userID)
}

// CountFolderFiles counts the files directly inside folderID
func (q *mysqlQueries) CountFolderFiles(ctx context.Context, folderID string) (int, error) {
	ctx, span := q.start(ctx, "count_folder_files", attribute.String("folder_id", folderID))
	defer span.End()

	return q.count(ctx, span, `SELECT COUNT(*) FROM files WHERE folder_id = ?`, folderID)
}

// CreateFile inserts file metadata
func (q *mysqlQueries) CreateFile(ctx context.Context, file *models.File) error {
	ctx, span := q.start(ctx, "create_file",
		attribute.String("file_id", file.ID),
		attribute.String("file_name", file.Name),
		attribute.Float64("size_mb", file.SizeMB),
	)
	defer span.End()

	query := `INSERT INTO files (id, user_id, folder_id, name, original_name, file_type, mime_type,
			  size_mb, storage_key, storage_url, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := q.db.ExecContext(ctx, query,
		file.ID, file.UserID, file.FolderID, file.Name, file.OriginalName, file.FileType, file.MIMEType,
		file.SizeMB, file.StorageKey, file.StorageURL, file.CreatedAt, file.UpdatedAt)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert file: %w", translate(err))
	}

	span.SetAttributes(attribute.Bool("insert_success", true))
	return nil
}

// RenameFile updates a file's display name
func (q *mysqlQueries) RenameFile(ctx context.Context, id, name string, updatedAt time.Time) error {
	ctx, span := q.start(ctx, "rename_file", attribute.String("file_id", id))
	defer span.End()

	query := `UPDATE files SET name = ?, updated_at = ? WHERE id = ?`
	if err := q.execOne(ctx, span, query, name, updatedAt, id); err != nil {
		return fmt.Errorf("failed to rename file %s: %w", id, err)
	}
	return nil
}

// DeleteFile deletes one file row
func (q *mysqlQueries) DeleteFile(ctx context.Context, id string) error {
	ctx, span := q.start(ctx, "delete_file", attribute.String("file_id", id))
	defer span.End()

	if err := q.execOne(ctx, span, `DELETE FROM files WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete file %s: %w", id, err)
	}
	return nil
}

// DeleteFilesInFolders deletes every file inside any of folderIDs
func (q *mysqlQueries) DeleteFilesInFolders(ctx context.Context, folderIDs []string) (int64, error) {
	ctx, span := q.start(ctx, "delete_files_in_folders", attribute.Int("folder_count", len(folderIDs)))
	defer span.End()

	if len(folderIDs) == 0 {
		return 0, nil
	}

	query := `DELETE FROM files WHERE folder_id IN (` + placeholders(len(folderIDs)) + `)`
	res, err := q.db.ExecContext(ctx, query, stringArgs(folderIDs)...)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to delete files: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	span.SetAttributes(attribute.Int64("files_deleted", n))
	return n, nil
}

// --- Packages ---

const packageColumns = `p.id, p.name, p.price, p.max_folders, p.max_nesting_level, p.allowed_file_types,
	p.max_file_size_mb, p.total_file_limit, p.files_per_folder, p.is_active, p.created_at, p.updated_at`

func scanPackage(row scanner, prefix ...any) (*models.Package, error) {
	var (
		pkg          models.Package
		allowedTypes string
	)
	dest := append(prefix,
		&pkg.ID,
		&pkg.Name,
		&pkg.Price,
		&pkg.MaxFolders,
		&pkg.MaxNestingLevel,
		&allowedTypes,
		&pkg.MaxFileSizeMB,
		&pkg.TotalFileLimit,
		&pkg.FilesPerFolder,
		&pkg.IsActive,
		&pkg.CreatedAt,
		&pkg.UpdatedAt,
	)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	pkg.AllowedFileTypes = parseFileTypeSet(allowedTypes)
	return &pkg, nil
}

// parseFileTypeSet decodes a MySQL SET value such as "PDF,IMAGE"
func parseFileTypeSet(value string) []models.FileType {
	types := []models.FileType{}
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			types = append(types, models.FileType(part))
		}
	}
	return types
}

func formatFileTypeSet(types []models.FileType) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}

// GetPackage retrieves a package by ID
func (q *mysqlQueries) GetPackage(ctx context.Context, id string) (*models.Package, error) {
	ctx, span := q.start(ctx, "get_package", attribute.String("package_id", id))
	defer span.End()

	query := `SELECT ` + packageColumns + ` FROM packages p WHERE p.id = ?`

	pkg, err := scanPackage(q.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, fmt.Errorf("package %s: %w", id, ErrNotFound)
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query package: %w", err)
	}

	span.SetAttributes(attribute.Bool("found", true))
	return pkg, nil
}

// ListPackages returns every package, cheapest first
func (q *mysqlQueries) ListPackages(ctx context.Context) ([]*models.Package, error) {
	ctx, span := q.start(ctx, "list_packages")
	defer span.End()

	query := `SELECT ` + packageColumns + ` FROM packages p ORDER BY p.price ASC, p.created_at ASC`

	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query packages: %w", err)
	}
	defer rows.Close()

	packages := []*models.Package{}
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan package: %w", err)
		}
		packages = append(packages, pkg)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating packages: %w", err)
	}
	return packages, nil
}

// CreatePackage inserts a package
func (q *mysqlQueries) CreatePackage(ctx context.Context, pkg *models.Package) error {
	ctx, span := q.start(ctx, "create_package",
		attribute.String("package_id", pkg.ID),
		attribute.String("tier", string(pkg.Name)),
	)
	defer span.End()

	query := `INSERT INTO packages (id, name, price, max_folders, max_nesting_level, allowed_file_types,
			  max_file_size_mb, total_file_limit, files_per_folder, is_active, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := q.db.ExecContext(ctx, query,
		pkg.ID, pkg.Name, pkg.Price, pkg.MaxFolders, pkg.MaxNestingLevel, formatFileTypeSet(pkg.AllowedFileTypes),
		pkg.MaxFileSizeMB, pkg.TotalFileLimit, pkg.FilesPerFolder, pkg.IsActive, pkg.CreatedAt, pkg.UpdatedAt)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert package: %w", translate(err))
	}
	return nil
}

// UpdatePackage overwrites every mutable column of a package
func (q *mysqlQueries) UpdatePackage(ctx context.Context, pkg *models.Package) error {
	ctx, span := q.start(ctx, "update_package", attribute.String("package_id", pkg.ID))
	defer span.End()

	query := `UPDATE packages SET name = ?, price = ?, max_folders = ?, max_nesting_level = ?,
			  allowed_file_types = ?, max_file_size_mb = ?, total_file_limit = ?, files_per_folder = ?,
			  is_active = ?, updated_at = ?
			  WHERE id = ?`

	err := q.execOne(ctx, span, query,
		pkg.Name, pkg.Price, pkg.MaxFolders, pkg.MaxNestingLevel, formatFileTypeSet(pkg.AllowedFileTypes),
		pkg.MaxFileSizeMB, pkg.TotalFileLimit, pkg.FilesPerFolder, pkg.IsActive, pkg.UpdatedAt, pkg.ID)
	if err != nil {
		return fmt.Errorf("failed to update package %s: %w", pkg.ID, err)
	}
	return nil
}

// DeletePackage deletes a package that no subscription references
func (q *mysqlQueries) DeletePackage(ctx context.Context, id string) error {
	ctx, span := q.start(ctx, "delete_package", attribute.String("package_id", id))
	defer span.End()

	if err := q.execOne(ctx, span, `DELETE FROM packages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete package %s: %w", id, err)
	}
	return nil
}

// --- Subscriptions ---

const subscriptionColumns = `s.id, s.user_id, s.package_id, s.is_active, s.start_date, s.end_date`

func scanSubscription(row scanner) (*models.Subscription, error) {
	var (
		sub     models.Subscription
		endDate sql.NullTime
	)
	pkg, err := scanPackage(row, &sub.ID, &sub.UserID, &sub.PackageID, &sub.IsActive, &sub.StartDate, &endDate)
	if err != nil {
		return nil, err
	}
	if endDate.Valid {
		sub.EndDate = &endDate.Time
	}
	sub.Package = pkg
	return &sub, nil
}

// GetActiveSubscription returns the user's active subscription with its package,
// most recent start date first
func (q *mysqlQueries) GetActiveSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	ctx, span := q.start(ctx, "get_active_subscription", attribute.String("user_id", userID))
	defer span.End()

	query := `SELECT ` + subscriptionColumns + `, ` + packageColumns + `
			  FROM user_subscriptions s JOIN packages p ON p.id = s.package_id
			  WHERE s.user_id = ? AND s.is_active = TRUE
			  ORDER BY s.start_date DESC
			  LIMIT 1`

	sub, err := scanSubscription(q.db.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, fmt.Errorf("active subscription for %s: %w", userID, ErrNotFound)
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query subscription: %w", err)
	}

	span.SetAttributes(
		attribute.Bool("found", true),
		attribute.String("tier", string(sub.Package.Name)),
	)
	return sub, nil
}

// ListSubscriptions returns the user's subscription history, newest first
func (q *mysqlQueries) ListSubscriptions(ctx context.Context, userID string) ([]*models.Subscription, error) {
	ctx, span := q.start(ctx, "list_subscriptions", attribute.String("user_id", userID))
	defer span.End()

	query := `SELECT ` + subscriptionColumns + `, ` + packageColumns + `
			  FROM user_subscriptions s JOIN packages p ON p.id = s.package_id
			  WHERE s.user_id = ?
			  ORDER BY s.start_date DESC`

	rows, err := q.db.QueryContext(ctx, query, userID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()

	subs := []*models.Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating subscriptions: %w", err)
	}
	return subs, nil
}

// CreateSubscription inserts a subscription row
func (q *mysqlQueries) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	ctx, span := q.start(ctx, "create_subscription",
		attribute.String("user_id", sub.UserID),
		attribute.String("package_id", sub.PackageID),
	)
	defer span.End()

	query := `INSERT INTO user_subscriptions (id, user_id, package_id, is_active, start_date, end_date)
			  VALUES (?, ?, ?, ?, ?, ?)`

	_, err := q.db.ExecContext(ctx, query, sub.ID, sub.UserID, sub.PackageID, sub.IsActive, sub.StartDate, sub.EndDate)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert subscription: %w", translate(err))
	}
	return nil
}

// DeactivateSubscription ends a subscription
func (q *mysqlQueries) DeactivateSubscription(ctx context.Context, id string, endDate time.Time) error {
	ctx, span := q.start(ctx, "deactivate_subscription", attribute.String("subscription_id", id))
	defer span.End()

	query := `UPDATE user_subscriptions SET is_active = FALSE, end_date = ? WHERE id = ?`
	if err := q.execOne(ctx, span, query, endDate, id); err != nil {
		return fmt.Errorf("failed to deactivate subscription %s: %w", id, err)
	}
	return nil
}

// --- helpers ---

func (q *mysqlQueries) count(ctx context.Context, span trace.Span, query string, args ...any) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to count: %w", err)
	}
	span.SetAttributes(attribute.Int("count", n))
	return n, nil
}

// execOne runs a statement that must touch exactly one row and reports
// ErrNotFound when it matched none.
func (q *mysqlQueries) execOne(ctx context.Context, span trace.Span, query string, args ...any) error {
	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func collectIDs(span trace.Span, rows *sql.Rows) ([]string, error) {
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating ids: %w", err)
	}
	return ids, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
