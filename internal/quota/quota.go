// Package quota resolves a user's active package and evaluates the plan
// limits that gate folder and file mutations. The checks are pure functions
// of a package and freshly read counts; callers run them inside the
// transaction that performs the write.
package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/maneesh/quotadrive/internal/apperr"
	"github.com/maneesh/quotadrive/internal/metrics"
	"github.com/maneesh/quotadrive/internal/models"
	"github.com/maneesh/quotadrive/internal/storage"
)

// Rule names, used as the metrics label of a rejection
const (
	RuleSubscription = "subscription"
	RuleMaxFolders   = "max_folders"
	RuleNesting      = "max_nesting_level"
	RuleMIMEType     = "mime_type"
	RuleFileType     = "file_type"
	RuleFileSize     = "max_file_size"
	RuleTotalFiles   = "total_file_limit"
	RuleFolderFiles  = "files_per_folder"
)

const bytesPerMB = 1024 * 1024

// SubscriptionReader is the part of the store needed to find a user's plan
type SubscriptionReader interface {
	GetActiveSubscription(ctx context.Context, userID string) (*models.Subscription, error)
}

// ActivePackage returns the package of the user's active subscription. A user
// without one is Forbidden.
func ActivePackage(ctx context.Context, r SubscriptionReader, userID string) (*models.Package, error) {
	sub, err := r.GetActiveSubscription(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && sub.Package == nil) {
		return nil, reject(RuleSubscription, apperr.Forbidden("You do not have an active subscription package."))
	}
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to load active subscription: %w", err))
	}
	return sub.Package, nil
}

// CheckFolderCount rejects a new folder when the user already owns maxFolders
func CheckFolderCount(pkg *models.Package, current int) error {
	if current >= pkg.MaxFolders {
		return reject(RuleMaxFolders, apperr.Forbiddenf(
			"Folder limit reached. Your %s plan allows a maximum of %d folders.", pkg.Name, pkg.MaxFolders))
	}
	return nil
}

// CheckNesting rejects a folder at depth. Depth is 0-indexed, so a limit of 3
// allows depths 0, 1 and 2.
func CheckNesting(pkg *models.Package, depth int) error {
	if depth >= pkg.MaxNestingLevel {
		return reject(RuleNesting, apperr.Forbiddenf(
			"Maximum nesting level (%d) reached for your %s plan.", pkg.MaxNestingLevel, pkg.Name))
	}
	return nil
}

// CheckFileType maps mimeType to a file type and checks the plan allows it
func CheckFileType(pkg *models.Package, mimeType string) (models.FileType, error) {
	ft, ok := models.FileTypeFromMIME(mimeType)
	if !ok {
		return "", reject(RuleMIMEType, apperr.BadRequest("Unsupported file type."))
	}
	if !pkg.Allows(ft) {
		return "", reject(RuleFileType, apperr.Forbiddenf(
			"File type %s is not allowed on your %s plan. Allowed types: %s.",
			ft, pkg.Name, models.JoinFileTypes(pkg.AllowedFileTypes)))
	}
	return ft, nil
}

// CheckFileSize rejects payloads larger than maxFileSizeMB. A file exactly at
// the limit is accepted.
func CheckFileSize(pkg *models.Package, sizeMB float64) error {
	if sizeMB > pkg.MaxFileSizeMB {
		return reject(RuleFileSize, apperr.Forbiddenf(
			"File size (%.2fMB) exceeds the %gMB limit for your %s plan.", sizeMB, pkg.MaxFileSizeMB, pkg.Name))
	}
	return nil
}

func CheckTotalFiles(pkg *models.Package, current int) error {
	if current >= pkg.TotalFileLimit {
		return reject(RuleTotalFiles, apperr.Forbiddenf(
			"Total file limit (%d) reached for your %s plan.", pkg.TotalFileLimit, pkg.Name))
	}
	return nil
}

func CheckFolderFiles(pkg *models.Package, current int) error {
	if current >= pkg.FilesPerFolder {
		return reject(RuleFolderFiles, apperr.Forbiddenf(
			"This folder has reached the maximum files per folder (%d) for your %s plan.", pkg.FilesPerFolder, pkg.Name))
	}
	return nil
}

// SizeMB converts a byte count to megabytes
func SizeMB(bytes int64) float64 {
	return float64(bytes) / bytesPerMB
}

func reject(rule string, err *apperr.Error) error {
	metrics.QuotaRejections.WithLabelValues(rule).Inc()
	return err
}
