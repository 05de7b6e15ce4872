package quota

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/maneesh/quotadrive/internal/apperr"
	"github.com/maneesh/quotadrive/internal/models"
	"github.com/maneesh/quotadrive/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubReader struct {
	sub *models.Subscription
	err error
}

func (r stubReader) GetActiveSubscription(context.Context, string) (*models.Subscription, error) {
	return r.sub, r.err
}

func silver() *models.Package {
	return &models.Package{
		ID:               "silver",
		Name:             models.TierSilver,
		MaxFolders:       10,
		MaxNestingLevel:  3,
		AllowedFileTypes: []models.FileType{models.FileTypeImage, models.FileTypePDF},
		MaxFileSizeMB:    5,
		TotalFileLimit:   20,
		FilesPerFolder:   5,
		IsActive:         true,
	}
}

func TestActivePackage(t *testing.T) {
	ctx := context.Background()
	pkg := silver()

	got, err := ActivePackage(ctx, stubReader{sub: &models.Subscription{Package: pkg}}, "u1")
	require.NoError(t, err)
	assert.Same(t, pkg, got)

	_, err = ActivePackage(ctx, stubReader{err: fmt.Errorf("lookup: %w", storage.ErrNotFound)}, "u1")
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.Equal(t, "You do not have an active subscription package.", apperr.MessageOf(err))

	_, err = ActivePackage(ctx, stubReader{err: errors.New("connection refused")}, "u1")
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}

func TestCheckNesting(t *testing.T) {
	pkg := silver()

	assert.NoError(t, CheckNesting(pkg, 0))
	assert.NoError(t, CheckNesting(pkg, 2))

	err := CheckNesting(pkg, 3)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.Equal(t, "Maximum nesting level (3) reached for your SILVER plan.", apperr.MessageOf(err))
}

func TestCheckFolderCount(t *testing.T) {
	pkg := silver()

	assert.NoError(t, CheckFolderCount(pkg, 9))
	err := CheckFolderCount(pkg, 10)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.Equal(t, "Folder limit reached. Your SILVER plan allows a maximum of 10 folders.", apperr.MessageOf(err))
}

func TestCheckFileType(t *testing.T) {
	pkg := silver()

	ft, err := CheckFileType(pkg, "image/png")
	require.NoError(t, err)
	assert.Equal(t, models.FileTypeImage, ft)

	ft, err = CheckFileType(pkg, "application/pdf; charset=binary")
	require.NoError(t, err)
	assert.Equal(t, models.FileTypePDF, ft)

	_, err = CheckFileType(pkg, "application/zip")
	assert.ErrorIs(t, err, apperr.ErrBadRequest)
	assert.Equal(t, "Unsupported file type.", apperr.MessageOf(err))

	_, err = CheckFileType(pkg, "video/mp4")
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.Equal(t, "File type VIDEO is not allowed on your SILVER plan. Allowed types: IMAGE, PDF.", apperr.MessageOf(err))
}

func TestCheckFileSize(t *testing.T) {
	pkg := silver()

	assert.NoError(t, CheckFileSize(pkg, 5))
	err := CheckFileSize(pkg, 5.5)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.Equal(t, "File size (5.50MB) exceeds the 5MB limit for your SILVER plan.", apperr.MessageOf(err))
}

func TestCheckFileCounts(t *testing.T) {
	pkg := silver()

	assert.NoError(t, CheckTotalFiles(pkg, 19))
	assert.Equal(t, "Total file limit (20) reached for your SILVER plan.", apperr.MessageOf(CheckTotalFiles(pkg, 20)))

	assert.NoError(t, CheckFolderFiles(pkg, 4))
	assert.Equal(t, "This folder has reached the maximum files per folder (5) for your SILVER plan.",
		apperr.MessageOf(CheckFolderFiles(pkg, 5)))
}

func TestSizeMB(t *testing.T) {
	assert.InDelta(t, 1.0, SizeMB(1024*1024), 1e-9)
	assert.InDelta(t, 2.5, SizeMB(5*512*1024), 1e-9)
}
