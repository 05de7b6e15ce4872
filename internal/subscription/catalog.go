// Package subscription manages the package catalog and each user's
// subscription history.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/maneesh/quotadrive/internal/apperr"
	"github.com/maneesh/quotadrive/internal/logger"
	"github.com/maneesh/quotadrive/internal/models"
	"github.com/maneesh/quotadrive/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("quotadrive-subscription")

var (
	errPackageNotFound   = apperr.NotFound("Subscription package not found!")
	errPackageReferenced = apperr.Conflict("This package has subscriptions and cannot be deleted.")
)

// PackageInput carries package fields from a request. Nil fields are absent:
// Create requires all but IsActive, Update changes only what is present.
type PackageInput struct {
	Name             *models.Tier      `json:"name"`
	Price            *float64          `json:"price"`
	MaxFolders       *int              `json:"maxFolders"`
	MaxNestingLevel  *int              `json:"maxNestingLevel"`
	AllowedFileTypes []models.FileType `json:"allowedFileTypes"`
	MaxFileSizeMB    *float64          `json:"maxFileSizeMB"`
	TotalFileLimit   *int              `json:"totalFileLimit"`
	FilesPerFolder   *int              `json:"filesPerFolder"`
	IsActive         *bool             `json:"isActive"`
}

// Service serves the package catalog and subscriptions
type Service struct {
	store storage.Store
	now   func() time.Time
}

func NewService(store storage.Store) *Service {
	return &Service{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.MessageOf(err))
	}
	span.End()
}

func (s *Service) ListPackages(ctx context.Context) (packages []*models.Package, err error) {
	ctx, span := tracer.Start(ctx, "package.list")
	defer func() { finish(span, err) }()

	packages, err = s.store.ListPackages(ctx)
	if err != nil {
		return nil, apperr.Wrap(err, "list packages")
	}
	return packages, nil
}

func (s *Service) GetPackage(ctx context.Context, id string) (pkg *models.Package, err error) {
	ctx, span := tracer.Start(ctx, "package.get", trace.WithAttributes(attribute.String("package_id", id)))
	defer func() { finish(span, err) }()

	return loadPackage(ctx, s.store, id)
}

func loadPackage(ctx context.Context, q storage.Queries, id string) (*models.Package, error) {
	pkg, err := q.GetPackage(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errPackageNotFound
	}
	if err != nil {
		return nil, apperr.Wrap(err, "load package")
	}
	return pkg, nil
}

// CreatePackage adds a package to the catalog. Packages are active unless
// the input says otherwise.
func (s *Service) CreatePackage(ctx context.Context, in PackageInput) (pkg *models.Package, err error) {
	ctx, span := tracer.Start(ctx, "package.create")
	defer func() { finish(span, err) }()

	if missing := in.missing(); len(missing) > 0 {
		return nil, apperr.BadRequestf("Missing required fields: %s.", strings.Join(missing, ", "))
	}

	now := s.now()
	pkg = &models.Package{
		ID:        uuid.New().String(),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	in.applyTo(pkg)
	if err := validatePackage(pkg); err != nil {
		return nil, err
	}

	if err := s.store.CreatePackage(ctx, pkg); err != nil {
		return nil, apperr.Wrap(err, "create package")
	}

	logger.Log.Info().Str("package_id", pkg.ID).Str("tier", string(pkg.Name)).Msg("package created")
	return pkg, nil
}

// UpdatePackage changes the fields present in the input
func (s *Service) UpdatePackage(ctx context.Context, id string, in PackageInput) (pkg *models.Package, err error) {
	ctx, span := tracer.Start(ctx, "package.update", trace.WithAttributes(attribute.String("package_id", id)))
	defer func() { finish(span, err) }()

	err = s.store.WithTx(ctx, func(q storage.Queries) error {
		current, err := loadPackage(ctx, q, id)
		if err != nil {
			return err
		}
		in.applyTo(current)
		current.UpdatedAt = s.now()
		if err := validatePackage(current); err != nil {
			return err
		}
		if err := q.UpdatePackage(ctx, current); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return errPackageNotFound
			}
			return apperr.Wrap(err, "update package")
		}
		pkg = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info().Str("package_id", id).Msg("package updated")
	return pkg, nil
}

// DeletePackage removes a package that no subscription has ever referenced
func (s *Service) DeletePackage(ctx context.Context, id string) (err error) {
	ctx, span := tracer.Start(ctx, "package.delete", trace.WithAttributes(attribute.String("package_id", id)))
	defer func() { finish(span, err) }()

	err = s.store.DeletePackage(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return errPackageNotFound
	case errors.Is(err, storage.ErrReferenced):
		return errPackageReferenced
	case err != nil:
		return apperr.Wrap(err, "delete package")
	}

	logger.Log.Info().Str("package_id", id).Msg("package deleted")
	return nil
}

func (in PackageInput) missing() []string {
	var fields []string
	if in.Name == nil {
		fields = append(fields, "name")
	}
	if in.Price == nil {
		fields = append(fields, "price")
	}
	if in.MaxFolders == nil {
		fields = append(fields, "maxFolders")
	}
	if in.MaxNestingLevel == nil {
		fields = append(fields, "maxNestingLevel")
	}
	if in.AllowedFileTypes == nil {
		fields = append(fields, "allowedFileTypes")
	}
	if in.MaxFileSizeMB == nil {
		fields = append(fields, "maxFileSizeMB")
	}
	if in.TotalFileLimit == nil {
		fields = append(fields, "totalFileLimit")
	}
	if in.FilesPerFolder == nil {
		fields = append(fields, "filesPerFolder")
	}
	return fields
}

func (in PackageInput) applyTo(pkg *models.Package) {
	if in.Name != nil {
		pkg.Name = *in.Name
	}
	if in.Price != nil {
		pkg.Price = *in.Price
	}
	if in.MaxFolders != nil {
		pkg.MaxFolders = *in.MaxFolders
	}
	if in.MaxNestingLevel != nil {
		pkg.MaxNestingLevel = *in.MaxNestingLevel
	}
	if in.AllowedFileTypes != nil {
		pkg.AllowedFileTypes = append([]models.FileType(nil), in.AllowedFileTypes...)
	}
	if in.MaxFileSizeMB != nil {
		pkg.MaxFileSizeMB = *in.MaxFileSizeMB
	}
	if in.TotalFileLimit != nil {
		pkg.TotalFileLimit = *in.TotalFileLimit
	}
	if in.FilesPerFolder != nil {
		pkg.FilesPerFolder = *in.FilesPerFolder
	}
	if in.IsActive != nil {
		pkg.IsActive = *in.IsActive
	}
}

func validatePackage(pkg *models.Package) error {
	var problems []string

	if !pkg.Name.Valid() {
		problems = append(problems, fmt.Sprintf("name must be one of SILVER, GOLD, DIAMOND (got %q)", pkg.Name))
	}
	if pkg.Price <= 0 {
		problems = append(problems, "price must be positive")
	}
	for _, limit := range []struct {
		field string
		value int
	}{
		{"maxFolders", pkg.MaxFolders},
		{"maxNestingLevel", pkg.MaxNestingLevel},
		{"totalFileLimit", pkg.TotalFileLimit},
		{"filesPerFolder", pkg.FilesPerFolder},
	} {
		if limit.value <= 0 {
			problems = append(problems, limit.field+" must be a positive integer")
		}
	}
	if pkg.MaxFileSizeMB <= 0 {
		problems = append(problems, "maxFileSizeMB must be positive")
	}
	if len(pkg.AllowedFileTypes) == 0 {
		problems = append(problems, "allowedFileTypes must not be empty")
	}
	seen := map[models.FileType]bool{}
	for _, ft := range pkg.AllowedFileTypes {
		if !ft.Valid() {
			problems = append(problems, fmt.Sprintf("unknown file type %q", ft))
		}
		if seen[ft] {
			problems = append(problems, fmt.Sprintf("file type %s listed twice", ft))
		}
		seen[ft] = true
	}

	if len(problems) == 0 {
		return nil
	}
	return apperr.BadRequestf("Invalid package: %s.", strings.Join(problems, "; "))
}
