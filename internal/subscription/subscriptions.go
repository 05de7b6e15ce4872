package subscription

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/maneesh/quotadrive/internal/apperr"
	"github.com/maneesh/quotadrive/internal/logger"
	"github.com/maneesh/quotadrive/internal/models"
	"github.com/maneesh/quotadrive/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	errPackageUnavailable = apperr.BadRequest("This subscription package is not available!")
	errAlreadySelected    = apperr.BadRequest("You already have this package selected!")
)

// MySubscriptions returns the active subscription, if any, and the whole
// history newest first.
func (s *Service) MySubscriptions(ctx context.Context, userID string) (overview *models.SubscriptionOverview, err error) {
	ctx, span := tracer.Start(ctx, "subscription.list", trace.WithAttributes(attribute.String("user_id", userID)))
	defer func() { finish(span, err) }()

	history, err := s.store.ListSubscriptions(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(err, "list subscriptions")
	}

	overview = &models.SubscriptionOverview{History: history}
	for _, sub := range history {
		if sub.IsActive {
			overview.Active = sub
			break
		}
	}
	return overview, nil
}

// SelectPackage switches the user to packageID. The previous active
// subscription is closed in the same transaction that opens the new one, so
// a user never has two active subscriptions.
func (s *Service) SelectPackage(ctx context.Context, userID, packageID string) (selected *models.Subscription, err error) {
	ctx, span := tracer.Start(ctx, "subscription.select", trace.WithAttributes(
		attribute.String("user_id", userID),
		attribute.String("package_id", packageID),
	))
	defer func() { finish(span, err) }()

	err = s.store.WithTx(ctx, func(q storage.Queries) error {
		if err := q.LockUser(ctx, userID); err != nil {
			return apperr.Wrap(err, "lock user")
		}

		pkg, err := loadPackage(ctx, q, packageID)
		if err != nil {
			return err
		}
		if !pkg.IsActive {
			return errPackageUnavailable
		}

		current, err := q.GetActiveSubscription(ctx, userID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return apperr.Wrap(err, "load active subscription")
		}

		now := s.now()
		if current != nil {
			if current.PackageID == packageID {
				return errAlreadySelected
			}
			if err := q.DeactivateSubscription(ctx, current.ID, now); err != nil {
				return apperr.Wrap(err, "deactivate subscription")
			}
		}

		sub := &models.Subscription{
			ID:        uuid.New().String(),
			UserID:    userID,
			PackageID: packageID,
			IsActive:  true,
			StartDate: now,
		}
		if err := q.CreateSubscription(ctx, sub); err != nil {
			return apperr.Wrap(err, "create subscription")
		}
		sub.Package = pkg
		selected = sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info().
		Str("user_id", userID).
		Str("package_id", packageID).
		Str("subscription_id", selected.ID).
		Msg("package selected")

	return selected, nil
}
