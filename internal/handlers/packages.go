package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/maneesh/quotadrive/internal/models"
	"github.com/maneesh/quotadrive/internal/subscription"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PackageService is the package catalog
type PackageService interface {
	ListPackages(ctx context.Context) ([]*models.Package, error)
	GetPackage(ctx context.Context, id string) (*models.Package, error)
	CreatePackage(ctx context.Context, in subscription.PackageInput) (*models.Package, error)
	UpdatePackage(ctx context.Context, id string, in subscription.PackageInput) (*models.Package, error)
	DeletePackage(ctx context.Context, id string) error
}

// SubscriptionService holds each user's subscription history
type SubscriptionService interface {
	MySubscriptions(ctx context.Context, userID string) (*models.SubscriptionOverview, error)
	SelectPackage(ctx context.Context, userID, packageID string) (*models.Subscription, error)
}

// PackageHandler serves /packages. Mutations are mounted behind the admin role.
type PackageHandler struct {
	packages PackageService
}

func NewPackageHandler(packages PackageService) *PackageHandler {
	return &PackageHandler{packages: packages}
}

func (ph *PackageHandler) List(w http.ResponseWriter, r *http.Request) {
	packages, err := ph.packages.ListPackages(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "Packages retrieved successfully", packages)
}

func (ph *PackageHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("package_id", id))

	pkg, err := ph.packages.GetPackage(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "Package retrieved successfully", pkg)
}

func (ph *PackageHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in subscription.PackageInput
	if err := decodeJSON(w, r, &in); err != nil {
		respondError(w, r, err)
		return
	}

	pkg, err := ph.packages.CreatePackage(r.Context(), in)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, "Package created successfully", pkg)
}

func (ph *PackageHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("package_id", id))

	var in subscription.PackageInput
	if err := decodeJSON(w, r, &in); err != nil {
		respondError(w, r, err)
		return
	}

	pkg, err := ph.packages.UpdatePackage(r.Context(), id, in)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "Package updated successfully", pkg)
}

func (ph *PackageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("package_id", id))

	if err := ph.packages.DeletePackage(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "Package deleted successfully", nil)
}

// SubscriptionHandler serves /subscriptions for the calling user
type SubscriptionHandler struct {
	subscriptions SubscriptionService
}

func NewSubscriptionHandler(subscriptions SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{subscriptions: subscriptions}
}

// Mine handles GET /subscriptions/my
func (sh *SubscriptionHandler) Mine(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	overview, err := sh.subscriptions.MySubscriptions(r.Context(), uid)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "Subscriptions retrieved successfully!", overview)
}

// Select handles POST /subscriptions/select/{packageId}
func (sh *SubscriptionHandler) Select(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	packageID := mux.Vars(r)["packageId"]
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("package_id", packageID))

	sub, err := sh.subscriptions.SelectPackage(r.Context(), uid, packageID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, "Package selected successfully!", sub)
}
