// Package handlers is the HTTP request layer. It authenticates the caller,
// decodes the request, calls the folder, file and subscription services and
// writes the JSON envelope.
package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/maneesh/quotadrive/internal/apperr"
	"github.com/maneesh/quotadrive/internal/metrics"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Deps are the services mounted by NewRouter
type Deps struct {
	ServiceName    string
	Auth           TokenAuthenticator
	AdminRole      string
	MaxUploadBytes int64

	Folders       FolderService
	Files         FileService
	Packages      PackageService
	Subscriptions SubscriptionService
}

// NewRouter builds the route table. Everything under /api/v1 requires a
// bearer token; catalog mutations also require the admin role.
func NewRouter(d Deps) *mux.Router {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, apperr.NotFound("Route not found!"))
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, apperr.New(apperr.KindBadRequest, "Method not allowed on this route."))
	})

	router.Use(
		accessLog,
		recoverer,
		otelhttp.NewMiddleware(d.ServiceName, otelhttp.WithSpanNameFormatter(spanName)),
		metrics.Middleware,
	)

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(authenticate(d.Auth))

	folders := NewFolderHandler(d.Folders)
	api.HandleFunc("/folders", folders.List).Methods(http.MethodGet)
	api.HandleFunc("/folders", folders.Create).Methods(http.MethodPost)
	api.HandleFunc("/folders/{id}/children", folders.Children).Methods(http.MethodGet)
	api.HandleFunc("/folders/{id}", folders.Rename).Methods(http.MethodPatch)
	api.HandleFunc("/folders/{id}", folders.Delete).Methods(http.MethodDelete)

	files := NewFileHandler(d.Files, d.MaxUploadBytes)
	api.HandleFunc("/files/upload", files.Upload).Methods(http.MethodPost)
	api.HandleFunc("/files/{id}", files.Get).Methods(http.MethodGet)
	api.HandleFunc("/files/{id}", files.Rename).Methods(http.MethodPatch)
	api.HandleFunc("/files/{id}", files.Delete).Methods(http.MethodDelete)
	api.HandleFunc("/files/{id}/download", files.Download).Methods(http.MethodGet)

	packages := NewPackageHandler(d.Packages)
	api.HandleFunc("/packages", packages.List).Methods(http.MethodGet)
	api.HandleFunc("/packages/{id}", packages.Get).Methods(http.MethodGet)
	api.Handle("/packages", requireRole(d.AdminRole, http.HandlerFunc(packages.Create))).Methods(http.MethodPost)
	api.Handle("/packages/{id}", requireRole(d.AdminRole, http.HandlerFunc(packages.Update))).Methods(http.MethodPut)
	api.Handle("/packages/{id}", requireRole(d.AdminRole, http.HandlerFunc(packages.Delete))).Methods(http.MethodDelete)

	subscriptions := NewSubscriptionHandler(d.Subscriptions)
	api.HandleFunc("/subscriptions/my", subscriptions.Mine).Methods(http.MethodGet)
	api.HandleFunc("/subscriptions/select/{packageId}", subscriptions.Select).Methods(http.MethodPost)

	return router
}

// spanName names server spans after the route template, e.g. "GET /api/v1/files/{id}"
func spanName(_ string, r *http.Request) string {
	if current := mux.CurrentRoute(r); current != nil {
		if tmpl, err := current.GetPathTemplate(); err == nil {
			return r.Method + " " + tmpl
		}
	}
	return r.Method + " " + r.URL.Path
}
