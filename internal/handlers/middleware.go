package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/maneesh/quotadrive/internal/apperr"
	"github.com/maneesh/quotadrive/internal/auth"
	"github.com/maneesh/quotadrive/internal/logger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const requestIDHeader = "X-Request-ID"

var (
	errNoIdentity = apperr.Unauthorized("You are not authorized!")
	errNoRole     = apperr.Forbidden("You do not have permission to perform this action!")
)

// TokenAuthenticator resolves the caller of a request
type TokenAuthenticator interface {
	FromRequest(r *http.Request) (auth.Identity, error)
}

type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rr *responseRecorder) WriteHeader(code int) {
	rr.status = code
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	n, err := rr.ResponseWriter.Write(b)
	rr.bytes += n
	return n, err
}

func (rr *responseRecorder) Unwrap() http.ResponseWriter {
	return rr.ResponseWriter
}

// accessLog tags the request with an id, attaches a request-scoped logger to
// the context and logs one line per request.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, requestID)

		log := logger.Log.With().Str("request_id", requestID).Logger()
		r = r.WithContext(log.WithContext(r.Context()))
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}

		log.Info().
			Str("method", r.Method).
			Str("route", route).
			Int("status", rec.status).
			Int("bytes", rec.bytes).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// recoverer turns a panic in a handler into a 500 response
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				respondError(w, r, apperr.Internal(fmt.Errorf("handler panicked: %v", v)))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// authenticate rejects requests without a valid bearer token and stores the
// caller's identity in the request context.
func authenticate(a TokenAuthenticator) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := a.FromRequest(r)
			if err != nil {
				respondError(w, r, err)
				return
			}
			trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("user_id", identity.UserID))
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
		})
	}
}

// requireRole lets through only callers holding role
func requireRole(role string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := auth.FromContext(r.Context())
		if !ok {
			respondError(w, r, errNoIdentity)
			return
		}
		if !identity.HasRole(role) {
			respondError(w, r, errNoRole)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userID(r *http.Request) (string, error) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		return "", errNoIdentity
	}
	return identity.UserID, nil
}
