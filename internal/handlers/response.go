package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/maneesh/quotadrive/internal/apperr"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const maxJSONBody = 1 << 20

var errInvalidBody = apperr.BadRequest("Invalid request body.")

// envelope is the body of every JSON response
type envelope struct {
	Success bool       `json:"success"`
	Message string     `json:"message"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Kind apperr.Kind `json:"kind"`
}

func respond(w http.ResponseWriter, status int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Message: message, Data: data})
}

// respondError maps err to its status code. Internal failures are logged
// with their cause; the client only sees a generic message.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("error.kind", string(kind)))

	log := zerolog.Ctx(r.Context())
	if kind == apperr.KindInternal {
		span.RecordError(err)
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	} else {
		log.Debug().Str("kind", string(kind)).Str("message", apperr.MessageOf(err)).Msg("request rejected")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{
		Success: false,
		Message: apperr.MessageOf(err),
		Error:   &errorBody{Kind: kind},
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return apperr.BadRequestf("Invalid value for field %q.", typeErr.Field)
		}
		return errInvalidBody
	}
	return nil
}
