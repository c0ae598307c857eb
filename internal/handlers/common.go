package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/fndparking/admin/internal/middleware"
	"github.com/fndparking/admin/internal/models"
	"github.com/fndparking/admin/internal/services"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" {
			name = strings.SplitN(f.Tag.Get("query"), ",", 2)[0]
		}
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// validationErrors flattens validator errors into field -> message.
func validationErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"request": "is invalid"}
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			out[fe.Field()] = "is required"
		case "email":
			out[fe.Field()] = "must be a valid email address"
		case "oneof":
			out[fe.Field()] = "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
		case "max":
			out[fe.Field()] = "must be at most " + fe.Param() + " characters"
		default:
			out[fe.Field()] = "is invalid"
		}
	}
	return out
}

// decodeAndValidate reads a JSON body into dst. It writes the error response
// itself and reports false when the request should stop.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("Invalid request body"))
		return false
	}
	if err := v.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, models.NewValidationErrorResponse(validationErrors(err)))
		return false
	}
	return true
}

// writeServiceError maps a service error onto a status code and envelope.
func writeServiceError(w http.ResponseWriter, r *http.Request, log zerolog.Logger, err error, notFoundMsg string) {
	if actor := middleware.GetUserID(r.Context()); actor != "" {
		log = log.With().Str("actor", actor).Logger()
	}
	var (
		dataErr  *services.DataAccessError
		writeErr *services.RemoteWriteError
	)
	switch {
	case errors.Is(err, services.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Invalid email or password"))
	case errors.Is(err, services.ErrSessionRevoked):
		writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Session has been signed out"))
	case errors.Is(err, services.ErrAdminImmutable):
		writeJSON(w, http.StatusForbidden, models.NewErrorResponse("Admin accounts cannot be deactivated"))
	case errors.Is(err, services.ErrInvalidStatus):
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse(err.Error()))
	case errors.Is(err, services.ErrNotFound):
		writeJSON(w, http.StatusNotFound, models.NewErrorResponse(notFoundMsg))
	case errors.Is(err, services.ErrSessionClosed):
		writeJSON(w, http.StatusGone, models.NewErrorResponse("Session has ended"))
	case errors.Is(err, services.ErrTimeout):
		log.Warn().Err(err).Msg("store timeout")
		writeJSON(w, http.StatusGatewayTimeout, models.NewErrorResponse("The data store did not respond in time"))
	case errors.As(err, &dataErr):
		log.Error().Err(err).Msg("load failed")
		writeJSON(w, http.StatusBadGateway, models.NewErrorResponse(dataErr.Error()))
	case errors.As(err, &writeErr):
		log.Error().Err(err).Msg("write failed")
		writeJSON(w, http.StatusBadGateway, models.NewErrorResponse("Failed to save changes: "+writeErr.Err.Error()))
	default:
		log.Error().Err(err).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Internal server error"))
	}
}

// queryPage parses a 1-based page number, defaulting to 1.
func queryPage(r *http.Request, name string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// sessionHandler resolves the caller's dashboard session.
type sessionHandler struct {
	sessions *services.Sessions
	log      zerolog.Logger
}

func (h sessionHandler) dashboard(w http.ResponseWriter, r *http.Request) (*services.Dashboard, bool) {
	session := middleware.GetSession(r.Context())
	if session == nil {
		writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Unauthorized"))
		return nil, false
	}
	return h.sessions.Dashboard(r.Context(), session.ID, session.Principal), true
}
