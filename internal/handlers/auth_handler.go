package handlers

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/fndparking/admin/internal/middleware"
	"github.com/fndparking/admin/internal/models"
	"github.com/fndparking/admin/internal/services"
)

type AuthHandler struct {
	auth      *services.AuthService
	sessions  *services.Sessions
	validator *validator.Validate
	log       zerolog.Logger
}

func NewAuthHandler(auth *services.AuthService, sessions *services.Sessions, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		auth:      auth,
		sessions:  sessions,
		validator: newValidator(),
		log:       log.With().Str("handler", "auth").Logger(),
	}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if !decodeAndValidate(w, r, h.validator, &req) {
		return
	}

	resp, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if err != services.ErrInvalidCredentials {
			h.log.Error().Err(err).Str("email", req.Email).Msg("login failed")
			writeJSON(w, http.StatusBadGateway, models.NewErrorResponse("Sign-in is unavailable, try again later"))
			return
		}
		h.log.Info().Str("email", req.Email).Msg("rejected credentials")
		writeServiceError(w, r, h.log, err, "")
		return
	}

	h.log.Info().Str("user_id", resp.User.UserID).Msg("admin signed in")
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(resp))
}

// Logout revokes the session token and discards the session's dashboard.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())
	if session == nil {
		writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Unauthorized"))
		return
	}

	if err := h.auth.Logout(r.Context(), session); err != nil {
		h.log.Error().Err(err).Str("session", session.ID).Msg("revoke failed")
		writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Failed to sign out"))
		return
	}
	h.sessions.End(session.ID)

	writeJSON(w, http.StatusOK, models.NewSuccessResponse(nil))
}

type meResponse struct {
	User      models.Principal `json:"user"`
	ExpiresAt time.Time        `json:"expires_at"`
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())
	if session == nil {
		writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Unauthorized"))
		return
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(meResponse{
		User:      session.Principal,
		ExpiresAt: session.ExpiresAt,
	}))
}
