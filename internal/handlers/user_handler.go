package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/fndparking/admin/internal/middleware"
	"github.com/fndparking/admin/internal/models"
	"github.com/fndparking/admin/internal/services"
)

type UserHandler struct {
	sessionHandler
}

func NewUserHandler(sessions *services.Sessions, log zerolog.Logger) *UserHandler {
	return &UserHandler{sessionHandler{
		sessions: sessions,
		log:      log.With().Str("handler", "users").Logger(),
	}}
}

func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dashboard(w, r)
	if !ok {
		return
	}
	view := d.UsersView(services.UserQuery{
		Search:       r.URL.Query().Get("search"),
		Page:         queryPage(r, "page"),
		ReportedPage: queryPage(r, "reportedPage"),
	})
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(view))
}

// UserReports opens the detail view of a user and returns their reports.
func (h *UserHandler) UserReports(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dashboard(w, r)
	if !ok {
		return
	}
	view, err := d.UserDetail(models.UserID(chi.URLParam(r, "userId")))
	if err != nil {
		writeServiceError(w, r, h.log, err, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(view))
}

func (h *UserHandler) OpenDetail(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dashboard(w, r)
	if !ok {
		return
	}
	view, open := d.OpenDetail()
	if !open {
		writeJSON(w, http.StatusNotFound, models.NewErrorResponse("No user detail is open"))
		return
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(view))
}

func (h *UserHandler) CloseDetail(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dashboard(w, r)
	if !ok {
		return
	}
	d.CloseUserDetail()
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(nil))
}

func (h *UserHandler) ToggleStatus(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dashboard(w, r)
	if !ok {
		return
	}
	userID := chi.URLParam(r, "userId")
	user, err := d.ToggleUserStatus(r.Context(), models.UserID(userID))
	if err != nil {
		writeServiceError(w, r, h.log.With().Str("user_id", userID).Logger(), err, "User not found")
		return
	}
	h.log.Info().
		Str("user_id", userID).
		Str("status", string(user.Status)).
		Str("actor", middleware.GetUserID(r.Context())).
		Msg("user status changed")
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(user))
}

func (h *UserHandler) CreateSampleUsers(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dashboard(w, r)
	if !ok {
		return
	}
	ids, err := d.SeedSampleUsers(r.Context())
	if err != nil {
		writeServiceError(w, r, h.log, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, models.NewSuccessResponse(map[string]interface{}{"created": ids}))
}
