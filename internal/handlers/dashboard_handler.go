package handlers

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/fndparking/admin/internal/models"
	"github.com/fndparking/admin/internal/services"
)

type DashboardHandler struct {
	sessionHandler
}

func NewDashboardHandler(sessions *services.Sessions, log zerolog.Logger) *DashboardHandler {
	return &DashboardHandler{sessionHandler{
		sessions: sessions,
		log:      log.With().Str("handler", "dashboard").Logger(),
	}}
}

func (h *DashboardHandler) Stats(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dashboard(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(d.Stats()))
}

// Refresh reloads all three collections. Partial failures still answer 200;
// the failed sources show up as banners.
func (h *DashboardHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dashboard(w, r)
	if !ok {
		return
	}
	if err := d.Refresh(r.Context()); err != nil {
		if errors.Is(err, services.ErrSessionClosed) {
			writeServiceError(w, r, h.log, err, "")
			return
		}
		h.log.Warn().Err(err).Msg("refresh incomplete")
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(d.Stats()))
}

func (h *DashboardHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dashboard(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(d.Analytics()))
}
