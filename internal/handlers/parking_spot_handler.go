package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/fndparking/admin/internal/middleware"
	"github.com/fndparking/admin/internal/models"
	"github.com/fndparking/admin/internal/services"
)

const streamHeartbeat = 25 * time.Second

type ParkingSpotHandler struct {
	sessionHandler
	validator *validator.Validate
	heartbeat time.Duration
}

func NewParkingSpotHandler(sessions *services.Sessions, log zerolog.Logger) *ParkingSpotHandler {
	return &ParkingSpotHandler{
		sessionHandler: sessionHandler{
			sessions: sessions,
			log:      log.With().Str("handler", "parking_spots").Logger(),
		},
		validator: newValidator(),
		heartbeat: streamHeartbeat,
	}
}

type spotListQuery struct {
	Search string `query:"search"`
	Filter string `query:"filter" validate:"omitempty,oneof=all available occupied reserved reported"`
	Page   int    `query:"page"`
}

func (h *ParkingSpotHandler) parseQuery(w http.ResponseWriter, r *http.Request) (services.SpotQuery, bool) {
	q := spotListQuery{
		Search: r.URL.Query().Get("search"),
		Filter: r.URL.Query().Get("filter"),
		Page:   queryPage(r, "page"),
	}
	if err := h.validator.Struct(q); err != nil {
		writeJSON(w, http.StatusBadRequest, models.NewValidationErrorResponse(validationErrors(err)))
		return services.SpotQuery{}, false
	}
	if q.Filter == "" {
		q.Filter = services.FilterAll
	}
	return services.SpotQuery{Search: q.Search, Filter: q.Filter, Page: q.Page}, true
}

func (h *ParkingSpotHandler) ListParkingSpots(w http.ResponseWriter, r *http.Request) {
	query, ok := h.parseQuery(w, r)
	if !ok {
		return
	}
	d, ok := h.dashboard(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(d.ParkingSpotsView(query)))
}

func (h *ParkingSpotHandler) GetParkingSpot(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dashboard(w, r)
	if !ok {
		return
	}
	spot, err := d.Spot(chi.URLParam(r, "spotId"))
	if err != nil {
		writeServiceError(w, r, h.log, err, "Parking spot not found")
		return
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(spot))
}

func (h *ParkingSpotHandler) UpdateParkingSpot(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateSpotRequest
	if !decodeAndValidate(w, r, h.validator, &req) {
		return
	}
	if len(req.Fields()) == 0 {
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("No fields to update"))
		return
	}

	d, ok := h.dashboard(w, r)
	if !ok {
		return
	}
	spotID := chi.URLParam(r, "spotId")
	spot, err := d.UpdateSpot(r.Context(), spotID, req)
	if err != nil {
		writeServiceError(w, r, h.log.With().Str("spot_id", spotID).Logger(), err, "Parking spot not found")
		return
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(spot))
}

func (h *ParkingSpotHandler) DeleteParkingSpot(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dashboard(w, r)
	if !ok {
		return
	}
	spotID := chi.URLParam(r, "spotId")
	if err := d.DeleteSpot(r.Context(), spotID); err != nil {
		writeServiceError(w, r, h.log.With().Str("spot_id", spotID).Logger(), err, "Parking spot not found")
		return
	}
	h.log.Info().Str("spot_id", spotID).Str("actor", middleware.GetUserID(r.Context())).Msg("parking spot deleted")
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(map[string]string{"deleted": spotID}))
}

// Stream sends the spots view as server-sent events: one "snapshot" event on
// connect and another after every change, until the client goes away or the
// session ends.
func (h *ParkingSpotHandler) Stream(w http.ResponseWriter, r *http.Request) {
	query, ok := h.parseQuery(w, r)
	if !ok {
		return
	}
	d, ok := h.dashboard(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Streaming unsupported"))
		return
	}

	// The subscription belongs to the session, not to this request.
	if err := d.Watch(context.WithoutCancel(r.Context())); err != nil {
		writeServiceError(w, r, h.log, err, "")
		return
	}
	changes, stop := d.Changes()
	defer stop()

	// Best effort: lift the server write timeout for this connection.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	send := func() bool {
		payload, err := json.Marshal(d.ParkingSpotsView(query))
		if err != nil {
			h.log.Error().Err(err).Msg("encode snapshot")
			return false
		}
		if _, err := fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}
	if !send() {
		return
	}

	session := middleware.GetSession(r.Context())
	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case _, open := <-changes:
			if !open {
				fmt.Fprint(w, "event: closed\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			if !send() {
				return
			}
		case <-heartbeat.C:
			h.sessions.Touch(session.ID)
			// Restarts the listener if it died since the last beat.
			if err := d.Watch(context.WithoutCancel(r.Context())); err != nil {
				h.log.Warn().Err(err).Msg("spot listener restart failed")
			}
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
