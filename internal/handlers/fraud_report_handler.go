package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/fndparking/admin/internal/models"
	"github.com/fndparking/admin/internal/services"
)

type FraudReportHandler struct {
	sessionHandler
}

func NewFraudReportHandler(sessions *services.Sessions, log zerolog.Logger) *FraudReportHandler {
	return &FraudReportHandler{sessionHandler{
		sessions: sessions,
		log:      log.With().Str("handler", "fraud_reports").Logger(),
	}}
}

// Resolve marks a report resolved. Resolving an unknown or already resolved
// report succeeds.
func (h *FraudReportHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dashboard(w, r)
	if !ok {
		return
	}
	reportID := chi.URLParam(r, "reportId")
	if err := d.ResolveReport(r.Context(), reportID); err != nil {
		writeServiceError(w, r, h.log.With().Str("report_id", reportID).Logger(), err, "Fraud report not found")
		return
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(map[string]string{"resolved": reportID}))
}
