package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/fndparking/admin/internal/models"
	"github.com/fndparking/admin/internal/storage"
)

var reportOrder = storage.OrderBy("timestamp", storage.Asc)

type FraudReportService struct {
	store storage.Store
	log   zerolog.Logger
	now   func() time.Time
}

func NewFraudReportService(store storage.Store, log zerolog.Logger) *FraudReportService {
	return &FraudReportService{
		store: store,
		log:   log.With().Str("component", "fraud_reports").Logger(),
		now:   time.Now,
	}
}

// ListFraudReports returns open reports, oldest first.
func (s *FraudReportService) ListFraudReports(ctx context.Context) ([]models.FraudReport, error) {
	docs, err := loadOrdered(ctx, s.store, storage.CollectionFraudReports, reportOrder, s.log)
	if err != nil {
		return nil, err
	}
	reports := make([]models.FraudReport, 0, len(docs))
	for _, doc := range docs {
		r := decodeReport(doc)
		if r.Status == models.FraudReportResolved {
			continue
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// ResolveReport marks the report resolved by the given administrator.
func (s *FraudReportService) ResolveReport(ctx context.Context, id, resolvedBy string) error {
	fields := map[string]any{
		"status":     models.FraudReportResolved,
		"resolvedAt": s.now().UTC(),
		"resolvedBy": resolvedBy,
	}
	if err := s.store.Update(ctx, storage.CollectionFraudReports, id, fields); err != nil {
		return writeError(storage.CollectionFraudReports, id, err)
	}
	return nil
}
