package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/fndparking/admin/internal/models"
	"github.com/fndparking/admin/internal/storage"
)

var spotOrder = storage.OrderBy("createdAt", storage.Desc)

type ParkingSpotService struct {
	store storage.Store
	log   zerolog.Logger
}

func NewParkingSpotService(store storage.Store, log zerolog.Logger) *ParkingSpotService {
	return &ParkingSpotService{
		store: store,
		log:   log.With().Str("component", "parking_spots").Logger(),
	}
}

// ListParkingSpots returns spots newest first.
func (s *ParkingSpotService) ListParkingSpots(ctx context.Context) ([]models.ParkingSpot, error) {
	docs, err := loadOrdered(ctx, s.store, storage.CollectionParkingSpots, spotOrder, s.log)
	if err != nil {
		return nil, err
	}
	return decodeSpots(docs), nil
}

func (s *ParkingSpotService) GetParkingSpot(ctx context.Context, id string) (*models.ParkingSpot, error) {
	doc, err := s.store.Get(ctx, storage.CollectionParkingSpots, id)
	if err != nil {
		return nil, err
	}
	spot := decodeSpot(doc)
	return &spot, nil
}

func (s *ParkingSpotService) UpdateParkingSpot(ctx context.Context, id string, fields map[string]any) error {
	if raw, ok := fields["status"]; ok {
		st, _ := raw.(string)
		if !models.SpotStatus(st).Valid() {
			return fmt.Errorf("%w: %v", ErrInvalidStatus, raw)
		}
	}
	if err := s.store.Update(ctx, storage.CollectionParkingSpots, id, fields); err != nil {
		return writeError(storage.CollectionParkingSpots, id, err)
	}
	return nil
}

// DeleteParkingSpot removes the spot. Fraud reports referencing it are kept.
func (s *ParkingSpotService) DeleteParkingSpot(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, storage.CollectionParkingSpots, id); err != nil {
		return writeError(storage.CollectionParkingSpots, id, err)
	}
	return nil
}

// SubscribeParkingSpots calls fn with the full spot list on start and after
// every change. If the listener dies, onErr receives a *DataAccessError.
// The returned unsubscribe func is safe to call more than once.
func (s *ParkingSpotService) SubscribeParkingSpots(ctx context.Context, fn func([]models.ParkingSpot), onErr func(error)) (func(), error) {
	var failed func(error)
	if onErr != nil {
		failed = func(err error) {
			onErr(&DataAccessError{Collection: storage.CollectionParkingSpots, Err: err})
		}
	}
	sub, err := s.store.Subscribe(ctx, storage.CollectionParkingSpots, spotOrder, func(docs []storage.Document) {
		fn(decodeSpots(docs))
	}, failed)
	if err != nil {
		return nil, &DataAccessError{Collection: storage.CollectionParkingSpots, Err: err}
	}
	return sub.Close, nil
}

func decodeSpots(docs []storage.Document) []models.ParkingSpot {
	spots := make([]models.ParkingSpot, 0, len(docs))
	for _, doc := range docs {
		spots = append(spots, decodeSpot(doc))
	}
	return spots
}
