package services

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/fndparking/admin/internal/models"
	"github.com/fndparking/admin/internal/storage"
)

// faultyStore wraps a Store and fails selected calls.
type faultyStore struct {
	storage.Store

	mu          sync.Mutex
	getAllErr   map[string]error
	updateErr   map[string]error
	deleteErr   map[string]error
	rejectOrder map[string]bool
	getAllCalls []*storage.Order
	listenerErr []func(error)
}

func newFaultyStore(inner storage.Store) *faultyStore {
	return &faultyStore{
		Store:       inner,
		getAllErr:   map[string]error{},
		updateErr:   map[string]error{},
		deleteErr:   map[string]error{},
		rejectOrder: map[string]bool{},
	}
}

func (f *faultyStore) GetAll(ctx context.Context, collection string, order *storage.Order) ([]storage.Document, error) {
	f.mu.Lock()
	f.getAllCalls = append(f.getAllCalls, order)
	err := f.getAllErr[collection]
	reject := f.rejectOrder[collection] && order != nil
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if reject {
		return nil, storage.ErrOrderUnsupported
	}
	return f.Store.GetAll(ctx, collection, order)
}

func (f *faultyStore) Subscribe(ctx context.Context, collection string, order *storage.Order, fn func([]storage.Document), onErr func(error)) (storage.Subscription, error) {
	f.mu.Lock()
	if onErr != nil {
		f.listenerErr = append(f.listenerErr, onErr)
	}
	f.mu.Unlock()
	return f.Store.Subscribe(ctx, collection, order, fn, onErr)
}

// breakListeners reports err to every listener opened so far, the way a
// dropped snapshot stream does.
func (f *faultyStore) breakListeners(err error) {
	f.mu.Lock()
	fns := f.listenerErr
	f.listenerErr = nil
	f.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

func (f *faultyStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	f.mu.Lock()
	err := f.updateErr[collection]
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.Update(ctx, collection, id, fields)
}

func (f *faultyStore) Delete(ctx context.Context, collection, id string) error {
	f.mu.Lock()
	err := f.deleteErr[collection]
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.Delete(ctx, collection, id)
}

// recordingPublisher captures published subjects.
type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (r *recordingPublisher) Publish(_ context.Context, subject string, _ interface{}) error {
	r.mu.Lock()
	r.subjects = append(r.subjects, subject)
	r.mu.Unlock()
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

func (r *recordingPublisher) Subjects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.subjects...)
}

func seed(t *testing.T, store storage.Store, collection, id string, fields map[string]any) {
	t.Helper()
	if err := store.Set(context.Background(), collection, id, fields, false); err != nil {
		t.Fatalf("seed %s/%s: %v", collection, id, err)
	}
}

func reportFields(userID, markerID string) map[string]any {
	return map[string]any{
		"reportedMarkerId": markerID,
		"reportedUser":     map[string]any{"userId": userID, "userEmail": userID + "@example.com"},
		"reason":           "fake spot",
	}
}

func newTestDeps(store storage.Store, pub *recordingPublisher) DashboardDeps {
	log := zerolog.Nop()
	deps := DashboardDeps{
		Users:   NewUserService(store, nil, log),
		Spots:   NewParkingSpotService(store, log),
		Reports: NewFraudReportService(store, log),
		Log:     log,
	}
	if pub != nil {
		deps.Events = pub
	}
	return deps
}

func newLoadedDashboard(t *testing.T, store storage.Store) *Dashboard {
	t.Helper()
	d := NewDashboard(newTestDeps(store, nil), models.Principal{UserID: "admin1", Email: "admin@fndparking.com"})
	if err := d.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return d
}
