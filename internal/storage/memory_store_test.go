package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestMemoryStore_CRUD(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Set(ctx, CollectionUsers, "u1", map[string]any{"name": "Ana", "status": "active"}, false); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Update(ctx, CollectionUsers, "u1", map[string]any{"status": "deactivated", "deactivatedAt": nil}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	doc, err := s.Get(ctx, CollectionUsers, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc.Data["status"] != "deactivated" || doc.Data["name"] != "Ana" {
		t.Fatalf("unexpected data: %#v", doc.Data)
	}
	if v, ok := doc.Data["deactivatedAt"]; !ok || v != nil {
		t.Fatalf("expected explicit null deactivatedAt, got %#v (present=%v)", v, ok)
	}

	if err := s.Delete(ctx, CollectionUsers, "u1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, CollectionUsers, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete: want ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_MissingTargets(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Update(ctx, CollectionParkingSpots, "nope", map[string]any{"status": "reserved"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Update: want ErrNotFound, got %v", err)
	}
	if err := s.Delete(ctx, CollectionParkingSpots, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete: want ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_SetMerge(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_ = s.Set(ctx, CollectionUsers, "u1", map[string]any{"name": "Ana", "role": "admin"}, false)
	_ = s.Set(ctx, CollectionUsers, "u1", map[string]any{"status": "active"}, true)
	doc, _ := s.Get(ctx, CollectionUsers, "u1")
	if doc.Data["role"] != "admin" || doc.Data["status"] != "active" {
		t.Fatalf("merge lost fields: %#v", doc.Data)
	}

	_ = s.Set(ctx, CollectionUsers, "u1", map[string]any{"name": "Bo"}, false)
	doc, _ = s.Get(ctx, CollectionUsers, "u1")
	if _, ok := doc.Data["role"]; ok {
		t.Fatalf("overwrite kept old fields: %#v", doc.Data)
	}
}

func TestMemoryStore_GetAllOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_ = s.Set(ctx, CollectionParkingSpots, "a", map[string]any{"createdAt": base}, false)
	_ = s.Set(ctx, CollectionParkingSpots, "b", map[string]any{"createdAt": base.Add(2 * time.Hour)}, false)
	_ = s.Set(ctx, CollectionParkingSpots, "c", map[string]any{}, false)
	_ = s.Set(ctx, CollectionParkingSpots, "d", map[string]any{"createdAt": base.Add(time.Hour)}, false)

	docs, err := s.GetAll(ctx, CollectionParkingSpots, OrderBy("createdAt", Desc))
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	got := ids(docs)
	want := []string{"b", "d", "a", "c"}
	if !equalStrings(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}

	docs, _ = s.GetAll(ctx, CollectionParkingSpots, nil)
	if got := ids(docs); !equalStrings(got, []string{"a", "b", "c", "d"}) {
		t.Fatalf("unordered reads should be stable by id, got %v", got)
	}
}

func TestMemoryStore_SubscribeReplaysFullSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Set(ctx, CollectionParkingSpots, "s1", map[string]any{"title": "one"}, false)

	var mu sync.Mutex
	var calls [][]string
	sub, err := s.Subscribe(ctx, CollectionParkingSpots, nil, func(docs []Document) {
		mu.Lock()
		calls = append(calls, ids(docs))
		mu.Unlock()
	}, nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	_ = s.Set(ctx, CollectionParkingSpots, "s2", map[string]any{"title": "two"}, false)
	_ = s.Delete(ctx, CollectionParkingSpots, "s1")

	sub.Close()
	sub.Close()

	_ = s.Set(ctx, CollectionParkingSpots, "s3", map[string]any{}, false)

	mu.Lock()
	defer mu.Unlock()
	want := [][]string{{"s1"}, {"s1", "s2"}, {"s2"}}
	if len(calls) != len(want) {
		t.Fatalf("got %d callbacks %v, want %d", len(calls), calls, len(want))
	}
	for i := range want {
		if !equalStrings(calls[i], want[i]) {
			t.Fatalf("callback %d = %v, want %v", i, calls[i], want[i])
		}
	}
}

func TestMemoryStore_SubscribeStopsOnContextCancel(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	count := 0
	if _, err := s.Subscribe(ctx, CollectionParkingSpots, nil, func([]Document) {
		mu.Lock()
		count++
		mu.Unlock()
	}, nil); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	cancel()

	deadline := time.Now().Add(time.Second)
	for {
		s.listenerMu.Lock()
		n := len(s.listeners[CollectionParkingSpots])
		s.listenerMu.Unlock()
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("listener not removed after context cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}

	_ = s.Set(context.Background(), CollectionParkingSpots, "s1", map[string]any{}, false)
	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("callbacks = %d, want only the initial one", count)
	}
}

func TestFileBackedMemoryStore_Persists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "store.json")

	s, err := NewFileBackedMemoryStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	created := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	if err := s.Set(ctx, CollectionParkingSpots, "s1", map[string]any{"title": "Lot", "createdAt": created}, false); err != nil {
		t.Fatalf("Set: %v", err)
	}

	reopened, err := NewFileBackedMemoryStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	doc, err := reopened.Get(ctx, CollectionParkingSpots, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc.Data["title"] != "Lot" {
		t.Fatalf("title = %v", doc.Data["title"])
	}
	if ts, ok := asTime(doc.Data["createdAt"]); !ok || !ts.Equal(created) {
		t.Fatalf("createdAt = %v", doc.Data["createdAt"])
	}
}

func ids(docs []Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
