package storage

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps collections in process. With a JSONFile attached every
// write is flushed to disk.
type MemoryStore struct {
	mu          sync.RWMutex
	collections collectionsSnapshot
	file        *JSONFile

	listenerMu sync.Mutex
	listeners  map[string]map[int]*memoryListener
	nextID     int
}

type memoryListener struct {
	order *Order
	fn    func([]Document)
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: collectionsSnapshot{},
		listeners:   make(map[string]map[int]*memoryListener),
	}
}

// NewFileBackedMemoryStore loads an existing snapshot from path and keeps it in sync.
func NewFileBackedMemoryStore(path string) (*MemoryStore, error) {
	file, err := NewJSONFile(path)
	if err != nil {
		return nil, err
	}
	snap, err := file.Load()
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	s := NewMemoryStore()
	s.collections = snap
	s.file = file
	return s, nil
}

func (s *MemoryStore) GetAll(ctx context.Context, collection string, order *Order) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	docs := s.snapshotLocked(collection)
	s.mu.RUnlock()

	sortDocuments(docs, order)
	return docs, nil
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.collections[collection][id]
	if !ok {
		return Document{}, notFound(collection, id)
	}
	return Document{ID: id, Data: copyFields(data)}, nil
}

func (s *MemoryStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	data, ok := s.collections[collection][id]
	if !ok {
		s.mu.Unlock()
		return notFound(collection, id)
	}
	for k, v := range fields {
		data[k] = v
	}
	err := s.flushLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.notify(collection)
	return nil
}

func (s *MemoryStore) Set(ctx context.Context, collection, id string, fields map[string]any, merge bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	col, ok := s.collections[collection]
	if !ok {
		col = make(map[string]map[string]any)
		s.collections[collection] = col
	}
	existing, ok := col[id]
	if !ok || !merge {
		existing = make(map[string]any, len(fields))
		col[id] = existing
	}
	for k, v := range fields {
		existing[k] = v
	}
	err := s.flushLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.notify(collection)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if _, ok := s.collections[collection][id]; !ok {
		s.mu.Unlock()
		return notFound(collection, id)
	}
	delete(s.collections[collection], id)
	err := s.flushLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.notify(collection)
	return nil
}

// Subscribe delivers the current set synchronously before returning, then
// again after each write to the collection. In-process listeners never fail,
// so onErr is not called.
func (s *MemoryStore) Subscribe(ctx context.Context, collection string, order *Order, fn func([]Document), _ func(error)) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.listenerMu.Lock()
	s.nextID++
	id := s.nextID
	if s.listeners[collection] == nil {
		s.listeners[collection] = make(map[int]*memoryListener)
	}
	s.listeners[collection][id] = &memoryListener{order: order, fn: fn}
	s.listenerMu.Unlock()

	docs, _ := s.GetAll(context.Background(), collection, order)
	fn(docs)

	sub := &memorySubscription{
		done: make(chan struct{}),
		cancel: func() {
			s.listenerMu.Lock()
			delete(s.listeners[collection], id)
			s.listenerMu.Unlock()
		},
	}
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

func (s *MemoryStore) Close() error {
	s.listenerMu.Lock()
	s.listeners = make(map[string]map[int]*memoryListener)
	s.listenerMu.Unlock()
	return nil
}

func (s *MemoryStore) notify(collection string) {
	s.listenerMu.Lock()
	listeners := make([]*memoryListener, 0, len(s.listeners[collection]))
	for _, l := range s.listeners[collection] {
		listeners = append(listeners, l)
	}
	s.listenerMu.Unlock()

	for _, l := range listeners {
		docs, _ := s.GetAll(context.Background(), collection, l.order)
		l.fn(docs)
	}
}

func (s *MemoryStore) snapshotLocked(collection string) []Document {
	col := s.collections[collection]
	docs := make([]Document, 0, len(col))
	for id, data := range col {
		docs = append(docs, Document{ID: id, Data: copyFields(data)})
	}
	// Map iteration is random; keep unordered reads stable.
	sortByID(docs)
	return docs
}

func (s *MemoryStore) flushLocked() error {
	if s.file == nil {
		return nil
	}
	return s.file.Save(s.collections)
}

type memorySubscription struct {
	once   sync.Once
	done   chan struct{}
	cancel func()
}

func (m *memorySubscription) Close() {
	m.once.Do(func() {
		m.cancel()
		close(m.done)
	})
}

func copyFields(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
