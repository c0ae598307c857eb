package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Collections used by the admin dashboard.
const (
	CollectionUsers        = "users"
	CollectionParkingSpots = "parkingLocations"
	CollectionFraudReports = "fraudReports"
)

var (
	ErrNotFound = errors.New("document not found")
	// ErrOrderUnsupported is returned when the backend cannot serve the
	// requested ordering, typically because an index is missing.
	ErrOrderUnsupported = errors.New("ordering not supported by store")
	ErrTimeout          = errors.New("store request timed out")
)

// Document is one record of a collection.
type Document struct {
	ID   string
	Data map[string]any
}

type Direction int

const (
	Asc Direction = iota
	Desc
)

type Order struct {
	Field     string
	Direction Direction
}

func OrderBy(field string, dir Direction) *Order {
	return &Order{Field: field, Direction: dir}
}

// Subscription is a live collection listener. Close is safe to call more than once.
type Subscription interface {
	Close()
}

// Store is the document database the dashboard reads and writes.
type Store interface {
	GetAll(ctx context.Context, collection string, order *Order) ([]Document, error)
	Get(ctx context.Context, collection, id string) (Document, error)
	// Update sets the given fields. A nil value stores null.
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	Set(ctx context.Context, collection, id string, fields map[string]any, merge bool) error
	Delete(ctx context.Context, collection, id string) error
	// Subscribe calls fn with the full, ordered collection once on start and
	// again after every change. If the listener dies, onErr (when non-nil) is
	// called once and no further snapshots are delivered.
	Subscribe(ctx context.Context, collection string, order *Order, fn func([]Document), onErr func(error)) (Subscription, error)
	Close() error
}

func notFound(collection, id string) error {
	return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
}

// sortDocuments orders docs in place. Documents missing the field sort last.
func sortDocuments(docs []Document, order *Order) {
	if order == nil {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		a, aok := docs[i].Data[order.Field]
		b, bok := docs[j].Data[order.Field]
		if !aok || a == nil {
			return false
		}
		if !bok || b == nil {
			return true
		}
		c := compareValues(a, b)
		if order.Direction == Desc {
			return c > 0
		}
		return c < 0
	})
}

func sortByID(docs []Document) {
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
}

func compareValues(a, b any) int {
	// Timestamps written by browsers are epoch milliseconds, so a number
	// next to a time is compared as an instant.
	_, aTime := asTime(a)
	_, bTime := asTime(b)
	if aTime || bTime {
		if ta, ok := asInstant(a); ok {
			if tb, ok := asInstant(b); ok {
				return ta.Compare(tb)
			}
		}
	}
	if fa, ok := asFloat(a); ok {
		if fb, ok := asFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		return parsed, err == nil
	}
	return time.Time{}, false
}

func asInstant(v any) (time.Time, bool) {
	if t, ok := asTime(v); ok {
		return t, true
	}
	if ms, ok := asFloat(v); ok {
		return time.UnixMilli(int64(ms)), true
	}
	return time.Time{}, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
