package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore is the production backend: the Firestore database of the
// Firebase project the mobile app writes to.
type FirestoreStore struct {
	client *firestore.Client
	log    zerolog.Logger
}

func NewFirestoreStore(ctx context.Context, app *firebase.App, log zerolog.Logger) (*FirestoreStore, error) {
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return &FirestoreStore{
		client: client,
		log:    log.With().Str("component", "firestore").Logger(),
	}, nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func (s *FirestoreStore) query(collection string, order *Order) firestore.Query {
	q := s.client.Collection(collection).Query
	if order != nil {
		dir := firestore.Asc
		if order.Direction == Desc {
			dir = firestore.Desc
		}
		q = q.OrderBy(order.Field, dir)
	}
	return q
}

func (s *FirestoreStore) GetAll(ctx context.Context, collection string, order *Order) ([]Document, error) {
	snaps, err := s.query(collection, order).Documents(ctx).GetAll()
	if err != nil {
		return nil, classifyFirestore(err)
	}
	return toDocuments(snaps), nil
}

func (s *FirestoreStore) Get(ctx context.Context, collection, id string) (Document, error) {
	snap, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return Document{}, notFound(collection, id)
		}
		return Document{}, classifyFirestore(err)
	}
	return Document{ID: snap.Ref.ID, Data: snap.Data()}, nil
}

func (s *FirestoreStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	updates := make([]firestore.Update, 0, len(keys))
	for _, k := range keys {
		updates = append(updates, firestore.Update{Path: k, Value: fields[k]})
	}

	if _, err := s.client.Collection(collection).Doc(id).Update(ctx, updates); err != nil {
		if status.Code(err) == codes.NotFound {
			return notFound(collection, id)
		}
		return classifyFirestore(err)
	}
	return nil
}

func (s *FirestoreStore) Set(ctx context.Context, collection, id string, fields map[string]any, merge bool) error {
	doc := s.client.Collection(collection).Doc(id)
	var err error
	if merge {
		_, err = doc.Set(ctx, fields, firestore.MergeAll)
	} else {
		_, err = doc.Set(ctx, fields)
	}
	return classifyFirestore(err)
}

func (s *FirestoreStore) Delete(ctx context.Context, collection, id string) error {
	// Firestore deletes are no-ops on missing documents unless the precondition is set.
	if _, err := s.client.Collection(collection).Doc(id).Delete(ctx, firestore.Exists); err != nil {
		if status.Code(err) == codes.NotFound {
			return notFound(collection, id)
		}
		return classifyFirestore(err)
	}
	return nil
}

// Subscribe listens to query snapshots. If the ordered listener is rejected
// for a missing index, it falls back to an unordered listener and sorts
// client-side.
func (s *FirestoreStore) Subscribe(ctx context.Context, collection string, order *Order, fn func([]Document), onErr func(error)) (Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	sub := &firestoreSubscription{cancel: cancel}

	go func() {
		q := s.query(collection, order)
		for {
			err := s.listen(ctx, q, order, fn)
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, ErrOrderUnsupported) && order != nil {
				s.log.Warn().Str("collection", collection).Msg("ordered listener rejected, retrying without order")
				q = s.query(collection, nil)
				continue
			}
			s.log.Error().Err(err).Str("collection", collection).Msg("snapshot listener stopped")
			if onErr != nil {
				onErr(err)
			}
			return
		}
	}()

	return sub, nil
}

func (s *FirestoreStore) listen(ctx context.Context, q firestore.Query, order *Order, fn func([]Document)) error {
	it := q.Snapshots(ctx)
	defer it.Stop()

	for {
		snap, err := it.Next()
		if err != nil {
			if err == iterator.Done || status.Code(err) == codes.Canceled {
				return ctx.Err()
			}
			return classifyFirestore(err)
		}
		snaps, err := snap.Documents.GetAll()
		if err != nil {
			return classifyFirestore(err)
		}
		docs := toDocuments(snaps)
		sortDocuments(docs, order)
		fn(docs)
	}
}

type firestoreSubscription struct {
	once   sync.Once
	cancel context.CancelFunc
}

func (f *firestoreSubscription) Close() {
	f.once.Do(f.cancel)
}

func toDocuments(snaps []*firestore.DocumentSnapshot) []Document {
	docs := make([]Document, 0, len(snaps))
	for _, snap := range snaps {
		docs = append(docs, Document{ID: snap.Ref.ID, Data: snap.Data()})
	}
	return docs
}

func classifyFirestore(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	switch status.Code(err) {
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %v", ErrOrderUnsupported, err)
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
