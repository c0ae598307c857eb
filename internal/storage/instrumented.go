package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultTimeout = 10 * time.Second

// instrumentedStore bounds every call with a timeout and records a span.
type instrumentedStore struct {
	next    Store
	timeout time.Duration
	tracer  trace.Tracer
}

// Instrument wraps next with per-call timeouts and tracing. A nil tracer uses
// the global provider.
func Instrument(next Store, timeout time.Duration, tracer trace.Tracer) Store {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if tracer == nil {
		tracer = otel.Tracer("github.com/fndparking/admin/internal/storage")
	}
	return &instrumentedStore{next: next, timeout: timeout, tracer: tracer}
}

func (s *instrumentedStore) start(ctx context.Context, op, collection string) (context.Context, trace.Span, context.CancelFunc) {
	ctx, span := s.tracer.Start(ctx, "store."+op, trace.WithAttributes(
		attribute.String("store.collection", collection),
	))
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	return ctx, span, cancel
}

func (s *instrumentedStore) finish(ctx context.Context, span trace.Span, err error) error {
	defer span.End()
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		err = fmt.Errorf("%w after %s: %v", ErrTimeout, s.timeout, err)
	}
	if !errors.Is(err, ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	}
	return err
}

func (s *instrumentedStore) GetAll(ctx context.Context, collection string, order *Order) ([]Document, error) {
	ctx, span, cancel := s.start(ctx, "GetAll", collection)
	defer cancel()
	if order != nil {
		span.SetAttributes(attribute.String("store.order", order.Field))
	}

	docs, err := s.next.GetAll(ctx, collection, order)
	span.SetAttributes(attribute.Int("store.documents", len(docs)))
	return docs, s.finish(ctx, span, err)
}

func (s *instrumentedStore) Get(ctx context.Context, collection, id string) (Document, error) {
	ctx, span, cancel := s.start(ctx, "Get", collection)
	defer cancel()

	doc, err := s.next.Get(ctx, collection, id)
	return doc, s.finish(ctx, span, err)
}

func (s *instrumentedStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	ctx, span, cancel := s.start(ctx, "Update", collection)
	defer cancel()

	return s.finish(ctx, span, s.next.Update(ctx, collection, id, fields))
}

func (s *instrumentedStore) Set(ctx context.Context, collection, id string, fields map[string]any, merge bool) error {
	ctx, span, cancel := s.start(ctx, "Set", collection)
	defer cancel()

	return s.finish(ctx, span, s.next.Set(ctx, collection, id, fields, merge))
}

func (s *instrumentedStore) Delete(ctx context.Context, collection, id string) error {
	ctx, span, cancel := s.start(ctx, "Delete", collection)
	defer cancel()

	return s.finish(ctx, span, s.next.Delete(ctx, collection, id))
}

// Subscribe is traced but not time-bounded: the subscription lives as long as ctx.
func (s *instrumentedStore) Subscribe(ctx context.Context, collection string, order *Order, fn func([]Document), onErr func(error)) (Subscription, error) {
	_, span := s.tracer.Start(ctx, "store.Subscribe", trace.WithAttributes(
		attribute.String("store.collection", collection),
	))
	defer span.End()

	sub, err := s.next.Subscribe(ctx, collection, order, fn, onErr)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	}
	return sub, err
}

func (s *instrumentedStore) Close() error {
	return s.next.Close()
}
