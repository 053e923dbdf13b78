package store

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "kvfs/internal/store"

const (
	backendKey   = attribute.Key("kv.backend")
	keyKey       = attribute.Key("kv.key")
	kindKey      = attribute.Key("kv.kind")
	keyCountKey  = attribute.Key("kv.keys")
	valueSizeKey = attribute.Key("kv.value_size")
)

// traced instruments every Store call with a span.
type traced struct {
	next    Store
	tracer  trace.Tracer
	backend string
}

// WithTracing wraps s so that each call records an OpenTelemetry span. A nil
// tp selects the global tracer provider.
func WithTracing(s Store, tp trace.TracerProvider) Store {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &traced{
		next:    s,
		tracer:  tp.Tracer(tracerName),
		backend: fmt.Sprintf("%T", s),
	}
}

func (t *traced) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, backendKey.String(t.backend))
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// recordError marks the span failed. A missing key is an expected outcome and
// is not recorded as an error.
func recordError(span trace.Span, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (t *traced) Keys(ctx context.Context) ([]string, error) {
	ctx, span := t.start(ctx, "store.Keys")
	defer span.End()

	keys, err := t.next.Keys(ctx)
	span.SetAttributes(keyCountKey.Int(len(keys)))
	return keys, recordError(span, err)
}

func (t *traced) Kind(ctx context.Context, key string) (Kind, error) {
	ctx, span := t.start(ctx, "store.Kind", keyKey.String(key))
	defer span.End()

	kind, err := t.next.Kind(ctx, key)
	span.SetAttributes(kindKey.String(kind.String()))
	return kind, recordError(span, err)
}

func (t *traced) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := t.start(ctx, "store.Get", keyKey.String(key))
	defer span.End()

	value, err := t.next.Get(ctx, key)
	span.SetAttributes(valueSizeKey.Int(len(value)))
	return value, recordError(span, err)
}

func (t *traced) Set(ctx context.Context, key string, value []byte) error {
	ctx, span := t.start(ctx, "store.Set", keyKey.String(key), valueSizeKey.Int(len(value)))
	defer span.End()

	return recordError(span, t.next.Set(ctx, key, value))
}

func (t *traced) Ping(ctx context.Context) error {
	ctx, span := t.start(ctx, "store.Ping")
	defer span.End()

	return recordError(span, t.next.Ping(ctx))
}

func (t *traced) Close() error {
	return t.next.Close()
}
