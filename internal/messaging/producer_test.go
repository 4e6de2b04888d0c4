package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/orderdesk/internal/domain"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

var spans = tracetest.NewInMemoryExporter()

func TestMain(m *testing.M) {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(spans))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	code := m.Run()
	_ = tp.Shutdown(context.Background())
	os.Exit(code)
}

func header(msg kafka.Message, key string) string {
	return NewMessageCarrier(&msg).Get(key)
}

func TestProducer_PublishOrderSubmitted(t *testing.T) {
	event := domain.OrderSubmittedEvent{
		DraftID:    "draft-1",
		CustomerID: 7,
		Date:       "2024-05-01",
		Products:   []domain.OrderLine{{ProductID: 1, Quantity: 3}},
		Total:      "30.00",
		Message:    "Order created",
		Timestamp:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}

	t.Run("writes the event with headers and trace context", func(t *testing.T) {
		spans.Reset()
		writer := &fakeWriter{}
		producer := &Producer{writer: writer, topic: "order.submitted"}

		if err := producer.PublishOrderSubmitted(context.Background(), event); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(writer.msgs) != 1 {
			t.Fatalf("expected 1 message, got %d", len(writer.msgs))
		}
		msg := writer.msgs[0]
		if string(msg.Key) != "customer-7" {
			t.Errorf("expected key customer-7, got %s", msg.Key)
		}
		if got := EventType(msg); got != domain.OrderSubmittedEventType {
			t.Errorf("expected event type header, got %q", got)
		}
		if got := header(msg, HeaderContentType); got != "application/json" {
			t.Errorf("expected content-type header, got %q", got)
		}
		if header(msg, "traceparent") == "" {
			t.Error("expected traceparent header")
		}

		var got domain.OrderSubmittedEvent
		if err := json.Unmarshal(msg.Value, &got); err != nil {
			t.Fatalf("failed to decode message: %v", err)
		}
		if got.DraftID != "draft-1" || got.Total != "30.00" || len(got.Products) != 1 {
			t.Errorf("unexpected event: %+v", got)
		}

		ended := spans.GetSpans()
		if len(ended) != 1 {
			t.Fatalf("expected 1 span, got %d", len(ended))
		}
		if ended[0].Name != "send order.submitted" {
			t.Errorf("unexpected span name: %s", ended[0].Name)
		}
		if ended[0].SpanKind != trace.SpanKindProducer {
			t.Errorf("expected producer span, got %s", ended[0].SpanKind)
		}
	})

	t.Run("records write failures", func(t *testing.T) {
		spans.Reset()
		producer := &Producer{writer: &fakeWriter{err: errors.New("broker unavailable")}, topic: "order.submitted"}

		err := producer.PublishOrderSubmitted(context.Background(), event)
		if err == nil {
			t.Fatal("expected an error")
		}

		ended := spans.GetSpans()
		if len(ended) != 1 {
			t.Fatalf("expected 1 span, got %d", len(ended))
		}
		if ended[0].Status.Code != codes.Error {
			t.Errorf("expected error status, got %v", ended[0].Status.Code)
		}
	})
}

func TestProducer_Close(t *testing.T) {
	writer := &fakeWriter{}
	producer := &Producer{writer: writer, topic: "order.submitted"}

	if err := producer.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !writer.closed {
		t.Error("expected writer to be closed")
	}
}

func TestMessageCarrier(t *testing.T) {
	msg := kafka.Message{}
	carrier := NewMessageCarrier(&msg)

	carrier.Set("traceparent", "a")
	carrier.Set("tracestate", "b")
	carrier.Set("traceparent", "c")

	if got := carrier.Get("traceparent"); got != "c" {
		t.Errorf("expected overwritten value c, got %q", got)
	}
	if got := carrier.Get("missing"); got != "" {
		t.Errorf("expected empty value, got %q", got)
	}
	if keys := carrier.Keys(); len(keys) != 2 || keys[0] != "traceparent" || keys[1] != "tracestate" {
		t.Errorf("unexpected keys: %v", keys)
	}
}
