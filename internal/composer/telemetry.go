package composer

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	composerTracer = otel.Tracer("composer")
	composerMeter  = otel.Meter("composer")
)

var (
	outcomeSubmitted = metric.WithAttributes(attribute.String("outcome", "submitted"))
	outcomeFailed    = metric.WithAttributes(attribute.String("outcome", "failed"))
	outcomeInvalid   = metric.WithAttributes(attribute.String("outcome", "invalid"))
)

type instruments struct {
	submissions metric.Int64Counter
	orderTotal  metric.Float64Histogram
}

func newInstruments() instruments {
	submissions, err := composerMeter.Int64Counter("orderdesk.composer.submissions",
		metric.WithDescription("Order submission attempts by outcome."),
	)
	if err != nil {
		otel.Handle(err)
	}

	orderTotal, err := composerMeter.Float64Histogram("orderdesk.composer.order_total",
		metric.WithDescription("Total value of submitted orders."),
		metric.WithUnit("{currency}"),
	)
	if err != nil {
		otel.Handle(err)
	}

	return instruments{submissions: submissions, orderTotal: orderTotal}
}
