package resultstore

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/jpalmerr/resultstore"

// instruments holds the OTel counters a Store records.
type instruments struct {
	runs       metric.Int64Counter
	interrupts metric.Int64Counter
	successes  metric.Int64Counter
	failures   metric.Int64Counter
	dropped    metric.Int64Counter

	attrs metric.MeasurementOption
}

func newInstruments(mp metric.MeterProvider, name string) *instruments {
	m := mp.Meter(meterName)

	inst := &instruments{
		attrs: metric.WithAttributes(attribute.String("store", name)),
	}

	inst.runs = counter(m, "resultstore.runs.total", "Total tasks started by Run")
	inst.interrupts = counter(m, "resultstore.interrupts.total", "Total running tasks interrupted or superseded")
	inst.successes = counter(m, "resultstore.successes.total", "Total Success results published")
	inst.failures = counter(m, "resultstore.failures.total", "Total Failure results published, by kind")
	inst.dropped = counter(m, "resultstore.dropped.total", "Total publishes dropped because their task was cancelled")

	return inst
}

func counter(m metric.Meter, name, desc string) metric.Int64Counter {
	c, err := m.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		return noop.Int64Counter{}
	}
	return c
}

func (i *instruments) recordResult(tag Tag, cause Cause) {
	ctx := context.Background()
	switch tag {
	case TagSuccess:
		i.successes.Add(ctx, 1, i.attrs)
	case TagFailure:
		kind := "failure"
		if cause.IsDefect() {
			kind = "defect"
		}
		i.failures.Add(ctx, 1, i.attrs, metric.WithAttributes(attribute.String("kind", kind)))
	}
}
