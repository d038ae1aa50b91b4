package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/louisbranch/sportchef/records/engine"

type instruments struct {
	commands  metric.Int64Counter
	duration  metric.Float64Histogram
	faults    metric.Int64Counter
	snapshots metric.Int64Counter
}

func newInstruments() instruments {
	meter := otel.Meter(instrumentationName)
	fallback := noop.NewMeterProvider().Meter(instrumentationName)

	commands, err := meter.Int64Counter("records.commands",
		metric.WithDescription("Commands handled by a record controller, by outcome."))
	if err != nil {
		commands, _ = fallback.Int64Counter("records.commands")
	}
	duration, err := meter.Float64Histogram("records.command.duration",
		metric.WithDescription("Time from lane pickup to reply."),
		metric.WithUnit("ms"))
	if err != nil {
		duration, _ = fallback.Float64Histogram("records.command.duration")
	}
	faults, err := meter.Int64Counter("records.faults",
		metric.WithDescription("Storage faults that suspended writes."))
	if err != nil {
		faults, _ = fallback.Int64Counter("records.faults")
	}
	snapshots, err := meter.Int64Counter("records.snapshots",
		metric.WithDescription("Snapshots written."))
	if err != nil {
		snapshots, _ = fallback.Int64Counter("records.snapshots")
	}
	return instruments{commands: commands, duration: duration, faults: faults, snapshots: snapshots}
}

func (i instruments) recordCommand(ctx context.Context, manager, commandType, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("manager", manager),
		attribute.String("command", commandType),
		attribute.String("outcome", outcome),
	)
	i.commands.Add(ctx, 1, attrs)
	i.duration.Record(ctx, float64(elapsed)/float64(time.Millisecond), attrs)
}
