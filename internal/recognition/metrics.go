package recognition

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type instruments struct {
	restarts  metric.Int64Counter
	faults    metric.Int64Counter
	autostops metric.Int64Counter
}

func newInstruments(log *slog.Logger) *instruments {
	meter := otel.Meter("github.com/loqalabs/loqa-interpreter/recognition")
	inst := &instruments{}
	var err error
	if inst.restarts, err = meter.Int64Counter("recognition.restarts",
		metric.WithDescription("Recognizer start attempts made by the restart scheduler")); err != nil {
		log.Warn("failed to create restarts counter", slog.String("error", err.Error()))
	}
	if inst.faults, err = meter.Int64Counter("recognition.faults",
		metric.WithDescription("Recognizer faults by kind")); err != nil {
		log.Warn("failed to create faults counter", slog.String("error", err.Error()))
	}
	if inst.autostops, err = meter.Int64Counter("recognition.autostops",
		metric.WithDescription("Watchdog silence signals")); err != nil {
		log.Warn("failed to create autostops counter", slog.String("error", err.Error()))
	}
	return inst
}

func (i *instruments) restart(reason string) {
	if i == nil || i.restarts == nil {
		return
	}
	i.restarts.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (i *instruments) fault(kind FaultKind) {
	if i == nil || i.faults == nil {
		return
	}
	i.faults.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.Bool("recoverable", kind.Recoverable()),
	))
}

func (i *instruments) autostop() {
	if i == nil || i.autostops == nil {
		return
	}
	i.autostops.Add(context.Background(), 1)
}
