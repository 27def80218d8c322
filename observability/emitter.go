package observability

import (
	"log/slog"

	"calibervault/core/events"
	"calibervault/core/types"
	"calibervault/native/custody"
	"calibervault/observability/metrics"
)

// Emitter publishes custody events to the structured logger and the
// Prometheus registry. It satisfies events.Emitter so the node can be wired
// without the engine knowing about either sink.
type Emitter struct {
	logger  *slog.Logger
	metrics *metrics.CustodyMetrics
}

var _ events.Emitter = (*Emitter)(nil)

func NewEmitter(logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{logger: logger, metrics: metrics.Custody()}
}

func (e *Emitter) Emit(evt events.Event) {
	if e == nil || evt == nil {
		return
	}
	e.record(evt.EventType())

	attrs := []any{slog.String("event", evt.EventType())}
	if carrier, ok := evt.(interface{ Event() *types.Event }); ok {
		if payload := carrier.Event(); payload != nil {
			for key, value := range payload.Attributes {
				attrs = append(attrs, slog.String(key, value))
			}
		}
	}
	e.logger.Info("custody event", attrs...)
}

func (e *Emitter) record(eventType string) {
	switch eventType {
	case custody.EventTypeDepositCreated:
		e.metrics.IncDeposit()
	case custody.EventTypeOperatorTransfer:
		e.metrics.IncTransfer()
	case custody.EventTypeDepositWithdrawn:
		e.metrics.IncWithdrawal()
	}
}
