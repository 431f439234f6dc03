// Package events fans protocol events out to the audit log, the signal
// bus, and the operator notifier. Sink failures are logged and swallowed;
// an event that fails to fan out never fails the operation that produced
// it.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wagerlab/escrowd/internal/domain"
	"github.com/wagerlab/escrowd/internal/notify"
)

// Channel is the pub/sub channel and stream name for protocol events.
const Channel = "escrowd:events"

// wireEvent is the JSON shape published on the signal bus.
type wireEvent struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	BetNumber int64          `json:"bet_number,omitempty"`
	Actor     string         `json:"actor,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	At        time.Time      `json:"at"`
}

// Fanout implements domain.EventSink. Any of the targets may be nil.
type Fanout struct {
	audit    domain.AuditStore
	bus      domain.SignalBus
	notifier *notify.Notifier
	logger   *slog.Logger
}

// NewFanout creates a Fanout over the given targets.
func NewFanout(audit domain.AuditStore, bus domain.SignalBus, notifier *notify.Notifier, logger *slog.Logger) *Fanout {
	return &Fanout{
		audit:    audit,
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "events")),
	}
}

// Emit records ev in the audit log, publishes it on the bus and stream,
// and notifies operators.
func (f *Fanout) Emit(ctx context.Context, ev domain.Event) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	if f.audit != nil {
		detail := map[string]any{"id": ev.ID, "actor": ev.Actor}
		if ev.BetNumber != 0 {
			detail["bet_number"] = ev.BetNumber
		}
		for k, v := range ev.Detail {
			detail[k] = v
		}
		if err := f.audit.Log(ctx, string(ev.Kind), detail); err != nil {
			f.logger.ErrorContext(ctx, "audit log failed",
				slog.String("kind", string(ev.Kind)),
				slog.String("error", err.Error()),
			)
		}
	}

	if f.bus != nil {
		payload, err := json.Marshal(wireEvent{
			ID:        ev.ID,
			Kind:      string(ev.Kind),
			BetNumber: ev.BetNumber,
			Actor:     ev.Actor,
			Detail:    ev.Detail,
			At:        ev.At,
		})
		if err != nil {
			f.logger.ErrorContext(ctx, "marshal event failed",
				slog.String("kind", string(ev.Kind)),
				slog.String("error", err.Error()),
			)
		} else {
			if err := f.bus.Publish(ctx, Channel, payload); err != nil {
				f.logger.ErrorContext(ctx, "publish event failed",
					slog.String("kind", string(ev.Kind)),
					slog.String("error", err.Error()),
				)
			}
			if err := f.bus.StreamAppend(ctx, Channel, payload); err != nil {
				f.logger.ErrorContext(ctx, "stream append failed",
					slog.String("kind", string(ev.Kind)),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if f.notifier != nil {
		if err := f.notifier.Event(ctx, ev); err != nil {
			f.logger.WarnContext(ctx, "notify failed",
				slog.String("kind", string(ev.Kind)),
				slog.String("error", err.Error()),
			)
		}
	}
}

var _ domain.EventSink = (*Fanout)(nil)
