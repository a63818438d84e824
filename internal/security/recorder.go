// Package security records the append-only stream of security events.
package security

import (
	"context"
	"time"

	"github.com/google/uuid"

	"fraudwatch/internal/logger"
	"fraudwatch/pkg/metrics"
	"fraudwatch/pkg/models"
)

type Sink interface {
	Name() string
	Write(ctx context.Context, ev models.SecurityEvent) error
}

type Recorder struct {
	sinks  []Sink
	logger logger.Logger
	now    func() time.Time
}

func NewRecorder(log logger.Logger, sinks ...Sink) *Recorder {
	return &Recorder{
		sinks:  sinks,
		logger: log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Record fills in the ID and timestamp when missing and writes ev to every
// sink. A failing sink is logged and does not stop the others.
func (r *Recorder) Record(ctx context.Context, ev models.SecurityEvent) models.SecurityEvent {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = r.now()
	}

	metrics.IncSecurityEvent(string(ev.Type))

	for _, sink := range r.sinks {
		if err := sink.Write(ctx, ev); err != nil {
			r.logger.ErrorwCtx(ctx, "Failed to write security event",
				"sink", sink.Name(),
				"event_id", ev.ID,
				"type", ev.Type,
				"error", err,
			)
		}
	}
	return ev
}

func (r *Recorder) Emit(ctx context.Context, typ models.SecurityEventType, chatID, user, details string) models.SecurityEvent {
	return r.Record(ctx, models.SecurityEvent{
		Type:    typ,
		ChatID:  chatID,
		UserID:  user,
		Details: details,
	})
}
