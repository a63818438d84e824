package models

import (
	"encoding/json"
	"time"

	pkgerrors "fraudwatch/pkg/errors"
)

// DecodeInboundEvent parses and validates an InboundEvent received by a
// transport. A zero timestamp is filled with the current time and an empty
// source with source.
func DecodeInboundEvent(data []byte, source string) (InboundEvent, error) {
	var ev InboundEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, pkgerrors.ErrValidation.WithMessage("malformed event").WithCause(err)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Source == "" {
		ev.Source = source
	}
	if err := ValidateInboundEvent(ev); err != nil {
		return ev, pkgerrors.ErrValidation.WithMessage(err.Error()).WithCause(err)
	}
	return ev, nil
}
