package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func ok(context.Context) error   { return nil }
func fail(context.Context) error { return errors.New("down") }

func TestCheckerRegistry(t *testing.T) {
	tests := []struct {
		name     string
		required func(context.Context) error
		optional func(context.Context) error
		want     Status
	}{
		{"all healthy", ok, ok, StatusHealthy},
		{"optional failing degrades", ok, fail, StatusDegraded},
		{"required failing", fail, ok, StatusUnhealthy},
		{"both failing", fail, fail, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewCheckerRegistry()
			r.Register(NewFuncChecker("store", tt.required))
			r.RegisterOptional(NewFuncChecker("redis", tt.optional))

			h := r.Check(context.Background())
			assert.Equal(t, tt.want, h.Status)
			assert.Len(t, h.Checks, 2)
		})
	}
}

func TestCheckerRegistry_Message(t *testing.T) {
	r := NewCheckerRegistry()
	r.Register(NewFuncChecker("store", fail))

	h := r.Check(context.Background())
	assert.Equal(t, "down", h.Checks["store"].Message)
	assert.Equal(t, StatusUnhealthy, h.Checks["store"].Status)
}

func TestCheckerRegistry_Empty(t *testing.T) {
	assert.Equal(t, StatusHealthy, NewCheckerRegistry().Check(context.Background()).Status)
}
