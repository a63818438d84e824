package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetLogFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetLogFields(ctx))

	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithEventID(ctx, "evt-1")
	ctx = WithChatID(ctx, "-100123")
	ctx = WithServiceName(ctx, "fraudwatch")

	assert.Equal(t, []interface{}{
		"trace_id", "trace-1",
		"event_id", "evt-1",
		"chat_id", "-100123",
		"service_name", "fraudwatch",
	}, GetLogFields(ctx))
}

func TestGetters_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), ChatIDKey, 42)
	assert.Equal(t, "", GetChatID(ctx))
}
