package shared

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestSetAndGetTraceID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))

	traced := SetTraceID(ctx)
	traceID := GetTraceID(traced)
	assert.Len(t, traceID, 2*TraceIDLength)
	assert.NotEqual(t, traceID, GetTraceID(SetTraceID(ctx)))
	assert.Empty(t, GetTraceID(ctx))
}

func TestGetTraceID_WrongType(t *testing.T) {
	t.Parallel()
	ctx := context.WithValue(context.Background(), TraceIDKey, 123)
	assert.Empty(t, GetTraceID(ctx))
}

func TestOwnerIDContext(t *testing.T) {
	t.Parallel()
	_, ok := OwnerIDFromContext(context.Background())
	assert.False(t, ok)

	_, ok = OwnerIDFromContext(WithOwnerID(context.Background(), uuid.Nil))
	assert.False(t, ok)

	owner := uuid.New()
	got, ok := OwnerIDFromContext(WithOwnerID(context.Background(), owner))
	assert.True(t, ok)
	assert.Equal(t, owner, got)
}
