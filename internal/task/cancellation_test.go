package task

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCancellationRegistry(t *testing.T) {
	r := NewCancellationRegistry()
	id := uuid.New()

	ctx, release := r.Register(context.Background(), id)
	assert.True(t, r.IsRegistered(id))
	assert.NoError(t, ctx.Err())

	assert.True(t, r.Cancel(id))
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.False(t, r.IsRegistered(id))

	// Release after cancel is harmless, and cancelling again reports nothing to do.
	release()
	assert.False(t, r.Cancel(id))
}

func TestCancellationRegistry_ReleaseUnregisters(t *testing.T) {
	r := NewCancellationRegistry()
	id := uuid.New()

	ctx, release := r.Register(context.Background(), id)
	release()

	assert.False(t, r.IsRegistered(id))
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.False(t, r.Cancel(id))
}
