package transfer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJob_Transitions(t *testing.T) {
	job := NewJob(TableDescriptor{Database: "shop", Name: "orders"}, 100)
	assert.Equal(t, StatusPending, job.Status())
	assert.Equal(t, "shop.orders", job.Name())
	assert.Zero(t, job.Duration())

	assert.ErrorIs(t, job.MarkCompleted(), ErrInvalidTransition)
	assert.ErrorIs(t, job.MarkFailed(errors.New("x")), ErrInvalidTransition)

	require.NoError(t, job.MarkRunning())
	assert.Equal(t, StatusRunning, job.Status())
	assert.False(t, job.StartedAt().IsZero())
	assert.ErrorIs(t, job.MarkRunning(), ErrInvalidTransition)

	require.NoError(t, job.MarkCompleted())
	assert.Equal(t, StatusCompleted, job.Status())
	assert.True(t, job.Status().IsTerminal())
	assert.ErrorIs(t, job.MarkFailed(errors.New("late")), ErrInvalidTransition)
	assert.NoError(t, job.Err())
}

func TestJob_Failed(t *testing.T) {
	job := NewJob(TableDescriptor{Name: "orders"}, 100)
	require.NoError(t, job.MarkRunning())
	cause := errors.New("count failed")
	require.NoError(t, job.MarkFailed(cause))
	assert.Equal(t, StatusFailed, job.Status())
	assert.Equal(t, cause, job.Err())
	assert.ErrorIs(t, job.MarkCompleted(), ErrInvalidTransition)
}

func TestJob_Counters(t *testing.T) {
	job := NewJob(TableDescriptor{Name: "orders"}, 100)
	job.setExpected(3)
	assert.Equal(t, int64(1), job.rowDone(true))
	assert.Equal(t, int64(2), job.rowDone(false))
	assert.Equal(t, int64(3), job.rowDone(true))

	assert.Equal(t, int64(3), job.Processed())
	assert.Equal(t, int64(1), job.Failed())
	assert.Equal(t, int64(2), job.Transferred())
	assert.Equal(t, int64(3), job.Expected())
}
