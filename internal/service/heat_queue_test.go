package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func waitCalls(t *testing.T, h *recordingHeater, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-h.done:
		case <-time.After(5 * time.Second):
			t.Fatalf("heater saw %d of %d calls", i, n)
		}
	}
}

func TestHeat_NilFolloweesResolvesUser(t *testing.T) {
	h := newRecordingHeater()
	_, err := Heat(context.Background(), h, HeatMessage{UserID: 7})
	require.NoError(t, err)
	_, err = Heat(context.Background(), h, HeatMessage{UserID: 8, FolloweeIDs: []int64{}})
	require.NoError(t, err)

	calls := h.Calls()
	require.Len(t, calls, 2)
	assert.Nil(t, calls[0].FolloweeIDs)
	assert.NotNil(t, calls[1].FolloweeIDs)
}

func TestHeatQueue_RunsAndStops(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newRecordingHeater()
	q := NewHeatQueue(h, 16, time.Second)
	stop := q.Start(2)

	require.True(t, q.Enqueue(HeatMessage{UserID: 1, FolloweeIDs: []int64{2}}))
	require.True(t, q.Enqueue(HeatMessage{UserID: 3}))
	waitCalls(t, h, 2)

	select {
	case d := <-q.Metrics():
		assert.GreaterOrEqual(t, d, time.Duration(0))
	case <-time.After(time.Second):
		t.Fatal("no latency sample")
	}
	require.NoError(t, stop(context.Background()))
	assert.ElementsMatch(t, []int64{1, 3}, []int64{h.Calls()[0].UserID, h.Calls()[1].UserID})
}

func TestHeatQueue_DropsWhenFull(t *testing.T) {
	q := NewHeatQueue(newRecordingHeater(), 1, time.Second)
	assert.True(t, q.Enqueue(HeatMessage{UserID: 1}))
	assert.False(t, q.Enqueue(HeatMessage{UserID: 2}))
	assert.Equal(t, 1, q.QueueLen())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := QueueSink{Queue: q}.Publish(ctx, HeatMessage{UserID: 3})
	assert.ErrorIs(t, err, ErrHeatQueueFull)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueSink_WaitsForRoom(t *testing.T) {
	h := newRecordingHeater()
	q := NewHeatQueue(h, 1, time.Second)
	require.True(t, q.Enqueue(HeatMessage{UserID: 1}))

	published := make(chan error, 1)
	go func() { published <- QueueSink{Queue: q}.Publish(context.Background(), HeatMessage{UserID: 2}) }()

	stop := q.Start(1)
	defer func() { require.NoError(t, stop(context.Background())) }()

	select {
	case err := <-published:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("publish did not wait for room")
	}
	waitCalls(t, h, 2)
	assert.ElementsMatch(t, []int64{1, 2}, []int64{h.Calls()[0].UserID, h.Calls()[1].UserID})
}
