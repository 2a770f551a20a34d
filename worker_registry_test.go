package mapreduce

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerRegistrySigninAndGet(t *testing.T) {
	r := NewWorkerRegistry(NewActivity(), 1)
	id := r.NewWorker("127.0.0.1", "9000", "cookie-a")

	w, ok := r.Get(id, "cookie-a")
	require.True(t, ok)
	assert.True(t, w.Alive())
	assert.Equal(t, "127.0.0.1", w.Host)

	_, ok = r.Get(id, "wrong-cookie")
	assert.False(t, ok, "a mismatched cookie must be rejected")

	_, ok = r.Get(id+1, "cookie-a")
	assert.False(t, ok, "an out-of-range id must be rejected")
}

func TestWorkerRegistryPushAndPopIdle(t *testing.T) {
	r := NewWorkerRegistry(NewActivity(), 1)
	id := r.NewWorker("127.0.0.1", "9000", "cookie-a")
	w, _ := r.Get(id, "cookie-a")

	r.PushIdle(w)
	assert.Equal(t, 1, r.IdleCount())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	popped, err := r.PopIdle(ctx)
	require.NoError(t, err)
	assert.Same(t, w, popped)
	assert.Equal(t, 0, r.IdleCount())
}

func TestWorkerRegistryTryPopIdleNonBlocking(t *testing.T) {
	r := NewWorkerRegistry(NewActivity(), 1)
	assert.Nil(t, r.TryPopIdle(), "an empty idle queue must not block")

	id := r.NewWorker("127.0.0.1", "9000", "cookie-a")
	w, _ := r.Get(id, "cookie-a")
	r.PushIdle(w)

	assert.Same(t, w, r.TryPopIdle())
	assert.Nil(t, r.TryPopIdle())
}

func TestWorkerRegistryRemoveTriggersPingStopAndMarksDead(t *testing.T) {
	r := NewWorkerRegistry(NewActivity(), 1)
	id := r.NewWorker("127.0.0.1", "9000", "cookie-a")
	w, _ := r.Get(id, "cookie-a")

	canceled := false
	r.setPinger(w, func() { canceled = true })

	r.Remove(w)
	assert.False(t, w.Alive())
	assert.True(t, canceled, "Remove must cancel the worker's ping goroutine")
}

func TestWorkerRegistryRemoveFromIdleDoesNotWedgePopIdle(t *testing.T) {
	r := NewWorkerRegistry(NewActivity(), 1)
	idA := r.NewWorker("a", "1", "cookie-a")
	wa, _ := r.Get(idA, "cookie-a")
	idB := r.NewWorker("b", "2", "cookie-b")
	wb, _ := r.Get(idB, "cookie-b")

	r.PushIdle(wa)
	r.Remove(wa) // drops from idle slice without decrementing the semaphore
	r.PushIdle(wb)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	popped, err := r.PopIdle(ctx)
	require.NoError(t, err)
	assert.Same(t, wb, popped, "PopIdle must tolerate the spurious acquire left behind by Remove")
}

func TestWorkerRegistryMarkDoneAndPopDone(t *testing.T) {
	r := NewWorkerRegistry(NewActivity(), 1)
	ds := newDataset(MapPhase, FileInput{"a.txt"}, "mapper", "default", 1, 1, "/tmp/out", "u1")
	require.NoError(t, ds.makeTasks())
	tk := ds.getTask()

	assert.Nil(t, r.PopDone())
	r.MarkDone(1, tk, []string{"out"})
	r.MarkDone(2, tk, []string{"out2"})

	recs := r.PopDone()
	require.Len(t, recs, 2)
	assert.Nil(t, r.PopDone(), "PopDone must drain the queue")
}
