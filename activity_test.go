package mapreduce

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestActivitySignalThenWait(t *testing.T) {
	a := NewActivity()
	a.Signal()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, a.Wait(ctx))
}

func TestActivityWaitTimesOutWithoutSignal(t *testing.T) {
	a := NewActivity()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, a.Wait(ctx))
}

func TestActivityRedundantSignalsCollapse(t *testing.T) {
	a := NewActivity()
	a.Signal()
	a.Signal()
	a.Signal()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, a.Wait(ctx))

	// The buffered channel held only one pending signal; a second Wait
	// with nothing new must block until timeout.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	assert.Error(t, a.Wait(ctx2))
}
