package mapreduce

import "context"

// Activity is the one-shot wake event the scheduler blocks on. Every
// component that changes scheduler-observable state (signin, ready,
// done, worker death) must call Signal. It is implemented as a
// buffered channel of size 1: a non-blocking send is the signal, a
// receive (or a closed-over select against ctx.Done) is the wait. This
// is the idiomatic Go substitute for the source design's condition
// variable plus threading.Event.
type Activity struct {
	ch chan struct{}
}

// NewActivity returns a ready-to-use activity event.
func NewActivity() *Activity {
	return &Activity{ch: make(chan struct{}, 1)}
}

// Signal wakes a pending or future Wait call. Safe to call from any
// goroutine; redundant signals before the next Wait collapse into one.
func (a *Activity) Signal() {
	select {
	case a.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until Signal has been called at least once since the
// last Wait, or ctx is done.
func (a *Activity) Wait(ctx context.Context) error {
	select {
	case <-a.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
