package mapreduce

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Worker is one registered remote worker slot. Its id is assigned once
// at Signin and never reused, so downstream task-to-worker references
// stay valid even after the worker dies.
type Worker struct {
	ID     int
	Host   string
	Port   string
	Cookie string

	mu         sync.Mutex
	assignment *Task
	lastSeen   time.Time
	alive      bool

	cancelPing context.CancelFunc
}

func (w *Worker) touch() {
	w.mu.Lock()
	w.lastSeen = time.Now()
	w.mu.Unlock()
}

// Assignment returns the task this worker currently holds, or nil.
func (w *Worker) Assignment() *Task {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.assignment
}

// Alive reports whether the worker is still considered live.
func (w *Worker) Alive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.alive
}

func (w *Worker) LastSeen() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeen
}

// doneRecord is a completion report queued by Done, drained by the
// scheduler on its next wake.
type doneRecord struct {
	workerID int
	task     *Task
	urls     []string
}

// WorkerRegistry is the thread-safe set of registered workers, their
// liveness, and the idle queue the scheduler assigns from. It mirrors
// the teacher's single-lock design, adding a counting semaphore
// (golang.org/x/sync/semaphore.Weighted) for the idle queue so that a
// blocking pop sleeps without holding the registry lock. The semaphore
// count is only ever an upper bound on the idle queue's length: Remove
// can drop a worker from the idle slice without decrementing it, so a
// successful acquire does not guarantee an idle worker is waiting —
// PopIdle must tolerate that and loop.
type WorkerRegistry struct {
	mu      sync.Mutex
	workers []*Worker
	idle    []*Worker
	idleSem *semaphore.Weighted

	doneMu sync.Mutex
	done   []doneRecord

	activity    *Activity
	pingStrikes int
}

// NewWorkerRegistry returns an empty registry. pingStrikes is the number
// of consecutive ping failures before a worker is declared dead (open
// question 2; default policy is one strike, i.e. pingStrikes=1).
func NewWorkerRegistry(activity *Activity, pingStrikes int) *WorkerRegistry {
	if pingStrikes < 1 {
		pingStrikes = 1
	}
	// Start with every unit held, so the available count starts at zero
	// and grows by one per PushIdle.
	idleSem := semaphore.NewWeighted(1 << 30)
	idleSem.TryAcquire(1 << 30)
	return &WorkerRegistry{
		idleSem:     idleSem,
		activity:    activity,
		pingStrikes: pingStrikes,
	}
}

// NewWorker appends a new slot and returns its dense id. The slot is
// never removed from the backing vector, only marked dead, so ids stay
// stable for the lifetime of the run.
func (r *WorkerRegistry) NewWorker(host, port, cookie string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	w := &Worker{
		ID:       len(r.workers),
		Host:     host,
		Port:     port,
		Cookie:   cookie,
		alive:    true,
		lastSeen: time.Now(),
	}
	r.workers = append(r.workers, w)
	return w.ID
}

// Get returns the worker at id iff it is in range and its cookie
// matches, rejecting forged calls. A dead worker's cookie still matches
// (so a late, legitimate call can be told "you're dead" rather than
// "no such worker"), but callers must check Alive().
func (r *WorkerRegistry) Get(id int, cookie string) (*Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id < 0 || id >= len(r.workers) {
		return nil, false
	}
	w := r.workers[id]
	if w.Cookie != cookie {
		return nil, false
	}
	return w, true
}

// PushIdle marks w idle and available for assignment.
func (r *WorkerRegistry) PushIdle(w *Worker) {
	r.mu.Lock()
	w.mu.Lock()
	w.assignment = nil
	alive := w.alive
	w.mu.Unlock()
	if alive {
		r.idle = append(r.idle, w)
	}
	r.mu.Unlock()
	r.idleSem.Release(1)
	if r.activity != nil {
		r.activity.Signal()
	}
}

// PopIdle blocks until an idle worker is available or ctx is done. It
// tolerates spurious wakeups caused by Remove signaling without a
// corresponding push, by looping until it actually pops one.
func (r *WorkerRegistry) PopIdle(ctx context.Context) (*Worker, error) {
	for {
		if err := r.idleSem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		r.mu.Lock()
		var w *Worker
		if n := len(r.idle); n > 0 {
			w = r.idle[n-1]
			r.idle = r.idle[:n-1]
		}
		r.mu.Unlock()
		if w != nil {
			w.mu.Lock()
			w.assignment = nil
			w.mu.Unlock()
			return w, nil
		}
		// The semaphore count outran the idle slice (Remove fired
		// without a push); try again.
	}
}

// TryPopIdle is a non-blocking variant used by the scheduler's drain
// step, which never wants to sleep while there is other work to do.
func (r *WorkerRegistry) TryPopIdle() *Worker {
	for {
		if !r.idleSem.TryAcquire(1) {
			return nil
		}
		r.mu.Lock()
		var w *Worker
		if n := len(r.idle); n > 0 {
			w = r.idle[n-1]
			r.idle = r.idle[:n-1]
		}
		r.mu.Unlock()
		if w != nil {
			return w
		}
	}
}

// SetAssignment records that w now holds task t.
func (r *WorkerRegistry) SetAssignment(w *Worker, t *Task) {
	w.mu.Lock()
	w.assignment = t
	w.mu.Unlock()
}

// Remove marks w dead, drops it from the idle queue if present, and
// does NOT decrement the idle semaphore — PopIdle is built to tolerate
// that. The worker's slot remains in the vector so its id stays valid.
func (r *WorkerRegistry) Remove(w *Worker) {
	r.mu.Lock()
	for i, idle := range r.idle {
		if idle == w {
			r.idle = append(r.idle[:i], r.idle[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	w.mu.Lock()
	w.alive = false
	cancel := w.cancelPing
	w.cancelPing = nil
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if r.activity != nil {
		r.activity.Signal()
	}
}

// setPinger records the cancel function for a worker's background ping
// goroutine, so Remove can stop it.
func (r *WorkerRegistry) setPinger(w *Worker, cancel context.CancelFunc) {
	w.mu.Lock()
	w.cancelPing = cancel
	w.mu.Unlock()
}

// MarkDone enqueues a completion record for the scheduler to drain and
// signals activity. It does not touch task/dataset state directly —
// inbound RPC handlers never mutate the dataset graph (see §5).
func (r *WorkerRegistry) MarkDone(workerID int, task *Task, urls []string) {
	r.doneMu.Lock()
	r.done = append(r.done, doneRecord{workerID: workerID, task: task, urls: urls})
	r.doneMu.Unlock()
	if r.activity != nil {
		r.activity.Signal()
	}
}

// PopDone drains and returns all queued completion records.
func (r *WorkerRegistry) PopDone() []doneRecord {
	r.doneMu.Lock()
	defer r.doneMu.Unlock()
	if len(r.done) == 0 {
		return nil
	}
	out := r.done
	r.done = nil
	return out
}

// Snapshot returns a copy of the worker slice for status reporting and
// the dead-worker sweep.
func (r *WorkerRegistry) Snapshot() []*Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Worker, len(r.workers))
	copy(out, r.workers)
	return out
}

// IdleCount reports the current idle-queue length, for metrics.
func (r *WorkerRegistry) IdleCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.idle)
}
