package mapreduce

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
)

// Master is the coordination core: it owns the dataset graph, the
// worker registry, and the scheduler loop, and implements the inbound
// RPC surface workers call (§6.1).
type Master struct {
	Job      *Job
	Program  *Program
	Workers  *WorkerRegistry
	Activity *Activity
	Metrics  *Metrics
	Logger   hclog.Logger
	Config   *Config

	mu       sync.Mutex
	shutdown bool
}

// NewMaster wires together a fresh dataset graph, worker registry, and
// metrics around a program, ready to run the scheduler loop.
func NewMaster(program *Program, cfg *Config, reg prometheus.Registerer) *Master {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	activity := NewActivity()
	return &Master{
		Job:      NewJob(),
		Program:  program,
		Workers:  NewWorkerRegistry(activity, cfg.PingStrikes),
		Activity: activity,
		Metrics:  NewMetrics(reg),
		Logger:   NewLogger("master", cfg),
		Config:   cfg,
	}
}

// handleSignin implements the Signin RPC's logic: version and
// fingerprint verification, worker slot creation, and per-worker ping
// goroutine startup. It returns -1 on any mismatch, per §7.
func (m *Master) handleSignin(args *SigninArgs, observedHost string) (int, map[string]string) {
	if args.Version != Version {
		m.Logger.Warn("signin rejected: version mismatch", "got", args.Version, "want", Version)
		return -1, nil
	}
	if !m.Program.Verify(args.SourceHash, args.RegistryHash) {
		m.Logger.Warn("signin rejected: fingerprint mismatch", "host", observedHost)
		return -1, nil
	}

	cookie := uuid.NewString()
	id := m.Workers.NewWorker(observedHost, args.WorkerPort, cookie)
	w, _ := m.Workers.Get(id, cookie)

	ctx, cancel := context.WithCancel(context.Background())
	m.Workers.setPinger(w, cancel)
	go m.pingLoop(ctx, w)

	m.Logger.Info("worker signed in", "worker_id", id, "host", observedHost, "port", args.WorkerPort)
	m.Activity.Signal()
	return id, map[string]string{"cookie": cookie}
}

// handleReady implements the Ready RPC: the worker has no assignment
// and wants work. It is pushed onto the idle queue for the scheduler
// to pick up on its next wake.
func (m *Master) handleReady(workerID int, cookie string) bool {
	w, ok := m.Workers.Get(workerID, cookie)
	if !ok || !w.Alive() {
		return false
	}
	m.Workers.PushIdle(w)
	return true
}

// handleDone implements the Done RPC: a worker reports successful
// completion of its current assignment. Per §5, inbound handlers never
// touch the dataset graph directly — the report is queued for the
// scheduler to drain on its next wake.
func (m *Master) handleDone(workerID int, cookie string, urls []string) bool {
	w, ok := m.Workers.Get(workerID, cookie)
	if !ok || !w.Alive() {
		return false
	}
	task := w.Assignment()
	if task == nil {
		return false
	}
	w.touch()
	m.Workers.MarkDone(workerID, task, urls)
	return true
}

// handlePing implements the worker-originated Ping RPC, a liveness
// beacon distinct from the master's own outbound pings.
func (m *Master) handlePing(workerID int, cookie string) bool {
	w, ok := m.Workers.Get(workerID, cookie)
	if !ok || !w.Alive() {
		return false
	}
	w.touch()
	return true
}

// Quit gracefully shuts down the run: every alive worker is sent a Quit
// RPC. It does not wait for acknowledgement beyond the RPC call
// returning (open question 4).
func (m *Master) Quit() {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return
	}
	m.shutdown = true
	m.mu.Unlock()

	for _, w := range m.Workers.Snapshot() {
		if !w.Alive() {
			continue
		}
		addr := formatAddr(w.Host, w.Port)
		var reply BoolReply
		if !call(addr, QuitMethod, &QuitArgs{Cookie: w.Cookie}, &reply) {
			m.Logger.Warn("quit RPC failed", "worker_id", w.ID, "addr", addr)
		}
	}
}

// uniqueJobSuffix returns a short random suffix for task output
// directory names, replacing the teacher's ad hoc naming with uuid (§6.4).
func uniqueJobSuffix() string {
	return uuid.NewString()[:8]
}
