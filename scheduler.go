package mapreduce

import (
	"context"
	"time"
)

// Run drives the job to completion: it repeatedly dispatches TODO tasks
// to idle workers, drains completion reports, sweeps for dead workers,
// and advances the dataset cursor, until every declared dataset is
// DONE. It is the only goroutine that touches the dataset graph,
// matching the single-writer design in the concurrency notes.
func (m *Master) Run(ctx context.Context) error {
	for {
		ds, err := m.Job.Advance()
		if err != nil {
			return err
		}
		if ds == nil {
			return nil
		}

		m.drainDone(ds)
		m.sweepDead(ds)
		m.dispatch(ctx, ds)
		m.updateMetrics(ds)

		if ds.ready() {
			continue
		}
		if err := m.Activity.Wait(ctx); err != nil {
			return err
		}
	}
}

// drainDone applies every queued completion report to the dataset's
// task state. Reports for a task that already finished, or whose
// reporting worker no longer holds it, are dropped: first writer wins
// (open question 3).
func (m *Master) drainDone(ds *Dataset) {
	for _, rec := range m.Workers.PopDone() {
		if rec.task.Dataset != ds {
			continue
		}
		if ds.complete(rec.task, rec.workerID, rec.urls) {
			m.Metrics.TasksCompleted.Inc()
			m.Logger.Info("task done", "task_id", rec.task.TaskID, "phase", ds.Kind, "worker_id", rec.workerID)
		}
	}
}

// sweepDead requeues every active task still held by a worker that has
// been declared dead. A dead worker's stale assignment is ignored once
// the task is active under another worker.
func (m *Master) sweepDead(ds *Dataset) {
	for _, w := range m.Workers.Snapshot() {
		if w.Alive() {
			continue
		}
		if t := w.Assignment(); t != nil && t.Dataset == ds && t.AssignedWorker == w.ID {
			if ds.requeue(t) {
				m.Logger.Warn("task requeued after worker death", "task_id", t.TaskID, "worker_id", w.ID)
			}
		}
	}
}

// dispatch hands every available TODO task to an idle worker, never
// blocking: a task with no idle worker waiting stays TODO until the
// next wake.
func (m *Master) dispatch(ctx context.Context, ds *Dataset) {
	for {
		w := m.Workers.TryPopIdle()
		if w == nil {
			return
		}
		t := ds.getTask()
		if t == nil {
			m.Workers.PushIdle(w)
			return
		}
		ds.activate(t, w.ID)
		m.Workers.SetAssignment(w, t)
		go m.runTask(ctx, ds, t, w)
	}
}

// runTask sends one StartMap/StartReduce RPC to w. A failed dispatch is
// treated as immediate worker death, the same as a failed ping: w is
// removed from the registry right away rather than waiting on its ping
// loop to notice, so the task returns to TODO and is reassigned on the
// scheduler's next wake instead of sitting ACTIVE indefinitely.
func (m *Master) runTask(ctx context.Context, ds *Dataset, t *Task, w *Worker) {
	args := &StartTaskArgs{
		TaskID:        t.TaskID,
		InputURLs:     t.InURLs,
		FuncName:      ds.FuncName,
		PartitionName: ds.PartName,
		NParts:        ds.NParts,
		OutDir:        ds.OutDir,
		Cookie:        w.Cookie,
	}
	method := StartMapMethod
	if ds.Kind == ReducePhase {
		method = StartReduceMethod
	}

	addr := formatAddr(w.Host, w.Port)
	var reply BoolReply
	if !call(addr, method, args, &reply) || !reply.OK {
		m.Logger.Warn("task dispatch failed, declaring worker dead", "task_id", t.TaskID, "worker_id", w.ID, "addr", addr)
		m.Metrics.WorkersDied.Inc()
		m.Workers.Remove(w)
	}
	m.Activity.Signal()
}

// pingLoop periodically pings w until the worker signs off or fails
// pingStrikes consecutive pings, at which point it is removed from the
// registry (declared dead) and its active task requeued on the next
// scheduler pass.
func (m *Master) pingLoop(ctx context.Context, w *Worker) {
	interval := m.Config.PingInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	strikes := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			addr := formatAddr(w.Host, w.Port)
			var reply BoolReply
			ok := call(addr, PingWorkerMethod, &PingArgs{WorkerID: w.ID, Cookie: w.Cookie}, &reply) && reply.OK
			if ok {
				strikes = 0
				continue
			}
			strikes++
			if strikes >= m.Workers.pingStrikes {
				m.Logger.Warn("worker declared dead", "worker_id", w.ID, "addr", addr, "strikes", strikes)
				m.Metrics.WorkersDied.Inc()
				m.Workers.Remove(w)
				return
			}
		}
	}
}

// updateMetrics refreshes the scheduler's point-in-time gauges.
func (m *Master) updateMetrics(ds *Dataset) {
	todo, active, done := ds.counts()
	_ = done
	m.Metrics.TodoTasks.Set(float64(todo))
	m.Metrics.ActiveTasks.Set(float64(active))
	m.Metrics.IdleWorkers.Set(float64(m.Workers.IdleCount()))
	m.Metrics.CurrentStage.Set(float64(m.currentStageIndex()))
}

func (m *Master) currentStageIndex() int {
	for i, ds := range m.Job.Datasets() {
		if ds == m.Job.Current() {
			return i
		}
	}
	return -1
}
