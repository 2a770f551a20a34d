package mapreduce

// TaskState is a task's position in the TODO -> ACTIVE -> DONE lifecycle.
type TaskState int

const (
	// TaskTODO means the task has not been assigned to a worker.
	TaskTODO TaskState = iota
	// TaskActive means a worker currently holds the task.
	TaskActive
	// TaskDone means a worker reported successful completion.
	TaskDone
)

func (s TaskState) String() string {
	switch s {
	case TaskTODO:
		return "TODO"
	case TaskActive:
		return "ACTIVE"
	case TaskDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// Task is one unit of map or reduce work. It is only ever mutated by the
// Dataset that owns it (in turn only ever touched by the scheduler
// goroutine), so it carries no lock of its own.
type Task struct {
	TaskID  int
	Dataset *Dataset

	InURLs  []string
	OutURLs []string

	State TaskState

	// AssignedWorker is the id of the worker currently executing this
	// task, or -1 if none. It is an arena index into the Worker
	// Registry's slice rather than a direct pointer, per the design
	// notes on avoiding cyclic ownership between tasks and workers.
	AssignedWorker int
}

func newTask(taskid int, ds *Dataset, inurls []string) *Task {
	return &Task{
		TaskID:         taskid,
		Dataset:        ds,
		InURLs:         inurls,
		State:          TaskTODO,
		AssignedWorker: -1,
	}
}

// assign transitions TODO -> ACTIVE under the given worker.
func (t *Task) assign(workerID int) {
	t.State = TaskActive
	t.AssignedWorker = workerID
}

// finish transitions ACTIVE -> DONE, recording the worker's output URLs.
// Per the first-writer-wins policy (open question 3), callers must check
// the task is still ACTIVE under the reporting worker before calling this.
func (t *Task) finish(urls []string) {
	t.OutURLs = urls
	t.State = TaskDone
	t.AssignedWorker = -1
}

// cancel transitions ACTIVE -> TODO, e.g. because the assigned worker
// died or the assignment was explicitly revoked.
func (t *Task) cancel() {
	t.State = TaskTODO
	t.AssignedWorker = -1
}
