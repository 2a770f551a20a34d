package mapreduce

import "fmt"

// Input is the uniform input reference described in the data model: a
// dataset's input is either a fixed list of external URLs (one per map
// task) or the output of an upstream dataset, partitioned by task id.
type Input interface {
	// length is the number of distinct task inputs this reference
	// provides, used to validate ntasks == len(input) for Map stages
	// whose input is external files (see the resolved open question).
	length() int
	// urlsForTask returns the URLs task taskid must read.
	urlsForTask(taskid int) []string
}

// FileInput is an Input backed by a fixed list of external files, one
// per task. It is only valid for the first Map stage of a job.
type FileInput []string

func (f FileInput) length() int { return len(f) }

func (f FileInput) urlsForTask(taskid int) []string {
	return []string{f[taskid]}
}

// datasetInput is an Input backed by an upstream dataset's partitioned
// output: task t's input is partition t of every upstream task's output.
type datasetInput struct {
	upstream *Dataset
}

// FromDataset builds the Input for a stage that consumes the partitioned
// output of an upstream stage.
func FromDataset(upstream *Dataset) Input {
	return datasetInput{upstream: upstream}
}

func (d datasetInput) length() int { return d.upstream.NParts }

func (d datasetInput) urlsForTask(taskid int) []string {
	var urls []string
	for _, t := range d.upstream.tasks {
		if taskid < len(t.OutURLs) {
			urls = append(urls, t.OutURLs[taskid])
		}
	}
	return urls
}

// Dataset is the immutable descriptor of one stage: a kind, an input
// reference, the registered function names it applies, and its fan-out.
// Tasks are materialized lazily, on first scheduling, by makeTasks.
type Dataset struct {
	Kind       Phase
	Input      Input
	FuncName   string
	PartName   string
	NTasks     int
	NParts     int
	OutDir     string
	UniqSuffix string

	tasksMade bool
	tasks     []*Task
	todo      []*Task
	active    map[int]*Task
	done      map[int]*Task
}

func newDataset(kind Phase, input Input, funcName, partName string, ntasks, nparts int, outdir, uniq string) *Dataset {
	return &Dataset{
		Kind:       kind,
		Input:      input,
		FuncName:   funcName,
		PartName:   partName,
		NTasks:     ntasks,
		NParts:     nparts,
		OutDir:     outdir,
		UniqSuffix: uniq,
		active:     make(map[int]*Task),
		done:       make(map[int]*Task),
	}
}

// makeTasks materializes this dataset's task vector on first use. For a
// Map stage with external-file input, ntasks must equal len(input); this
// is a validated precondition, not auto-split (open question 1).
func (d *Dataset) makeTasks() error {
	if d.tasksMade {
		return nil
	}
	if _, ok := d.Input.(FileInput); ok && d.Input.length() != d.NTasks {
		return fmt.Errorf("mapreduce: dataset declares ntasks=%d but external input has %d files",
			d.NTasks, d.Input.length())
	}

	d.tasks = make([]*Task, d.NTasks)
	for i := 0; i < d.NTasks; i++ {
		t := newTask(i, d, d.Input.urlsForTask(i))
		d.tasks[i] = t
		d.todo = append(d.todo, t)
	}
	d.tasksMade = true
	return nil
}

// ready reports whether the dataset has no TODO or ACTIVE tasks left,
// i.e. |todo|+|active| == 0. Per the invariant, a freshly constructed
// dataset (tasks not yet made) is not ready.
func (d *Dataset) ready() bool {
	return d.tasksMade && len(d.todo) == 0 && len(d.active) == 0
}

// getTask pops the next TODO task, if any, moving it to ACTIVE is the
// caller's responsibility (via assign) once a worker is chosen.
func (d *Dataset) getTask() *Task {
	if len(d.todo) == 0 {
		return nil
	}
	n := len(d.todo)
	t := d.todo[n-1]
	d.todo = d.todo[:n-1]
	return t
}

// activate moves a task from todo-popped state into the active set and
// assigns it to workerID. Call getTask first to remove it from todo.
func (d *Dataset) activate(t *Task, workerID int) {
	t.assign(workerID)
	d.active[t.TaskID] = t
}

// complete moves a task from active to done, recording its outputs.
// It is a no-op if the task is not currently active (idempotent late
// done, §8 property 6) or if the reporting worker no longer matches.
func (d *Dataset) complete(t *Task, workerID int, urls []string) bool {
	active, ok := d.active[t.TaskID]
	if !ok || active != t || t.AssignedWorker != workerID {
		return false
	}
	delete(d.active, t.TaskID)
	t.finish(urls)
	d.done[t.TaskID] = t
	return true
}

// requeue moves an active task back to todo, e.g. because its worker
// died. It is a no-op if the task is not active.
func (d *Dataset) requeue(t *Task) bool {
	active, ok := d.active[t.TaskID]
	if !ok || active != t {
		return false
	}
	delete(d.active, t.TaskID)
	t.cancel()
	d.todo = append(d.todo, t)
	return true
}

// counts returns the current (todo, active, done) sizes, satisfying the
// universal invariant |todo|+|active|+|done| == ntasks.
func (d *Dataset) counts() (todo, active, done int) {
	return len(d.todo), len(d.active), len(d.done)
}

// Job tracks the ordered sequence of datasets a driver declares and a
// cursor into the currently scheduled one. It is mutated only by the
// scheduler goroutine.
type Job struct {
	datasets []*Dataset
	current  int
}

// NewJob returns an empty dataset graph.
func NewJob() *Job {
	return &Job{}
}

// MapData appends a Map stage to the graph and returns its Dataset.
func (j *Job) MapData(input Input, funcName, partName string, ntasks, nparts int, outdir, uniq string) *Dataset {
	ds := newDataset(MapPhase, input, funcName, partName, ntasks, nparts, outdir, uniq)
	j.datasets = append(j.datasets, ds)
	return ds
}

// ReduceData appends a Reduce stage to the graph and returns its Dataset.
func (j *Job) ReduceData(input Input, funcName, partName string, ntasks, nparts int, outdir, uniq string) *Dataset {
	ds := newDataset(ReducePhase, input, funcName, partName, ntasks, nparts, outdir, uniq)
	j.datasets = append(j.datasets, ds)
	return ds
}

// Done reports whether the cursor has advanced past the last dataset.
func (j *Job) Done() bool {
	return j.current >= len(j.datasets)
}

// Advance moves the cursor past every dataset that is already ready,
// materializing tasks for each dataset it visits along the way. It
// returns the dataset now current, or nil if the job is done.
func (j *Job) Advance() (*Dataset, error) {
	for j.current < len(j.datasets) {
		ds := j.datasets[j.current]
		if err := ds.makeTasks(); err != nil {
			return nil, err
		}
		if ds.ready() {
			j.current++
			continue
		}
		return ds, nil
	}
	return nil, nil
}

// Current returns the dataset at the cursor without advancing it, or
// nil if the job is done.
func (j *Job) Current() *Dataset {
	if j.Done() {
		return nil
	}
	return j.datasets[j.current]
}

// Datasets returns the full declared sequence, for status reporting.
func (j *Job) Datasets() []*Dataset {
	return j.datasets
}
