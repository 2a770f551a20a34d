package mapreduce

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskLifecycle(t *testing.T) {
	ds := newDataset(MapPhase, FileInput{"a.txt"}, "mapper", "default", 1, 1, "/tmp/out", "u1")
	tk := newTask(0, ds, []string{"a.txt"})
	assert.Equal(t, TaskTODO, tk.State)
	assert.Equal(t, -1, tk.AssignedWorker)

	tk.assign(7)
	assert.Equal(t, TaskActive, tk.State)
	assert.Equal(t, 7, tk.AssignedWorker)

	tk.finish([]string{"/tmp/out/part-00000"})
	assert.Equal(t, TaskDone, tk.State)
	assert.Equal(t, -1, tk.AssignedWorker)
	assert.Equal(t, []string{"/tmp/out/part-00000"}, tk.OutURLs)
}

func TestTaskCancelReturnsToTODO(t *testing.T) {
	ds := newDataset(MapPhase, FileInput{"a.txt"}, "mapper", "default", 1, 1, "/tmp/out", "u1")
	tk := newTask(0, ds, []string{"a.txt"})
	tk.assign(3)
	tk.cancel()
	assert.Equal(t, TaskTODO, tk.State)
	assert.Equal(t, -1, tk.AssignedWorker)
}

func TestTaskStateString(t *testing.T) {
	assert.Equal(t, "TODO", TaskTODO.String())
	assert.Equal(t, "ACTIVE", TaskActive.String())
	assert.Equal(t, "DONE", TaskDone.String())
	assert.Equal(t, "UNKNOWN", TaskState(99).String())
}
