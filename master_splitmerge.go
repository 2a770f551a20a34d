package mapreduce

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ResultMerger collects the terminal reduce dataset's per-task output
// files into a single sorted result file. It adapts the teacher's
// merge step (originally keyed on a package-level Config["result"]
// path and a job-wide mergeName convention) to operate on whichever
// dataset the driver names as final, since a job here is an arbitrary
// dataset graph rather than one hardcoded map/reduce pair.
type ResultMerger struct {
	dataset    *Dataset
	resultFile string
}

// NewResultMerger returns a merger for ds's output, writing to
// resultFile once Execute is called.
func NewResultMerger(ds *Dataset, resultFile string) *ResultMerger {
	return &ResultMerger{dataset: ds, resultFile: resultFile}
}

// Execute reads every task's output partitions in the dataset, in task
// order, and writes one sorted "key: value" file. It is meant to be
// called once the dataset's counts() report zero todo and zero active.
func (m *ResultMerger) Execute() error {
	if err := os.MkdirAll(filepath.Dir(m.resultFile), 0777); err != nil {
		return fmt.Errorf("mapreduce: prepare result directory: %w", err)
	}

	results := make(map[string]string)
	for _, t := range m.dataset.tasks {
		for _, url := range t.OutURLs {
			records, err := readKeyValueJSON(url)
			if err != nil {
				return fmt.Errorf("mapreduce: collecting task %d output: %w", t.TaskID, err)
			}
			for _, kv := range records {
				results[kv.Key] = kv.Value
			}
		}
	}

	keys := make([]string, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	f, err := os.Create(m.resultFile)
	if err != nil {
		return fmt.Errorf("mapreduce: create result file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	defer w.Flush()
	for _, k := range keys {
		if _, err := fmt.Fprintf(w, "%s: %s\n", k, results[k]); err != nil {
			return fmt.Errorf("mapreduce: write result: %w", err)
		}
	}
	return nil
}

// Merge runs a ResultMerger over ds and logs, rather than fails, on
// error, mirroring the teacher's best-effort final step.
func (m *Master) Merge(ds *Dataset, resultFile string) {
	merger := NewResultMerger(ds, resultFile)
	if err := merger.Execute(); err != nil {
		m.Logger.Error("result merge failed", "error", err)
	}
}
