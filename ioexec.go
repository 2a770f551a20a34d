package mapreduce

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// MapFunc is a user map callable: given a record's key and value, it
// produces zero or more output key-value pairs.
type MapFunc func(key, value string) []KeyValue

// ReduceFunc is a user reduce callable: given a key and all of its
// values, it produces the single combined value for that key.
type ReduceFunc func(key string, values []string) string

// PartitionFunc assigns a key to one of nparts output partitions.
type PartitionFunc func(key string, nparts int) int

// RunMap executes one map task: it reads every input URL (one file
// each, read by readRecords as one record per line, keyed by the line's
// 0-based number), applies mapper, and partitions the
// output across nparts JSON-lines files under a fresh task directory.
// It returns the partition file URLs in partition order, as required by
// the shuffle (reduce task r reads partition r from every map task).
func RunMap(mapper MapFunc, partition PartitionFunc, taskID int, inputURLs []string, nparts int, outdir, uniq string) ([]string, error) {
	dir := taskOutputDir(outdir, MapPhase, taskID, uniq)
	if err := os.MkdirAll(dir, 0777); err != nil {
		return nil, fmt.Errorf("mapreduce: create map output dir: %w", err)
	}

	encoders := make([]*json.Encoder, nparts)
	files := make([]*os.File, nparts)
	urls := make([]string, nparts)
	for p := 0; p < nparts; p++ {
		name := partitionFile(dir, p)
		f, err := os.Create(name)
		if err != nil {
			closeAll(files)
			return nil, fmt.Errorf("mapreduce: create partition file: %w", err)
		}
		files[p] = f
		encoders[p] = json.NewEncoder(f)
		urls[p] = name
	}
	defer closeAll(files)

	for _, url := range inputURLs {
		records, err := readRecords(url)
		if err != nil {
			return nil, err
		}
		for _, kv := range records {
			for _, out := range mapper(kv.Key, kv.Value) {
				p := partition(out.Key, nparts)
				if err := encoders[p].Encode(&out); err != nil {
					return nil, fmt.Errorf("mapreduce: encode map output: %w", err)
				}
			}
		}
	}
	return urls, nil
}

// RunReduce executes one reduce task: it reads every input partition
// file (one per upstream map task), groups values by key, applies
// reducer, and writes a single sorted JSON-lines output file.
func RunReduce(reducer ReduceFunc, taskID int, inputURLs []string, outdir, uniq string) ([]string, error) {
	dir := taskOutputDir(outdir, ReducePhase, taskID, uniq)
	if err := os.MkdirAll(dir, 0777); err != nil {
		return nil, fmt.Errorf("mapreduce: create reduce output dir: %w", err)
	}

	grouped := make(map[string][]string)
	for _, url := range inputURLs {
		records, err := readKeyValueJSON(url)
		if err != nil {
			return nil, err
		}
		for _, kv := range records {
			grouped[kv.Key] = append(grouped[kv.Key], kv.Value)
		}
	}

	keys := make([]string, 0, len(grouped))
	for k := range grouped {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	outName := partitionFile(dir, 0)
	f, err := os.Create(outName)
	if err != nil {
		return nil, fmt.Errorf("mapreduce: create reduce output file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, k := range keys {
		out := KeyValue{Key: k, Value: reducer(k, grouped[k])}
		if err := enc.Encode(&out); err != nil {
			return nil, fmt.Errorf("mapreduce: encode reduce output: %w", err)
		}
	}
	return []string{outName}, nil
}

// readRecords reads a raw input file as newline-delimited records, one
// per line, keyed by its 0-based line number. The on-disk record format
// is explicitly out of scope (Non-goals), so this is the one fixed
// convention every first-stage map task relies on; it lets plain text
// files be used directly as input, matching the teacher's word-count
// example.
func readRecords(path string) ([]KeyValue, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mapreduce: open input %s: %w", path, err)
	}
	defer f.Close()

	var out []KeyValue
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		line := scanner.Text()
		lineNum++
		out = append(out, KeyValue{Key: fmt.Sprintf("%d", lineNum-1), Value: line})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("mapreduce: read input %s: %w", path, err)
	}
	return out, nil
}

// readKeyValueJSON reads a JSON-lines KeyValue file, as produced by
// RunMap's partition files.
func readKeyValueJSON(path string) ([]KeyValue, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mapreduce: open intermediate %s: %w", path, err)
	}
	defer f.Close()

	var out []KeyValue
	dec := json.NewDecoder(f)
	for dec.More() {
		var kv KeyValue
		if err := dec.Decode(&kv); err != nil {
			return nil, fmt.Errorf("mapreduce: decode intermediate %s: %w", path, err)
		}
		out = append(out, kv)
	}
	return out, nil
}

func closeAll(files []*os.File) {
	for _, f := range files {
		if f != nil {
			f.Close()
		}
	}
}
