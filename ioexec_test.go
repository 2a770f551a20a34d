package mapreduce

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeInputFile(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func wcMap(_ string, value string) []KeyValue {
	return []KeyValue{{Key: value, Value: "1"}}
}

func wcReduce(_ string, values []string) string {
	count := 0
	for range values {
		count++
	}
	return string(rune('0' + count))
}

func TestRunMapPartitionsByDefaultHash(t *testing.T) {
	dir := t.TempDir()
	input := writeInputFile(t, dir, "in.txt", "apple", "banana")

	urls, err := RunMap(wcMap, DefaultPartition, 0, []string{input}, 3, dir, "u1")
	require.NoError(t, err)
	require.Len(t, urls, 3)

	total := 0
	for _, u := range urls {
		records, err := readKeyValueJSON(u)
		require.NoError(t, err)
		total += len(records)
	}
	assert.Equal(t, 2, total, "every input record must land in exactly one partition")
}

func TestRunReduceGroupsByKey(t *testing.T) {
	dir := t.TempDir()
	input := writeInputFile(t, dir, "in.txt", "apple", "apple", "banana")

	mapURLs, err := RunMap(wcMap, DefaultPartition, 0, []string{input}, 1, dir, "u1")
	require.NoError(t, err)

	outURLs, err := RunReduce(wcReduce, 0, mapURLs, dir, "u2")
	require.NoError(t, err)
	require.Len(t, outURLs, 1)

	records, err := readKeyValueJSON(outURLs[0])
	require.NoError(t, err)

	counts := map[string]string{}
	for _, kv := range records {
		counts[kv.Key] = kv.Value
	}
	assert.Equal(t, "2", counts["apple"])
	assert.Equal(t, "1", counts["banana"])
}

func TestReadRecordsAssignsLineIndexKeys(t *testing.T) {
	dir := t.TempDir()
	input := writeInputFile(t, dir, "in.txt", "zero", "one")

	records, err := readRecords(input)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "0", records[0].Key)
	assert.Equal(t, "zero", records[0].Value)
	assert.Equal(t, "1", records[1].Key)
	assert.Equal(t, "one", records[1].Value)
}

func TestTaskOutputDirAndPartitionFileNaming(t *testing.T) {
	dir := taskOutputDir("/shared", MapPhase, 3, "abc123")
	assert.Equal(t, filepath.Join("/shared", "map_3_abc123"), dir)

	dir = taskOutputDir("/shared", ReducePhase, 3, "abc123")
	assert.Equal(t, filepath.Join("/shared", "reduce_3_abc123"), dir)

	assert.Equal(t, filepath.Join(dir, "part-00007"), partitionFile(dir, 7))
}

func TestIhashIsDeterministicAndInRange(t *testing.T) {
	n := 8
	h1 := ihash("some-key", n)
	h2 := ihash("some-key", n)
	assert.Equal(t, h1, h2)
	assert.GreaterOrEqual(t, h1, 0)
	assert.Less(t, h1, n)
}
