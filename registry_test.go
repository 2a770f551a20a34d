package mapreduce

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMap(_ string, value string) []KeyValue {
	return []KeyValue{{Key: value, Value: "1"}}
}

func otherSampleMap(_ string, value string) []KeyValue {
	return []KeyValue{{Key: value, Value: "2"}}
}

func TestRegistryAddAndLookup(t *testing.T) {
	r := NewRegistry()
	r.Add("mapper", MapFunc(sampleMap), "sampleMap.v1")

	fn, ok := r.Lookup("mapper")
	require.True(t, ok)
	mapFn, ok := fn.(MapFunc)
	require.True(t, ok)
	assert.Equal(t, []KeyValue{{Key: "x", Value: "1"}}, mapFn("f", "x"))
}

func TestRegistryLookupMissing(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Lookup("nope")
	assert.False(t, ok)
}

func TestRegistryReverse(t *testing.T) {
	r := NewRegistry()
	r.Add("mapper", MapFunc(sampleMap), "sampleMap.v1")

	name, ok := r.Reverse(MapFunc(sampleMap))
	require.True(t, ok)
	assert.Equal(t, "mapper", name)
}

func TestRegistryFingerprintStableAndSensitive(t *testing.T) {
	a := NewRegistry()
	a.Add("mapper", MapFunc(sampleMap), "sampleMap.v1")

	b := NewRegistry()
	b.Add("mapper", MapFunc(sampleMap), "sampleMap.v1")
	assert.Equal(t, a.Fingerprint(), b.Fingerprint(), "identical registrations must fingerprint identically")

	c := NewRegistry()
	c.Add("mapper", MapFunc(otherSampleMap), "otherSampleMap.v1")
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint(), "a different code tag must change the fingerprint")
}

func TestRegistryReAddReplacesReverseMapping(t *testing.T) {
	r := NewRegistry()
	r.Add("mapper", MapFunc(sampleMap), "sampleMap.v1")
	r.Add("mapper", MapFunc(otherSampleMap), "otherSampleMap.v1")

	fn, ok := r.Lookup("mapper")
	require.True(t, ok)
	mapFn := fn.(MapFunc)
	assert.Equal(t, []KeyValue{{Key: "x", Value: "2"}}, mapFn("f", "x"))

	_, ok = r.Reverse(MapFunc(sampleMap))
	assert.False(t, ok, "the old function value must no longer resolve once replaced")
}

func TestProgramVerify(t *testing.T) {
	r := NewRegistry()
	r.Add("mapper", MapFunc(sampleMap), "sampleMap.v1")
	p := &Program{Registry: r, SourceHash: HashSource("source text")}

	assert.True(t, p.Verify(HashSource("source text"), r.Fingerprint()))
	assert.False(t, p.Verify(HashSource("different text"), r.Fingerprint()))
	assert.False(t, p.Verify(HashSource("source text"), r.Fingerprint()+1))
}

func TestHashSourceDeterministic(t *testing.T) {
	assert.Equal(t, HashSource("abc"), HashSource("abc"))
	assert.NotEqual(t, HashSource("abc"), HashSource("abd"))
}
