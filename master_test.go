package mapreduce

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMaster(t *testing.T) *Master {
	t.Helper()
	registry := NewRegistry()
	registry.Add("identity-map", MapFunc(identityMap), "identityMap.v1")
	program := &Program{Registry: registry, SourceHash: HashSource("src")}
	cfg := DefaultConfig()
	return NewMaster(program, cfg, prometheus.NewRegistry())
}

func TestHandleSigninRejectsVersionMismatch(t *testing.T) {
	m := newTestMaster(t)
	id, opts := m.handleSignin(&SigninArgs{
		Version:      Version + 1,
		WorkerPort:   "9000",
		SourceHash:   m.Program.SourceHash,
		RegistryHash: m.Program.Registry.Fingerprint(),
	}, "127.0.0.1")
	assert.Equal(t, -1, id)
	assert.Nil(t, opts)
}

func TestHandleSigninRejectsFingerprintMismatch(t *testing.T) {
	m := newTestMaster(t)
	id, _ := m.handleSignin(&SigninArgs{
		Version:      Version,
		WorkerPort:   "9000",
		SourceHash:   m.Program.SourceHash + 1,
		RegistryHash: m.Program.Registry.Fingerprint(),
	}, "127.0.0.1")
	assert.Equal(t, -1, id)
}

func TestHandleSigninAcceptsMatchingProgram(t *testing.T) {
	m := newTestMaster(t)
	id, opts := m.handleSignin(&SigninArgs{
		Version:      Version,
		WorkerPort:   "9000",
		SourceHash:   m.Program.SourceHash,
		RegistryHash: m.Program.Registry.Fingerprint(),
	}, "127.0.0.1")
	require.GreaterOrEqual(t, id, 0)
	require.NotEmpty(t, opts["cookie"])

	w, ok := m.Workers.Get(id, opts["cookie"])
	require.True(t, ok)
	assert.True(t, w.Alive())
	m.Workers.Remove(w)
}

func TestHandleReadyQueuesIdleAndHandleDoneRejectsDeadWorker(t *testing.T) {
	m := newTestMaster(t)
	id, opts := m.handleSignin(&SigninArgs{
		Version:      Version,
		WorkerPort:   "9000",
		SourceHash:   m.Program.SourceHash,
		RegistryHash: m.Program.Registry.Fingerprint(),
	}, "127.0.0.1")
	cookie := opts["cookie"]

	assert.True(t, m.handleReady(id, cookie))
	assert.Equal(t, 1, m.Workers.IdleCount())

	w, _ := m.Workers.Get(id, cookie)
	m.Workers.Remove(w)

	// A dead worker's cookie still matches, but handleDone must reject it.
	assert.False(t, m.handleDone(id, cookie, []string{"out"}))
}

func TestHandlersRejectUnknownWorker(t *testing.T) {
	m := newTestMaster(t)
	assert.False(t, m.handleReady(42, "nonexistent"))
	assert.False(t, m.handleDone(42, "nonexistent", nil))
	assert.False(t, m.handlePing(42, "nonexistent"))
}
