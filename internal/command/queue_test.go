package command

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValidCommand(t *testing.T) {
	raw := []byte(`{"id":"c1","verb":"HOLD","args":[],"received_at":"2026-03-02T10:00:00Z"}`)
	cmd, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "c1", cmd.ID)
	assert.Equal(t, VerbHold, cmd.Verb)
}

func TestParseRejectsMissingFields(t *testing.T) {
	for _, raw := range []string{
		`{"verb":"hold"}`,
		`{"id":"c1"}`,
		`{"id":"","verb":"hold"}`,
		`not json`,
		`{"id":"c1","verb":"hold","args":[1,2]}`,
	} {
		_, err := Parse([]byte(raw))
		assert.Error(t, err, "raw=%s", raw)
	}
}

func TestKnownVerb(t *testing.T) {
	for _, v := range []string{VerbStatus, VerbPortfolio, VerbDefcon, VerbHold, VerbResume,
		VerbYes, VerbNo, VerbRefresh, VerbShutdown, VerbEstop, VerbMode, VerbInterval} {
		assert.True(t, KnownVerb(v))
	}
	assert.False(t, KnownVerb("dance"))
}

func TestDropAndDrainRoundTrip(t *testing.T) {
	root := t.TempDir()
	q, err := NewQueue(root, 50*time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, q.Drop(Command{ID: "c1", Verb: VerbRefresh}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Watch(ctx)

	select {
	case cmd := <-q.Commands():
		assert.Equal(t, "c1", cmd.ID)
		assert.Equal(t, VerbRefresh, cmd.Verb)
		// Claimed file sits in in-flight until acked.
		_, err := os.Stat(filepath.Join(root, inFlightDir, "c1.json"))
		assert.NoError(t, err)
		q.Ack(cmd)
		_, err = os.Stat(filepath.Join(root, inFlightDir, "c1.json"))
		assert.True(t, os.IsNotExist(err))
	case <-time.After(2 * time.Second):
		t.Fatal("command never drained")
	}
}

func TestMalformedCommandMovesToFailed(t *testing.T) {
	root := t.TempDir()
	q, err := NewQueue(root, 50*time.Millisecond)
	require.NoError(t, err)

	bad := filepath.Join(root, pendingDir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{{{"), 0o644))

	q.drain(context.Background())

	_, err = os.Stat(filepath.Join(root, failedDir, "bad.json"))
	assert.NoError(t, err)
	_, err = os.Stat(bad)
	assert.True(t, os.IsNotExist(err))
	select {
	case cmd := <-q.Commands():
		t.Fatalf("unexpected command delivered: %+v", cmd)
	default:
	}
}

func TestOrphanReclaimOnBoot(t *testing.T) {
	root := t.TempDir()
	// Simulate a crash: an old file stranded in in-flight.
	require.NoError(t, os.MkdirAll(filepath.Join(root, inFlightDir), 0o755))
	orphan := filepath.Join(root, inFlightDir, "old.json")
	require.NoError(t, os.WriteFile(orphan, []byte(`{"id":"old","verb":"status"}`), 0o644))
	old := time.Now().Add(-10 * time.Minute)
	require.NoError(t, os.Chtimes(orphan, old, old))

	// A fresh in-flight file stays put.
	fresh := filepath.Join(root, inFlightDir, "fresh.json")
	require.NoError(t, os.WriteFile(fresh, []byte(`{"id":"fresh","verb":"status"}`), 0o644))

	_, err := NewQueue(root, 50*time.Millisecond)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(root, pendingDir, "old.json"))
	assert.NoError(t, err, "orphan should be back in pending")
	_, err = os.Stat(fresh)
	assert.NoError(t, err, "fresh in-flight file should remain")
}

func TestSubmitDeliversInProcessCommand(t *testing.T) {
	q, err := NewQueue(t.TempDir(), time.Second)
	require.NoError(t, err)

	require.NoError(t, q.Submit(context.Background(), Command{Verb: "STATUS"}))
	cmd := <-q.Commands()
	assert.Equal(t, VerbStatus, cmd.Verb)
	assert.NotEmpty(t, cmd.ID)
	assert.False(t, cmd.ReceivedAt.IsZero())
}

func TestDrainPreservesDropOrder(t *testing.T) {
	root := t.TempDir()
	q, err := NewQueue(root, time.Second)
	require.NoError(t, err)

	require.NoError(t, q.Drop(Command{ID: "a-first", Verb: VerbHold}))
	require.NoError(t, q.Drop(Command{ID: "b-second", Verb: VerbResume}))
	q.drain(context.Background())

	first := <-q.Commands()
	second := <-q.Commands()
	assert.Equal(t, "a-first", first.ID)
	assert.Equal(t, "b-second", second.ID)
}
