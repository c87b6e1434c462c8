package command

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"hightrade/internal/logger"
)

const (
	pendingDir  = "pending"
	inFlightDir = "in-flight"
	failedDir   = "failed"

	// orphanAge is how long an in-flight file may sit before boot-time
	// recovery returns it to the queue.
	orphanAge = 5 * time.Minute

	// channelDepth bounds the command channel; the queue blocks rather than
	// drop operator commands.
	channelDepth = 32
)

// Queue is the filesystem command drop. Producers write a JSON file into a
// temp name and rename it into pending/; the consumer renames into in-flight/
// before parsing and deletes on completion. Parse failures land in failed/.
type Queue struct {
	root string
	out  chan Command
	tick time.Duration
}

// NewQueue prepares the directory layout under root and reclaims orphaned
// in-flight files from a previous crash.
func NewQueue(root string, tick time.Duration) (*Queue, error) {
	for _, sub := range []string{pendingDir, inFlightDir, failedDir} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, err
		}
	}
	q := &Queue{root: root, out: make(chan Command, channelDepth), tick: tick}
	q.reclaimOrphans()
	return q, nil
}

// Commands is the consumer side: the orchestrator polls it between cycle
// phases and at sleep boundaries.
func (q *Queue) Commands() <-chan Command { return q.out }

// Submit injects an in-process command (the chat-transport path).
func (q *Queue) Submit(ctx context.Context, cmd Command) error {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.ReceivedAt.IsZero() {
		cmd.ReceivedAt = time.Now().UTC()
	}
	cmd.Verb = strings.ToLower(strings.TrimSpace(cmd.Verb))
	select {
	case q.out <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drop writes a command file the way external producers must: create under a
// temp name, then rename into pending/ so readers never observe a partial file.
func (q *Queue) Drop(cmd Command) error {
	return Drop(q.root, cmd)
}

// Drop is the producer-side protocol, usable without a Queue (the CLI).
func Drop(root string, cmd Command) error {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.ReceivedAt.IsZero() {
		cmd.ReceivedAt = time.Now().UTC()
	}
	if cmd.Args == nil {
		cmd.Args = []string{}
	}
	raw, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(root, pendingDir), 0o755); err != nil {
		return err
	}
	tmp := filepath.Join(root, fmt.Sprintf(".tmp-%s.json", cmd.ID))
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(root, pendingDir, cmd.ID+".json"))
}

// Watch drains pending commands into the channel until ctx ends. A filesystem
// watcher gives low latency; the tick is the fallback for missed events.
func (q *Queue) Watch(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warnf("command watcher unavailable, falling back to polling: %v", err)
		watcher = nil
	} else {
		if err := watcher.Add(filepath.Join(q.root, pendingDir)); err != nil {
			logger.Warnf("watching pending dir failed: %v", err)
			watcher.Close()
			watcher = nil
		}
		defer func() {
			if watcher != nil {
				watcher.Close()
			}
		}()
	}

	ticker := time.NewTicker(q.tick)
	defer ticker.Stop()
	q.drain(ctx)
	for {
		var events chan fsnotify.Event
		if watcher != nil {
			events = watcher.Events
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.drain(ctx)
		case <-events:
			q.drain(ctx)
		}
	}
}

// drain consumes every pending file in name order.
func (q *Queue) drain(ctx context.Context) {
	entries, err := os.ReadDir(filepath.Join(q.root, pendingDir))
	if err != nil {
		logger.Warnf("reading pending commands failed: %v", err)
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if ctx.Err() != nil {
			return
		}
		q.consume(ctx, name)
	}
}

func (q *Queue) consume(ctx context.Context, name string) {
	pending := filepath.Join(q.root, pendingDir, name)
	inFlight := filepath.Join(q.root, inFlightDir, name)
	if err := os.Rename(pending, inFlight); err != nil {
		// Another pass may have taken it; not an error.
		logger.Debugf("claiming command %s failed: %v", name, err)
		return
	}
	raw, err := os.ReadFile(inFlight)
	if err != nil {
		logger.Errorf("reading claimed command %s failed: %v", name, err)
		return
	}
	cmd, err := Parse(raw)
	if err != nil {
		q.fail(name, raw, err)
		return
	}
	cmd.inFlightPath = inFlight
	select {
	case q.out <- cmd:
	case <-ctx.Done():
		// Put it back for the next run.
		if err := os.Rename(inFlight, pending); err != nil {
			logger.Warnf("returning command %s to queue failed: %v", name, err)
		}
	}
}

// Ack removes a consumed command's in-flight file.
func (q *Queue) Ack(cmd Command) {
	if cmd.inFlightPath == "" {
		return
	}
	if err := os.Remove(cmd.inFlightPath); err != nil && !os.IsNotExist(err) {
		logger.Warnf("removing in-flight command failed: %v", err)
	}
}

// fail quarantines an unparseable command with the error recorded beside it.
func (q *Queue) fail(name string, raw []byte, parseErr error) {
	failed := filepath.Join(q.root, failedDir, name)
	record := map[string]any{
		"error":     parseErr.Error(),
		"raw":       string(raw),
		"failed_at": time.Now().UTC().Format(time.RFC3339),
	}
	out, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		out = raw
	}
	if err := os.WriteFile(failed, out, 0o644); err != nil {
		logger.Errorf("writing failed command record: %v", err)
	}
	if err := os.Remove(filepath.Join(q.root, inFlightDir, name)); err != nil && !os.IsNotExist(err) {
		logger.Warnf("removing failed in-flight command: %v", err)
	}
	logger.Warnf("command %s moved to failed/: %v", name, parseErr)
}

// reclaimOrphans returns crashed-consumer leftovers to pending. Only files
// older than orphanAge move; younger ones may belong to a live consumer.
func (q *Queue) reclaimOrphans() {
	dir := filepath.Join(q.root, inFlightDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-orphanAge)
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		src := filepath.Join(dir, e.Name())
		dst := filepath.Join(q.root, pendingDir, e.Name())
		if err := os.Rename(src, dst); err != nil {
			logger.Warnf("reclaiming orphaned command %s failed: %v", e.Name(), err)
			continue
		}
		logger.Infof("reclaimed orphaned command %s", e.Name())
	}
}
