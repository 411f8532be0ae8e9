// Package tasks runs long operations (ingest, summarize, recovery) with the
// store-handle discipline the rest of the system relies on: every task gets
// its own store connection, opened when the task starts and closed on every
// exit path, so no handle ever outlives the work it was opened for.
package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/chatdigest/chatdigest/internal/store"
)

// Task kinds.
const (
	KindIngest    = "ingest"
	KindSync      = "sync"
	KindSummarize = "summarize"
	KindRecovery  = "recovery"
	KindBackup    = "backup"
)

// Event is one progress notification from a running task.
type Event struct {
	TaskID  string
	Kind    string
	Room    string
	Stage   string
	Percent int
	Message string
	Err     error
}

// Task is the handle a task body works through. Store is private to the task;
// it must not be retained past the body's return.
type Task struct {
	ID    string
	Kind  string
	Room  string
	Store *store.Store

	runner *Runner
	logger *slog.Logger
}

// Runner opens stores and dispatches task bodies.
type Runner struct {
	dataDir string
	logger  *slog.Logger
	events  chan Event
}

// NewRunner creates a runner whose tasks open their stores under dataDir.
func NewRunner(dataDir string) *Runner {
	r := &Runner{
		dataDir: dataDir,
		logger:  slog.Default(),
		events:  make(chan Event, 64),
	}
	// Nobody may ever attach a consumer; drain so emitters never block.
	go func() {
		for range r.events {
		}
	}()
	return r
}

// NewRunnerWithEvents creates a runner that delivers events to the given
// channel. The caller owns consumption; emission never blocks — events are
// dropped when the channel is full.
func NewRunnerWithEvents(dataDir string, events chan Event) *Runner {
	return &Runner{dataDir: dataDir, logger: slog.Default(), events: events}
}

func (r *Runner) emit(ev Event) {
	select {
	case r.events <- ev:
	default:
		// A stalled consumer must not stall the task.
	}
}

// RunExclusive opens a fresh store, runs body with it, and closes the store
// on every exit path including panics unwinding through body.
func (r *Runner) RunExclusive(ctx context.Context, kind, room string, body func(context.Context, *Task) error) error {
	id := uuid.New().String()
	logger := r.logger.With("task_id", id, "kind", kind, "room", room)

	st, err := store.Open(r.dataDir)
	if err != nil {
		return fmt.Errorf("opening store for task: %w", err)
	}
	defer st.Close()

	task := &Task{
		ID:     id,
		Kind:   kind,
		Room:   room,
		Store:  st,
		runner: r,
		logger: logger,
	}

	task.Progress("start", 0, "")
	if err := body(ctx, task); err != nil {
		r.emit(Event{TaskID: id, Kind: kind, Room: room, Stage: "done", Percent: 100, Err: err})
		return err
	}
	task.Progress("done", 100, "")
	return nil
}

// RunEach runs body once per room, at most parallel at a time. Each room gets
// its own task and store. The first error cancels the remaining rooms; rooms
// already running finish their current unit of work.
func (r *Runner) RunEach(ctx context.Context, kind string, rooms []string, parallel int, body func(context.Context, *Task) error) error {
	if parallel <= 0 {
		parallel = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for _, room := range rooms {
		g.Go(func() error {
			return r.RunExclusive(gctx, kind, room, body)
		})
	}
	return g.Wait()
}

// Progress emits a progress event and logs it at debug.
func (t *Task) Progress(stage string, percent int, message string) {
	t.logger.Debug("task progress", "stage", stage, "percent", percent, "message", message)
	t.runner.emit(Event{
		TaskID:  t.ID,
		Kind:    t.Kind,
		Room:    t.Room,
		Stage:   stage,
		Percent: percent,
		Message: message,
	})
}

// Audit runs a sync-log write and swallows its error. Audit records are
// best-effort; losing one must never fail the work it describes.
func (t *Task) Audit(fn func(*store.Store) error) {
	if err := fn(t.Store); err != nil {
		t.logger.Warn("audit write failed", "error", err)
	}
}
