package ingest

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/chatdigest/chatdigest/internal/store"
	"github.com/chatdigest/chatdigest/internal/tasks"
)

// RoomSync reports the re-sync of one tracked room.
type RoomSync struct {
	Room   string
	Path   string
	Report Report
	Err    error
}

// SyncReport aggregates a re-sync over every tracked room.
type SyncReport struct {
	Synced  int
	Failed  int
	Skipped int
	Rooms   []RoomSync
}

// SyncAll re-imports every tracked room from the export file recorded at
// creation time. Rooms without a recorded path, or whose export is gone,
// are skipped. A room that fails is counted and logged but does not stop
// the others; each room's outcome lands in its sync log either way.
func (p *Pipeline) SyncAll(ctx context.Context, runner *tasks.Runner, dataDir string, parallel int) (SyncReport, error) {
	st, err := store.Open(dataDir)
	if err != nil {
		return SyncReport{}, fmt.Errorf("opening store: %w", err)
	}
	rooms, err := st.ListRooms()
	st.Close()
	if err != nil {
		return SyncReport{}, fmt.Errorf("listing rooms: %w", err)
	}

	var report SyncReport
	paths := make(map[string]string, len(rooms))
	var names []string
	for _, room := range rooms {
		if room.FilePath == "" {
			report.Skipped++
			continue
		}
		if _, err := os.Stat(room.FilePath); err != nil {
			p.logger.Warn("sync skipped, export missing", "room", room.Name, "path", room.FilePath)
			report.Skipped++
			continue
		}
		paths[room.Name] = room.FilePath
		names = append(names, room.Name)
	}

	var mu sync.Mutex
	err = runner.RunEach(ctx, tasks.KindSync, names, parallel, func(ctx context.Context, task *tasks.Task) error {
		fileReport, err := p.IngestFile(ctx, task, paths[task.Room], task.Room)
		mu.Lock()
		defer mu.Unlock()
		report.Rooms = append(report.Rooms, RoomSync{
			Room:   task.Room,
			Path:   paths[task.Room],
			Report: fileReport,
			Err:    err,
		})
		if err != nil {
			p.logger.Error("room sync failed", "room", task.Room, "error", err)
			report.Failed++
			if ctx.Err() != nil {
				return err
			}
			return nil
		}
		report.Synced++
		return nil
	})
	return report, err
}
