// Package recovery rebuilds the relational store from the file mirror and
// manages backup snapshots of the whole data directory. The mirror is the
// durable side of the pair; anything the database lost can be reconstructed
// from artifacts.
package recovery

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chatdigest/chatdigest/internal/mirror"
	"github.com/chatdigest/chatdigest/internal/store"
	"github.com/chatdigest/chatdigest/internal/tasks"
	"github.com/chatdigest/chatdigest/internal/transcript"
	"github.com/chatdigest/chatdigest/internal/urlx"
)

// Rebuild modes.
const (
	// ModeMissing adds only rooms absent from the database.
	ModeMissing = "missing"
	// ModeWipe clears every table first and reconstructs everything.
	ModeWipe = "wipe"
)

// Report summarizes a rebuild.
type Report struct {
	RoomsAdded         int
	RoomsRebuilt       int
	DatesReconstructed int
	SummariesRestored  int
	URLs               int
	Unparsed           []string
}

// Engine performs rebuilds over one mirror.
type Engine struct {
	mirror *mirror.Store
	logger *slog.Logger
}

// New builds a recovery engine.
func New(m *mirror.Store) *Engine {
	return &Engine{mirror: m, logger: slog.Default()}
}

// Rebuild reconstructs database rows from mirror artifacts. ModeWipe deletes
// all rows first (children before parents, one transaction); ModeMissing
// leaves existing rooms untouched.
func (e *Engine) Rebuild(task *tasks.Task, mode string) (Report, error) {
	var report Report

	if mode != ModeMissing && mode != ModeWipe {
		return report, fmt.Errorf("unknown rebuild mode %q", mode)
	}
	if mode == ModeWipe {
		if err := e.wipe(task.Store); err != nil {
			return report, err
		}
	}

	rooms, err := e.mirror.Rooms()
	if err != nil {
		return report, fmt.Errorf("scanning mirror rooms: %w", err)
	}

	for i, roomName := range rooms {
		task.Progress("rebuild", (i*100)/max(len(rooms), 1), roomName)

		existing := true
		room, err := task.Store.GetRoomByName(roomName)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				return report, fmt.Errorf("resolving room %q: %w", roomName, err)
			}
			existing = false
		}
		if existing && mode == ModeMissing {
			continue
		}
		if !existing {
			room, err = task.Store.CreateRoom(roomName, "")
			if err != nil {
				return report, fmt.Errorf("recreating room %q: %w", roomName, err)
			}
			report.RoomsAdded++
		} else {
			report.RoomsRebuilt++
		}

		if err := e.rebuildRoom(task, room, roomName, &report); err != nil {
			return report, err
		}
		if err := task.Store.RefreshParticipantCount(room.ID); err != nil {
			e.logger.Warn("refreshing participant count failed", "room", roomName, "error", err)
		}

		task.Audit(func(st *store.Store) error {
			return st.AddSyncLog(store.SyncLog{
				RoomID:   room.ID,
				TaskID:   task.ID,
				Status:   store.SyncSuccess,
				SyncedAt: time.Now(),
			})
		})
	}
	return report, nil
}

func (e *Engine) wipe(st *store.Store) error {
	tx, err := st.DB().Begin()
	if err != nil {
		return fmt.Errorf("beginning wipe transaction: %w", err)
	}
	// Children first so the wipe also works with foreign keys enforced.
	for _, table := range []string{"urls", "sync_logs", "summaries", "messages", "rooms"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			tx.Rollback()
			return fmt.Errorf("wiping %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing wipe: %w", err)
	}
	return nil
}

// rebuildRoom replays one room's artifacts into the store.
func (e *Engine) rebuildRoom(task *tasks.Task, room store.Room, roomName string, report *Report) error {
	dates, err := e.mirror.OriginalDates(roomName)
	if err != nil {
		return fmt.Errorf("listing original dates: %w", err)
	}
	for _, date := range dates {
		lines, err := e.mirror.LoadOriginal(roomName, date)
		if err != nil || len(lines) == 0 {
			e.logger.Warn("unreadable original artifact", "room", roomName, "date", date, "error", err)
			report.Unparsed = append(report.Unparsed, roomName+"/"+date)
			continue
		}
		day, err := time.Parse(time.DateOnly, date)
		if err != nil {
			report.Unparsed = append(report.Unparsed, roomName+"/"+date)
			continue
		}

		rows := make([]store.Message, 0, len(lines))
		for _, line := range lines {
			m := transcript.ParseLine(line)
			rows = append(rows, store.Message{
				RoomID:      room.ID,
				Sender:      m.Sender,
				Content:     m.Text,
				MessageDate: day,
				MessageTime: m.Time,
				RawLine:     m.Raw,
			})
		}
		if _, err := task.Store.AddMessages(room.ID, rows); err != nil {
			return fmt.Errorf("restoring messages for %s: %w", date, err)
		}
		report.DatesReconstructed++
	}

	summaryDates, err := e.mirror.SummaryDates(roomName)
	if err != nil {
		return fmt.Errorf("listing summary dates: %w", err)
	}
	for _, date := range summaryDates {
		body, err := e.mirror.LoadSummary(roomName, date)
		if err != nil || body == "" {
			report.Unparsed = append(report.Unparsed, roomName+"/"+date+" (summary)")
			continue
		}
		day, err := time.Parse(time.DateOnly, date)
		if err != nil {
			report.Unparsed = append(report.Unparsed, roomName+"/"+date+" (summary)")
			continue
		}
		if _, err := task.Store.ReplaceSummary(store.Summary{
			RoomID:      room.ID,
			SummaryDate: day,
			Kind:        store.KindDaily,
			Content:     body,
			Provider:    "restored",
		}); err != nil {
			return fmt.Errorf("restoring summary for %s: %w", date, err)
		}
		report.SummariesRestored++

		for _, ex := range urlx.FromSummary(body) {
			if err := task.Store.UpsertURL(room.ID, ex.URL, ex.Descriptions, day); err != nil {
				return fmt.Errorf("restoring url %s: %w", ex.URL, err)
			}
			report.URLs++
		}
	}
	return nil
}
