// Package ingest writes parsed transcript batches into the two stores in the
// order the consistency rules require: file mirror first, relational store
// second, with fingerprint-based summary invalidation in between.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chatdigest/chatdigest/internal/mirror"
	"github.com/chatdigest/chatdigest/internal/store"
	"github.com/chatdigest/chatdigest/internal/tasks"
	"github.com/chatdigest/chatdigest/internal/transcript"
)

// DayResult reports what IngestDay did for one (room, date).
type DayResult struct {
	Written           int
	SkippedDuplicates int
	Invalidated       bool
	Recovered         bool
}

// Report aggregates a whole-file ingest.
type Report struct {
	Room        string
	Dates       []string
	Total       int
	New         int
	Duplicates  int
	Invalidated int
	Recovered   int
}

// Pipeline ingests parsed transcripts for one task.
type Pipeline struct {
	mirror *mirror.Store
	parser transcript.Parser
	logger *slog.Logger
}

// New builds an ingest pipeline over the given mirror.
func New(m *mirror.Store) *Pipeline {
	return &Pipeline{
		mirror: m,
		parser: transcript.LineParser{},
		logger: slog.Default(),
	}
}

// IngestDay merges one day's messages into the mirror, invalidates a stale
// summary when the day's content changed, and inserts the batch into the
// relational store. The mirror write always precedes the database write.
func (p *Pipeline) IngestDay(task *tasks.Task, roomID int64, roomName, date string, msgs []transcript.Message) (DayResult, error) {
	before, err := p.mirror.OriginalFingerprint(roomName, date)
	if err != nil {
		return DayResult{}, fmt.Errorf("fingerprinting before merge: %w", err)
	}

	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, m.Raw)
	}
	merge, err := p.mirror.WriteOriginal(roomName, date, lines)
	if err != nil {
		if errors.Is(err, mirror.ErrShrink) {
			p.logger.Warn("merge rejected, keeping persisted artifact",
				"room", roomName, "date", date, "error", err)
			return DayResult{SkippedDuplicates: len(msgs)}, nil
		}
		return DayResult{}, fmt.Errorf("merging original artifact: %w", err)
	}

	res := DayResult{Recovered: merge.Recovered}

	invalidated, err := p.mirror.OnContentChanged(roomName, date, before, merge.Fingerprint)
	if err != nil {
		return res, fmt.Errorf("checking summary invalidation: %w", err)
	}
	if invalidated {
		res.Invalidated = true
		day, err := parseDate(date)
		if err != nil {
			return res, err
		}
		if _, err := task.Store.DeleteSummary(roomID, day, store.KindDaily); err != nil {
			return res, fmt.Errorf("deleting invalidated summary row: %w", err)
		}
		p.logger.Info("summary invalidated", "room", roomName, "date", date)
	}

	batch := merge.Lines
	if !merge.Recovered {
		batch = lines
	}
	inserted, err := p.insertMessages(task.Store, roomID, date, msgs, batch, merge.Recovered)
	if err != nil {
		return res, err
	}
	res.Written = inserted
	res.SkippedDuplicates = len(batch) - inserted
	return res, nil
}

// insertMessages performs the dedup insert. On recovery the batch comes from
// artifact lines, which are re-parsed through the reference line rules.
func (p *Pipeline) insertMessages(st *store.Store, roomID int64, date string, msgs []transcript.Message, batch []string, recovered bool) (int, error) {
	day, err := parseDate(date)
	if err != nil {
		return 0, err
	}

	rows := make([]store.Message, 0, len(batch))
	if recovered {
		for _, line := range batch {
			rows = append(rows, toRow(roomID, day, transcript.ParseLine(line)))
		}
	} else {
		for _, m := range msgs {
			rows = append(rows, toRow(roomID, day, m))
		}
	}

	inserted, err := st.AddMessages(roomID, rows)
	if err != nil {
		return 0, fmt.Errorf("inserting messages: %w", err)
	}
	return inserted, nil
}

func toRow(roomID int64, day time.Time, m transcript.Message) store.Message {
	return store.Message{
		RoomID:      roomID,
		Sender:      m.Sender,
		Content:     m.Text,
		MessageDate: day,
		MessageTime: m.Time,
		RawLine:     m.Raw,
	}
}

func parseDate(date string) (time.Time, error) {
	day, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing ingest date %q: %w", date, err)
	}
	return day, nil
}

// IngestFile parses a transcript export and ingests every date it contains,
// in ascending order. The room is created on first sight. A database failure
// after the mirror wrote leaves status "partial" in the sync log so recovery
// knows the stores may disagree.
func (p *Pipeline) IngestFile(ctx context.Context, task *tasks.Task, path, roomName string) (Report, error) {
	if roomName == "" {
		roomName = transcript.RoomNameFromFilename(path)
	}
	report := Report{Room: roomName}

	r, closer, err := transcript.OpenTranscript(path)
	if err != nil {
		return report, err
	}
	defer closer.Close()

	parsed, err := p.parser.Parse(r)
	if err != nil {
		return report, fmt.Errorf("parsing transcript: %w", err)
	}

	room, err := task.Store.GetRoomByName(roomName)
	if errors.Is(err, store.ErrNotFound) {
		room, err = task.Store.CreateRoom(roomName, path)
	}
	if err != nil {
		return report, fmt.Errorf("resolving room: %w", err)
	}

	status := store.SyncSuccess
	var failure error
	dates := parsed.Dates()
	for i, date := range dates {
		if err := ctx.Err(); err != nil {
			failure = err
			status = store.SyncPartial
			break
		}
		task.Progress("ingest", (i*100)/len(dates), date)

		day, err := p.IngestDay(task, room.ID, roomName, date, parsed.MessagesByDate[date])
		report.Dates = append(report.Dates, date)
		report.Total += len(parsed.MessagesByDate[date])
		report.New += day.Written
		report.Duplicates += day.SkippedDuplicates
		if day.Invalidated {
			report.Invalidated++
		}
		if day.Recovered {
			report.Recovered++
		}
		if err != nil {
			// The mirror may have been written for this date already.
			p.logger.Error("day ingest failed after mirror write",
				"room", roomName, "date", date, "error", err)
			failure = err
			status = store.SyncPartial
			break
		}
	}

	if err := task.Store.TouchRoomSync(room.ID, time.Now()); err != nil {
		p.logger.Warn("touching room sync time failed", "room", roomName, "error", err)
	}
	if err := task.Store.RefreshParticipantCount(room.ID); err != nil {
		p.logger.Warn("refreshing participant count failed", "room", roomName, "error", err)
	}
	errText := ""
	if failure != nil {
		errText = failure.Error()
	}
	task.Audit(func(st *store.Store) error {
		return st.AddSyncLog(store.SyncLog{
			RoomID:          room.ID,
			TaskID:          task.ID,
			Status:          status,
			MessageCount:    report.Total,
			NewMessageCount: report.New,
			ErrorText:       errText,
		})
	})
	return report, failure
}
