package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chatdigest/chatdigest/internal/mirror"
	"github.com/chatdigest/chatdigest/internal/store"
	"github.com/chatdigest/chatdigest/internal/tasks"
	"github.com/chatdigest/chatdigest/internal/transcript"
)

func testPipeline(t *testing.T) (*Pipeline, *tasks.Runner, string) {
	t.Helper()
	dir := t.TempDir()
	m, err := mirror.New(dir)
	if err != nil {
		t.Fatalf("creating mirror: %v", err)
	}
	return New(m), tasks.NewRunner(dir), dir
}

func run(t *testing.T, r *tasks.Runner, room string, body func(*tasks.Task) error) {
	t.Helper()
	err := r.RunExclusive(context.Background(), tasks.KindIngest, room, func(ctx context.Context, task *tasks.Task) error {
		return body(task)
	})
	if err != nil {
		t.Fatalf("task: %v", err)
	}
}

func msgs(raws ...string) []transcript.Message {
	out := make([]transcript.Message, 0, len(raws))
	for _, raw := range raws {
		out = append(out, transcript.ParseLine(raw))
	}
	return out
}

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		t.Fatalf("bad date %q: %v", s, err)
	}
	return d
}

func TestIngestDayWritesBothStores(t *testing.T) {
	p, r, _ := testPipeline(t)
	run(t, r, "room", func(task *tasks.Task) error {
		room, err := task.Store.CreateRoom("room", "")
		if err != nil {
			return err
		}
		res, err := p.IngestDay(task, room.ID, "room", "2026-01-24",
			msgs("[alice] [09:15] morning", "[bob] [09:16] hey"))
		if err != nil {
			return err
		}
		if res.Written != 2 || res.SkippedDuplicates != 0 {
			t.Errorf("result = %+v", res)
		}

		if !p.mirror.HasOriginal("room", "2026-01-24") {
			t.Error("mirror artifact missing")
		}
		count, err := task.Store.CountMessagesByDate(room.ID, day(t, "2026-01-24"))
		if err != nil {
			return err
		}
		if count != 2 {
			t.Errorf("db messages = %d, want 2", count)
		}
		return nil
	})
}

func TestIngestDayIdempotent(t *testing.T) {
	p, r, _ := testPipeline(t)
	batch := msgs("[alice] [09:15] morning", "[bob] [09:16] hey")
	run(t, r, "room", func(task *tasks.Task) error {
		room, err := task.Store.CreateRoom("room", "")
		if err != nil {
			return err
		}
		if _, err := p.IngestDay(task, room.ID, "room", "2026-01-24", batch); err != nil {
			return err
		}
		res, err := p.IngestDay(task, room.ID, "room", "2026-01-24", batch)
		if err != nil {
			return err
		}
		if res.Written != 0 || res.SkippedDuplicates != 2 {
			t.Errorf("re-ingest result = %+v, want all duplicates", res)
		}
		return nil
	})
}

func TestIngestDayInvalidatesChangedSummary(t *testing.T) {
	p, r, _ := testPipeline(t)
	run(t, r, "room", func(task *tasks.Task) error {
		room, err := task.Store.CreateRoom("room", "")
		if err != nil {
			return err
		}
		if _, err := p.IngestDay(task, room.ID, "room", "2026-01-24", msgs("[a] [09:00] one")); err != nil {
			return err
		}
		if err := p.mirror.WriteSummary("room", "2026-01-24", "glm", "stale digest"); err != nil {
			return err
		}
		if _, err := task.Store.ReplaceSummary(store.Summary{
			RoomID: room.ID, SummaryDate: day(t, "2026-01-24"),
			Kind: store.KindDaily, Content: "stale digest", Provider: "glm",
		}); err != nil {
			return err
		}

		res, err := p.IngestDay(task, room.ID, "room", "2026-01-24", msgs("[b] [10:00] new message"))
		if err != nil {
			return err
		}
		if !res.Invalidated {
			t.Error("changed content did not invalidate summary")
		}
		if p.mirror.HasSummary("room", "2026-01-24") {
			t.Error("summary artifact still live")
		}
		if _, err := task.Store.GetSummary(room.ID, day(t, "2026-01-24"), store.KindDaily); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("summary row still present: %v", err)
		}
		return nil
	})
}

func TestIngestDayIdenticalReingestKeepsSummary(t *testing.T) {
	p, r, _ := testPipeline(t)
	batch := msgs("[a] [09:00] one")
	run(t, r, "room", func(task *tasks.Task) error {
		room, err := task.Store.CreateRoom("room", "")
		if err != nil {
			return err
		}
		if _, err := p.IngestDay(task, room.ID, "room", "2026-01-24", batch); err != nil {
			return err
		}
		if err := p.mirror.WriteSummary("room", "2026-01-24", "glm", "digest"); err != nil {
			return err
		}

		res, err := p.IngestDay(task, room.ID, "room", "2026-01-24", batch)
		if err != nil {
			return err
		}
		if res.Invalidated {
			t.Error("identical re-ingest invalidated summary")
		}
		if !p.mirror.HasSummary("room", "2026-01-24") {
			t.Error("summary artifact lost")
		}
		return nil
	})
}

func TestIngestDayRecoversFromMirror(t *testing.T) {
	p, r, _ := testPipeline(t)
	run(t, r, "room", func(task *tasks.Task) error {
		room, err := task.Store.CreateRoom("room", "")
		if err != nil {
			return err
		}
		if _, err := p.IngestDay(task, room.ID, "room", "2026-01-24",
			msgs("[alice] [09:15] morning")); err != nil {
			return err
		}

		// Simulate a lost database row, then ingest an empty batch: the
		// mirror artifact repopulates the store.
		if _, err := task.Store.DB().Exec("DELETE FROM messages"); err != nil {
			return err
		}
		res, err := p.IngestDay(task, room.ID, "room", "2026-01-24", nil)
		if err != nil {
			return err
		}
		if !res.Recovered || res.Written != 1 {
			t.Errorf("result = %+v, want recovery inserting 1 row", res)
		}
		got, err := task.Store.MessagesByRoom(room.ID, time.Time{}, time.Time{})
		if err != nil {
			return err
		}
		if len(got) != 1 || got[0].Sender != "alice" {
			t.Errorf("recovered rows = %+v", got)
		}
		return nil
	})
}

func TestIngestFileEndToEnd(t *testing.T) {
	p, r, dir := testPipeline(t)
	export := strings.Join([]string{
		"--------------- 2026년 1월 24일 토요일 ---------------",
		"[alice] [오전 9:15] morning",
		"[bob] [오후 2:00] deploy done",
		"--------------- 2026년 1월 25일 일요일 ---------------",
		"[alice] [오전 10:00] next day",
	}, "\n")
	path := filepath.Join(dir, "Dev Team_KakaoTalk_20260125.txt")
	if err := os.WriteFile(path, []byte(export), 0o644); err != nil {
		t.Fatalf("writing export: %v", err)
	}

	run(t, r, "Dev Team", func(task *tasks.Task) error {
		report, err := p.IngestFile(context.Background(), task, path, "")
		if err != nil {
			return err
		}
		if report.Room != "Dev Team" {
			t.Errorf("room = %q, want derived from filename", report.Room)
		}
		if len(report.Dates) != 2 || report.New != 3 || report.Duplicates != 0 {
			t.Errorf("report = %+v", report)
		}

		room, err := task.Store.GetRoomByName("Dev Team")
		if err != nil {
			return err
		}
		if room.LastSyncAt.IsZero() {
			t.Error("room sync time not touched")
		}
		if room.ParticipantCount != 2 {
			t.Errorf("participant count = %d, want 2", room.ParticipantCount)
		}
		logs, err := task.Store.SyncLogsByRoom(room.ID, 10)
		if err != nil {
			return err
		}
		if len(logs) != 1 || logs[0].Status != store.SyncSuccess || logs[0].NewMessageCount != 3 {
			t.Errorf("sync logs = %+v", logs)
		}
		if logs[0].TaskID == "" {
			t.Error("sync log missing task id")
		}
		return nil
	})
}

func TestIngestFileRecordsPartialOnDBFailure(t *testing.T) {
	p, r, dir := testPipeline(t)
	export := strings.Join([]string{
		"----- 2026-01-24 -----",
		"[alice] [09:15] morning",
	}, "\n")
	path := filepath.Join(dir, "room_KakaoTalk_x.txt")
	if err := os.WriteFile(path, []byte(export), 0o644); err != nil {
		t.Fatalf("writing export: %v", err)
	}

	err := r.RunExclusive(context.Background(), tasks.KindIngest, "room", func(ctx context.Context, task *tasks.Task) error {
		if _, err := task.Store.CreateRoom("room", ""); err != nil {
			return err
		}
		// Break the messages table so the DB write fails after the mirror
		// write succeeded.
		if _, err := task.Store.DB().Exec("DROP TABLE messages"); err != nil {
			return err
		}
		_, err := p.IngestFile(ctx, task, path, "room")
		if err == nil {
			t.Error("expected ingest failure")
		}

		room, err := task.Store.GetRoomByName("room")
		if err != nil {
			return err
		}
		logs, err := task.Store.SyncLogsByRoom(room.ID, 10)
		if err != nil {
			return err
		}
		if len(logs) != 1 || logs[0].Status != store.SyncPartial {
			t.Errorf("sync logs = %+v, want one partial entry", logs)
		}
		if !p.mirror.HasOriginal("room", "2026-01-24") {
			t.Error("mirror write should have happened before the DB failure")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("task: %v", err)
	}
}
