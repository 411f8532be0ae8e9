package store

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustCreateRoom(t *testing.T, s *Store, name string) Room {
	t.Helper()
	room, err := s.CreateRoom(name, "/exports/"+name+".txt")
	if err != nil {
		t.Fatalf("CreateRoom(%q): %v", name, err)
	}
	return room
}

func date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		t.Fatalf("parsing test date %q: %v", s, err)
	}
	return d
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// migrations are not re-applied.
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
	if len(v1) == 0 {
		t.Fatal("expected at least one applied migration")
	}
}

func TestRoomLifecycle(t *testing.T) {
	s := openTestStore(t)

	room := mustCreateRoom(t, s, "gophers")
	if room.ID == 0 {
		t.Fatal("expected non-zero room id")
	}

	byName, err := s.GetRoomByName("gophers")
	if err != nil {
		t.Fatalf("GetRoomByName: %v", err)
	}
	if byName.ID != room.ID {
		t.Errorf("GetRoomByName id = %d, want %d", byName.ID, room.ID)
	}

	if _, err := s.GetRoomByName("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRoomByName(missing) = %v, want ErrNotFound", err)
	}

	syncAt := time.Now()
	if err := s.TouchRoomSync(room.ID, syncAt); err != nil {
		t.Fatalf("TouchRoomSync: %v", err)
	}
	got, err := s.GetRoom(room.ID)
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if got.LastSyncAt.IsZero() {
		t.Error("LastSyncAt not recorded")
	}

	if err := s.DeleteRoom(room.ID); err != nil {
		t.Fatalf("DeleteRoom: %v", err)
	}
	if _, err := s.GetRoom(room.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRoom after delete = %v, want ErrNotFound", err)
	}
}

func TestAddMessagesDeduplicates(t *testing.T) {
	s := openTestStore(t)
	room := mustCreateRoom(t, s, "dedup")
	d := date(t, "2026-01-24")

	msgs := []Message{
		{Sender: "alice", Content: "hello", MessageDate: d, MessageTime: "09:00"},
		{Sender: "bob", Content: "hi", MessageDate: d, MessageTime: "09:01"},
		{Sender: "alice", Content: "hello", MessageDate: d, MessageTime: "09:05"}, // same text, later time: distinct
	}

	n, err := s.AddMessages(room.ID, msgs)
	if err != nil {
		t.Fatalf("AddMessages: %v", err)
	}
	if n != 3 {
		t.Errorf("first insert = %d rows, want 3", n)
	}

	// Re-inserting the identical batch must insert nothing.
	n, err = s.AddMessages(room.ID, msgs)
	if err != nil {
		t.Fatalf("AddMessages (repeat): %v", err)
	}
	if n != 0 {
		t.Errorf("repeat insert = %d rows, want 0", n)
	}

	total, err := s.CountMessagesByDate(room.ID, d)
	if err != nil {
		t.Fatalf("CountMessagesByDate: %v", err)
	}
	if total != 3 {
		t.Errorf("messages for date = %d, want 3", total)
	}
}

func TestRefreshParticipantCount(t *testing.T) {
	s := openTestStore(t)
	room := mustCreateRoom(t, s, "crowd")
	d := date(t, "2026-01-24")

	if _, err := s.AddMessages(room.ID, []Message{
		{Sender: "alice", Content: "hello", MessageDate: d, MessageTime: "09:00"},
		{Sender: "bob", Content: "hi", MessageDate: d, MessageTime: "09:01"},
		{Sender: "alice", Content: "again", MessageDate: d, MessageTime: "09:02"},
	}); err != nil {
		t.Fatalf("AddMessages: %v", err)
	}

	if err := s.RefreshParticipantCount(room.ID); err != nil {
		t.Fatalf("RefreshParticipantCount: %v", err)
	}
	got, err := s.GetRoom(room.ID)
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if got.ParticipantCount != 2 {
		t.Errorf("participant count = %d, want 2", got.ParticipantCount)
	}
}

func TestAddMessagesTimelessCollapseOnContent(t *testing.T) {
	s := openTestStore(t)
	room := mustCreateRoom(t, s, "timeless")
	d := date(t, "2026-01-24")

	// Exports without per-message times collapse duplicates onto content.
	msgs := []Message{
		{Sender: "alice", Content: "ok", MessageDate: d},
		{Sender: "alice", Content: "ok", MessageDate: d},
	}
	n, err := s.AddMessages(room.ID, msgs)
	if err != nil {
		t.Fatalf("AddMessages: %v", err)
	}
	if n != 1 {
		t.Errorf("inserted = %d, want 1 (timeless duplicates collapse)", n)
	}
}

func TestReplaceSummaryKeepsSingleRow(t *testing.T) {
	s := openTestStore(t)
	room := mustCreateRoom(t, s, "sums")
	d := date(t, "2026-01-24")

	for i := range 3 {
		_, err := s.ReplaceSummary(Summary{
			RoomID:      room.ID,
			SummaryDate: d,
			Kind:        KindDaily,
			Content:     fmt.Sprintf("generation %d", i),
			Provider:    "glm",
			TokenCount:  100 + i,
		})
		if err != nil {
			t.Fatalf("ReplaceSummary #%d: %v", i, err)
		}
	}

	n, err := s.CountSummaries(room.ID, d, KindDaily)
	if err != nil {
		t.Fatalf("CountSummaries: %v", err)
	}
	if n != 1 {
		t.Errorf("summary rows = %d, want exactly 1", n)
	}

	sum, err := s.GetSummary(room.ID, d, KindDaily)
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	if sum.Content != "generation 2" {
		t.Errorf("content = %q, want latest generation", sum.Content)
	}
}

func TestSummaryKindsAreIndependent(t *testing.T) {
	s := openTestStore(t)
	room := mustCreateRoom(t, s, "kinds")
	d := date(t, "2026-01-24")

	for _, kind := range []string{KindDaily, KindWeekly} {
		if _, err := s.ReplaceSummary(Summary{RoomID: room.ID, SummaryDate: d, Kind: kind, Content: kind}); err != nil {
			t.Fatalf("ReplaceSummary(%s): %v", kind, err)
		}
	}

	if _, err := s.GetSummary(room.ID, d, KindDaily); err != nil {
		t.Errorf("daily summary missing: %v", err)
	}
	if _, err := s.GetSummary(room.ID, d, KindWeekly); err != nil {
		t.Errorf("weekly summary missing: %v", err)
	}

	deleted, err := s.DeleteSummary(room.ID, d, KindDaily)
	if err != nil || !deleted {
		t.Fatalf("DeleteSummary(daily) = %v, %v", deleted, err)
	}
	if _, err := s.GetSummary(room.ID, d, KindWeekly); err != nil {
		t.Errorf("weekly summary removed by daily delete: %v", err)
	}
}

func TestUpsertURLMergesDescriptions(t *testing.T) {
	s := openTestStore(t)
	room := mustCreateRoom(t, s, "links")
	d := date(t, "2026-01-24")

	if err := s.UpsertURL(room.ID, "https://go.dev", []string{"language site"}, d); err != nil {
		t.Fatalf("UpsertURL: %v", err)
	}
	if err := s.UpsertURL(room.ID, "https://go.dev", []string{"docs", "language site"}, d); err != nil {
		t.Fatalf("UpsertURL (merge): %v", err)
	}

	urls, err := s.URLsByRoom(room.ID)
	if err != nil {
		t.Fatalf("URLsByRoom: %v", err)
	}
	if len(urls) != 1 {
		t.Fatalf("url rows = %d, want 1", len(urls))
	}
	got := urls[0].Descriptions
	if len(got) != 2 {
		t.Fatalf("descriptions = %v, want 2 distinct entries", got)
	}
	if got[0] != "docs" || got[1] != "language site" {
		t.Errorf("descriptions = %v, want sorted distinct union", got)
	}
}

func TestSyncLogsAppendOnly(t *testing.T) {
	s := openTestStore(t)
	room := mustCreateRoom(t, s, "audit")

	for i := range 3 {
		err := s.AddSyncLog(SyncLog{
			RoomID:          room.ID,
			TaskID:          fmt.Sprintf("task-%d", i),
			Status:          SyncSuccess,
			MessageCount:    10 * i,
			NewMessageCount: i,
			SyncedAt:        time.Now().Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("AddSyncLog #%d: %v", i, err)
		}
	}

	logs, err := s.SyncLogsByRoom(room.ID, 2)
	if err != nil {
		t.Fatalf("SyncLogsByRoom: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("logs = %d, want 2 (limit respected)", len(logs))
	}
	if logs[0].TaskID != "task-2" {
		t.Errorf("newest log = %q, want task-2", logs[0].TaskID)
	}
}

func TestDeleteRoomCascades(t *testing.T) {
	s := openTestStore(t)
	room := mustCreateRoom(t, s, "cascade")
	d := date(t, "2026-01-24")

	if _, err := s.AddMessages(room.ID, []Message{{Sender: "a", Content: "x", MessageDate: d}}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ReplaceSummary(Summary{RoomID: room.ID, SummaryDate: d, Kind: KindDaily, Content: "s"}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertURL(room.ID, "https://example.com", nil, d); err != nil {
		t.Fatal(err)
	}
	if err := s.AddSyncLog(SyncLog{RoomID: room.ID, Status: SyncSuccess}); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteRoom(room.ID); err != nil {
		t.Fatalf("DeleteRoom: %v", err)
	}

	for _, table := range []string{"messages", "summaries", "urls", "sync_logs"} {
		var n int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM "+table+" WHERE room_id = ?", room.ID).Scan(&n); err != nil {
			t.Fatalf("counting %s: %v", table, err)
		}
		if n != 0 {
			t.Errorf("%s rows after room delete = %d, want 0", table, n)
		}
	}
}

func TestDateRoundTrip(t *testing.T) {
	s := openTestStore(t)
	room := mustCreateRoom(t, s, "dates")
	d := date(t, "2026-02-01")

	if _, err := s.AddMessages(room.ID, []Message{{Sender: "a", Content: "x", MessageDate: d, MessageTime: "23:59"}}); err != nil {
		t.Fatal(err)
	}

	msgs, err := s.MessagesByRoom(room.ID, d, d)
	if err != nil {
		t.Fatalf("MessagesByRoom: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	if !msgs[0].MessageDate.Equal(d) {
		t.Errorf("round-tripped date = %v, want %v", msgs[0].MessageDate, d)
	}
	if msgs[0].MessageTime != "23:59" {
		t.Errorf("round-tripped time = %q, want 23:59", msgs[0].MessageTime)
	}
}
