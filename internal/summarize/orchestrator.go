// Package summarize orchestrates LLM digest generation over ingested days:
// deciding which dates need work, calling the model, and persisting validated
// results to both stores plus the url views.
package summarize

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/chatdigest/chatdigest/internal/llm"
	"github.com/chatdigest/chatdigest/internal/mirror"
	"github.com/chatdigest/chatdigest/internal/store"
	"github.com/chatdigest/chatdigest/internal/tasks"
	"github.com/chatdigest/chatdigest/internal/urlx"
)

// Scopes select which dates a summarize run covers.
const (
	ScopePending   = "pending"
	ScopeToday     = "today"
	ScopeYesterday = "yesterday"
	ScopeLast2Days = "last2days"
	ScopeAll       = "all"
)

// Options control one summarize batch.
type Options struct {
	Scope string
	// Force regenerates dates that already have a summary.
	Force bool
}

// BatchResult counts the outcomes of a batch. A cancelled batch keeps the
// dates already done.
type BatchResult struct {
	Done      int
	Failed    int
	Skipped   int
	Cancelled int
}

// Summarizer generates one digest from transcript text.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (llm.Result, error)
	Provider() string
}

// Orchestrator drives summarization for rooms.
type Orchestrator struct {
	mirror *mirror.Store
	daily  Summarizer
	weekly Summarizer
	logger *slog.Logger
	now    func() time.Time
}

// New builds an orchestrator. weekly may equal daily when one client serves
// both prompts.
func New(m *mirror.Store, daily, weekly Summarizer) *Orchestrator {
	return &Orchestrator{
		mirror: m,
		daily:  daily,
		weekly: weekly,
		logger: slog.Default(),
		now:    time.Now,
	}
}

// Run summarizes the room's dates selected by the scope, one date at a time
// in ascending order. Cancellation is honored between dates, never inside a
// date, so every completed date is fully persisted.
func (o *Orchestrator) Run(ctx context.Context, task *tasks.Task, roomName string, opts Options) (BatchResult, error) {
	var res BatchResult

	room, err := task.Store.GetRoomByName(roomName)
	if err != nil {
		return res, fmt.Errorf("resolving room %q: %w", roomName, err)
	}

	dates, skipped, err := o.selectDates(roomName, opts)
	if err != nil {
		return res, err
	}
	res.Skipped = skipped

	for i, date := range dates {
		if ctx.Err() != nil {
			res.Cancelled = len(dates) - i
			o.logger.Info("summarize batch cancelled",
				"room", roomName, "done", res.Done, "remaining", res.Cancelled)
			return res, ctx.Err()
		}
		task.Progress("summarize", (i*100)/len(dates), date)

		if err := o.summarizeDate(ctx, task, room, roomName, date); err != nil {
			res.Failed++
			o.logger.Warn("date summarization failed",
				"room", roomName, "date", date, "error", err)
			continue
		}
		res.Done++
	}
	return res, nil
}

// selectDates builds the ascending work list for a scope, counting dates
// skipped because they are already summarized.
func (o *Orchestrator) selectDates(roomName string, opts Options) ([]string, int, error) {
	if opts.Scope == ScopePending && !opts.Force {
		dates, err := o.mirror.DatesNeedingSummary(roomName)
		return dates, 0, err
	}

	available, err := o.mirror.OriginalDates(roomName)
	if err != nil {
		return nil, 0, err
	}

	today := o.now().Format(time.DateOnly)
	yesterday := o.now().AddDate(0, 0, -1).Format(time.DateOnly)
	var wanted []string
	switch opts.Scope {
	case ScopeAll, ScopePending:
		wanted = available
	case ScopeToday:
		wanted = []string{today}
	case ScopeYesterday:
		wanted = []string{yesterday}
	case ScopeLast2Days:
		wanted = []string{yesterday, today}
	default:
		return nil, 0, fmt.Errorf("unknown summarize scope %q", opts.Scope)
	}

	skipped := 0
	var dates []string
	for _, date := range wanted {
		if !slices.Contains(available, date) {
			continue
		}
		if !opts.Force && o.mirror.HasSummary(roomName, date) {
			skipped++
			continue
		}
		dates = append(dates, date)
	}
	return dates, skipped, nil
}

// summarizeDate generates and persists one date's digest. Nothing is
// persisted unless the model's answer passed validation.
func (o *Orchestrator) summarizeDate(ctx context.Context, task *tasks.Task, room store.Room, roomName, date string) error {
	lines, err := o.mirror.LoadOriginal(roomName, date)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		return fmt.Errorf("no original artifact for %s", date)
	}

	result, err := o.daily.Summarize(ctx, strings.Join(lines, "\n"))
	if err != nil {
		return err
	}

	day, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return fmt.Errorf("parsing date %q: %w", date, err)
	}

	if err := o.mirror.WriteSummary(roomName, date, result.Provider, result.Content); err != nil {
		return fmt.Errorf("writing summary artifact: %w", err)
	}
	if _, err := task.Store.ReplaceSummary(store.Summary{
		RoomID:      room.ID,
		SummaryDate: day,
		Kind:        store.KindDaily,
		Content:     result.Content,
		Provider:    result.Provider,
		TokenCount:  result.Usage.TotalTokens,
	}); err != nil {
		return fmt.Errorf("replacing summary row: %w", err)
	}

	if err := o.collectURLs(task.Store, room, roomName, result.Content, day); err != nil {
		// Link collection is derived data; the summary itself is already
		// persisted and must stay done.
		o.logger.Warn("collecting urls failed", "room", roomName, "date", date, "error", err)
	}
	return nil
}

// collectURLs extracts the summary's links into the url table and rewrites
// the room's three url views from the table.
func (o *Orchestrator) collectURLs(st *store.Store, room store.Room, roomName, content string, day time.Time) error {
	for _, ex := range urlx.FromSummary(content) {
		if err := st.UpsertURL(room.ID, ex.URL, ex.Descriptions, day); err != nil {
			return fmt.Errorf("upserting url %s: %w", ex.URL, err)
		}
	}

	urls, err := st.URLsByRoom(room.ID)
	if err != nil {
		return fmt.Errorf("listing urls: %w", err)
	}
	entries := make([]mirror.URLEntry, 0, len(urls))
	for _, u := range urls {
		entry := mirror.URLEntry{
			URL:         u.URL,
			Description: strings.Join(u.Descriptions, " / "),
		}
		if !u.SourceDate.IsZero() {
			entry.SourceDate = u.SourceDate.Format(time.DateOnly)
		}
		entries = append(entries, entry)
	}
	return o.mirror.WriteURLViews(roomName, entries, o.now())
}

// RunWeekly rolls the trailing seven days of daily summaries ending at
// endDate into one weekly digest stored under kind "weekly".
func (o *Orchestrator) RunWeekly(ctx context.Context, task *tasks.Task, roomName, endDate string) error {
	room, err := task.Store.GetRoomByName(roomName)
	if err != nil {
		return fmt.Errorf("resolving room %q: %w", roomName, err)
	}
	end, err := time.Parse(time.DateOnly, endDate)
	if err != nil {
		return fmt.Errorf("parsing end date %q: %w", endDate, err)
	}

	var parts []string
	for offset := 6; offset >= 0; offset-- {
		date := end.AddDate(0, 0, -offset).Format(time.DateOnly)
		body, err := o.mirror.LoadSummary(roomName, date)
		if err != nil {
			return err
		}
		if body == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("## %s\n%s", date, body))
	}
	if len(parts) == 0 {
		return fmt.Errorf("no daily summaries in the week ending %s", endDate)
	}

	result, err := o.weekly.Summarize(ctx, strings.Join(parts, "\n\n"))
	if err != nil {
		return err
	}
	if _, err := task.Store.ReplaceSummary(store.Summary{
		RoomID:      room.ID,
		SummaryDate: end,
		Kind:        store.KindWeekly,
		Content:     result.Content,
		Provider:    result.Provider,
		TokenCount:  result.Usage.TotalTokens,
	}); err != nil {
		return fmt.Errorf("replacing weekly summary row: %w", err)
	}
	return nil
}
