package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatdigest/chatdigest/internal/config"
	"github.com/chatdigest/chatdigest/internal/ingest"
	"github.com/chatdigest/chatdigest/internal/llm"
	"github.com/chatdigest/chatdigest/internal/mirror"
	"github.com/chatdigest/chatdigest/internal/recovery"
	"github.com/chatdigest/chatdigest/internal/store"
	"github.com/chatdigest/chatdigest/internal/summarize"
	"github.com/chatdigest/chatdigest/internal/tasks"
)

// setup loads config, configures logging, and opens the file mirror.
func setup() (config.Config, *mirror.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	setupLogging(cfg.Log.Level)

	m, err := mirror.New(cfg.Storage.DataDir)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("opening mirror: %w", err)
	}
	return cfg, m, nil
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest <file> [file...]",
	Short: "Import exported chat transcripts",
	Long: `Import exported chat transcripts.

Accepts KakaoTalk text exports as well as PDF and HTML captures. The room
name is taken from the filename unless --room is given.

Examples:
  chatdigest ingest ~/Downloads/Dev_KakaoTalk_20260124.txt
  chatdigest ingest --room "Dev Team" export.pdf`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomFlag, _ := cmd.Flags().GetString("room")

		cfg, m, err := setup()
		if err != nil {
			return err
		}

		pipe := ingest.New(m)
		runner := tasks.NewRunner(cfg.Storage.DataDir)

		for _, path := range args {
			err := runner.RunExclusive(cmd.Context(), tasks.KindIngest, roomFlag, func(ctx context.Context, task *tasks.Task) error {
				report, err := pipe.IngestFile(ctx, task, path, roomFlag)
				if err != nil {
					return err
				}
				printSuccess("%s: %d dates, %d new, %d duplicate", report.Room, len(report.Dates), report.New, report.Duplicates)
				if report.Recovered > 0 {
					printWarning("%d dates recovered from the file mirror", report.Recovered)
				}
				if report.Invalidated > 0 {
					printWarning("%d summaries invalidated; run `chatdigest summarize` to refresh", report.Invalidated)
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("ingesting %s: %w", path, err)
			}
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("room", "", "room name (default: derived from the filename)")
}

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Re-import every tracked room from its recorded export file",
	Long: `Re-import every tracked room from its recorded export file.

Each room remembers the export it was first ingested from. Sync re-reads
those files and imports whatever was appended since. Rooms without a
recorded export, or whose export no longer exists, are skipped. The server
runs the same sync on a timer (sync.interval_minutes).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, m, err := setup()
		if err != nil {
			return err
		}

		pipe := ingest.New(m)
		runner := tasks.NewRunner(cfg.Storage.DataDir)

		report, err := pipe.SyncAll(cmd.Context(), runner, cfg.Storage.DataDir, cfg.Summarize.Parallelism)
		if err != nil {
			return err
		}
		for _, rs := range report.Rooms {
			if rs.Err != nil {
				printWarning("%s: %v", rs.Room, rs.Err)
				continue
			}
			if rs.Report.New > 0 {
				printSuccess("%s: %d new messages", rs.Room, rs.Report.New)
			}
		}
		printSuccess("%d rooms synced, %d failed, %d skipped", report.Synced, report.Failed, report.Skipped)
		if report.Failed > 0 {
			return fmt.Errorf("%d rooms failed to sync", report.Failed)
		}
		return nil
	},
}

// --- summarize ---

var summarizeCmd = &cobra.Command{
	Use:   "summarize [room]",
	Short: "Generate digests for dates that need one",
	Long: `Generate digests for dates that need one.

Without a room argument every room under the data directory is processed.
The scope selects which dates are considered:

  pending    dates with a transcript but no digest (default)
  today      today only
  yesterday  yesterday only
  last2days  yesterday and today
  all        every date with a transcript

Use --weekly to roll the trailing seven daily digests into a weekly one.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scope, _ := cmd.Flags().GetString("scope")
		force, _ := cmd.Flags().GetBool("force")
		weekly, _ := cmd.Flags().GetBool("weekly")
		endDate, _ := cmd.Flags().GetString("end")

		if err := validateScope(scope); err != nil {
			return err
		}

		cfg, m, err := setup()
		if err != nil {
			return err
		}

		provider, err := cfg.Provider()
		if err != nil {
			return err
		}
		daily, err := llm.NewClient(provider, summarize.DefaultPrompt, llm.WithAPIKey(cfg.LLM.APIKey))
		if err != nil {
			return err
		}
		weeklyClient, err := llm.NewClient(provider, summarize.WeeklyPrompt, llm.WithAPIKey(cfg.LLM.APIKey))
		if err != nil {
			return err
		}

		orch := summarize.New(m, daily, weeklyClient)
		runner := tasks.NewRunner(cfg.Storage.DataDir)

		rooms := args
		if len(rooms) == 0 {
			rooms, err = m.Rooms()
			if err != nil {
				return fmt.Errorf("listing rooms: %w", err)
			}
			if len(rooms) == 0 {
				printWarning("no rooms found; ingest a transcript first")
				return nil
			}
		}

		if weekly {
			if endDate == "" {
				endDate = time.Now().Format(time.DateOnly)
			}
			for _, room := range rooms {
				err := runner.RunExclusive(cmd.Context(), tasks.KindSummarize, room, func(ctx context.Context, task *tasks.Task) error {
					if err := orch.RunWeekly(ctx, task, room, endDate); err != nil {
						return err
					}
					printSuccess("%s: weekly digest through %s", room, endDate)
					return nil
				})
				if err != nil {
					return err
				}
			}
			return nil
		}

		opts := summarize.Options{Scope: scope, Force: force}
		return runner.RunEach(cmd.Context(), tasks.KindSummarize, rooms, cfg.Summarize.Parallelism, func(ctx context.Context, task *tasks.Task) error {
			res, err := orch.Run(ctx, task, task.Room, opts)
			if res.Done > 0 || res.Failed > 0 || res.Cancelled > 0 {
				printSuccess("%s: %d done, %d failed, %d skipped, %d cancelled", task.Room, res.Done, res.Failed, res.Skipped, res.Cancelled)
			}
			return err
		})
	},
}

func validateScope(scope string) error {
	switch scope {
	case summarize.ScopePending, summarize.ScopeToday, summarize.ScopeYesterday,
		summarize.ScopeLast2Days, summarize.ScopeAll:
		return nil
	}
	return fmt.Errorf("unknown scope %q (have: pending, today, yesterday, last2days, all)", scope)
}

func init() {
	summarizeCmd.Flags().String("scope", summarize.ScopePending, "which dates to summarize")
	summarizeCmd.Flags().Bool("force", false, "regenerate digests that already exist")
	summarizeCmd.Flags().Bool("weekly", false, "produce a weekly digest instead of daily ones")
	summarizeCmd.Flags().String("end", "", "last date of the weekly window (default: today)")
}

// --- rooms ---

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List tracked rooms",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := setup()
		if err != nil {
			return err
		}

		st, err := store.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer st.Close()

		rooms, err := st.ListRooms()
		if err != nil {
			return err
		}
		if len(rooms) == 0 {
			fmt.Println("No rooms yet.")
			return nil
		}

		for _, room := range rooms {
			stats, err := st.RoomStats(room.ID)
			if err != nil {
				return err
			}
			span := ""
			if !stats.FirstDate.IsZero() {
				span = fmt.Sprintf("  %s .. %s", stats.FirstDate.Format(time.DateOnly), stats.LastDate.Format(time.DateOnly))
			}
			fmt.Printf("%s\n", colorize(colorBold, room.Name))
			fmt.Printf("  %d messages from %d senders, %d digests, %d links%s\n",
				stats.TotalMessages, stats.UniqueSenders, stats.SummaryCount, stats.URLCount, span)
		}
		return nil
	},
}

// --- pending ---

var pendingCmd = &cobra.Command{
	Use:   "pending <room>",
	Short: "List a room's dates that still need a digest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, m, err := setup()
		if err != nil {
			return err
		}

		dates, err := m.DatesNeedingSummary(args[0])
		if err != nil {
			return err
		}
		if len(dates) == 0 {
			fmt.Println("Nothing pending.")
			return nil
		}
		for _, d := range dates {
			fmt.Println(d)
		}
		return nil
	},
}

// --- recover ---

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Rebuild the database from the file mirror",
	Long: `Rebuild the database from the file mirror.

By default only rooms missing from the database are reconstructed. With
--wipe every table is cleared first and the whole database is rebuilt;
restored digests are marked with provider "restored".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		wipe, _ := cmd.Flags().GetBool("wipe")

		cfg, m, err := setup()
		if err != nil {
			return err
		}

		mode := recovery.ModeMissing
		if wipe {
			mode = recovery.ModeWipe
		}

		runner := tasks.NewRunner(cfg.Storage.DataDir)
		return runner.RunExclusive(cmd.Context(), tasks.KindRecovery, "", func(ctx context.Context, task *tasks.Task) error {
			report, err := recovery.New(m).Rebuild(task, mode)
			if err != nil {
				return err
			}
			printSuccess("%d rooms added, %d rebuilt, %d dates, %d digests restored, %d links",
				report.RoomsAdded, report.RoomsRebuilt, report.DatesReconstructed, report.SummariesRestored, report.URLs)
			for _, path := range report.Unparsed {
				printWarning("could not read %s", path)
			}
			return nil
		})
	},
}

func init() {
	recoverCmd.Flags().Bool("wipe", false, "clear all tables and rebuild everything")
}

// --- backup / restore ---

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot the data directory, or list snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		list, _ := cmd.Flags().GetBool("list")

		cfg, m, err := setup()
		if err != nil {
			return err
		}

		if list {
			snaps, err := recovery.ListSnapshots(cfg.Storage.DataDir)
			if err != nil {
				return err
			}
			if len(snaps) == 0 {
				fmt.Println("No snapshots yet.")
				return nil
			}
			for _, s := range snaps {
				fmt.Printf("%s  %s  %d rooms\n",
					colorize(colorBold, s.Name),
					s.Manifest.CreatedAt.Format(time.RFC3339),
					len(s.Manifest.Rooms))
			}
			return nil
		}

		runner := tasks.NewRunner(cfg.Storage.DataDir)
		return runner.RunExclusive(cmd.Context(), tasks.KindBackup, "", func(ctx context.Context, task *tasks.Task) error {
			manifest, err := recovery.New(m).Snapshot(cfg.Storage.DataDir)
			if err != nil {
				return err
			}
			printSuccess("Snapshot %s (%d rooms)", manifest.ID, len(manifest.Rooms))
			return nil
		})
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <snapshot>",
	Short: "Restore a snapshot into the data directory",
	Long: `Restore a snapshot into the data directory.

Without --room the whole snapshot is restored, database included. With
--room only that room's mirror files come back and the database is rebuilt
from the mirror afterwards.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		room, _ := cmd.Flags().GetString("room")

		cfg, m, err := setup()
		if err != nil {
			return err
		}

		if err := recovery.Restore(cfg.Storage.DataDir, args[0], room); err != nil {
			return err
		}
		printSuccess("Restored snapshot %s", args[0])

		if room == "" {
			return nil
		}

		// Realign the database with the restored mirror.
		runner := tasks.NewRunner(cfg.Storage.DataDir)
		return runner.RunExclusive(cmd.Context(), tasks.KindRecovery, room, func(ctx context.Context, task *tasks.Task) error {
			report, err := recovery.New(m).Rebuild(task, recovery.ModeWipe)
			if err != nil {
				return err
			}
			printSuccess("Database rebuilt: %d rooms, %d dates", report.RoomsAdded, report.DatesReconstructed)
			return nil
		})
	},
}

func init() {
	backupCmd.Flags().Bool("list", false, "list existing snapshots")
	restoreCmd.Flags().String("room", "", "restore only this room's mirror files")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			line := fmt.Sprintf("  %s = %s", colorize(colorBold, k.Key), k.Value)
			if k.EnvVar != "" {
				line += fmt.Sprintf("  (%s)", k.EnvVar)
			}
			fmt.Println(line)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			if strings.Contains(err.Error(), "unknown config key") {
				return fmt.Errorf("%w\nvalid keys: %s", err, strings.Join(config.ValidKeys(), ", "))
			}
			return err
		}

		printSuccess("Set %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
