package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/chatdigest/chatdigest/internal/api"
	"github.com/chatdigest/chatdigest/internal/config"
	"github.com/chatdigest/chatdigest/internal/ingest"
	"github.com/chatdigest/chatdigest/internal/mirror"
	"github.com/chatdigest/chatdigest/internal/store"
	"github.com/chatdigest/chatdigest/internal/tasks"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the read-only API server (foreground)",
	Long: `Start the read-only API server (foreground).

Serves the HTTP API on the configured port and the MCP tools over stdio.
Requires server.token to be set; all /v1 routes use bearer auth.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "chatdigest.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "chatdigest version %s\n", version)

	cfg, m, err := setup()
	if err != nil {
		return err
	}
	if cfg.Server.Token == "" {
		return fmt.Errorf("server.token is not configured; set CHATDIGEST_SERVER_TOKEN or run `chatdigest config set server.token <value>`")
	}

	// Refuse to double-start. The health endpoint needs no auth.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing store: %v\n", err)
		}
	}()

	deps := api.Deps{Store: st, Mirror: m, Token: cfg.Server.Token}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewHandler(deps),
	}

	// MCP tools over stdio, alongside the HTTP listener.
	stdioSrv := server.NewStdioServer(api.NewMCPServer(deps))
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "mcp stdio server error: %v\n", err)
		}
	}()

	// Periodic re-import of tracked rooms, like the manual `chatdigest sync`.
	if cfg.Sync.IntervalMinutes > 0 {
		go runPeriodicSync(ctx, cfg, m)
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "chatdigest listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// runPeriodicSync re-imports every tracked room on a timer until ctx ends.
// Sync tasks open their own store handles, so they coexist with the server's
// read handle.
func runPeriodicSync(ctx context.Context, cfg config.Config, m *mirror.Store) {
	interval := time.Duration(cfg.Sync.IntervalMinutes) * time.Minute
	pipe := ingest.New(m)
	runner := tasks.NewRunner(cfg.Storage.DataDir)
	logger := slog.Default()
	logger.Info("periodic sync enabled", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := pipe.SyncAll(ctx, runner, cfg.Storage.DataDir, cfg.Summarize.Parallelism)
			if err != nil {
				logger.Error("periodic sync failed", "error", err)
				continue
			}
			logger.Info("periodic sync finished",
				"synced", report.Synced, "failed", report.Failed, "skipped", report.Skipped)
		}
	}
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("chatdigest is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop chatdigest (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to chatdigest (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Provider", "%s", cfg.LLM.Provider)
	if cfg.LLM.APIKey == "" {
		printStatus("API key", "not set")
	} else {
		printStatus("API key", "set")
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)

	// Room counts straight from the store; harmless alongside a running
	// server since every access here is a read.
	st, err := store.Open(cfg.Storage.DataDir)
	if err != nil {
		printStatus("Rooms", "unavailable (%v)", err)
		return nil
	}
	defer st.Close()

	rooms, err := st.ListRooms()
	if err != nil {
		printStatus("Rooms", "unavailable (%v)", err)
		return nil
	}
	total := 0
	for _, room := range rooms {
		stats, err := st.RoomStats(room.ID)
		if err != nil {
			continue
		}
		total += stats.TotalMessages
	}
	printStatus("Rooms", "%d (%d messages)", len(rooms), total)
	return nil
}
