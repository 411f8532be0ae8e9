// Package mirror maintains the human-readable file mirror of the chat stores:
// per-day original transcripts, per-day summaries, and url list views laid out
// as Markdown files under a base directory. The mirror is a denormalized,
// recoverable copy of the relational store; either side must be reconstructible
// from the other.
package mirror

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrShrink is returned when a merge write would persist fewer entries than
// the file already holds. The write is skipped and the existing artifact kept;
// this defends against a partial parse of a re-export silently erasing history.
var ErrShrink = errors.New("merge result smaller than persisted artifact")

// Directory names under the mirror base.
const (
	originalDir = "original"
	summaryDir  = "summary"
	urlDir      = "url"
)

// BackupSuffix marks an invalidated summary artifact. Invalidation renames,
// never deletes.
const BackupSuffix = ".bak"

const generatorFooter = "_Generated by chatdigest_"

// Store is the file mirror rooted at a base directory. Writes to the same
// (room, date) key are serialized; distinct keys may proceed concurrently.
type Store struct {
	base string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates the mirror directory tree under base and returns a Store.
func New(base string) (*Store, error) {
	for _, dir := range []string{originalDir, summaryDir, urlDir} {
		if err := os.MkdirAll(filepath.Join(base, dir), 0o755); err != nil {
			return nil, fmt.Errorf("creating mirror directory %s: %w", dir, err)
		}
	}
	return &Store{base: base, locks: make(map[string]*sync.Mutex)}, nil
}

// Base returns the mirror root directory.
func (s *Store) Base() string { return s.base }

// lockKey serializes writers on one (room, date) key.
func (s *Store) lockKey(room, date string) func() {
	key := room + "\x00" + date
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

var unsafeNameChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// SanitizeName makes a room name safe for use as a directory or file name.
func SanitizeName(name string) string {
	sanitized := unsafeNameChars.ReplaceAllString(name, "")
	sanitized = strings.TrimSpace(sanitized)
	return strings.ReplaceAll(sanitized, " ", "_")
}

// compactDate turns "2026-01-24" into "20260124" for file names.
func compactDate(date string) string {
	return strings.ReplaceAll(date, "-", "")
}

// expandDate turns "20260124" back into "2026-01-24".
func expandDate(compact string) string {
	if len(compact) != 8 {
		return compact
	}
	return compact[:4] + "-" + compact[4:6] + "-" + compact[6:8]
}

func (s *Store) originalPath(room, date string) string {
	safe := SanitizeName(room)
	return filepath.Join(s.base, originalDir, safe, fmt.Sprintf("%s_%s_full.md", safe, compactDate(date)))
}

func (s *Store) summaryPath(room, date string) string {
	safe := SanitizeName(room)
	return filepath.Join(s.base, summaryDir, safe, fmt.Sprintf("%s_%s_summary.md", safe, compactDate(date)))
}

func (s *Store) urlPath(room, view string) string {
	safe := SanitizeName(room)
	return filepath.Join(s.base, urlDir, safe, fmt.Sprintf("%s_urls_%s.md", safe, view))
}

// Rooms lists every room directory present in any of the three mirror trees.
func (s *Store) Rooms() ([]string, error) {
	seen := make(map[string]bool)
	for _, dir := range []string{originalDir, summaryDir, urlDir} {
		entries, err := os.ReadDir(filepath.Join(s.base, dir))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("scanning %s tree: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				seen[e.Name()] = true
			}
		}
	}
	rooms := make([]string, 0, len(seen))
	for name := range seen {
		rooms = append(rooms, name)
	}
	sort.Strings(rooms)
	return rooms, nil
}

// datesIn scans a per-room directory for artifacts matching suffix and returns
// their dates, ascending.
func datesIn(dir, suffix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	pattern := regexp.MustCompile(`_(\d{8})` + regexp.QuoteMeta(suffix) + `$`)
	var dates []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if m := pattern.FindStringSubmatch(e.Name()); m != nil {
			dates = append(dates, expandDate(m[1]))
		}
	}
	sort.Strings(dates)
	return dates, nil
}

// parseBody extracts the message lines of an artifact: everything between the
// first "---" separator and the generator footer, skipping blank and bare
// separator lines.
func parseBody(content string) []string {
	lines := strings.Split(content, "\n")
	start := 0
	for i, line := range lines {
		if strings.TrimSpace(line) == "---" && i > 0 {
			start = i + 1
			break
		}
	}

	var body []string
	for _, line := range lines[start:] {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "_Generated") {
			break
		}
		if trimmed == "" || trimmed == "---" {
			continue
		}
		body = append(body, line)
	}
	return body
}

// loadBody reads an artifact file and returns its body lines, nil when the
// file does not exist.
func (s *Store) loadBody(path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return parseBody(string(content)), nil
}

func formatArtifact(title string, meta [][2]string, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	for _, kv := range meta {
		fmt.Fprintf(&b, "- %s: %s\n", kv[0], kv[1])
	}
	b.WriteString("\n---\n\n")
	b.WriteString(body)
	b.WriteString("\n\n---\n" + generatorFooter + "\n")
	return b.String()
}

func nowStamp() string {
	return time.Now().Format(time.DateTime)
}

// writeFileAtomic writes via a temp file and rename so a process kill
// mid-write never leaves a half-written artifact behind.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating artifact directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("creating temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp artifact: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming artifact into place: %w", err)
	}
	return nil
}
