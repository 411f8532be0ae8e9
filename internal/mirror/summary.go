package mirror

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// HasSummary reports whether a live (non-invalidated) summary artifact exists.
func (s *Store) HasSummary(room, date string) bool {
	_, err := os.Stat(s.summaryPath(room, date))
	return err == nil
}

// SummaryDates returns the dates a room has live summary artifacts for.
func (s *Store) SummaryDates(room string) ([]string, error) {
	return datesIn(filepath.Join(s.base, summaryDir, SanitizeName(room)), "_summary.md")
}

// WriteSummary persists a day's summary artifact. Re-summarizing replaces the
// whole file.
func (s *Store) WriteSummary(room, date, provider, body string) error {
	unlock := s.lockKey(room, date)
	defer unlock()

	meta := [][2]string{
		{"Room", room},
		{"Date", date},
		{"Provider", provider},
		{"Saved", nowStamp()},
	}
	content := formatArtifact(fmt.Sprintf("%s summary — %s", room, date), meta, strings.TrimSpace(body))
	return writeFileAtomic(s.summaryPath(room, date), []byte(content))
}

// LoadSummary returns the body of a day's summary artifact, or "" when no
// live artifact exists.
func (s *Store) LoadSummary(room, date string) (string, error) {
	content, err := os.ReadFile(s.summaryPath(room, date))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading summary artifact: %w", err)
	}
	return strings.Join(parseBody(string(content)), "\n"), nil
}

// InvalidateSummary renames a day's summary artifact to its .bak form,
// replacing any previous .bak. The artifact is never unlinked, so a stale
// summary can always be inspected after its source transcript changed.
// Returns true when a live artifact was present and renamed.
func (s *Store) InvalidateSummary(room, date string) (bool, error) {
	unlock := s.lockKey(room, date)
	defer unlock()

	path := s.summaryPath(room, date)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking summary artifact: %w", err)
	}
	bak := path + BackupSuffix
	if err := os.Remove(bak); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("dropping previous summary backup: %w", err)
	}
	if err := os.Rename(path, bak); err != nil {
		return false, fmt.Errorf("invalidating summary artifact: %w", err)
	}
	return true, nil
}
