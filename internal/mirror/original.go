package mirror

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
)

// Fingerprint identifies the message body of an original artifact. The header
// carries a save timestamp, so it is excluded: two artifacts with identical
// messages saved at different times fingerprint equal.
type Fingerprint struct {
	Size uint64
	Sum  uint64
}

// Zero reports whether the fingerprint is the absent-artifact value.
func (f Fingerprint) Zero() bool { return f.Size == 0 && f.Sum == 0 }

func fingerprintLines(lines []string) Fingerprint {
	body := strings.Join(lines, "\n")
	h := fnv.New64a()
	h.Write([]byte(body))
	return Fingerprint{Size: uint64(len(body)), Sum: h.Sum64()}
}

// MergeResult reports what a WriteOriginal call did.
type MergeResult struct {
	// Written is true when the artifact on disk was created or replaced.
	Written bool
	// Recovered is true when the incoming batch was empty and the lines
	// were read back from an existing artifact instead.
	Recovered bool
	// Lines is the full merged message set now persisted (or recovered).
	Lines []string
	// Added is how many incoming lines were not already present.
	Added int
	// Fingerprint covers the persisted message body.
	Fingerprint Fingerprint
}

// recordedCount parses the "- Messages: N" header field, returning -1 when
// the field is absent or malformed.
func recordedCount(content string) int {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(trimmed, "- Messages: "); ok {
			n := 0
			if _, err := fmt.Sscanf(rest, "%d", &n); err != nil {
				return -1
			}
			return n
		}
		if trimmed == "---" {
			break
		}
	}
	return -1
}

// OriginalDates returns the dates a room has original artifacts for, ascending.
func (s *Store) OriginalDates(room string) ([]string, error) {
	return datesIn(s.originalDir(room), "_full.md")
}

func (s *Store) originalDir(room string) string {
	return filepath.Join(s.base, originalDir, SanitizeName(room))
}

// HasOriginal reports whether an original artifact exists for the date.
func (s *Store) HasOriginal(room, date string) bool {
	_, err := os.Stat(s.originalPath(room, date))
	return err == nil
}

// LoadOriginal returns the message lines of a day's original artifact, or nil
// when no artifact exists.
func (s *Store) LoadOriginal(room, date string) ([]string, error) {
	content, err := os.ReadFile(s.originalPath(room, date))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading original artifact: %w", err)
	}
	return parseBody(string(content)), nil
}

// OriginalFingerprint returns the fingerprint of a day's persisted message
// body, or the zero Fingerprint when no artifact exists.
func (s *Store) OriginalFingerprint(room, date string) (Fingerprint, error) {
	lines, err := s.LoadOriginal(room, date)
	if err != nil {
		return Fingerprint{}, err
	}
	if lines == nil {
		return Fingerprint{}, nil
	}
	return fingerprintLines(lines), nil
}

// WriteOriginal merges incoming message lines into the day's original
// artifact. Merging is a set union keyed on the trimmed line, so re-ingesting
// an overlapping export never duplicates and never loses messages.
//
// An empty incoming batch does not write: if an artifact already exists its
// lines are returned with Recovered set, letting a caller repopulate the
// relational store from the mirror. A merge that would persist fewer entries
// than the file currently holds is rejected with ErrShrink.
func (s *Store) WriteOriginal(room, date string, incoming []string) (MergeResult, error) {
	unlock := s.lockKey(room, date)
	defer unlock()

	path := s.originalPath(room, date)
	var persisted []string
	persistedCount := 0
	if content, err := os.ReadFile(path); err == nil {
		persisted = parseBody(string(content))
		persistedCount = len(persisted)
		// The header records how many messages were last persisted. When a
		// damaged artifact parses to fewer lines than it claims, trust the
		// claim: merging on the short parse would throw history away.
		if recorded := recordedCount(string(content)); recorded > persistedCount {
			persistedCount = recorded
		}
	} else if !os.IsNotExist(err) {
		return MergeResult{}, fmt.Errorf("reading original artifact: %w", err)
	}

	if len(incoming) == 0 {
		if len(persisted) > 0 {
			return MergeResult{
				Recovered:   true,
				Lines:       persisted,
				Fingerprint: fingerprintLines(persisted),
			}, nil
		}
		return MergeResult{}, nil
	}

	merged := make([]string, 0, persistedCount+len(incoming))
	seen := make(map[string]bool, persistedCount+len(incoming))
	for _, line := range persisted {
		key := strings.TrimSpace(line)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, line)
	}
	added := 0
	for _, line := range incoming {
		key := strings.TrimSpace(line)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, line)
		added++
	}

	if len(merged) < persistedCount {
		return MergeResult{
				Lines:       persisted,
				Fingerprint: fingerprintLines(persisted),
			}, fmt.Errorf("original %s/%s: %d merged vs %d persisted: %w",
				SanitizeName(room), date, len(merged), persistedCount, ErrShrink)
	}

	fp := fingerprintLines(merged)
	if added == 0 && persistedCount > 0 {
		// Nothing new; keep the existing artifact untouched.
		return MergeResult{Lines: merged, Fingerprint: fp}, nil
	}

	meta := [][2]string{
		{"Room", room},
		{"Date", date},
		{"Messages", fmt.Sprintf("%d", len(merged))},
		{"Saved", nowStamp()},
	}
	content := formatArtifact(fmt.Sprintf("%s — %s", room, date), meta, strings.Join(merged, "\n"))
	if err := writeFileAtomic(path, []byte(content)); err != nil {
		return MergeResult{}, err
	}
	return MergeResult{Written: true, Lines: merged, Added: added, Fingerprint: fp}, nil
}
