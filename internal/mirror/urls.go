package mirror

import (
	"fmt"
	"strings"
	"time"
)

// URL view names and their trailing-window widths.
const (
	ViewRecent = "recent"
	ViewWeekly = "weekly"
	ViewAll    = "all"
)

var viewWindows = map[string]int{
	ViewRecent: 3,
	ViewWeekly: 7,
	ViewAll:    0, // no window
}

// URLEntry is one link row rendered into the url list views.
type URLEntry struct {
	URL         string
	Description string
	SourceDate  string // "YYYY-MM-DD", empty when unknown
}

// WriteURLViews rewrites a room's three url list artifacts wholesale from the
// given entries. The recent and weekly views keep only entries whose source
// date falls within the trailing 3 and 7 days of now; undated entries appear
// only in the all view.
func (s *Store) WriteURLViews(room string, entries []URLEntry, now time.Time) error {
	for view, window := range viewWindows {
		filtered := entries
		if window > 0 {
			cutoff := now.AddDate(0, 0, -window).Format(time.DateOnly)
			filtered = make([]URLEntry, 0, len(entries))
			for _, e := range entries {
				if e.SourceDate != "" && e.SourceDate >= cutoff {
					filtered = append(filtered, e)
				}
			}
		}
		if err := s.writeURLView(room, view, filtered); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) writeURLView(room, view string, entries []URLEntry) error {
	var body strings.Builder
	if len(entries) == 0 {
		body.WriteString("(no links collected)")
	}
	for i, e := range entries {
		if i > 0 {
			body.WriteString("\n")
		}
		if e.Description != "" {
			fmt.Fprintf(&body, "- [%s](%s)", e.Description, e.URL)
		} else {
			fmt.Fprintf(&body, "- <%s>", e.URL)
		}
		if e.SourceDate != "" {
			fmt.Fprintf(&body, " — %s", e.SourceDate)
		}
	}

	meta := [][2]string{
		{"Room", room},
		{"View", view},
		{"Links", fmt.Sprintf("%d", len(entries))},
		{"Saved", nowStamp()},
	}
	content := formatArtifact(fmt.Sprintf("%s links — %s", room, view), meta, body.String())
	return writeFileAtomic(s.urlPath(room, view), []byte(content))
}

// LoadURLView returns the body lines of a url view artifact, or nil when the
// view has not been written.
func (s *Store) LoadURLView(room, view string) ([]string, error) {
	lines, err := s.loadBody(s.urlPath(room, view))
	if err != nil {
		return nil, fmt.Errorf("reading url view: %w", err)
	}
	return lines, nil
}
