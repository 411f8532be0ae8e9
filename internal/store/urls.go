package store

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"
)

// descriptionSeparator joins merged descriptions in the descriptions column.
const descriptionSeparator = " / "

// UpsertURL inserts a url row or, when (room, url) already exists, merges the
// new descriptions into the existing ones as a set union. Descriptions are
// never overwritten or dropped.
func (s *Store) UpsertURL(roomID int64, url string, descriptions []string, sourceDate time.Time) error {
	now := time.Now()

	var existing string
	err := s.db.QueryRow(
		"SELECT descriptions FROM urls WHERE room_id = ? AND url = ?", roomID, url,
	).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		sourceRaw := ""
		if !sourceDate.IsZero() {
			sourceRaw = formatDate(sourceDate)
		}
		_, err := s.db.Exec(`
			INSERT INTO urls (room_id, url, descriptions, source_date, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			roomID, url, joinDescriptions(descriptions), sourceRaw, formatStamp(now), formatStamp(now),
		)
		if err != nil {
			return fmt.Errorf("inserting url: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("querying existing url: %w", err)
	}

	merged := mergeDescriptions(splitDescriptions(existing), descriptions)
	_, err = s.db.Exec(
		"UPDATE urls SET descriptions = ?, updated_at = ? WHERE room_id = ? AND url = ?",
		joinDescriptions(merged), formatStamp(now), roomID, url,
	)
	if err != nil {
		return fmt.Errorf("updating url descriptions: %w", err)
	}
	return nil
}

// URLsByRoom returns all url rows for a room ordered case-insensitively.
func (s *Store) URLsByRoom(roomID int64) ([]URL, error) {
	rows, err := s.db.Query(`
		SELECT id, room_id, url, descriptions, source_date, created_at, updated_at
		FROM urls WHERE room_id = ? ORDER BY LOWER(url)`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var urls []URL
	for rows.Next() {
		var u URL
		var descs, sourceDate, createdAt, updatedAt string
		if err := rows.Scan(&u.ID, &u.RoomID, &u.URL, &descs, &sourceDate, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		u.Descriptions = splitDescriptions(descs)
		if u.SourceDate, err = parseDate(sourceDate); err != nil {
			return nil, err
		}
		if u.CreatedAt, err = parseStamp(createdAt); err != nil {
			return nil, err
		}
		if u.UpdatedAt, err = parseStamp(updatedAt); err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

// CountURLs returns the url row count for a room.
func (s *Store) CountURLs(roomID int64) (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM urls WHERE room_id = ?", roomID).Scan(&n)
	return n, err
}

// ClearURLs removes all url rows for a room. Used before a full re-extraction.
func (s *Store) ClearURLs(roomID int64) (int, error) {
	res, err := s.db.Exec("DELETE FROM urls WHERE room_id = ?", roomID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func joinDescriptions(descs []string) string {
	var kept []string
	for _, d := range descs {
		d = strings.TrimSpace(d)
		if d != "" {
			kept = append(kept, d)
		}
	}
	return strings.Join(kept, descriptionSeparator)
}

func splitDescriptions(raw string) []string {
	if raw == "" {
		return nil
	}
	var descs []string
	for _, d := range strings.Split(raw, descriptionSeparator) {
		if d = strings.TrimSpace(d); d != "" {
			descs = append(descs, d)
		}
	}
	return descs
}

func mergeDescriptions(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing)+len(incoming))
	for _, d := range existing {
		seen[d] = true
	}
	for _, d := range incoming {
		if d = strings.TrimSpace(d); d != "" {
			seen[d] = true
		}
	}
	merged := make([]string, 0, len(seen))
	for d := range seen {
		merged = append(merged, d)
	}
	sort.Strings(merged)
	return merged
}
