package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ReplaceSummary is the only write path for summaries: it deletes any existing
// row for (room, date, kind) and inserts the new one in a single transaction,
// so at most one current summary exists per key.
func (s *Store) ReplaceSummary(sum Summary) (Summary, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return Summary{}, fmt.Errorf("beginning summary replace: %w", err)
	}
	defer tx.Rollback()

	date := formatDate(sum.SummaryDate)
	if _, err := tx.Exec(
		"DELETE FROM summaries WHERE room_id = ? AND summary_date = ? AND kind = ?",
		sum.RoomID, date, sum.Kind,
	); err != nil {
		return Summary{}, fmt.Errorf("deleting prior summary: %w", err)
	}

	now := time.Now()
	res, err := tx.Exec(`
		INSERT INTO summaries (room_id, summary_date, kind, content, provider, token_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sum.RoomID, date, sum.Kind, sum.Content, sum.Provider, sum.TokenCount, formatStamp(now),
	)
	if err != nil {
		return Summary{}, fmt.Errorf("inserting summary: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Summary{}, err
	}
	if err := tx.Commit(); err != nil {
		return Summary{}, fmt.Errorf("committing summary replace: %w", err)
	}

	sum.ID = id
	sum.CreatedAt = now
	return sum, nil
}

const summaryColumns = "id, room_id, summary_date, kind, content, provider, token_count, created_at"

func scanSummary(row interface{ Scan(...any) error }) (Summary, error) {
	var sum Summary
	var date, createdAt string
	if err := row.Scan(&sum.ID, &sum.RoomID, &date, &sum.Kind, &sum.Content, &sum.Provider, &sum.TokenCount, &createdAt); err != nil {
		return Summary{}, err
	}
	var err error
	if sum.SummaryDate, err = parseDate(date); err != nil {
		return Summary{}, err
	}
	if sum.CreatedAt, err = parseStamp(createdAt); err != nil {
		return Summary{}, err
	}
	return sum, nil
}

// GetSummary returns the summary for (room, date, kind), or ErrNotFound.
func (s *Store) GetSummary(roomID int64, date time.Time, kind string) (Summary, error) {
	row := s.db.QueryRow(
		"SELECT "+summaryColumns+" FROM summaries WHERE room_id = ? AND summary_date = ? AND kind = ?",
		roomID, formatDate(date), kind,
	)
	sum, err := scanSummary(row)
	if err == sql.ErrNoRows {
		return Summary{}, ErrNotFound
	}
	return sum, err
}

// SummariesByRoom returns a room's summaries, newest date first. An empty kind
// returns all kinds.
func (s *Store) SummariesByRoom(roomID int64, kind string) ([]Summary, error) {
	query := "SELECT " + summaryColumns + " FROM summaries WHERE room_id = ?"
	args := []any{roomID}
	if kind != "" {
		query += " AND kind = ?"
		args = append(args, kind)
	}
	query += " ORDER BY summary_date DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sums []Summary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		sums = append(sums, sum)
	}
	return sums, rows.Err()
}

// DeleteSummary removes the row for (room, date, kind). Returns true when a
// row existed. Used by invalidation so a regeneration can insert fresh.
func (s *Store) DeleteSummary(roomID int64, date time.Time, kind string) (bool, error) {
	res, err := s.db.Exec(
		"DELETE FROM summaries WHERE room_id = ? AND summary_date = ? AND kind = ?",
		roomID, formatDate(date), kind,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CountSummaries returns how many rows exist for (room, date, kind). Test and
// consistency-check helper backing the one-current-row invariant.
func (s *Store) CountSummaries(roomID int64, date time.Time, kind string) (int, error) {
	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM summaries WHERE room_id = ? AND summary_date = ? AND kind = ?",
		roomID, formatDate(date), kind,
	).Scan(&n)
	return n, err
}
