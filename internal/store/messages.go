package store

import (
	"fmt"
	"time"
)

const messageBatchSize = 500

// AddMessages inserts a batch of messages for a room, skipping any that
// collide on the composite uniqueness key (room, sender, date, time, content).
// Returns the number of rows actually inserted. Batches are committed in
// chunks so a huge export does not hold one transaction open for its entirety.
func (s *Store) AddMessages(roomID int64, msgs []Message) (int, error) {
	inserted := 0
	now := formatStamp(time.Now())

	for start := 0; start < len(msgs); start += messageBatchSize {
		end := min(start+messageBatchSize, len(msgs))

		tx, err := s.db.Begin()
		if err != nil {
			return inserted, fmt.Errorf("beginning message batch: %w", err)
		}
		stmt, err := tx.Prepare(`
			INSERT OR IGNORE INTO messages
				(room_id, sender, content, message_date, message_time, raw_line, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			tx.Rollback()
			return inserted, fmt.Errorf("preparing message insert: %w", err)
		}

		for _, m := range msgs[start:end] {
			res, err := stmt.Exec(roomID, m.Sender, m.Content, formatDate(m.MessageDate), m.MessageTime, m.RawLine, now)
			if err != nil {
				stmt.Close()
				tx.Rollback()
				return inserted, fmt.Errorf("inserting message: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				stmt.Close()
				tx.Rollback()
				return inserted, err
			}
			inserted += int(n)
		}

		stmt.Close()
		if err := tx.Commit(); err != nil {
			return inserted, fmt.Errorf("committing message batch: %w", err)
		}
	}

	return inserted, nil
}

const messageColumns = "id, room_id, sender, content, message_date, message_time, raw_line, created_at"

func scanMessage(row interface{ Scan(...any) error }) (Message, error) {
	var m Message
	var date, createdAt string
	if err := row.Scan(&m.ID, &m.RoomID, &m.Sender, &m.Content, &date, &m.MessageTime, &m.RawLine, &createdAt); err != nil {
		return Message{}, err
	}
	var err error
	if m.MessageDate, err = parseDate(date); err != nil {
		return Message{}, err
	}
	if m.CreatedAt, err = parseStamp(createdAt); err != nil {
		return Message{}, err
	}
	return m, nil
}

// MessagesByRoom returns a room's messages ordered by date and time.
// Zero start/end leave the respective bound open.
func (s *Store) MessagesByRoom(roomID int64, start, end time.Time) ([]Message, error) {
	query := "SELECT " + messageColumns + " FROM messages WHERE room_id = ?"
	args := []any{roomID}
	if !start.IsZero() {
		query += " AND message_date >= ?"
		args = append(args, formatDate(start))
	}
	if !end.IsZero() {
		query += " AND message_date <= ?"
		args = append(args, formatDate(end))
	}
	query += " ORDER BY message_date, message_time, id"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// CountMessages returns the total message count for a room.
func (s *Store) CountMessages(roomID int64) (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM messages WHERE room_id = ?", roomID).Scan(&n)
	return n, err
}

// CountMessagesByDate returns the message count for one (room, date).
func (s *Store) CountMessagesByDate(roomID int64, date time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM messages WHERE room_id = ? AND message_date = ?",
		roomID, formatDate(date),
	).Scan(&n)
	return n, err
}

// UniqueSenders returns the distinct senders seen in a room.
func (s *Store) UniqueSenders(roomID int64) ([]string, error) {
	rows, err := s.db.Query(
		"SELECT DISTINCT sender FROM messages WHERE room_id = ? AND sender != '' ORDER BY sender", roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var senders []string
	for rows.Next() {
		var sender string
		if err := rows.Scan(&sender); err != nil {
			return nil, err
		}
		senders = append(senders, sender)
	}
	return senders, rows.Err()
}

// MessageDates returns the distinct dates a room has messages for, ascending.
func (s *Store) MessageDates(roomID int64) ([]time.Time, error) {
	rows, err := s.db.Query(
		"SELECT DISTINCT message_date FROM messages WHERE room_id = ? ORDER BY message_date", roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		d, err := parseDate(raw)
		if err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}
