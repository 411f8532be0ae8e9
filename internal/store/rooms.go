package store

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateRoom inserts a new room and returns it with its assigned id.
func (s *Store) CreateRoom(name, filePath string) (Room, error) {
	now := time.Now()
	res, err := s.db.Exec(`
		INSERT INTO rooms (name, file_path, created_at)
		VALUES (?, ?, ?)`,
		name, filePath, formatStamp(now),
	)
	if err != nil {
		return Room{}, fmt.Errorf("inserting room: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Room{}, err
	}
	return Room{ID: id, Name: name, FilePath: filePath, CreatedAt: now}, nil
}

const roomColumns = "id, name, file_path, participant_count, last_sync_at, created_at"

func scanRoom(row interface{ Scan(...any) error }) (Room, error) {
	var r Room
	var lastSync sql.NullString
	var createdAt string
	if err := row.Scan(&r.ID, &r.Name, &r.FilePath, &r.ParticipantCount, &lastSync, &createdAt); err != nil {
		return Room{}, err
	}
	var err error
	if r.CreatedAt, err = parseStamp(createdAt); err != nil {
		return Room{}, err
	}
	if lastSync.Valid {
		if r.LastSyncAt, err = parseStamp(lastSync.String); err != nil {
			return Room{}, err
		}
	}
	return r, nil
}

// GetRoom returns the room with the given id, or ErrNotFound.
func (s *Store) GetRoom(id int64) (Room, error) {
	row := s.db.QueryRow("SELECT "+roomColumns+" FROM rooms WHERE id = ?", id)
	r, err := scanRoom(row)
	if err == sql.ErrNoRows {
		return Room{}, ErrNotFound
	}
	return r, err
}

// GetRoomByName returns the room with the given name, or ErrNotFound.
func (s *Store) GetRoomByName(name string) (Room, error) {
	row := s.db.QueryRow("SELECT "+roomColumns+" FROM rooms WHERE name = ?", name)
	r, err := scanRoom(row)
	if err == sql.ErrNoRows {
		return Room{}, ErrNotFound
	}
	return r, err
}

// ListRooms returns all rooms ordered by message count, busiest first.
func (s *Store) ListRooms() ([]Room, error) {
	rows, err := s.db.Query(`
		SELECT ` + roomColumns + ` FROM rooms
		LEFT JOIN (SELECT room_id, COUNT(*) AS msg_count FROM messages GROUP BY room_id) mc
			ON rooms.id = mc.room_id
		ORDER BY COALESCE(mc.msg_count, 0) DESC, rooms.name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

// TouchRoomSync records a successful sync time on the room.
func (s *Store) TouchRoomSync(id int64, at time.Time) error {
	res, err := s.db.Exec("UPDATE rooms SET last_sync_at = ? WHERE id = ?", formatStamp(at), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RefreshParticipantCount recomputes the cached participant counter from the
// distinct senders seen in the room's messages.
func (s *Store) RefreshParticipantCount(id int64) error {
	_, err := s.db.Exec(`
		UPDATE rooms
		SET participant_count = (SELECT COUNT(DISTINCT sender) FROM messages WHERE room_id = ?)
		WHERE id = ?`, id, id)
	return err
}

// DeleteRoom removes a room and, through foreign keys, every message, summary,
// sync log, and url that belongs to it.
func (s *Store) DeleteRoom(id int64) error {
	res, err := s.db.Exec("DELETE FROM rooms WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RoomStats aggregates counters for one room.
func (s *Store) RoomStats(id int64) (RoomStats, error) {
	room, err := s.GetRoom(id)
	if err != nil {
		return RoomStats{}, err
	}

	stats := RoomStats{RoomName: room.Name, LastSyncAt: room.LastSyncAt}

	if err := s.db.QueryRow(
		"SELECT COUNT(*), COUNT(DISTINCT sender) FROM messages WHERE room_id = ?", id,
	).Scan(&stats.TotalMessages, &stats.UniqueSenders); err != nil {
		return RoomStats{}, fmt.Errorf("counting messages: %w", err)
	}

	var first, last sql.NullString
	if err := s.db.QueryRow(
		"SELECT MIN(message_date), MAX(message_date) FROM messages WHERE room_id = ?", id,
	).Scan(&first, &last); err != nil {
		return RoomStats{}, fmt.Errorf("querying date range: %w", err)
	}
	if first.Valid {
		if stats.FirstDate, err = parseDate(first.String); err != nil {
			return RoomStats{}, err
		}
	}
	if last.Valid {
		if stats.LastDate, err = parseDate(last.String); err != nil {
			return RoomStats{}, err
		}
	}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM summaries WHERE room_id = ?", id).Scan(&stats.SummaryCount); err != nil {
		return RoomStats{}, fmt.Errorf("counting summaries: %w", err)
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM urls WHERE room_id = ?", id).Scan(&stats.URLCount); err != nil {
		return RoomStats{}, fmt.Errorf("counting urls: %w", err)
	}

	return stats, nil
}
