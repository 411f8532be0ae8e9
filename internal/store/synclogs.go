package store

import (
	"time"
)

// AddSyncLog appends an audit entry. Sync logs are append-only: no update or
// delete methods exist on purpose.
func (s *Store) AddSyncLog(entry SyncLog) error {
	at := entry.SyncedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO sync_logs (room_id, task_id, status, message_count, new_message_count, error_text, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.RoomID, entry.TaskID, entry.Status, entry.MessageCount, entry.NewMessageCount, entry.ErrorText, formatStamp(at),
	)
	return err
}

// SyncLogsByRoom returns the most recent audit entries for a room.
func (s *Store) SyncLogsByRoom(roomID int64, limit int) ([]SyncLog, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(`
		SELECT id, room_id, task_id, status, message_count, new_message_count, error_text, synced_at
		FROM sync_logs WHERE room_id = ? ORDER BY synced_at DESC, id DESC LIMIT ?`,
		roomID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []SyncLog
	for rows.Next() {
		var l SyncLog
		var syncedAt string
		if err := rows.Scan(&l.ID, &l.RoomID, &l.TaskID, &l.Status, &l.MessageCount, &l.NewMessageCount, &l.ErrorText, &syncedAt); err != nil {
			return nil, err
		}
		if l.SyncedAt, err = parseStamp(syncedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
