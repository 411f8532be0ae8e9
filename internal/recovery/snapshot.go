package recovery

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chatdigest/chatdigest/internal/mirror"
	"github.com/chatdigest/chatdigest/internal/store"
)

const (
	backupsDir   = "backups"
	manifestName = "manifest.json"
)

// The database runs in WAL mode, so committed rows may still live in the
// sidecar files next to the main database file. A snapshot that misses them
// would silently lose those rows.
var dbSidecars = []string{"-wal", "-shm"}

// Manifest describes one snapshot.
type Manifest struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Rooms     []string  `json:"rooms"`
}

// Snapshot copies the database file and the mirror trees into a timestamped
// directory under backups/. The running database must be idle (snapshots are
// taken from the backup task, which holds its own exclusive handle). The WAL
// sidecars are copied alongside the database so commits not yet checkpointed
// into the main file survive in the snapshot.
func (e *Engine) Snapshot(dataDir string) (Manifest, error) {
	stamp := time.Now().Format("20060102_150405")
	dest := filepath.Join(dataDir, backupsDir, stamp)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return Manifest{}, fmt.Errorf("creating snapshot directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, store.DBFileName)
	if _, err := os.Stat(dbPath); err == nil {
		if err := copyFile(dbPath, filepath.Join(dest, store.DBFileName)); err != nil {
			return Manifest{}, fmt.Errorf("copying database: %w", err)
		}
		for _, suffix := range dbSidecars {
			side := dbPath + suffix
			if _, err := os.Stat(side); err != nil {
				continue
			}
			if err := copyFile(side, filepath.Join(dest, store.DBFileName+suffix)); err != nil {
				return Manifest{}, fmt.Errorf("copying database sidecar %s: %w", suffix, err)
			}
		}
	}
	for _, tree := range []string{"original", "summary", "url"} {
		src := filepath.Join(e.mirror.Base(), tree)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := copyTree(src, filepath.Join(dest, tree)); err != nil {
			return Manifest{}, fmt.Errorf("copying %s tree: %w", tree, err)
		}
	}

	rooms, err := e.mirror.Rooms()
	if err != nil {
		return Manifest{}, fmt.Errorf("listing rooms for manifest: %w", err)
	}
	manifest := Manifest{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		Rooms:     rooms,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return Manifest{}, fmt.Errorf("marshaling manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dest, manifestName), data, 0o644); err != nil {
		return Manifest{}, fmt.Errorf("writing manifest: %w", err)
	}
	e.logger.Info("snapshot written", "id", manifest.ID, "dir", dest, "rooms", len(rooms))
	return manifest, nil
}

// SnapshotInfo pairs a snapshot directory name with its manifest.
type SnapshotInfo struct {
	Name     string
	Manifest Manifest
}

// ListSnapshots returns the snapshots under dataDir, newest first.
func ListSnapshots(dataDir string) ([]SnapshotInfo, error) {
	entries, err := os.ReadDir(filepath.Join(dataDir, backupsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading backups directory: %w", err)
	}

	var infos []SnapshotInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dataDir, backupsDir, entry.Name(), manifestName))
		if err != nil {
			continue
		}
		var m Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		infos = append(infos, SnapshotInfo{Name: entry.Name(), Manifest: m})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name > infos[j].Name })
	return infos, nil
}

// Restore copies a snapshot's contents back into dataDir. With room == ""
// the whole snapshot is restored including the database file; with a room
// name only that room's mirror directories are restored, and the caller is
// expected to run a rebuild afterwards to realign the database.
func Restore(dataDir, snapshot, room string) error {
	src := filepath.Join(dataDir, backupsDir, snapshot)
	if _, err := os.Stat(filepath.Join(src, manifestName)); err != nil {
		return fmt.Errorf("snapshot %q not found: %w", snapshot, err)
	}

	if room == "" {
		dbSrc := filepath.Join(src, store.DBFileName)
		if _, err := os.Stat(dbSrc); err == nil {
			if err := copyFile(dbSrc, filepath.Join(dataDir, store.DBFileName)); err != nil {
				return fmt.Errorf("restoring database: %w", err)
			}
			// Leftover sidecars from the replaced database must not be
			// replayed into the restored one.
			for _, suffix := range dbSidecars {
				os.Remove(filepath.Join(dataDir, store.DBFileName+suffix))
				sideSrc := dbSrc + suffix
				if _, err := os.Stat(sideSrc); err != nil {
					continue
				}
				if err := copyFile(sideSrc, filepath.Join(dataDir, store.DBFileName+suffix)); err != nil {
					return fmt.Errorf("restoring database sidecar %s: %w", suffix, err)
				}
			}
		}
		for _, tree := range []string{"original", "summary", "url"} {
			treeSrc := filepath.Join(src, tree)
			if _, err := os.Stat(treeSrc); err != nil {
				continue
			}
			if err := copyTree(treeSrc, filepath.Join(dataDir, tree)); err != nil {
				return fmt.Errorf("restoring %s tree: %w", tree, err)
			}
		}
		return nil
	}

	safe := mirror.SanitizeName(room)
	restored := false
	for _, tree := range []string{"original", "summary", "url"} {
		roomSrc := filepath.Join(src, tree, safe)
		if _, err := os.Stat(roomSrc); err != nil {
			continue
		}
		if err := copyTree(roomSrc, filepath.Join(dataDir, tree, safe)); err != nil {
			return fmt.Errorf("restoring %s/%s: %w", tree, safe, err)
		}
		restored = true
	}
	if !restored {
		return fmt.Errorf("room %q not present in snapshot %q", room, snapshot)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		// Skip temp files left by interrupted artifact writes.
		if strings.HasPrefix(d.Name(), ".") && strings.Contains(d.Name(), ".tmp") {
			return nil
		}
		return copyFile(path, target)
	})
}
