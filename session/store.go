package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// DefaultSnapshotFile is the snapshot file name used when none is configured.
const DefaultSnapshotFile = "session.json"

// Store persists the session snapshot.
type Store interface {
	// Load returns the stored snapshot, or nil when there is none or it cannot be read.
	Load() *Snapshot
	// Save replaces the stored snapshot.
	Save(s *Snapshot) error
}

// FileStore keeps the snapshot as a JSON document at Path.
type FileStore struct {
	Path string
	log  *zap.Logger
}

// NewFileStore returns a FileStore for path. A nil logger disables logging.
func NewFileStore(path string, log *zap.Logger) *FileStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &FileStore{Path: path, log: log}
}

// Load reads the snapshot. A missing file is a fresh install; an unreadable
// or corrupt one is logged and treated the same way.
func (s *FileStore) Load() *Snapshot {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("session snapshot unreadable, starting empty",
				zap.String("path", s.Path), zap.Error(err))
		}
		return nil
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.log.Warn("session snapshot corrupt, starting empty",
			zap.String("path", s.Path), zap.Error(err))
		return nil
	}
	return &snap
}

// Save writes the snapshot to a temp file and renames it over Path while
// holding the lock file, so readers never observe a partial write.
func (s *FileStore) Save(snap *Snapshot) error {
	if snap == nil {
		return errors.New("snapshot is nil")
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	lock, err := acquireFileLock(s.Path)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() {
		if releaseErr := lock.release(); releaseErr != nil {
			s.log.Warn("failed to release lock", zap.String("path", s.Path), zap.Error(releaseErr))
		}
	}()

	tmp, err := os.CreateTemp(filepath.Dir(s.Path), filepath.Base(s.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.Path); err != nil {
		if removeErr := os.Remove(tmpName); removeErr != nil {
			return fmt.Errorf(
				"failed to rename temp file: %v; additionally failed to remove temp file: %w",
				err,
				removeErr,
			)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
