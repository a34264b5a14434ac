// File: storage/storage.go
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"quantum-voting/models"
)

const (
	snapshotPattern    = "ledger_snapshot_*.json"
	snapshotTimeFormat = "20060102150405.000000000"

	DefaultSnapshotKeep = 5
)

var ErrNoSnapshot = errors.New("no ledger snapshot found")

// SnapshotStore writes the audit ledger to timestamped JSON files and keeps
// only the most recent ones.
type SnapshotStore struct {
	dataDir string
	keep    int
	mutex   sync.RWMutex
	logger  *logrus.Logger
}

type snapshotFile struct {
	path      string
	timestamp int64
}

type snapshotFiles []snapshotFile

func (f snapshotFiles) Len() int           { return len(f) }
func (f snapshotFiles) Less(i, j int) bool { return f[i].timestamp < f[j].timestamp }
func (f snapshotFiles) Swap(i, j int)      { f[i], f[j] = f[j], f[i] }

func NewSnapshotStore(dataDir string, keep int, logger *logrus.Logger) (*SnapshotStore, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if keep <= 0 {
		keep = DefaultSnapshotKeep
	}

	absPath, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return &SnapshotStore{
		dataDir: absPath,
		keep:    keep,
		logger:  logger,
	}, nil
}

// Save writes entries to a new snapshot file and prunes old ones.
func (s *SnapshotStore) Save(entries []models.LedgerEntry) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if len(entries) == 0 {
		return "", fmt.Errorf("cannot save empty ledger")
	}

	data, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return "", fmt.Errorf("failed to encode ledger: %w", err)
	}

	timestamp := time.Now().UTC().Format(snapshotTimeFormat)
	path := filepath.Join(s.dataDir, fmt.Sprintf("ledger_snapshot_%s.json", timestamp))

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to save snapshot: %w", err)
	}

	if err := s.cleanupOldFiles(); err != nil {
		s.logger.WithError(err).Warn("Failed to cleanup old snapshots")
	}

	s.logger.WithFields(logrus.Fields{
		"entries": len(entries),
		"file":    filepath.Base(path),
	}).Info("Ledger snapshot saved")
	return path, nil
}

// LoadLatest reads the most recent snapshot.
func (s *SnapshotStore) LoadLatest() ([]models.LedgerEntry, string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	files, err := s.listSnapshots()
	if err != nil {
		return nil, "", err
	}
	if len(files) == 0 {
		return nil, "", ErrNoSnapshot
	}
	latest := files[len(files)-1].path

	data, err := os.ReadFile(latest)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read snapshot %s: %w", latest, err)
	}

	var entries []models.LedgerEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, "", fmt.Errorf("failed to decode snapshot %s: %w", latest, err)
	}
	return entries, latest, nil
}

// List returns snapshot paths, oldest first.
func (s *SnapshotStore) List() ([]string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	files, err := s.listSnapshots()
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths, nil
}

func (s *SnapshotStore) listSnapshots() (snapshotFiles, error) {
	matches, err := filepath.Glob(filepath.Join(s.dataDir, snapshotPattern))
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	var files snapshotFiles
	for _, file := range matches {
		base := filepath.Base(file)
		stamp := strings.TrimSuffix(strings.TrimPrefix(base, "ledger_snapshot_"), ".json")
		timestamp, err := time.Parse(snapshotTimeFormat, stamp)
		if err != nil {
			s.logger.WithField("file", base).Warn("Invalid timestamp in snapshot filename")
			continue
		}
		files = append(files, snapshotFile{path: file, timestamp: timestamp.UnixNano()})
	}

	sort.Sort(files)
	return files, nil
}

func (s *SnapshotStore) cleanupOldFiles() error {
	files, err := s.listSnapshots()
	if err != nil {
		return err
	}
	if len(files) <= s.keep {
		return nil
	}

	for i := 0; i < len(files)-s.keep; i++ {
		if err := os.Remove(files[i].path); err != nil {
			s.logger.WithError(err).WithField("file", filepath.Base(files[i].path)).Warn("Failed to remove old snapshot")
		}
	}
	return nil
}
