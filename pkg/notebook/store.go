package notebook

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/jonboulle/clockwork"
)

const backupTimeLayout = "20060102_150405"

// Store loads and saves notebook documents. Every save over an existing file
// first writes a timestamped backup next to it.
type Store struct {
	clock clockwork.Clock
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock sets the clock used for backup timestamps.
func WithClock(c clockwork.Clock) StoreOption {
	return func(s *Store) { s.clock = c }
}

// NewStore creates a Store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{clock: clockwork.NewRealClock()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Load reads and normalizes the document at path.
func (s *Store) Load(path string) (*Notebook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrDocumentLoad, path, err)
	}
	nb, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDocumentLoad, path, err)
	}
	return nb, nil
}

// Save atomically replaces path with nb. It returns the backup path written,
// or "" when path did not exist yet.
//
// Backups have second resolution. Two saves within the same second write
// the same backup name and the later one wins.
func (s *Store) Save(nb *Notebook, path string) (string, error) {
	data, err := Encode(nb)
	if err != nil {
		return "", fmt.Errorf("%w: encoding %s: %w", ErrPersistence, path, err)
	}

	var backup string
	if _, err := os.Stat(path); err == nil {
		if backup, err = s.Backup(path); err != nil {
			return "", err
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: stat %s: %w", ErrPersistence, path, err)
	}

	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return backup, fmt.Errorf("%w: writing %s: %w", ErrPersistence, path, err)
	}
	slog.Debug("Notebook saved", "path", path, "cells", nb.Len(), "backup", backup)
	return backup, nil
}

// Backup copies path to a timestamped sibling and returns the copy's path.
func (s *Store) Backup(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: backup source %s: %w", ErrPersistence, path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: reading %s: %w", ErrPersistence, path, err)
	}
	dst := BackupPath(path, s.clock.Now())
	if err := renameio.WriteFile(dst, data, info.Mode().Perm()); err != nil {
		return "", fmt.Errorf("%w: writing backup %s: %w", ErrPersistence, dst, err)
	}
	return dst, nil
}

// BackupPath returns {stem}_backup_{YYYYMMDD_HHMMSS}{ext} next to path.
func BackupPath(path string, t time.Time) string {
	dir, base := filepath.Split(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, stem+"_backup_"+t.Format(backupTimeLayout)+ext)
}
