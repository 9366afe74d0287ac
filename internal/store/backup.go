package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// BackupTo writes a consistent copy of the database to path with
// VACUUM INTO. The target must not exist.
func (s *SQLiteStore) BackupTo(ctx context.Context, path string) error {
	if s.dbPath == ":memory:" {
		return fmt.Errorf("backing up in-memory database: unsupported")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating backup directory: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return fmt.Errorf("writing backup %s: %w", path, err)
	}
	return nil
}

// siblingBackupPath returns {dir}/{base}_{ts}.db next to dbPath, adding a
// _N suffix until the name is free.
func siblingBackupPath(dbPath string, now time.Time) string {
	dir := filepath.Dir(dbPath)
	base := strings.TrimSuffix(filepath.Base(dbPath), filepath.Ext(dbPath))
	stem := fmt.Sprintf("%s_%s", base, now.Format("20060102150405"))
	path := filepath.Join(dir, stem+".db")
	for n := 1; fileExists(path); n++ {
		path = filepath.Join(dir, fmt.Sprintf("%s_%d.db", stem, n))
	}
	return path
}

// rotatedBackupPath returns {backupDir}/{base}.{ts}.bak.
func rotatedBackupPath(backupDir, dbPath string, now time.Time) string {
	stem := fmt.Sprintf("%s.%s", filepath.Base(dbPath), now.Format("20060102-150405"))
	path := filepath.Join(backupDir, stem+".bak")
	for n := 1; fileExists(path); n++ {
		path = filepath.Join(backupDir, fmt.Sprintf("%s-%d.bak", stem, n))
	}
	return path
}

// pruneBackups keeps the newest keep backups of dbPath in backupDir and
// returns the removed paths.
func pruneBackups(backupDir, dbPath string, keep int) ([]string, error) {
	pattern := filepath.Join(backupDir, filepath.Base(dbPath)+".*.bak")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	if len(matches) <= keep {
		return nil, nil
	}
	// the timestamp sorts lexically
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	var removed []string
	for _, m := range matches[keep:] {
		if err := os.Remove(m); err != nil {
			return removed, fmt.Errorf("removing old backup %s: %w", m, err)
		}
		removed = append(removed, m)
	}
	return removed, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
