package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// DefaultBackupKeep is how many reset backups InitDB retains.
const DefaultBackupKeep = 3

// InitOptions configures InitDB.
type InitOptions struct {
	DBPath string
	// Reset backs up and removes an existing database before recreating it.
	Reset bool
	// BackupDir defaults to a backups directory next to the database.
	BackupDir string
	Keep      int
	Now       func() time.Time
	Logger    *zap.Logger
}

// InitReport describes what InitDB did.
type InitReport struct {
	DBPath        string   `json:"db_path"`
	ExistedBefore bool     `json:"existed_before"`
	DidReset      bool     `json:"did_reset"`
	BackupPath    string   `json:"backup_path,omitempty"`
	Counts        *Counts  `json:"counts"`
	Logs          []string `json:"logs"`
}

// InitDB applies the schema to the database at opts.DBPath, optionally
// resetting it first.
func InitDB(ctx context.Context, opts InitOptions) (*InitReport, error) {
	if opts.Keep <= 0 {
		opts.Keep = DefaultBackupKeep
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	path, err := filepath.Abs(ExpandPath(opts.DBPath))
	if err != nil {
		return nil, fmt.Errorf("resolving db path: %w", err)
	}
	if opts.BackupDir == "" {
		opts.BackupDir = filepath.Join(filepath.Dir(path), "backups")
	}

	report := &InitReport{DBPath: path, ExistedBefore: fileExists(path), Logs: []string{}}
	logf := func(format string, args ...any) {
		line := fmt.Sprintf(format, args...)
		report.Logs = append(report.Logs, line)
		opts.Logger.Info(line)
	}

	if opts.Reset && report.ExistedBefore {
		s, err := NewStore(StoreConfig{DBPath: path, Logger: opts.Logger})
		if err != nil {
			return nil, err
		}
		backup := rotatedBackupPath(opts.BackupDir, path, opts.Now())
		err = s.BackupTo(ctx, backup)
		s.Close()
		if err != nil {
			return nil, err
		}
		report.BackupPath = backup
		logf("Backup created: %s", backup)

		removed, err := pruneBackups(opts.BackupDir, path, opts.Keep)
		if err != nil {
			return nil, err
		}
		for _, r := range removed {
			logf("Old backup removed: %s", r)
		}

		for _, p := range []string{path, path + "-wal", path + "-shm"} {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("removing %s: %w", p, err)
			}
		}
		report.DidReset = true
		logf("Removed existing database: %s", path)
	}

	s, err := NewStore(StoreConfig{DBPath: path, Logger: opts.Logger})
	if err != nil {
		return nil, err
	}
	defer s.Close()
	logf("Schema applied: %s", path)

	if report.Counts, err = s.Counts(ctx); err != nil {
		return nil, err
	}
	return report, nil
}
