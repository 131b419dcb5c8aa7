package backup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spideyz0r/clipdav/pkg/crypto"
)

const (
	filePrefix      = "clipboard-"
	plainSuffix     = ".db"
	encryptedSuffix = ".db.enc"
	timestampLayout = "20060102-150405.000"
)

var sqliteHeader = []byte("SQLite format 3\x00")

// Snapshotter writes a consistent copy of a live database to dst.
type Snapshotter interface {
	Snapshot(ctx context.Context, dst string) error
}

// BackupInfo contains information about a backup file
type BackupInfo struct {
	Path      string
	Filename  string
	Hostname  string
	Timestamp time.Time
	Size      int64
	Encrypted bool
}

// Options controls Run and Schedule.
type Options struct {
	Dir        string
	Keep       int    // 0 keeps every backup
	Passphrase string // empty writes plain SQLite files
}

// Create writes a snapshot of the database into backupDir, encrypted when a
// passphrase is given.
func Create(ctx context.Context, src Snapshotter, backupDir, passphrase string) (*BackupInfo, error) {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "unknown"
	}

	if err := os.MkdirAll(backupDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	// VACUUM INTO refuses an existing target, so snapshot into a fresh dir
	tmpDir, err := os.MkdirTemp(backupDir, ".snapshot-")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	staged := filepath.Join(tmpDir, "clipboard.db")
	if err := src.Snapshot(ctx, staged); err != nil {
		return nil, fmt.Errorf("failed to snapshot database: %w", err)
	}

	now := time.Now().UTC()
	suffix := plainSuffix
	if passphrase != "" {
		suffix = encryptedSuffix
	}
	filename := filePrefix + hostname + "-" + now.Format(timestampLayout) + suffix
	backupPath := filepath.Join(backupDir, filename)

	if passphrase != "" {
		if err := crypto.EncryptFile(staged, backupPath, passphrase); err != nil {
			return nil, fmt.Errorf("failed to encrypt backup: %w", err)
		}
	} else if err := os.Rename(staged, backupPath); err != nil {
		return nil, fmt.Errorf("failed to move backup into place: %w", err)
	}

	stat, err := os.Stat(backupPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat backup file: %w", err)
	}

	return &BackupInfo{
		Path:      backupPath,
		Filename:  filename,
		Hostname:  hostname,
		Timestamp: now,
		Size:      stat.Size(),
		Encrypted: passphrase != "",
	}, nil
}

// List returns all backup files in the backup directory, sorted by timestamp (newest first)
func List(backupDir string) ([]*BackupInfo, error) {
	if _, err := os.Stat(backupDir); os.IsNotExist(err) {
		return []*BackupInfo{}, nil
	}

	entries, err := os.ReadDir(backupDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	backups := []*BackupInfo{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := parseBackupFilename(entry.Name())
		if err != nil {
			// Skip files that don't match expected format
			continue
		}

		info.Path = filepath.Join(backupDir, entry.Name())
		if fileInfo, err := entry.Info(); err == nil {
			info.Size = fileInfo.Size()
		}

		backups = append(backups, info)
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})

	return backups, nil
}

// parseBackupFilename parses a backup filename and extracts metadata
// Expected format: clipboard-{hostname}-{timestamp}.db[.enc]
// Example: clipboard-nas-01-20240101-120000.000.db.enc
func parseBackupFilename(filename string) (*BackupInfo, error) {
	if !strings.HasPrefix(filename, filePrefix) {
		return nil, fmt.Errorf("invalid backup filename format: %s", filename)
	}

	var name string
	var encrypted bool
	switch {
	case strings.HasSuffix(filename, encryptedSuffix):
		name, encrypted = strings.TrimSuffix(filename, encryptedSuffix), true
	case strings.HasSuffix(filename, plainSuffix):
		name = strings.TrimSuffix(filename, plainSuffix)
	default:
		return nil, fmt.Errorf("invalid backup filename format: %s", filename)
	}
	name = strings.TrimPrefix(name, filePrefix)

	// Hostnames may contain dashes; the timestamp has a fixed width
	if len(name) < len(timestampLayout)+2 || name[len(name)-len(timestampLayout)-1] != '-' {
		return nil, fmt.Errorf("invalid backup filename format: %s", filename)
	}
	hostname := name[:len(name)-len(timestampLayout)-1]
	timestamp, err := time.Parse(timestampLayout, name[len(name)-len(timestampLayout):])
	if err != nil {
		return nil, fmt.Errorf("failed to parse timestamp in filename: %w", err)
	}

	return &BackupInfo{
		Filename:  filename,
		Hostname:  hostname,
		Timestamp: timestamp,
		Encrypted: encrypted,
	}, nil
}

// Rotate removes old backups, keeping only the N most recent. It returns the
// removed backups.
func Rotate(backupDir string, keepCount int) ([]*BackupInfo, error) {
	if keepCount <= 0 {
		// 0 or negative means keep all backups
		return nil, nil
	}

	backups, err := List(backupDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	if len(backups) <= keepCount {
		return nil, nil
	}

	toDelete := backups[keepCount:]
	for _, backup := range toDelete {
		if err := os.Remove(backup.Path); err != nil {
			return nil, fmt.Errorf("failed to remove old backup %s: %w", backup.Filename, err)
		}
	}

	return toDelete, nil
}

// Restore writes the database held by a backup to dstPath, decrypting it when
// needed. dstPath is replaced atomically and only once the content is known to
// be a SQLite database.
func Restore(backupPath, dstPath, passphrase string) error {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return fmt.Errorf("failed to read backup: %w", err)
	}

	if crypto.IsEncrypted(data) {
		if passphrase == "" {
			return fmt.Errorf("backup is encrypted: passphrase required")
		}
		if data, err = crypto.Decrypt(data, passphrase); err != nil {
			return fmt.Errorf("failed to decrypt backup: %w", err)
		}
	}

	if !bytes.HasPrefix(data, sqliteHeader) {
		return fmt.Errorf("backup does not contain a SQLite database")
	}

	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dstPath), ".restore-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write database: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write database: %w", err)
	}

	// Stale WAL files would be replayed over the restored database
	for _, ext := range []string{"-wal", "-shm"} {
		if err := os.Remove(dstPath + ext); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", dstPath+ext, err)
		}
	}

	if err := os.Rename(tmp.Name(), dstPath); err != nil {
		return fmt.Errorf("failed to replace database: %w", err)
	}

	return nil
}

// Run creates one backup and rotates the directory.
func Run(ctx context.Context, src Snapshotter, opts Options) (*BackupInfo, error) {
	info, err := Create(ctx, src, opts.Dir, opts.Passphrase)
	if err != nil {
		return nil, err
	}
	if _, err := Rotate(opts.Dir, opts.Keep); err != nil {
		return info, err
	}
	return info, nil
}

// Schedule runs a backup every interval until ctx is done.
func Schedule(ctx context.Context, interval time.Duration, src Snapshotter, opts Options, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := Run(ctx, src, opts)
			if err != nil {
				logger.Error("scheduled backup failed", "dir", opts.Dir, "error", err)
				continue
			}
			logger.Info("backup created", "path", info.Path, "size", info.Size, "encrypted", info.Encrypted)
		}
	}
}
