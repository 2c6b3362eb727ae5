package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Audit trail defaults. Settlement records are small JSON lines, so the
// audit log rolls over less aggressively than a general application log.
const (
	defaultAuditMaxSizeMB  = 64
	defaultAuditMaxBackups = 5
	defaultAuditMaxAgeDays = 14
)

// auditFileWriter rolls the audit trail over by size, keeps numbered
// backups and prunes backups older than maxAge.
type auditFileWriter struct {
	mu         sync.Mutex
	file       *os.File
	path       string
	maxSize    int64
	maxBackups int
	maxAge     time.Duration
	size       int64
}

func newRotatingWriter(path string, maxSizeMB, maxBackups, maxAgeDays int) (*auditFileWriter, error) {
	if path == "" {
		return nil, errors.New("path is required")
	}
	if maxSizeMB <= 0 {
		maxSizeMB = defaultAuditMaxSizeMB
	}
	if maxBackups <= 0 {
		maxBackups = defaultAuditMaxBackups
	}
	if maxAgeDays <= 0 {
		maxAgeDays = defaultAuditMaxAgeDays
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	return &auditFileWriter{
		path:       path,
		maxSize:    int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
		maxAge:     time.Duration(maxAgeDays) * 24 * time.Hour,
	}, nil
}

func (w *auditFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureFile(); err != nil {
		return 0, err
	}
	if w.maxSize > 0 && w.size+int64(len(p)) > w.maxSize {
		if err := w.rollover(); err != nil {
			return 0, err
		}
		if err := w.ensureFile(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *auditFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	w.size = 0
	return err
}

func (w *auditFileWriter) ensureFile() error {
	if w.file != nil {
		return nil
	}
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat audit log: %w", err)
	}
	w.file = file
	w.size = info.Size()
	return nil
}

// rollover shifts path.1..path.N up by one slot and moves the live file
// into path.1. The oldest backup beyond maxBackups falls off the end.
func (w *auditFileWriter) rollover() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	w.size = 0

	if w.maxBackups <= 0 {
		_ = os.Remove(w.path)
		return nil
	}
	for i := w.maxBackups - 1; i >= 1; i-- {
		src := w.backupPath(i)
		if _, err := os.Stat(src); err == nil {
			_ = os.Rename(src, w.backupPath(i+1))
		}
	}
	if _, err := os.Stat(w.path); err == nil {
		_ = os.Rename(w.path, w.backupPath(1))
	}

	w.pruneExpired()
	return nil
}

func (w *auditFileWriter) backupPath(n int) string {
	return fmt.Sprintf("%s.%d", w.path, n)
}

func (w *auditFileWriter) pruneExpired() {
	if w.maxAge <= 0 {
		return
	}
	cutoff := time.Now().Add(-w.maxAge)
	for i := 1; i <= w.maxBackups; i++ {
		info, err := os.Stat(w.backupPath(i))
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(w.backupPath(i))
		}
	}
}
