package logging

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const cleanerInterval = time.Minute

var cleanerCancel context.CancelFunc

func restartCleanerLocked(logDir string, maxTotalSizeMB int, activePath string) {
	stopCleanerLocked()

	dir := strings.TrimSpace(logDir)
	if maxTotalSizeMB <= 0 || dir == "" {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	cleanerCancel = cancel
	go runCleaner(ctx, filepath.Clean(dir), int64(maxTotalSizeMB)<<20, activePath)
}

func stopCleanerLocked() {
	if cleanerCancel != nil {
		cleanerCancel()
		cleanerCancel = nil
	}
}

func runCleaner(ctx context.Context, logDir string, maxBytes int64, activePath string) {
	ticker := time.NewTicker(cleanerInterval)
	defer ticker.Stop()

	for {
		removed, err := trimLogDir(logDir, maxBytes, activePath)
		if err != nil {
			log.WithError(err).Warn("logging: failed to enforce log directory size limit")
		} else if removed > 0 {
			log.Debugf("logging: removed %d old log file(s)", removed)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type logFileInfo struct {
	path    string
	size    int64
	modTime time.Time
}

// trimLogDir deletes the oldest log files in logDir until their total size is
// at most maxBytes. activePath is never deleted.
func trimLogDir(logDir string, maxBytes int64, activePath string) (int, error) {
	if maxBytes <= 0 || strings.TrimSpace(logDir) == "" {
		return 0, nil
	}

	entries, err := os.ReadDir(logDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	var (
		files []logFileInfo
		total int64
	)
	for _, entry := range entries {
		if entry.IsDir() || !isLogFileName(entry.Name()) {
			continue
		}
		info, errInfo := entry.Info()
		if errInfo != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, logFileInfo{
			path:    filepath.Join(logDir, entry.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
		total += info.Size()
	}
	if total <= maxBytes {
		return 0, nil
	}

	slices.SortFunc(files, func(a, b logFileInfo) int {
		return a.modTime.Compare(b.modTime)
	})

	if activePath != "" {
		activePath = filepath.Clean(activePath)
	}
	removed := 0
	for _, file := range files {
		if total <= maxBytes {
			break
		}
		if file.path == activePath {
			continue
		}
		if errRemove := os.Remove(file.path); errRemove != nil {
			log.WithError(errRemove).Warnf("logging: failed to remove %s", filepath.Base(file.path))
			continue
		}
		total -= file.size
		removed++
	}
	return removed, nil
}

func isLogFileName(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	return strings.HasSuffix(lower, ".log") || strings.HasSuffix(lower, ".log.gz")
}
