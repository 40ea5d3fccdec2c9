// internal/browser/session/snapshot.go
package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

const snapshotTimeout = 15 * time.Second

// SnapshotConfig controls failure screenshots.
type SnapshotConfig struct {
	Enabled bool
	Dir     string
}

type snapshotSource interface {
	Screenshot(ctx context.Context) ([]byte, error)
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
}

// SnapshotName is the file name a snapshot taken at now with tag gets.
func SnapshotName(now time.Time, tag string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, tag)
	return fmt.Sprintf("worker_%d_%s.png", now.Unix(), clean)
}

// WriteSnapshot stores a PNG of src in dir and logs its path together with
// the page URL and title. It returns the path, or "" when nothing was
// written.
func WriteSnapshot(ctx context.Context, src snapshotSource, dir, tag string, now time.Time, logger *zap.Logger) string {
	ctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()

	var path string
	if png, err := src.Screenshot(ctx); err != nil {
		logger.Debug("Snapshot capture failed", zap.String("tag", tag), zap.Error(err))
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Debug("Snapshot dir unavailable", zap.String("dir", dir), zap.Error(err))
	} else {
		p := filepath.Join(dir, SnapshotName(now, tag))
		if err := os.WriteFile(p, png, 0o644); err != nil {
			logger.Debug("Snapshot write failed", zap.String("path", p), zap.Error(err))
		} else {
			path = p
			logger.Info("SNAP", zap.String("path", p))
		}
	}

	u, _ := src.URL(ctx)
	title, _ := src.Title(ctx)
	logger.Info("Page state", zap.String("tag", tag), zap.String("url", u), zap.String("title", title))
	return path
}
