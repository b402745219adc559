package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mmr-tortoise/stagehand/internal/ctxlog"
	"github.com/mmr-tortoise/stagehand/internal/plan"
)

// Key derives the archive identity for one cached directory of one job.
// Different repositories, jobs, or directories never share an archive.
func Key(repoRoot, job, dir string) string {
	sum := sha256.Sum256([]byte(repoRoot + "\x00" + job + "\x00" + dir))
	return hex.EncodeToString(sum[:])[:16]
}

// DefaultDir returns the per-user cache root.
func DefaultDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine cache directory: %w", err)
	}
	return filepath.Join(base, "stagehand"), nil
}

// Manager owns a cache root: tarballs under archives/, the badger index
// under index/.
type Manager struct {
	root string
	idx  *Index
}

// Open prepares the cache root and its index.
func Open(root string) (*Manager, error) {
	if err := os.MkdirAll(filepath.Join(root, "archives"), 0o755); err != nil {
		return nil, fmt.Errorf("creating cache root: %w", err)
	}
	idx, err := OpenIndex(filepath.Join(root, "index"))
	if err != nil {
		return nil, err
	}
	return &Manager{root: root, idx: idx}, nil
}

// Close releases the index.
func (m *Manager) Close() {
	m.idx.Close()
}

func (m *Manager) archivePath(key string) string {
	return filepath.Join(m.root, "archives", key+".tar.gz")
}

// Restore unpacks every cached directory the job declares. It reports
// whether anything was restored; misses are not errors, and a corrupt
// archive is discarded and treated as a miss. Only context cancellation
// aborts it.
func (m *Manager) Restore(ctx context.Context, job *plan.Job, repoRoot string) (bool, error) {
	log := ctxlog.FromContext(ctx)

	hit := false
	for _, dir := range job.CacheDirs {
		if err := ctx.Err(); err != nil {
			return hit, err
		}

		key := Key(repoRoot, job.Name, dir)
		archive := m.archivePath(key)
		if _, err := os.Stat(archive); err != nil {
			log.Debug("cache miss", "job", job.Name, "dir", dir)
			continue
		}

		dest := ExpandPath(dir)
		if err := Unpack(archive, dest); err != nil {
			// Self-heal: a cache that cannot be unpacked is worthless,
			// and the next save will rebuild it.
			log.Warn("discarding corrupt cache archive", "job", job.Name, "dir", dir, "error", err)
			_ = os.Remove(archive)
			_ = m.idx.Delete(key)
			continue
		}

		log.Debug("cache restored", "job", job.Name, "dir", dir)
		hit = true

		entry, found, err := m.idx.Get(key)
		if err != nil || !found {
			entry = Entry{Key: key, Job: job.Name, Dir: dir, CreatedAt: time.Now()}
		}
		entry.Hits++
		entry.LastUsedAt = time.Now()
		if fi, err := os.Stat(archive); err == nil {
			entry.Size = fi.Size()
		}
		if err := m.idx.Put(entry); err != nil {
			log.Warn("failed to update cache index", "key", key, "error", err)
		}
	}
	return hit, nil
}

// Save packs every cached directory that exists after a passing job.
// Archives are written to a temporary file and renamed, so a crash never
// leaves a truncated archive under a live key.
func (m *Manager) Save(ctx context.Context, job *plan.Job, repoRoot string) error {
	log := ctxlog.FromContext(ctx)

	for _, dir := range job.CacheDirs {
		if err := ctx.Err(); err != nil {
			return err
		}

		src := ExpandPath(dir)
		fi, err := os.Stat(src)
		if err != nil {
			log.Debug("nothing to cache", "job", job.Name, "dir", dir)
			continue
		}
		if !fi.IsDir() {
			log.Warn("cache entry is not a directory, skipping", "dir", dir)
			continue
		}

		key := Key(repoRoot, job.Name, dir)
		archive := m.archivePath(key)
		tmp := archive + ".tmp"

		size, err := Pack(src, tmp)
		if err != nil {
			_ = os.Remove(tmp)
			return fmt.Errorf("packing %s: %w", dir, err)
		}
		if err := os.Rename(tmp, archive); err != nil {
			_ = os.Remove(tmp)
			return fmt.Errorf("storing cache archive: %w", err)
		}

		now := time.Now()
		entry, found, err := m.idx.Get(key)
		if err != nil || !found {
			entry = Entry{Key: key, Job: job.Name, Dir: dir, CreatedAt: now}
		}
		entry.Size = size
		entry.LastUsedAt = now
		if err := m.idx.Put(entry); err != nil {
			log.Warn("failed to update cache index", "key", key, "error", err)
		}

		log.Debug("cache saved", "job", job.Name, "dir", dir, "bytes", size)
	}
	return nil
}

// List returns the index contents.
func (m *Manager) List() ([]Entry, error) {
	return m.idx.List()
}

// Prune removes entries not used since the given age. It returns how
// many archives were removed.
func (m *Manager) Prune(maxAge time.Duration, now time.Time) (int, error) {
	entries, err := m.idx.List()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if now.Sub(e.LastUsedAt) <= maxAge {
			continue
		}
		if err := os.Remove(m.archivePath(e.Key)); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("removing archive %s: %w", e.Key, err)
		}
		if err := m.idx.Delete(e.Key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Clear removes every archive and index entry.
func (m *Manager) Clear() (int, error) {
	entries, err := m.idx.List()
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if err := os.Remove(m.archivePath(e.Key)); err != nil && !os.IsNotExist(err) {
			return 0, fmt.Errorf("removing archive %s: %w", e.Key, err)
		}
		if err := m.idx.Delete(e.Key); err != nil {
			return 0, err
		}
	}
	return len(entries), nil
}

// ExpandPath resolves the ~ and $HOME conventions cache directories are
// usually declared with.
func ExpandPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return os.Expand(p, func(key string) string {
		if key == "HOME" {
			if home, err := os.UserHomeDir(); err == nil {
				return home
			}
		}
		return os.Getenv(key)
	})
}
