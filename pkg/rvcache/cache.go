// Package rvcache implements the content-addressed on-disk cache (§4.C):
// downloaded Ruby tarballs, gem packages, and resolved metadata documents
// are stored under bucket directories keyed by a stable hash of their
// source identity, written atomically via a temp-file-then-rename dance
// grounded on flavor-go's execution_cache.go/locking.go pattern.
package rvcache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/go-hclog"
)

// Bucket namespaces cache entries by the kind of artifact they hold, so
// a ruby tarball and a gem package with colliding hash prefixes never
// share a directory. The "-v0" suffix lets a future format change
// invalidate the whole bucket by bumping the constant.
type Bucket string

const (
	BucketRuby     Bucket = "ruby-v0"
	BucketGem      Bucket = "gem-v0"
	BucketMetadata Bucket = "metadata-v0"
)

// Cache is a content-addressed store rooted at Dir. Root, when NoCache is
// set, still resolves paths but Get always reports a miss and Put is a
// no-op, matching §4.C's "--no-cache disables reads and writes, not
// existence of the directory" rule.
type Cache struct {
	Dir     string
	NoCache bool
	logger  hclog.Logger
}

// New constructs a Cache rooted at dir, creating it if necessary.
func New(dir string, noCache bool, logger hclog.Logger) (*Cache, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if !noCache {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache root %s: %w", dir, err)
		}
	}
	return &Cache{Dir: dir, NoCache: noCache, logger: logger}, nil
}

// Key renders a stable, filesystem-safe entry name for an arbitrary
// source identity string (a URL, a gemspec platform+version tuple, ...).
func Key(identity string) string {
	h := xxhash.Sum64String(identity)
	return fmt.Sprintf("%016x", h)
}

func (c *Cache) entryPath(bucket Bucket, key string) string {
	return filepath.Join(c.Dir, string(bucket), key)
}

// Path returns the on-disk location an entry would occupy, whether or
// not it currently exists — callers that already confirmed presence via
// Has/Open use this to hand a stable path to a subprocess or another
// package without holding the file open.
func (c *Cache) Path(bucket Bucket, key string) string {
	return c.entryPath(bucket, key)
}

// Has reports whether an entry is present without opening it.
func (c *Cache) Has(bucket Bucket, key string) bool {
	if c.NoCache {
		return false
	}
	_, err := os.Stat(c.entryPath(bucket, key))
	return err == nil
}

// Open returns a reader for a cached entry, or an error satisfying
// os.IsNotExist on a miss.
func (c *Cache) Open(bucket Bucket, key string) (*os.File, error) {
	if c.NoCache {
		return nil, os.ErrNotExist
	}
	return os.Open(c.entryPath(bucket, key))
}

// Put writes data to the cache atomically: it streams into a temp file
// in the same bucket directory, then renames it into place, so a reader
// racing the write never observes a partial entry.
func (c *Cache) Put(bucket Bucket, key string, data io.Reader) (path string, err error) {
	dest := c.entryPath(bucket, key)
	if c.NoCache {
		tmp, err := os.CreateTemp("", "rv-cache-discard-*")
		if err != nil {
			return "", err
		}
		defer os.Remove(tmp.Name())
		defer tmp.Close()
		_, err = io.Copy(tmp, data)
		return dest, err
	}

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating bucket dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+key+"-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if _, err = io.Copy(tmp, data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing cache entry %s: %w", key, err)
	}
	if err = tmp.Close(); err != nil {
		return "", fmt.Errorf("closing cache temp file: %w", err)
	}
	if err = os.Rename(tmpName, dest); err != nil {
		return "", fmt.Errorf("renaming cache entry into place: %w", err)
	}
	c.logger.Debug("wrote cache entry", "bucket", bucket, "key", key)
	return dest, nil
}

// Remove deletes a single entry, ignoring a miss.
func (c *Cache) Remove(bucket Bucket, key string) error {
	err := os.Remove(c.entryPath(bucket, key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Prune removes entries in bucket older than maxAge, returning the count
// removed. It is used by `rv cache prune`.
func (c *Cache) Prune(bucket Bucket, maxAge time.Duration) (int, error) {
	dir := filepath.Join(c.Dir, string(bucket))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
				removed++
			}
		}
	}
	c.logger.Info("pruned cache entries", "bucket", bucket, "count", removed, "max_age", maxAge)
	return removed, nil
}

// Size returns the total number of bytes stored across all buckets.
func (c *Cache) Size() (int64, error) {
	var total int64
	err := filepath.WalkDir(c.Dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if os.IsNotExist(err) {
		return 0, nil
	}
	return total, err
}

// lockPath is the lock file TryLock/Unlock use to coordinate a
// multi-step write around an entry with the same stale-PID-aware
// advisory locking flavor-go's extraction lock uses.
func (c *Cache) lockPath(bucket Bucket, key string) string {
	return c.entryPath(bucket, key) + ".lock"
}

// TryLock attempts to acquire an exclusive advisory lock for the entry,
// following flavor-go's locking.go: an O_EXCL create races competing
// processes, and a lock file holding a dead PID is treated as stale and
// reclaimed.
func (c *Cache) TryLock(bucket Bucket, key string) (bool, error) {
	lockPath := c.lockPath(bucket, key)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return false, err
	}

	if data, err := os.ReadFile(lockPath); err == nil {
		if pid, err := strconv.Atoi(string(data)); err == nil && !processRunning(pid) {
			os.Remove(lockPath)
		} else if err != nil {
			os.Remove(lockPath)
		} else {
			return false, nil
		}
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%d", os.Getpid()); err != nil {
		os.Remove(lockPath)
		return false, err
	}
	return true, nil
}

// Unlock releases a lock acquired by TryLock.
func (c *Cache) Unlock(bucket Bucket, key string) error {
	err := os.Remove(c.lockPath(bucket, key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func processRunning(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
