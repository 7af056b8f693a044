package dirserver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"example.com/dirserve/internal/logger"
)

// Entry is one child of a listed directory.
type Entry struct {
	Name string
	Dir  bool
}

// Display is the listing string: directories are upper-cased with a trailing
// slash, files keep their name.
func (e Entry) Display() string {
	if e.Dir {
		return strings.ToUpper(e.Name) + "/"
	}
	return e.Name
}

// ListingCache memoises sorted directory listings for the life of the
// process. Entries are never invalidated, so later changes on disk are not
// reflected. It is safe for concurrent use.
type ListingCache struct {
	mu      sync.RWMutex
	entries map[string][]Entry
	group   singleflight.Group
	log     *logger.Logger
}

// NewListingCache returns an empty cache.
func NewListingCache(lg *logger.Logger) *ListingCache {
	if lg == nil {
		lg = logger.NewDiscardLogger()
	}
	return &ListingCache{entries: make(map[string][]Entry), log: lg}
}

// CacheKey is the canonical key for an absolute directory path, so "/srv/B",
// "/srv/B/" and "/srv/./B" share one entry.
func CacheKey(dir string) string {
	return filepath.Clean(dir)
}

// Listing returns the display strings for dir, scanning it on first use.
func (c *ListingCache) Listing(ctx context.Context, dir string) ([]string, error) {
	entries, err := c.Entries(ctx, dir)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Display()
	}
	return out, nil
}

// Entries returns the sorted entries of dir: directories first, each group
// ascending by display string. The returned slice is a copy.
func (c *ListingCache) Entries(ctx context.Context, dir string) ([]Entry, error) {
	key := CacheKey(dir)
	if cached, ok := c.lookup(key); ok {
		return slices.Clone(cached), nil
	}

	for {
		v, err, shared := c.group.Do(key, func() (interface{}, error) {
			if cached, ok := c.lookup(key); ok {
				return cached, nil
			}
			scanned, err := scanDir(ctx, key)
			if err != nil {
				return nil, err
			}
			c.mu.Lock()
			c.entries[key] = scanned
			c.mu.Unlock()
			c.log.Debug("Cached directory listing", logger.LogFields{"dir": key, "entries": len(scanned)})
			return scanned, nil
		})
		if err != nil {
			// Another caller's cancellation must not fail this one.
			if shared && ctx.Err() == nil && isContextErr(err) {
				continue
			}
			return nil, err
		}
		return slices.Clone(v.([]Entry)), nil
	}
}

// Len reports the number of cached directories.
func (c *ListingCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *ListingCache) lookup(key string) ([]Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// scanDir reads the direct children of dir. Symlinks are followed; a broken
// link lists as a file.
func scanDir(ctx context.Context, dir string) ([]Entry, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", dir, err)
	}

	var dirs, files []Entry
	for _, de := range des {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		isDir := de.IsDir()
		if de.Type()&os.ModeSymlink != 0 {
			if fi, err := os.Stat(filepath.Join(dir, de.Name())); err == nil {
				isDir = fi.IsDir()
			}
		}
		if isDir {
			dirs = append(dirs, Entry{Name: de.Name(), Dir: true})
		} else {
			files = append(files, Entry{Name: de.Name()})
		}
	}

	byDisplay := func(a, b Entry) int { return strings.Compare(a.Display(), b.Display()) }
	slices.SortFunc(dirs, byDisplay)
	slices.SortFunc(files, byDisplay)
	return append(dirs, files...), nil
}
