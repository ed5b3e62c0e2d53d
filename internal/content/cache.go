package content

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Cache serves the catalog with a TTL, reloading from the content
// directory on expiry. The clock is injected so tests control time; the
// composition root owns the instance — no package-level singleton.
type Cache struct {
	dir    string
	ttl    time.Duration
	now    func() time.Time
	log    *slog.Logger
	loader func(dir string) (*Catalog, error)

	mu       sync.Mutex
	cached   *Catalog
	loadedAt time.Time

	watcher *fsnotify.Watcher
}

// CacheConfig configures a content Cache. An empty Dir serves the builtin
// catalog forever.
type CacheConfig struct {
	Dir    string
	TTL    time.Duration
	Clock  func() time.Time
	Logger *slog.Logger
}

func NewCache(cfg CacheConfig) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Cache{
		dir:    cfg.Dir,
		ttl:    cfg.TTL,
		now:    cfg.Clock,
		log:    cfg.Logger,
		loader: LoadDir,
	}
}

// Catalog returns the current catalog, reloading when the TTL lapsed.
// Load failures keep serving the previous catalog; the first load falls
// back to the builtin.
func (c *Cache) Catalog() *Catalog {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dir == "" {
		if c.cached == nil {
			c.cached = BuiltinCatalog()
		}
		return c.cached
	}

	now := c.now()
	if c.cached != nil && now.Sub(c.loadedAt) < c.ttl {
		return c.cached
	}

	cat, err := c.loader(c.dir)
	if err != nil {
		c.log.Warn("content.reload_failed", "dir", c.dir, "error", err)
		if c.cached == nil {
			c.cached = BuiltinCatalog()
		}
		c.loadedAt = now // back off until next TTL window
		return c.cached
	}
	c.cached = cat
	c.loadedAt = now
	return c.cached
}

// Invalidate drops the cached catalog so the next read reloads. Explicit
// hook for tests and the fsnotify watcher.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadedAt = time.Time{}
}

// Watch invalidates the cache whenever the content directory changes.
// Returns immediately; the watch goroutine stops when the watcher closes.
func (c *Cache) Watch() error {
	if c.dir == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(c.dir); err != nil {
		w.Close()
		return err
	}
	c.watcher = w
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					c.log.Debug("content.invalidated", "file", ev.Name)
					c.Invalidate()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				c.log.Warn("content.watch_error", "error", err)
			}
		}
	}()
	return nil
}

// Close stops the watcher if one is running.
func (c *Cache) Close() error {
	if c.watcher != nil {
		return c.watcher.Close()
	}
	return nil
}
