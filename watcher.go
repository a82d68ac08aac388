package docview

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debouncer delays onFire until triggers stop arriving for delay. Bursts
// for the same document collapse into one call and calls never overlap.
type debouncer struct {
	delay  time.Duration
	onFire func(path string)

	mu      sync.Mutex
	timer   *time.Timer
	path    string
	stopped bool

	running sync.Mutex
}

func newDebouncer(delay time.Duration, onFire func(path string)) *debouncer {
	return &debouncer{delay: delay, onFire: onFire}
}

func (d *debouncer) trigger(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.path = path
	if d.timer != nil && d.timer.Stop() {
		d.timer.Reset(d.delay)
		return
	}
	d.timer = time.AfterFunc(d.delay, d.fire)
}

func (d *debouncer) fire() {
	d.mu.Lock()
	path, stopped := d.path, d.stopped
	d.mu.Unlock()
	if stopped {
		return
	}
	d.running.Lock()
	defer d.running.Unlock()
	d.onFire(path)
}

// stop cancels a pending call. A call already running is not interrupted.
func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}

// WatchOptions tune WatchFile. Zero values use the defaults of WatchConfig.
type WatchOptions struct {
	Debounce     time.Duration
	PollInterval time.Duration
	Logger       *slog.Logger
}

// WatchFile calls onChange, from its own goroutine, after the file at path
// was written or replaced and then left alone for the debounce delay. The
// parent directory is watched so editors that save through a rename are
// seen; a slow mtime poll covers filesystems without change notification.
// WatchFile blocks until ctx is done.
func WatchFile(ctx context.Context, path string, opts WatchOptions, onChange func(path string)) error {
	if opts.Debounce <= 0 {
		opts.Debounce = WatchConfig{}.Debounce()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = WatchConfig{}.PollDuration()
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watching %s: %w", path, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return fmt.Errorf("watching %s: %w", path, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}
	log.Info("watching document", "path", abs)

	var wg sync.WaitGroup
	db := newDebouncer(opts.Debounce, func(p string) {
		if _, err := os.Stat(p); err != nil {
			return
		}
		log.Debug("document changed", "path", p)
		onChange(p)
	})
	defer db.stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		pollLoop(ctx, abs, opts.PollInterval, db.trigger)
	}()

	eventLoop(ctx, w, abs, db, log)
	wg.Wait()
	return nil
}

func eventLoop(ctx context.Context, w *fsnotify.Watcher, target string, db *debouncer, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			switch {
			case ev.Has(fsnotify.Remove):
				// half of a save through rename; the Create follows
			case ev.Has(fsnotify.Rename):
				if _, err := os.Stat(target); err == nil {
					// kqueue loses track of the directory after a replace
					w.Add(filepath.Dir(target))
					db.trigger(target)
				}
			case ev.Has(fsnotify.Write), ev.Has(fsnotify.Create):
				db.trigger(target)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Warn("file watch error", "path", target, "error", err)
		}
	}
}

type fileStamp struct {
	mtime time.Time
	size  int64
}

func stampOf(path string) (fileStamp, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return fileStamp{}, false
	}
	return fileStamp{info.ModTime(), info.Size()}, true
}

// pollLoop compares the file's mtime and size every interval, for network
// filesystems where notifications never arrive.
func pollLoop(ctx context.Context, path string, interval time.Duration, onChanged func(path string)) {
	last, _ := stampOf(path)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if cur, ok := stampOf(path); ok && (!cur.mtime.Equal(last.mtime) || cur.size != last.size) {
				last = cur
				onChanged(path)
			}
		}
	}
}
