package registry

import (
	"context"
	"log"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher rebuilds the registry snapshot on a fixed interval, and
// immediately when the config file is touched (the operational signal
// that tenant rows changed). The interval ticker always runs as a
// safety net alongside fsnotify.
type Watcher struct {
	holder     *Holder
	loader     Loader
	cacheSize  int
	interval   time.Duration
	configPath string
}

func NewWatcher(holder *Holder, loader Loader, cacheSize int, interval time.Duration, configPath string) *Watcher {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Watcher{
		holder:     holder,
		loader:     loader,
		cacheSize:  cacheSize,
		interval:   interval,
		configPath: configPath,
	}
}

// Start launches the watcher goroutines; they exit on ctx cancellation.
func (w *Watcher) Start(ctx context.Context) {
	if w.configPath != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			log.Printf("[WARN] Registry Watcher: fsnotify unavailable (%v), interval reload only", err)
		} else if err := watcher.Add(w.configPath); err != nil {
			log.Printf("[WARN] Registry Watcher: cannot watch %s (%v), interval reload only", w.configPath, err)
			watcher.Close()
		} else {
			go w.watchLoop(ctx, watcher)
		}
	}

	go w.pollLoop(ctx)
}

func (w *Watcher) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				log.Printf("[INFO] Registry Watcher: %s changed, reloading snapshot", w.configPath)
				// Editors often write in two steps; let the file settle.
				time.Sleep(100 * time.Millisecond)
				w.Reload(ctx)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[WARN] Registry Watcher: %v", err)
		}
	}
}

func (w *Watcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Reload(ctx)
		}
	}
}

// Reload builds a fresh snapshot and publishes it. A load failure keeps
// the previous snapshot in place.
func (w *Watcher) Reload(ctx context.Context) {
	snap, err := Build(ctx, w.loader, w.cacheSize)
	if err != nil {
		log.Printf("[ERROR] Registry Watcher: reload failed, keeping previous snapshot: %v", err)
		return
	}
	prev := w.holder.Current()
	w.holder.Swap(snap)
	if prev != nil && prev.Len() != snap.Len() {
		log.Printf("[INFO] Registry Watcher: snapshot reloaded, %d tenants (was %d)", snap.Len(), prev.Len())
	}
}
