package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceInterval = 100 * time.Millisecond

// SlotWatcher reloads the store when the slot file is changed by another
// process, such as a CLI command run while the server is up. The parent
// directory is watched because atomic replaces swap the file's inode.
type SlotWatcher struct {
	path   string
	reload func(ctx context.Context)

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc

	timerMu sync.Mutex
	timer   *time.Timer
}

func NewSlotWatcher(path string, reload func(ctx context.Context)) *SlotWatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &SlotWatcher{
		path:   filepath.Clean(path),
		reload: reload,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (w *SlotWatcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return err
	}
	w.watcher = watcher

	go w.eventLoop()
	slog.Info("SlotWatcher started", "path", w.path)
	return nil
}

func (w *SlotWatcher) Stop() {
	w.cancel()
	if w.watcher != nil {
		w.watcher.Close()
	}

	w.timerMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.timerMu.Unlock()

	slog.Info("SlotWatcher stopped")
}

func (w *SlotWatcher) eventLoop() {
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("fsnotify error", "error", err)
		}
	}
}

func (w *SlotWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
		return
	}

	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceInterval, func() {
		if w.ctx.Err() != nil {
			return
		}
		slog.Debug("slot changed on disk, reloading", "path", w.path, "op", event.Op.String())
		w.reload(w.ctx)
	})
}
