package config

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads forge.yaml when it changes on disk and notifies a
// callback with the freshly validated Config. Rapid successive writes
// (editors often write-then-rename) are debounced into a single reload,
// the same shape the pack's own fsnotify-based watchers use.
type Watcher struct {
	configDir string
	onReload  func(*Config)
	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// reloadDebounce batches the burst of fsnotify events a single save
// typically produces into one reload.
const reloadDebounce = 200 * time.Millisecond

// Watch starts watching configDir for forge.yaml changes. onReload is
// called with the newly loaded Config each time the file changes and
// reloads cleanly; a reload that fails YAML parsing or validation is
// logged and discarded, leaving the previous configuration in effect.
// Callers must call Stop on the returned Watcher to release the
// underlying fsnotify watcher.
func Watch(configDir string, onReload func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(configDir); err != nil {
		_ = fw.Close()
		return nil, err
	}

	w := &Watcher{
		configDir: configDir,
		onReload:  onReload,
		watcher:   fw,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
	_ = w.watcher.Close()
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	target := filepath.Join(w.configDir, "forge.yaml")

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(target) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = true
			timer.Reset(reloadDebounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher error", "error", err)

		case <-timer.C:
			if !pending {
				continue
			}
			pending = false
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.configDir)
	if err != nil {
		slog.Warn("forge.yaml changed but failed to reload, keeping previous configuration", "error", err)
		return
	}
	slog.Info("forge.yaml changed, reloaded configuration")
	w.onReload(cfg)
}
