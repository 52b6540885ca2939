package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/grovetools/wayshell/pkg/reactive"
	"github.com/sirupsen/logrus"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 150 * time.Millisecond

// Watcher reloads the config when files in the config directory change and
// publishes each successfully loaded config. A config that fails to load is
// logged and the previous one stays current.
type Watcher struct {
	watcher  *fsnotify.Watcher
	dir      string
	debounce time.Duration
	logger   *logrus.Entry
	current  *reactive.Cell[*Config]

	// targetToLink maps symlink targets back to their names in dir.
	targetToLink map[string]string

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher watches dir, starting from initial. fsnotify does not follow
// symlinks, so the directories of linked config files are watched as well.
func NewWatcher(dir string, initial *Config, debounce time.Duration, logger *logrus.Entry) (*Watcher, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if initial == nil {
		initial = Default()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	w := &Watcher{
		watcher:      watcher,
		dir:          dir,
		debounce:     debounce,
		logger:       logger,
		current:      reactive.NewCell(initial),
		targetToLink: make(map[string]string),
	}
	w.watchLinkTargets()
	return w, nil
}

func (w *Watcher) watchLinkTargets() {
	watched := map[string]bool{w.dir: true}
	for _, name := range append(configNames, EnvFileName) {
		full := filepath.Join(w.dir, name)
		info, err := os.Lstat(full)
		if err != nil || info.Mode()&os.ModeSymlink == 0 {
			continue
		}
		target, err := filepath.EvalSymlinks(full)
		if err != nil {
			w.logger.WithError(err).Warnf("Failed to resolve symlink %s", name)
			continue
		}
		w.targetToLink[target] = name

		targetDir := filepath.Dir(target)
		if watched[targetDir] {
			continue
		}
		if err := w.watcher.Add(targetDir); err != nil {
			w.logger.WithError(err).Warnf("Failed to watch symlink target dir %s", targetDir)
			continue
		}
		watched[targetDir] = true
		w.logger.Debugf("Watching symlink target directory: %s", targetDir)
	}
}

// Config returns the cell holding the current config.
func (w *Watcher) Config() *reactive.Cell[*Config] { return w.current }

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	defer w.stopTimer()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Base(event.Name)
			if link, ok := w.targetToLink[event.Name]; ok {
				name = link
			}
			if !w.relevant(name) {
				continue
			}
			w.logger.Debugf("fsnotify event: %s op=%v", event.Name, event.Op)
			w.schedule(ctx)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Error("Config watcher error")
		}
	}
}

func (w *Watcher) relevant(name string) bool {
	if name == EnvFileName {
		return true
	}
	for _, n := range configNames {
		if n == name {
			return true
		}
	}
	return false
}

// schedule (re)starts the debounce timer so a burst of writes causes one
// reload after the last of them.
func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		w.Reload()
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

// Reload loads the config now and publishes it on success.
func (w *Watcher) Reload() {
	cfg, err := LoadDir(w.dir, w.logger)
	if err != nil {
		w.logger.WithError(err).Warn("Config reload failed, keeping previous configuration")
		return
	}
	w.logger.WithField("path", cfg.Path).Info("Configuration reloaded")
	w.current.Set(cfg)
}
