package am

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/teranos/pulsegraph/errors"
	"github.com/teranos/pulsegraph/logger"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 500 * time.Millisecond

const ownWriteWindow = 250 * time.Millisecond

// ChangeCallback is called with the watched path after it changed
type ChangeCallback func(path string) error

// ReloadCallback is called with the config parsed from the watched file
type ReloadCallback func(*Config) error

// ConfigWatcher watches one file and runs callbacks after it changes.
// It watches the parent directory so editors that save by rename are seen.
type ConfigWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	logger   *zap.SugaredLogger
	debounce time.Duration

	mu              sync.Mutex
	changeCallbacks []ChangeCallback
	reloadCallbacks []ReloadCallback
	debounceTimer   *time.Timer
	ownWriteUntil   time.Time // Events before this come from our own write
	started         bool
	stopped         bool

	done chan struct{}
}

// NewConfigWatcher creates a watcher for path. Call Start to begin.
func NewConfigWatcher(path string, log *zap.SugaredLogger) (*ConfigWatcher, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve %s", path)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, errors.Wrapf(err, "failed to watch %s", abs)
	}

	return &ConfigWatcher{
		path:     abs,
		watcher:  watcher,
		logger:   log.Named("watcher"),
		debounce: DefaultDebounce,
		done:     make(chan struct{}),
	}, nil
}

// Path returns the absolute path being watched.
func (cw *ConfigWatcher) Path() string {
	return cw.path
}

// SetDebounce changes the debounce period. Call before Start.
func (cw *ConfigWatcher) SetDebounce(d time.Duration) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.debounce = d
}

// OnChange registers a callback receiving the changed path
func (cw *ConfigWatcher) OnChange(callback ChangeCallback) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.changeCallbacks = append(cw.changeCallbacks, callback)
}

// OnReload registers a callback receiving the file re-read as an am config
func (cw *ConfigWatcher) OnReload(callback ReloadCallback) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.reloadCallbacks = append(cw.reloadCallbacks, callback)
}

// MarkOwnWrite suppresses events for a short window so that our own write
// (which may arrive as several events) does not trigger a reload loop.
func (cw *ConfigWatcher) MarkOwnWrite() {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.ownWriteUntil = time.Now().Add(max(cw.debounce, ownWriteWindow))
}

func (cw *ConfigWatcher) checkOwnWrite() bool {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return time.Now().Before(cw.ownWriteUntil)
}

// Start begins watching for changes
func (cw *ConfigWatcher) Start() {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.started || cw.stopped {
		return
	}
	cw.started = true
	go cw.watchLoop()
}

func (cw *ConfigWatcher) watchLoop() {
	defer close(cw.done)
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != cw.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if cw.checkOwnWrite() {
				cw.logger.Debugw("Watcher ignoring own write", logger.FieldPath, event.Name)
				continue
			}

			cw.logger.Infow("Watcher detected change",
				logger.FieldPath, event.Name,
				"op", event.Op.String())
			cw.scheduleReload()

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Warnw("Watcher error", logger.FieldError, err)
		}
	}
}

// scheduleReload debounces rapid file changes into one reload
func (cw *ConfigWatcher) scheduleReload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.stopped {
		return
	}
	if cw.debounceTimer != nil {
		cw.debounceTimer.Stop()
	}
	cw.debounceTimer = time.AfterFunc(cw.debounce, cw.fire)
}

// fire runs every callback; a failing callback does not stop the others
func (cw *ConfigWatcher) fire() {
	cw.mu.Lock()
	if cw.stopped {
		cw.mu.Unlock()
		return
	}
	changes := append([]ChangeCallback(nil), cw.changeCallbacks...)
	reloads := append([]ReloadCallback(nil), cw.reloadCallbacks...)
	cw.mu.Unlock()

	for _, callback := range changes {
		if err := callback(cw.path); err != nil {
			cw.logger.Warnw("Change callback error", logger.FieldPath, cw.path, logger.FieldError, err)
		}
	}

	if len(reloads) == 0 {
		return
	}
	cfg, err := LoadFromFile(cw.path)
	if err != nil {
		cw.logger.Errorw("Config reload failed", logger.FieldPath, cw.path, logger.FieldError, err)
		return
	}
	cw.logger.Infow("Config reloaded", logger.FieldPath, cw.path)
	for _, callback := range reloads {
		if err := callback(cfg); err != nil {
			cw.logger.Warnw("Config reload callback error", logger.FieldError, err)
		}
	}
}

// Stop stops watching and cancels any pending reload
func (cw *ConfigWatcher) Stop() error {
	cw.mu.Lock()
	if cw.stopped {
		cw.mu.Unlock()
		return nil
	}
	cw.stopped = true
	started := cw.started
	if cw.debounceTimer != nil {
		cw.debounceTimer.Stop()
	}
	cw.mu.Unlock()

	err := cw.watcher.Close()
	if started {
		<-cw.done
	}
	return err
}
