package cli

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const watchDebounce = 200 * time.Millisecond

// PlanWatcher calls onChange whenever a plan file is written or replaced.
// Editors often save by renaming a temp file over the original, so the
// parent directory is watched and events are filtered by name.
type PlanWatcher struct {
	watcher  *fsnotify.Watcher
	path     string
	debounce time.Duration
	onChange func(path string)

	mu      sync.Mutex
	pending *time.Timer
	wg      sync.WaitGroup
	done    chan struct{}
}

// NewPlanWatcher creates a watcher for the plan file at path.
func NewPlanWatcher(path string, debounce time.Duration, onChange func(path string)) (*PlanWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(filepath.Dir(abs)); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	if debounce <= 0 {
		debounce = watchDebounce
	}

	return &PlanWatcher{
		watcher:  fsWatcher,
		path:     abs,
		debounce: debounce,
		onChange: onChange,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching until ctx is done or Stop is called.
func (pw *PlanWatcher) Start(ctx context.Context) {
	pw.wg.Add(1)
	go func() {
		defer pw.wg.Done()
		pw.loop(ctx)
	}()
}

// Stop stops the watcher and waits for the event loop to exit.
func (pw *PlanWatcher) Stop() error {
	close(pw.done)
	pw.wg.Wait()

	pw.mu.Lock()
	if pw.pending != nil {
		pw.pending.Stop()
	}
	pw.mu.Unlock()

	return pw.watcher.Close()
}

func (pw *PlanWatcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-pw.done:
			return
		case event, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			pw.handle(event)
		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}

// handle coalesces bursts of writes to the plan file into one callback.
func (pw *PlanWatcher) handle(event fsnotify.Event) {
	if filepath.Clean(event.Name) != pw.path {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}

	log.Debug().Str("op", event.Op.String()).Str("path", event.Name).Msg("Plan file changed")

	pw.mu.Lock()
	defer pw.mu.Unlock()

	if pw.pending != nil {
		pw.pending.Stop()
	}
	pw.pending = time.AfterFunc(pw.debounce, func() {
		if pw.onChange != nil {
			pw.onChange(pw.path)
		}
	})
}
