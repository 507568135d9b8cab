package ingestion

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pterm/pterm"
)

// FileWatcher monitors the access log for changes using fsnotify, so new
// lines are picked up immediately instead of waiting for the next poll.
// The watch covers the parent directory as well: rotation tools replace
// the file, and a watch on the old inode would go silent.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	path    string
	events  chan string
	errors  chan error
	logger  *pterm.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewFileWatcher creates a watcher for the given access log path.
func NewFileWatcher(path string, logger *pterm.Logger) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.WithCaller().Error("Failed to create file watcher", logger.Args("error", err))
		return nil, err
	}

	fw := &FileWatcher{
		watcher: watcher,
		path:    path,
		events:  make(chan string, 100),
		errors:  make(chan error, 10),
		logger:  logger,
		stopCh:  make(chan struct{}),
	}

	// Watch the directory so Create events after rotation are seen even
	// when the file itself does not exist yet.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		logger.Warn("Failed to watch log directory, falling back to polling only",
			logger.Args("dir", dir, "error", err))
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Warn("Access log does not exist yet, watching for creation",
			logger.Args("path", path))
	} else if err := watcher.Add(path); err != nil {
		logger.Warn("Failed to watch access log", logger.Args("path", path, "error", err))
	} else {
		logger.Debug("Started watching access log", logger.Args("path", path))
	}

	fw.wg.Add(1)
	go fw.eventLoop()

	logger.Info("File watcher initialized", logger.Args("path", path))
	return fw, nil
}

// eventLoop processes file system events
func (fw *FileWatcher) eventLoop() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.stopCh:
			fw.logger.Debug("File watcher stopped")
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				fw.logger.Warn("File watcher events channel closed")
				return
			}

			// Directory-level events arrive for every file in it; only
			// the watched access log matters.
			if event.Name != fw.path {
				continue
			}

			switch {
			case event.Op&fsnotify.Write == fsnotify.Write:
				fw.logger.Trace("File write detected", fw.logger.Args("file", event.Name))
				fw.notify(event.Name)

			case event.Op&fsnotify.Create == fsnotify.Create:
				fw.logger.Debug("File created (possible rotation)", fw.logger.Args("file", event.Name))
				// Re-add watch on the fresh inode.
				if err := fw.watcher.Add(event.Name); err != nil {
					fw.logger.WithCaller().Warn("Failed to watch new file", fw.logger.Args("file", event.Name, "error", err))
				}
				fw.notify(event.Name)

			case event.Op&fsnotify.Remove == fsnotify.Remove,
				event.Op&fsnotify.Rename == fsnotify.Rename:
				fw.logger.Debug("File removed or renamed (possible rotation)", fw.logger.Args("file", event.Name))
				fw.notify(event.Name)
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				fw.logger.Warn("File watcher errors channel closed")
				return
			}
			fw.logger.WithCaller().Error("File watcher error", fw.logger.Args("error", err))
			select {
			case fw.errors <- err:
			default:
				fw.logger.Warn("Error channel full, dropping error")
			}
		}
	}
}

func (fw *FileWatcher) notify(name string) {
	select {
	case fw.events <- name:
	default:
		// Channel full means the processor is already behind; it will
		// catch up on its next read, dropping the signal is safe.
		fw.logger.Trace("Event channel full, dropping event", fw.logger.Args("file", name))
	}
}

// Events returns the channel for file modification events
func (fw *FileWatcher) Events() <-chan string {
	return fw.events
}

// Errors returns the channel for watcher errors
func (fw *FileWatcher) Errors() <-chan error {
	return fw.errors
}

// Close stops the file watcher and cleans up resources
func (fw *FileWatcher) Close() error {
	fw.logger.Debug("Closing file watcher...")
	close(fw.stopCh)
	fw.wg.Wait()

	if err := fw.watcher.Close(); err != nil {
		fw.logger.WithCaller().Error("Failed to close file watcher", fw.logger.Args("error", err))
		return err
	}

	close(fw.events)
	close(fw.errors)
	fw.logger.Info("File watcher closed")
	return nil
}
