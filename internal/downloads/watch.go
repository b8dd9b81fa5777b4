package downloads

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// fileWatch signals when the watched file changes. A watch that could not be set up never fires.
type fileWatch struct {
	watcher *fsnotify.Watcher
	wake    chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

func watchFile(path string) *fileWatch {
	fw := &fileWatch{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fw
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fw
	}

	fw.watcher = watcher
	fw.wg.Add(1)
	go fw.processEvents(filepath.Clean(path))
	return fw
}

// Wake returns a channel that receives after each change to the file.
func (fw *fileWatch) Wake() <-chan struct{} {
	return fw.wake
}

func (fw *fileWatch) processEvents(path string) {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Chmod) {
				continue
			}
			select {
			case fw.wake <- struct{}{}:
			default:
			}
		case _, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the watch and waits for its goroutine. Safe to call more than once.
func (fw *fileWatch) Close() {
	fw.once.Do(func() {
		close(fw.done)
		if fw.watcher != nil {
			fw.watcher.Close()
			fw.wg.Wait()
		}
	})
}
