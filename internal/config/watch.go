package config

import (
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file when it changes on disk and hands the
// validated result to a callback. Invalid edits are logged and skipped,
// the previous config stays in effect.
type Watcher struct {
	fw     *fsnotify.Watcher
	path   string
	closed chan struct{}
}

// Watch starts watching the config file's directory (watching the file
// itself breaks on editors that rename-and-replace).
func Watch(path string, onChange func(Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{fw: fw, path: path, closed: make(chan struct{})}
	go w.loop(onChange)
	return w, nil
}

func (w *Watcher) Close() error {
	close(w.closed)
	return w.fw.Close()
}

func (w *Watcher) loop(onChange func(Config)) {
	for {
		select {
		case <-w.closed:
			return
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				log.Printf("CONFIG: reload skipped: %v", err)
				continue
			}
			log.Printf("CONFIG: reloaded %s", w.path)
			onChange(cfg)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			log.Printf("CONFIG: watcher error: %v", err)
		}
	}
}
