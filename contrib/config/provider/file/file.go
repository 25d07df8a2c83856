// Package file is a config.Source reading a single YAML or JSON file from
// disk, watching it for changes via fsnotify. Shaped after the teacher's
// provider/remote/remote.go (same Source/Watcher contract), since no file
// provider shipped in the retrieval pack.
package file

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/omalloc/imgproxy/contrib/config"
)

var _ config.Source = (*fileSource)(nil)

type fileSource struct {
	path string
}

// NewSource returns a config.Source reading path.
func NewSource(path string) config.Source {
	return &fileSource{path: path}
}

func (f *fileSource) Load() ([]*config.KeyValue, error) {
	buf, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	return []*config.KeyValue{
		{
			Key:    filepath.Base(f.path),
			Value:  buf,
			Format: format(f.path),
		},
	}, nil
}

func (f *fileSource) Watch() (config.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(f.path)); err != nil {
		_ = w.Close()
		return nil, err
	}
	return &fileWatcher{source: f, w: w}, nil
}

func format(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	default:
		return "yaml"
	}
}

type fileWatcher struct {
	source *fileSource
	w      *fsnotify.Watcher
}

func (fw *fileWatcher) Next() ([]*config.KeyValue, error) {
	for {
		select {
		case ev, ok := <-fw.w.Events:
			if !ok {
				return nil, fmt.Errorf("file watcher closed")
			}
			if filepath.Clean(ev.Name) != filepath.Clean(fw.source.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			return fw.source.Load()
		case err, ok := <-fw.w.Errors:
			if !ok {
				return nil, fmt.Errorf("file watcher closed")
			}
			return nil, err
		}
	}
}

func (fw *fileWatcher) Stop() error {
	return fw.w.Close()
}
