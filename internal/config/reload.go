package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// FilterFile is the on-disk shape of the hot-reloadable filter file: an
// ordered classifier rule set plus a per-adapter process/substring filter
// map. Unlike the main config file (port, proxy port, home dir), this one
// is meant to be edited while quern is running.
type FilterFile struct {
	RuleFile string                    `yaml:"rule_file"`
	Adapters map[string]AdapterFilter  `yaml:"adapters"`
}

// AdapterFilter mirrors types.AdapterFilter without importing pkg/types,
// keeping internal/config free of a dependency on the domain package.
type AdapterFilter struct {
	Process        string   `yaml:"process"`
	ExcludeSubstrs []string `yaml:"exclude_substrs"`
}

// LoadFilterFile reads and parses a FilterFile. A missing file returns the
// underlying not-exist error; callers that tolerate an absent file check
// for it with os.IsNotExist.
func LoadFilterFile(path string) (FilterFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FilterFile{}, err
	}
	var f FilterFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return FilterFile{}, fmt.Errorf("parse filter file: %w", err)
	}
	return f, nil
}

// FilterReloader watches a FilterFile on disk and invokes onReload with the
// freshly parsed contents whenever it changes, debounced so a multi-write
// save doesn't trigger a reload per write. Adapted from the teacher's
// whole-process ConfigReloader, trimmed to this one file: quern's other
// settings (listen port, proxy port, home dir) are startup-only and never
// watched.
type FilterReloader struct {
	path     string
	debounce time.Duration
	log      *logrus.Logger
	onReload func(FilterFile)

	watcher *fsnotify.Watcher
	cancel  chan struct{}
	wg      sync.WaitGroup
}

// NewFilterReloader builds a reloader for path. Call Start to begin
// watching; Stop releases the underlying fsnotify watcher.
func NewFilterReloader(path string, debounce time.Duration, log *logrus.Logger, onReload func(FilterFile)) *FilterReloader {
	if debounce <= 0 {
		debounce = time.Second
	}
	return &FilterReloader{path: path, debounce: debounce, log: log, onReload: onReload}
}

// Start loads the file once (if present) and begins watching its parent
// directory for changes. Watching the directory rather than the file
// itself survives editors that replace the file via rename-on-save.
func (r *FilterReloader) Start() error {
	if f, err := LoadFilterFile(r.path); err == nil {
		r.onReload(f)
	} else if !os.IsNotExist(err) {
		r.log.WithError(err).Warn("initial filter file load failed")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create filter file watcher: %w", err)
	}
	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch filter file directory: %w", err)
	}
	r.watcher = watcher
	r.cancel = make(chan struct{})

	r.wg.Add(1)
	go r.loop()
	return nil
}

func (r *FilterReloader) loop() {
	defer r.wg.Done()
	target := filepath.Clean(r.path)

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-r.cancel:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(r.debounce)
			pending = true
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.log.WithError(err).Warn("filter file watcher error")
		case <-timer.C:
			if !pending {
				continue
			}
			pending = false
			f, err := LoadFilterFile(r.path)
			if err != nil {
				r.log.WithError(err).Warn("filter file reload failed")
				continue
			}
			r.onReload(f)
		}
	}
}

// Stop stops watching and releases the fsnotify handle.
func (r *FilterReloader) Stop() {
	if r.watcher == nil {
		return
	}
	close(r.cancel)
	r.watcher.Close()
	r.wg.Wait()
}
