// Package config loads the workspace configuration file (§6): a single
// YAML document at the workspace root recognizing testCommand, mcpServers,
// includePaths/excludePaths, and notes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// MCPServer is one entry of the mcpServers map.
type MCPServer struct {
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	Cwd     string            `yaml:"cwd"`
}

// Workspace is the parsed workspace configuration document.
type Workspace struct {
	TestCommand  string               `yaml:"testCommand"`
	MCPServers   map[string]MCPServer `yaml:"mcpServers"`
	IncludePaths []string             `yaml:"includePaths"`
	ExcludePaths []string             `yaml:"excludePaths"`
	Notes        string               `yaml:"notes"`
}

// FileName returns the conventional workspace config filename for the
// given agent name, e.g. ".codeagent.yml".
func FileName(agentName string) string {
	return "." + agentName + ".yml"
}

// Load parses the workspace config file at path. A missing file is not an
// error: it yields the zero-value Workspace, since every key is optional.
func Load(path string) (*Workspace, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Workspace{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var ws Workspace
	if err := yaml.Unmarshal(data, &ws); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &ws, nil
}

// Watcher reloads the workspace config whenever the underlying file
// changes, using fsnotify to watch the containing directory.
type Watcher struct {
	path    string
	current atomic.Pointer[Workspace]
	watcher *fsnotify.Watcher
	mu      sync.Mutex
	onError func(error)
}

// NewWatcher loads path once and begins watching its parent directory for
// changes, using fsnotify (watching the directory, not the file, survives
// editors that replace the file via rename-on-save).
func NewWatcher(path string) (*Watcher, error) {
	ws, err := Load(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", filepath.Dir(path), err)
	}

	w := &Watcher{path: path, watcher: fw}
	w.current.Store(ws)
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			ws, err := Load(w.path)
			if err != nil {
				log.Warn().Err(err).Str("path", w.path).Msg("config: reload failed, keeping previous config")
				if w.onError != nil {
					w.onError(err)
				}
				continue
			}
			w.current.Store(ws)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("config: watcher error")
		}
	}
}

// Current returns the most recently loaded workspace config.
func (w *Watcher) Current() *Workspace { return w.current.Load() }

// Close stops watching.
func (w *Watcher) Close() error { return w.watcher.Close() }
