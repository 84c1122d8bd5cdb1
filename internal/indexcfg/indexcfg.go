// Package indexcfg loads the index universe (which underlyings to
// collect, their strike spans and expiry rules) from a YAML file and,
// optionally, watches it for membership changes while the process runs.
package indexcfg

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/g6-platform/g6/internal/domain"
)

// fileIndex is the YAML-decoded shape of one index entry. Credentials
// are never part of this file; only index membership and shape are
// hot-reloadable (spec supplement: "hot-reloaded only for index list
// membership, not credentials").
type fileIndex struct {
	Name        string   `yaml:"name"`
	Enabled     bool     `yaml:"enabled"`
	ExpiryRules []string `yaml:"expiry_rules"`
	StrikesITM  int      `yaml:"strikes_itm"`
	StrikesOTM  int      `yaml:"strikes_otm"`
}

type fileDoc struct {
	Indices []fileIndex `yaml:"indices"`
}

// Load reads and validates the index universe from path.
func Load(path string) ([]domain.IndexConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read index config: %w", err)
	}

	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse index config: %w", err)
	}

	out := make([]domain.IndexConfig, 0, len(doc.Indices))
	for _, fi := range doc.Indices {
		if fi.Name == "" {
			return nil, fmt.Errorf("index config: entry missing name")
		}
		rules := make([]domain.ExpiryRule, 0, len(fi.ExpiryRules))
		for _, r := range fi.ExpiryRules {
			rule := domain.ExpiryRule(r)
			switch rule {
			case domain.ThisWeek, domain.NextWeek, domain.ThisMonth, domain.NextMonth:
				rules = append(rules, rule)
			default:
				return nil, fmt.Errorf("index %s: unknown expiry rule %q", fi.Name, r)
			}
		}
		if len(rules) == 0 {
			rules = []domain.ExpiryRule{domain.ThisWeek, domain.NextWeek, domain.ThisMonth, domain.NextMonth}
		}
		out = append(out, domain.IndexConfig{
			Name: fi.Name, Enabled: fi.Enabled, ExpiryRules: rules,
			StrikesITM: fi.StrikesITM, StrikesOTM: fi.StrikesOTM,
		})
	}
	return out, nil
}

// Watcher reloads the index universe from disk whenever the backing
// YAML file changes, handing the refreshed list to onChange. A failed
// reload (malformed YAML mid-edit) is logged and ignored; the previous
// universe stays live.
type Watcher struct {
	path     string
	log      zerolog.Logger
	onChange func([]domain.IndexConfig)

	mu      sync.Mutex
	current []domain.IndexConfig

	fsw  *fsnotify.Watcher
	done chan struct{}
}

// NewWatcher loads path once and, if live reload is requested, starts
// watching it for changes. Call Stop to release the underlying
// fsnotify handle.
func NewWatcher(path string, watch bool, log zerolog.Logger, onChange func([]domain.IndexConfig)) (*Watcher, error) {
	initial, err := Load(path)
	if err != nil {
		return nil, err
	}

	w := &Watcher{path: path, log: log.With().Str("component", "indexcfg_watcher").Logger(), onChange: onChange, current: initial}
	if !watch {
		return w, nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("index config watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("index config watcher add: %w", err)
	}
	w.fsw = fsw
	w.done = make(chan struct{})
	go w.loop()
	return w, nil
}

// Current returns the most recently loaded index universe.
func (w *Watcher) Current() []domain.IndexConfig {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]domain.IndexConfig, len(w.current))
	copy(out, w.current)
	return out
}

// Stop releases the fsnotify watch, if any.
func (w *Watcher) Stop() {
	if w.fsw == nil {
		return
	}
	close(w.done)
	w.fsw.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("index config watch error")
		}
	}
}

func (w *Watcher) reload() {
	next, err := Load(w.path)
	if err != nil {
		w.log.Warn().Err(err).Msg("index config reload failed, keeping previous universe")
		return
	}
	w.mu.Lock()
	w.current = next
	w.mu.Unlock()
	if w.onChange != nil {
		w.onChange(next)
	}
	w.log.Info().Int("indices", len(next)).Msg("index config reloaded")
}
