package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	kconfig "github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/file"
	"gopkg.in/yaml.v3"
)

type overlayEntry struct {
	value   any
	persist bool
}

// KratosStore reads through a Kratos config.Config and keeps writes in an
// in-memory overlay. Overlay entries marked persistent are merged into a YAML
// file by Persist.
type KratosStore struct {
	source  kconfig.Config
	overlay map[string]overlayEntry
	// removed hides source keys after Remove or Clear.
	removed     map[string]struct{}
	hideSource  bool
	persistPath string
}

// KratosOption configures a KratosStore.
type KratosOption func(*KratosStore)

// WithPersistPath sets the YAML file Persist writes to.
func WithPersistPath(path string) KratosOption {
	return func(s *KratosStore) { s.persistPath = path }
}

// NewKratosStore wraps an already loaded Kratos config. source may be nil.
func NewKratosStore(source kconfig.Config, opts ...KratosOption) *KratosStore {
	s := &KratosStore{
		source:  source,
		overlay: make(map[string]overlayEntry),
		removed: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// LoadFile builds a KratosStore from a YAML/JSON file or directory. The same
// path receives persisted values unless WithPersistPath overrides it; a
// directory source persists into <dir>/nexus.persist.yaml.
func LoadFile(path string, opts ...KratosOption) (*KratosStore, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config %s: %w", path, err)
	}
	cfg := kconfig.New(kconfig.WithSource(file.NewSource(path)))
	if err := cfg.Load(); err != nil {
		return nil, fmt.Errorf("failed to load configuration from %s: %w", path, err)
	}
	persist := path
	if info.IsDir() {
		persist = filepath.Join(path, "nexus.persist.yaml")
	}
	return NewKratosStore(cfg, append([]KratosOption{WithPersistPath(persist)}, opts...)...), nil
}

// Source exposes the wrapped Kratos config, nil when none.
func (s *KratosStore) Source() kconfig.Config { return s.source }

func (s *KratosStore) Value(key string) (any, bool) {
	if e, ok := s.overlay[key]; ok {
		return e.value, true
	}
	if s.hideSource || s.source == nil {
		return nil, false
	}
	if _, gone := s.removed[key]; gone {
		return nil, false
	}
	v := s.source.Value(key).Load()
	if v == nil {
		return nil, false
	}
	return v, true
}

func (s *KratosStore) Set(key string, v any, persist bool) error {
	if key == "" {
		return errors.New("config key is empty")
	}
	s.overlay[key] = overlayEntry{value: v, persist: persist}
	delete(s.removed, key)
	return nil
}

func (s *KratosStore) Remove(key string) bool {
	_, ok := s.Value(key)
	delete(s.overlay, key)
	s.removed[key] = struct{}{}
	return ok
}

// Clear drops the overlay and hides every source key until the store is rebuilt.
func (s *KratosStore) Clear() {
	s.overlay = make(map[string]overlayEntry)
	s.removed = make(map[string]struct{})
	s.hideSource = true
}

func (s *KratosStore) Keys() []string {
	set := make(map[string]struct{})
	if !s.hideSource {
		for k := range s.sourceValues() {
			if _, gone := s.removed[k]; !gone {
				set[k] = struct{}{}
			}
		}
	}
	for k := range s.overlay {
		set[k] = struct{}{}
	}
	return sortedKeys(set)
}

func (s *KratosStore) sourceValues() map[string]any {
	flat := make(map[string]any)
	if s.source == nil {
		return flat
	}
	var nested map[string]any
	if err := s.source.Scan(&nested); err != nil {
		return flat
	}
	flatten("", nested, flat)
	return flat
}

// Persist merges persistent overlay entries into the persist file. Keys that
// were removed are dropped from the file as well.
func (s *KratosStore) Persist() error {
	if s.persistPath == "" {
		return nil
	}
	flat := make(map[string]any)
	if b, err := os.ReadFile(s.persistPath); err == nil {
		var nested map[string]any
		if err := yaml.Unmarshal(b, &nested); err != nil {
			return fmt.Errorf("decode %s: %w", s.persistPath, err)
		}
		flatten("", nested, flat)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read %s: %w", s.persistPath, err)
	}

	changed := false
	for k := range s.removed {
		if _, ok := flat[k]; ok {
			delete(flat, k)
			changed = true
		}
	}
	for k, e := range s.overlay {
		if e.persist {
			flat[k] = e.value
			changed = true
		}
	}
	if !changed {
		return nil
	}

	out, err := yaml.Marshal(expand(flat))
	if err != nil {
		return fmt.Errorf("encode persisted config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.persistPath), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(s.persistPath, out, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", s.persistPath, err)
	}
	return nil
}

// Close stops the watchers of the wrapped Kratos config.
func (s *KratosStore) Close() error {
	if s.source == nil {
		return nil
	}
	return s.source.Close()
}
