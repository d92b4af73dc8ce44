package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const configFileName = "config.json"

// Settings are the values the server persists between runs.
type Settings struct {
	Model                string
	BuiltinToolsDisabled bool
}

// Store reads and writes config.json. Keys it does not know about are kept
// as they are.
type Store struct {
	mu   sync.Mutex
	path string
}

func NewStore(dir string) *Store {
	return &Store{path: filepath.Join(dir, configFileName)}
}

func (s *Store) Path() string {
	return s.path
}

// Load returns zero Settings when the file is missing or unreadable.
func (s *Store) Load() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.read()
	if err != nil {
		return Settings{}
	}

	var st Settings
	if v, ok := raw["model"]; ok {
		json.Unmarshal(v, &st.Model)
	}
	if v, ok := raw["builtin_tools_disabled"]; ok {
		json.Unmarshal(v, &st.BuiltinToolsDisabled)
	}
	return st
}

func (s *Store) SaveModel(model string) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return fmt.Errorf("%w: model name cannot be empty", ErrInvalidValue)
	}
	return s.update("model", model)
}

func (s *Store) SaveBuiltinToolsDisabled(disabled bool) error {
	return s.update("builtin_tools_disabled", disabled)
}

func (s *Store) update(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.read()
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	raw[key] = encoded

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return s.writeAtomic(append(data, '\n'))
}

// read returns an empty map for a missing file. A file that exists but is
// not a JSON object is an error so update never overwrites it.
func (s *Store) read() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]json.RawMessage), nil
	}
	if err != nil {
		return nil, fmt.Errorf("config file error at %s: %w", s.path, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config file error at %s: %w: %v", s.path, ErrInvalidValue, err)
	}
	if raw == nil {
		raw = make(map[string]json.RawMessage)
	}
	return raw, nil
}

// writeAtomic writes to a temp file in the same directory and renames it
// over the target, so readers never see a partial file.
func (s *Store) writeAtomic(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config file error at %s: %w", dir, err)
	}

	tmp := filepath.Join(dir, ".config.tmp."+uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("config file error at %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("config file error at %s: %w", s.path, err)
	}
	return nil
}
