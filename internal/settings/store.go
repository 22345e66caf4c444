package settings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/natefinch/atomic"
)

const maskSuffixLen = 4

type keySpec struct {
	Secret          bool
	RequiresRestart bool
}

// allowedKeys is the fixed allow-list for the settings boundary. Updates
// to any key outside this set are silently dropped.
var allowedKeys = map[string]keySpec{
	"ANTHROPIC_API_KEY":  {Secret: true, RequiresRestart: true},
	"ANTHROPIC_MODEL":    {},
	"AGENT_PROVIDER":     {RequiresRestart: true},
	"DATABASE_URL":       {Secret: true, RequiresRestart: true},
	"APP_WORKSPACE_ROOT": {RequiresRestart: true},
	"APP_ROOM_ENABLED":   {RequiresRestart: true},
	"APP_LOG_LEVEL":      {},
}

// Store is a small file-backed key-value store for user-editable
// configuration. Writes go through an atomic rename so a crash can never
// leave a torn settings file.
type Store struct {
	path string

	mu     sync.RWMutex
	values map[string]string
}

// Open loads the settings file at path, creating an empty store when the
// file does not exist yet.
func Open(path string) (*Store, error) {
	s := &Store{
		path:   strings.TrimSpace(path),
		values: make(map[string]string),
	}
	if s.path == "" {
		return s, nil
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s.values); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	// Drop anything a previous version may have stored outside the
	// current allow-list.
	for key := range s.values {
		if _, ok := allowedKeys[key]; !ok {
			delete(s.values, key)
		}
	}
	return s, nil
}

// Get returns the raw value for one key.
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Masked returns all stored settings with secret values reduced to a
// fixed-length suffix, suitable for display.
func (s *Store) Masked() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.values))
	for key, value := range s.values {
		if allowedKeys[key].Secret {
			out[key] = maskValue(value)
		} else {
			out[key] = value
		}
	}
	return out
}

// Update applies a partial update. Unknown keys are dropped without
// error. It reports which keys changed and whether any changed key is
// flagged as requiring a restart; the server never restarts itself.
// Changes are staged and only adopted once the file write succeeds, so a
// failed update leaves both memory and disk as they were.
func (s *Store) Update(partial map[string]string) (changed []string, restartNeeded bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[string]string, len(s.values)+len(partial))
	for key, value := range s.values {
		staged[key] = value
	}
	for key, value := range partial {
		spec, ok := allowedKeys[key]
		if !ok {
			continue
		}
		if current, exists := staged[key]; exists && current == value {
			continue
		}
		staged[key] = value
		changed = append(changed, key)
		if spec.RequiresRestart {
			restartNeeded = true
		}
	}
	if len(changed) == 0 {
		return nil, false, nil
	}
	sort.Strings(changed)

	if err := s.flush(staged); err != nil {
		return nil, false, err
	}
	s.values = staged
	return changed, restartNeeded, nil
}

func (s *Store) flush(values map[string]string) error {
	if s.path == "" {
		return nil
	}
	raw, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

func maskValue(value string) string {
	if len(value) <= maskSuffixLen {
		return "****"
	}
	return "****" + value[len(value)-maskSuffixLen:]
}
