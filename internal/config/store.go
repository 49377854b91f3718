// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"

	"github.com/rapidaai/calld/internal/log"
)

// ExpertConfig mirrors §6's expert_config shape.
type ExpertConfig struct {
	EnabledModels  []string `json:"enabled_models"`
	DefaultModel   string   `json:"default_model"`
	MinConfidence  float64  `json:"min_confidence"`
}

// Runtime is the persisted subset of Config (§3): AI-instructions and
// expert-instructions are deliberately excluded — they live only in
// memory and reset on restart (§9 "Two separate instruction strings").
type Runtime struct {
	Model        string       `json:"model"`
	ExpertConfig ExpertConfig `json:"expert_config"`
}

// Store guards the runtime config behind a single-writer mutex and
// persists it with write-temp-then-rename, matching
// original_source/server/app/main.py's load_config/save_config: write
// the JSON, then read it back and confirm every key round-tripped.
type Store struct {
	mu     sync.RWMutex
	path   string
	logger log.Logger
	value  Runtime
}

// NewStore loads path if present, or starts from defaults without
// writing the file (it is first written by SetModel/SetExpertConfig). A malformed
// or missing file is not fatal: the daemon logs and falls back to
// defaults (§6 "on malformed content the daemon logs and uses defaults").
func NewStore(path string, logger log.Logger, defaults Runtime) *Store {
	s := &Store{path: path, logger: logger, value: defaults}
	if data, err := os.ReadFile(path); err == nil {
		var loaded Runtime
		if err := json.Unmarshal(data, &loaded); err != nil {
			logger.Error("runtime config malformed, using defaults", "path", path, "error", err)
		} else {
			s.value = loaded
		}
	}
	return s
}

// Get returns a copy of the current runtime config.
func (s *Store) Get() Runtime {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Model returns just the active AI model, the common case for C5/C7.
func (s *Store) Model() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value.Model
}

// SetModel updates and persists the model field in isolation, leaving
// expert_config untouched. Returns the persistence error (if any)
// separately from whether the in-memory value took effect — §6/§8 S6
// requires both to be reported independently.
func (s *Store) SetModel(model string) error {
	s.mu.Lock()
	s.value.Model = model
	snapshot := s.value
	s.mu.Unlock()
	return s.persist(snapshot)
}

// SetExpertConfig updates and persists expert_config.
func (s *Store) SetExpertConfig(ec ExpertConfig) error {
	s.mu.Lock()
	s.value.ExpertConfig = ec
	snapshot := s.value
	s.mu.Unlock()
	return s.persist(snapshot)
}

// persist writes snapshot atomically: write to a temp file in the same
// directory, then rename over the target (atomic on POSIX filesystems),
// then re-read and verify every field survived — the same defensive
// round-trip check as the original's save_config.
func (s *Store) persist(snapshot Runtime) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp config file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename config file into place: %w", err)
	}

	verify, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("verify config write: %w", err)
	}
	var roundTripped Runtime
	if err := json.Unmarshal(verify, &roundTripped); err != nil {
		return fmt.Errorf("verify config write: decode: %w", err)
	}
	if roundTripped.Model != snapshot.Model {
		return fmt.Errorf("verify config write: model field did not round-trip")
	}
	if !reflect.DeepEqual(roundTripped.ExpertConfig, snapshot.ExpertConfig) {
		return fmt.Errorf("verify config write: expert_config field did not round-trip")
	}

	s.logger.Info("runtime config persisted", "path", s.path, "model", snapshot.Model)
	return nil
}
