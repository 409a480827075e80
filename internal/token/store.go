package token

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Store persists the revoked-token set to a single JSON file, rewritten
// atomically (temp file + rename) on every revocation, so a crash
// mid-write never corrupts the persisted set.
type Store struct {
	mu   sync.Mutex
	path string
	set  map[string]struct{}
}

// Open loads path if it exists (an empty/absent file is not an error) and
// returns a Store ready for use.
func Open(path string) (*Store, error) {
	s := &Store{path: path, set: make(map[string]struct{})}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("revocation store: starting empty", "path", path)
			return s, nil
		}
		return nil, fmt.Errorf("token: read revocation store: %w", err)
	}

	var tokens []string
	if len(data) > 0 {
		if err := json.Unmarshal(data, &tokens); err != nil {
			return nil, fmt.Errorf("token: parse revocation store: %w", err)
		}
	}
	for _, t := range tokens {
		s.set[t] = struct{}{}
	}
	slog.Info("revocation store loaded", "path", path, "count", len(s.set))
	return s, nil
}

// IsRevoked reports whether tok is in the revoked set.
func (s *Store) IsRevoked(tok string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.set[tok]
	return ok
}

// Revoke adds tok to the set and atomically rewrites the backing file.
func (s *Store) Revoke(tok string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, already := s.set[tok]; already {
		return nil
	}
	s.set[tok] = struct{}{}

	tokens := make([]string, 0, len(s.set))
	for t := range s.set {
		tokens = append(tokens, t)
	}
	data, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("token: marshal revocation store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("token: create revocation store dir: %w", err)
		}
	}

	tmp, err := os.CreateTemp(dir, ".revoked-*.json")
	if err != nil {
		return fmt.Errorf("token: create temp revocation file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("token: write temp revocation file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("token: close temp revocation file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("token: rename revocation file into place: %w", err)
	}

	slog.Info("token revoked", "count", len(s.set))
	return nil
}

// Count returns the number of revoked tokens held.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.set)
}
