// Package whitelist owns the set of user IDs authorized to join the
// monitored group. The in-memory set is authoritative while the process
// runs; every mutation synchronously rewrites the backing JSON document.
package whitelist

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// DocumentVersion is written to new whitelist documents.
const DocumentVersion = "1.0"

// document is the on-disk shape of the whitelist. A legacy bare array of
// IDs is also accepted on load and upgraded to this shape on next save.
type document struct {
	Version      string   `json:"version"`
	Created      string   `json:"created"`
	LastModified string   `json:"lastModified"`
	Users        []string `json:"users"`
}

// Store is the authorization store. User IDs are kept in their canonical
// string form; uniqueness is the only invariant. The mutex covers both
// the set and the persisted-metadata fields, because gateway events and
// commands arrive on separate goroutines.
type Store struct {
	mu      sync.Mutex
	path    string
	users   map[string]struct{}
	order   []string // insertion order, mirrored to the document
	version string
	created string
	verbose bool
	logger  *zap.Logger
}

// New creates a store backed by the document at path and loads it.
// A missing file initializes an empty set and writes a fresh document.
// A malformed file is treated as data loss: the store resets to empty,
// logs at error severity and rewrites the file.
func New(path string, logger *zap.Logger) *Store {
	s := &Store{
		path:    path,
		users:   make(map[string]struct{}),
		version: DocumentVersion,
		logger:  logger.Named("whitelist"),
	}
	s.load()

	return s
}

// load reads the document and populates the in-memory set.
func (s *Store) load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.logger.Info("Whitelist file not found, creating a new one",
			zap.String("path", s.path))
		s.persistLocked()

		return
	} else if err != nil {
		s.logger.Error("Failed to read whitelist file, resetting to empty",
			zap.String("path", s.path), zap.Error(err))
		s.persistLocked()

		return
	}

	// Legacy shape: a bare array of IDs.
	var legacy []string
	if err := sonic.Unmarshal(data, &legacy); err == nil && legacy != nil {
		s.resetLocked(legacy)
		s.logger.Info("Loaded legacy whitelist, upgrading on next save",
			zap.Int("users", len(s.users)))

		return
	}

	var doc document
	if err := sonic.Unmarshal(data, &doc); err == nil && doc.Users != nil {
		s.resetLocked(doc.Users)

		if doc.Version != "" {
			s.version = doc.Version
		}
		s.created = doc.Created

		s.logger.Info("Loaded whitelist",
			zap.Int("users", len(s.users)), zap.String("path", s.path))

		return
	}

	// Any other shape is corruption. Accepting the data loss and starting
	// over with an empty document is the documented recovery policy.
	s.logger.Error("Whitelist file is malformed, resetting to empty",
		zap.String("path", s.path))
	s.resetLocked(nil)
	s.persistLocked()
}

// resetLocked replaces the in-memory set, dropping duplicates.
func (s *Store) resetLocked(ids []string) {
	s.users = make(map[string]struct{}, len(ids))
	s.order = s.order[:0]

	for _, id := range ids {
		if _, ok := s.users[id]; ok {
			continue
		}

		s.users[id] = struct{}{}
		s.order = append(s.order, id)
	}
}

// persistLocked rewrites the whole document. Failures are logged and
// swallowed: the in-memory set remains authoritative and the next
// successful mutation retries the write.
func (s *Store) persistLocked() {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	if s.created == "" {
		s.created = now
	}

	doc := document{
		Version:      s.version,
		Created:      s.created,
		LastModified: now,
		Users:        append([]string(nil), s.order...),
	}

	data, err := sonic.ConfigDefault.MarshalIndent(doc, "", "  ")
	if err != nil {
		s.logger.Error("Failed to encode whitelist document", zap.Error(err))
		return
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			s.logger.Error("Failed to create whitelist directory",
				zap.String("dir", dir), zap.Error(err))

			return
		}
	}

	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		s.logger.Error("Failed to write whitelist file, in-memory set remains authoritative",
			zap.String("path", s.path), zap.Error(err))

		return
	}

	s.logger.Debug("Whitelist saved", zap.Int("users", len(s.order)))
}

// Add inserts id and persists. Returns false if id was already present.
func (s *Store) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; ok {
		return false
	}

	s.users[id] = struct{}{}
	s.order = append(s.order, id)
	s.persistLocked()

	return true
}

// Remove deletes id and persists. Returns false if id was not present.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return false
	}

	delete(s.users, id)

	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	s.persistLocked()

	return true
}

// Contains reports whether id is authorized. With verbose lookups
// enabled it also dumps the decision and the full set to the log; the
// dump never affects the result.
func (s *Store) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.users[id]

	if s.verbose {
		decision := "DENIED"
		if ok {
			decision = "ALLOWED"
		}

		s.logger.Info("Whitelist check",
			zap.String("user", id),
			zap.String("decision", decision),
			zap.Strings("whitelist", s.order))
	}

	return ok
}

// List returns the current set. Order carries no meaning.
func (s *Store) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.order...)
}

// Size returns the set cardinality.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.users)
}

// SetVerboseLookups toggles per-lookup debug logging.
func (s *Store) SetVerboseLookups(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.verbose = on
}

// Path returns the backing document path.
func (s *Store) Path() string {
	return s.path
}

// Describe returns a short human-readable summary for diagnostics.
func (s *Store) Describe() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return fmt.Sprintf("%d users (%s)", len(s.users), s.path)
}
