// Package persistence provides the repository implementations: JSON files
// for single-node setups, SQLite and MongoDB.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/embedg/embedg/pkg/domain/provenance"
	"github.com/embedg/embedg/pkg/domain/savedmsg"
)

// ---------------------------------------------------------------------------
// Generic JSON file store
// ---------------------------------------------------------------------------

// JSONStore keeps one JSON file per item under baseDir, with an in-memory
// copy of every item. Writes go to a temp file first and are renamed into
// place.
type JSONStore[T any] struct {
	baseDir string
	items   map[string]*T
	mu      sync.RWMutex
}

// NewJSONStore creates the directory and loads every item in it.
func NewJSONStore[T any](baseDir string) (*JSONStore[T], error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create dir %s: %w", baseDir, err)
	}
	s := &JSONStore[T]{
		baseDir: baseDir,
		items:   make(map[string]*T),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JSONStore[T]) load() error {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.baseDir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read %s: %w", entry.Name(), err)
		}

		var item T
		if err := json.Unmarshal(data, &item); err != nil {
			return fmt.Errorf("decode %s: %w", entry.Name(), err)
		}
		s.items[strings.TrimSuffix(entry.Name(), ".json")] = &item
	}
	return nil
}

// Get returns a copy of the item stored under id.
func (s *JSONStore[T]) Get(id string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		var zero T
		return zero, false
	}
	return *item, true
}

// Put stores item under id.
func (s *JSONStore[T]) Put(id string, item T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(id, &item)
}

// Update replaces the item under id with fn(current). current is nil when
// nothing is stored yet. The read and write happen under one lock.
func (s *JSONStore[T]) Update(id string, fn func(current *T) T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cur *T
	if item, ok := s.items[id]; ok {
		c := *item
		cur = &c
	}
	next := fn(cur)
	return s.put(id, &next)
}

func (s *JSONStore[T]) put(id string, item *T) error {
	data, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	path := s.path(id)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	s.items[id] = item
	return nil
}

// Remove deletes the item under id and reports whether it existed.
func (s *JSONStore[T]) Remove(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return false, nil
	}
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("remove %s: %w", id, err)
	}
	delete(s.items, id)
	return true, nil
}

// Filter returns copies of the items matching keep.
func (s *JSONStore[T]) Filter(keep func(*T) bool) []T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]T, 0)
	for _, item := range s.items {
		if keep(item) {
			result = append(result, *item)
		}
	}
	return result
}

// Count returns the number of stored items.
func (s *JSONStore[T]) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// path maps an id to its file. Ids are Discord snowflakes or uuids; anything
// else is reduced to a safe file name.
func (s *JSONStore[T]) path(id string) string {
	safe := strings.Map(func(r rune) rune {
		if r == '-' || r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			return r
		}
		return '_'
	}, id)
	return filepath.Join(s.baseDir, safe+".json")
}

// ---------------------------------------------------------------------------
// Provenance repository
// ---------------------------------------------------------------------------

// FileProvenanceRepository is the filesystem-backed provenance.Repository.
type FileProvenanceRepository struct {
	store *JSONStore[provenance.Record]
}

func NewFileProvenanceRepository(baseDir string) (*FileProvenanceRepository, error) {
	store, err := NewJSONStore[provenance.Record](filepath.Join(baseDir, "channel_messages"))
	if err != nil {
		return nil, err
	}
	return &FileProvenanceRepository{store: store}, nil
}

func (r *FileProvenanceRepository) Upsert(_ context.Context, rec provenance.Record) error {
	return r.store.Update(rec.MessageID, func(cur *provenance.Record) provenance.Record {
		return provenance.Merge(cur, rec)
	})
}

func (r *FileProvenanceRepository) FindByMessageID(_ context.Context, messageID string) (*provenance.Record, error) {
	rec, ok := r.store.Get(messageID)
	if !ok {
		return nil, provenance.ErrNotFound
	}
	return &rec, nil
}

// ---------------------------------------------------------------------------
// Saved message repository
// ---------------------------------------------------------------------------

// FileSavedMessageRepository is the filesystem-backed savedmsg.Repository.
type FileSavedMessageRepository struct {
	store *JSONStore[savedmsg.SavedMessage]
}

func NewFileSavedMessageRepository(baseDir string) (*FileSavedMessageRepository, error) {
	store, err := NewJSONStore[savedmsg.SavedMessage](filepath.Join(baseDir, "saved_messages"))
	if err != nil {
		return nil, err
	}
	return &FileSavedMessageRepository{store: store}, nil
}

func (r *FileSavedMessageRepository) Save(_ context.Context, m *savedmsg.SavedMessage) error {
	return r.store.Put(m.ID, *m)
}

func (r *FileSavedMessageRepository) FindByID(_ context.Context, id string) (*savedmsg.SavedMessage, error) {
	m, ok := r.store.Get(id)
	if !ok {
		return nil, savedmsg.ErrNotFound
	}
	return &m, nil
}

func (r *FileSavedMessageRepository) ExistsByOwnerAndID(_ context.Context, ownerID, id string) (bool, error) {
	m, ok := r.store.Get(id)
	return ok && m.OwnerID == ownerID, nil
}

func (r *FileSavedMessageRepository) ListByOwner(_ context.Context, ownerID string) ([]*savedmsg.SavedMessage, error) {
	items := r.store.Filter(func(m *savedmsg.SavedMessage) bool { return m.OwnerID == ownerID })
	out := make([]*savedmsg.SavedMessage, len(items))
	for i := range items {
		out[i] = &items[i]
	}
	sortByUpdated(out)
	return out, nil
}

func (r *FileSavedMessageRepository) Delete(_ context.Context, ownerID, id string) error {
	m, ok := r.store.Get(id)
	if !ok || m.OwnerID != ownerID {
		return savedmsg.ErrNotFound
	}
	_, err := r.store.Remove(id)
	return err
}

func sortByUpdated(ms []*savedmsg.SavedMessage) {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].UpdatedAt.Equal(ms[j].UpdatedAt) {
			return ms[i].ID < ms[j].ID
		}
		return ms[i].UpdatedAt.After(ms[j].UpdatedAt)
	})
}

var (
	_ provenance.Repository = (*FileProvenanceRepository)(nil)
	_ savedmsg.Repository   = (*FileSavedMessageRepository)(nil)
)
