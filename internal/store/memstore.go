package store

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"codeassist/internal/models"
)

type Store struct {
	mu      sync.RWMutex
	patches map[string]*models.Patch
}

func New() *Store {
	return &Store{patches: make(map[string]*models.Patch)}
}

func (s *Store) SavePatch(p *models.Patch) (*models.Patch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.patches[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *Store) GetPatch(id string) (*models.Patch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patches[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) ListPatches(path string, limit int) ([]*models.Patch, error) {
	s.mu.RLock()
	out := make([]*models.Patch, 0, len(s.patches))
	for _, p := range s.patches {
		if path != "" && p.Path != path {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkRolledBack(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patches[id]
	if !ok {
		return ErrNotFound
	}
	t := at.UTC()
	p.RolledBackAt = &t
	return nil
}

func (s *Store) Close() error { return nil }
