package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ClearPath-Edu/articulate/core/pkg/engine"
	"github.com/ClearPath-Edu/articulate/core/pkg/model"
)

// MemoryStore is an in-process Store for tests and single-node tooling.
// All reads and writes go through deep copies so published snapshots stay
// immutable even if a caller mutates what it was handed.
type MemoryStore struct {
	mu           sync.RWMutex
	requirements map[string]*model.TransferRequirement
	versions     map[string][]model.RequirementVersion
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requirements: make(map[string]*model.TransferRequirement),
		versions:     make(map[string][]model.RequirementVersion),
	}
}

func (s *MemoryStore) SaveRequirement(_ context.Context, req *model.TransferRequirement) error {
	if req == nil || req.ID == "" {
		return fmt.Errorf("store: requirement must have an id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := req.Clone()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.UpdatedAt = time.Now().UTC()
	s.requirements[cp.ID] = cp
	return nil
}

func (s *MemoryStore) GetRequirement(_ context.Context, id string) (*model.TransferRequirement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requirements[id]
	if !ok {
		return nil, ErrNotFound
	}
	return req.Clone(), nil
}

func (s *MemoryStore) PublishVersion(_ context.Context, requirementID string, rules model.RequirementRules, publishedBy string, changeLog []string) (*model.RequirementVersion, error) {
	if err := admit(engine.Version, &rules); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requirements[requirementID]
	if !ok {
		return nil, ErrNotFound
	}

	next := 1
	if existing := s.versions[requirementID]; len(existing) > 0 {
		next = existing[len(existing)-1].Version + 1
	}
	ver := model.RequirementVersion{
		ID:            uuid.New().String(),
		RequirementID: requirementID,
		Version:       next,
		Rules:         rules,
		PublishedBy:   publishedBy,
		PublishedAt:   time.Now().UTC(),
		EngineVersion: engine.Version,
		ChangeLog:     append([]string(nil), changeLog...),
	}
	s.versions[requirementID] = append(s.versions[requirementID], *ver.Clone())

	req.Status = model.StatusPublished
	req.CurrentVersion = next
	req.UpdatedAt = ver.PublishedAt
	return ver.Clone(), nil
}

func (s *MemoryStore) GetActiveVersion(ctx context.Context, requirementID string) (*model.RequirementVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requirements[requirementID]
	if !ok || req.CurrentVersion == 0 {
		return nil, ErrNotFound
	}
	return s.versionLocked(requirementID, req.CurrentVersion)
}

func (s *MemoryStore) GetVersion(_ context.Context, requirementID string, version int) (*model.RequirementVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.versionLocked(requirementID, version)
}

func (s *MemoryStore) versionLocked(requirementID string, version int) (*model.RequirementVersion, error) {
	for i := range s.versions[requirementID] {
		if s.versions[requirementID][i].Version == version {
			return s.versions[requirementID][i].Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListVersions(_ context.Context, requirementID string) ([]model.RequirementVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.versions[requirementID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]model.RequirementVersion, 0, len(stored))
	for i := range stored {
		out = append(out, *stored[i].Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}
