package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Memory keeps artifacts in process. It is used when no database is configured.
type Memory struct {
	mu        sync.Mutex
	artifacts map[uuid.UUID]Artifact
}

func NewMemory() *Memory {
	return &Memory{artifacts: make(map[uuid.UUID]Artifact)}
}

func (m *Memory) SaveArtifact(_ context.Context, a Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts[a.ID] = a
	return nil
}

func (m *Memory) TakeArtifact(_ context.Context, id uuid.UUID) (*Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.artifacts[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.artifacts, id)
	return &a, nil
}

func (m *Memory) ListRun(_ context.Context, runID uuid.UUID) ([]Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Artifact
	for _, a := range m.artifacts {
		if a.RunID == runID {
			a.Content = nil
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
