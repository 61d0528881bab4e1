package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/scanfleet/internal/scan"
)

// Counts summarizes the entities held by an EntityStore.
type Counts struct {
	Creatures        int `json:"creatures"`
	PointsOfInterest int `json:"points_of_interest"`
	Structures       int `json:"structures"`
}

type seen[T any] struct {
	entity   T
	lastSeen time.Time
}

// EntityStore is an idempotent in-memory entity store. Each entity is keyed by
// ID and keeps the version with the newest last-seen time, so re-delivering a
// scan never duplicates rows.
type EntityStore struct {
	mu         sync.RWMutex
	creatures  map[string]seen[scan.Creature]
	pois       map[string]seen[scan.PointOfInterest]
	structures map[string]seen[scan.Structure]
	scans      map[string]struct{}
}

// NewEntityStore returns an empty EntityStore.
func NewEntityStore() *EntityStore {
	return &EntityStore{
		creatures:  make(map[string]seen[scan.Creature]),
		pois:       make(map[string]seen[scan.PointOfInterest]),
		structures: make(map[string]seen[scan.Structure]),
		scans:      make(map[string]struct{}),
	}
}

// SaveScan upserts every entity of result using result.ScannedAt as last seen.
func (s *EntityStore) SaveScan(ctx context.Context, result scan.ScanResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ts := result.ScannedAt
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range result.Creatures {
		upsert(s.creatures, c.ID, c, ts)
	}
	for _, p := range result.PointsOfInterest {
		upsert(s.pois, p.ID, p, ts)
	}
	for _, st := range result.Structures {
		upsert(s.structures, st.ID, st, ts)
	}
	if result.ID != "" {
		s.scans[result.ID] = struct{}{}
	}
	return nil
}

func upsert[T any](m map[string]seen[T], id string, entity T, ts time.Time) {
	if prev, ok := m[id]; ok && prev.lastSeen.After(ts) {
		return
	}
	m[id] = seen[T]{entity: entity, lastSeen: ts}
}

// Counts returns the number of distinct entities per kind.
func (s *EntityStore) Counts() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Counts{
		Creatures:        len(s.creatures),
		PointsOfInterest: len(s.pois),
		Structures:       len(s.structures),
	}
}

// Scans returns the number of distinct scan IDs stored.
func (s *EntityStore) Scans() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.scans)
}

// Creatures returns stored creatures ordered by ID.
func (s *EntityStore) Creatures() []scan.Creature {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return values(s.creatures)
}

// PointsOfInterest returns stored points of interest ordered by ID.
func (s *EntityStore) PointsOfInterest() []scan.PointOfInterest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return values(s.pois)
}

// Structures returns stored structures ordered by ID.
func (s *EntityStore) Structures() []scan.Structure {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return values(s.structures)
}

func values[T any](m map[string]seen[T]) []T {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, m[id].entity)
	}
	return out
}
