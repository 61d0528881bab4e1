// Package mock provides a deterministic Scanner for demo mode and tests. It
// never touches the network.
package mock

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/JakeFAU/scanfleet/internal/clock/system"
	"github.com/JakeFAU/scanfleet/internal/hash/sha256"
	"github.com/JakeFAU/scanfleet/internal/scan"
)

const (
	creatureLifetime = 15 * time.Minute
	lureLifetime     = 30 * time.Minute
)

// creatureOffsets are fixed (dlat, dlng, species) triples around the scan origin.
var creatureOffsets = []struct {
	dLat, dLng float64
	species    int
}{
	{0.0005, 0.0005, 16},
	{-0.0007, 0.0003, 19},
	{0.0002, -0.0009, 25},
}

var poiOffsets = []struct {
	dLat, dLng float64
	lured      bool
}{
	{0.0010, 0.0000, true},
	{0.0000, -0.0012, false},
}

var structureOffsets = []struct {
	dLat, dLng float64
	team       int
	guard      int
	points     int
}{
	{-0.0011, -0.0011, 1, 131, 2000},
}

// Scanner fabricates one fixed result per location and then idles, returning
// empty results on every later call.
type Scanner struct {
	clock  scan.Clock
	hasher *sha256.Hasher

	mu    sync.Mutex
	seen  map[scan.Location]bool
	calls int
}

// Option customizes the mock Scanner.
type Option func(*Scanner)

// WithClock overrides the clock used for entity timestamps.
func WithClock(clock scan.Clock) Option {
	return func(s *Scanner) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New returns a mock Scanner.
func New(opts ...Option) *Scanner {
	s := &Scanner{
		clock:  system.New(),
		hasher: sha256.New(),
		seen:   make(map[scan.Location]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan implements scan.Scanner.
func (s *Scanner) Scan(ctx context.Context, location scan.Location, _ scan.Account) (scan.ScanResult, error) {
	if err := ctx.Err(); err != nil {
		return scan.ScanResult{}, err
	}
	s.mu.Lock()
	s.calls++
	first := !s.seen[location]
	s.seen[location] = true
	s.mu.Unlock()

	now := s.clock.Now()
	if !first {
		return scan.ScanResult{Location: location, ScannedAt: now}, nil
	}
	return s.Fixture(location, now), nil
}

// Calls returns the number of Scan invocations.
func (s *Scanner) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Fixture builds the deterministic result for location at time now. IDs
// depend only on the location, so repeated fixtures deduplicate in any
// idempotent sink.
func (s *Scanner) Fixture(location scan.Location, now time.Time) scan.ScanResult {
	origin := location.String()
	result := scan.ScanResult{
		ID:        s.hasher.ID("scan", origin),
		Location:  location,
		ScannedAt: now,
	}
	for i, off := range creatureOffsets {
		result.Creatures = append(result.Creatures, scan.Creature{
			ID:           s.hasher.ID("creature", origin, strconv.Itoa(i)),
			SpeciesID:    off.species,
			Latitude:     location.Latitude + off.dLat,
			Longitude:    location.Longitude + off.dLng,
			DisappearsAt: now.Add(creatureLifetime),
		})
	}
	for i, off := range poiOffsets {
		poi := scan.PointOfInterest{
			ID:           s.hasher.ID("poi", origin, strconv.Itoa(i)),
			Latitude:     location.Latitude + off.dLat,
			Longitude:    location.Longitude + off.dLng,
			Enabled:      true,
			LastModified: now,
		}
		if off.lured {
			expires := now.Add(lureLifetime)
			poi.LureExpiresAt = &expires
		}
		result.PointsOfInterest = append(result.PointsOfInterest, poi)
	}
	for i, off := range structureOffsets {
		result.Structures = append(result.Structures, scan.Structure{
			ID:             s.hasher.ID("structure", origin, strconv.Itoa(i)),
			Latitude:       location.Latitude + off.dLat,
			Longitude:      location.Longitude + off.dLng,
			TeamID:         off.team,
			GuardSpeciesID: off.guard,
			Points:         off.points,
			Enabled:        true,
			LastModified:   now,
		})
	}
	return result
}
