package scan

// EntityFilter selects which entity kinds are forwarded to the sink.
type EntityFilter struct {
	Creatures        bool
	PointsOfInterest bool
	Structures       bool
}

// AllEntities forwards every entity kind.
func AllEntities() EntityFilter {
	return EntityFilter{Creatures: true, PointsOfInterest: true, Structures: true}
}

// Apply returns a copy of result with disabled entity kinds removed.
func (f EntityFilter) Apply(result ScanResult) ScanResult {
	if !f.Creatures {
		result.Creatures = nil
	}
	if !f.PointsOfInterest {
		result.PointsOfInterest = nil
	}
	if !f.Structures {
		result.Structures = nil
	}
	return result
}

// Validate drops entities without an ID or with out-of-range coordinates and
// returns the cleaned result plus the number of entities discarded.
func Validate(result ScanResult) (ScanResult, int) {
	dropped := 0

	creatures := make([]Creature, 0, len(result.Creatures))
	for _, c := range result.Creatures {
		if c.ID == "" || !validCoordinate(c.Latitude, c.Longitude) {
			dropped++
			continue
		}
		creatures = append(creatures, c)
	}

	pois := make([]PointOfInterest, 0, len(result.PointsOfInterest))
	for _, p := range result.PointsOfInterest {
		if p.ID == "" || !validCoordinate(p.Latitude, p.Longitude) {
			dropped++
			continue
		}
		pois = append(pois, p)
	}

	structures := make([]Structure, 0, len(result.Structures))
	for _, s := range result.Structures {
		if s.ID == "" || !validCoordinate(s.Latitude, s.Longitude) {
			dropped++
			continue
		}
		structures = append(structures, s)
	}

	result.Creatures = creatures
	result.PointsOfInterest = pois
	result.Structures = structures
	return result, dropped
}
