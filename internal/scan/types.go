package scan

import (
	"fmt"
	"strconv"
	"time"

	"github.com/twpayne/go-geom"
)

// SRID is the spatial reference used for every persisted coordinate (WGS 84).
const SRID = 4326

// Location is a geographic scan origin. It is immutable once assigned.
type Location struct {
	Latitude  float64 `json:"latitude" mapstructure:"latitude"`
	Longitude float64 `json:"longitude" mapstructure:"longitude"`
	Altitude  float64 `json:"altitude" mapstructure:"altitude"`
}

// String renders the location as "lat,lng".
func (l Location) String() string {
	return strconv.FormatFloat(l.Latitude, 'f', 6, 64) + "," + strconv.FormatFloat(l.Longitude, 'f', 6, 64)
}

// Valid reports whether the coordinates fall inside WGS 84 bounds.
func (l Location) Valid() bool {
	return validCoordinate(l.Latitude, l.Longitude)
}

// Point converts the location into a go-geom point tagged with SRID 4326.
func (l Location) Point() *geom.Point {
	return geom.NewPointFlat(geom.XYZ, []float64{l.Longitude, l.Latitude, l.Altitude}).SetSRID(SRID)
}

// Account is an opaque credential handle. Each account is bound to at most one
// location at a time.
type Account struct {
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"-" mapstructure:"password"`
	Provider string `json:"provider" mapstructure:"provider"`
}

// String identifies the account without exposing its secret.
func (a Account) String() string {
	if a.Provider == "" {
		return a.Username
	}
	return a.Provider + ":" + a.Username
}

// Assignment is one bound (Location, Account) pair.
type Assignment struct {
	Index    int      `json:"index"`
	Location Location `json:"location"`
	Account  Account  `json:"account"`
}

// WorkerID returns a stable identifier for the worker owning the assignment.
func (a Assignment) WorkerID() string {
	return fmt.Sprintf("worker-%d", a.Index)
}

// Creature is a transient creature sighting.
type Creature struct {
	ID           string    `json:"id"`
	SpeciesID    int       `json:"species_id"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	DisappearsAt time.Time `json:"disappears_at"`
}

// PointOfInterest is a static map feature that may carry a temporary lure.
type PointOfInterest struct {
	ID            string     `json:"id"`
	Latitude      float64    `json:"latitude"`
	Longitude     float64    `json:"longitude"`
	Enabled       bool       `json:"enabled"`
	LureExpiresAt *time.Time `json:"lure_expires_at,omitempty"`
	LastModified  time.Time  `json:"last_modified"`
}

// Structure is a contested structure controlled by a team.
type Structure struct {
	ID             string    `json:"id"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	TeamID         int       `json:"team_id"`
	GuardSpeciesID int       `json:"guard_species_id"`
	Points         int       `json:"points"`
	Enabled        bool      `json:"enabled"`
	LastModified   time.Time `json:"last_modified"`
}

// ScanResult is the transient output of a single scan. It is handed to the
// ingestion sink and never retained by the fleet.
type ScanResult struct {
	ID               string            `json:"id"`
	Location         Location          `json:"location"`
	ScannedAt        time.Time         `json:"scanned_at"`
	Creatures        []Creature        `json:"creatures"`
	PointsOfInterest []PointOfInterest `json:"points_of_interest"`
	Structures       []Structure       `json:"structures"`
}

// Count returns the number of entities carried by the result.
func (r ScanResult) Count() int {
	return len(r.Creatures) + len(r.PointsOfInterest) + len(r.Structures)
}

// Empty reports whether the result carries no entities.
func (r ScanResult) Empty() bool {
	return r.Count() == 0
}

// WorkerStatus is the lifecycle state of a worker.
type WorkerStatus string

// Worker status values reported by the fleet health view.
const (
	StatusIdle     WorkerStatus = "idle"
	StatusScanning WorkerStatus = "scanning"
	StatusPaused   WorkerStatus = "paused"
	StatusFailed   WorkerStatus = "failed"
	StatusStopped  WorkerStatus = "stopped"
)

// AllStatuses lists every worker status in display order.
var AllStatuses = []WorkerStatus{StatusIdle, StatusScanning, StatusPaused, StatusFailed, StatusStopped}

// FailureKind records why a worker reached StatusFailed.
type FailureKind string

// Failure kinds distinguish lost capacity from an exhausted retry budget.
const (
	FailureNone      FailureKind = ""
	FailureExhausted FailureKind = "exhausted"
	FailureFatal     FailureKind = "fatal"
)

// WorkerState is the observable state of a single worker.
type WorkerState struct {
	ID                  string       `json:"id"`
	Location            Location     `json:"location"`
	Account             Account      `json:"account"`
	Status              WorkerStatus `json:"status"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastSuccess         time.Time    `json:"last_success,omitempty"`
	FailureKind         FailureKind  `json:"failure_kind,omitempty"`
	LastError           string       `json:"last_error,omitempty"`
}

// FleetStatus is a read-only health snapshot of every worker.
type FleetStatus struct {
	Total           int                  `json:"total"`
	ByStatus        map[WorkerStatus]int `json:"by_status"`
	Backoff         int                  `json:"backoff"`
	FailedFatal     int                  `json:"failed_fatal"`
	FailedExhausted int                  `json:"failed_exhausted"`
	Paused          bool                 `json:"paused"`
	Degraded        bool                 `json:"degraded"`
	AllFailed       bool                 `json:"all_failed"`
	Workers         []WorkerState        `json:"workers"`
}

// Summarize builds a FleetStatus from individual worker states.
func Summarize(states []WorkerState, paused bool) FleetStatus {
	status := FleetStatus{
		Total:    len(states),
		ByStatus: make(map[WorkerStatus]int, len(AllStatuses)),
		Paused:   paused,
		Workers:  states,
	}
	for _, s := range AllStatuses {
		status.ByStatus[s] = 0
	}
	for _, st := range states {
		status.ByStatus[st.Status]++
		switch {
		case st.Status == StatusFailed && st.FailureKind == FailureFatal:
			status.FailedFatal++
		case st.Status == StatusFailed:
			status.FailedExhausted++
		case st.ConsecutiveFailures > 0:
			status.Backoff++
		}
	}
	failed := status.ByStatus[StatusFailed]
	status.Degraded = failed > 0 || status.Backoff > 0
	status.AllFailed = status.Total > 0 && failed == status.Total
	return status
}

func validCoordinate(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
