// Package scan defines the core types and contracts shared by the scan
// fleet: locations, accounts, scan results, worker state, and the
// interfaces implemented by scanners, sinks, and supporting services.
package scan
