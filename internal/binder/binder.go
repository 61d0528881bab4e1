// Package binder pairs accounts with scan locations before the fleet starts.
package binder

import (
	"github.com/JakeFAU/scanfleet/internal/scan"
)

// Binding is the outcome of pairing accounts with locations.
type Binding struct {
	Assignments []scan.Assignment
	// Dropped holds the locations left without an account, in input order.
	Dropped []scan.Location
}

// Bind pairs locations[i] with accounts[i] for every i that has both. Excess
// locations are dropped (reported in Binding.Dropped); spare accounts are
// ignored. Binding zero pairs is a configuration error. Bind has no side
// effects.
func Bind(locations []scan.Location, accounts []scan.Account) (Binding, error) {
	n := min(len(locations), len(accounts))

	binding := Binding{Assignments: make([]scan.Assignment, 0, n)}
	for i := range n {
		binding.Assignments = append(binding.Assignments, scan.Assignment{
			Index:    i,
			Location: locations[i],
			Account:  accounts[i],
		})
	}
	if len(locations) > n {
		binding.Dropped = append([]scan.Location(nil), locations[n:]...)
	}

	if n == 0 {
		return binding, scan.NewConfigurationError(
			"no locations could be bound (%d locations, %d accounts)",
			len(locations),
			len(accounts),
		)
	}
	return binding, nil
}
