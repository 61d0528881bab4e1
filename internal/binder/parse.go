package binder

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/scanfleet/internal/scan"
)

var coordinatePattern = regexp.MustCompile(`^(-?\d+(?:\.\d+)?),\s?(-?\d+(?:\.\d+)?)(?:,\s?(-?\d+(?:\.\d+)?))?$`)

// ParseLocations parses "lat,lng" or "lat,lng,alt" entries. A single entry may
// hold several locations separated by "|".
func ParseLocations(raw []string) ([]scan.Location, error) {
	var out []scan.Location
	for _, entry := range raw {
		for _, part := range strings.Split(entry, "|") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			loc, err := ParseLocation(part)
			if err != nil {
				return nil, err
			}
			out = append(out, loc)
		}
	}
	return out, nil
}

// ParseLocation parses a single coordinate string.
func ParseLocation(raw string) (scan.Location, error) {
	m := coordinatePattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return scan.Location{}, scan.NewConfigurationError("location %q is not of the form lat,lng[,alt]", raw)
	}
	lat, _ := strconv.ParseFloat(m[1], 64)
	lng, _ := strconv.ParseFloat(m[2], 64)
	var alt float64
	if m[3] != "" {
		alt, _ = strconv.ParseFloat(m[3], 64)
	}
	loc := scan.Location{Latitude: lat, Longitude: lng, Altitude: alt}
	if !loc.Valid() {
		return scan.Location{}, scan.NewConfigurationError("location %q is out of range", raw)
	}
	return loc, nil
}

// providers are the login providers accepted in the three-part account form.
var providers = map[string]bool{"ptc": true, "google": true}

// ParseAccount parses "provider:username:password" or "username:password"
// (provider defaults to "ptc"). A password containing ':' needs the
// three-part form, since "user:pa:ss" is otherwise ambiguous.
func ParseAccount(raw string) (scan.Account, error) {
	parts := strings.SplitN(strings.TrimSpace(raw), ":", 3)
	switch len(parts) {
	case 2:
		parts = append([]string{"ptc"}, parts...)
	case 3:
		if !providers[parts[0]] {
			return scan.Account{}, scan.NewConfigurationError(
				"account %q: unknown provider; a password containing ':' needs the provider:username:password form",
				parts[0])
		}
	default:
		return scan.Account{}, scan.NewConfigurationError("account must be provider:username:password")
	}
	if parts[1] == "" || parts[2] == "" {
		return scan.Account{}, scan.NewConfigurationError("account %q is missing username or password", parts[1])
	}
	return scan.Account{Provider: parts[0], Username: parts[1], Password: parts[2]}, nil
}

// ParseAccounts parses every raw account entry.
func ParseAccounts(raw []string) ([]scan.Account, error) {
	out := make([]scan.Account, 0, len(raw))
	for i, entry := range raw {
		acct, err := ParseAccount(entry)
		if err != nil {
			return nil, fmt.Errorf("account %d: %w", i, err)
		}
		out = append(out, acct)
	}
	return out, nil
}
