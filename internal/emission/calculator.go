package emission

import (
	"fmt"
	"strings"
)

// Calculator converts travel activity into kg CO2-equivalent. From the
// pipeline's point of view this is a pure function: providers call it during
// transform to enrich a record and it has no side effects.
type Calculator interface {
	// TripEmission returns the kg CO2e for one trip of the given distance
	// and normalized cabin class.
	TripEmission(distanceKm float64, cabinClass string) (float64, error)
}

// Cabin class vocabulary after normalization.
const (
	ClassEconomy  = "economy"
	ClassBusiness = "business"
	ClassFirst    = "first"
)

// FactorTable is a static per-km factor implementation of Calculator.
// Factors are kg CO2e per passenger-km; premium cabins carry a multiplier
// for their larger seat footprint.
type FactorTable struct {
	perKm map[string]float64
}

// NewFactorTable returns a table with the default per-class factors.
func NewFactorTable() *FactorTable {
	return &FactorTable{
		perKm: map[string]float64{
			ClassEconomy:  0.151,
			ClassBusiness: 0.302,
			ClassFirst:    0.453,
		},
	}
}

// NormalizeClass maps a source's cabin-class label onto the target
// vocabulary. Premium economy counts as economy.
func NormalizeClass(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "economy", "eco", "y", "coach":
		return ClassEconomy, nil
	case "premium economy", "premium_economy", "w":
		return ClassEconomy, nil
	case "business", "biz", "j", "c":
		return ClassBusiness, nil
	case "first", "f":
		return ClassFirst, nil
	default:
		return "", fmt.Errorf("unknown cabin class %q", raw)
	}
}

// TripEmission returns distance * class factor.
func (t *FactorTable) TripEmission(distanceKm float64, cabinClass string) (float64, error) {
	factor, ok := t.perKm[cabinClass]
	if !ok {
		return 0, fmt.Errorf("unknown cabin class %q", cabinClass)
	}
	if distanceKm < 0 {
		return 0, fmt.Errorf("negative distance %f", distanceKm)
	}
	return distanceKm * factor, nil
}
