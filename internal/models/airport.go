package models

// Airport is one configured station bound to a physical LED.
type Airport struct {
	ID        string
	LED       int
	Home      bool
	Latitude  *float64
	Longitude *float64
}

// HasCoordinates reports whether both latitude and longitude are known.
func (a Airport) HasCoordinates() bool {
	return a.Latitude != nil && a.Longitude != nil
}

// StationIDs returns the distinct station identifiers in physical order.
func StationIDs(airports []Airport) []string {
	seen := make(map[string]struct{}, len(airports))
	ids := make([]string, 0, len(airports))
	for _, a := range airports {
		if _, ok := seen[a.ID]; ok {
			continue
		}
		seen[a.ID] = struct{}{}
		ids = append(ids, a.ID)
	}
	return ids
}
