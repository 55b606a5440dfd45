// Package geocode defines the geocoder port, the per-row task and outcome
// types, and the request builder that maps decoded rows onto tasks.
package geocode

import "context"

// Mode selects forward (text to coordinates) or reverse (coordinates to
// address) geocoding.
type Mode string

const (
	ModeForward Mode = "forward"
	ModeReverse Mode = "reverse"
)

// LatLon is a WGS84 coordinate pair.
type LatLon struct {
	Lat float64
	Lon float64
}

// Candidate is one ranked geocoding result.
type Candidate struct {
	Label    string  `json:"label"`
	Score    float64 `json:"score"`
	Lon      float64 `json:"lon"`
	Lat      float64 `json:"lat"`
	Postcode string  `json:"postcode"`
	City     string  `json:"city"`
	Context  string  `json:"context"`
}

// Geocoder is the opaque geocoding capability. Implementations must
// tolerate empty or garbage query text by returning zero candidates rather
// than failing.
type Geocoder interface {
	// Search resolves free text to ranked candidates, optionally biased
	// towards a geographic center.
	Search(ctx context.Context, query string, bias *LatLon, filters map[string]string) ([]Candidate, error)
	// Reverse resolves a coordinate pair to ranked candidates.
	Reverse(ctx context.Context, lat, lon float64, filters map[string]string) ([]Candidate, error)
}
