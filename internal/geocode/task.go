package geocode

// Status classifies the outcome of one task.
type Status string

const (
	StatusFound    Status = "found"
	StatusNotFound Status = "not_found"
	StatusError    Status = "error"
)

// Task is one unit of geocoding work. It is owned exclusively by the worker
// that executes it and never mutated after construction.
type Task struct {
	Seq  int
	Mode Mode

	// Query is the normalized query text for forward mode.
	Query string
	// Lat/Lon are the input coordinates for reverse mode.
	Lat, Lon float64
	// Bias optionally centers forward search results.
	Bias *LatLon
	// Filters are verbatim filter values pulled from mapped columns.
	Filters map[string]string

	// Empty marks a forward task whose query text collapsed to nothing;
	// the worker short-circuits it to not_found without calling the
	// geocoder.
	Empty bool
	// Invalid carries a construction problem (e.g. unparsable reverse
	// coordinates); the worker short-circuits it to an error outcome.
	Invalid string
}

// Outcome is the result of one Task, produced by exactly one worker and
// consumed exactly once by the result encoder.
type Outcome struct {
	Seq         int
	Status      Status
	Best        *Candidate
	ErrorDetail string
}
