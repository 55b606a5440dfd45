package geocode

import (
	"fmt"
	"strconv"
	"strings"

	"geobatch-backend/internal/ingest"
)

// BuildTask constructs exactly one Task from a decoded row and a resolved
// mapping. It never fails: rows that cannot produce a meaningful query are
// flagged so the worker can short-circuit them, preserving row count and
// order in the output.
func BuildTask(row ingest.RowRecord, m *ingest.ColumnMapping, mode Mode) Task {
	task := Task{
		Seq:     row.Seq,
		Mode:    mode,
		Filters: buildFilters(row, m),
	}

	if mode == ModeReverse {
		lat, lon, err := parseCoordinates(row, m)
		if err != nil {
			task.Invalid = err.Error()
			return task
		}
		task.Lat, task.Lon = lat, lon
		return task
	}

	parts := make([]string, 0, len(m.QueryIdx))
	for _, idx := range m.QueryIdx {
		if v := strings.TrimSpace(value(row, idx)); v != "" {
			parts = append(parts, v)
		}
	}
	task.Query = strings.Join(parts, " ")
	task.Empty = task.Query == ""

	if m.LatIdx >= 0 && m.LonIdx >= 0 {
		if lat, lon, err := parseCoordinates(row, m); err == nil {
			task.Bias = &LatLon{Lat: lat, Lon: lon}
		}
	}
	return task
}

// buildFilters reads filter values verbatim from their mapped columns. A
// missing or empty value means the filter is omitted for that row, not an
// error.
func buildFilters(row ingest.RowRecord, m *ingest.ColumnMapping) map[string]string {
	if len(m.FilterIdx) == 0 {
		return nil
	}
	filters := make(map[string]string, len(m.FilterIdx))
	for key, idx := range m.FilterIdx {
		if v := value(row, idx); v != "" {
			filters[key] = v
		}
	}
	if len(filters) == 0 {
		return nil
	}
	return filters
}

func parseCoordinates(row ingest.RowRecord, m *ingest.ColumnMapping) (float64, float64, error) {
	latText := strings.TrimSpace(value(row, m.LatIdx))
	lonText := strings.TrimSpace(value(row, m.LonIdx))

	lat, err := strconv.ParseFloat(latText, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("unparsable latitude %q", latText)
	}
	lon, err := strconv.ParseFloat(lonText, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("unparsable longitude %q", lonText)
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return 0, 0, fmt.Errorf("coordinates out of range (%s, %s)", latText, lonText)
	}
	return lat, lon, nil
}

func value(row ingest.RowRecord, idx int) string {
	if idx < 0 || idx >= len(row.Values) {
		return ""
	}
	return row.Values[idx]
}
