package ingest

import (
	"sort"

	appErrors "geobatch-backend/pkg/errors"
)

// Recognized coordinate column synonyms, tried in order when no explicit
// column name is declared.
var (
	latSynonyms = []string{"lat", "latitude"}
	lonSynonyms = []string{"lon", "longitude", "lng", "long"}
)

// Declaration describes which columns the client wants used for querying,
// which carry a coordinate pair, and which arbitrary filter keys pull their
// values from which columns.
type Declaration struct {
	QueryColumns []string
	LatColumn    string
	LonColumn    string
	// Filters maps filter key to column name.
	Filters map[string]string
}

// ColumnMapping is a Declaration resolved against a concrete header. All
// indexes are positions in the header; coordinate indexes are -1 when
// absent.
type ColumnMapping struct {
	Header    []string
	QueryIdx  []int
	LatIdx    int
	LonIdx    int
	FilterIdx map[string]int
}

// ResolveMapping validates every referenced column against the header before
// any row is processed. When no query columns are declared, all header
// columns become query columns in header order. With requireCoordinates set
// (reverse mode), lat and lon must resolve, by declaration or synonym.
func ResolveMapping(header []string, decl Declaration, requireCoordinates bool) (*ColumnMapping, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		if _, exists := index[name]; !exists {
			index[name] = i
		}
	}

	m := &ColumnMapping{
		Header: append([]string(nil), header...),
		LatIdx: -1,
		LonIdx: -1,
	}

	if len(decl.QueryColumns) == 0 {
		m.QueryIdx = make([]int, len(header))
		for i := range header {
			m.QueryIdx[i] = i
		}
	} else {
		m.QueryIdx = make([]int, 0, len(decl.QueryColumns))
		for _, name := range decl.QueryColumns {
			i, ok := index[name]
			if !ok {
				return nil, appErrors.NewUnknownColumn(name)
			}
			m.QueryIdx = append(m.QueryIdx, i)
		}
	}

	var err error
	if m.LatIdx, err = resolveCoordinate(index, decl.LatColumn, latSynonyms); err != nil {
		return nil, err
	}
	if m.LonIdx, err = resolveCoordinate(index, decl.LonColumn, lonSynonyms); err != nil {
		return nil, err
	}
	if requireCoordinates && (m.LatIdx < 0 || m.LonIdx < 0) {
		return nil, appErrors.NewMissingCoordinate("reverse geocoding requires lat and lon columns")
	}

	if len(decl.Filters) > 0 {
		m.FilterIdx = make(map[string]int, len(decl.Filters))
		for _, key := range sortedKeys(decl.Filters) {
			column := decl.Filters[key]
			i, ok := index[column]
			if !ok {
				return nil, appErrors.NewUnknownColumn(column)
			}
			m.FilterIdx[key] = i
		}
	}

	return m, nil
}

// resolveCoordinate returns the index of an explicitly declared column
// (which must exist), the first matching synonym, or -1.
func resolveCoordinate(index map[string]int, declared string, synonyms []string) (int, error) {
	if declared != "" {
		i, ok := index[declared]
		if !ok {
			return -1, appErrors.NewUnknownColumn(declared)
		}
		return i, nil
	}
	for _, name := range synonyms {
		if i, ok := index[name]; ok {
			return i, nil
		}
	}
	return -1, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
