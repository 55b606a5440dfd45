package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "geobatch-backend/pkg/errors"
)

func TestResolveMapping(t *testing.T) {
	header := []string{"id", "address", "city", "postcode", "lat", "lon"}

	t.Run("Should resolve declared query columns in declaration order", func(t *testing.T) {
		m, err := ResolveMapping(header, Declaration{QueryColumns: []string{"address", "postcode", "city"}}, false)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 3, 2}, m.QueryIdx)
	})

	t.Run("Should default to all header columns when none declared", func(t *testing.T) {
		m, err := ResolveMapping(header, Declaration{}, false)
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, m.QueryIdx)
	})

	t.Run("Should fail with UnknownColumn naming the unresolved reference", func(t *testing.T) {
		_, err := ResolveMapping(header, Declaration{QueryColumns: []string{"address", "street"}}, false)
		require.True(t, appErrors.IsUnknownColumn(err))
		assert.Contains(t, err.Error(), "street")
	})

	t.Run("Should resolve coordinate columns by synonym", func(t *testing.T) {
		m, err := ResolveMapping([]string{"latitude", "lng", "name"}, Declaration{}, true)
		require.NoError(t, err)
		assert.Equal(t, 0, m.LatIdx)
		assert.Equal(t, 1, m.LonIdx)
	})

	t.Run("Should prefer declared coordinate columns over synonyms", func(t *testing.T) {
		m, err := ResolveMapping(header, Declaration{LatColumn: "postcode", LonColumn: "city"}, false)
		require.NoError(t, err)
		assert.Equal(t, 3, m.LatIdx)
		assert.Equal(t, 2, m.LonIdx)
	})

	t.Run("Should fail when a declared coordinate column is unknown", func(t *testing.T) {
		_, err := ResolveMapping(header, Declaration{LatColumn: "wgs84_lat"}, false)
		assert.True(t, appErrors.IsUnknownColumn(err))
	})

	t.Run("Should fail with MissingCoordinateColumns in reverse mode", func(t *testing.T) {
		_, err := ResolveMapping([]string{"address", "city"}, Declaration{}, true)
		assert.True(t, appErrors.IsMissingCoordinate(err))
	})

	t.Run("Should leave coordinates unresolved in forward mode", func(t *testing.T) {
		m, err := ResolveMapping([]string{"address", "city"}, Declaration{}, false)
		require.NoError(t, err)
		assert.Equal(t, -1, m.LatIdx)
		assert.Equal(t, -1, m.LonIdx)
	})

	t.Run("Should resolve filter columns", func(t *testing.T) {
		m, err := ResolveMapping(header, Declaration{
			Filters: map[string]string{"postcode": "postcode", "citycode": "id"},
		}, false)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"postcode": 3, "citycode": 0}, m.FilterIdx)
	})

	t.Run("Should fail when a filter column is unknown", func(t *testing.T) {
		_, err := ResolveMapping(header, Declaration{Filters: map[string]string{"citycode": "insee"}}, false)
		require.True(t, appErrors.IsUnknownColumn(err))
		assert.Contains(t, err.Error(), "insee")
	})
}
