package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"geobatch-backend/internal/geocode"
	"geobatch-backend/internal/ingest"
	"geobatch-backend/internal/telemetry"
	appErrors "geobatch-backend/pkg/errors"
)

// stubGeocoder returns a fixed candidate for any non-empty query and echoes
// reverse coordinates back as the result position.
type stubGeocoder struct {
	err error
}

func (s *stubGeocoder) Search(_ context.Context, query string, _ *geocode.LatLon, _ map[string]string) ([]geocode.Candidate, error) {
	if s.err != nil {
		return nil, s.err
	}
	if query == "nowhere" {
		return nil, nil
	}
	return []geocode.Candidate{{
		Label:    strings.ToUpper(query),
		Score:    0.9,
		Lon:      2.35,
		Lat:      48.85,
		Postcode: "75001",
		City:     "Paris",
		Context:  "75, Paris",
	}}, nil
}

func (s *stubGeocoder) Reverse(_ context.Context, lat, lon float64, _ map[string]string) ([]geocode.Candidate, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []geocode.Candidate{{Label: "reverse hit", Score: 1, Lat: lat, Lon: lon}}, nil
}

func newTestRunner(t *testing.T, gc geocode.Geocoder) (*Runner, *telemetry.Fanout) {
	t.Helper()
	fanout := telemetry.NewFanout(nil, telemetry.Options{}, nil, zap.NewNop())
	newPool := func() *Pool { return NewPool(4, 0, time.Second, zap.NewNop()) }
	collector := telemetry.NewCollector("geobatch_pipeline_test_" + strings.ReplaceAll(t.Name(), "/", "_"))
	return NewRunner(newPool, gc, fanout, collector, zap.NewNop()), fanout
}

func decodeCSV(t *testing.T, input string) *ingest.RowDecoder {
	t.Helper()
	dec, err := ingest.NewRowDecoder(strings.NewReader(input), ingest.DecoderOptions{})
	require.NoError(t, err)
	return dec
}

func TestRunner_ForwardBatch(t *testing.T) {
	input := "address,city\n1 rue de la paix,paris\n,\n"
	var out strings.Builder

	runner, fanout := newTestRunner(t, &stubGeocoder{})
	defer fanout.Shutdown(context.Background())

	err := runner.Process(context.Background(), Job{
		Mode:    geocode.ModeForward,
		Decoder: decodeCSV(t, input),
		Output:  &out,
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t,
		"address,city,result_label,result_score,result_lon,result_lat,result_postcode,result_city,result_context",
		lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "1 rue de la paix,paris,1 RUE DE LA PAIX PARIS,"),
		"non-empty row should carry the candidate, got %q", lines[1])
	assert.Equal(t, ",,,,,,,,", lines[2], "empty row keeps original columns and blanks the rest")
}

func TestRunner_EmptyRowProducesEmptyResultColumns(t *testing.T) {
	input := "address,city\n,\n"
	var out strings.Builder

	runner, fanout := newTestRunner(t, &stubGeocoder{})
	defer fanout.Shutdown(context.Background())

	require.NoError(t, runner.Process(context.Background(), Job{
		Mode:    geocode.ModeForward,
		Decoder: decodeCSV(t, input),
		Output:  &out,
	}))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, ",,,,,,,,", lines[1], "empty query row keeps original columns and blanks the rest")
}

func TestRunner_ReverseBatch(t *testing.T) {
	input := "lat,lon\n49.8974,2.2901\n"
	var out strings.Builder

	runner, fanout := newTestRunner(t, &stubGeocoder{})
	defer fanout.Shutdown(context.Background())

	require.NoError(t, runner.Process(context.Background(), Job{
		Mode:    geocode.ModeReverse,
		Decoder: decodeCSV(t, input),
		Output:  &out,
	}))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "49.8974,2.2901,reverse hit,1,2.2901,49.8974,"),
		"got %q", lines[1])
}

func TestRunner_ReverseWithoutCoordinateColumnsFails(t *testing.T) {
	input := "address\nsomewhere\n"
	var out strings.Builder

	runner, fanout := newTestRunner(t, &stubGeocoder{})
	defer fanout.Shutdown(context.Background())

	err := runner.Process(context.Background(), Job{
		Mode:    geocode.ModeReverse,
		Decoder: decodeCSV(t, input),
		Output:  &out,
	})
	require.Error(t, err)
	assert.True(t, appErrors.IsMissingCoordinate(err))
	assert.Empty(t, out.String(), "mapping errors must abort before any output row")
}

func TestRunner_GeocoderFailureDoesNotAbortBatch(t *testing.T) {
	input := "address\nfirst\nsecond\n"
	var out strings.Builder

	runner, fanout := newTestRunner(t, &stubGeocoder{err: appErrors.NewGeocodeCall("backend down", nil)})
	defer fanout.Shutdown(context.Background())

	require.NoError(t, runner.Process(context.Background(), Job{
		Mode:    geocode.ModeForward,
		Decoder: decodeCSV(t, input),
		Output:  &out,
	}))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 3, "every input row still gets an output row")
	assert.Equal(t, "first,,,,,,,", lines[1])
	assert.Equal(t, "second,,,,,,,", lines[2])
}

func TestRunner_MalformedRowTruncatesStream(t *testing.T) {
	// Row 2 has three fields against a two-column header.
	input := "address,city\nok,paris\nbad,row,extra\nnever,reached\n"
	var out strings.Builder

	runner, fanout := newTestRunner(t, &stubGeocoder{})
	defer fanout.Shutdown(context.Background())

	err := runner.Process(context.Background(), Job{
		Mode:    geocode.ModeForward,
		Decoder: decodeCSV(t, input),
		Output:  &out,
	})
	require.Error(t, err)
	assert.True(t, appErrors.IsMalformedRow(err))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	assert.Len(t, lines, 2, "rows before the malformed one stay delivered")
}

func TestRunner_OutputOrderMatchesInputOrder(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("address\n")
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&sb, "place %d\n", i)
	}
	var out strings.Builder

	runner, fanout := newTestRunner(t, &stubGeocoder{})
	defer fanout.Shutdown(context.Background())

	require.NoError(t, runner.Process(context.Background(), Job{
		Mode:    geocode.ModeForward,
		Decoder: decodeCSV(t, sb.String()),
		Output:  &out,
	}))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 41)
	for i := 0; i < 40; i++ {
		assert.True(t, strings.HasPrefix(lines[i+1], fmt.Sprintf("place %d,PLACE %d,", i, i)))
	}
}

func TestRunner_PoolBuiltPerJob(t *testing.T) {
	// The runner must consult the factory on every job so that reloaded
	// worker settings apply without a restart.
	workers := 4
	var built atomic.Int64
	newPool := func() *Pool {
		built.Add(1)
		return NewPool(workers, 0, time.Second, zap.NewNop())
	}
	fanout := telemetry.NewFanout(nil, telemetry.Options{}, nil, zap.NewNop())
	defer fanout.Shutdown(context.Background())
	collector := telemetry.NewCollector("geobatch_pipeline_test_pool_per_job")
	runner := NewRunner(newPool, &stubGeocoder{}, fanout, collector, zap.NewNop())

	run := func() {
		var out strings.Builder
		require.NoError(t, runner.Process(context.Background(), Job{
			Mode:    geocode.ModeForward,
			Decoder: decodeCSV(t, "address\nsomewhere\n"),
			Output:  &out,
		}))
	}

	run()
	assert.EqualValues(t, 1, built.Load())

	workers = 1
	run()
	assert.EqualValues(t, 2, built.Load(), "each job should build a fresh pool from current settings")
}

func TestRunner_CancelledBatchTruncates(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("address\n")
	for i := 0; i < 50; i++ {
		fmt.Fprintf(&sb, "place %d\n", i)
	}
	var out strings.Builder

	ctx, cancel := context.WithCancel(context.Background())
	var done atomic.Int64
	gc := &hookGeocoder{stub: &stubGeocoder{}, after: func() {
		if done.Add(1) == 2 {
			cancel()
		}
	}}

	runner, fanout := newTestRunner(t, gc)
	defer fanout.Shutdown(context.Background())

	err := runner.Process(ctx, Job{
		Mode:    geocode.ModeForward,
		Decoder: decodeCSV(t, sb.String()),
		Output:  &out,
	})
	require.Error(t, err)
	assert.True(t, appErrors.IsCancelled(err))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	assert.Less(t, len(lines), 51, "rows that never ran must not be padded in; the stream closes early")
}

// hookGeocoder runs a callback after each forward lookup.
type hookGeocoder struct {
	stub  *stubGeocoder
	after func()
}

func (h *hookGeocoder) Search(ctx context.Context, query string, bias *geocode.LatLon, filters map[string]string) ([]geocode.Candidate, error) {
	defer h.after()
	return h.stub.Search(ctx, query, bias, filters)
}

func (h *hookGeocoder) Reverse(ctx context.Context, lat, lon float64, filters map[string]string) ([]geocode.Candidate, error) {
	defer h.after()
	return h.stub.Reverse(ctx, lat, lon, filters)
}
