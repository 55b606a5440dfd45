package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"geobatch-backend/internal/geocode"
	"geobatch-backend/internal/telemetry"
	"geobatch-backend/pkg/api"
	appErrors "geobatch-backend/pkg/errors"
)

// reservedParams are query parameters with positional meaning; everything
// else is forwarded to the geocoder as a filter.
var reservedParams = map[string]bool{"q": true, "lat": true, "lon": true}

// SearchHandler handles single-shot forward and reverse geocoding requests.
type SearchHandler struct {
	geocoder geocode.Geocoder
	metrics  *telemetry.Collector
	logger   *zap.Logger
}

// NewSearchHandler creates a search handler with injected dependencies.
func NewSearchHandler(geocoder geocode.Geocoder, metrics *telemetry.Collector, logger *zap.Logger) *SearchHandler {
	return &SearchHandler{geocoder: geocoder, metrics: metrics, logger: logger}
}

// searchResponse is the single-shot response envelope.
type searchResponse struct {
	Query      string              `json:"query,omitempty"`
	Candidates []geocode.Candidate `json:"candidates"`
}

// Search handles GET /search.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		api.ErrorFrom(w, appErrors.NewValidation("missing required parameter q"))
		return
	}

	bias := parseBias(r)
	candidates, err := h.geocoder.Search(r.Context(), query, bias, singleShotFilters(r))
	if err != nil {
		h.fail(w, "forward", err)
		return
	}

	h.metrics.GeocodeOps.WithLabelValues("forward", opStatus(candidates)).Inc()
	api.Success(w, http.StatusOK, searchResponse{Query: query, Candidates: orEmpty(candidates)})
}

// Reverse handles GET /reverse.
func (h *SearchHandler) Reverse(w http.ResponseWriter, r *http.Request) {
	lat, latErr := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, lonErr := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if latErr != nil || lonErr != nil {
		api.ErrorFrom(w, appErrors.NewValidation("lat and lon must be valid numbers"))
		return
	}

	candidates, err := h.geocoder.Reverse(r.Context(), lat, lon, singleShotFilters(r))
	if err != nil {
		h.fail(w, "reverse", err)
		return
	}

	h.metrics.GeocodeOps.WithLabelValues("reverse", opStatus(candidates)).Inc()
	api.Success(w, http.StatusOK, searchResponse{Candidates: orEmpty(candidates)})
}

func (h *SearchHandler) fail(w http.ResponseWriter, mode string, err error) {
	h.metrics.GeocodeOps.WithLabelValues(mode, "error").Inc()
	h.logger.Warn("geocoder call failed", zap.String("mode", mode), zap.Error(err))
	api.Error(w, http.StatusBadGateway, string(appErrors.ErrorTypeGeocodeCall), "geocoding backend unavailable")
}

func parseBias(r *http.Request) *geocode.LatLon {
	lat, latErr := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, lonErr := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if latErr != nil || lonErr != nil {
		return nil
	}
	return &geocode.LatLon{Lat: lat, Lon: lon}
}

// singleShotFilters forwards non-positional query parameters verbatim, e.g.
// ?postcode=80000 or ?type=street.
func singleShotFilters(r *http.Request) map[string]string {
	values := r.URL.Query()
	filters := make(map[string]string)
	for key, vals := range values {
		if reservedParams[key] || len(vals) == 0 || vals[0] == "" {
			continue
		}
		filters[key] = vals[0]
	}
	if len(filters) == 0 {
		return nil
	}
	return filters
}

func opStatus(candidates []geocode.Candidate) string {
	if len(candidates) == 0 {
		return "not_found"
	}
	return "found"
}

func orEmpty(candidates []geocode.Candidate) []geocode.Candidate {
	if candidates == nil {
		return []geocode.Candidate{}
	}
	return candidates
}
