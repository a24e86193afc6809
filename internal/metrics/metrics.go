package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "regions_queries_total",
		Help: "Total spatial queries by mode and outcome",
	}, []string{"mode", "outcome"})
	QueryDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "regions_query_duration_ms",
		Help:    "Spatial query duration in milliseconds",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 20, 50, 100, 200, 500, 1000},
	}, []string{"mode"})
	QueryCandidates = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "regions_query_candidates",
		Help:    "Number of index candidates checked per query",
		Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 1000},
	}, []string{"mode"})
	RegionWritesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "regions_writes_total",
		Help: "Total region writes by operation and outcome",
	}, []string{"op", "outcome"})
	RegionsStored = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "regions_stored",
		Help: "Number of regions in the catalogue",
	})
	GeocodeRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "regions_geocode_requests_total",
		Help: "Total geocoding provider requests",
	})
	GeocodeFailTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "regions_geocode_fail_total",
		Help: "Total geocoding provider failures",
	})
	GeocodeDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "regions_geocode_duration_ms",
		Help:    "Geocoding provider call duration in milliseconds",
		Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000},
	})
	GeocodeCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "regions_geocode_cache_hits_total",
		Help: "Total geocode redis cache hits",
	})
	GeocodeCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "regions_geocode_cache_misses_total",
		Help: "Total geocode redis cache misses",
	})
)

func init() {
	prometheus.MustRegister(QueriesTotal)
	prometheus.MustRegister(QueryDurationMs)
	prometheus.MustRegister(QueryCandidates)
	prometheus.MustRegister(RegionWritesTotal)
	prometheus.MustRegister(RegionsStored)
	prometheus.MustRegister(GeocodeRequestsTotal)
	prometheus.MustRegister(GeocodeFailTotal)
	prometheus.MustRegister(GeocodeDurationMs)
	prometheus.MustRegister(GeocodeCacheHitsTotal)
	prometheus.MustRegister(GeocodeCacheMissesTotal)
}

// Handler exposes the default registry for scraping.
func Handler() http.Handler { return promhttp.Handler() }
