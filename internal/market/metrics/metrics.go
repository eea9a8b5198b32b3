package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the marketplace.
type Metrics struct {
	ListingsCreated    prometheus.Counter
	ListingsRemoved    prometheus.Counter
	LandsSold          prometheus.Counter
	SettlementFailures prometheus.Counter
	SettlementDuration prometheus.Histogram
}

// New creates a Metrics instance with all marketplace metrics registered.
func New() *Metrics {
	return &Metrics{
		ListingsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "landgrid_listings_created_total",
			Help: "Total number of listings placed on the marketplace",
		}),
		ListingsRemoved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "landgrid_listings_removed_total",
			Help: "Total number of listings withdrawn by their seller",
		}),
		LandsSold: promauto.NewCounter(prometheus.CounterOpts{
			Name: "landgrid_lands_sold_total",
			Help: "Total number of parcels settled to buyers",
		}),
		SettlementFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "landgrid_settlement_failures_total",
			Help: "Total number of rejected buy attempts",
		}),
		SettlementDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "landgrid_settlement_duration_seconds",
			Help:    "Duration of buy settlement, including payment transfers",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
	}
}

// AddListings records n newly placed listings.
func (m *Metrics) AddListings(n int) {
	m.ListingsCreated.Add(float64(n))
}

// IncrementRemoved records one withdrawn listing.
func (m *Metrics) IncrementRemoved() {
	m.ListingsRemoved.Inc()
}

// AddLandsSold records n settled parcels.
func (m *Metrics) AddLandsSold(n int) {
	m.LandsSold.Add(float64(n))
}

// IncrementSettlementFailures records one rejected buy.
func (m *Metrics) IncrementSettlementFailures() {
	m.SettlementFailures.Inc()
}

// ObserveSettlement records the duration of a buy settlement.
func (m *Metrics) ObserveSettlement(start time.Time) {
	m.SettlementDuration.Observe(time.Since(start).Seconds())
}
