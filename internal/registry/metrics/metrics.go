package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the parcel registry.
type Metrics struct {
	LandsMinted      prometheus.Counter
	Transfers        prometheus.Counter
	MintDuration     prometheus.Histogram
	TransferDuration prometheus.Histogram
}

// New creates a Metrics instance with all registry metrics registered.
func New() *Metrics {
	return &Metrics{
		LandsMinted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "landgrid_lands_minted_total",
			Help: "Total number of land parcels minted",
		}),
		Transfers: promauto.NewCounter(prometheus.CounterOpts{
			Name: "landgrid_land_transfers_total",
			Help: "Total number of parcel ownership transfers",
		}),
		MintDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "landgrid_mint_duration_seconds",
			Help:    "Duration of mint operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		TransferDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "landgrid_transfer_duration_seconds",
			Help:    "Duration of parcel transfer operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// AddLandsMinted records n freshly minted parcels.
func (m *Metrics) AddLandsMinted(n int) {
	m.LandsMinted.Add(float64(n))
}

// IncrementTransfers records one ownership move.
func (m *Metrics) IncrementTransfers() {
	m.Transfers.Inc()
}

// ObserveMint records the duration of a mint operation.
func (m *Metrics) ObserveMint(start time.Time) {
	m.MintDuration.Observe(time.Since(start).Seconds())
}

// ObserveTransfer records the duration of a transfer operation.
func (m *Metrics) ObserveTransfer(start time.Time) {
	m.TransferDuration.Observe(time.Since(start).Seconds())
}
