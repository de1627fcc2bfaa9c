package auction

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// bidsTotal counts bid submissions by outcome.
	bidsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "itemite",
			Name:      "bids_total",
			Help:      "Total bid submissions by outcome.",
		},
		[]string{"outcome"},
	)

	// auctionsClosedTotal counts auctions archived by the closer.
	auctionsClosedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "itemite",
			Name:      "auctions_closed_total",
			Help:      "Total auctions closed, split by whether a winning bid existed.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(bidsTotal, auctionsClosedTotal)
}
