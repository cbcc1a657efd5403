package metrics

import "github.com/prometheus/client_golang/prometheus"

// RegisterChannelGauges exposes the broadcast channel's live subscriber count
// and fixed capacity, read on every scrape.
func RegisterChannelGauges(reg prometheus.Registerer, subscribers func() int, capacity int) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "subscribers",
			Help:      "Open subscriptions on the broadcast channel.",
		}, func() float64 { return float64(subscribers()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "capacity",
			Help:      "Messages retained by the broadcast channel ring.",
		}, func() float64 { return float64(capacity) }),
	)
}
