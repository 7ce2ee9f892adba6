package vram

import "github.com/prometheus/client_golang/prometheus"

var (
	admissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "annotd",
			Subsystem: "vram",
			Name:      "admissions_total",
			Help:      "VRAM admission decisions by outcome and estimate source",
		},
		[]string{"outcome", "source"},
	)

	profileUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "annotd",
			Subsystem: "vram",
			Name:      "profile_updates_total",
			Help:      "Profile ratchet attempts by result (updated, unchanged, error)",
		},
		[]string{"result"},
	)

	lastEstimateBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "annotd",
			Subsystem: "vram",
			Name:      "estimate_bytes",
			Help:      "Most recent VRAM estimate in bytes",
		},
	)
)

func init() {
	prometheus.MustRegister(admissionsTotal, profileUpdatesTotal, lastEstimateBytes)
}
