package http

import "github.com/prometheus/client_golang/prometheus"

var (
	verificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gatepass_verifications_total",
		Help: "Pass verification lookups by resolved lifecycle.",
	}, []string{"lifecycle"})

	recordingsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gatepass_recordings_total",
		Help: "Recorded gate transitions by action.",
	}, []string{"action"})

	recordingRejectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gatepass_recording_rejections_total",
		Help: "Entry/exit attempts refused (terminal, completed or unknown passes).",
	})
)

func init() {
	prometheus.MustRegister(verificationsTotal, recordingsTotal, recordingRejectionsTotal)
}
