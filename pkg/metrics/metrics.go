package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "denoise_requests_total",
		Help: "Denoise requests by source and output format",
	}, []string{"source", "output"})

	RequestsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "denoise_requests_rejected_total",
		Help: "Requests rejected due to the concurrency limit",
	})

	ProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "denoise_processing_duration_seconds",
		Help:    "Time spent to denoise a track, including decoding and encoding",
		Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"source"})

	EngineInits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "denoise_engine_initializations_total",
		Help: "Engine initialization attempts by result",
	}, []string{"result"})

	EngineReady = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "denoise_engine_ready",
		Help: "1 if the engine is initialized",
	})

	SamplesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "denoise_samples_processed_total",
		Help: "Total samples produced by the engine",
	})

	VoiceProbability = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "denoise_voice_probability",
		Help:    "Maximal voice probability per processed track",
		Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
	})

	MicrophoneSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "denoise_microphone_sessions_active",
		Help: "Currently active microphone and stream sessions",
	})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "denoise_errors_total",
		Help: "Error counts by kind",
	}, []string{"kind"})
)

func resultLabel(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// ObserveEngineInit accounts an initialization attempt of the engine.
func ObserveEngineInit(err error) {
	EngineInits.WithLabelValues(resultLabel(err)).Inc()
	if err == nil {
		EngineReady.Set(1)
	}
}

// ObserveResult accounts a processed track.
func ObserveResult(samples int, vadProbability float64) {
	SamplesProcessed.Add(float64(samples))
	VoiceProbability.Observe(vadProbability)
}

// ObserveRecording accounts a start or an end of a live session.
func ObserveRecording(recording bool) {
	if recording {
		MicrophoneSessionsActive.Inc()
	} else {
		MicrophoneSessionsActive.Dec()
	}
}
