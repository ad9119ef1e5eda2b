package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the client runtime's prometheus collectors.
type Metrics struct {
	// Inbound
	EventsDecoded *prometheus.CounterVec
	DroppedAudio  *prometheus.CounterVec

	// Playback
	PlaybackBuffered  prometheus.Gauge
	PlaybackUnderruns prometheus.Gauge
	PlaybackClears    prometheus.Gauge

	// Capture
	CaptureSent      prometheus.Gauge
	CaptureDiscarded prometheus.Gauge
	CaptureDropped   prometheus.Gauge

	// Transport
	SessionState  *prometheus.GaugeVec
	MessagesSent  *prometheus.CounterVec
	ActiveSession prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsDecoded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_client_events_decoded_total",
			Help: "Server events decoded, by type",
		}, []string{"type"}),
		DroppedAudio: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_client_audio_dropped_total",
			Help: "Inbound audio chunks dropped before playback, by reason",
		}, []string{"reason"}),

		PlaybackBuffered: f.NewGauge(prometheus.GaugeOpts{
			Name: "voice_client_playback_buffered_samples",
			Help: "Samples queued for playback",
		}),
		PlaybackUnderruns: f.NewGauge(prometheus.GaugeOpts{
			Name: "voice_client_playback_underruns",
			Help: "Render callbacks that ran short of audio",
		}),
		PlaybackClears: f.NewGauge(prometheus.GaugeOpts{
			Name: "voice_client_playback_clears",
			Help: "Playback flushes caused by interrupts",
		}),

		CaptureSent: f.NewGauge(prometheus.GaugeOpts{
			Name: "voice_client_capture_sent_chunks",
			Help: "Microphone chunks handed to the transport",
		}),
		CaptureDiscarded: f.NewGauge(prometheus.GaugeOpts{
			Name: "voice_client_capture_discarded_chunks",
			Help: "Microphone chunks discarded while muted or disconnected",
		}),
		CaptureDropped: f.NewGauge(prometheus.GaugeOpts{
			Name: "voice_client_capture_dropped_chunks",
			Help: "Microphone chunks dropped because the send queue was full",
		}),

		SessionState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voice_client_session_state",
			Help: "1 for the current transport state, 0 otherwise",
		}, []string{"state"}),
		MessagesSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_client_messages_sent_total",
			Help: "Outbound messages written to the primary channel, by type",
		}, []string{"type"}),
		ActiveSession: f.NewGauge(prometheus.GaugeOpts{
			Name: "voice_client_session_active",
			Help: "1 while a voice session is running",
		}),
	}
}

func (m *Metrics) EventDecoded(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	m.EventsDecoded.WithLabelValues(kind).Inc()
}

func (m *Metrics) AudioDropped(reason string) {
	m.DroppedAudio.WithLabelValues(reason).Inc()
}

func (m *Metrics) MessageSent(kind string) {
	m.MessagesSent.WithLabelValues(kind).Inc()
}

func (m *Metrics) StateChanged(from, to string) {
	m.SessionState.WithLabelValues(from).Set(0)
	m.SessionState.WithLabelValues(to).Set(1)
}

type PlaybackStats struct {
	Buffered  int
	Underruns uint64
	Clears    uint64
}

type CaptureStats struct {
	Sent      uint64
	Discarded uint64
	Dropped   uint64
}

func (m *Metrics) ObservePlayback(s PlaybackStats) {
	m.PlaybackBuffered.Set(float64(s.Buffered))
	m.PlaybackUnderruns.Set(float64(s.Underruns))
	m.PlaybackClears.Set(float64(s.Clears))
}

func (m *Metrics) ObserveCapture(s CaptureStats) {
	m.CaptureSent.Set(float64(s.Sent))
	m.CaptureDiscarded.Set(float64(s.Discarded))
	m.CaptureDropped.Set(float64(s.Dropped))
}
