package xrvideo

import (
	"strings"

	"github.com/iancoleman/strcase"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/xaionaro-go/xrvideo/pkg/xrvideo/types"
)

const metricsNamespace = "xrvideo"

var (
	metricDecodedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "decoded_frames_total",
		Help:      "Frames decoded and published into the cache.",
	})
	metricDiscardedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "discarded_frames_total",
		Help:      "Decoded frames discarded because their video was superseded.",
	})
	metricDecodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "decode_failures_total",
		Help:      "Frames that could not be decoded.",
	})
	metricDecodeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "decode_duration_seconds",
		Help:      "Time spent decoding a single frame.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	})
	metricBufferingEpisodes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "buffering_episodes_total",
		Help:      "Times the playback entered the buffering state.",
	})
	metricLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "loads_total",
		Help:      "Load requests by result.",
	}, []string{"result"})
	metricReleasedSessions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "released_sessions_total",
		Help:      "Superseded videos whose buffers were released.",
	})
	metricOutstandingRenderLocks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "render_locks_outstanding",
		Help:      "Render locks prepared and not destroyed yet.",
	})
	metricEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "events_total",
		Help:      "Engine events by kind, counted whether or not an event bus is set.",
	}, []string{"event"})
)

// eventMetricLabel turns EventBufferingStarted into "buffering_started".
func eventMetricLabel(event types.Event) string {
	return strcase.ToSnake(strings.TrimPrefix(types.EventTopic(event), "Event"))
}
