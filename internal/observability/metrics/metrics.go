package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder aggregates Prometheus collectors for the relay control plane:
// HTTP traffic, process lifecycle, heartbeat and reaper activity, recording
// finalization outcomes, and workday classifier lookups.
type Recorder struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	activeProcesses  prometheus.Gauge
	liveHeartbeats   prometheus.Gauge
	activeRecordings prometheus.Gauge

	processStarts   prometheus.Counter
	processRestarts prometheus.Counter
	processCrashes  prometheus.Counter
	processReaps    prometheus.Counter

	readinessDuration prometheus.Histogram
	finalizations     *prometheus.CounterVec
	workdayLookups    *prometheus.CounterVec
	scheduleFirings   *prometheus.CounterVec
}

var defaultRecorder = New()

// Default returns the singleton Recorder shared by packages that do not
// require a private registry.
func Default() *Recorder {
	return defaultRecorder
}

// New constructs a Recorder with its own registry so tests can scrape in
// isolation.
func New() *Recorder {
	registry := prometheus.NewRegistry()

	r := &Recorder{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "camrelay_http_requests_total",
			Help: "HTTP requests received by the control API",
		}, []string{"method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "camrelay_http_request_duration_seconds",
			Help:    "Control API request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		activeProcesses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "camrelay_active_processes",
			Help: "Number of live transcoding processes",
		}),
		liveHeartbeats: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "camrelay_live_heartbeats",
			Help: "Channels with a heartbeat inside the liveness window",
		}),
		activeRecordings: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "camrelay_active_recordings",
			Help: "Channels currently recording",
		}),
		processStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "camrelay_process_starts_total",
			Help: "Transcoding processes spawned",
		}),
		processRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "camrelay_process_restarts_total",
			Help: "Drift-triggered process restarts",
		}),
		processCrashes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "camrelay_process_crashes_total",
			Help: "Transcoding processes that exited without being asked to",
		}),
		processReaps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "camrelay_process_reaps_total",
			Help: "Processes stopped by the idle reaper",
		}),
		readinessDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "camrelay_readiness_probe_seconds",
			Help:    "Time until a spawned process produced playable output",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30},
		}),
		finalizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "camrelay_recording_finalizations_total",
			Help: "Recording segment finalization attempts by outcome",
		}, []string{"outcome"}),
		workdayLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "camrelay_workday_lookups_total",
			Help: "Workday classifier lookups by result source",
		}, []string{"source"}),
		scheduleFirings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "camrelay_schedule_firings_total",
			Help: "Scheduler trigger firings by scheduler and edge",
		}, []string{"scheduler", "edge"}),
	}

	registry.MustRegister(
		r.requestsTotal,
		r.requestDuration,
		r.activeProcesses,
		r.liveHeartbeats,
		r.activeRecordings,
		r.processStarts,
		r.processRestarts,
		r.processCrashes,
		r.processReaps,
		r.readinessDuration,
		r.finalizations,
		r.workdayLookups,
		r.scheduleFirings,
	)
	return r
}

// ObserveRequest accumulates request count and latency.
func (r *Recorder) ObserveRequest(method string, status int, duration time.Duration) {
	r.requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	r.requestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// SetActiveProcesses updates the live process gauge.
func (r *Recorder) SetActiveProcesses(n int) { r.activeProcesses.Set(float64(n)) }

// SetLiveHeartbeats updates the live heartbeat gauge.
func (r *Recorder) SetLiveHeartbeats(n int) { r.liveHeartbeats.Set(float64(n)) }

// SetActiveRecordings updates the active recording gauge.
func (r *Recorder) SetActiveRecordings(n int) { r.activeRecordings.Set(float64(n)) }

// ProcessStarted counts a spawn.
func (r *Recorder) ProcessStarted() { r.processStarts.Inc() }

// ProcessRestarted counts a drift restart.
func (r *Recorder) ProcessRestarted() { r.processRestarts.Inc() }

// ProcessCrashed counts an unexpected exit.
func (r *Recorder) ProcessCrashed() { r.processCrashes.Inc() }

// ProcessReaped counts an idle-reaper stop.
func (r *Recorder) ProcessReaped() { r.processReaps.Inc() }

// ObserveReadiness records how long a readiness probe took to succeed.
func (r *Recorder) ObserveReadiness(d time.Duration) {
	r.readinessDuration.Observe(d.Seconds())
}

// ObserveFinalization counts a segment finalization outcome: "remuxed",
// "renamed", or "skipped".
func (r *Recorder) ObserveFinalization(outcome string) {
	r.finalizations.WithLabelValues(outcome).Inc()
}

// ObserveWorkdayLookup counts a classifier lookup by where the answer came
// from: "cache", "remote", or "fallback".
func (r *Recorder) ObserveWorkdayLookup(source string) {
	r.workdayLookups.WithLabelValues(source).Inc()
}

// ObserveScheduleFiring counts a trigger firing for the named scheduler
// instance, edge being "start" or "end".
func (r *Recorder) ObserveScheduleFiring(scheduler, edge string) {
	r.scheduleFirings.WithLabelValues(scheduler, edge).Inc()
}

// Handler serves the recorder's registry. updateGauges, when non-nil, runs
// before each scrape so gauges reflect current registry state.
func (r *Recorder) Handler(updateGauges func()) http.Handler {
	inner := promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		inner.ServeHTTP(w, req)
	})
}
