// Package metrics provides Prometheus metrics for the navigator.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fruitsalade/navigator/pkg/protocol"
	"github.com/fruitsalade/navigator/pkg/pullaction"
)

var (
	// Transport
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "navigator_http_requests_total",
			Help: "Total number of requests sent to the workspace server",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "navigator_http_request_duration_seconds",
			Help:    "Workspace server request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Pull/action protocol
	pullsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "navigator_pulls_total",
			Help: "Total pulls performed by the action protocol",
		},
		[]string{"action", "result"},
	)

	repullsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "navigator_repulls_total",
			Help: "Total repull requests received from the server",
		},
		[]string{"action"},
	)

	actionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "navigator_actions_total",
			Help: "Total actions finished, by outcome",
		},
		[]string{"action", "outcome"},
	)

	actionRounds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "navigator_action_rounds",
			Help:    "Pull rounds needed to finish an action",
			Buckets: []float64{1, 2, 3, 5, 8, 13},
		},
		[]string{"action"},
	)

	// Ingestion
	markersAppliedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "navigator_markers_applied_total",
			Help: "Total file marker counters applied to the tree",
		},
	)

	markersUnknownTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "navigator_markers_unknown_total",
			Help: "Total marker counters for paths missing from the tree",
		},
	)

	activitySnapshotsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "navigator_activity_snapshots_total",
			Help: "Total activity snapshots applied",
		},
	)

	activityElements = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "navigator_activity_elements",
			Help: "Elements with at least one collaborator activity",
		},
	)

	treeNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "navigator_tree_nodes",
			Help: "Elements in the loaded workspace tree",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records a request to the workspace server.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordMarkers records one marker ingestion.
func RecordMarkers(applied, unknown int) {
	markersAppliedTotal.Add(float64(applied))
	markersUnknownTotal.Add(float64(unknown))
}

// RecordActivitySnapshot records an applied activity snapshot.
func RecordActivitySnapshot(elements int) {
	activitySnapshotsTotal.Inc()
	activityElements.Set(float64(elements))
}

// SetTreeNodes sets the size of the loaded tree.
func SetTreeNodes(n int) {
	treeNodes.Set(float64(n))
}

// Observer records protocol events for one kind of action.
type Observer struct {
	action string
}

// ForAction returns an Observer labelling its metrics with action.
func ForAction(action string) *Observer {
	return &Observer{action: action}
}

// ObservePull records one pull and its result.
func (o *Observer) ObservePull(resp *protocol.PullResponse, err error) {
	result := "nodiff"
	switch {
	case err != nil:
		result = "error"
	case resp == nil || resp.Failure:
		result = "failure"
	case resp.DiffExists:
		result = "diff"
	}
	pullsTotal.WithLabelValues(o.action, result).Inc()
}

// ObserveRepull records a repull request.
func (o *Observer) ObserveRepull() {
	repullsTotal.WithLabelValues(o.action).Inc()
}

// ObserveResult records the terminal state and the rounds it took.
func (o *Observer) ObserveResult(state pullaction.State, rounds int) {
	actionsTotal.WithLabelValues(o.action, state.String()).Inc()
	actionRounds.WithLabelValues(o.action).Observe(float64(rounds))
}
