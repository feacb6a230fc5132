package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const defaultMetricsNamespace = "gocomet"

// Config contains metrics configuration.
type Config struct {
	// Namespace is the prometheus namespace for all metrics. If empty, defaults to "gocomet".
	Namespace string
	// ConstLabels are labels that will be added to all metrics as constant labels.
	ConstLabels map[string]string
	// Registerer is the prometheus registerer to use. If nil, prometheus.DefaultRegisterer is used.
	Registerer prometheus.Registerer
}

// Registry holds gocomet client metrics. Several clients may share the same
// Registerer, in this case they share collectors too. All methods are safe
// to call on nil Registry.
type Registry struct {
	config Config

	// Transport metrics
	requestsTotal      *prometheus.CounterVec
	requestErrorsTotal *prometheus.CounterVec
	pendingRequests    *prometheus.GaugeVec

	// Session metrics
	reconnectsTotal  *prometheus.CounterVec
	disconnectsTotal *prometheus.CounterVec
	updatesTotal     *prometheus.CounterVec
	pollResultsTotal *prometheus.CounterVec

	// Sink metrics
	sinkPublishedTotal *prometheus.CounterVec
	sinkErrorsTotal    *prometheus.CounterVec
	sinkDroppedTotal   *prometheus.CounterVec
}

// New creates Registry and registers its collectors.
func New(cfg Config) (*Registry, error) {
	registerer := cfg.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	metricsNamespace := cfg.Namespace
	if metricsNamespace == "" {
		metricsNamespace = defaultMetricsNamespace
	}

	constLabels := prometheus.Labels(cfg.ConstLabels)

	m := &Registry{
		config: cfg,
	}

	var err error

	if m.requestsTotal, err = register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   metricsNamespace,
		Subsystem:   "transport",
		Name:        "requests_total",
		Help:        "Number of commands sent to server.",
		ConstLabels: constLabels,
	}, []string{"transport", "command"})); err != nil {
		return nil, err
	}

	if m.requestErrorsTotal, err = register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   metricsNamespace,
		Subsystem:   "transport",
		Name:        "request_errors_total",
		Help:        "Number of failed commands.",
		ConstLabels: constLabels,
	}, []string{"transport", "command"})); err != nil {
		return nil, err
	}

	if m.pendingRequests, err = register(registerer, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   metricsNamespace,
		Subsystem:   "transport",
		Name:        "pending_requests",
		Help:        "Number of requests waiting for a reply.",
		ConstLabels: constLabels,
	}, []string{"transport"})); err != nil {
		return nil, err
	}

	if m.reconnectsTotal, err = register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   metricsNamespace,
		Subsystem:   "client",
		Name:        "reconnects_total",
		Help:        "Number of scheduled reconnects.",
		ConstLabels: constLabels,
	}, []string{"transport"})); err != nil {
		return nil, err
	}

	if m.disconnectsTotal, err = register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   metricsNamespace,
		Subsystem:   "client",
		Name:        "disconnects_total",
		Help:        "Number of lost connections.",
		ConstLabels: constLabels,
	}, []string{"transport"})); err != nil {
		return nil, err
	}

	if m.updatesTotal, err = register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   metricsNamespace,
		Subsystem:   "client",
		Name:        "updates_total",
		Help:        "Number of channel updates delivered to application.",
		ConstLabels: constLabels,
	}, []string{"transport"})); err != nil {
		return nil, err
	}

	if m.pollResultsTotal, err = register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   metricsNamespace,
		Subsystem:   "client",
		Name:        "poll_results_total",
		Help:        "Number of data poll results by status.",
		ConstLabels: constLabels,
	}, []string{"status"})); err != nil {
		return nil, err
	}

	if m.sinkPublishedTotal, err = register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   metricsNamespace,
		Subsystem:   "sink",
		Name:        "published_total",
		Help:        "Number of updates forwarded to sink.",
		ConstLabels: constLabels,
	}, []string{"sink"})); err != nil {
		return nil, err
	}

	if m.sinkErrorsTotal, err = register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   metricsNamespace,
		Subsystem:   "sink",
		Name:        "errors_total",
		Help:        "Number of sink publish errors.",
		ConstLabels: constLabels,
	}, []string{"sink"})); err != nil {
		return nil, err
	}

	if m.sinkDroppedTotal, err = register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   metricsNamespace,
		Subsystem:   "sink",
		Name:        "dropped_total",
		Help:        "Number of updates dropped because sink queue was full.",
		ConstLabels: constLabels,
	}, []string{"sink"})); err != nil {
		return nil, err
	}

	return m, nil
}

// register registers collector or returns the already registered one with
// the same descriptor.
func register[T prometheus.Collector](registerer prometheus.Registerer, c T) (T, error) {
	if err := registerer.Register(c); err != nil {
		var alreadyRegistered prometheus.AlreadyRegisteredError
		if errors.As(err, &alreadyRegistered) {
			if existing, ok := alreadyRegistered.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, err
	}
	return c, nil
}

// IncRequest counts command sent over transport.
func (m *Registry) IncRequest(transport, command string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(transport, command).Inc()
}

// IncRequestError counts failed command.
func (m *Registry) IncRequestError(transport, command string) {
	if m == nil {
		return
	}
	m.requestErrorsTotal.WithLabelValues(transport, command).Inc()
}

// AddPending changes the number of pending requests by delta.
func (m *Registry) AddPending(transport string, delta int) {
	if m == nil {
		return
	}
	m.pendingRequests.WithLabelValues(transport).Add(float64(delta))
}

func (m *Registry) IncReconnect(transport string) {
	if m == nil {
		return
	}
	m.reconnectsTotal.WithLabelValues(transport).Inc()
}

func (m *Registry) IncDisconnect(transport string) {
	if m == nil {
		return
	}
	m.disconnectsTotal.WithLabelValues(transport).Inc()
}

// AddUpdates counts delivered updates.
func (m *Registry) AddUpdates(transport string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.updatesTotal.WithLabelValues(transport).Add(float64(n))
}

// IncPollResult counts data poll result. Unknown statuses are collapsed
// into a single label value.
func (m *Registry) IncPollResult(status string) {
	if m == nil {
		return
	}
	switch status {
	case "1", "0", "-1", "error":
	default:
		if _, err := strconv.Atoi(status); err != nil || len(status) > 3 {
			status = "other"
		}
	}
	m.pollResultsTotal.WithLabelValues(status).Inc()
}

func (m *Registry) IncSinkPublished(sink string) {
	if m == nil {
		return
	}
	m.sinkPublishedTotal.WithLabelValues(sink).Inc()
}

func (m *Registry) IncSinkError(sink string) {
	if m == nil {
		return
	}
	m.sinkErrorsTotal.WithLabelValues(sink).Inc()
}

func (m *Registry) IncSinkDropped(sink string) {
	if m == nil {
		return
	}
	m.sinkDroppedTotal.WithLabelValues(sink).Inc()
}
