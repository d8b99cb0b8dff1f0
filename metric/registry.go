package metric

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/pointstream/errors"
)

// Registry owns a private Prometheus registry holding the core
// pipeline instruments plus any embedder-registered collectors. A nil
// *Registry yields a nil Core, which makes every recording call a
// no-op.
type Registry struct {
	prom *prometheus.Registry
	core *Metrics

	mu         sync.Mutex
	registered map[string]prometheus.Collector
}

// NewRegistry creates a registry with the core instruments and Go
// runtime collectors pre-registered.
func NewRegistry() *Registry {
	r := &Registry{
		prom:       prometheus.NewRegistry(),
		core:       NewMetrics(),
		registered: make(map[string]prometheus.Collector),
	}

	r.prom.MustRegister(r.core.collectors()...)
	r.prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Core returns the pipeline instruments, or nil for a nil registry.
func (r *Registry) Core() *Metrics {
	if r == nil {
		return nil
	}
	return r.core
}

// PrometheusRegistry exposes the underlying registry for embedders
// that gather it themselves.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.prom
}

// Handler returns an HTTP handler serving the registry in Prometheus
// exposition format. Embedders mount it wherever they serve metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prom, promhttp.HandlerOpts{})
}

// Register adds a named embedder collector. Registering the same name
// twice, or a collector Prometheus considers a duplicate, is an error.
func (r *Registry) Register(name string, c prometheus.Collector) error {
	if name == "" {
		return errors.Wrap(
			fmt.Errorf("collector name is empty"),
			"Registry", "Register", "name validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.registered[name]; exists {
		return errors.Wrap(
			fmt.Errorf("collector %q already registered", name),
			"Registry", "Register", "duplicate check")
	}

	if err := r.prom.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if stderrors.As(err, &are) {
			return errors.Wrap(err, "Registry", "Register", "prometheus conflict check")
		}
		return errors.Wrap(err, "Registry", "Register", "prometheus registration")
	}

	r.registered[name] = c
	return nil
}

// Unregister removes a named collector. It reports whether a collector
// was actually removed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.registered[name]
	if !exists {
		return false
	}
	if !r.prom.Unregister(c) {
		return false
	}
	delete(r.registered, name)
	return true
}
