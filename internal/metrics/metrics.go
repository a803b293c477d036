/*
Copyright © 2026 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

// Package metrics records build measurements as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one process, registered on a private
// registry.
type Metrics struct {
	registry *prometheus.Registry

	cacheLookupsTotal *prometheus.CounterVec
	stageDuration     *prometheus.HistogramVec
	modulesBuiltTotal *prometheus.CounterVec
	hmrPassesTotal    *prometheus.CounterVec
	hmrPassDuration   *prometheus.HistogramVec
}

// New creates and registers the build metrics along with the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		cacheLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sheaf_transform_cache_lookups_total",
				Help: "Transform cache lookups by the layer that answered them",
			},
			[]string{"layer"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sheaf_loader_stage_duration_seconds",
				Help:    "Time spent in each loader stage",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
			},
			[]string{"stage"},
		),
		modulesBuiltTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sheaf_modules_built_total",
				Help: "Modules processed by the graph builder",
			},
			[]string{"result"},
		),
		hmrPassesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sheaf_hmr_passes_total",
				Help: "Incremental rebuild passes by outcome",
			},
			[]string{"result"},
		),
		hmrPassDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sheaf_hmr_pass_duration_seconds",
				Help:    "Incremental rebuild latency",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"result"},
		),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// CacheHit records a lookup answered by the memory or persistent layer.
func (m *Metrics) CacheHit(layer string) {
	m.cacheLookupsTotal.WithLabelValues(layer).Inc()
}

// CacheMiss records a lookup no layer could answer.
func (m *Metrics) CacheMiss() {
	m.cacheLookupsTotal.WithLabelValues("miss").Inc()
}

func (m *Metrics) StageDuration(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) ModuleBuilt(result string) {
	m.modulesBuiltTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) Pass(result string, d time.Duration) {
	m.hmrPassesTotal.WithLabelValues(result).Inc()
	m.hmrPassDuration.WithLabelValues(result).Observe(d.Seconds())
}
