/*
Copyright 2024 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/


// Package observability exports planner and ingestion statistics to Prometheus and OpenTelemetry.
package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kalc"

// Recorder counts ingested documents and search outcomes. It implements
// builder.Recorder and search.Observer.
type Recorder struct {
	registry *prometheus.Registry

	documents      *prometheus.CounterVec
	expandedStates prometheus.Counter
	plans          *prometheus.CounterVec
	searchDuration prometheus.Histogram
}

// NewRecorder creates a Recorder with its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		documents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "builder",
				Name:      "documents_total",
				Help:      "Ingested manifest documents by kind and result",
			},
			[]string{"kind", "result"},
		),
		expandedStates: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "expanded_states_total",
				Help:      "States expanded by the planner",
			},
		),
		plans: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "plans_total",
				Help:      "Finished searches by result",
			},
			[]string{"result"},
		),
		searchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "duration_seconds",
				Help:      "Wall time of a search",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
			},
		),
	}
	r.registry.MustRegister(r.documents, r.expandedStates, r.plans, r.searchDuration)
	return r
}

func (r *Recorder) ObserveDocument(kind, result string) {
	r.documents.WithLabelValues(kind, result).Inc()
}

func (r *Recorder) ObserveExpanded(states int) {
	r.expandedStates.Add(float64(states))
}

func (r *Recorder) ObservePlan(result string, elapsed time.Duration) {
	r.plans.WithLabelValues(result).Inc()
	r.searchDuration.Observe(elapsed.Seconds())
}

// WriteTextfile writes the collected metrics in the node exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
