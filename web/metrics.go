// Copyright 2025 The NLP Odyssey Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package web

import (
	"github.com/nlpodyssey/finchat/present"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors of the web server.
type Metrics struct {
	queries   *prometheus.CounterVec
	duration  prometheus.Histogram
	toolCalls *prometheus.CounterVec
	tokens    *prometheus.CounterVec
	limited   prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. It panics
// on duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finchat",
			Name:      "queries_total",
			Help:      "Queries answered, by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "finchat",
			Name:      "query_duration_seconds",
			Help:      "Time spent answering a query.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finchat",
			Name:      "tool_calls_total",
			Help:      "Tool calls made by the agents, by tool.",
		}, []string{"tool"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finchat",
			Name:      "tokens_total",
			Help:      "Model tokens used, by kind.",
		}, []string{"kind"}),
		limited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "finchat",
			Name:      "rate_limited_total",
			Help:      "Queries rejected by the per-session rate limit.",
		}),
	}
	reg.MustRegister(m.queries, m.duration, m.toolCalls, m.tokens, m.limited)
	return m
}

func (m *Metrics) observe(r present.Report) {
	outcome := "success"
	if !r.Success {
		outcome = "failure"
	}
	m.queries.WithLabelValues(outcome).Inc()
	m.duration.Observe(r.Summary.Duration.Seconds())
	for _, t := range r.Tools {
		m.toolCalls.WithLabelValues(t.Tool).Inc()
	}
	m.tokens.WithLabelValues("input").Add(float64(r.Summary.InputTokens))
	m.tokens.WithLabelValues("output").Add(float64(r.Summary.OutputTokens))
}
