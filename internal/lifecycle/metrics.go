// Copyright 2025 Tom Barlow
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

package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// lifecycleStarts tracks start requests by outcome
	lifecycleStarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgate_lifecycle_starts_total",
			Help: "Total service start requests by outcome",
		},
		[]string{"outcome"},
	)

	// lifecycleStops tracks stop requests by outcome
	lifecycleStops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgate_lifecycle_stops_total",
			Help: "Total service stop requests by outcome",
		},
		[]string{"outcome"},
	)

	// lifecycleInvocations tracks webhook invocations by outcome
	lifecycleInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgate_invocations_total",
			Help: "Total workflow invocations by outcome",
		},
		[]string{"outcome"},
	)

	// lifecycleHealthPolls tracks health probe results during startup
	lifecycleHealthPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgate_health_polls_total",
			Help: "Total startup health polls by result",
		},
		[]string{"result"},
	)

	// lifecycleRunning reflects the controller's view of the service
	lifecycleRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowgate_service_running",
			Help: "Whether the controller believes the workflow service is running",
		},
	)

	// lifecycleInvokeDuration tracks end-to-end invocation latency
	lifecycleInvokeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flowgate_invocation_duration_seconds",
			Help:    "End-to-end workflow invocation duration including lifecycle",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)
)

// recordStart increments the start counter
func recordStart(outcome string) {
	lifecycleStarts.WithLabelValues(outcome).Inc()
}

// recordStop increments the stop counter
func recordStop(outcome string) {
	lifecycleStops.WithLabelValues(outcome).Inc()
}

// recordInvocation increments the invocation counter
func recordInvocation(outcome string) {
	lifecycleInvocations.WithLabelValues(outcome).Inc()
}

// recordHealthPoll increments the health poll counter
func recordHealthPoll(result string) {
	lifecycleHealthPolls.WithLabelValues(result).Inc()
}

// setRunning updates the running gauge
func setRunning(running bool) {
	if running {
		lifecycleRunning.Set(1)
	} else {
		lifecycleRunning.Set(0)
	}
}
