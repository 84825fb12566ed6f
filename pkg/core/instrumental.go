/*
 Copyright 2023 NanaFS Authors.

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

package core

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/basenana/phenfs/pkg/types"
)

var (
	sessionOperationLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "session_operation_latency_seconds",
			Help:    "The latency of session operation.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 5, 6),
		},
		[]string{"operation"},
	)
	sessionOperationErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_operation_errors",
			Help: "This count of session operation encountering errors",
		},
		[]string{"operation"},
	)
	folderEventCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_folder_events",
			Help: "This count of folder events observed",
		},
		[]string{"action"},
	)
)

func init() {
	prometheus.MustRegister(
		sessionOperationLatency,
		sessionOperationErrorCounter,
		folderEventCounter,
	)
}

func logOperationLatency(operation string, startAt time.Time) {
	sessionOperationLatency.WithLabelValues(operation).Observe(time.Since(startAt).Seconds())
}

func logOperationError(operation string, err error) error {
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		sessionOperationErrorCounter.WithLabelValues(operation).Inc()
	}
	return err
}
