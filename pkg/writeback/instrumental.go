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

package writeback

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	pendingFoldersGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "writeback_pending_folders",
			Help: "The count of folders waiting to be persisted",
		},
	)
	folderFlushCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "writeback_folder_flushes",
			Help: "The count of folder flushes by trigger",
		},
		[]string{"reason"},
	)
	folderFlushErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "writeback_folder_flush_errors",
			Help: "The count of folder flushes that failed",
		},
		[]string{"reason"},
	)
	coalescedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "writeback_coalesced_adds",
			Help: "The count of adds merged into a pending item",
		},
	)
	sweepLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "writeback_sweep_latency_seconds",
			Help:    "The latency of one background sweep.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
	)
)

func init() {
	prometheus.MustRegister(
		pendingFoldersGauge,
		folderFlushCounter,
		folderFlushErrorCounter,
		coalescedCounter,
		sweepLatency,
	)
}

const (
	reasonSync    = "sync"
	reasonForced  = "forced"
	reasonPreempt = "preempt"
	reasonQuiet   = "quiet"
	reasonCap     = "cap"
	reasonFlush   = "flush"
)

func logFlush(reason string, err error) {
	folderFlushCounter.WithLabelValues(reason).Inc()
	if err != nil {
		folderFlushErrorCounter.WithLabelValues(reason).Inc()
	}
}

func logSweepLatency(startAt time.Time) {
	sweepLatency.Observe(time.Since(startAt).Seconds())
}
