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

package metastore

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/basenana/phenfs/pkg/types"
)

var (
	metaOperationLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meta_operation_latency_seconds",
			Help:    "The latency of meta store operation.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"operation"},
	)
	metaOperationErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meta_operation_errors",
			Help: "This count of meta store encountering errors",
		},
		[]string{"operation"},
	)

	disableMetrics bool
)

func init() {
	prometheus.MustRegister(
		metaOperationLatency,
		metaOperationErrorCounter,
	)
}

func DisableMetrics() {
	disableMetrics = true
}

type instrumentalStore struct {
	store Meta
}

var _ Meta = instrumentalStore{}

func (i instrumentalStore) GetLocalData(ctx context.Context, owner types.FidPair, idhash types.IDHash, tag string) (types.Fid, error) {
	const operation = "get_local_data"
	defer logOperationLatency(operation, time.Now())
	fid, err := i.store.GetLocalData(ctx, owner, idhash, tag)
	return fid, logOperationError(operation, err)
}

func (i instrumentalStore) SaveLocalData(ctx context.Context, owner types.FidPair, idhash types.IDHash, tag string, dataFid types.Fid) error {
	const operation = "save_local_data"
	defer logOperationLatency(operation, time.Now())
	err := i.store.SaveLocalData(ctx, owner, idhash, tag, dataFid)
	return logOperationError(operation, err)
}

func (i instrumentalStore) ListLocalData(ctx context.Context, owner types.FidPair) ([]types.LocalData, error) {
	const operation = "list_local_data"
	defer logOperationLatency(operation, time.Now())
	result, err := i.store.ListLocalData(ctx, owner)
	return result, logOperationError(operation, err)
}

func (i instrumentalStore) DeleteLocalData(ctx context.Context, owner types.FidPair, idhash types.IDHash, tag string) error {
	const operation = "delete_local_data"
	defer logOperationLatency(operation, time.Now())
	err := i.store.DeleteLocalData(ctx, owner, idhash, tag)
	return logOperationError(operation, err)
}

func (i instrumentalStore) Close() error {
	return i.store.Close()
}

func logOperationLatency(operation string, startAt time.Time) {
	metaOperationLatency.WithLabelValues(operation).Observe(time.Since(startAt).Seconds())
}

func logOperationError(operation string, err error) error {
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		metaOperationErrorCounter.WithLabelValues(operation).Inc()
	}
	return err
}
