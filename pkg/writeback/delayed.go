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
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/basenana/phenfs/pkg/types"
	"github.com/basenana/phenfs/utils/logger"
	"github.com/basenana/phenfs/utils/metrics"
)

const (
	DefaultMinThreshold = 2500 * time.Millisecond
	DefaultMaxThreshold = 5 * time.Second
	DefaultSleepCycle   = time.Second
)

// Folder is what the scheduler persists.
type Folder interface {
	FidPair() types.FidPair
	Dirty() bool
	Flush(ctx context.Context) error
	CloseFolder(ctx context.Context, permanent bool) error
}

type Config struct {
	// MinThreshold is the quiet period after which a folder is persisted.
	MinThreshold time.Duration
	// MaxThreshold caps how long a busy folder may stay pending.
	MaxThreshold time.Duration
	SleepCycle   time.Duration
}

type Option func(d *DelayedSave)

// WithClock replaces time.Now, tests drive the scheduler with it.
func WithClock(now func() time.Time) Option {
	return func(d *DelayedSave) {
		d.now = now
	}
}

// DelayedSave coalesces repeated mutations of a folder into one persist.
// All bookkeeping and flush I/O serialize on one mutex.
type DelayedSave struct {
	cfg   Config
	now   func() time.Time
	list  *itemList
	index map[types.FidPair]handle

	done    bool
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mux     sync.Mutex
	logger  *zap.SugaredLogger
}

func New(cfg Config, opts ...Option) (*DelayedSave, error) {
	if cfg.MinThreshold == 0 {
		cfg.MinThreshold = DefaultMinThreshold
	}
	if cfg.MaxThreshold == 0 {
		cfg.MaxThreshold = DefaultMaxThreshold
	}
	if cfg.SleepCycle == 0 {
		cfg.SleepCycle = DefaultSleepCycle
	}
	if cfg.MinThreshold < 0 || cfg.SleepCycle < 0 || cfg.MinThreshold >= cfg.MaxThreshold {
		return nil, fmt.Errorf("%w: writeback thresholds min=%s max=%s", types.ErrInvalidArgument, cfg.MinThreshold, cfg.MaxThreshold)
	}

	d := &DelayedSave{
		cfg:    cfg,
		now:    time.Now,
		list:   newItemList(),
		index:  map[types.FidPair]handle{},
		stopCh: make(chan struct{}),
		logger: logger.NewLogger("delayedSave"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Add schedules f for persistence. It returns true when the flush was deferred;
// false means f was persisted synchronously, or needed nothing.
func (d *DelayedSave) Add(ctx context.Context, f Folder) (bool, error) {
	d.mux.Lock()
	defer d.mux.Unlock()

	if d.done {
		err := f.Flush(ctx)
		logFlush(reasonSync, err)
		return false, err
	}
	if !f.Dirty() {
		return false, nil
	}

	pair := f.FidPair()
	now := d.now()
	h, ok := d.index[pair]
	if !ok {
		d.index[pair] = d.list.pushFront(delayedItem{folder: f, start: now, last: now})
		pendingFoldersGauge.Set(float64(d.list.len()))
		return true, nil
	}

	item := d.list.get(h)
	if item.delay(now, d.cfg.MinThreshold, d.cfg.MaxThreshold) {
		// a reloaded folder replaces the instance that was pending
		item.folder = f
		d.list.moveFront(h)
		coalescedCounter.Inc()
		return true, nil
	}

	removed := d.removeLocked(pair, h)
	err := f.Flush(ctx)
	logFlush(reasonForced, err)
	if err != nil {
		d.logger.Errorw("forced flush failed", "pair", pair.String(), "err", err)
		removed.folder = f
		d.requeueLocked(removed)
	}
	return false, err
}

// Preempt flushes the pending item of pair now, a missing item is not an error.
func (d *DelayedSave) Preempt(ctx context.Context, pair types.FidPair) (bool, error) {
	d.mux.Lock()
	defer d.mux.Unlock()

	h, ok := d.index[pair]
	if !ok {
		return false, nil
	}
	item := d.removeLocked(pair, h)
	err := item.folder.Flush(ctx)
	logFlush(reasonPreempt, err)
	if err != nil {
		d.logger.Errorw("preempt flush failed", "pair", pair.String(), "err", err)
		d.requeueLocked(item)
		return true, err
	}
	return true, nil
}

// Pending returns the folder still waiting to be persisted under pair.
func (d *DelayedSave) Pending(pair types.FidPair) (Folder, bool) {
	d.mux.Lock()
	defer d.mux.Unlock()
	h, ok := d.index[pair]
	if !ok {
		return nil, false
	}
	return d.list.get(h).folder, true
}

func (d *DelayedSave) Len() int {
	d.mux.Lock()
	defer d.mux.Unlock()
	return d.list.len()
}

// PendingPairs lists pending folders, most recently touched first.
func (d *DelayedSave) PendingPairs() []types.FidPair {
	d.mux.Lock()
	defer d.mux.Unlock()
	return d.list.pairs()
}

// Flush persists every pending item, closing them permanently when asked.
func (d *DelayedSave) Flush(ctx context.Context, permanent bool) error {
	d.mux.Lock()
	defer d.mux.Unlock()
	return d.flushAllLocked(ctx, permanent)
}

func (d *DelayedSave) Startup() {
	d.mux.Lock()
	defer d.mux.Unlock()
	if d.started || d.done {
		return
	}
	d.started = true
	d.wg.Add(1)
	go d.run()
	d.logger.Infow("delayed save started", "min", d.cfg.MinThreshold, "max", d.cfg.MaxThreshold, "cycle", d.cfg.SleepCycle)
}

// Shutdown persists everything pending and stops the sweep. Later adds flush synchronously.
func (d *DelayedSave) Shutdown(ctx context.Context) error {
	d.mux.Lock()
	if d.done {
		d.mux.Unlock()
		return nil
	}
	d.done = true
	err := d.flushAllLocked(ctx, false)
	started := d.started
	d.mux.Unlock()

	if started {
		close(d.stopCh)
		d.wg.Wait()
	}
	d.logger.Infow("delayed save stopped")
	return err
}

func (d *DelayedSave) run() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.cfg.SleepCycle)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
		}
		d.safeSweep()
	}
}

func (d *DelayedSave) safeSweep() {
	defer func() {
		if rErr := recover(); rErr != nil {
			err := fmt.Errorf("sweep panic: %v", rErr)
			d.logger.Errorw("sweep panic", "err", err)
			metrics.CaptureError(err, map[string]string{"component": "writeback"})
		}
	}()
	d.sweep(context.Background())
}

// sweep reaps from the tail, the longest quiet end. It stops at the first item
// that is still hot even when colder items wait behind it.
func (d *DelayedSave) sweep(ctx context.Context) int {
	defer logSweepLatency(time.Now())
	d.mux.Lock()
	defer d.mux.Unlock()

	var (
		now    = d.now()
		reaped int
	)
	h, ok := d.list.back()
	for ok {
		item := d.list.get(h)
		if now.Sub(item.start) <= d.cfg.MinThreshold {
			break
		}

		reason := ""
		switch {
		case now.Sub(item.last) > d.cfg.MinThreshold:
			reason = reasonQuiet
		case now.Sub(item.start) >= d.cfg.MaxThreshold:
			reason = reasonCap
		default:
			return reaped
		}

		prev, hasPrev := d.list.prev(h)
		pair := item.folder.FidPair()
		removed := d.removeLocked(pair, h)
		if err := removed.folder.Flush(ctx); err != nil {
			d.logger.Errorw("background flush failed", "pair", pair.String(), "err", err)
			metrics.CaptureError(err, map[string]string{"component": "writeback", "pair": pair.String()})
			logFlush(reason, err)
			// the tail is behind the walk, the retry waits for the next sweep
			d.requeueLocked(removed)
		} else {
			logFlush(reason, nil)
		}
		reaped++
		h, ok = prev, hasPrev
	}
	return reaped
}

func (d *DelayedSave) flushAllLocked(ctx context.Context, permanent bool) error {
	var (
		firstErr error
		failed   []delayedItem
	)
	for {
		h, ok := d.list.front()
		if !ok {
			break
		}
		item := d.list.get(h)
		pair := item.folder.FidPair()
		removed := d.removeLocked(pair, h)

		var err error
		if permanent {
			err = removed.folder.CloseFolder(ctx, true)
		} else {
			err = removed.folder.Flush(ctx)
		}
		logFlush(reasonFlush, err)
		if err != nil {
			d.logger.Errorw("flush pending folder failed", "pair", pair.String(), "err", err)
			if firstErr == nil {
				firstErr = err
			}
			failed = append(failed, removed)
		}
	}
	for _, item := range failed {
		d.requeueLocked(item)
	}
	return firstErr
}

// requeueLocked keeps a folder whose flush failed pending with its original start,
// at the cold end of the list. Nothing is kept once the scheduler is done.
func (d *DelayedSave) requeueLocked(item delayedItem) {
	if d.done || !item.folder.Dirty() {
		return
	}
	pair := item.folder.FidPair()
	if _, ok := d.index[pair]; ok {
		return
	}
	d.index[pair] = d.list.pushBack(item)
	pendingFoldersGauge.Set(float64(d.list.len()))
}

func (d *DelayedSave) removeLocked(pair types.FidPair, h handle) delayedItem {
	item, _ := d.list.remove(h)
	delete(d.index, pair)
	pendingFoldersGauge.Set(float64(d.list.len()))
	return item
}
