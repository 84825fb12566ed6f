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

package changelog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/basenana/phenfs/pkg/types"
	"github.com/basenana/phenfs/utils"
	"github.com/basenana/phenfs/utils/logger"
)

const DefaultTimeSpan = time.Hour

var (
	recordedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "changelog_recorded_changes",
			Help: "The count of folder changes handed to the change log",
		},
	)
	rotatedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "changelog_rotated_segments",
			Help: "The count of segments retired",
		},
	)
)

func init() {
	prometheus.MustRegister(recordedCounter, rotatedCounter)
}

// ChangeLog appends deduplicated folder changes into time windowed segment files.
type ChangeLog struct {
	dir     string
	span    time.Duration
	local   types.IDHash
	current *segment
	lock    *dirLock
	closed  bool
	mux     sync.Mutex
	logger  *zap.SugaredLogger
}

// Open takes the directory lock and resumes the newest segment found in dir.
func Open(dir string, span time.Duration, local types.IDHash) (*ChangeLog, error) {
	if span <= 0 {
		span = DefaultTimeSpan
	}
	if err := utils.Mkdir(dir); err != nil {
		return nil, fmt.Errorf("init changelog dir failed: %w", err)
	}
	lock, err := lockDir(dir)
	if err != nil {
		return nil, err
	}

	c := &ChangeLog{
		dir:    dir,
		span:   span,
		local:  local,
		lock:   lock,
		logger: logger.NewLogger("changelog"),
	}
	c.current, err = c.recover()
	if err != nil {
		_ = lock.release()
		return nil, err
	}
	return c, nil
}

// recover rebuilds the newest segment, every fid found in it counts as first seen
// at the segment start. A fid may be logged once more than strictly needed, never less.
func (c *ChangeLog) recover() (*segment, error) {
	infos, err := listSegments(c.dir)
	if err != nil {
		return nil, err
	}
	seg := newSegment(c.dir, c.span)
	if len(infos) == 0 {
		return seg, nil
	}

	newest := infos[len(infos)-1]
	entries, err := ReadSegment(newest.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "recover segment %s", filepath.Base(newest.Path))
	}
	seg.start = newest.Start
	seg.started = true
	seg.path = newest.Path
	for _, en := range entries {
		owner := en.Owner
		if owner == "" {
			owner = c.local
		}
		seg.seen[types.NewFidPair(owner, en.Fid)] = newest.Start
	}
	c.logger.Infow("changelog recovered", "segment", newest.Path, "entries", len(entries))
	return seg, nil
}

// Record is fired for every persisted folder revision.
func (c *ChangeLog) Record(ctx context.Context, change types.FolderChange) error {
	defer utils.TraceRegion(ctx, "changelog.Record")()
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.closed {
		return types.ErrClosed
	}

	change.Local = change.Pair.IDHash == c.local
	next, err := c.current.check(change)
	recordedCounter.Inc()
	if err != nil {
		c.logger.Errorw("append changelog failed", "pair", change.Pair.String(), "err", err)
		return err
	}
	for c.current != next {
		retired := c.current
		c.current = retired.successor()
		if err = retired.close(); err != nil {
			c.logger.Warnw("close retired segment failed", "segment", retired.path, "err", err)
		}
		rotatedCounter.Inc()
	}
	return nil
}

// Hook adapts Record to the folder modified callback.
func (c *ChangeLog) Hook(ctx context.Context, change types.FolderChange) error {
	return c.Record(ctx, change)
}

func (c *ChangeLog) Dir() string {
	return c.dir
}

func (c *ChangeLog) Segments() ([]SegmentInfo, error) {
	return listSegments(c.dir)
}

func (c *ChangeLog) Close() error {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var firstErr error
	for seg := c.current; seg != nil; seg = seg.next {
		if err := seg.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := c.lock.release(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

type SegmentInfo struct {
	Path  string
	Start time.Time
}

type Entry struct {
	Fid   types.Fid
	Owner types.IDHash
}

func (e Entry) String() string {
	if e.Owner == "" {
		return string(e.Fid)
	}
	return fmt.Sprintf("%s %s", e.Fid, e.Owner)
}

// ListSegments returns the segment files of dir, oldest first.
func ListSegments(dir string) ([]SegmentInfo, error) {
	return listSegments(dir)
}

func listSegments(dir string) ([]SegmentInfo, error) {
	matches, err := filepath.Glob(filepath.Join(dir, segmentPrefix+"*"+segmentSuffix))
	if err != nil {
		return nil, err
	}
	result := make([]SegmentInfo, 0, len(matches))
	for _, p := range matches {
		raw := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(p), segmentPrefix), segmentSuffix)
		start, err := time.Parse(segmentTimeLayout, raw)
		if err != nil {
			continue
		}
		result = append(result, SegmentInfo{Path: p, Start: start})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Start.Before(result[j].Start) })
	return result, nil
}

func ReadSegment(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var result []Entry
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch len(fields) {
		case 1:
			result = append(result, Entry{Fid: types.Fid(fields[0])})
		case 2:
			if !types.IsIDHash(fields[1]) {
				return nil, fmt.Errorf("%w: %s line %d has bad idhash", types.ErrInvalidArgument, path, i+1)
			}
			result = append(result, Entry{Fid: types.Fid(fields[0]), Owner: types.IDHash(fields[1])})
		default:
			return nil, fmt.Errorf("%w: %s line %d", types.ErrInvalidArgument, path, i+1)
		}
	}
	return result, nil
}
