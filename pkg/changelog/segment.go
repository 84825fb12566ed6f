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
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/basenana/phenfs/pkg/types"
)

const (
	segmentPrefix     = "changelog-"
	segmentSuffix     = ".log"
	segmentTimeLayout = "20060102T150405.000000000"
)

// segment logs each folder at most once per span from its first appearance.
// Changes that fall past its window are passed on to the lazily built successor.
type segment struct {
	dir     string
	span    time.Duration
	start   time.Time
	started bool
	seen    map[types.FidPair]time.Time
	next    *segment

	path string
	file *os.File
}

func newSegment(dir string, span time.Duration) *segment {
	return &segment{dir: dir, span: span, seen: map[types.FidPair]time.Time{}}
}

func segmentName(start time.Time) string {
	return segmentPrefix + start.UTC().Format(segmentTimeLayout) + segmentSuffix
}

// check records change in the first segment of the chain whose window accepts it,
// and returns the segment the caller should use from now on.
func (s *segment) check(change types.FolderChange) (*segment, error) {
	cur := s
	for {
		forward, err := cur.record(change)
		if err != nil {
			return s, err
		}
		if !forward {
			break
		}
		cur = cur.successor()
	}

	if change.Mtime.After(s.start.Add(2 * s.span)) {
		return s.successor(), nil
	}
	return s, nil
}

func (s *segment) record(change types.FolderChange) (bool, error) {
	if !s.started {
		s.start = change.Mtime
		s.path = filepath.Join(s.dir, segmentName(s.start))
		s.started = true
	}

	first, known := s.seen[change.Pair]
	if known {
		return change.Mtime.After(first.Add(s.span)), nil
	}
	if change.Mtime.After(s.start.Add(s.span)) {
		return true, nil
	}

	if err := s.append(change); err != nil {
		return false, err
	}
	s.seen[change.Pair] = change.Mtime
	return false, nil
}

func (s *segment) append(change types.FolderChange) error {
	if s.file == nil {
		f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		s.file = f
	}
	var line string
	if change.Local {
		line = fmt.Sprintf("%s\n", change.Pair.Fid)
	} else {
		line = fmt.Sprintf("%s %s\n", change.Pair.Fid, change.Pair.IDHash)
	}
	_, err := s.file.WriteString(line)
	return err
}

func (s *segment) successor() *segment {
	if s.next == nil {
		s.next = newSegment(s.dir, s.span)
	}
	return s.next
}

func (s *segment) close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
