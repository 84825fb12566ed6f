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

	"github.com/basenana/phenfs/pkg/types"
)

const nilIndex = -1

type delayedItem struct {
	folder Folder
	start  time.Time
	last   time.Time
}

// delay reports whether the item may be pushed back once more, and records the touch if so.
func (i *delayedItem) delay(now time.Time, minThreshold, maxThreshold time.Duration) bool {
	if now.Sub(i.last) < minThreshold && now.Sub(i.start) < maxThreshold {
		i.last = now
		return true
	}
	return false
}

type handle struct {
	index int
	gen   uint32
}

type slot struct {
	item       delayedItem
	prev, next int
	gen        uint32
	used       bool
}

// itemList is a doubly linked list threaded through a slot arena, head is the
// most recently touched item. Freed slots are recycled with a bumped generation
// so stale handles never alias a new item.
type itemList struct {
	slots []slot
	free  []int
	head  int
	tail  int
	size  int
}

func newItemList() *itemList {
	return &itemList{head: nilIndex, tail: nilIndex}
}

func (l *itemList) pushFront(item delayedItem) handle {
	var idx int
	if n := len(l.free); n > 0 {
		idx = l.free[n-1]
		l.free = l.free[:n-1]
	} else {
		l.slots = append(l.slots, slot{})
		idx = len(l.slots) - 1
	}
	s := &l.slots[idx]
	s.item = item
	s.used = true
	l.linkFront(idx)
	l.size++
	return handle{index: idx, gen: s.gen}
}

// pushBack places item at the cold end.
func (l *itemList) pushBack(item delayedItem) handle {
	h := l.pushFront(item)
	if l.tail != h.index {
		l.unlink(h.index)
		l.linkBack(h.index)
	}
	return h
}

func (l *itemList) get(h handle) *delayedItem {
	if !l.valid(h) {
		return nil
	}
	return &l.slots[h.index].item
}

func (l *itemList) moveFront(h handle) bool {
	if !l.valid(h) {
		return false
	}
	if l.head == h.index {
		return true
	}
	l.unlink(h.index)
	l.linkFront(h.index)
	return true
}

func (l *itemList) remove(h handle) (delayedItem, bool) {
	if !l.valid(h) {
		return delayedItem{}, false
	}
	l.unlink(h.index)
	s := &l.slots[h.index]
	item := s.item
	s.item = delayedItem{}
	s.used = false
	s.gen++
	l.free = append(l.free, h.index)
	l.size--
	return item, true
}

func (l *itemList) back() (handle, bool) {
	if l.tail == nilIndex {
		return handle{}, false
	}
	return handle{index: l.tail, gen: l.slots[l.tail].gen}, true
}

func (l *itemList) front() (handle, bool) {
	if l.head == nilIndex {
		return handle{}, false
	}
	return handle{index: l.head, gen: l.slots[l.head].gen}, true
}

// prev walks toward the head.
func (l *itemList) prev(h handle) (handle, bool) {
	if !l.valid(h) {
		return handle{}, false
	}
	p := l.slots[h.index].prev
	if p == nilIndex {
		return handle{}, false
	}
	return handle{index: p, gen: l.slots[p].gen}, true
}

func (l *itemList) len() int {
	return l.size
}

func (l *itemList) pairs() []types.FidPair {
	result := make([]types.FidPair, 0, l.size)
	for idx := l.head; idx != nilIndex; idx = l.slots[idx].next {
		result = append(result, l.slots[idx].item.folder.FidPair())
	}
	return result
}

func (l *itemList) valid(h handle) bool {
	return h.index >= 0 && h.index < len(l.slots) && l.slots[h.index].used && l.slots[h.index].gen == h.gen
}

func (l *itemList) linkFront(idx int) {
	s := &l.slots[idx]
	s.prev = nilIndex
	s.next = l.head
	if l.head != nilIndex {
		l.slots[l.head].prev = idx
	}
	l.head = idx
	if l.tail == nilIndex {
		l.tail = idx
	}
}

func (l *itemList) linkBack(idx int) {
	s := &l.slots[idx]
	s.next = nilIndex
	s.prev = l.tail
	if l.tail != nilIndex {
		l.slots[l.tail].next = idx
	}
	l.tail = idx
	if l.head == nilIndex {
		l.head = idx
	}
}

func (l *itemList) unlink(idx int) {
	s := &l.slots[idx]
	if s.prev != nilIndex {
		l.slots[s.prev].next = s.next
	} else {
		l.head = s.next
	}
	if s.next != nilIndex {
		l.slots[s.next].prev = s.prev
	} else {
		l.tail = s.prev
	}
	s.prev, s.next = nilIndex, nilIndex
}
