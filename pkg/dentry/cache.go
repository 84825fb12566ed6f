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

package dentry

import (
	"github.com/bluele/gcache"

	"github.com/basenana/phenfs/pkg/folder"
	"github.com/basenana/phenfs/pkg/types"
)

const (
	defaultFolderCacheSize   = 1024
	defaultFilemetaCacheSize = 4096
	defaultPathCacheSize     = 4096
)

type CacheConfig struct {
	FolderSize   int
	FilemetaSize int
	PathSize     int
}

// folderRef names a folder arena slot, it goes stale once the slot is evicted or refilled.
type folderRef struct {
	pair types.FidPair
	gen  uint64
}

type arenaSlot struct {
	folder *folder.Folder
	gen    uint64
}

type nodeRef struct {
	folder   folderRef
	isFolder bool
	meta     *FilemetaCache
}

type pathEntry struct {
	nodes []nodeRef
}

// leafAmbiguous reports an entry ending on a multi marker, it cannot be walked further.
func (e *pathEntry) leafAmbiguous() bool {
	last := e.nodes[len(e.nodes)-1]
	return last.meta != nil && last.meta.Ambiguous()
}

// caches is not safe on its own, the traverser serializes access with its RW mutex.
type caches struct {
	folders gcache.Cache
	fmetas  gcache.Cache
	paths   gcache.Cache
	nextGen uint64
	evicted []*folder.Folder
}

func newCaches(cfg CacheConfig) *caches {
	if cfg.FolderSize <= 0 {
		cfg.FolderSize = defaultFolderCacheSize
	}
	if cfg.FilemetaSize <= 0 {
		cfg.FilemetaSize = defaultFilemetaCacheSize
	}
	if cfg.PathSize <= 0 {
		cfg.PathSize = defaultPathCacheSize
	}
	c := &caches{}
	onDrop := func(key, value interface{}) {
		slot, ok := value.(*arenaSlot)
		if ok && slot.folder.Dirty() {
			c.evicted = append(c.evicted, slot.folder)
		}
	}
	c.folders = gcache.New(cfg.FolderSize).LRU().EvictedFunc(onDrop).PurgeVisitorFunc(onDrop).Build()
	c.fmetas = gcache.New(cfg.FilemetaSize).LRU().Build()
	c.paths = gcache.New(cfg.PathSize).LRU().Build()
	return c
}

func (c *caches) getFolder(pair types.FidPair) (*folder.Folder, bool) {
	cached, err := c.folders.Get(pair)
	if err != nil || cached == nil {
		return nil, false
	}
	return cached.(*arenaSlot).folder, true
}

// putFolder stores f unless another instance of the same pair won the race,
// the instance that ends up cached is returned.
func (c *caches) putFolder(f *folder.Folder) (*folder.Folder, folderRef) {
	pair := f.FidPair()
	if cached, err := c.folders.Get(pair); err == nil && cached != nil {
		slot := cached.(*arenaSlot)
		return slot.folder, folderRef{pair: pair, gen: slot.gen}
	}
	c.nextGen++
	slot := &arenaSlot{folder: f, gen: c.nextGen}
	_ = c.folders.Set(pair, slot)
	return f, folderRef{pair: pair, gen: slot.gen}
}

func (c *caches) refOf(f *folder.Folder) (folderRef, bool) {
	cached, err := c.folders.Get(f.FidPair())
	if err != nil || cached == nil {
		return folderRef{}, false
	}
	slot := cached.(*arenaSlot)
	if slot.folder != f {
		return folderRef{}, false
	}
	return folderRef{pair: f.FidPair(), gen: slot.gen}, true
}

func (c *caches) resolve(ref folderRef) (*folder.Folder, bool) {
	cached, err := c.folders.Get(ref.pair)
	if err != nil || cached == nil {
		return nil, false
	}
	slot := cached.(*arenaSlot)
	if slot.gen != ref.gen {
		return nil, false
	}
	return slot.folder, true
}

func (c *caches) getFmeta(pair types.FidPair) (*FilemetaCache, bool) {
	cached, err := c.fmetas.Get(pair)
	if err != nil || cached == nil {
		return nil, false
	}
	return cached.(*FilemetaCache), true
}

func (c *caches) putFmeta(fmc *FilemetaCache) {
	if fmc.Fmeta.IsTransient() || fmc.Ambiguous() {
		return
	}
	_ = c.fmetas.Set(fmc.pair(), fmc)
}

func (c *caches) getPath(p string) (*pathEntry, bool) {
	cached, err := c.paths.Get(p)
	if err != nil || cached == nil {
		return nil, false
	}
	return cached.(*pathEntry), true
}

func (c *caches) putPath(p string, nodes []Node) {
	entry := &pathEntry{nodes: make([]nodeRef, 0, len(nodes))}
	for _, n := range nodes {
		ref := nodeRef{meta: n.Meta}
		if n.Folder != nil {
			fRef, ok := c.refOf(n.Folder)
			if !ok {
				return
			}
			ref.folder = fRef
			ref.isFolder = true
		}
		entry.nodes = append(entry.nodes, ref)
	}
	_ = c.paths.Set(p, entry)
}

// materialize turns a cached path entry back into nodes, it fails when any folder
// was evicted or any entry was mutated since the path was cached.
func (c *caches) materialize(entry *pathEntry) ([]Node, bool) {
	nodes := make([]Node, 0, len(entry.nodes))
	for _, ref := range entry.nodes {
		n := Node{Meta: ref.meta}
		if ref.meta != nil && !ref.meta.Valid() {
			return nil, false
		}
		if ref.isFolder {
			f, ok := c.resolve(ref.folder)
			if !ok {
				return nil, false
			}
			n.Folder = f
		}
		nodes = append(nodes, n)
	}
	return nodes, true
}

func (c *caches) removePath(p string) {
	c.paths.Remove(p)
}

func (c *caches) drainEvicted() []*folder.Folder {
	evicted := c.evicted
	c.evicted = nil
	return evicted
}

func (c *caches) purge() {
	c.paths.Purge()
	c.fmetas.Purge()
	c.folders.Purge()
}
