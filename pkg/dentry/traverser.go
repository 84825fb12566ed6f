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
	"context"
	"errors"
	"fmt"
	"path"
	"sync"

	"go.uber.org/zap"

	"github.com/basenana/phenfs/pkg/events"
	"github.com/basenana/phenfs/pkg/folder"
	"github.com/basenana/phenfs/pkg/types"
	"github.com/basenana/phenfs/pkg/writeback"
	"github.com/basenana/phenfs/utils"
	"github.com/basenana/phenfs/utils/logger"
)

// RootKeyTag tags the local record that unlocks a foreign root.
const RootKeyTag = "key"

// KeyIndex finds blobs cached locally on behalf of foreign entries.
type KeyIndex interface {
	LocalDataFid(ctx context.Context, owner types.FidPair, idhash types.IDHash, tag string) (types.Fid, error)
}

// PendingSet is the writeback side the traverser consults to stay coherent with
// folders that were evicted before being persisted.
type PendingSet interface {
	Pending(pair types.FidPair) (writeback.Folder, bool)
	Add(ctx context.Context, f writeback.Folder) (bool, error)
}

// Traverser resolves slash paths into chains of folders and entries. The first
// segment of every path is the idhash of the tree it walks.
type Traverser struct {
	env     *folder.Env
	keys    KeyIndex
	pending PendingSet
	cache   *caches
	mux     sync.RWMutex
	logger  *zap.SugaredLogger
}

func NewTraverser(env *folder.Env, keys KeyIndex, pending PendingSet, cfg CacheConfig) *Traverser {
	return &Traverser{
		env:     env,
		keys:    keys,
		pending: pending,
		cache:   newCaches(cfg),
		logger:  logger.NewLogger("traverser"),
	}
}

func (t *Traverser) Local() types.IDHash {
	return t.env.Local
}

// Traverse resolves p. When levels is positive the last levels segments are walked
// through their folders rather than taken from the path cache.
func (t *Traverser) Traverse(ctx context.Context, p string, levels int) (*Chain, error) {
	defer utils.TraceRegion(ctx, "dentry.Traverse")()
	if p == "" {
		return nil, types.ErrInvalidArgument
	}
	cleaned, segs := splitPath(p)
	if len(segs) == 0 {
		return nil, types.ErrNoPerm
	}
	if levels < 0 {
		levels = 0
	}

	nodes, done := t.cachedPrefix(segs, levels)
	if done == len(segs) {
		pathCacheHitCounter.Inc()
		return &Chain{Nodes: nodes, Path: cleaned}, nil
	}
	pathCacheMissCounter.Inc()

	if done == 0 {
		root, err := t.Root(ctx, types.IDHash(segs[0]))
		if err != nil {
			return nil, err
		}
		nodes = []Node{{Folder: root}}
		done = 1
		t.rememberPath(segs[:1], nodes)
	}

	for done < len(segs) {
		parent := nodes[len(nodes)-1]
		if parent.Folder == nil {
			return nil, fmt.Errorf("%w: %s", types.ErrNotDir, joinSegments(segs[:done]))
		}

		name := segs[done]
		serial := parent.Folder.CacheSerial()
		fmeta, err := parent.Folder.Filemeta(name, "", false)
		if err != nil {
			return nil, err
		}

		var (
			multi   []*types.Metadata
			multiID types.IDHash
			step    = 1
		)
		if fmeta.Kind == types.MultiKind {
			multi = parent.Folder.Lookup(name)
			if done+1 < len(segs) {
				selector := segs[done+1]
				fmeta, err = parent.Folder.Filemeta(name, selector, false)
				if err != nil {
					return nil, err
				}
				multiID = types.IDHash(selector)
				step = 2
			}
		}

		fmc := t.filemeta(parent.Folder, serial, fmeta, multi, multiID)
		node := Node{Meta: fmc}
		if fmeta.IsFolder() {
			childPath := joinSegments(segs[:done+step])
			child, err := t.OpenFolder(ctx, types.NewFidPair(fmeta.Auth, fmeta.Fid), childPath, fmeta.Key, parent.Folder)
			if err != nil {
				return nil, err
			}
			node.Folder = child
		}
		nodes = append(nodes, node)
		done += step
		t.rememberPath(segs[:done], nodes)
	}
	return &Chain{Nodes: nodes, Path: cleaned}, nil
}

// cachedPrefix finds the deepest cached prefix that leaves at least levels
// segments to walk, and returns its nodes and length.
func (t *Traverser) cachedPrefix(segs []string, levels int) ([]Node, int) {
	t.mux.RLock()
	defer t.mux.RUnlock()

	for depth := len(segs) - levels; depth > 0; depth-- {
		p := joinSegments(segs[:depth])
		entry, ok := t.cache.getPath(p)
		if !ok {
			continue
		}
		if depth < len(segs) && entry.leafAmbiguous() {
			continue
		}
		nodes, ok := t.cache.materialize(entry)
		if !ok {
			// stale entries are dropped on the next write
			continue
		}
		return nodes, depth
	}
	return nil, 0
}

func (t *Traverser) rememberPath(segs []string, nodes []Node) {
	t.mux.Lock()
	t.cache.putPath(joinSegments(segs), append([]Node(nil), nodes...))
	t.mux.Unlock()
}

func (t *Traverser) filemeta(parent *folder.Folder, serial uint64, fmeta *types.Metadata, multi []*types.Metadata, multiID types.IDHash) *FilemetaCache {
	if len(multi) == 0 && !fmeta.IsTransient() {
		t.mux.RLock()
		cached, ok := t.cache.getFmeta(types.NewFidPair(fmeta.Auth, fmeta.Fid))
		t.mux.RUnlock()
		if ok && cached.Folder == parent && cached.Valid() && cached.Fmeta == fmeta {
			filemetaCacheHitCounter.Inc()
			return cached
		}
	}

	filemetaCacheMissCounter.Inc()
	fmc := newFilemetaCache(parent, serial, fmeta, multi, multiID)
	t.mux.Lock()
	t.cache.putFmeta(fmc)
	t.mux.Unlock()
	return fmc
}

// Root opens the root folder of idhash. A foreign root needs a local key record,
// the local root is created on first use.
func (t *Traverser) Root(ctx context.Context, idhash types.IDHash) (*folder.Folder, error) {
	if !types.IsIDHash(idhash.String()) {
		return nil, fmt.Errorf("%w: bad root %q", types.ErrNotFound, idhash)
	}
	pair := types.RootPair(idhash)
	rootPath := "/" + idhash.String()

	t.mux.RLock()
	cached, ok := t.cache.getFolder(pair)
	t.mux.RUnlock()
	if ok {
		return cached, nil
	}

	key := types.KeyPlaceholder
	if idhash != t.env.Local {
		keyFid, err := t.keys.LocalDataFid(ctx, pair, t.env.Local, RootKeyTag)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				return nil, fmt.Errorf("%w: root unavailable: %s", types.ErrNotFound, idhash)
			}
			return nil, err
		}
		key = string(keyFid)
	}

	root, err := t.OpenFolder(ctx, pair, rootPath, key, nil)
	if err == nil {
		return root, nil
	}
	if !errors.Is(err, types.ErrNotFound) || idhash != t.env.Local {
		return nil, err
	}

	t.logger.Infow("init local root", "idhash", idhash.Short())
	root, err = t.admit(ctx, folder.New(t.env, pair, rootPath, nil, key))
	if err != nil {
		return nil, err
	}
	if t.pending != nil {
		_, err = t.pending.Add(ctx, root)
	} else {
		err = root.Flush(ctx)
	}
	if err != nil {
		return nil, err
	}
	return root, nil
}

// OpenFolder returns the live folder of pair: the cached instance, the one still
// waiting to be persisted, or a fresh load.
func (t *Traverser) OpenFolder(ctx context.Context, pair types.FidPair, p, key string, parent *folder.Folder) (*folder.Folder, error) {
	t.mux.RLock()
	cached, ok := t.cache.getFolder(pair)
	t.mux.RUnlock()
	if ok {
		folderCacheHitCounter.Inc()
		return cached, nil
	}
	folderCacheMissCounter.Inc()

	if t.pending != nil {
		if pf, ok := t.pending.Pending(pair); ok {
			if f, isFolder := pf.(*folder.Folder); isFolder {
				return t.admit(ctx, f)
			}
		}
	}

	f, err := folder.Load(ctx, t.env, pair, p, parent, key)
	if err != nil {
		return nil, err
	}
	return t.admit(ctx, f)
}

// OpenNew caches a folder created in this session that was never persisted.
func (t *Traverser) OpenNew(ctx context.Context, f *folder.Folder) (*folder.Folder, error) {
	return t.admit(ctx, f)
}

// admit caches f, dirty folders pushed out of the cache meanwhile are handed to the writeback.
func (t *Traverser) admit(ctx context.Context, f *folder.Folder) (*folder.Folder, error) {
	t.mux.Lock()
	f, _ = t.cache.putFolder(f)
	evicted := t.cache.drainEvicted()
	t.mux.Unlock()

	t.reschedule(ctx, evicted)
	return f, nil
}

func (t *Traverser) reschedule(ctx context.Context, evicted []*folder.Folder) {
	for _, ef := range evicted {
		folderEvictedCounter.Inc()
		events.PublishFolderEvent(events.ActionTypeEvict, types.FolderChange{Pair: ef.FidPair(), Path: ef.Path(), Mtime: ef.Mtime()})
		if t.pending == nil {
			if err := ef.Flush(ctx); err != nil {
				t.logger.Errorw("flush evicted folder failed", "pair", ef.FidPair().String(), "err", err)
			}
			continue
		}
		if pf, ok := t.pending.Pending(ef.FidPair()); ok && pf == ef {
			// already scheduled, adding again would only postpone its quiet flush
			continue
		}
		if _, err := t.pending.Add(ctx, ef); err != nil {
			t.logger.Errorw("schedule evicted folder failed", "pair", ef.FidPair().String(), "err", err)
		}
	}
}

// Parent resolves the folder a mutation of p happens in and checks the opening
// identity may perform it. Adding needs only the parent to exist.
func (t *Traverser) Parent(ctx context.Context, p string, isAdd bool) (*folder.Folder, *FilemetaCache, error) {
	if p == "" {
		return nil, nil, types.ErrInvalidArgument
	}
	cleaned, segs := splitPath(p)
	if len(segs) <= 1 {
		return nil, nil, types.ErrNoPerm
	}

	if isAdd {
		chain, err := t.Traverse(ctx, path.Dir(cleaned), 0)
		if err != nil {
			return nil, nil, err
		}
		parent := chain.Leaf().Folder
		if parent == nil {
			return nil, nil, types.ErrNotDir
		}
		if err = parent.CheckAccess(nil, true); err != nil {
			return nil, nil, err
		}
		return parent, nil, nil
	}

	chain, err := t.Traverse(ctx, cleaned, 1)
	if err != nil {
		return nil, nil, err
	}
	leaf := chain.Leaf()
	if leaf.Meta == nil {
		return nil, nil, types.ErrNoPerm
	}
	if err = leaf.Meta.Folder.CheckAccess(leaf.Meta.Fmeta, false); err != nil {
		return nil, nil, err
	}
	return leaf.Meta.Folder, leaf.Meta, nil
}

// Invalidate drops the cached resolution of p.
func (t *Traverser) Invalidate(p string) {
	cleaned, _ := splitPath(p)
	t.mux.Lock()
	t.cache.removePath(cleaned)
	t.mux.Unlock()
}

// Purge empties every cache, dirty folders are handed to the writeback first.
func (t *Traverser) Purge(ctx context.Context) {
	t.mux.Lock()
	t.cache.purge()
	evicted := t.cache.drainEvicted()
	t.mux.Unlock()
	t.reschedule(ctx, evicted)
}
