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
	"sync"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/basenana/phenfs/config"
	"github.com/basenana/phenfs/pkg/folder"
	"github.com/basenana/phenfs/pkg/metastore"
	"github.com/basenana/phenfs/pkg/storage"
	"github.com/basenana/phenfs/pkg/types"
	"github.com/basenana/phenfs/pkg/writeback"
)

var (
	alice = types.HashIdentity("alice")
	bob   = types.HashIdentity("bob")
	carol = types.HashIdentity("carol")
)

type testFS struct {
	store *storage.ContentStore
	meta  metastore.Meta
	env   *folder.Env
	trav  *Traverser
}

func newTestFS(local types.IDHash, pending PendingSet, sched folder.Scheduler, cfg CacheConfig) *testFS {
	s, err := storage.NewStorage(config.Storage{ID: "test-dentry", Type: storage.MemoryStorage})
	Expect(err).Should(BeNil())
	meta, err := metastore.NewMetaStorage(metastore.MemoryMeta, config.Meta{})
	Expect(err).Should(BeNil())
	store := storage.NewContentStore(s, meta)
	env := &folder.Env{Store: store, Scheduler: sched, Local: local}
	return &testFS{store: store, meta: meta, env: env, trav: NewTraverser(env, store, pending, cfg)}
}

func (fs *testFS) envOf(idhash types.IDHash) *folder.Env {
	return &folder.Env{Store: fs.store, Local: idhash}
}

// mkdir adds a folder entry named name to parent and persists an empty folder for it.
func (fs *testFS) mkdir(parent *folder.Folder, name string, auth types.IDHash, fid types.Fid) {
	pair := types.NewFidPair(auth, fid)
	child := folder.New(fs.envOf(auth), pair, parent.Path()+"/"+name, parent, types.KeyPlaceholder)
	Expect(child.Flush(context.TODO())).Should(BeNil())
	Expect(parent.AddFile(context.TODO(), types.NewMetadata(name, types.FolderKind, fid, auth))).Should(BeNil())
}

func (fs *testFS) touch(parent *folder.Folder, name string, auth types.IDHash, fid types.Fid) {
	Expect(parent.AddFile(context.TODO(), types.NewMetadata(name, types.FileKind, fid, auth))).Should(BeNil())
}

func (fs *testFS) resolve(p string) *Chain {
	chain, err := fs.trav.Traverse(context.TODO(), p, 0)
	Expect(err).Should(BeNil())
	return chain
}

func rootPath(idhash types.IDHash) string {
	return "/" + idhash.String()
}

type recordPending struct {
	mux   sync.Mutex
	added map[types.FidPair]writeback.Folder
	adds  int
}

func (r *recordPending) Pending(pair types.FidPair) (writeback.Folder, bool) {
	r.mux.Lock()
	defer r.mux.Unlock()
	f, ok := r.added[pair]
	return f, ok
}

func (r *recordPending) Add(ctx context.Context, f writeback.Folder) (bool, error) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.added[f.FidPair()] = f
	r.adds++
	return true, nil
}

func (r *recordPending) Adds() int {
	r.mux.Lock()
	defer r.mux.Unlock()
	return r.adds
}

type holdScheduler struct{}

func (holdScheduler) Schedule(ctx context.Context, f *folder.Folder) error {
	return nil
}

var _ = Describe("TestTraverseBasic", func() {
	var fs *testFS
	BeforeEach(func() {
		fs = newTestFS(alice, nil, nil, CacheConfig{})
	})

	It("local root should be created on first use", func() {
		chain := fs.resolve(rootPath(alice))
		Expect(chain.Depth()).Should(Equal(1))
		Expect(chain.Root().FidPair()).Should(Equal(types.RootPair(alice)))
		Expect(chain.Parent()).Should(BeNil())
		Expect(fs.store.IsAvailable(context.TODO(), types.RootPair(alice))).Should(BeTrue())
	})

	It("bad paths should fail with their error class", func() {
		_, err := fs.trav.Traverse(context.TODO(), "", 0)
		Expect(errors.Is(err, types.ErrInvalidArgument)).Should(BeTrue())
		_, err = fs.trav.Traverse(context.TODO(), "/", 0)
		Expect(errors.Is(err, types.ErrNoPerm)).Should(BeTrue())
		_, err = fs.trav.Traverse(context.TODO(), "/../..", 0)
		Expect(errors.Is(err, types.ErrNoPerm)).Should(BeTrue())
		_, err = fs.trav.Traverse(context.TODO(), "/notanidhash/a", 0)
		Expect(errors.Is(err, types.ErrNotFound)).Should(BeTrue())
		_, err = fs.trav.Traverse(context.TODO(), rootPath(alice)+"/missing", 0)
		Expect(errors.Is(err, types.ErrNotFound)).Should(BeTrue())
	})

	It("nested folders and files should resolve", func() {
		root := fs.resolve(rootPath(alice)).Root()
		fs.mkdir(root, "docs", alice, "d1")
		docs := fs.resolve(rootPath(alice) + "/docs").Leaf().Folder
		Expect(docs).ShouldNot(BeNil())
		fs.touch(docs, "a.txt", alice, "f1")

		chain := fs.resolve(rootPath(alice) + "/docs/a.txt")
		Expect(chain.Depth()).Should(Equal(3))
		Expect(chain.Leaf().IsFolder()).Should(BeFalse())
		Expect(chain.Leaf().Meta.Fmeta.Fid).Should(Equal(types.Fid("f1")))
		Expect(chain.Parent()).Should(BeIdenticalTo(docs))
		Expect(chain.Nodes[1].Meta.Folder).Should(BeIdenticalTo(root))
	})

	It("indexing through a file should be not a directory", func() {
		root := fs.resolve(rootPath(alice)).Root()
		fs.touch(root, "a.txt", alice, "f1")
		_, err := fs.trav.Traverse(context.TODO(), rootPath(alice)+"/a.txt/b", 0)
		Expect(errors.Is(err, types.ErrNotDir)).Should(BeTrue())
	})

	It("path should be normalized lexically", func() {
		root := fs.resolve(rootPath(alice)).Root()
		fs.mkdir(root, "docs", alice, "d1")
		chain := fs.resolve(rootPath(alice) + "/docs/../missing/../docs/.")
		Expect(chain.Path).Should(Equal(rootPath(alice) + "/docs"))
		Expect(chain.Leaf().IsFolder()).Should(BeTrue())
	})

	It("repeated traverse should return the same instances", func() {
		root := fs.resolve(rootPath(alice)).Root()
		fs.mkdir(root, "docs", alice, "d1")
		first := fs.resolve(rootPath(alice) + "/docs")
		second := fs.resolve(rootPath(alice) + "/docs")
		Expect(second.Leaf().Folder).Should(BeIdenticalTo(first.Leaf().Folder))
		Expect(second.Leaf().Meta).Should(BeIdenticalTo(first.Leaf().Meta))

		third, err := fs.trav.Traverse(context.TODO(), rootPath(alice)+"/docs", 1)
		Expect(err).Should(BeNil())
		Expect(third.Depth()).Should(Equal(2))
		Expect(third.Leaf().Folder).Should(BeIdenticalTo(first.Leaf().Folder))
	})
})

var _ = Describe("TestTraverseLevels", func() {
	var (
		fs *testFS
		p  = rootPath(alice) + "/docs/a.txt"
	)
	BeforeEach(func() {
		fs = newTestFS(alice, nil, nil, CacheConfig{})
		root := fs.resolve(rootPath(alice)).Root()
		fs.mkdir(root, "docs", alice, "d1")
		docs := fs.resolve(rootPath(alice) + "/docs").Leaf().Folder
		fs.touch(docs, "a.txt", alice, "f1")
		fs.resolve(p)
	})

	It("zero levels should be served from the path cache", func() {
		hits, misses := testutil.ToFloat64(pathCacheHitCounter), testutil.ToFloat64(pathCacheMissCounter)
		Expect(fs.resolve(p).Depth()).Should(Equal(3))
		Expect(testutil.ToFloat64(pathCacheHitCounter)).Should(Equal(hits + 1))
		Expect(testutil.ToFloat64(pathCacheMissCounter)).Should(Equal(misses))
	})

	It("positive levels should walk the trailing segments through their folders", func() {
		misses := testutil.ToFloat64(pathCacheMissCounter)
		folderHits := testutil.ToFloat64(folderCacheHitCounter)

		// docs comes from the cached prefix, only a.txt is looked up
		one, err := fs.trav.Traverse(context.TODO(), p, 1)
		Expect(err).Should(BeNil())
		Expect(testutil.ToFloat64(pathCacheMissCounter)).Should(Equal(misses + 1))
		Expect(testutil.ToFloat64(folderCacheHitCounter)).Should(Equal(folderHits))

		// docs is looked up in the root again and opened through the folder cache
		two, err := fs.trav.Traverse(context.TODO(), p, 2)
		Expect(err).Should(BeNil())
		Expect(testutil.ToFloat64(pathCacheMissCounter)).Should(Equal(misses + 2))
		Expect(testutil.ToFloat64(folderCacheHitCounter)).Should(Equal(folderHits + 1))

		Expect(two.Depth()).Should(Equal(3))
		Expect(two.Leaf().Meta).Should(BeIdenticalTo(one.Leaf().Meta))
		Expect(two.Parent()).Should(BeIdenticalTo(one.Parent()))
	})

	It("re-walk should see an entry replaced behind a cached prefix", func() {
		docs := fs.resolve(rootPath(alice) + "/docs").Leaf().Folder
		fs.touch(docs, "a.txt", alice, "f2")
		chain, err := fs.trav.Traverse(context.TODO(), p, 1)
		Expect(err).Should(BeNil())
		Expect(chain.Leaf().Meta.Fmeta.Fid).Should(Equal(types.Fid("f2")))
	})
})

var _ = Describe("TestCacheCoherence", func() {
	var (
		fs   *testFS
		root *folder.Folder
	)
	BeforeEach(func() {
		fs = newTestFS(alice, nil, nil, CacheConfig{})
		root = fs.resolve(rootPath(alice)).Root()
		fs.touch(root, "a.txt", alice, "f1")
	})

	It("mutation should make older entries stale", func() {
		chain := fs.resolve(rootPath(alice) + "/a.txt")
		fmc := chain.Leaf().Meta
		Expect(fmc.Valid()).Should(BeTrue())

		fs.touch(root, "a.txt", alice, "f2")
		Expect(fmc.Valid()).Should(BeFalse())

		fresh := fs.resolve(rootPath(alice) + "/a.txt").Leaf().Meta
		Expect(fresh).ShouldNot(BeIdenticalTo(fmc))
		Expect(fresh.Valid()).Should(BeTrue())
		Expect(fresh.Fmeta.Fid).Should(Equal(types.Fid("f2")))
	})

	It("removed entry should not be served from the path cache", func() {
		fs.resolve(rootPath(alice) + "/a.txt")
		Expect(root.RemoveFile(context.TODO(), "a.txt", "")).Should(BeNil())
		_, err := fs.trav.Traverse(context.TODO(), rootPath(alice)+"/a.txt", 0)
		Expect(errors.Is(err, types.ErrNotFound)).Should(BeTrue())
	})

	It("invalidate and purge should force a fresh walk", func() {
		first := fs.resolve(rootPath(alice) + "/a.txt").Leaf().Meta
		fs.trav.Invalidate(rootPath(alice) + "/a.txt")
		Expect(fs.resolve(rootPath(alice) + "/a.txt").Leaf().Meta).Should(BeIdenticalTo(first))

		fs.trav.Purge(context.TODO())
		chain := fs.resolve(rootPath(alice) + "/a.txt")
		Expect(chain.Root()).ShouldNot(BeIdenticalTo(root))
		Expect(chain.Leaf().Meta.Fmeta.Fid).Should(Equal(types.Fid("f1")))
	})
})

var _ = Describe("TestMultiEntry", func() {
	var (
		fs   *testFS
		root *folder.Folder
	)
	BeforeEach(func() {
		fs = newTestFS(alice, nil, nil, CacheConfig{})
		root = fs.resolve(rootPath(alice)).Root()
		fs.touch(root, "x", alice, "fa")
		fs.touch(root, "x", bob, "fb")
	})

	It("bare name should resolve to the ambiguous marker", func() {
		leaf := fs.resolve(rootPath(alice) + "/x").Leaf()
		Expect(leaf.Meta.Ambiguous()).Should(BeTrue())
		Expect(leaf.Meta.Fmeta.Kind).Should(Equal(types.MultiKind))
		Expect(leaf.Meta.Multi).Should(HaveLen(2))
	})

	It("owner segment should select one candidate", func() {
		leaf := fs.resolve(rootPath(alice) + "/x/" + alice.String()).Leaf()
		Expect(leaf.Meta.Fmeta.Fid).Should(Equal(types.Fid("fa")))
		Expect(leaf.Meta.MultiID).Should(Equal(alice))

		chain := fs.resolve(rootPath(alice) + "/x/" + bob.String())
		Expect(chain.Depth()).Should(Equal(2))
		Expect(chain.Leaf().Meta.Fmeta.Fid).Should(Equal(types.Fid("fb")))
	})

	It("unknown or malformed owner should fail", func() {
		_, err := fs.trav.Traverse(context.TODO(), rootPath(alice)+"/x/"+carol.String(), 0)
		Expect(errors.Is(err, types.ErrNotFound)).Should(BeTrue())
		_, err = fs.trav.Traverse(context.TODO(), rootPath(alice)+"/x/nothash", 0)
		Expect(errors.Is(err, types.ErrNotDir)).Should(BeTrue())
	})

	It("cached marker should not block a deeper walk", func() {
		Expect(root.RemoveFile(context.TODO(), "x", bob)).Should(BeNil())
		fs.mkdir(root, "x", bob, "dx")
		fs.resolve(rootPath(alice) + "/x")

		bobX, err := fs.trav.OpenFolder(context.TODO(), types.NewFidPair(bob, "dx"), rootPath(alice)+"/x/"+bob.String(), types.KeyPlaceholder, root)
		Expect(err).Should(BeNil())
		Expect(bobX.AddFile(context.TODO(), types.NewMetadata("inner", types.FileKind, "fi", bob))).Should(BeNil())

		chain := fs.resolve(rootPath(alice) + "/x/" + bob.String() + "/inner")
		Expect(chain.Depth()).Should(Equal(3))
		Expect(chain.Parent()).Should(BeIdenticalTo(bobX))
	})
})

var _ = Describe("TestForeignRoot", func() {
	var fs *testFS
	BeforeEach(func() {
		fs = newTestFS(alice, nil, nil, CacheConfig{})
		bobRoot := folder.New(fs.envOf(bob), types.RootPair(bob), rootPath(bob), nil, types.KeyPlaceholder)
		Expect(bobRoot.AddFile(context.TODO(), types.NewMetadata("shared.txt", types.FileKind, "fs1", bob))).Should(BeNil())
	})

	It("foreign root without key should be unavailable", func() {
		_, err := fs.trav.Traverse(context.TODO(), rootPath(bob)+"/shared.txt", 0)
		Expect(errors.Is(err, types.ErrNotFound)).Should(BeTrue())
		Expect(err.Error()).Should(ContainSubstring("root unavailable"))
	})

	It("foreign root with key should resolve", func() {
		Expect(fs.store.SaveLocalData(context.TODO(), types.RootPair(bob), alice, RootKeyTag, "k1")).Should(BeNil())
		chain := fs.resolve(rootPath(bob) + "/shared.txt")
		Expect(chain.Root().Key()).Should(Equal("k1"))
		Expect(chain.Root().OpenedBy()).Should(Equal(alice))
		Expect(chain.Leaf().Meta.Fmeta.Fid).Should(Equal(types.Fid("fs1")))
	})

	It("mutating a foreign tree should need write access", func() {
		Expect(fs.store.SaveLocalData(context.TODO(), types.RootPair(bob), alice, RootKeyTag, "k1")).Should(BeNil())
		_, _, err := fs.trav.Parent(context.TODO(), rootPath(bob)+"/new.txt", true)
		Expect(errors.Is(err, types.ErrNoPerm)).Should(BeTrue())
		_, _, err = fs.trav.Parent(context.TODO(), rootPath(bob)+"/shared.txt", false)
		Expect(errors.Is(err, types.ErrNoPerm)).Should(BeTrue())
	})
})

var _ = Describe("TestParent", func() {
	It("parent should resolve for add and modify", func() {
		fs := newTestFS(alice, nil, nil, CacheConfig{})
		root := fs.resolve(rootPath(alice)).Root()
		fs.touch(root, "a.txt", alice, "f1")

		parent, fmc, err := fs.trav.Parent(context.TODO(), rootPath(alice)+"/new.txt", true)
		Expect(err).Should(BeNil())
		Expect(parent).Should(BeIdenticalTo(root))
		Expect(fmc).Should(BeNil())

		parent, fmc, err = fs.trav.Parent(context.TODO(), rootPath(alice)+"/a.txt", false)
		Expect(err).Should(BeNil())
		Expect(parent).Should(BeIdenticalTo(root))
		Expect(fmc.Fmeta.Fid).Should(Equal(types.Fid("f1")))

		_, _, err = fs.trav.Parent(context.TODO(), rootPath(alice), false)
		Expect(errors.Is(err, types.ErrNoPerm)).Should(BeTrue())
	})
})

var _ = Describe("TestDirtyEviction", func() {
	It("evicted dirty folder should stay reachable through the writeback", func() {
		pending := &recordPending{added: map[types.FidPair]writeback.Folder{}}
		fs := newTestFS(alice, pending, holdScheduler{}, CacheConfig{FolderSize: 1})

		root := fs.resolve(rootPath(alice)).Root()
		fs.mkdir(root, "docs", alice, "d1")
		Expect(root.Dirty()).Should(BeTrue())
		pending.added = map[types.FidPair]writeback.Folder{}

		// loading docs pushes the dirty root out of the single slot cache
		fs.resolve(rootPath(alice) + "/docs")
		_, ok := pending.Pending(types.RootPair(alice))
		Expect(ok).Should(BeTrue())

		again := fs.resolve(rootPath(alice)).Root()
		Expect(again).Should(BeIdenticalTo(root))
	})

	It("evicted folder already pending should not be scheduled again", func() {
		pending := &recordPending{added: map[types.FidPair]writeback.Folder{}}
		fs := newTestFS(alice, pending, holdScheduler{}, CacheConfig{FolderSize: 1})

		root := fs.resolve(rootPath(alice)).Root()
		fs.mkdir(root, "docs", alice, "d1")
		_, ok := pending.Pending(types.RootPair(alice))
		Expect(ok).Should(BeTrue())
		adds := pending.Adds()

		fs.resolve(rootPath(alice) + "/docs")
		Expect(pending.Adds()).Should(Equal(adds))
		Expect(root.Dirty()).Should(BeTrue())
	})
})

var _ = Describe("TestAbspath", func() {
	It("relative paths should be rooted at the local identity", func() {
		Expect(Abspath(alice, "docs/a.txt")).Should(Equal(rootPath(alice) + "/docs/a.txt"))
		Expect(Abspath(alice, "/docs/../b")).Should(Equal(rootPath(alice) + "/b"))
		Expect(Abspath(alice, rootPath(bob)+"/x")).Should(Equal(rootPath(bob) + "/x"))
		Expect(Abspath(alice, "/")).Should(Equal("/"))
		Expect(Abspath(alice, "")).Should(Equal(""))
	})
})
