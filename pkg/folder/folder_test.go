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

package folder

import (
	"context"
	"errors"
	"sync"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/basenana/phenfs/config"
	"github.com/basenana/phenfs/pkg/storage"
	"github.com/basenana/phenfs/pkg/types"
)

var (
	alice = types.HashIdentity("alice")
	bob   = types.HashIdentity("bob")
	carol = types.HashIdentity("carol")
)

type recordScheduler struct {
	mux       sync.Mutex
	scheduled []*Folder
}

func (r *recordScheduler) Schedule(ctx context.Context, f *Folder) error {
	r.mux.Lock()
	r.scheduled = append(r.scheduled, f)
	r.mux.Unlock()
	return nil
}

func newTestEnv(local types.IDHash) (*Env, *recordScheduler, *[]types.FolderChange) {
	s, err := storage.NewStorage(config.Storage{ID: "test-folder", Type: storage.MemoryStorage})
	Expect(err).Should(BeNil())
	sched := &recordScheduler{}
	changes := &[]types.FolderChange{}
	env := &Env{
		Store:     storage.NewContentStore(s, nil),
		Scheduler: sched,
		Local:     local,
		Modified: func(ctx context.Context, change types.FolderChange) error {
			*changes = append(*changes, change)
			return nil
		},
	}
	return env, sched, changes
}

var _ = Describe("TestFolderTable", func() {
	var (
		env   *Env
		sched *recordScheduler
		f     *Folder
	)
	BeforeEach(func() {
		env, sched, _ = newTestEnv(alice)
		f = New(env, types.RootPair(alice), "/"+alice.String(), nil, types.KeyPlaceholder)
	})

	It("add should bump serial and schedule", func() {
		serial := f.CacheSerial()
		Expect(f.AddFile(context.TODO(), types.NewMetadata("a.txt", types.FileKind, "f1", alice))).Should(BeNil())
		Expect(f.CacheSerial()).Should(BeNumerically(">", serial))
		Expect(f.Dirty()).Should(BeTrue())
		Expect(sched.scheduled).Should(HaveLen(1))

		md, err := f.Filemeta("a.txt", "", false)
		Expect(err).Should(BeNil())
		Expect(md.Fid).Should(Equal(types.Fid("f1")))
	})

	It("same writer should replace its entry", func() {
		Expect(f.AddFile(context.TODO(), types.NewMetadata("a.txt", types.FileKind, "f1", alice))).Should(BeNil())
		Expect(f.AddFile(context.TODO(), types.NewMetadata("a.txt", types.FileKind, "f2", alice))).Should(BeNil())
		Expect(f.Lookup("a.txt")).Should(HaveLen(1))
		md, err := f.Filemeta("a.txt", "", false)
		Expect(err).Should(BeNil())
		Expect(md.Fid).Should(Equal(types.Fid("f2")))
	})

	It("different writers should produce a multi entry", func() {
		Expect(f.AddFile(context.TODO(), types.NewMetadata("x", types.FileKind, "fa", alice))).Should(BeNil())
		Expect(f.AddFile(context.TODO(), types.NewMetadata("x", types.FileKind, "fb", bob))).Should(BeNil())

		md, err := f.Filemeta("x", "", false)
		Expect(err).Should(BeNil())
		Expect(md.Kind).Should(Equal(types.MultiKind))

		md, err = f.Filemeta("x", bob.String(), false)
		Expect(err).Should(BeNil())
		Expect(md.Fid).Should(Equal(types.Fid("fb")))

		_, err = f.Filemeta("x", carol.String(), false)
		Expect(errors.Is(err, types.ErrNotFound)).Should(BeTrue())
		_, err = f.Filemeta("x", "nothash", false)
		Expect(errors.Is(err, types.ErrNotDir)).Should(BeTrue())
	})

	It("missing entry should honor noError", func() {
		md, err := f.Filemeta("none", "", true)
		Expect(err).Should(BeNil())
		Expect(md).Should(BeNil())
		_, err = f.Filemeta("none", "", false)
		Expect(errors.Is(err, types.ErrNotFound)).Should(BeTrue())
	})

	It("bad names should be rejected", func() {
		for _, name := range []string{"", ".", "..", "a/b"} {
			err := f.AddFile(context.TODO(), types.NewMetadata(name, types.FileKind, "f1", alice))
			Expect(errors.Is(err, types.ErrInvalidArgument)).Should(BeTrue())
		}
	})

	It("remove should require owner for ambiguous names", func() {
		Expect(f.AddFile(context.TODO(), types.NewMetadata("x", types.FileKind, "fa", alice))).Should(BeNil())
		Expect(f.AddFile(context.TODO(), types.NewMetadata("x", types.FileKind, "fb", bob))).Should(BeNil())
		Expect(errors.Is(f.RemoveFile(context.TODO(), "x", ""), types.ErrInvalidArgument)).Should(BeTrue())
		Expect(f.RemoveFile(context.TODO(), "x", bob)).Should(BeNil())

		md, err := f.Filemeta("x", "", false)
		Expect(err).Should(BeNil())
		Expect(md.Auth).Should(Equal(alice))
		Expect(f.RemoveFile(context.TODO(), "x", "")).Should(BeNil())
		Expect(f.List()).Should(BeEmpty())
		Expect(errors.Is(f.RemoveFile(context.TODO(), "x", ""), types.ErrNotFound)).Should(BeTrue())
	})

	It("list should be sorted", func() {
		Expect(f.AddFile(context.TODO(), types.NewMetadata("b", types.FileKind, "fb", alice))).Should(BeNil())
		Expect(f.AddFile(context.TODO(), types.NewMetadata("a", types.FolderKind, "fa", alice))).Should(BeNil())
		list := f.List()
		Expect(list).Should(HaveLen(2))
		Expect(list[0].Name).Should(Equal("a"))
	})
})

var _ = Describe("TestFolderPersist", func() {
	It("flush then load should restore the table", func() {
		env, _, changes := newTestEnv(alice)
		f := New(env, types.RootPair(alice), "/"+alice.String(), nil, types.KeyPlaceholder)
		Expect(f.AddFile(context.TODO(), types.NewMetadata("a.txt", types.FileKind, "f1", alice))).Should(BeNil())
		Expect(f.AddWriter(context.TODO(), bob)).Should(BeNil())
		Expect(f.Flush(context.TODO())).Should(BeNil())
		Expect(f.Dirty()).Should(BeFalse())
		Expect(*changes).Should(HaveLen(1))
		Expect((*changes)[0].Local).Should(BeTrue())

		// clean folder does not persist again
		Expect(f.Flush(context.TODO())).Should(BeNil())
		Expect(*changes).Should(HaveLen(1))

		loaded, err := Load(context.TODO(), env, types.RootPair(alice), "/"+alice.String(), nil, types.KeyPlaceholder)
		Expect(err).Should(BeNil())
		Expect(loaded.Dirty()).Should(BeFalse())
		Expect(loaded.Writers()).Should(ConsistOf(alice, bob))
		md, err := loaded.Filemeta("a.txt", "", false)
		Expect(err).Should(BeNil())
		Expect(md.Fid).Should(Equal(types.Fid("f1")))
	})

	It("failed modified hook should fail the flush and keep the folder dirty", func() {
		env, _, _ := newTestEnv(alice)
		hookErr := errors.New("append failed")
		env.Modified = func(ctx context.Context, change types.FolderChange) error {
			return hookErr
		}
		f := New(env, types.RootPair(alice), "/"+alice.String(), nil, types.KeyPlaceholder)
		Expect(f.AddFile(context.TODO(), types.NewMetadata("a.txt", types.FileKind, "f1", alice))).Should(BeNil())
		Expect(f.Flush(context.TODO())).Should(Equal(hookErr))
		Expect(f.Dirty()).Should(BeTrue())

		env.Modified = nil
		Expect(f.Flush(context.TODO())).Should(BeNil())
		Expect(f.Dirty()).Should(BeFalse())
	})

	It("missing blob should be not found", func() {
		env, _, _ := newTestEnv(alice)
		_, err := Load(context.TODO(), env, types.RootPair(bob), "/"+bob.String(), nil, "")
		Expect(errors.Is(err, types.ErrNotFound)).Should(BeTrue())
	})

	It("permanently closed folder should reject mutations", func() {
		env, _, _ := newTestEnv(alice)
		f := New(env, types.RootPair(alice), "/"+alice.String(), nil, "")
		Expect(f.CloseFolder(context.TODO(), true)).Should(BeNil())
		Expect(f.Dirty()).Should(BeFalse())
		err := f.AddFile(context.TODO(), types.NewMetadata("a", types.FileKind, "f1", alice))
		Expect(errors.Is(err, types.ErrClosed)).Should(BeTrue())
	})

	It("folder without scheduler should flush inline", func() {
		env, _, changes := newTestEnv(alice)
		env.Scheduler = nil
		f := New(env, types.RootPair(alice), "/"+alice.String(), nil, "")
		Expect(f.AddFile(context.TODO(), types.NewMetadata("a", types.FileKind, "f1", alice))).Should(BeNil())
		Expect(f.Dirty()).Should(BeFalse())
		Expect(*changes).Should(HaveLen(1))
	})
})

var _ = Describe("TestFolderAccess", func() {
	It("owner should always be allowed", func() {
		env, _, _ := newTestEnv(alice)
		f := New(env, types.RootPair(alice), "/a", nil, "")
		Expect(f.CheckAccess(nil, true)).Should(BeNil())
		Expect(f.CheckAccess(types.NewMetadata("x", types.FileKind, "f", bob), false)).Should(BeNil())
	})

	It("foreign identity should need the writer set", func() {
		env, _, _ := newTestEnv(bob)
		f := New(env, types.RootPair(alice), "/a", nil, "")
		Expect(errors.Is(f.CheckAccess(nil, true), types.ErrNoPerm)).Should(BeTrue())
		Expect(errors.Is(f.AddWriter(context.TODO(), bob), types.ErrNoPerm)).Should(BeTrue())

		f.writers[bob] = struct{}{}
		Expect(f.CheckAccess(nil, true)).Should(BeNil())
		Expect(f.CheckAccess(types.NewMetadata("x", types.FileKind, "f", bob), false)).Should(BeNil())
		Expect(errors.Is(f.CheckAccess(types.NewMetadata("x", types.FileKind, "f", alice), false), types.ErrNoPerm)).Should(BeTrue())
		Expect(errors.Is(f.CheckAccess(types.MultiMetadata("x", nil), false), types.ErrNoPerm)).Should(BeTrue())
	})
})
