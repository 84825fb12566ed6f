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

package core

import (
	"context"
	"errors"
	"os"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/basenana/phenfs/config"
	"github.com/basenana/phenfs/pkg/changelog"
	"github.com/basenana/phenfs/pkg/folder"
	"github.com/basenana/phenfs/pkg/types"
)

func newTestConfig() config.Config {
	dir, err := os.MkdirTemp(workdir, "session-")
	Expect(err).Should(BeNil())
	return config.Config{
		Identity: "alice",
		Meta:     config.Meta{Type: config.MemoryMeta},
		Storage:  config.Storage{ID: "test-core", Type: config.MemoryStorage},
		// long thresholds keep the background sweep out of the way
		Writeback: config.Writeback{MinThreshold: 60000, MaxThreshold: 120000, SleepCycle: 1000},
		ChangeLog: config.ChangeLog{Enable: true, Dir: dir, TimeSpan: 3600},
	}
}

var _ = Describe("TestSessionLifecycle", func() {
	var (
		ctx = context.TODO()
		s   *Session
		cfg config.Config
	)
	BeforeEach(func() {
		var err error
		cfg = newTestConfig()
		s, err = New(cfg)
		Expect(err).Should(BeNil())
		Expect(s.Startup(ctx)).Should(BeNil())
	})
	AfterEach(func() {
		Expect(s.Shutdown(ctx)).Should(BeNil())
	})

	It("identity should name the local root", func() {
		Expect(s.Identity()).Should(Equal(types.HashIdentity("alice")))
		root, err := s.Root(ctx)
		Expect(err).Should(BeNil())
		Expect(root.FidPair()).Should(Equal(types.RootPair(s.Identity())))
		Expect(s.PendingFolders()).Should(ContainElement(root.FidPair()))
	})

	It("relative paths should resolve in the local tree", func() {
		Expect(s.Abspath("docs")).Should(Equal("/" + s.Identity().String() + "/docs"))

		parent, _, err := s.Parent(ctx, "a.txt", true)
		Expect(err).Should(BeNil())
		Expect(parent.AddFile(ctx, types.NewMetadata("a.txt", types.FileKind, "f1", s.Identity()))).Should(BeNil())

		chain, err := s.Traverse(ctx, "a.txt", 0, false)
		Expect(err).Should(BeNil())
		Expect(chain.Leaf().Meta.Fmeta.Fid).Should(Equal(types.Fid("f1")))

		_, err = s.Traverse(ctx, "a.txt", 0, true)
		Expect(errors.Is(err, types.ErrNotFound)).Should(BeTrue())
	})

	It("flush should persist pending folders and log them", func() {
		root, err := s.Root(ctx)
		Expect(err).Should(BeNil())
		Expect(root.AddFile(ctx, types.NewMetadata("a.txt", types.FileKind, "f1", s.Identity()))).Should(BeNil())
		Expect(root.Dirty()).Should(BeTrue())

		Expect(s.Flush(ctx)).Should(BeNil())
		Expect(root.Dirty()).Should(BeFalse())
		Expect(s.PendingFolders()).Should(BeEmpty())
		Expect(s.ContentStore().IsAvailable(ctx, root.FidPair())).Should(BeTrue())

		segments, err := s.ChangeLog().Segments()
		Expect(err).Should(BeNil())
		Expect(segments).Should(HaveLen(1))
		entries, err := changelog.ReadSegment(segments[0].Path)
		Expect(err).Should(BeNil())
		Expect(entries).Should(ContainElement(changelog.Entry{Fid: types.RootFid}))
	})

	It("single folder flush should preempt the writeback", func() {
		root, err := s.Root(ctx)
		Expect(err).Should(BeNil())

		flushed, err := s.FlushFolder(ctx, root.FidPair().String())
		Expect(err).Should(BeNil())
		Expect(flushed).Should(BeTrue())
		Expect(root.Dirty()).Should(BeFalse())

		flushed, err = s.FlushFolder(ctx, root.FidPair().String())
		Expect(err).Should(BeNil())
		Expect(flushed).Should(BeFalse())

		_, err = s.FlushFolder(ctx, "not-a-pair")
		Expect(errors.Is(err, types.ErrInvalidArgument)).Should(BeTrue())
	})

	It("foreign root should resolve once its key is imported", func() {
		bob := types.HashIdentity("bob")
		bobEnv := &folder.Env{Store: s.ContentStore(), Local: bob}
		bobRoot := folder.New(bobEnv, types.RootPair(bob), "/"+bob.String(), nil, types.KeyPlaceholder)
		Expect(bobRoot.AddFile(ctx, types.NewMetadata("shared.txt", types.FileKind, "fs1", bob))).Should(BeNil())

		_, err := s.Traverse(ctx, "/"+bob.String()+"/shared.txt", 0, true)
		Expect(errors.Is(err, types.ErrNotFound)).Should(BeTrue())

		Expect(s.ImportRoot(ctx, bob.String(), "k1")).Should(BeNil())
		chain, err := s.Traverse(ctx, "/"+bob.String()+"/shared.txt", 0, true)
		Expect(err).Should(BeNil())
		Expect(chain.Root().Key()).Should(Equal("k1"))
		Expect(chain.Leaf().Meta.Fmeta.Fid).Should(Equal(types.Fid("fs1")))

		Expect(errors.Is(s.ImportRoot(ctx, "bad", "k1"), types.ErrInvalidArgument)).Should(BeTrue())
		Expect(errors.Is(s.ImportRoot(ctx, s.Identity().String(), "k1"), types.ErrInvalidArgument)).Should(BeTrue())
	})

	It("opened folder should be the cached instance", func() {
		root, err := s.Root(ctx)
		Expect(err).Should(BeNil())
		again, err := s.OpenFolder(ctx, root.FidPair(), root.Path(), types.KeyPlaceholder, nil)
		Expect(err).Should(BeNil())
		Expect(again).Should(BeIdenticalTo(root))
	})
})

var _ = Describe("TestSessionChangeLogFailure", func() {
	var ctx = context.TODO()

	It("failed change log append should surface through the writeback", func() {
		s, err := New(newTestConfig())
		Expect(err).Should(BeNil())
		Expect(s.Startup(ctx)).Should(BeNil())
		root, err := s.Root(ctx)
		Expect(err).Should(BeNil())

		Expect(s.ChangeLog().Close()).Should(BeNil())
		flushed, err := s.FlushFolder(ctx, root.FidPair().String())
		Expect(errors.Is(err, types.ErrClosed)).Should(BeTrue())
		Expect(flushed).Should(BeTrue())
		Expect(root.Dirty()).Should(BeTrue())
		Expect(s.PendingFolders()).Should(ContainElement(root.FidPair()))

		Expect(errors.Is(s.Flush(ctx), types.ErrClosed)).Should(BeTrue())
		Expect(errors.Is(s.Shutdown(ctx), types.ErrClosed)).Should(BeTrue())
	})
})

var _ = Describe("TestSessionShutdown", func() {
	var ctx = context.TODO()

	It("shutdown should flush and be idempotent", func() {
		cfg := newTestConfig()
		s, err := New(cfg)
		Expect(err).Should(BeNil())
		Expect(s.Startup(ctx)).Should(BeNil())
		root, err := s.Root(ctx)
		Expect(err).Should(BeNil())

		Expect(s.Shutdown(ctx)).Should(BeNil())
		Expect(root.Dirty()).Should(BeFalse())
		Expect(s.Shutdown(ctx)).Should(BeNil())
		Expect(errors.Is(s.Startup(ctx), types.ErrClosed)).Should(BeTrue())

		// the change log lock is released with the session
		reopened, err := changelog.Open(cfg.ChangeLog.Dir, time.Hour, s.Identity())
		Expect(err).Should(BeNil())
		Expect(reopened.Close()).Should(BeNil())
	})

	It("shutdown handler should stop the session", func() {
		s, err := New(newTestConfig())
		Expect(err).Should(BeNil())
		Expect(s.Startup(ctx)).Should(BeNil())

		stopCh := make(chan struct{})
		shutdownSafe := s.SetupShutdownHandler(stopCh)
		close(stopCh)
		Eventually(shutdownSafe, time.Second*5).Should(BeClosed())
	})

	It("bad config should fail", func() {
		cfg := newTestConfig()
		cfg.Identity = ""
		_, err := New(cfg)
		Expect(errors.Is(err, types.ErrInvalidArgument)).Should(BeTrue())

		cfg = newTestConfig()
		cfg.Writeback.MinThreshold = cfg.Writeback.MaxThreshold
		_, err = New(cfg)
		Expect(err).ShouldNot(BeNil())
	})
})
