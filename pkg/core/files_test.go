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
	"bytes"
	"context"
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/basenana/phenfs/pkg/types"
)

var _ = Describe("TestSessionFiles", func() {
	var (
		ctx = context.TODO()
		s   *Session
	)
	BeforeEach(func() {
		var err error
		s, err = New(newTestConfig())
		Expect(err).Should(BeNil())
		Expect(s.Startup(ctx)).Should(BeNil())
	})
	AfterEach(func() {
		Expect(s.Shutdown(ctx)).Should(BeNil())
	})

	It("files should be stored under their content fid", func() {
		md, err := s.WriteFile(ctx, "hello.txt", bytes.NewBufferString("hello"))
		Expect(err).Should(BeNil())
		Expect(md.Fid).Should(Equal(types.ContentFid([]byte("hello"))))
		Expect(md.Size).Should(Equal(int64(5)))

		data, err := s.ReadFile(ctx, "hello.txt")
		Expect(err).Should(BeNil())
		Expect(string(data)).Should(Equal("hello"))

		md, err = s.WriteFile(ctx, "hello.txt", bytes.NewBufferString("world"))
		Expect(err).Should(BeNil())
		data, err = s.ReadFile(ctx, "hello.txt")
		Expect(err).Should(BeNil())
		Expect(string(data)).Should(Equal("world"))

		root, err := s.Root(ctx)
		Expect(err).Should(BeNil())
		Expect(root.Lookup("hello.txt")).Should(HaveLen(1))
	})

	It("folders should nest and survive a flush", func() {
		docs, err := s.Mkdir(ctx, "docs")
		Expect(err).Should(BeNil())
		Expect(docs.Owner()).Should(Equal(s.Identity()))
		Expect(docs.FidPair().Fid.IsTransient()).Should(BeFalse())

		_, err = s.Mkdir(ctx, "docs")
		Expect(errors.Is(err, types.ErrIsExist)).Should(BeTrue())

		_, err = s.WriteFile(ctx, "docs/a.txt", bytes.NewBufferString("a"))
		Expect(err).Should(BeNil())
		Expect(s.Flush(ctx)).Should(BeNil())
		Expect(s.ContentStore().IsAvailable(ctx, docs.FidPair())).Should(BeTrue())

		chain, err := s.Traverse(ctx, "docs/a.txt", 0, false)
		Expect(err).Should(BeNil())
		Expect(chain.Depth()).Should(Equal(3))
		Expect(chain.Parent()).Should(BeIdenticalTo(docs))

		_, err = s.WriteFile(ctx, "docs", bytes.NewBufferString("x"))
		Expect(errors.Is(err, types.ErrIsExist)).Should(BeTrue())
		_, err = s.ReadFile(ctx, "docs")
		Expect(errors.Is(err, types.ErrInvalidArgument)).Should(BeTrue())
	})

	It("removed entries should not resolve", func() {
		_, err := s.WriteFile(ctx, "gone.txt", bytes.NewBufferString("bye"))
		Expect(err).Should(BeNil())
		_, err = s.Traverse(ctx, "gone.txt", 0, false)
		Expect(err).Should(BeNil())

		Expect(s.Remove(ctx, "gone.txt")).Should(BeNil())
		_, err = s.Traverse(ctx, "gone.txt", 0, false)
		Expect(errors.Is(err, types.ErrNotFound)).Should(BeTrue())
		Expect(errors.Is(s.Remove(ctx, "gone.txt"), types.ErrNotFound)).Should(BeTrue())
	})

	It("writing into a missing folder should fail", func() {
		_, err := s.WriteFile(ctx, "nowhere/a.txt", bytes.NewBufferString("a"))
		Expect(errors.Is(err, types.ErrNotFound)).Should(BeTrue())
		_, err = s.Mkdir(ctx, "/")
		Expect(errors.Is(err, types.ErrNoPerm)).Should(BeTrue())
	})
})
