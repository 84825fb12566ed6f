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

package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/basenana/phenfs/config"
	"github.com/basenana/phenfs/pkg/types"
	"github.com/basenana/phenfs/utils"
)

func readAll(s Storage, key string) ([]byte, error) {
	r, err := s.Get(context.TODO(), key)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func storageBehaviour(build func() Storage) {
	var (
		s    Storage
		data string
	)
	BeforeEach(func() {
		s = build()
		var err error
		data, err = utils.RandString(4096)
		Expect(err).Should(BeNil())
	})

	It("put then get should return the same blob", func() {
		Expect(s.Put(context.TODO(), "aa/bb", bytes.NewReader([]byte(data)))).Should(BeNil())
		got, err := readAll(s, "aa/bb")
		Expect(err).Should(BeNil())
		Expect(string(got)).Should(Equal(data))

		info, err := s.Head(context.TODO(), "aa/bb")
		Expect(err).Should(BeNil())
		Expect(info.Size).Should(Equal(int64(len(data))))
	})

	It("put should overwrite the blob", func() {
		Expect(s.Put(context.TODO(), "aa/cc", bytes.NewReader([]byte("first")))).Should(BeNil())
		Expect(s.Put(context.TODO(), "aa/cc", bytes.NewReader([]byte("second")))).Should(BeNil())
		got, err := readAll(s, "aa/cc")
		Expect(err).Should(BeNil())
		Expect(string(got)).Should(Equal("second"))
	})

	It("missing key should be not found", func() {
		_, err := readAll(s, "aa/missing")
		Expect(errors.Is(err, types.ErrNotFound)).Should(BeTrue())
		_, err = s.Head(context.TODO(), "aa/missing")
		Expect(errors.Is(err, types.ErrNotFound)).Should(BeTrue())
	})

	It("delete should remove the blob", func() {
		Expect(s.Put(context.TODO(), "aa/dd", bytes.NewReader([]byte(data)))).Should(BeNil())
		Expect(s.Delete(context.TODO(), "aa/dd")).Should(BeNil())
		_, err := s.Head(context.TODO(), "aa/dd")
		Expect(errors.Is(err, types.ErrNotFound)).Should(BeTrue())
	})

	It("bad key should be rejected", func() {
		err := s.Put(context.TODO(), "../escape", bytes.NewReader([]byte(data)))
		Expect(errors.Is(err, types.ErrInvalidArgument)).Should(BeTrue())
		err = s.Put(context.TODO(), "/abs", bytes.NewReader([]byte(data)))
		Expect(errors.Is(err, types.ErrInvalidArgument)).Should(BeTrue())
	})
}

var _ = Describe("TestMemoryStorage", func() {
	storageBehaviour(func() Storage {
		s, err := NewStorage(config.Storage{ID: "test-memory", Type: MemoryStorage})
		Expect(err).Should(BeNil())
		return s
	})
})

var _ = Describe("TestLocalStorage", func() {
	storageBehaviour(func() Storage {
		s, err := NewStorage(config.Storage{ID: "test-local", Type: LocalStorage, LocalDir: filepath.Join(workdir, "local")})
		Expect(err).Should(BeNil())
		return s
	})
})

var _ = Describe("TestNewStorage", func() {
	It("unknown type should fail", func() {
		_, err := NewStorage(config.Storage{ID: "test", Type: "floppy"})
		Expect(err).ShouldNot(BeNil())
	})
	It("local without dir should fail", func() {
		_, err := NewStorage(config.Storage{ID: "test", Type: LocalStorage})
		Expect(err).ShouldNot(BeNil())
	})
})
