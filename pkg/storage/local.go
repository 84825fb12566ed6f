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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/basenana/phenfs/pkg/types"
	"github.com/basenana/phenfs/utils"
	"github.com/basenana/phenfs/utils/logger"
)

const (
	defaultLocalFileMode = 0644
)

type local struct {
	sid    string
	dir    string
	logger *zap.SugaredLogger
}

var _ Storage = &local{}

func (l *local) ID() string {
	return l.sid
}

func (l *local) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	defer utils.TraceRegion(ctx, "local.get")()
	if err := checkKey(key); err != nil {
		return nil, err
	}
	f, err := os.Open(l.localPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.ErrNotFound
		}
		l.logger.Errorw("open file failed", "key", key, "err", err)
		return nil, err
	}
	return f, nil
}

// Put writes into a temporary sibling and renames it, readers never see a torn blob.
func (l *local) Put(ctx context.Context, key string, in io.Reader) error {
	defer utils.TraceRegion(ctx, "local.put")()
	if err := checkKey(key); err != nil {
		return err
	}
	p := l.localPath(key)
	if err := utils.Mkdir(filepath.Dir(p)); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".put-*")
	if err != nil {
		l.logger.Errorw("create temporary file failed", "key", key, "err", err)
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err = io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		l.logger.Errorw("copy file failed", "key", key, "err", err)
		return err
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), defaultLocalFileMode); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}

func (l *local) Delete(ctx context.Context, key string) error {
	defer utils.TraceRegion(ctx, "local.delete")()
	if err := checkKey(key); err != nil {
		return err
	}
	err := os.Remove(l.localPath(key))
	if err != nil && !os.IsNotExist(err) {
		l.logger.Errorw("delete file failed", "key", key, "err", err)
		return err
	}
	return nil
}

func (l *local) Head(ctx context.Context, key string) (Info, error) {
	defer utils.TraceRegion(ctx, "local.head")()
	if err := checkKey(key); err != nil {
		return Info{}, err
	}
	info, err := os.Stat(l.localPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return Info{}, types.ErrNotFound
		}
		return Info{}, err
	}
	return Info{Key: key, Size: info.Size()}, nil
}

func (l *local) localPath(key string) string {
	return filepath.Join(l.dir, filepath.FromSlash(key))
}

func newLocalStorage(sid, dir string) (Storage, error) {
	if dir == "" {
		return nil, fmt.Errorf("local dir is empty")
	}
	if err := utils.Mkdir(dir); err != nil {
		return nil, fmt.Errorf("init local data dir failed: %w", err)
	}
	return &local{
		sid:    sid,
		dir:    dir,
		logger: logger.NewLogger("localStorage"),
	}, nil
}

type memoryStorage struct {
	storageID string
	storage   map[string][]byte
	mux       sync.Mutex
}

var _ Storage = &memoryStorage{}

func (m *memoryStorage) ID() string {
	return m.storageID
}

func (m *memoryStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	defer utils.TraceRegion(ctx, "memory.get")()
	m.mux.Lock()
	data, ok := m.storage[key]
	m.mux.Unlock()
	if !ok {
		return nil, types.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStorage) Put(ctx context.Context, key string, in io.Reader) error {
	defer utils.TraceRegion(ctx, "memory.put")()
	if err := checkKey(key); err != nil {
		return err
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	m.mux.Lock()
	m.storage[key] = data
	m.mux.Unlock()
	return nil
}

func (m *memoryStorage) Delete(ctx context.Context, key string) error {
	defer utils.TraceRegion(ctx, "memory.delete")()
	m.mux.Lock()
	delete(m.storage, key)
	m.mux.Unlock()
	return nil
}

func (m *memoryStorage) Head(ctx context.Context, key string) (Info, error) {
	defer utils.TraceRegion(ctx, "memory.head")()
	m.mux.Lock()
	defer m.mux.Unlock()
	data, ok := m.storage[key]
	if !ok {
		return Info{}, types.ErrNotFound
	}
	return Info{Key: key, Size: int64(len(data))}, nil
}

func newMemoryStorage(storageID string) Storage {
	return &memoryStorage{
		storageID: storageID,
		storage:   map[string][]byte{},
	}
}
