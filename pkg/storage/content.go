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
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/basenana/phenfs/pkg/types"
	"github.com/basenana/phenfs/utils"
	"github.com/basenana/phenfs/utils/logger"
)

// LocalDataIndex records blobs cached locally on behalf of a foreign entry,
// such as the key that unlocks a foreign root.
type LocalDataIndex interface {
	GetLocalData(ctx context.Context, owner types.FidPair, idhash types.IDHash, tag string) (types.Fid, error)
	SaveLocalData(ctx context.Context, owner types.FidPair, idhash types.IDHash, tag string, dataFid types.Fid) error
}

// ContentStore addresses blobs by fid pair on top of a Storage backend.
type ContentStore struct {
	storage Storage
	index   LocalDataIndex
	logger  *zap.SugaredLogger
}

func NewContentStore(s Storage, index LocalDataIndex) *ContentStore {
	return &ContentStore{storage: s, index: index, logger: logger.NewLogger("contentStore")}
}

func (c *ContentStore) Storage() Storage {
	return c.storage
}

func (c *ContentStore) Load(ctx context.Context, pair types.FidPair) (data []byte, err error) {
	defer utils.TraceRegion(ctx, "storage.content.Load")()
	defer func() { logContentOperation("load", err) }()
	if pair.Fid.IsTransient() {
		return nil, fmt.Errorf("%w: load transient fid", types.ErrInvalidArgument)
	}

	r, err := c.storage.Get(ctx, PairKey(pair))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (c *ContentStore) Save(ctx context.Context, pair types.FidPair, in io.Reader) (err error) {
	defer utils.TraceRegion(ctx, "storage.content.Save")()
	defer func() { logContentOperation("save", err) }()
	if pair.Fid.IsTransient() {
		return fmt.Errorf("%w: save transient fid", types.ErrInvalidArgument)
	}
	if err = c.storage.Put(ctx, PairKey(pair), in); err != nil {
		c.logger.Errorw("save content failed", "pair", pair.String(), "err", err)
		return err
	}
	return nil
}

func (c *ContentStore) Remove(ctx context.Context, pair types.FidPair) (err error) {
	defer func() { logContentOperation("remove", err) }()
	return c.storage.Delete(ctx, PairKey(pair))
}

// IsAvailable reports whether the blob of pair is present in the backend.
func (c *ContentStore) IsAvailable(ctx context.Context, pair types.FidPair) bool {
	if pair.Fid.IsTransient() {
		return false
	}
	_, err := c.storage.Head(ctx, PairKey(pair))
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		c.logger.Warnw("check content failed", "pair", pair.String(), "err", err)
	}
	return err == nil
}

func (c *ContentStore) LocalDataFid(ctx context.Context, owner types.FidPair, idhash types.IDHash, tag string) (types.Fid, error) {
	if c.index == nil {
		return types.TransientFid, types.ErrNotFound
	}
	return c.index.GetLocalData(ctx, owner, idhash, tag)
}

func (c *ContentStore) SaveLocalData(ctx context.Context, owner types.FidPair, idhash types.IDHash, tag string, dataFid types.Fid) error {
	if c.index == nil {
		return fmt.Errorf("%w: no local data index", types.ErrUnsupported)
	}
	return c.index.SaveLocalData(ctx, owner, idhash, tag, dataFid)
}
