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

package metastore

import (
	"context"

	"github.com/basenana/phenfs/pkg/types"
)

type Meta interface {
	GetLocalData(ctx context.Context, owner types.FidPair, idhash types.IDHash, tag string) (types.Fid, error)
	SaveLocalData(ctx context.Context, owner types.FidPair, idhash types.IDHash, tag string, dataFid types.Fid) error
	ListLocalData(ctx context.Context, owner types.FidPair) ([]types.LocalData, error)
	DeleteLocalData(ctx context.Context, owner types.FidPair, idhash types.IDHash, tag string) error
	Close() error
}
