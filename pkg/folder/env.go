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
	"io"

	"github.com/basenana/phenfs/pkg/types"
)

// Store is the piece of the content store a folder persists through.
type Store interface {
	Load(ctx context.Context, pair types.FidPair) ([]byte, error)
	Save(ctx context.Context, pair types.FidPair, in io.Reader) error
}

// Scheduler defers the persistence of a dirty folder.
type Scheduler interface {
	Schedule(ctx context.Context, f *Folder) error
}

// ModifiedHook runs synchronously after a folder revision has been persisted.
// A failing hook fails the flush and leaves the folder dirty.
type ModifiedHook func(ctx context.Context, change types.FolderChange) error

type Env struct {
	Store     Store
	Scheduler Scheduler
	Local     types.IDHash
	Modified  ModifiedHook
}
