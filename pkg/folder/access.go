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
	"github.com/basenana/phenfs/pkg/types"
)

// CheckAccess reports whether the opening identity may add an entry (isAdd) or
// modify fmeta in this folder.
func (f *Folder) CheckAccess(fmeta *types.Metadata, isAdd bool) error {
	f.mux.Lock()
	defer f.mux.Unlock()

	if f.closed {
		return types.ErrClosed
	}
	if f.openedBy == f.pair.IDHash {
		return nil
	}
	if _, ok := f.writers[f.openedBy]; !ok {
		return types.ErrNoPerm
	}
	if isAdd || fmeta == nil {
		return nil
	}
	if fmeta.Kind == types.MultiKind {
		return types.ErrNoPerm
	}
	if fmeta.Auth != f.openedBy {
		return types.ErrNoPerm
	}
	return nil
}
