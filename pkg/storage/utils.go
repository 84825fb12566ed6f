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
	"fmt"
	"path"
	"strings"

	"github.com/basenana/phenfs/pkg/types"
)

func checkKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return fmt.Errorf("%w: bad storage key %q", types.ErrInvalidArgument, key)
	}
	if cleaned := path.Clean(key); cleaned != key || strings.HasPrefix(cleaned, "..") {
		return fmt.Errorf("%w: bad storage key %q", types.ErrInvalidArgument, key)
	}
	return nil
}

func objectName(prefix, key string) string {
	return path.Join(prefix, "blobs", key)
}

func PairKey(pair types.FidPair) string {
	return pair.String()
}
