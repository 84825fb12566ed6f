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

package dentry

import (
	"path"
	"strings"

	"github.com/basenana/phenfs/pkg/types"
)

// Abspath normalizes p and roots it in the tree of local unless its first
// segment already names an identity.
func Abspath(local types.IDHash, p string) string {
	if p == "" {
		return ""
	}
	cleaned := path.Clean("/" + p)
	if cleaned == "/" {
		return cleaned
	}
	first := strings.SplitN(cleaned[1:], "/", 2)[0]
	if types.IsIDHash(first) {
		return cleaned
	}
	return path.Join("/", local.String(), cleaned)
}

// splitPath cleans p lexically and returns its segments, the first one names the root.
func splitPath(p string) (string, []string) {
	cleaned := path.Clean("/" + p)
	if cleaned == "/" {
		return cleaned, nil
	}
	return cleaned, strings.Split(cleaned[1:], "/")
}

func joinSegments(segs []string) string {
	return "/" + strings.Join(segs, "/")
}
