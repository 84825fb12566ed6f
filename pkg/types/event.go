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

package types

import (
	"time"
)

// FolderChange is what a folder reports after it persisted a new revision.
type FolderChange struct {
	Pair  FidPair   `json:"pair"`
	Path  string    `json:"path"`
	Mtime time.Time `json:"mtime"`
	Local bool      `json:"local"`
}

type Event struct {
	Id              string       `json:"id"`
	Type            string       `json:"type"`
	Source          string       `json:"source"`
	SpecVersion     string       `json:"specversion"`
	Time            time.Time    `json:"time"`
	RefType         string       `json:"phenfsreftype"`
	RefID           string       `json:"phenfsrefid"`
	DataContentType string       `json:"datacontenttype"`
	Data            FolderChange `json:"data"`
}
