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

import "time"

// LocalData links a blob cached on this device to the entry it was fetched for.
type LocalData struct {
	Owner     FidPair   `json:"owner"`
	IDHash    IDHash    `json:"idhash"`
	Tag       string    `json:"tag"`
	DataFid   Fid       `json:"data_fid"`
	UpdatedAt time.Time `json:"updated_at"`
}
