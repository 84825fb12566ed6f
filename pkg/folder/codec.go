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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"

	"github.com/basenana/phenfs/pkg/types"
)

const recordVersion = 1

type record struct {
	Version int                          `json:"version"`
	Pair    types.FidPair                `json:"pair"`
	Mtime   time.Time                    `json:"mtime"`
	Writers []types.IDHash               `json:"writers"`
	Files   map[string][]*types.Metadata `json:"files"`
}

func encodeRecord(r *record) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw := lz4.NewWriter(buf)
	if err := json.NewEncoder(zw).Encode(r); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (*record, error) {
	raw, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, errors.Wrap(err, "decompress folder failed")
	}
	r := &record{}
	if err = json.Unmarshal(raw, r); err != nil {
		return nil, errors.Wrap(err, "decode folder failed")
	}
	if r.Version != recordVersion {
		return nil, fmt.Errorf("%w: folder record version %d", types.ErrUnsupported, r.Version)
	}
	if r.Files == nil {
		r.Files = map[string][]*types.Metadata{}
	}
	return r, nil
}
