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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Fid is the content id of one persisted revision.
type Fid string

const (
	TransientFid Fid = ""
	RootFid      Fid = "root"
)

func (f Fid) IsTransient() bool {
	return f == TransientFid
}

// ContentFid addresses a blob by the sha256 of its content.
func ContentFid(data []byte) Fid {
	sum := sha256.Sum256(data)
	return Fid(hex.EncodeToString(sum[:]))
}

type FidPair struct {
	IDHash IDHash `json:"idhash"`
	Fid    Fid    `json:"fid"`
}

func NewFidPair(idhash IDHash, fid Fid) FidPair {
	return FidPair{IDHash: idhash, Fid: fid}
}

func RootPair(idhash IDHash) FidPair {
	return FidPair{IDHash: idhash, Fid: RootFid}
}

func (p FidPair) IsRoot() bool {
	return p.Fid == RootFid
}

func (p FidPair) String() string {
	return fmt.Sprintf("%s/%s", p.IDHash, p.Fid)
}

func ParseFidPair(s string) (FidPair, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 || !IsIDHash(parts[0]) || parts[1] == "" {
		return FidPair{}, fmt.Errorf("%w: bad fid pair %q", ErrInvalidArgument, s)
	}
	return FidPair{IDHash: IDHash(parts[0]), Fid: Fid(parts[1])}, nil
}
