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
)

const IDHashLen = 32

// IDHash is the identity hash of a root folder owner.
type IDHash string

func (h IDHash) String() string {
	return string(h)
}

func (h IDHash) Short() string {
	if len(h) <= 8 {
		return string(h)
	}
	return string(h[:8])
}

func IsIDHash(s string) bool {
	if len(s) != IDHashLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func ParseIDHash(s string) (IDHash, error) {
	if !IsIDHash(s) {
		return "", ErrInvalidArgument
	}
	return IDHash(s), nil
}

// HashIdentity derives the idhash of a public identity string.
func HashIdentity(identity string) IDHash {
	sum := sha256.Sum256([]byte(identity))
	return IDHash(hex.EncodeToString(sum[:])[:IDHashLen])
}
