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

package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/bwmarrin/snowflake"
)

var idGenerator *snowflake.Node

func init() {
	var err error
	idGenerator, err = snowflake.NewNode(1)
	if err != nil {
		fmt.Println(err)
		return
	}
}

func GenerateNewID() int64 {
	return idGenerator.Generate().Int64()
}

// GenerateNewKey renders a new snowflake id in base36, short enough to be used as a storage key.
func GenerateNewKey() string {
	return strconv.FormatInt(GenerateNewID(), 36)
}

func RandString(length int) (string, error) {
	buf := make([]byte, (length+1)/2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf)[:length], nil
}
