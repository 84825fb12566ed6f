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

package config

import (
	"fmt"
	"strconv"
	"strings"
)

// set by -ldflags at build time
var (
	gitTag    string
	gitCommit string
)

type Version struct {
	Major   int    `json:"major"`
	Minor   int    `json:"minor"`
	Patch   int    `json:"patch"`
	Release string `json:"release"`
	Git     string `json:"git"`
}

func (v Version) Version() string {
	if v.Release != "" {
		return fmt.Sprintf("v%d.%d.%d-%s", v.Major, v.Minor, v.Patch, v.Release)
	}
	return fmt.Sprintf("v%d.%d.%d", v.Major, v.Minor, v.Patch)
}

func VersionInfo() Version {
	return parseVersion(gitTag, gitCommit)
}

func parseVersion(tag, commit string) Version {
	v := Version{Git: commit}
	tag = strings.TrimPrefix(tag, "v")
	numbers, release, _ := strings.Cut(tag, "-")
	v.Release = release

	parts := strings.Split(numbers, ".")
	fields := []*int{&v.Major, &v.Minor, &v.Patch}
	for i := 0; i < len(parts) && i < len(fields); i++ {
		*fields[i], _ = strconv.Atoi(parts[i])
	}
	return v
}
