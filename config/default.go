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
	"os/user"
	"path"

	"github.com/basenana/phenfs/utils"
)

const (
	DefaultMinThreshold = 2500
	DefaultMaxThreshold = 5000
	DefaultSleepCycle   = 1000

	DefaultFolderCacheSize   = 1 << 12
	DefaultFilemetaCacheSize = 1 << 14
	DefaultPathCacheSize     = 1 << 14

	DefaultChangeLogSpan = 3600
)

func DefaultConfig(workdir string) (Config, error) {
	var (
		dataPath = path.Join(workdir, "local-data")
		logPath  = path.Join(workdir, "changelog")
		err      error
	)

	cfg := Config{
		Identity: defaultIdentity(),
		Api: Api{
			Enable: true,
			Host:   "127.0.0.1",
			Port:   17087,
		},
		Meta: Meta{
			Type: SqliteMeta,
			Path: path.Join(workdir, "phenfs.db"),
		},
		Storage: Storage{
			ID:       "local-data",
			Type:     LocalStorage,
			LocalDir: dataPath,
		},
		ChangeLog: ChangeLog{Enable: true, Dir: logPath, TimeSpan: DefaultChangeLogSpan},
	}
	setDefaultValue(&cfg)

	if err = utils.Mkdir(dataPath); err != nil {
		return cfg, err
	}
	if err = utils.Mkdir(logPath); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func defaultIdentity() string {
	u, err := user.Current()
	if err != nil || u.Username == "" {
		return "phenfs"
	}
	return u.Username
}
