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
	"regexp"
)

var (
	storageIDPattern = "^[a-zA-Z][a-zA-Z0-9-_.]{3,31}$"
	storageIDRegexp  = regexp.MustCompile(storageIDPattern)
)

type verifier func(config *Config) error

var verifiers = []verifier{
	setDefaultValueVerifier,
	checkIdentity,
	checkApiConfig,
	checkMetaConfig,
	checkStorageConfig,
	checkWritebackConfig,
	checkChangeLogConfig,
}

func setDefaultValue(config *Config) {
	wb := &config.Writeback
	if wb.MinThreshold == 0 {
		wb.MinThreshold = DefaultMinThreshold
	}
	if wb.MaxThreshold == 0 {
		wb.MaxThreshold = DefaultMaxThreshold
	}
	if wb.SleepCycle == 0 {
		wb.SleepCycle = DefaultSleepCycle
	}

	c := &config.Cache
	if c.FolderSize == 0 {
		c.FolderSize = DefaultFolderCacheSize
	}
	if c.FilemetaSize == 0 {
		c.FilemetaSize = DefaultFilemetaCacheSize
	}
	if c.PathSize == 0 {
		c.PathSize = DefaultPathCacheSize
	}

	if config.ChangeLog.TimeSpan == 0 {
		config.ChangeLog.TimeSpan = DefaultChangeLogSpan
	}
	if config.Meta.Type == "" {
		config.Meta.Type = MemoryMeta
	}
}

func setDefaultValueVerifier(config *Config) error {
	setDefaultValue(config)
	return nil
}

func checkIdentity(config *Config) error {
	if config.Identity == "" {
		return fmt.Errorf("identity is empty")
	}
	return nil
}

func checkApiConfig(config *Config) error {
	aCfg := config.Api
	if !aCfg.Enable {
		return nil
	}
	if aCfg.Host == "" || aCfg.Port == 0 {
		return fmt.Errorf("api.host or api.port not config")
	}
	return nil
}

func checkMetaConfig(config *Config) error {
	m := config.Meta
	switch m.Type {
	case MemoryMeta:
		return nil
	case SqliteMeta:
		if m.Path == "" {
			return fmt.Errorf("path for sqlite db file is empty")
		}
		return nil
	case PostgresMeta:
		if m.DSN == "" {
			return fmt.Errorf("db dsn is empty")
		}
		return nil
	default:
		return fmt.Errorf("unknown meta type %s", m.Type)
	}
}

func checkWritebackConfig(config *Config) error {
	wb := config.Writeback
	if wb.MinThreshold <= 0 || wb.MaxThreshold <= 0 || wb.SleepCycle <= 0 {
		return fmt.Errorf("writeback thresholds must be positive")
	}
	if wb.MinThreshold >= wb.MaxThreshold {
		return fmt.Errorf("writeback.min_threshold_ms must be less than writeback.max_threshold_ms")
	}
	return nil
}

func checkChangeLogConfig(config *Config) error {
	cl := config.ChangeLog
	if !cl.Enable {
		return nil
	}
	if cl.Dir == "" {
		return fmt.Errorf("changelog.dir is empty")
	}
	if cl.TimeSpan <= 0 {
		return fmt.Errorf("changelog.time_span_sec must be positive")
	}
	return nil
}

func checkStorageConfig(config *Config) error {
	sConfig := config.Storage
	if sConfig.ID == "" {
		return fmt.Errorf("storage.id is empty")
	}
	if !storageIDRegexp.MatchString(sConfig.ID) {
		return fmt.Errorf("storage.id must match %s", storageIDPattern)
	}
	switch sConfig.Type {
	case MemoryStorage:
	case LocalStorage:
		if sConfig.LocalDir == "" {
			return fmt.Errorf("local path is empty")
		}
	case S3Storage:
		cfg := sConfig.S3
		if cfg == nil {
			return fmt.Errorf("s3 is nil")
		}
		if cfg.Region == "" {
			return fmt.Errorf("s3 config region is empty")
		}
		if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
			return fmt.Errorf("s3 config access_key_id or secret_access_key is empty")
		}
		if cfg.BucketName == "" {
			return fmt.Errorf("s3 config bucket_name is empty")
		}
	case MinioStorage:
		cfg := sConfig.MinIO
		if cfg == nil {
			return fmt.Errorf("minio is nil")
		}
		if cfg.Endpoint == "" {
			return fmt.Errorf("minio config endpoint is empty")
		}
		if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
			return fmt.Errorf("minio config access_key_id or secret_access_key is empty")
		}
	case OSSStorage:
		cfg := sConfig.OSS
		if cfg == nil {
			return fmt.Errorf("OSS config is nil")
		}
		if cfg.Endpoint == "" {
			return fmt.Errorf("OSS endpoint is empty")
		}
		if cfg.AccessKeyID == "" || cfg.AccessKeySecret == "" {
			return fmt.Errorf("OSS access_key_id or access_key_secret is empty")
		}
	case WebdavStorage:
		cfg := sConfig.Webdav
		if cfg == nil {
			return fmt.Errorf("webdav is nil")
		}
		if cfg.ServerURL == "" {
			return fmt.Errorf("webdav config server_url is empty")
		}
		if cfg.Username == "" || cfg.Password == "" {
			return fmt.Errorf("webdav config username or password is empty")
		}
	default:
		return fmt.Errorf("unknown storage type: %s", sConfig.Type)
	}
	return nil
}

func Verify(cfg *Config) error {
	for _, f := range verifiers {
		if err := f(cfg); err != nil {
			return err
		}
	}
	return nil
}
