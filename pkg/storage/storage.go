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

package storage

import (
	"fmt"

	"github.com/basenana/phenfs/config"
)

const (
	LocalStorage  = config.LocalStorage
	MemoryStorage = config.MemoryStorage
	MinioStorage  = config.MinioStorage
	S3Storage     = config.S3Storage
	OSSStorage    = config.OSSStorage
	WebdavStorage = config.WebdavStorage
)

func NewStorage(cfg config.Storage) (Storage, error) {
	var (
		s   Storage
		err error
	)
	switch cfg.Type {
	case LocalStorage:
		s, err = newLocalStorage(cfg.ID, cfg.LocalDir)
	case MemoryStorage:
		s = newMemoryStorage(cfg.ID)
	case MinioStorage:
		s, err = newMinioStorage(cfg.ID, cfg.MinIO)
	case S3Storage:
		s, err = newS3Storage(cfg.ID, cfg.S3)
	case OSSStorage:
		s, err = newOSSStorage(cfg.ID, cfg.OSS)
	case WebdavStorage:
		s, err = newWebdavStorage(cfg.ID, cfg.Webdav)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return instrumentalStorage{s: s}, nil
}
