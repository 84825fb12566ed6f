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
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"go.uber.org/zap"

	"github.com/basenana/phenfs/config"
	"github.com/basenana/phenfs/pkg/types"
	"github.com/basenana/phenfs/utils"
	"github.com/basenana/phenfs/utils/logger"
)

type aliyunOSSStorage struct {
	sid        string
	cli        *oss.Client
	bucket     *oss.Bucket
	cfg        *config.OSSConfig
	readLimit  *utils.ParallelLimiter
	writeLimit *utils.ParallelLimiter
	logger     *zap.SugaredLogger
}

var _ Storage = &aliyunOSSStorage{}

func (a *aliyunOSSStorage) ID() string {
	return a.sid
}

func (a *aliyunOSSStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	defer utils.TraceRegion(ctx, "storage.oss.Get")()
	if err := a.readLimit.Acquire(ctx); err != nil {
		return nil, err
	}
	defer a.readLimit.Release()

	r, err := a.bucket.GetObject(objectName("oss", key))
	if err != nil {
		return nil, a.convertErr(key, err)
	}
	return r, nil
}

func (a *aliyunOSSStorage) Put(ctx context.Context, key string, in io.Reader) error {
	defer utils.TraceRegion(ctx, "storage.oss.Put")()
	if err := a.writeLimit.Acquire(ctx); err != nil {
		return err
	}
	defer a.writeLimit.Release()

	if err := a.bucket.PutObject(objectName("oss", key), in); err != nil {
		a.logger.Errorw("put oss object error", "key", key, "err", err)
		return err
	}
	return nil
}

func (a *aliyunOSSStorage) Delete(ctx context.Context, key string) error {
	defer utils.TraceRegion(ctx, "storage.oss.Delete")()
	if err := a.bucket.DeleteObject(objectName("oss", key)); err != nil {
		a.logger.Errorw("delete oss object error", "key", key, "err", err)
		return err
	}
	return nil
}

func (a *aliyunOSSStorage) Head(ctx context.Context, key string) (Info, error) {
	defer utils.TraceRegion(ctx, "storage.oss.Head")()
	header, err := a.bucket.GetObjectMeta(objectName("oss", key))
	if err != nil {
		return Info{}, a.convertErr(key, err)
	}
	info := Info{Key: key}
	info.Size, _ = strconv.ParseInt(header.Get("Content-Length"), 10, 64)
	return info, nil
}

func (a *aliyunOSSStorage) convertErr(key string, err error) error {
	var svcErr oss.ServiceError
	if errors.As(err, &svcErr) && svcErr.StatusCode == http.StatusNotFound {
		return types.ErrNotFound
	}
	a.logger.Errorw("access oss object error", "key", key, "err", err)
	return err
}

func (a *aliyunOSSStorage) initOSSBucket(ctx context.Context) error {
	defer utils.TraceRegion(ctx, "storage.oss.initOSSBucket")()
	a.logger.Infof("OSS SDK Version: %s", oss.Version)

	isExist, err := a.cli.IsBucketExist(a.cfg.BucketName)
	if err != nil {
		a.logger.Errorw("check bucket error", "bucket", a.cfg.BucketName, "err", err)
		return err
	}

	if !isExist {
		err = a.cli.CreateBucket(a.cfg.BucketName)
		if err != nil {
			a.logger.Errorw("create bucket error", "bucket", a.cfg.BucketName, "err", err)
			return err
		}
	}

	a.bucket, err = a.cli.Bucket(a.cfg.BucketName)
	if err != nil {
		a.logger.Errorw("build bucket error", "bucket", a.cfg.BucketName, "err", err)
		return err
	}
	return nil
}

func newOSSStorage(storageID string, cfg *config.OSSConfig) (Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("OSS config is nil")
	}
	if storageID == "" {
		return nil, fmt.Errorf("storage id is empty")
	}

	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("OSS endpoint is empty")
	}
	if cfg.AccessKeyID == "" {
		return nil, fmt.Errorf("OSS access_key_id is empty")
	}
	if cfg.AccessKeySecret == "" {
		return nil, fmt.Errorf("OSS access_key_secret is empty")
	}
	if cfg.BucketName == "" {
		cfg.BucketName = fmt.Sprintf("phenfs-%s", storageID)
	}
	cli, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, err
	}

	cli.Config.RetryTimes = 20
	cli.Config.Timeout = 60 * 10
	cli.Config.HTTPTimeout = oss.HTTPTimeout{
		ConnectTimeout:   60,
		ReadWriteTimeout: 60 * 10,
		HeaderTimeout:    60,
		LongTimeout:      60 * 10,
		IdleConnTimeout:  60,
	}
	cli.Config.HTTPMaxConns = oss.HTTPMaxConns{
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 64,
		MaxConnsPerHost:     64,
	}

	s := &aliyunOSSStorage{
		sid:        storageID,
		cli:        cli,
		cfg:        cfg,
		readLimit:  utils.NewParallelLimiter(50),
		writeLimit: utils.NewParallelLimiter(20),
		logger:     logger.NewLogger("OSS"),
	}
	return s, s.initOSSBucket(context.Background())
}
