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
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/basenana/phenfs/config"
	"github.com/basenana/phenfs/pkg/types"
	"github.com/basenana/phenfs/utils"
	"github.com/basenana/phenfs/utils/logger"
)

const minioNoSuchKey = "NoSuchKey"

type minioStorage struct {
	sid    string
	bucket string
	cli    *minio.Client
	cfg    *config.MinIOConfig
	limit  *utils.ParallelLimiter
	logger *zap.SugaredLogger
}

var _ Storage = &minioStorage{}

func (m *minioStorage) ID() string {
	return m.sid
}

func (m *minioStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	defer utils.TraceRegion(ctx, "storage.minio.Get")()
	obj, err := m.cli.GetObject(ctx, m.bucket, objectName("minio", key), minio.GetObjectOptions{})
	if err != nil {
		return nil, m.convertErr(key, err)
	}
	// GetObject is lazy, stat to surface a missing key here instead of on first read
	if _, err = obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, m.convertErr(key, err)
	}
	return obj, nil
}

func (m *minioStorage) Put(ctx context.Context, key string, in io.Reader) error {
	defer utils.TraceRegion(ctx, "storage.minio.Put")()
	if err := m.limit.Acquire(ctx); err != nil {
		return err
	}
	defer m.limit.Release()

	data, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	_, err = m.cli.PutObject(ctx, m.bucket, objectName("minio", key), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:      "application/octet-stream",
		DisableMultipart: true,
	})
	if err != nil {
		m.logger.Errorw("put object failed", "key", key, "err", err)
		return err
	}
	return nil
}

func (m *minioStorage) Delete(ctx context.Context, key string) error {
	defer utils.TraceRegion(ctx, "storage.minio.Delete")()
	err := m.cli.RemoveObject(ctx, m.bucket, objectName("minio", key), minio.RemoveObjectOptions{})
	if err != nil {
		m.logger.Errorw("delete object failed", "key", key, "err", err)
		return err
	}
	return nil
}

func (m *minioStorage) Head(ctx context.Context, key string) (Info, error) {
	defer utils.TraceRegion(ctx, "storage.minio.Head")()
	info, err := m.cli.StatObject(ctx, m.bucket, objectName("minio", key), minio.StatObjectOptions{})
	if err != nil {
		return Info{}, m.convertErr(key, err)
	}
	return Info{Key: key, Size: info.Size}, nil
}

func (m *minioStorage) convertErr(key string, err error) error {
	if minio.ToErrorResponse(err).Code == minioNoSuchKey {
		return types.ErrNotFound
	}
	m.logger.Errorw("access object failed", "key", key, "err", err)
	return err
}

func (m *minioStorage) initBucket(ctx context.Context) error {
	ctx, canF := context.WithTimeout(ctx, time.Minute)
	defer canF()

	exists, err := m.cli.BucketExists(ctx, m.bucket)
	if err == nil && exists {
		return nil
	}

	m.logger.Infow("init bucket", "bucket", m.bucket)
	return m.cli.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: m.cfg.Location})
}

func newMinioStorage(storageID string, cfg *config.MinIOConfig) (Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("minio is nil")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio config endpoint is empty")
	}
	if cfg.BucketName == "" {
		cfg.BucketName = fmt.Sprintf("phenfs-%s", storageID)
	}

	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.Token),
		Secure:    cfg.UseSSL,
		Transport: http.DefaultTransport,
	})
	if err != nil {
		return nil, err
	}
	s := &minioStorage{
		sid:    storageID,
		bucket: cfg.BucketName,
		cli:    cli,
		cfg:    cfg,
		limit:  utils.NewParallelLimiter(10),
		logger: logger.NewLogger("minio"),
	}
	return s, s.initBucket(context.TODO())
}
