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
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/aws/smithy-go/logging"
	"go.uber.org/zap"

	"github.com/basenana/phenfs/config"
	"github.com/basenana/phenfs/pkg/types"
	"github.com/basenana/phenfs/utils"
	"github.com/basenana/phenfs/utils/logger"
)

const (
	s3ReadLimitEnvKey  = "STORAGE_S3_READ_LIMIT"
	s3WriteLimitEnvKey = "STORAGE_S3_WRITE_LIMIT"
)

type s3Storage struct {
	sid       string
	s3Client  *s3.Client
	cfg       *config.S3Config
	readRate  *utils.ParallelLimiter
	writeRate *utils.ParallelLimiter
	logger    *zap.SugaredLogger
}

var _ Storage = &s3Storage{}

func (s *s3Storage) ID() string {
	return s.sid
}

func (s *s3Storage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	defer utils.TraceRegion(ctx, "storage.s3.Get")()
	if err := s.readRate.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.readRate.Release()

	output, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.BucketName),
		Key:    aws.String(objectName("s3", key)),
	})
	if err != nil {
		return nil, s.convertErr(key, err)
	}
	return output.Body, nil
}

func (s *s3Storage) Put(ctx context.Context, key string, in io.Reader) error {
	defer utils.TraceRegion(ctx, "storage.s3.Put")()
	if err := s.writeRate.Acquire(ctx); err != nil {
		return err
	}
	defer s.writeRate.Release()

	// the sdk wants a seeker to sign the payload, folder blobs are small enough to buffer
	data, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.BucketName),
		Key:    aws.String(objectName("s3", key)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		s.logger.Errorw("put object to s3 error", "key", key, "err", err)
		return err
	}
	return nil
}

func (s *s3Storage) Delete(ctx context.Context, key string) error {
	defer utils.TraceRegion(ctx, "storage.s3.Delete")()
	_, err := s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.BucketName),
		Key:    aws.String(objectName("s3", key)),
	})
	if err != nil {
		s.logger.Errorw("delete s3 object error", "key", key, "err", err)
		return err
	}
	return nil
}

func (s *s3Storage) Head(ctx context.Context, key string) (Info, error) {
	defer utils.TraceRegion(ctx, "storage.s3.Head")()
	if err := s.readRate.Acquire(ctx); err != nil {
		return Info{}, err
	}
	defer s.readRate.Release()

	_, err := s.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.BucketName),
		Key:    aws.String(objectName("s3", key)),
	})
	if err != nil {
		return Info{}, s.convertErr(key, err)
	}
	return Info{Key: key}, nil
}

func (s *s3Storage) convertErr(key string, err error) error {
	var (
		noSuchKey *s3types.NoSuchKey
		notFound  *s3types.NotFound
		apiErr    smithy.APIError
	)
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return types.ErrNotFound
	}
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound" {
		return types.ErrNotFound
	}
	s.logger.Errorw("access s3 object error", "key", key, "err", err)
	return err
}

func (s *s3Storage) initBucket(ctx context.Context) error {
	_, err := s.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.cfg.BucketName)})
	if err == nil {
		return nil
	}
	s.logger.Warnw("head bucket got error, try create one", "bucket", s.cfg.BucketName, "err", err)

	_, err = s.s3Client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket:                    aws.String(s.cfg.BucketName),
		CreateBucketConfiguration: &s3types.CreateBucketConfiguration{LocationConstraint: s3types.BucketLocationConstraint(s.cfg.Region)},
	})
	if err != nil {
		return fmt.Errorf("create bucket %s error: %w", s.cfg.BucketName, err)
	}
	return nil
}

func newS3Storage(storageID string, cfg *config.S3Config) (Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("s3 is nil")
	}
	log := logger.NewLogger("s3")

	awsConfig, err := awscfg.LoadDefaultConfig(
		context.TODO(),
		awscfg.WithRegion(cfg.Region),
		awscfg.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
		awscfg.WithDefaultsMode(aws.DefaultsModeStandard),
		awscfg.WithLogger(s3LoggerWrapper{SugaredLogger: log}),
		awscfg.WithClientLogMode(aws.LogRetries),
	)
	if err != nil {
		return nil, err
	}
	s := &s3Storage{
		sid: storageID,
		s3Client: s3.NewFromConfig(awsConfig, func(opt *s3.Options) {
			opt.RetryMode = aws.RetryModeAdaptive
			opt.RetryMaxAttempts = 10
			opt.UsePathStyle = cfg.UsePathStyle
		}),
		cfg:       cfg,
		readRate:  utils.NewParallelLimiter(envInt(s3ReadLimitEnvKey, 20)),
		writeRate: utils.NewParallelLimiter(envInt(s3WriteLimitEnvKey, 10)),
		logger:    log,
	}
	return s, s.initBucket(context.TODO())
}

type s3LoggerWrapper struct {
	*zap.SugaredLogger
}

func (log s3LoggerWrapper) Logf(classification logging.Classification, format string, v ...interface{}) {
	if classification == logging.Warn {
		log.Warnf(format, v...)
		return
	}
	log.Debugf(format, v...)
}

func envInt(key string, defaultVal int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}
