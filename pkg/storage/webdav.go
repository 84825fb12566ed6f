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
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"

	"github.com/studio-b12/gowebdav"
	"go.uber.org/zap"

	"github.com/basenana/phenfs/config"
	"github.com/basenana/phenfs/pkg/types"
	"github.com/basenana/phenfs/utils"
	"github.com/basenana/phenfs/utils/logger"
)

type webdavStorage struct {
	sid        string
	cli        *gowebdav.Client
	readLimit  *utils.ParallelLimiter
	writeLimit *utils.ParallelLimiter
	logger     *zap.SugaredLogger
}

var _ Storage = &webdavStorage{}

func (w *webdavStorage) ID() string {
	return w.sid
}

func (w *webdavStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	defer utils.TraceRegion(ctx, "storage.webdav.Get")()
	if err := w.readLimit.Acquire(ctx); err != nil {
		return nil, err
	}
	defer w.readLimit.Release()

	fileReader, err := w.cli.ReadStream(webdavObjectPath(key))
	if err != nil {
		return nil, w.convertErr(key, err)
	}
	return fileReader, nil
}

func (w *webdavStorage) Put(ctx context.Context, key string, in io.Reader) error {
	defer utils.TraceRegion(ctx, "storage.webdav.Put")()
	if err := w.writeLimit.Acquire(ctx); err != nil {
		return err
	}
	defer w.writeLimit.Release()

	objPath := webdavObjectPath(key)
	if err := w.cli.MkdirAll(path.Dir(objPath), 0755); err != nil {
		w.logger.Errorw("mkdir on server failed", "path", path.Dir(objPath), "err", err)
		return err
	}
	if err := w.cli.WriteStream(objPath, in, 0644); err != nil {
		w.logger.Errorw("write file to server failed", "path", objPath, "err", err)
		return err
	}
	return nil
}

func (w *webdavStorage) Delete(ctx context.Context, key string) error {
	defer utils.TraceRegion(ctx, "storage.webdav.Delete")()
	if err := w.cli.Remove(webdavObjectPath(key)); err != nil {
		w.logger.Errorw("delete file from server failed", "path", webdavObjectPath(key), "err", err)
		return err
	}
	return nil
}

func (w *webdavStorage) Head(ctx context.Context, key string) (Info, error) {
	defer utils.TraceRegion(ctx, "storage.webdav.Head")()
	if err := w.readLimit.Acquire(ctx); err != nil {
		return Info{}, err
	}
	defer w.readLimit.Release()

	info, err := w.cli.Stat(webdavObjectPath(key))
	if err != nil {
		return Info{}, w.convertErr(key, err)
	}
	return Info{Key: key, Size: info.Size()}, nil
}

func (w *webdavStorage) convertErr(key string, err error) error {
	if gowebdav.IsErrNotFound(err) {
		return types.ErrNotFound
	}
	w.logger.Errorw("access file on server failed", "path", webdavObjectPath(key), "err", err)
	return err
}

func newWebdavStorage(storageID string, cfg *config.WebdavStorageConfig) (Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("webdav is nil")
	}
	if storageID == "" {
		return nil, fmt.Errorf("storage id is empty")
	}

	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("webdav config server_url is empty")
	}
	if cfg.Username == "" {
		return nil, fmt.Errorf("webdav config user is empty")
	}
	if cfg.Password == "" {
		return nil, fmt.Errorf("webdav config password is empty")
	}

	t := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   60 * time.Second,
		ExpectContinueTimeout: 10 * time.Second,
	}
	if cfg.Insecure {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	cli := gowebdav.NewClient(cfg.ServerURL, cfg.Username, cfg.Password)
	cli.SetTransport(t)

	s := &webdavStorage{
		sid:        storageID,
		cli:        cli,
		readLimit:  utils.NewParallelLimiter(30),
		writeLimit: utils.NewParallelLimiter(10),
		logger:     logger.NewLogger("webdav"),
	}
	return s, nil
}

func webdavObjectPath(key string) string {
	return "/" + objectName("webdav", key)
}
