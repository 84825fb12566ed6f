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

package apis

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/basenana/phenfs/cmd/apps/apis/apitool"
	"github.com/basenana/phenfs/config"
	"github.com/basenana/phenfs/pkg/dentry"
	"github.com/basenana/phenfs/pkg/folder"
	"github.com/basenana/phenfs/pkg/types"
	"github.com/basenana/phenfs/utils/logger"
)

const (
	defaultHttpTimeout = time.Minute * 5
)

// Session is the part of the mounted session the admin api serves.
type Session interface {
	Identity() types.IDHash
	Traverse(ctx context.Context, p string, levels int, absolute bool) (*dentry.Chain, error)
	Flush(ctx context.Context) error
	FlushFolder(ctx context.Context, pair string) (bool, error)
	ImportRoot(ctx context.Context, idhash, key string) error
	PendingFolders() []types.FidPair

	Mkdir(ctx context.Context, p string) (*folder.Folder, error)
	WriteFile(ctx context.Context, p string, in io.Reader) (*types.Metadata, error)
	ReadFile(ctx context.Context, p string) ([]byte, error)
	Remove(ctx context.Context, p string) error
}

type Server struct {
	engine    *gin.Engine
	session   Session
	apiConfig config.Api
	logger    *zap.SugaredLogger
}

func (s *Server) Run(stopCh chan struct{}) {
	addr := fmt.Sprintf("%s:%d", s.apiConfig.Host, s.apiConfig.Port)
	s.logger.Infof("http server on %s", addr)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  defaultHttpTimeout,
		WriteTimeout: defaultHttpTimeout,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil {
			if err != http.ErrServerClosed {
				s.logger.Panicw("api server down", "err", err.Error())
			}
			s.logger.Infof("api server stopped")
		}
	}()

	<-stopCh
	shutdownCtx, canF := context.WithTimeout(context.TODO(), time.Second)
	defer canF()
	_ = httpServer.Shutdown(shutdownCtx)
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) Ping(gCtx *gin.Context) {
	gCtx.JSON(200, map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func NewApiServer(session Session, apiConfig config.Api) (*Server, error) {
	if apiConfig.Enable && apiConfig.Port == 0 {
		return nil, fmt.Errorf("http port not set")
	}
	if apiConfig.Host == "" {
		apiConfig.Host = "127.0.0.1"
	}

	s := &Server{
		engine:    gin.New(),
		session:   session,
		apiConfig: apiConfig,
		logger:    logger.NewLogger("api"),
	}
	s.engine.Use(gin.Recovery(), apitool.MetricMiddleware("phenfs"))

	s.engine.GET("/_ping", s.Ping)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.engine.Group("/v1")
	v1.GET("/resolve", s.Resolve)
	v1.GET("/pending", s.Pending)
	v1.POST("/flush", s.Flush)
	v1.POST("/roots", s.ImportRoot)
	v1.POST("/mkdir", s.Mkdir)
	v1.GET("/files", s.ReadFile)
	v1.PUT("/files", s.WriteFile)
	v1.DELETE("/files", s.RemoveFile)

	if apiConfig.Pprof {
		pprof.Register(s.engine)
	}
	return s, nil
}
