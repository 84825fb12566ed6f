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
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/basenana/phenfs/cmd/apps/apis/apitool"
	"github.com/basenana/phenfs/pkg/types"
)

type EntryInfo struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	Fid  string `json:"fid"`
	Auth string `json:"auth"`
	Size int64  `json:"size"`
}

func newEntryInfo(md *types.Metadata) *EntryInfo {
	return &EntryInfo{Name: md.Name, Kind: string(md.Kind), Fid: string(md.Fid), Auth: md.Auth.String(), Size: md.Size}
}

func requirePath(gCtx *gin.Context) (string, bool) {
	p := gCtx.Query("path")
	if p == "" {
		apitool.ErrorResponse(gCtx, fmt.Errorf("%w: path is empty", types.ErrInvalidArgument))
		return "", false
	}
	return p, true
}

func (s *Server) Mkdir(gCtx *gin.Context) {
	p, ok := requirePath(gCtx)
	if !ok {
		return
	}
	f, err := s.session.Mkdir(gCtx.Request.Context(), p)
	if err != nil {
		apitool.ErrorResponse(gCtx, err)
		return
	}
	apitool.JsonResponse(gCtx, http.StatusCreated, &NodeInfo{
		Name:   f.Path(),
		Kind:   string(types.FolderKind),
		Fid:    string(f.FidPair().Fid),
		Auth:   f.Owner().String(),
		Folder: f.FidPair().String(),
	})
}

func (s *Server) WriteFile(gCtx *gin.Context) {
	p, ok := requirePath(gCtx)
	if !ok {
		return
	}
	md, err := s.session.WriteFile(gCtx.Request.Context(), p, gCtx.Request.Body)
	if err != nil {
		apitool.ErrorResponse(gCtx, err)
		return
	}
	apitool.JsonResponse(gCtx, http.StatusOK, newEntryInfo(md))
}

func (s *Server) ReadFile(gCtx *gin.Context) {
	p, ok := requirePath(gCtx)
	if !ok {
		return
	}
	data, err := s.session.ReadFile(gCtx.Request.Context(), p)
	if err != nil {
		apitool.ErrorResponse(gCtx, err)
		return
	}
	gCtx.Data(http.StatusOK, "application/octet-stream", data)
}

func (s *Server) RemoveFile(gCtx *gin.Context) {
	p, ok := requirePath(gCtx)
	if !ok {
		return
	}
	if err := s.session.Remove(gCtx.Request.Context(), p); err != nil {
		apitool.ErrorResponse(gCtx, err)
		return
	}
	apitool.JsonResponse(gCtx, http.StatusOK, map[string]string{"path": p})
}
