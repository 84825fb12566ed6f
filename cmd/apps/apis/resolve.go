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
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/basenana/phenfs/cmd/apps/apis/apitool"
	"github.com/basenana/phenfs/pkg/dentry"
	"github.com/basenana/phenfs/pkg/types"
)

type NodeInfo struct {
	Name       string   `json:"name,omitempty"`
	Kind       string   `json:"kind"`
	Fid        string   `json:"fid,omitempty"`
	Auth       string   `json:"auth,omitempty"`
	Folder     string   `json:"folder,omitempty"`
	Candidates []string `json:"candidates,omitempty"`
	Selected   string   `json:"selected,omitempty"`
}

type ChainInfo struct {
	Path  string     `json:"path"`
	Nodes []NodeInfo `json:"nodes"`
}

type FlushResponse struct {
	Flushed int `json:"flushed"`
}

type PendingResponse struct {
	Folders []string `json:"folders"`
}

// NewChainInfo flattens a resolved chain, root first.
func NewChainInfo(chain *dentry.Chain) *ChainInfo {
	info := &ChainInfo{Path: chain.Path, Nodes: make([]NodeInfo, 0, chain.Depth())}
	for _, n := range chain.Nodes {
		ni := NodeInfo{Kind: string(types.FolderKind)}
		if n.Meta != nil {
			md := n.Meta.Fmeta
			ni.Name = md.Name
			ni.Kind = string(md.Kind)
			ni.Fid = string(md.Fid)
			ni.Auth = md.Auth.String()
			ni.Selected = n.Meta.MultiID.String()
			for _, c := range n.Meta.Multi {
				ni.Candidates = append(ni.Candidates, c.Auth.String())
			}
		}
		if n.Folder != nil {
			ni.Folder = n.Folder.FidPair().String()
		}
		info.Nodes = append(info.Nodes, ni)
	}
	return info
}

// Resolve serves GET /v1/resolve?path=&levels=, relative paths are rooted in the local tree.
func (s *Server) Resolve(gCtx *gin.Context) {
	p := gCtx.Query("path")
	if p == "" {
		apitool.ErrorResponse(gCtx, fmt.Errorf("%w: path is empty", types.ErrInvalidArgument))
		return
	}
	levels := 0
	if raw := gCtx.Query("levels"); raw != "" {
		var err error
		if levels, err = strconv.Atoi(raw); err != nil || levels < 0 {
			apitool.ErrorResponse(gCtx, fmt.Errorf("%w: bad levels %q", types.ErrInvalidArgument, raw))
			return
		}
	}

	chain, err := s.session.Traverse(gCtx.Request.Context(), p, levels, false)
	if err != nil {
		s.logger.Debugw("resolve path failed", "path", p, "err", err)
		apitool.ErrorResponse(gCtx, err)
		return
	}
	apitool.JsonResponse(gCtx, http.StatusOK, NewChainInfo(chain))
}

func (s *Server) Pending(gCtx *gin.Context) {
	pairs := s.session.PendingFolders()
	resp := &PendingResponse{Folders: make([]string, 0, len(pairs))}
	for _, p := range pairs {
		resp.Folders = append(resp.Folders, p.String())
	}
	apitool.JsonResponse(gCtx, http.StatusOK, resp)
}

// Flush persists every pending folder before answering, or only the one named by ?pair=.
func (s *Server) Flush(gCtx *gin.Context) {
	if pair := gCtx.Query("pair"); pair != "" {
		flushed, err := s.session.FlushFolder(gCtx.Request.Context(), pair)
		if err != nil {
			apitool.ErrorResponse(gCtx, err)
			return
		}
		resp := &FlushResponse{}
		if flushed {
			resp.Flushed = 1
		}
		apitool.JsonResponse(gCtx, http.StatusOK, resp)
		return
	}
	pending := len(s.session.PendingFolders())
	if err := s.session.Flush(gCtx.Request.Context()); err != nil {
		s.logger.Errorw("flush pending folders failed", "err", err)
		apitool.ErrorResponse(gCtx, err)
		return
	}
	apitool.JsonResponse(gCtx, http.StatusOK, &FlushResponse{Flushed: pending})
}

// ImportRoot serves POST /v1/roots?idhash=&key=.
func (s *Server) ImportRoot(gCtx *gin.Context) {
	idhash := gCtx.Query("idhash")
	if err := s.session.ImportRoot(gCtx.Request.Context(), idhash, gCtx.Query("key")); err != nil {
		apitool.ErrorResponse(gCtx, err)
		return
	}
	apitool.JsonResponse(gCtx, http.StatusOK, map[string]string{"idhash": idhash})
}
