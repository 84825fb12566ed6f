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

package core

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/basenana/phenfs/pkg/folder"
	"github.com/basenana/phenfs/pkg/types"
	"github.com/basenana/phenfs/utils"
)

// Mkdir creates an empty folder at p owned by the local identity.
func (s *Session) Mkdir(ctx context.Context, p string) (*folder.Folder, error) {
	defer utils.TraceRegion(ctx, "session.Mkdir")()
	defer logOperationLatency("mkdir", time.Now())
	p = s.Abspath(p)
	parent, _, err := s.trav.Parent(ctx, p, true)
	if err != nil {
		return nil, logOperationError("mkdir", err)
	}
	name := path.Base(p)
	if s.ownedEntry(parent, name) != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrIsExist, p)
	}

	pair := types.NewFidPair(s.local, types.Fid(utils.GenerateNewKey()))
	child, err := s.trav.OpenNew(ctx, folder.New(s.env, pair, p, parent, types.KeyPlaceholder))
	if err != nil {
		return nil, logOperationError("mkdir", err)
	}
	if _, err = s.wb.Add(ctx, child); err != nil {
		return nil, logOperationError("mkdir", err)
	}
	if err = parent.AddFile(ctx, types.NewMetadata(name, types.FolderKind, pair.Fid, s.local)); err != nil {
		return nil, logOperationError("mkdir", err)
	}
	return child, nil
}

// WriteFile stores data under its content fid and points the entry p at it. An
// entry the local identity wrote before is replaced.
func (s *Session) WriteFile(ctx context.Context, p string, in io.Reader) (*types.Metadata, error) {
	defer utils.TraceRegion(ctx, "session.WriteFile")()
	defer logOperationLatency("write_file", time.Now())
	p = s.Abspath(p)
	parent, _, err := s.trav.Parent(ctx, p, true)
	if err != nil {
		return nil, logOperationError("write_file", err)
	}
	name := path.Base(p)
	if old := s.ownedEntry(parent, name); old != nil && old.IsFolder() {
		return nil, fmt.Errorf("%w: %s is a folder", types.ErrIsExist, p)
	}

	data, err := io.ReadAll(in)
	if err != nil {
		return nil, err
	}
	md := types.NewMetadata(name, types.FileKind, types.ContentFid(data), s.local)
	md.Size = int64(len(data))
	if err = s.store.Save(ctx, types.NewFidPair(s.local, md.Fid), bytes.NewReader(data)); err != nil {
		return nil, logOperationError("write_file", err)
	}
	if err = parent.AddFile(ctx, md); err != nil {
		return nil, logOperationError("write_file", err)
	}
	return md, nil
}

// ReadFile returns the content of the file entry p.
func (s *Session) ReadFile(ctx context.Context, p string) ([]byte, error) {
	defer utils.TraceRegion(ctx, "session.ReadFile")()
	defer logOperationLatency("read_file", time.Now())
	chain, err := s.trav.Traverse(ctx, s.Abspath(p), 0)
	if err != nil {
		return nil, logOperationError("read_file", err)
	}
	leaf := chain.Leaf()
	if leaf.IsFolder() || leaf.Meta == nil || leaf.Meta.Ambiguous() {
		return nil, fmt.Errorf("%w: %s is not a file", types.ErrInvalidArgument, chain.Path)
	}
	md := leaf.Meta.Fmeta
	data, err := s.store.Load(ctx, types.NewFidPair(md.Auth, md.Fid))
	return data, logOperationError("read_file", err)
}

// Remove drops the entry p from its parent, the blobs it named are left in place.
func (s *Session) Remove(ctx context.Context, p string) error {
	defer utils.TraceRegion(ctx, "session.Remove")()
	defer logOperationLatency("remove", time.Now())
	p = s.Abspath(p)
	parent, fmc, err := s.trav.Parent(ctx, p, false)
	if err != nil {
		return logOperationError("remove", err)
	}
	if fmc.Ambiguous() {
		return fmt.Errorf("%w: %s has several writers", types.ErrInvalidArgument, p)
	}
	if err = parent.RemoveFile(ctx, fmc.Name(), fmc.Fmeta.Auth); err != nil {
		return logOperationError("remove", err)
	}
	s.trav.Invalidate(p)
	return nil
}

func (s *Session) ownedEntry(parent *folder.Folder, name string) *types.Metadata {
	for _, md := range parent.Lookup(name) {
		if md.Auth == s.local {
			return md
		}
	}
	return nil
}
