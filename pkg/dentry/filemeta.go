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

package dentry

import (
	"github.com/basenana/phenfs/pkg/folder"
	"github.com/basenana/phenfs/pkg/types"
)

// FilemetaCache pins one entry of a folder at the serial it was read under.
// It must not be trusted once the folder has been mutated since.
type FilemetaCache struct {
	Fmeta  *types.Metadata
	Folder *folder.Folder
	// Multi lists every candidate when the name is ambiguous
	Multi   []*types.Metadata
	MultiID types.IDHash
	serial  uint64
}

func newFilemetaCache(f *folder.Folder, serial uint64, fmeta *types.Metadata, multi []*types.Metadata, multiID types.IDHash) *FilemetaCache {
	return &FilemetaCache{
		Fmeta:   fmeta,
		Folder:  f,
		Multi:   multi,
		MultiID: multiID,
		serial:  serial,
	}
}

func (c *FilemetaCache) Valid() bool {
	return c.serial == c.Folder.CacheSerial()
}

func (c *FilemetaCache) Serial() uint64 {
	return c.serial
}

// Ambiguous reports a multi entry no candidate was selected for.
func (c *FilemetaCache) Ambiguous() bool {
	return len(c.Multi) > 0 && c.MultiID == ""
}

func (c *FilemetaCache) Name() string {
	return c.Fmeta.Name
}

func (c *FilemetaCache) pair() types.FidPair {
	return types.NewFidPair(c.Fmeta.Auth, c.Fmeta.Fid)
}

// Node is one step of a resolved path. Folder is set for directories, Meta is the
// entry naming the node inside its parent and is nil for a root.
type Node struct {
	Folder *folder.Folder
	Meta   *FilemetaCache
}

func (n Node) IsFolder() bool {
	return n.Folder != nil
}

type Chain struct {
	Nodes []Node
	Path  string
}

func (c *Chain) Leaf() Node {
	return c.Nodes[len(c.Nodes)-1]
}

func (c *Chain) Root() *folder.Folder {
	return c.Nodes[0].Folder
}

// Parent returns the folder holding the leaf, nil when the leaf is a root.
func (c *Chain) Parent() *folder.Folder {
	leaf := c.Leaf()
	if leaf.Meta == nil {
		return nil
	}
	return leaf.Meta.Folder
}

func (c *Chain) Depth() int {
	return len(c.Nodes)
}
