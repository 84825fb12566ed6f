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

package types

import (
	"time"
)

// KeyPlaceholder marks an entry whose encryption key lives elsewhere.
const KeyPlaceholder = "-"

// Metadata describes one revision of a file or folder entry, it is never mutated
// once stored in a folder table.
type Metadata struct {
	Fid   Fid               `json:"fid"`
	Name  string            `json:"name"`
	Kind  Kind              `json:"kind"`
	Size  int64             `json:"size"`
	Mtime time.Time         `json:"mtime"`
	Dtime time.Time         `json:"dtime"`
	Key   string            `json:"key,omitempty"`
	Auth  IDHash            `json:"auth"`
	Xattr map[string]string `json:"xattr,omitempty"`
}

func NewMetadata(name string, kind Kind, fid Fid, auth IDHash) *Metadata {
	now := time.Now()
	return &Metadata{
		Fid:   fid,
		Name:  name,
		Kind:  kind,
		Mtime: now,
		Dtime: now,
		Key:   KeyPlaceholder,
		Auth:  auth,
	}
}

func (m *Metadata) IsFolder() bool {
	return m.Kind.IsFolder()
}

func (m *Metadata) IsTransient() bool {
	return m.Fid.IsTransient()
}

func (m *Metadata) Clone() *Metadata {
	n := *m
	if m.Xattr != nil {
		n.Xattr = make(map[string]string, len(m.Xattr))
		for k, v := range m.Xattr {
			n.Xattr[k] = v
		}
	}
	return &n
}

// MultiMetadata synthesizes the marker entry returned for an ambiguous name.
func MultiMetadata(name string, candidates []*Metadata) *Metadata {
	md := &Metadata{Name: name, Kind: MultiKind, Key: KeyPlaceholder}
	for _, c := range candidates {
		if c.Mtime.After(md.Mtime) {
			md.Mtime = c.Mtime
		}
		if c.Dtime.After(md.Dtime) {
			md.Dtime = c.Dtime
		}
	}
	return md
}
