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

package folder

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/basenana/phenfs/pkg/events"
	"github.com/basenana/phenfs/pkg/types"
	"github.com/basenana/phenfs/utils"
	"github.com/basenana/phenfs/utils/logger"
)

// Folder is the in-memory table of one persisted directory revision.
// Entries sharing a name were written independently by different identities.
type Folder struct {
	env      *Env
	pair     types.FidPair
	path     string
	key      string
	parent   *Folder
	openedBy types.IDHash

	// serial bumps on every structural mutation
	serial atomic.Uint64

	files   map[string][]*types.Metadata
	writers map[types.IDHash]struct{}
	mtime   time.Time
	dirty   bool
	closed  bool
	mux     sync.Mutex

	// flushMux keeps revisions of one folder from being persisted out of order
	flushMux sync.Mutex
	logger   *zap.SugaredLogger
}

// New builds an empty folder that is dirty until its first flush.
func New(env *Env, pair types.FidPair, path string, parent *Folder, key string) *Folder {
	f := newFolder(env, pair, path, parent, key)
	f.writers[pair.IDHash] = struct{}{}
	f.mtime = time.Now()
	f.dirty = true
	f.serial.Store(1)
	return f
}

func Load(ctx context.Context, env *Env, pair types.FidPair, path string, parent *Folder, key string) (*Folder, error) {
	defer utils.TraceRegion(ctx, "folder.Load")()
	if pair.Fid.IsTransient() {
		return nil, fmt.Errorf("%w: load transient folder %s", types.ErrInvalidArgument, path)
	}
	data, err := env.Store.Load(ctx, pair)
	if err != nil {
		return nil, err
	}
	r, err := decodeRecord(data)
	if err != nil {
		return nil, err
	}
	if r.Pair != pair {
		return nil, fmt.Errorf("%w: blob of %s holds folder %s", types.ErrConflict, pair, r.Pair)
	}

	f := newFolder(env, pair, path, parent, key)
	f.files = r.Files
	f.mtime = r.Mtime
	f.writers[pair.IDHash] = struct{}{}
	for _, w := range r.Writers {
		f.writers[w] = struct{}{}
	}
	f.serial.Store(1)
	return f, nil
}

func newFolder(env *Env, pair types.FidPair, path string, parent *Folder, key string) *Folder {
	return &Folder{
		env:      env,
		pair:     pair,
		path:     path,
		key:      key,
		parent:   parent,
		openedBy: env.Local,
		files:    map[string][]*types.Metadata{},
		writers:  map[types.IDHash]struct{}{},
		logger:   logger.NewLogger("folder").With(zap.String("pair", pair.String())),
	}
}

func (f *Folder) FidPair() types.FidPair {
	return f.pair
}

func (f *Folder) Path() string {
	return f.path
}

func (f *Folder) Key() string {
	return f.key
}

func (f *Folder) Parent() *Folder {
	return f.parent
}

func (f *Folder) OpenedBy() types.IDHash {
	return f.openedBy
}

// Owner is the identity whose tree this folder belongs to.
func (f *Folder) Owner() types.IDHash {
	return f.pair.IDHash
}

func (f *Folder) CacheSerial() uint64 {
	return f.serial.Load()
}

func (f *Folder) Dirty() bool {
	f.mux.Lock()
	defer f.mux.Unlock()
	return f.dirty
}

func (f *Folder) Mtime() time.Time {
	f.mux.Lock()
	defer f.mux.Unlock()
	return f.mtime
}

// Filemeta returns the entry called name. An ambiguous name yields a multi marker
// unless pPart names the writing identity of one candidate.
func (f *Folder) Filemeta(name, pPart string, noError bool) (*types.Metadata, error) {
	f.mux.Lock()
	entries := f.files[name]
	f.mux.Unlock()

	switch {
	case len(entries) == 0:
		if noError {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s/%s", types.ErrNotFound, f.path, name)
	case len(entries) == 1:
		if pPart != "" && pPart != entries[0].Auth.String() {
			return nil, fmt.Errorf("%w: %s/%s by %s", types.ErrNotFound, f.path, name, pPart)
		}
		return entries[0], nil
	}

	if pPart == "" {
		return types.MultiMetadata(name, entries), nil
	}
	if !types.IsIDHash(pPart) {
		return nil, fmt.Errorf("%w: %s/%s/%s", types.ErrNotDir, f.path, name, pPart)
	}
	for _, en := range entries {
		if en.Auth.String() == pPart {
			return en, nil
		}
	}
	if noError {
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %s/%s by %s", types.ErrNotFound, f.path, name, pPart)
}

// Lookup returns every candidate sharing name, in write order.
func (f *Folder) Lookup(name string) []*types.Metadata {
	f.mux.Lock()
	defer f.mux.Unlock()
	entries := f.files[name]
	result := make([]*types.Metadata, len(entries))
	copy(result, entries)
	return result
}

func (f *Folder) List() []*types.Metadata {
	f.mux.Lock()
	result := make([]*types.Metadata, 0, len(f.files))
	for _, entries := range f.files {
		result = append(result, entries...)
	}
	f.mux.Unlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].Auth < result[j].Auth
	})
	return result
}

// AddFile stores md, replacing the entry of the same name written by the same identity.
func (f *Folder) AddFile(ctx context.Context, md *types.Metadata) error {
	if err := checkName(md.Name); err != nil {
		return err
	}
	if !md.Kind.Valid() || md.Kind == types.MultiKind {
		return fmt.Errorf("%w: kind %q", types.ErrInvalidArgument, md.Kind)
	}

	f.mux.Lock()
	if f.closed {
		f.mux.Unlock()
		return types.ErrClosed
	}
	md = md.Clone()
	if md.Auth == "" {
		md.Auth = f.openedBy
	}

	entries := f.files[md.Name]
	replaced := false
	for i, en := range entries {
		if en.Auth == md.Auth {
			entries[i] = md
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, md)
	}
	f.files[md.Name] = entries
	f.touchLocked()
	f.mux.Unlock()

	return f.schedule(ctx)
}

// RemoveFile drops the entry written by owner, owner may be empty when the name is unambiguous.
func (f *Folder) RemoveFile(ctx context.Context, name string, owner types.IDHash) error {
	f.mux.Lock()
	if f.closed {
		f.mux.Unlock()
		return types.ErrClosed
	}
	entries := f.files[name]
	idx := -1
	switch {
	case len(entries) == 0:
	case owner == "" && len(entries) == 1:
		idx = 0
	case owner == "":
		f.mux.Unlock()
		return fmt.Errorf("%w: %s is ambiguous", types.ErrInvalidArgument, name)
	default:
		for i, en := range entries {
			if en.Auth == owner {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		f.mux.Unlock()
		return fmt.Errorf("%w: %s/%s", types.ErrNotFound, f.path, name)
	}

	entries = append(entries[:idx:idx], entries[idx+1:]...)
	if len(entries) == 0 {
		delete(f.files, name)
	} else {
		f.files[name] = entries
	}
	f.touchLocked()
	f.mux.Unlock()

	return f.schedule(ctx)
}

// AddWriter grants idhash write access, only the owner may do so.
func (f *Folder) AddWriter(ctx context.Context, idhash types.IDHash) error {
	if !types.IsIDHash(idhash.String()) {
		return types.ErrInvalidArgument
	}
	f.mux.Lock()
	if f.openedBy != f.pair.IDHash {
		f.mux.Unlock()
		return types.ErrNoPerm
	}
	if _, ok := f.writers[idhash]; ok {
		f.mux.Unlock()
		return nil
	}
	f.writers[idhash] = struct{}{}
	f.touchLocked()
	f.mux.Unlock()

	return f.schedule(ctx)
}

func (f *Folder) Writers() []types.IDHash {
	f.mux.Lock()
	defer f.mux.Unlock()
	return f.writersLocked()
}

// Flush persists the current revision, the folder is clean afterwards unless it
// was mutated while the blob was being written.
func (f *Folder) Flush(ctx context.Context) error {
	defer utils.TraceRegion(ctx, "folder.Flush")()
	f.flushMux.Lock()
	defer f.flushMux.Unlock()

	f.mux.Lock()
	if !f.dirty {
		f.mux.Unlock()
		return nil
	}
	serial := f.serial.Load()
	r := &record{
		Version: recordVersion,
		Pair:    f.pair,
		Mtime:   f.mtime,
		Writers: f.writersLocked(),
		Files:   make(map[string][]*types.Metadata, len(f.files)),
	}
	for name, entries := range f.files {
		r.Files[name] = append([]*types.Metadata(nil), entries...)
	}
	f.mux.Unlock()

	data, err := encodeRecord(r)
	if err != nil {
		return err
	}
	if err = f.env.Store.Save(ctx, f.pair, bytes.NewReader(data)); err != nil {
		f.logger.Errorw("persist folder failed", "path", f.path, "err", err)
		return err
	}

	f.mux.Lock()
	cleaned := f.serial.Load() == serial
	if cleaned {
		f.dirty = false
	}
	f.mux.Unlock()

	change := types.FolderChange{
		Pair:  f.pair,
		Path:  f.path,
		Mtime: r.Mtime,
		Local: f.pair.IDHash == f.env.Local,
	}
	if f.env.Modified != nil {
		if err = f.env.Modified(ctx, change); err != nil {
			f.logger.Errorw("record folder change failed", "path", f.path, "err", err)
			if cleaned {
				f.mux.Lock()
				f.dirty = true
				f.mux.Unlock()
			}
			return err
		}
	}
	events.PublishFolderEvent(events.ActionTypeFlush, change)
	f.logger.Debugw("folder flushed", "path", f.path, "serial", serial)
	return nil
}

// CloseFolder flushes pending changes, a permanently closed folder rejects further mutations.
func (f *Folder) CloseFolder(ctx context.Context, permanent bool) error {
	if err := f.Flush(ctx); err != nil {
		return err
	}
	if permanent {
		f.mux.Lock()
		f.closed = true
		f.mux.Unlock()
		events.PublishFolderEvent(events.ActionTypeClose, types.FolderChange{Pair: f.pair, Path: f.path, Mtime: f.Mtime()})
	}
	return nil
}

func (f *Folder) touchLocked() {
	f.mtime = time.Now()
	f.dirty = true
	f.serial.Add(1)
}

func (f *Folder) writersLocked() []types.IDHash {
	result := make([]types.IDHash, 0, len(f.writers))
	for w := range f.writers {
		result = append(result, w)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

func (f *Folder) schedule(ctx context.Context) error {
	if f.env.Scheduler == nil {
		return f.Flush(ctx)
	}
	return f.env.Scheduler.Schedule(ctx, f)
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
		return fmt.Errorf("%w: bad name %q", types.ErrInvalidArgument, name)
	}
	return nil
}
