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
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/basenana/phenfs/config"
	"github.com/basenana/phenfs/pkg/changelog"
	"github.com/basenana/phenfs/pkg/dentry"
	"github.com/basenana/phenfs/pkg/events"
	"github.com/basenana/phenfs/pkg/folder"
	"github.com/basenana/phenfs/pkg/metastore"
	"github.com/basenana/phenfs/pkg/storage"
	"github.com/basenana/phenfs/pkg/types"
	"github.com/basenana/phenfs/pkg/writeback"
	"github.com/basenana/phenfs/utils"
	"github.com/basenana/phenfs/utils/logger"
)

// Session is one mounted identity: its content store, caches, writeback and change log.
type Session struct {
	local types.IDHash
	meta  metastore.Meta
	store *storage.ContentStore
	wb    *writeback.DelayedSave
	clog  *changelog.ChangeLog
	env   *folder.Env
	trav  *dentry.Traverser

	listener string
	shutdown bool
	mux      sync.Mutex
	logger   *zap.SugaredLogger
}

func New(cfg config.Config) (*Session, error) {
	if cfg.Identity == "" {
		return nil, fmt.Errorf("%w: identity is empty", types.ErrInvalidArgument)
	}
	s := &Session{
		local:  types.HashIdentity(cfg.Identity),
		logger: logger.NewLogger("session"),
	}

	var err error
	s.meta, err = metastore.NewMetaStorage(cfg.Meta.Type, cfg.Meta)
	if err != nil {
		return nil, fmt.Errorf("init metastore failed: %w", err)
	}
	st, err := storage.NewStorage(cfg.Storage)
	if err != nil {
		_ = s.meta.Close()
		return nil, fmt.Errorf("init storage failed: %w", err)
	}
	s.store = storage.NewContentStore(st, s.meta)

	s.wb, err = writeback.New(writeback.Config{
		MinThreshold: time.Duration(cfg.Writeback.MinThreshold) * time.Millisecond,
		MaxThreshold: time.Duration(cfg.Writeback.MaxThreshold) * time.Millisecond,
		SleepCycle:   time.Duration(cfg.Writeback.SleepCycle) * time.Millisecond,
	})
	if err != nil {
		_ = s.meta.Close()
		return nil, err
	}

	s.env = &folder.Env{Store: s.store, Scheduler: delayedScheduler{wb: s.wb}, Local: s.local}
	if cfg.ChangeLog.Enable {
		s.clog, err = changelog.Open(cfg.ChangeLog.Dir, time.Duration(cfg.ChangeLog.TimeSpan)*time.Second, s.local)
		if err != nil {
			_ = s.meta.Close()
			return nil, fmt.Errorf("open changelog failed: %w", err)
		}
		s.env.Modified = s.clog.Hook
	}

	s.trav = dentry.NewTraverser(s.env, s.store, s.wb, dentry.CacheConfig{
		FolderSize:   cfg.Cache.FolderSize,
		FilemetaSize: cfg.Cache.FilemetaSize,
		PathSize:     cfg.Cache.PathSize,
	})
	s.listener = events.Subscribe(events.TopicAllActions, s.handleFolderEvent)
	s.logger.Infow("session created", "identity", cfg.Identity, "idhash", s.local.String(), "storage", st.ID())
	return s, nil
}

type delayedScheduler struct {
	wb *writeback.DelayedSave
}

func (d delayedScheduler) Schedule(ctx context.Context, f *folder.Folder) error {
	_, err := d.wb.Add(ctx, f)
	return err
}

func (s *Session) Identity() types.IDHash {
	return s.local
}

func (s *Session) ContentStore() *storage.ContentStore {
	return s.store
}

// ChangeLog returns nil when the change log is disabled.
func (s *Session) ChangeLog() *changelog.ChangeLog {
	return s.clog
}

func (s *Session) Abspath(p string) string {
	return dentry.Abspath(s.local, p)
}

// Traverse resolves p, a path that is not absolute is rooted in the local tree first.
func (s *Session) Traverse(ctx context.Context, p string, levels int, absolute bool) (*dentry.Chain, error) {
	defer utils.TraceRegion(ctx, "session.Traverse")()
	defer logOperationLatency("traverse", time.Now())
	if !absolute {
		p = s.Abspath(p)
	}
	chain, err := s.trav.Traverse(ctx, p, levels)
	return chain, logOperationError("traverse", err)
}

// Parent resolves the folder a mutation of p happens in, see dentry.Traverser.Parent.
func (s *Session) Parent(ctx context.Context, p string, isAdd bool) (*folder.Folder, *dentry.FilemetaCache, error) {
	defer logOperationLatency("parent", time.Now())
	f, fmc, err := s.trav.Parent(ctx, s.Abspath(p), isAdd)
	return f, fmc, logOperationError("parent", err)
}

func (s *Session) OpenFolder(ctx context.Context, pair types.FidPair, p, key string, parent *folder.Folder) (*folder.Folder, error) {
	defer logOperationLatency("open_folder", time.Now())
	f, err := s.trav.OpenFolder(ctx, pair, p, key, parent)
	return f, logOperationError("open_folder", err)
}

// Root opens the local root, creating it on first use.
func (s *Session) Root(ctx context.Context) (*folder.Folder, error) {
	return s.trav.Root(ctx, s.local)
}

// Flush persists every pending folder now.
func (s *Session) Flush(ctx context.Context) error {
	defer logOperationLatency("flush", time.Now())
	return logOperationError("flush", s.wb.Flush(ctx, false))
}

// FlushFolder persists the pending folder pair now, false means nothing was pending.
func (s *Session) FlushFolder(ctx context.Context, pair string) (bool, error) {
	fp, err := types.ParseFidPair(pair)
	if err != nil {
		return false, err
	}
	defer logOperationLatency("flush_folder", time.Now())
	flushed, err := s.wb.Preempt(ctx, fp)
	return flushed, logOperationError("flush_folder", err)
}

// ImportRoot records the key that unlocks the root of a foreign identity, its tree
// can be traversed afterwards.
func (s *Session) ImportRoot(ctx context.Context, idhash, key string) error {
	owner, err := types.ParseIDHash(idhash)
	if err != nil {
		return err
	}
	if owner == s.local {
		return fmt.Errorf("%w: local root needs no key", types.ErrInvalidArgument)
	}
	if key == "" {
		key = types.KeyPlaceholder
	}
	if err = s.store.SaveLocalData(ctx, types.RootPair(owner), s.local, dentry.RootKeyTag, types.Fid(key)); err != nil {
		return logOperationError("import_root", err)
	}
	s.trav.Invalidate("/" + owner.String())
	s.logger.Infow("foreign root imported", "idhash", owner.Short())
	return nil
}

func (s *Session) PendingFolders() []types.FidPair {
	return s.wb.PendingPairs()
}

func (s *Session) Startup(ctx context.Context) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.shutdown {
		return types.ErrClosed
	}
	if _, err := s.trav.Root(ctx, s.local); err != nil {
		s.logger.Errorw("open local root failed", "err", err)
		return err
	}
	s.wb.Startup()
	return nil
}

// Shutdown persists pending folders and releases the session, calling it again is a no-op.
func (s *Session) Shutdown(ctx context.Context) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.shutdown {
		return nil
	}
	s.shutdown = true
	events.Unsubscribe(s.listener)

	var firstErr error
	if err := s.wb.Shutdown(ctx); err != nil {
		s.logger.Errorw("flush pending folders failed", "err", err)
		firstErr = err
	}
	if s.clog != nil {
		if err := s.clog.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.meta.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	s.logger.Infow("session closed")
	return firstErr
}

func (s *Session) handleFolderEvent(evt *types.Event) {
	folderEventCounter.WithLabelValues(evt.Type).Inc()
	if evt.Type == events.ActionTypeClose {
		// a closed folder rejects mutations, resolve it afresh next time
		s.trav.Invalidate(evt.Data.Path)
	}
}

// SetupShutdownHandler shuts the session down once stopCh is closed, the returned
// channel is closed after that finished.
func (s *Session) SetupShutdownHandler(stopCh chan struct{}) chan struct{} {
	shutdownSafe := make(chan struct{})
	go func() {
		<-stopCh
		ctx, canF := context.WithTimeout(context.Background(), time.Minute)
		defer canF()
		if err := s.Shutdown(ctx); err != nil {
			s.logger.Errorw("shutdown session failed", "err", err)
		}
		close(shutdownSafe)
	}()
	return shutdownSafe
}
