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

package metastore

import (
	"context"
	"errors"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/basenana/phenfs/config"
	"github.com/basenana/phenfs/pkg/metastore/db"
	"github.com/basenana/phenfs/pkg/types"
	"github.com/basenana/phenfs/utils"
	"github.com/basenana/phenfs/utils/logger"
)

type sqlMetaStore struct {
	*gorm.DB
	logger *zap.SugaredLogger
}

var _ Meta = &sqlMetaStore{}

func buildSqlMetaStore(dbEntity *gorm.DB) (*sqlMetaStore, error) {
	s := &sqlMetaStore{DB: dbEntity, logger: logger.NewLogger("dbStore")}

	if err := db.Migrate(s.DB); err != nil {
		return nil, db.SqlError2Error(err)
	}
	return s, nil
}

func (s *sqlMetaStore) GetLocalData(ctx context.Context, owner types.FidPair, idhash types.IDHash, tag string) (types.Fid, error) {
	defer utils.TraceRegion(ctx, "metastore.sql.GetLocalData")()
	var record db.LocalData
	res := s.WithContext(ctx).
		Where("owner_hash = ? AND owner_fid = ? AND idhash = ? AND tag = ?", owner.IDHash.String(), string(owner.Fid), idhash.String(), tag).
		First(&record)
	if res.Error != nil {
		return types.TransientFid, db.SqlError2Error(res.Error)
	}
	return types.Fid(record.DataFid), nil
}

func (s *sqlMetaStore) SaveLocalData(ctx context.Context, owner types.FidPair, idhash types.IDHash, tag string, dataFid types.Fid) error {
	defer utils.TraceRegion(ctx, "metastore.sql.SaveLocalData")()
	if dataFid.IsTransient() {
		return types.ErrInvalidArgument
	}
	err := s.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var (
			record db.LocalData
			nowAt  = time.Now()
		)
		res := tx.Where("owner_hash = ? AND owner_fid = ? AND idhash = ? AND tag = ?", owner.IDHash.String(), string(owner.Fid), idhash.String(), tag).
			First(&record)
		if res.Error != nil {
			if !errors.Is(res.Error, gorm.ErrRecordNotFound) {
				return res.Error
			}
			record = db.LocalData{
				OwnerHash: owner.IDHash.String(),
				OwnerFid:  string(owner.Fid),
				IDHash:    idhash.String(),
				Tag:       tag,
				DataFid:   string(dataFid),
				CreatedAt: nowAt,
				UpdatedAt: nowAt,
			}
			return tx.Create(&record).Error
		}
		record.DataFid = string(dataFid)
		record.UpdatedAt = nowAt
		return tx.Save(&record).Error
	})
	if err != nil {
		s.logger.Errorw("save local data failed", "owner", owner.String(), "tag", tag, "err", err)
		return db.SqlError2Error(err)
	}
	return nil
}

func (s *sqlMetaStore) ListLocalData(ctx context.Context, owner types.FidPair) ([]types.LocalData, error) {
	defer utils.TraceRegion(ctx, "metastore.sql.ListLocalData")()
	var records []db.LocalData
	res := s.WithContext(ctx).
		Where("owner_hash = ? AND owner_fid = ?", owner.IDHash.String(), string(owner.Fid)).
		Order("id").
		Find(&records)
	if res.Error != nil {
		return nil, db.SqlError2Error(res.Error)
	}

	result := make([]types.LocalData, 0, len(records))
	for _, r := range records {
		result = append(result, types.LocalData{
			Owner:     owner,
			IDHash:    types.IDHash(r.IDHash),
			Tag:       r.Tag,
			DataFid:   types.Fid(r.DataFid),
			UpdatedAt: r.UpdatedAt,
		})
	}
	return result, nil
}

func (s *sqlMetaStore) DeleteLocalData(ctx context.Context, owner types.FidPair, idhash types.IDHash, tag string) error {
	defer utils.TraceRegion(ctx, "metastore.sql.DeleteLocalData")()
	res := s.WithContext(ctx).
		Where("owner_hash = ? AND owner_fid = ? AND idhash = ? AND tag = ?", owner.IDHash.String(), string(owner.Fid), idhash.String(), tag).
		Delete(&db.LocalData{})
	if res.Error != nil {
		return db.SqlError2Error(res.Error)
	}
	if res.RowsAffected == 0 {
		return types.ErrNotFound
	}
	return nil
}

func (s *sqlMetaStore) Close() error {
	conn, err := s.DB.DB()
	if err != nil {
		return err
	}
	return conn.Close()
}

func newSqliteMetaStore(meta config.Meta) (*sqlMetaStore, error) {
	dbEntity, err := gorm.Open(sqlite.Open(meta.Path), &gorm.Config{Logger: logger.NewDBLogger()})
	if err != nil {
		return nil, err
	}

	dbConn, err := dbEntity.DB()
	if err != nil {
		return nil, err
	}
	// every connection of an in-memory sqlite sees its own database
	dbConn.SetMaxOpenConns(1)

	if err = dbConn.Ping(); err != nil {
		return nil, err
	}
	return buildSqlMetaStore(dbEntity)
}

func newPostgresMetaStore(meta config.Meta) (*sqlMetaStore, error) {
	dbEntity, err := gorm.Open(postgres.Open(meta.DSN), &gorm.Config{Logger: logger.NewDBLogger()})
	if err != nil {
		return nil, err
	}

	dbConn, err := dbEntity.DB()
	if err != nil {
		return nil, err
	}

	dbConn.SetMaxIdleConns(5)
	dbConn.SetMaxOpenConns(50)
	dbConn.SetConnMaxLifetime(time.Hour)

	if err = dbConn.Ping(); err != nil {
		return nil, err
	}
	return buildSqlMetaStore(dbEntity)
}
