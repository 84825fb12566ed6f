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

package db

import (
	"time"
)

type LocalData struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	OwnerHash string    `gorm:"column:owner_hash;uniqueIndex:idx_local_data_key"`
	OwnerFid  string    `gorm:"column:owner_fid;uniqueIndex:idx_local_data_key"`
	IDHash    string    `gorm:"column:idhash;uniqueIndex:idx_local_data_key"`
	Tag       string    `gorm:"column:tag;uniqueIndex:idx_local_data_key"`
	DataFid   string    `gorm:"column:data_fid"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (d LocalData) TableName() string {
	return "local_data"
}
