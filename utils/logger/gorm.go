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

package logger

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"
)

// DBLogger routes gorm logs through zap.
type DBLogger struct {
	*zap.SugaredLogger
}

var _ glogger.Interface = &DBLogger{}

func (l *DBLogger) LogMode(level glogger.LogLevel) glogger.Interface {
	return l
}

func (l *DBLogger) Info(ctx context.Context, s string, i ...interface{}) {
	l.Infof(s, i...)
}

func (l *DBLogger) Warn(ctx context.Context, s string, i ...interface{}) {
	l.Warnf(s, i...)
}

func (l *DBLogger) Error(ctx context.Context, s string, i ...interface{}) {
	l.Errorf(s, i...)
}

func (l *DBLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		sqlContent, rows := fc()
		l.Warnw("trace error", "sql", sqlContent, "rows", rows, "err", err)
	case time.Since(begin) > time.Second:
		sqlContent, rows := fc()
		l.Infow("slow sql", "sql", sqlContent, "rows", rows, "err", err)
	}
}

func NewDBLogger() *DBLogger {
	return &DBLogger{SugaredLogger: NewLogger("database")}
}
