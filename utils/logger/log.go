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
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	root   *zap.SugaredLogger
	atom   zap.AtomicLevel
)

func init() {
	logger = zap.NewNop()
	root = logger.Sugar()
	atom = zap.NewAtomicLevel()
}

func InitLogger() {
	atom = zap.NewAtomicLevel()
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.RFC3339TimeEncoder

	logger = zap.New(zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.Lock(os.Stdout),
		atom,
	))
	root = logger.Sugar()
}

func Sync() {
	_ = logger.Sync()
}

func NewLogger(name string) *zap.SugaredLogger {
	return root.Named(name)
}

func SetDebug(enable bool) {
	if enable {
		atom.SetLevel(zap.DebugLevel)
		return
	}
	atom.SetLevel(zap.InfoLevel)
}
