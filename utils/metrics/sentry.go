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

package metrics

import (
	"os"
	"time"

	"github.com/getsentry/sentry-go"
)

const sentryDSNEnvKey = "SENTRY_DSN"

var sentryEnabled bool

// InitSentry enables error reporting only when SENTRY_DSN is set.
func InitSentry(release string) error {
	dsn, ok := os.LookupEnv(sentryDSNEnvKey)
	if !ok || dsn == "" {
		return nil
	}
	err := sentry.Init(sentry.ClientOptions{Dsn: dsn, Release: release, TracesSampleRate: 0.2})
	if err != nil {
		return err
	}
	sentryEnabled = true
	return nil
}

func CaptureError(err error, tags map[string]string) {
	if !sentryEnabled || err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		sentry.CaptureException(err)
	})
}

func FlushSentry() {
	if sentryEnabled {
		sentry.Flush(2 * time.Second)
	}
}
