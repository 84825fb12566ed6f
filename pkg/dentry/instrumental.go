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
	"github.com/prometheus/client_golang/prometheus"
)

var (
	pathCacheHitCounter      = newCacheCounter("path_cache_hits", "This count of path resolutions served from cache")
	pathCacheMissCounter     = newCacheCounter("path_cache_misses", "This count of path resolutions that walked folders")
	filemetaCacheHitCounter  = newCacheCounter("filemeta_cache_hits", "This count of entries reused from the filemeta cache")
	filemetaCacheMissCounter = newCacheCounter("filemeta_cache_misses", "This count of entries wrapped anew")
	folderCacheHitCounter    = newCacheCounter("folder_cache_hits", "This count of folders served from cache")
	folderCacheMissCounter   = newCacheCounter("folder_cache_misses", "This count of folders loaded or recovered")
	folderEvictedCounter     = newCacheCounter("folder_cache_dirty_evictions", "This count of dirty folders pushed out of cache")
)

func newCacheCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{Name: "dentry_" + name, Help: help})
}

func init() {
	prometheus.MustRegister(
		pathCacheHitCounter,
		pathCacheMissCounter,
		filemetaCacheHitCounter,
		filemetaCacheMissCounter,
		folderCacheHitCounter,
		folderCacheMissCounter,
		folderEvictedCounter,
	)
}
