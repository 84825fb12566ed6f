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

package config

const (
	DefaultConfigBase = "phenfs.conf"

	MemoryMeta   = "memory"
	SqliteMeta   = "sqlite"
	PostgresMeta = "postgres"

	S3Storage     = "s3"
	OSSStorage    = "oss"
	MinioStorage  = "minio"
	WebdavStorage = "webdav"
	LocalStorage  = "local"
	MemoryStorage = "memory"
)

type Config struct {
	// Identity is the public identity string of the local user, its hash names the local root.
	Identity string `json:"identity"`

	Api       Api       `json:"api"`
	Meta      Meta      `json:"meta"`
	Storage   Storage   `json:"storage"`
	Writeback Writeback `json:"writeback"`
	Cache     Cache     `json:"cache"`
	ChangeLog ChangeLog `json:"changelog"`

	Debug bool `json:"debug,omitempty"`
}

type Api struct {
	Enable bool   `json:"enable"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Pprof  bool   `json:"pprof"`
}

type Meta struct {
	Type string `json:"type"`
	Path string `json:"path,omitempty"`
	DSN  string `json:"dsn,omitempty"`
}

// Writeback configures the delayed folder persistence, all values are milliseconds.
type Writeback struct {
	MinThreshold int `json:"min_threshold_ms,omitempty"`
	MaxThreshold int `json:"max_threshold_ms,omitempty"`
	SleepCycle   int `json:"sleep_cycle_ms,omitempty"`
}

type Cache struct {
	FolderSize   int `json:"folder_size,omitempty"`
	FilemetaSize int `json:"filemeta_size,omitempty"`
	PathSize     int `json:"path_size,omitempty"`
}

type ChangeLog struct {
	Enable   bool   `json:"enable"`
	Dir      string `json:"dir,omitempty"`
	TimeSpan int    `json:"time_span_sec,omitempty"`
}

type Storage struct {
	ID       string               `json:"id"`
	Type     string               `json:"type"`
	LocalDir string               `json:"local_dir,omitempty"`
	S3       *S3Config            `json:"s3,omitempty"`
	MinIO    *MinIOConfig         `json:"minio,omitempty"`
	OSS      *OSSConfig           `json:"oss,omitempty"`
	Webdav   *WebdavStorageConfig `json:"webdav,omitempty"`
}

type S3Config struct {
	Region          string `json:"region"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	BucketName      string `json:"bucket_name"`
	UsePathStyle    bool   `json:"use_path_style"`
}

type MinIOConfig struct {
	Endpoint        string `json:"endpoint"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	BucketName      string `json:"bucket_name"`
	Location        string `json:"location"`
	Token           string `json:"token"`
	UseSSL          bool   `json:"use_ssl"`
}

type OSSConfig struct {
	Endpoint        string `json:"endpoint"`
	AccessKeyID     string `json:"access_key_id"`
	AccessKeySecret string `json:"access_key_secret"`
	BucketName      string `json:"bucket_name"`
}

type WebdavStorageConfig struct {
	ServerURL string `json:"server_url"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	Insecure  bool   `json:"insecure"`
}
