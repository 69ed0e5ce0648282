/***************************************************************
 *
 * Copyright (C) 2025, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package param

import (
	"time"

	"github.com/pelicanplatform/mediacache/byte_rate"
)

// Config is the decoded snapshot of every known parameter.
type Config struct {
	Debug   bool `mapstructure:"debug"`
	Logging struct {
		Level       string `mapstructure:"level"`
		LogLocation string `mapstructure:"loglocation"`
	} `mapstructure:"logging"`
	MediaCache struct {
		AutoCheckUsage       bool               `mapstructure:"autocheckusage"`
		CheckUsageInterval   time.Duration      `mapstructure:"checkusageinterval"`
		ChunkSize            string             `mapstructure:"chunksize"`
		DataLocation         string             `mapstructure:"datalocation"`
		FetchTimeout         time.Duration      `mapstructure:"fetchtimeout"`
		MaxConcurrentFetches int                `mapstructure:"maxconcurrentfetches"`
		MaxDownloadSpeed     byte_rate.ByteRate `mapstructure:"maxdownloadspeed"`
		PacketLimit          string             `mapstructure:"packetlimit"`
		ReadPacing           time.Duration      `mapstructure:"readpacing"`
		RetryBudget          int                `mapstructure:"retrybudget"`
		Size                 string             `mapstructure:"size"`
		TimeWeight           int                `mapstructure:"timeweight"`
		UseWeight            int                `mapstructure:"useweight"`
		WriteMode            string             `mapstructure:"writemode"`
	} `mapstructure:"mediacache"`
	Server struct {
		WebHost string `mapstructure:"webhost"`
		WebPort int    `mapstructure:"webport"`
	} `mapstructure:"server"`
}
