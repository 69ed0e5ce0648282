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

// Package server_structs holds the request and response bodies of the
// media cache management API, shared by the server and its clients.
package server_structs

type (

	// A short response object, meant for the result from most
	// of the management APIs.  Will generate a JSON of the form:
	// {"status": "error", "msg": "Some Error Message"}
	// or
	// {"status": "success"}
	SimpleApiResp struct {
		Status SimpleRespStatus `json:"status"`
		Msg    string           `json:"msg,omitempty"`
	}

	// The standardized status message for the API response
	SimpleRespStatus string

	// Body of POST /api/v1.0/media/clean.  Exactly one of URL, Key and All
	// selects what to clean.
	CleanReq struct {
		URL     string `json:"url,omitempty"`
		Key     string `json:"key,omitempty"`
		Reserve bool   `json:"reserve,omitempty"`
		All     bool   `json:"all,omitempty"`
	}

	// Result of a usage check
	CheckUsageResp struct {
		Status  SimpleRespStatus `json:"status"`
		Evicted []string         `json:"evicted"`
	}
)

const (
	// Indicates the API succeeded.
	RespOK SimpleRespStatus = "success"
	// Indicates the API call failed; the SimpleApiResp Msg should be non-empty in this case
	RespFailed SimpleRespStatus = "error"
)
