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

package logging

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/pelicanplatform/mediacache/server_structs"
)

// LevelChangeReq asks for a temporary log level.
type LevelChangeReq struct {
	Level    string `json:"level" binding:"required"`
	Duration string `json:"duration" binding:"required"`
}

// RegisterRoutes exposes the manager under /api/v1.0/logging.
func (m *LevelManager) RegisterRoutes(router gin.IRouter) {
	group := router.Group("/api/v1.0/logging")
	group.GET("/level", func(ginCtx *gin.Context) {
		ginCtx.JSON(http.StatusOK, m.Snapshot())
	})
	group.POST("/level", m.addChangeCmd)
	group.DELETE("/level/:id", func(ginCtx *gin.Context) {
		if !m.RemoveChange(ginCtx.Param("id")) {
			ginCtx.AbortWithStatusJSON(http.StatusNotFound,
				server_structs.SimpleApiResp{Status: server_structs.RespFailed, Msg: "no such log level change"})
			return
		}
		ginCtx.JSON(http.StatusOK, server_structs.SimpleApiResp{Status: server_structs.RespOK})
	})
}

func (m *LevelManager) addChangeCmd(ginCtx *gin.Context) {
	var req LevelChangeReq
	if err := ginCtx.ShouldBindJSON(&req); err != nil {
		ginCtx.AbortWithStatusJSON(http.StatusBadRequest,
			server_structs.SimpleApiResp{Status: server_structs.RespFailed, Msg: "Invalid request format"})
		return
	}
	level, err := log.ParseLevel(req.Level)
	if err != nil {
		ginCtx.AbortWithStatusJSON(http.StatusBadRequest,
			server_structs.SimpleApiResp{Status: server_structs.RespFailed, Msg: err.Error()})
		return
	}
	duration, err := time.ParseDuration(req.Duration)
	if err == nil {
		var change LevelChange
		if change, err = m.AddChange(level, duration); err == nil {
			ginCtx.JSON(http.StatusOK, change)
			return
		}
	}
	ginCtx.AbortWithStatusJSON(http.StatusBadRequest,
		server_structs.SimpleApiResp{Status: server_structs.RespFailed, Msg: err.Error()})
}
