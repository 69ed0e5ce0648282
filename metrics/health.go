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

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type (
	// API representation of a component status
	ComponentStatus struct {
		Status     string `json:"status"`
		Message    string `json:"message,omitempty"`
		LastUpdate int64  `json:"last_update"`
	}

	componentStatusInternal struct {
		Status     HealthStatusEnum
		Message    string
		LastUpdate time.Time
	}

	HealthStatus struct {
		OverallStatus   string                     `json:"status"`
		ComponentStatus map[string]ComponentStatus `json:"components"`
	}

	HealthStatusEnum int

	HealthStatusComponent string
)

const (
	StatusCritical HealthStatusEnum = iota + 1
	StatusWarning
	StatusOK
	StatusUnknown // Do not abuse this enum. Use others when possible
)

const statusIndexErrorMessage = "Error: status string index out of range"

const (
	// The badger store and data directory
	MediaCache_Store HealthStatusComponent = "store"
	// Disk usage against the configured limit
	MediaCache_Usage HealthStatusComponent = "usage"
	Server_WebUI     HealthStatusComponent = "web-ui"
)

var (
	healthStatus = sync.Map{}

	ComponentHealthStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mediacache_component_health_status",
		Help: "The health status of various components",
	}, []string{"component"})

	ComponentHealthLastUpdate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mediacache_component_health_status_last_update",
		Help: "Last update timestamp of components health status",
	}, []string{"component"})
)

// Returns "Error: status string index out of range" for values outside
// the enum so a bad status is visible in the API rather than hidden.
func (status HealthStatusEnum) String() string {
	strings := [...]string{"critical", "warning", "ok", "unknown"}

	if int(status) < 1 || int(status) > len(strings) {
		return statusIndexErrorMessage
	}
	return strings[status-1]
}

func (component HealthStatusComponent) String() string {
	return string(component)
}

// Add or update the health status of a component.  StatusUnknown is
// mostly for internal use; avoid setting it.
func SetComponentHealthStatus(name HealthStatusComponent, state HealthStatusEnum, msg string) {
	now := time.Now()
	healthStatus.Store(name.String(), componentStatusInternal{state, msg, now})

	ComponentHealthStatus.With(
		prometheus.Labels{"component": name.String()}).
		Set(float64(state))

	ComponentHealthLastUpdate.With(prometheus.Labels{"component": name.String()}).
		SetToCurrentTime()
}

func DeleteComponentHealthStatus(name HealthStatusComponent) {
	healthStatus.Delete(name.String())
	ComponentHealthStatus.DeleteLabelValues(name.String())
	ComponentHealthLastUpdate.DeleteLabelValues(name.String())
}

// GetHealthStatus reports every component plus the worst status among
// them as the overall status.
func GetHealthStatus() HealthStatus {
	status := HealthStatus{}
	overallStatus := StatusUnknown
	healthStatus.Range(func(component, compstat any) bool {
		componentStatus, ok := compstat.(componentStatusInternal)
		if !ok {
			return true
		}
		componentString, ok := component.(string)
		if !ok {
			return true
		}
		if status.ComponentStatus == nil {
			status.ComponentStatus = make(map[string]ComponentStatus)
		}
		status.ComponentStatus[componentString] = ComponentStatus{
			componentStatus.Status.String(),
			componentStatus.Message,
			componentStatus.LastUpdate.Unix(),
		}
		if componentStatus.Status < overallStatus {
			overallStatus = componentStatus.Status
		}
		return true
	})
	status.OverallStatus = overallStatus.String()
	return status
}
