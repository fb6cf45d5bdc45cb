package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// HealthCheckMessage marks an execution report as a liveness ping.
const HealthCheckMessage = "health_check"

type DeviceInput struct {
	DeviceID               string `json:"device_id" binding:"required"`
	Name                   string `json:"name"`
	WaterContainerCapacity int    `json:"water_container_capacity"`
	SendEmail              bool   `json:"send_email"`
}

type DeviceUpdateInput struct {
	Name                   *string `json:"name"`
	WaterContainerCapacity *int    `json:"water_container_capacity"`
	WaterReset             *bool   `json:"water_reset"`
	SendEmail              *bool   `json:"send_email"`
}

// PlanInput is the owner facing create request. MoistureThreshold is a
// percentage here and is stored as a fraction.
type PlanInput struct {
	Name              string             `json:"name" binding:"required"`
	PlanType          PlanType           `json:"plan_type" binding:"required"`
	WaterVolume       int                `json:"water_volume"`
	MoistureThreshold float64            `json:"moisture_threshold"`
	CheckInterval     int                `json:"check_interval"`
	WaterTimes        []WaterTimePayload `json:"water_times"`
	ExecuteOnlyOnce   bool               `json:"execute_only_once"`
}

type WaterTimePayload struct {
	Weekday   Weekday `json:"weekday"`
	TimeWater string  `json:"time_water"`
}

type PlanPayload struct {
	Name              string             `json:"name"`
	PlanType          PlanType           `json:"plan_type"`
	WaterVolume       int                `json:"water_volume,omitempty"`
	MoistureThreshold *float64           `json:"moisture_threshold,omitempty"`
	CheckInterval     *int               `json:"check_interval,omitempty"`
	WaterTimes        []WaterTimePayload `json:"water_times,omitempty"`
	ExecuteOnlyOnce   bool               `json:"execute_only_once,omitempty"`
}

type ExecutionReport struct {
	Device           string   `json:"device" binding:"required"`
	ExecutionStatus  FlexBool `json:"execution_status"`
	ExecutionMessage string   `json:"execution_message"`
}

func (r ExecutionReport) IsHealthCheck() bool {
	return r.ExecutionMessage == HealthCheckMessage
}

// FlexBool accepts true/false as JSON booleans or strings.
type FlexBool bool

func (b *FlexBool) UnmarshalJSON(data []byte) error {
	var v bool
	if err := json.Unmarshal(data, &v); err == nil {
		*b = FlexBool(v)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("execution_status must be a boolean: %w", err)
	}
	v, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return fmt.Errorf("execution_status must be a boolean: %w", err)
	}
	*b = FlexBool(v)
	return nil
}

type Telemetry struct {
	WaterLevel    *int  `json:"water_level"`
	MoistureLevel *int  `json:"moisture_level"`
	WaterReset    *bool `json:"water_reset"`
}

type EventType string

const (
	EventDeviceUpdated EventType = "device_updated"
	EventDeviceDeleted EventType = "device_deleted"
	EventPlanChanged   EventType = "plan_changed"
	EventStatus        EventType = "status"
)

type DeviceEvent struct {
	Type    EventType `json:"type"`
	OwnerID uint64    `json:"-"`
	Device  Device    `json:"device"`
	Plan    *Plan     `json:"plan,omitempty"`
	Status  *Status   `json:"status,omitempty"`
}
