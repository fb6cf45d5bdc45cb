package model

import "time"

type PlanType string

const (
	PlanBasic    PlanType = "basic"
	PlanMoisture PlanType = "moisture"
	PlanTime     PlanType = "time_based"

	// PlanStop is only ever sent on the wire. A stopped plan keeps its own
	// type and carries Stopped=true.
	PlanStop PlanType = "default_stop"
)

func (t PlanType) Valid() bool {
	switch t {
	case PlanBasic, PlanMoisture, PlanTime:
		return true
	}
	return false
}

// Runnable plans hold the device while installed; basic plans fire once.
func (t PlanType) Runnable() bool {
	return t == PlanMoisture || t == PlanTime
}

type Plan struct {
	ID                uint64      `json:"-" gorm:"primaryKey"`
	DeviceID          uint64      `json:"-" gorm:"uniqueIndex:idx_plan_device_name"`
	Name              string      `json:"name" gorm:"uniqueIndex:idx_plan_device_name;size:128"`
	PlanType          PlanType    `json:"plan_type" gorm:"size:16;index"`
	Stopped           bool        `json:"stopped"`
	WaterVolume       int         `json:"water_volume"`
	HasBeenExecuted   bool        `json:"has_been_executed"`
	IsRunning         bool        `json:"is_running"`
	MoistureThreshold float64     `json:"moisture_threshold,omitempty"`
	CheckInterval     int         `json:"check_interval,omitempty"`
	ExecuteOnlyOnce   bool        `json:"execute_only_once,omitempty"`
	WaterTimes        []WaterTime `json:"water_times,omitempty" gorm:"constraint:OnDelete:CASCADE"`
	CreatedAt         time.Time   `json:"created_at"`
}

type WaterTime struct {
	ID        uint64  `json:"-" gorm:"primaryKey"`
	PlanID    uint64  `json:"-" gorm:"index"`
	Weekday   Weekday `json:"weekday"`
	TimeWater string  `json:"time_water" gorm:"size:5"`
}

// Days collects the weekdays the plan waters on.
func (p *Plan) Days() WeekdaySet {
	set := NewWeekdaySet()
	for _, wt := range p.WaterTimes {
		set.Add(wt.Weekday)
	}
	return set
}

// WireType is the plan_type a device receives.
func (p *Plan) WireType() PlanType {
	if p.Stopped {
		return PlanStop
	}
	return p.PlanType
}

// Payload renders the device facing view of the plan. Bookkeeping fields
// (device, has_been_executed, is_running) never leave the server.
func (p *Plan) Payload() PlanPayload {
	payload := PlanPayload{
		Name:     p.Name,
		PlanType: p.WireType(),
	}
	if p.Stopped {
		return payload
	}

	payload.WaterVolume = p.WaterVolume

	switch p.PlanType {
	case PlanMoisture:
		threshold := p.MoistureThreshold
		interval := p.CheckInterval
		payload.MoistureThreshold = &threshold
		payload.CheckInterval = &interval
	case PlanTime:
		payload.WaterTimes = make([]WaterTimePayload, len(p.WaterTimes))
		for i, wt := range p.WaterTimes {
			payload.WaterTimes[i] = WaterTimePayload{Weekday: wt.Weekday, TimeWater: wt.TimeWater}
		}
		payload.ExecuteOnlyOnce = p.ExecuteOnlyOnce
	}

	return payload
}
