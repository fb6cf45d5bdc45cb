package model

import (
	"time"

	"gorm.io/gorm"
)

type DeviceStatus string

const (
	DeviceOnline      DeviceStatus = "online"
	DeviceOffline     DeviceStatus = "offline"
	DeviceMaintenance DeviceStatus = "maintenance"
)

type User struct {
	ID       uint64 `json:"id" gorm:"primaryKey"`
	Username string `json:"username" gorm:"uniqueIndex;size:150"`
	Email    string `json:"email"`
}

type Device struct {
	ID                     uint64       `json:"-" gorm:"primaryKey"`
	DeviceID               string       `json:"device_id" gorm:"uniqueIndex;size:64"`
	Name                   string       `json:"name"`
	OwnerID                uint64       `json:"-" gorm:"index"`
	Owner                  User         `json:"-" gorm:"foreignKey:OwnerID;references:ID"`
	WaterLevel             int          `json:"water_level"`
	MoistureLevel          int          `json:"moisture_level"`
	WaterContainerCapacity int          `json:"water_container_capacity"`
	WaterReset             bool         `json:"water_reset"`
	SendEmail              bool         `json:"send_email"`
	IsConnected            bool         `json:"is_connected"`
	Status                 DeviceStatus `json:"status" gorm:"-"`
	CreatedAt              time.Time    `json:"created_at"`

	Plans       []Plan       `json:"-" gorm:"constraint:OnDelete:CASCADE"`
	Statuses    []Status     `json:"-" gorm:"constraint:OnDelete:CASCADE"`
	HealthCheck *HealthCheck `json:"-" gorm:"constraint:OnDelete:CASCADE"`
	Charts      []WaterChart `json:"-" gorm:"constraint:OnDelete:CASCADE"`
}

// DeriveStatus reports maintenance while the container is being refilled.
func (d *Device) DeriveStatus() DeviceStatus {
	switch {
	case !d.IsConnected:
		return DeviceOffline
	case d.WaterReset:
		return DeviceMaintenance
	default:
		return DeviceOnline
	}
}

func (d *Device) AfterFind(tx *gorm.DB) error {
	d.Status = d.DeriveStatus()
	return nil
}

type Status struct {
	StatusID        string    `json:"status_id" gorm:"primaryKey;size:36"`
	DeviceID        uint64    `json:"-" gorm:"index"`
	ExecutionStatus bool      `json:"execution_status"`
	Message         string    `json:"message"`
	StatusTime      time.Time `json:"status_time"`
}

type HealthCheck struct {
	ID         uint64    `json:"-" gorm:"primaryKey"`
	DeviceID   uint64    `json:"-" gorm:"uniqueIndex"`
	StatusTime time.Time `json:"status_time"`
}

const WaterChartCapacity = 10

type WaterChart struct {
	ID            uint64    `json:"-" gorm:"primaryKey"`
	DeviceID      uint64    `json:"-" gorm:"index"`
	WaterLevel    int       `json:"water_level"`
	MoistureLevel int       `json:"moisture_level"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// All lists every persisted model in migration order.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Device{},
		&Plan{},
		&WaterTime{},
		&Status{},
		&HealthCheck{},
		&WaterChart{},
	}
}
