package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/ZamarianPatrick/waterplant-backend/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RecordHealthCheck stamps the device's health record with the current
// time, creating the record on first contact. A device that was marked
// disconnected is reconnected.
func (s *Scheduler) RecordHealthCheck(ctx context.Context, deviceID string) error {
	return s.withDevice(ctx, deviceID, func(tx *gorm.DB, device *model.Device, fx *effects) error {
		if err := s.touchHealthCheck(tx, device); err != nil {
			return err
		}

		if device.IsConnected {
			return nil
		}
		return s.reconnect(tx, device, fx)
	})
}

// OnReconnect marks the device connected and abandons whatever plan was
// running while it was away.
func (s *Scheduler) OnReconnect(ctx context.Context, deviceID string) error {
	return s.withDevice(ctx, deviceID, func(tx *gorm.DB, device *model.Device, fx *effects) error {
		return s.reconnect(tx, device, fx)
	})
}

func (s *Scheduler) touchHealthCheck(tx *gorm.DB, device *model.Device) error {
	now := s.now()

	var hc model.HealthCheck
	err := tx.Where("device_id = ?", device.ID).Order("id").First(&hc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tx.Create(&model.HealthCheck{DeviceID: device.ID, StatusTime: now}).Error
	}
	if err != nil {
		return err
	}

	return tx.Model(&hc).Update("status_time", now).Error
}

func (s *Scheduler) reconnect(tx *gorm.DB, device *model.Device, fx *effects) error {
	if err := tx.Model(&model.Plan{}).
		Where("device_id = ? AND plan_type IN ? AND is_running = ?", device.ID, runnableTypes, true).
		Update("is_running", false).Error; err != nil {
		return err
	}

	if !device.IsConnected {
		device.IsConnected = true
		if err := updateDeviceColumns(tx, device, map[string]interface{}{"is_connected": true}); err != nil {
			return err
		}
	}

	s.log.Info("device connected", zap.String("device", device.DeviceID))
	fx.notify(device, "Device connection", fmt.Sprintf("device: %s connected", device.DeviceID))
	fx.event(model.EventDeviceUpdated, device)
	return nil
}
