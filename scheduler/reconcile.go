package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZamarianPatrick/waterplant-backend/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReconcileConnectivity marks connected devices whose last health check is
// at least the staleness window old as disconnected. Devices that are
// already disconnected are returned untouched.
func (s *Scheduler) ReconcileConnectivity(ctx context.Context, devices []model.Device) ([]model.Device, error) {
	cutoff := s.now().Add(-s.staleAfter)
	updated := make([]model.Device, 0, len(devices))

	for _, d := range devices {
		if !d.IsConnected {
			updated = append(updated, d)
			continue
		}

		var current model.Device
		err := s.withDevice(ctx, d.DeviceID, func(tx *gorm.DB, device *model.Device, fx *effects) error {
			if device.IsConnected {
				stale, err := healthCheckStale(tx, device.ID, cutoff)
				if err != nil {
					return err
				}
				if stale {
					if err := s.disconnect(tx, device, fx); err != nil {
						return err
					}
				}
			}
			current = *device
			return nil
		})
		switch {
		case errors.Is(err, ErrConflict):
			// Someone is serving the device right now, so it is alive.
			s.log.Debug("device busy, skipping reconciliation", zap.String("device", d.DeviceID))
			updated = append(updated, d)
			continue
		case errors.Is(err, ErrNotFound):
			continue
		case err != nil:
			return nil, err
		}

		current.Status = current.DeriveStatus()
		updated = append(updated, current)
	}

	return updated, nil
}

func healthCheckStale(tx *gorm.DB, deviceID uint64, cutoff time.Time) (bool, error) {
	var hc model.HealthCheck
	err := tx.Where("device_id = ?", deviceID).Order("id").First(&hc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return !hc.StatusTime.After(cutoff), nil
}

func (s *Scheduler) disconnect(tx *gorm.DB, device *model.Device, fx *effects) error {
	device.IsConnected = false
	if err := updateDeviceColumns(tx, device, map[string]interface{}{"is_connected": false}); err != nil {
		return err
	}

	s.log.Info("device disconnected", zap.String("device", device.DeviceID))
	fx.notify(device, "Device connection", fmt.Sprintf("device: %s disconnected", device.DeviceID))
	fx.event(model.EventDeviceUpdated, device)
	return nil
}

// Monitor reconciles every connected device each interval until ctx is done.
func (s *Scheduler) Monitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = s.staleAfter / 3
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.reconcileAll(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("reconciliation failed", zap.Error(err))
			}
		}
	}
}

func (s *Scheduler) reconcileAll(ctx context.Context) error {
	var devices []model.Device
	if err := s.db.WithContext(ctx).Where("is_connected = ?", true).Order("id").Find(&devices).Error; err != nil {
		return err
	}

	_, err := s.ReconcileConnectivity(ctx, devices)
	return err
}
