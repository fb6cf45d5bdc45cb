package scheduler

import (
	"context"
	"time"

	"github.com/ZamarianPatrick/waterplant-backend/model"
	"gorm.io/gorm"
)

// RecordTelemetry stores the latest readings of a device and appends them to
// its water chart, keeping only the newest model.WaterChartCapacity samples.
func (s *Scheduler) RecordTelemetry(ctx context.Context, deviceID string, t model.Telemetry) error {
	if err := validatePercentage("water_level", t.WaterLevel); err != nil {
		return err
	}
	if err := validatePercentage("moisture_level", t.MoistureLevel); err != nil {
		return err
	}

	return s.withDevice(ctx, deviceID, func(tx *gorm.DB, device *model.Device, fx *effects) error {
		changes := map[string]interface{}{}
		if t.WaterLevel != nil {
			device.WaterLevel = *t.WaterLevel
			changes["water_level"] = device.WaterLevel
		}
		if t.MoistureLevel != nil {
			device.MoistureLevel = *t.MoistureLevel
			changes["moisture_level"] = device.MoistureLevel
		}
		if t.WaterReset != nil {
			device.WaterReset = *t.WaterReset
			changes["water_reset"] = device.WaterReset
		}
		if len(changes) == 0 {
			return invalid("telemetry", "no readings")
		}

		if err := updateDeviceColumns(tx, device, changes); err != nil {
			return err
		}

		if t.WaterLevel != nil || t.MoistureLevel != nil {
			if err := appendChart(tx, device, s.now()); err != nil {
				return err
			}
		}

		fx.event(model.EventDeviceUpdated, device)
		return nil
	})
}

func appendChart(tx *gorm.DB, device *model.Device, now time.Time) error {
	sample := model.WaterChart{
		DeviceID:      device.ID,
		WaterLevel:    device.WaterLevel,
		MoistureLevel: device.MoistureLevel,
		RecordedAt:    now,
	}
	if err := tx.Create(&sample).Error; err != nil {
		return err
	}

	var ids []uint64
	if err := tx.Model(&model.WaterChart{}).
		Where("device_id = ?", device.ID).
		Order("id DESC").
		Pluck("id", &ids).Error; err != nil {
		return err
	}
	if len(ids) <= model.WaterChartCapacity {
		return nil
	}
	return tx.Where("id IN ?", ids[model.WaterChartCapacity:]).Delete(&model.WaterChart{}).Error
}

// WaterChart returns the retained samples, oldest first.
func (s *Scheduler) WaterChart(ctx context.Context, owner *model.User, deviceID string) ([]model.WaterChart, error) {
	device, err := s.ownedDevice(ctx, owner, deviceID)
	if err != nil {
		return nil, err
	}

	charts := make([]model.WaterChart, 0, model.WaterChartCapacity)
	err = s.db.WithContext(ctx).Where("device_id = ?", device.ID).Order("id").Find(&charts).Error
	return charts, err
}

func validatePercentage(field string, v *int) error {
	if v != nil && (*v < 0 || *v > 100) {
		return invalid(field, "must be between 0 and 100")
	}
	return nil
}
