package scheduler

import (
	"context"

	"github.com/ZamarianPatrick/waterplant-backend/model"
	"gorm.io/gorm"
)

// RegisterDevice adds a device for owner. New devices start disconnected
// until their first health check arrives.
func (s *Scheduler) RegisterDevice(ctx context.Context, owner *model.User, input model.DeviceInput) (*model.Device, error) {
	if input.DeviceID == "" {
		return nil, invalid("device_id", "must not be empty")
	}
	if input.WaterContainerCapacity <= 0 {
		return nil, invalid("water_container_capacity", "must be greater than 0")
	}

	device := model.Device{
		DeviceID:               input.DeviceID,
		Name:                   input.Name,
		OwnerID:                owner.ID,
		WaterContainerCapacity: input.WaterContainerCapacity,
		SendEmail:              input.SendEmail,
		CreatedAt:              s.now(),
	}
	if device.Name == "" {
		device.Name = input.DeviceID
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.Device{}).Where("device_id = ?", input.DeviceID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return invalid("device_id", "device %s is already registered", input.DeviceID)
		}
		return tx.Omit("Owner").Create(&device).Error
	})
	if err != nil {
		return nil, err
	}

	device.Owner = *owner
	device.Status = device.DeriveStatus()
	s.publish(model.DeviceEvent{Type: model.EventDeviceUpdated, OwnerID: owner.ID, Device: device})
	return &device, nil
}

// ListDevices reconciles connectivity before returning the owner's devices,
// so stale devices are reported offline.
func (s *Scheduler) ListDevices(ctx context.Context, owner *model.User) ([]model.Device, error) {
	var devices []model.Device
	if err := s.db.WithContext(ctx).Where("owner_id = ?", owner.ID).Order("id").Find(&devices).Error; err != nil {
		return nil, err
	}

	return s.ReconcileConnectivity(ctx, devices)
}

func (s *Scheduler) GetDevice(ctx context.Context, owner *model.User, deviceID string) (*model.Device, error) {
	device, err := s.ownedDevice(ctx, owner, deviceID)
	if err != nil {
		return nil, err
	}

	devices, err := s.ReconcileConnectivity(ctx, []model.Device{*device})
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, ErrNotFound
	}
	return &devices[0], nil
}

// UpdateDevice changes the owner editable settings of a device.
func (s *Scheduler) UpdateDevice(ctx context.Context, owner *model.User, deviceID string, input model.DeviceUpdateInput) (*model.Device, error) {
	var updated model.Device
	err := s.withOwnedDevice(ctx, owner, deviceID, func(tx *gorm.DB, device *model.Device, fx *effects) error {
		changes := map[string]interface{}{}
		if input.Name != nil {
			if *input.Name == "" {
				return invalid("name", "must not be empty")
			}
			device.Name = *input.Name
			changes["name"] = device.Name
		}
		if input.WaterContainerCapacity != nil {
			if *input.WaterContainerCapacity <= 0 {
				return invalid("water_container_capacity", "must be greater than 0")
			}
			device.WaterContainerCapacity = *input.WaterContainerCapacity
			changes["water_container_capacity"] = device.WaterContainerCapacity
		}
		if input.WaterReset != nil {
			device.WaterReset = *input.WaterReset
			changes["water_reset"] = device.WaterReset
		}
		if input.SendEmail != nil {
			device.SendEmail = *input.SendEmail
			changes["send_email"] = device.SendEmail
		}

		if len(changes) > 0 {
			if err := updateDeviceColumns(tx, device, changes); err != nil {
				return err
			}
		}

		device.Status = device.DeriveStatus()
		updated = *device
		fx.event(model.EventDeviceUpdated, device)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &updated, nil
}

// DeleteDevice removes the device together with its plans, statuses,
// health record and chart.
func (s *Scheduler) DeleteDevice(ctx context.Context, owner *model.User, deviceID string) error {
	return s.withOwnedDevice(ctx, owner, deviceID, func(tx *gorm.DB, device *model.Device, fx *effects) error {
		plans := tx.Model(&model.Plan{}).Select("id").Where("device_id = ?", device.ID)
		if err := tx.Where("plan_id IN (?)", plans).Delete(&model.WaterTime{}).Error; err != nil {
			return err
		}

		for _, m := range []interface{}{&model.Plan{}, &model.Status{}, &model.HealthCheck{}, &model.WaterChart{}} {
			if err := tx.Where("device_id = ?", device.ID).Delete(m).Error; err != nil {
				return err
			}
		}

		if err := tx.Delete(&model.Device{}, device.ID).Error; err != nil {
			return err
		}

		fx.event(model.EventDeviceDeleted, device)
		return nil
	})
}
