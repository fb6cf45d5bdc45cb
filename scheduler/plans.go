package scheduler

import (
	"context"

	"github.com/ZamarianPatrick/waterplant-backend/model"
	"gorm.io/gorm"
)

// CreatePlan validates input against the device and stores a pending plan.
func (s *Scheduler) CreatePlan(ctx context.Context, owner *model.User, deviceID string, input model.PlanInput) (*model.Plan, error) {
	if input.Name == "" {
		return nil, invalid("name", "must not be empty")
	}
	if !input.PlanType.Valid() {
		return nil, invalid("plan_type", "must be one of %s, %s or %s", model.PlanBasic, model.PlanMoisture, model.PlanTime)
	}

	var plan *model.Plan
	err := s.withOwnedDevice(ctx, owner, deviceID, func(tx *gorm.DB, device *model.Device, fx *effects) error {
		p, err := buildPlan(device, input)
		if err != nil {
			return err
		}

		taken, err := planNameTaken(tx, device.ID, p.Name)
		if err != nil {
			return err
		}
		if taken {
			return invalid("name", "a plan named %q already exists on this device", p.Name)
		}

		p.CreatedAt = s.now()
		if err := tx.Create(p).Error; err != nil {
			return err
		}

		plan = p
		fx.event(model.EventPlanChanged, device).Plan = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	return plan, nil
}

func buildPlan(device *model.Device, input model.PlanInput) (*model.Plan, error) {
	if err := validateWaterVolume(input.WaterVolume, device); err != nil {
		return nil, err
	}

	plan := &model.Plan{
		DeviceID:    device.ID,
		Name:        input.Name,
		PlanType:    input.PlanType,
		WaterVolume: input.WaterVolume,
	}

	switch input.PlanType {
	case model.PlanMoisture:
		threshold, err := validateMoistureThreshold(input.MoistureThreshold)
		if err != nil {
			return nil, err
		}
		if err := validateCheckInterval(input.CheckInterval); err != nil {
			return nil, err
		}
		plan.MoistureThreshold = threshold
		plan.CheckInterval = input.CheckInterval

	case model.PlanTime:
		times, err := validateWaterTimes(input.WaterTimes)
		if err != nil {
			return nil, err
		}
		if err := validateExecuteOnlyOnce(input.ExecuteOnlyOnce, len(times)); err != nil {
			return nil, err
		}
		plan.WaterTimes = times
		plan.ExecuteOnlyOnce = input.ExecuteOnlyOnce
	}

	return plan, nil
}

// ListPlans returns the plans of the device, oldest first.
func (s *Scheduler) ListPlans(ctx context.Context, owner *model.User, deviceID string) ([]model.Plan, error) {
	device, err := s.ownedDevice(ctx, owner, deviceID)
	if err != nil {
		return nil, err
	}

	plans := make([]model.Plan, 0)
	err = s.db.WithContext(ctx).
		Preload("WaterTimes", orderByID).
		Where("device_id = ?", device.ID).
		Order("id").
		Find(&plans).Error
	return plans, err
}

func (s *Scheduler) GetPlan(ctx context.Context, owner *model.User, deviceID, name string) (*model.Plan, error) {
	device, err := s.ownedDevice(ctx, owner, deviceID)
	if err != nil {
		return nil, err
	}
	return findPlan(s.db.WithContext(ctx), device.ID, name)
}

// DeletePlan removes the plan and its schedule.
func (s *Scheduler) DeletePlan(ctx context.Context, owner *model.User, deviceID, name string) error {
	return s.withOwnedDevice(ctx, owner, deviceID, func(tx *gorm.DB, device *model.Device, fx *effects) error {
		plan, err := findPlan(tx, device.ID, name)
		if err != nil {
			return err
		}

		if err := tx.Where("plan_id = ?", plan.ID).Delete(&model.WaterTime{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&model.Plan{}, plan.ID).Error; err != nil {
			return err
		}

		fx.event(model.EventPlanChanged, device).Plan = plan
		return nil
	})
}

// ResetPlan makes a plan pending again, so the device receives it on its
// next poll.
func (s *Scheduler) ResetPlan(ctx context.Context, owner *model.User, deviceID, name string) (*model.Plan, error) {
	var plan *model.Plan
	err := s.withOwnedDevice(ctx, owner, deviceID, func(tx *gorm.DB, device *model.Device, fx *effects) error {
		p, err := findPlan(tx, device.ID, name)
		if err != nil {
			return err
		}

		p.HasBeenExecuted = false
		p.IsRunning = false
		p.Stopped = false
		if err := updatePlanColumns(tx, p, map[string]interface{}{
			"has_been_executed": false,
			"is_running":        false,
			"stopped":           false,
		}); err != nil {
			return err
		}

		plan = p
		fx.event(model.EventPlanChanged, device).Plan = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	return plan, nil
}
