package scheduler

import (
	"context"
	"errors"

	"github.com/ZamarianPatrick/waterplant-backend/model"
	"gorm.io/gorm"
)

// selectionOrder is the precedence between plan types: the first type with
// a pending plan wins, even when other types have older pending plans.
var selectionOrder = []model.PlanType{model.PlanBasic, model.PlanMoisture, model.PlanTime}

var runnableTypes = []model.PlanType{model.PlanMoisture, model.PlanTime}

// SelectNextPlan hands out the next pending plan of the device, or nil when
// nothing is pending.
//
// A plan is pending while it has not been executed and is not running.
// Within a type the oldest plan wins. Selecting a moisture or time plan
// makes it the only running plan of the device.
func (s *Scheduler) SelectNextPlan(ctx context.Context, deviceID string) (*model.PlanPayload, error) {
	var payload *model.PlanPayload

	err := s.withDevice(ctx, deviceID, func(tx *gorm.DB, device *model.Device, fx *effects) error {
		plan, err := nextPlan(tx, device.ID)
		if err != nil || plan == nil {
			return err
		}

		if err := markSelected(tx, plan); err != nil {
			return err
		}

		p := plan.Payload()
		payload = &p
		fx.event(model.EventPlanChanged, device).Plan = plan
		return nil
	})
	if err != nil {
		return nil, err
	}

	return payload, nil
}

func nextPlan(tx *gorm.DB, deviceID uint64) (*model.Plan, error) {
	for _, planType := range selectionOrder {
		var plan model.Plan
		err := tx.Preload("WaterTimes", orderByID).
			Where("device_id = ? AND plan_type = ? AND has_been_executed = ? AND is_running = ?", deviceID, planType, false, false).
			Order("id").
			First(&plan).Error
		if err == nil {
			return &plan, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

func markSelected(tx *gorm.DB, plan *model.Plan) error {
	// Basic plans fire once and stop markers only cancel; neither holds
	// the device.
	if plan.Stopped || !plan.PlanType.Runnable() {
		plan.HasBeenExecuted = true
		return updatePlanColumns(tx, plan, map[string]interface{}{"has_been_executed": true})
	}

	if err := clearRunning(tx, plan.DeviceID, plan.ID); err != nil {
		return err
	}

	plan.HasBeenExecuted = true
	plan.IsRunning = true
	return updatePlanColumns(tx, plan, map[string]interface{}{
		"has_been_executed": true,
		"is_running":        true,
	})
}

// clearRunning resets is_running on every moisture and time plan of the
// device except keepID.
func clearRunning(tx *gorm.DB, deviceID uint64, keepID uint64) error {
	return tx.Model(&model.Plan{}).
		Where("device_id = ? AND plan_type IN ? AND id <> ? AND is_running = ?", deviceID, runnableTypes, keepID, true).
		Update("is_running", false).Error
}

func orderByID(db *gorm.DB) *gorm.DB {
	return db.Order("id")
}
