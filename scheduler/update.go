package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ZamarianPatrick/waterplant-backend/model"
	"gorm.io/gorm"
)

type fieldUpdater func(tx *gorm.DB, device *model.Device, plan *model.Plan, raw json.RawMessage, fields map[string]json.RawMessage) error

// planFields lists the updatable fields in the order they are applied.
// The stop transition and renames come last so that value updates in the
// same request still address the plan by its old state and name.
var planFields = []struct {
	name  string
	apply fieldUpdater
}{
	{"water_volume", updateWaterVolume},
	{"moisture_threshold", updateMoistureThreshold},
	{"check_interval", updateCheckInterval},
	{"water_times", updateWaterTimes},
	{"execute_only_once", updateExecuteOnlyOnce},
	{"plan_type", updatePlanType},
	{"name", updateName},
}

func isPlanField(name string) bool {
	for _, f := range planFields {
		if f.name == name {
			return true
		}
	}
	return false
}

// UpdatePlan validates and applies each field on its own: a field that
// fails validation aborts the request but fields applied before it stay
// saved. Unknown field names reject the request before anything changes.
func (s *Scheduler) UpdatePlan(ctx context.Context, owner *model.User, deviceID, planName string, fields map[string]json.RawMessage) (*model.Plan, error) {
	if len(fields) == 0 {
		return nil, invalid("fields", "no fields to update")
	}
	for name := range fields {
		if !isPlanField(name) {
			return nil, invalid(name, "unknown field")
		}
	}

	var plan *model.Plan
	for _, f := range planFields {
		raw, ok := fields[f.name]
		if !ok {
			continue
		}

		apply := f.apply
		err := s.withOwnedDevice(ctx, owner, deviceID, func(tx *gorm.DB, device *model.Device, fx *effects) error {
			p, err := findPlan(tx, device.ID, planName)
			if err != nil {
				return err
			}

			if err := apply(tx, device, p, raw, fields); err != nil {
				return err
			}

			plan = p
			fx.event(model.EventPlanChanged, device).Plan = p
			return nil
		})
		if err != nil {
			return nil, err
		}

		planName = plan.Name
	}

	return plan, nil
}

func findPlan(tx *gorm.DB, deviceID uint64, name string) (*model.Plan, error) {
	var plan model.Plan
	err := tx.Preload("WaterTimes", orderByID).
		Where("device_id = ? AND name = ?", deviceID, name).
		First(&plan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("plan %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// updatePlanType only knows the stop transition: a running moisture or time
// plan becomes a stop marker that is handed to the device on its next poll.
func updatePlanType(tx *gorm.DB, device *model.Device, plan *model.Plan, raw json.RawMessage, fields map[string]json.RawMessage) error {
	var planType model.PlanType
	if err := json.Unmarshal(raw, &planType); err != nil {
		return invalid("plan_type", "must be a string")
	}
	if planType != model.PlanStop {
		return invalid("plan_type", "can only be changed to %s", model.PlanStop)
	}

	if !plan.PlanType.Runnable() || !plan.IsRunning {
		return fmt.Errorf("plan %s is not currently running: %w", plan.Name, ErrForbidden)
	}

	plan.Stopped = true
	plan.IsRunning = false
	plan.HasBeenExecuted = false
	return updatePlanColumns(tx, plan, map[string]interface{}{
		"stopped":           true,
		"is_running":        false,
		"has_been_executed": false,
	})
}

func updateWaterVolume(tx *gorm.DB, device *model.Device, plan *model.Plan, raw json.RawMessage, fields map[string]json.RawMessage) error {
	var volume int
	if err := json.Unmarshal(raw, &volume); err != nil {
		return invalid("water_volume", "must be an integer")
	}
	if err := validateWaterVolume(volume, device); err != nil {
		return err
	}

	plan.WaterVolume = volume
	return updatePlanColumns(tx, plan, map[string]interface{}{"water_volume": volume})
}

func updateMoistureThreshold(tx *gorm.DB, device *model.Device, plan *model.Plan, raw json.RawMessage, fields map[string]json.RawMessage) error {
	if err := requireType("moisture_threshold", plan, model.PlanMoisture); err != nil {
		return err
	}

	var percent float64
	if err := json.Unmarshal(raw, &percent); err != nil {
		return invalid("moisture_threshold", "must be a number")
	}
	threshold, err := validateMoistureThreshold(percent)
	if err != nil {
		return err
	}

	plan.MoistureThreshold = threshold
	return updatePlanColumns(tx, plan, map[string]interface{}{"moisture_threshold": threshold})
}

func updateCheckInterval(tx *gorm.DB, device *model.Device, plan *model.Plan, raw json.RawMessage, fields map[string]json.RawMessage) error {
	if err := requireType("check_interval", plan, model.PlanMoisture); err != nil {
		return err
	}

	var minutes int
	if err := json.Unmarshal(raw, &minutes); err != nil {
		return invalid("check_interval", "must be an integer")
	}
	if err := validateCheckInterval(minutes); err != nil {
		return err
	}

	plan.CheckInterval = minutes
	return updatePlanColumns(tx, plan, map[string]interface{}{"check_interval": minutes})
}

// updateWaterTimes replaces the whole schedule.
func updateWaterTimes(tx *gorm.DB, device *model.Device, plan *model.Plan, raw json.RawMessage, fields map[string]json.RawMessage) error {
	if err := requireType("water_times", plan, model.PlanTime); err != nil {
		return err
	}

	var entries []model.WaterTimePayload
	if err := json.Unmarshal(raw, &entries); err != nil {
		return invalid("water_times", "%v", err)
	}
	times, err := validateWaterTimes(entries)
	if err != nil {
		return err
	}

	once := plan.ExecuteOnlyOnce
	if onceRaw, ok := fields["execute_only_once"]; ok {
		if err := json.Unmarshal(onceRaw, &once); err != nil {
			return invalid("execute_only_once", "must be a boolean")
		}
	}
	if err := validateExecuteOnlyOnce(once, len(times)); err != nil {
		return err
	}

	if err := tx.Where("plan_id = ?", plan.ID).Delete(&model.WaterTime{}).Error; err != nil {
		return err
	}
	for i := range times {
		times[i].PlanID = plan.ID
	}
	if err := tx.Create(&times).Error; err != nil {
		return err
	}

	plan.WaterTimes = times
	return nil
}

func updateExecuteOnlyOnce(tx *gorm.DB, device *model.Device, plan *model.Plan, raw json.RawMessage, fields map[string]json.RawMessage) error {
	if err := requireType("execute_only_once", plan, model.PlanTime); err != nil {
		return err
	}

	var once bool
	if err := json.Unmarshal(raw, &once); err != nil {
		return invalid("execute_only_once", "must be a boolean")
	}

	entries := len(plan.WaterTimes)
	if timesRaw, ok := fields["water_times"]; ok {
		var requested []json.RawMessage
		if json.Unmarshal(timesRaw, &requested) == nil && len(requested) > entries {
			entries = len(requested)
		}
	}
	if err := validateExecuteOnlyOnce(once, entries); err != nil {
		return err
	}

	plan.ExecuteOnlyOnce = once
	return updatePlanColumns(tx, plan, map[string]interface{}{"execute_only_once": once})
}

func updateName(tx *gorm.DB, device *model.Device, plan *model.Plan, raw json.RawMessage, fields map[string]json.RawMessage) error {
	var name string
	if err := json.Unmarshal(raw, &name); err != nil || name == "" {
		return invalid("name", "must be a non empty string")
	}
	if name == plan.Name {
		return nil
	}

	taken, err := planNameTaken(tx, device.ID, name)
	if err != nil {
		return err
	}
	if taken {
		return invalid("name", "a plan named %q already exists on this device", name)
	}

	plan.Name = name
	return updatePlanColumns(tx, plan, map[string]interface{}{"name": name})
}

func planNameTaken(tx *gorm.DB, deviceID uint64, name string) (bool, error) {
	var count int64
	err := tx.Model(&model.Plan{}).Where("device_id = ? AND name = ?", deviceID, name).Count(&count).Error
	return count > 0, err
}
