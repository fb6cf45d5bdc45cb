package scheduler

import (
	"time"

	"github.com/ZamarianPatrick/waterplant-backend/model"
)

const (
	maxMoistureThreshold = 100
	maxCheckInterval     = 24 * 60
	timeWaterLayout      = "15:04"
)

func validateWaterVolume(volume int, device *model.Device) error {
	if volume <= 0 || volume > device.WaterContainerCapacity {
		return invalid("water_volume", "must be greater than 0 and at most the container capacity of %d ml", device.WaterContainerCapacity)
	}
	return nil
}

// validateMoistureThreshold takes a percentage and returns the stored
// fraction.
func validateMoistureThreshold(percent float64) (float64, error) {
	if percent <= 0 || percent > maxMoistureThreshold {
		return 0, invalid("moisture_threshold", "must be greater than 0 and at most %d", maxMoistureThreshold)
	}
	return percent / 100, nil
}

func validateCheckInterval(minutes int) error {
	if minutes <= 0 || minutes > maxCheckInterval {
		return invalid("check_interval", "must be greater than 0 and at most %d minutes", maxCheckInterval)
	}
	return nil
}

func validateWaterTimes(entries []model.WaterTimePayload) ([]model.WaterTime, error) {
	if len(entries) == 0 {
		return nil, invalid("water_times", "at least one weekday and time is required")
	}

	times := make([]model.WaterTime, len(entries))
	for i, e := range entries {
		if !e.Weekday.Valid() {
			return nil, invalid("water_times", "unknown weekday %d", uint8(e.Weekday))
		}
		if _, err := time.Parse(timeWaterLayout, e.TimeWater); err != nil {
			return nil, invalid("water_times", "time_water %q must look like HH:MM", e.TimeWater)
		}
		times[i] = model.WaterTime{Weekday: e.Weekday, TimeWater: e.TimeWater}
	}
	return times, nil
}

func validateExecuteOnlyOnce(once bool, entries int) error {
	if once && entries > 1 {
		return invalid("execute_only_once", "only a plan with a single weekday and time can execute once")
	}
	return nil
}

func requireType(field string, plan *model.Plan, planType model.PlanType) error {
	if plan.PlanType != planType {
		return invalid(field, "only applies to %s plans", planType)
	}
	return nil
}
