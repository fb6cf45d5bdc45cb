package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ZamarianPatrick/waterplant-backend/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fields(t *testing.T, values map[string]interface{}) map[string]json.RawMessage {
	t.Helper()
	out := make(map[string]json.RawMessage, len(values))
	for k, v := range values {
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		out[k] = raw
	}
	return out
}

func requireValidation(t *testing.T, err error, field string) {
	t.Helper()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected validation error, got %v", err)
	assert.Equal(t, field, verr.Field)
}

func TestStopRejectedWhenNotRunning(t *testing.T) {
	f := newFixture(t)
	f.device(t, "D1", false)
	f.plan(t, "D1", moisturePlan("p2"))

	_, err := f.s.UpdatePlan(context.Background(), f.owner, "D1", "p2", fields(t, map[string]interface{}{
		"plan_type": "default_stop",
	}))
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Contains(t, err.Error(), "not currently running")
}

func TestStopRunningPlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.device(t, "D1", false)
	f.plan(t, "D1", moisturePlan("p2"))

	_, err := f.s.SelectNextPlan(ctx, "D1")
	require.NoError(t, err)

	plan, err := f.s.UpdatePlan(ctx, f.owner, "D1", "p2", fields(t, map[string]interface{}{
		"plan_type": "default_stop",
	}))
	require.NoError(t, err)
	assert.True(t, plan.Stopped)
	assert.Equal(t, model.PlanMoisture, plan.PlanType)
	assert.Zero(t, f.runningCount(t, d))

	payload, err := f.s.SelectNextPlan(ctx, "D1")
	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.Equal(t, model.PlanPayload{Name: "p2", PlanType: model.PlanStop}, *payload)
	assert.Zero(t, f.runningCount(t, d))

	payload, err = f.s.SelectNextPlan(ctx, "D1")
	require.NoError(t, err)
	assert.Nil(t, payload)
}

func TestStopDoesNotReleaseOtherPlans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.device(t, "D1", false)
	f.plan(t, "D1", moisturePlan("m1"))
	timed := f.plan(t, "D1", timePlan("t1", false))

	_, err := f.s.SelectNextPlan(ctx, "D1")
	require.NoError(t, err)
	_, err = f.s.UpdatePlan(ctx, f.owner, "D1", "m1", fields(t, map[string]interface{}{"plan_type": "default_stop"}))
	require.NoError(t, err)

	_, err = f.s.SelectNextPlan(ctx, "D1")
	require.NoError(t, err)
	payload, err := f.s.SelectNextPlan(ctx, "D1")
	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.Equal(t, "t1", payload.Name)
	assert.True(t, f.reload(t, timed).IsRunning)
}

func TestUpdatePlanRejectsOnlyStopTransition(t *testing.T) {
	f := newFixture(t)
	f.device(t, "D1", false)
	f.plan(t, "D1", moisturePlan("m1"))

	_, err := f.s.UpdatePlan(context.Background(), f.owner, "D1", "m1", fields(t, map[string]interface{}{
		"plan_type": "basic",
	}))
	requireValidation(t, err, "plan_type")
}

func TestUpdateMoistureThresholdOutOfBounds(t *testing.T) {
	f := newFixture(t)
	f.device(t, "D1", false)
	m := f.plan(t, "D1", moisturePlan("m1"))

	_, err := f.s.UpdatePlan(context.Background(), f.owner, "D1", "m1", fields(t, map[string]interface{}{
		"moisture_threshold": 150,
	}))
	requireValidation(t, err, "moisture_threshold")
	assert.InDelta(t, 0.4, f.reload(t, m).MoistureThreshold, 1e-9)
}

func TestUpdatePlanUnknownField(t *testing.T) {
	f := newFixture(t)
	f.device(t, "D1", false)
	m := f.plan(t, "D1", moisturePlan("m1"))

	_, err := f.s.UpdatePlan(context.Background(), f.owner, "D1", "m1", fields(t, map[string]interface{}{
		"water_volume": 300,
		"colour":       "green",
	}))
	requireValidation(t, err, "colour")
	assert.Equal(t, 150, f.reload(t, m).WaterVolume)
}

func TestUpdatePlanKeepsEarlierFields(t *testing.T) {
	f := newFixture(t)
	f.device(t, "D1", false)
	m := f.plan(t, "D1", moisturePlan("m1"))

	_, err := f.s.UpdatePlan(context.Background(), f.owner, "D1", "m1", fields(t, map[string]interface{}{
		"water_volume":   300,
		"check_interval": 0,
	}))
	requireValidation(t, err, "check_interval")

	stored := f.reload(t, m)
	assert.Equal(t, 300, stored.WaterVolume)
	assert.Equal(t, 30, stored.CheckInterval)
}

func TestUpdatePlanValues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.device(t, "D1", false)
	f.plan(t, "D1", moisturePlan("m1"))

	plan, err := f.s.UpdatePlan(ctx, f.owner, "D1", "m1", fields(t, map[string]interface{}{
		"water_volume":       500,
		"moisture_threshold": 25,
		"check_interval":     60,
		"name":               "balcony",
	}))
	require.NoError(t, err)
	assert.Equal(t, "balcony", plan.Name)

	stored, err := f.s.GetPlan(ctx, f.owner, "D1", "balcony")
	require.NoError(t, err)
	assert.Equal(t, 500, stored.WaterVolume)
	assert.InDelta(t, 0.25, stored.MoistureThreshold, 1e-9)
	assert.Equal(t, 60, stored.CheckInterval)

	_, err = f.s.GetPlan(ctx, f.owner, "D1", "m1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdatePlanWaterVolumeBound(t *testing.T) {
	f := newFixture(t)
	f.device(t, "D1", false)
	f.plan(t, "D1", basicPlan("b1", 100))

	_, err := f.s.UpdatePlan(context.Background(), f.owner, "D1", "b1", fields(t, map[string]interface{}{
		"water_volume": 1001,
	}))
	requireValidation(t, err, "water_volume")
}

func TestUpdatePlanWaterTimes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.device(t, "D1", false)
	f.plan(t, "D1", timePlan("t1", true))

	_, err := f.s.UpdatePlan(ctx, f.owner, "D1", "t1", fields(t, map[string]interface{}{
		"water_times": []map[string]interface{}{
			{"weekday": "Monday", "time_water": "07:00"},
			{"weekday": 64, "time_water": "20:30"},
		},
	}))
	requireValidation(t, err, "execute_only_once")

	plan, err := f.s.UpdatePlan(ctx, f.owner, "D1", "t1", fields(t, map[string]interface{}{
		"execute_only_once": false,
		"water_times": []map[string]interface{}{
			{"weekday": "Monday", "time_water": "07:00"},
			{"weekday": 64, "time_water": "20:30"},
		},
	}))
	require.NoError(t, err)
	assert.False(t, plan.ExecuteOnlyOnce)

	stored, err := f.s.GetPlan(ctx, f.owner, "D1", "t1")
	require.NoError(t, err)
	require.Len(t, stored.WaterTimes, 2)
	assert.Equal(t, []model.Weekday{model.Monday, model.Sunday}, stored.Days().Days())
}

func TestUpdatePlanWaterTimesMalformedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.device(t, "D1", false)
	f.plan(t, "D1", timePlan("t1", false))

	_, err := f.s.UpdatePlan(ctx, f.owner, "D1", "t1", fields(t, map[string]interface{}{
		"execute_only_once": "yes",
		"water_times": []map[string]interface{}{
			{"weekday": "Monday", "time_water": "07:00"},
			{"weekday": "Tuesday", "time_water": "07:00"},
		},
	}))
	requireValidation(t, err, "execute_only_once")

	stored, err := f.s.GetPlan(ctx, f.owner, "D1", "t1")
	require.NoError(t, err)
	require.Len(t, stored.WaterTimes, 1)
	assert.Equal(t, []model.Weekday{model.Friday}, stored.Days().Days())
}

func TestUpdatePlanFieldOfOtherType(t *testing.T) {
	f := newFixture(t)
	f.device(t, "D1", false)
	f.plan(t, "D1", basicPlan("b1", 100))

	_, err := f.s.UpdatePlan(context.Background(), f.owner, "D1", "b1", fields(t, map[string]interface{}{
		"check_interval": 10,
	}))
	requireValidation(t, err, "check_interval")
}

func TestUpdatePlanRenameConflict(t *testing.T) {
	f := newFixture(t)
	f.device(t, "D1", false)
	f.plan(t, "D1", basicPlan("b1", 100))
	f.plan(t, "D1", basicPlan("b2", 100))

	_, err := f.s.UpdatePlan(context.Background(), f.owner, "D1", "b1", fields(t, map[string]interface{}{
		"name": "b2",
	}))
	requireValidation(t, err, "name")
}

func TestUpdatePlanUnknownPlan(t *testing.T) {
	f := newFixture(t)
	f.device(t, "D1", false)

	_, err := f.s.UpdatePlan(context.Background(), f.owner, "D1", "ghost", fields(t, map[string]interface{}{
		"water_volume": 10,
	}))
	assert.ErrorIs(t, err, ErrNotFound)
}
