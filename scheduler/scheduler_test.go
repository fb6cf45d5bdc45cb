package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ZamarianPatrick/waterplant-backend/config"
	"github.com/ZamarianPatrick/waterplant-backend/lock"
	"github.com/ZamarianPatrick/waterplant-backend/model"
	"github.com/ZamarianPatrick/waterplant-backend/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type testClock struct {
	mutex sync.Mutex
	t     time.Time
}

func (c *testClock) now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.t = c.t.Add(d)
}

type sentMessage struct {
	to, subject, body string
}

type recordingNotifier struct {
	mutex    sync.Mutex
	messages []sentMessage
}

func (n *recordingNotifier) Notify(to, subject, body string) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.messages = append(n.messages, sentMessage{to: to, subject: subject, body: body})
}

func (n *recordingNotifier) sent() []sentMessage {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return append([]sentMessage(nil), n.messages...)
}

type fixture struct {
	s        *Scheduler
	db       *gorm.DB
	clock    *testClock
	notifier *recordingNotifier
	locks    lock.Locker
	owner    *model.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := zaptest.NewLogger(t)
	db, err := store.Open(config.Database{
		Driver: "sqlite",
		Path:   "file:" + uuid.NewString() + "?mode=memory&cache=shared",
	}, log)
	require.NoError(t, err)

	f := &fixture{
		db:       db,
		clock:    &testClock{t: time.Date(2024, time.March, 8, 19, 47, 0, 0, time.UTC)},
		notifier: &recordingNotifier{},
		locks:    lock.NewMemory(50 * time.Millisecond),
	}
	f.s = New(db, f.locks, f.notifier, log, WithClock(f.clock.now))

	f.owner, err = f.s.EnsureOwner(context.Background(), "ana", "ana@example.com")
	require.NoError(t, err)
	return f
}

func (f *fixture) device(t *testing.T, deviceID string, sendEmail bool) *model.Device {
	t.Helper()
	d, err := f.s.RegisterDevice(context.Background(), f.owner, model.DeviceInput{
		DeviceID:               deviceID,
		WaterContainerCapacity: 1000,
		SendEmail:              sendEmail,
	})
	require.NoError(t, err)
	return d
}

func (f *fixture) plan(t *testing.T, deviceID string, input model.PlanInput) *model.Plan {
	t.Helper()
	p, err := f.s.CreatePlan(context.Background(), f.owner, deviceID, input)
	require.NoError(t, err)
	return p
}

func (f *fixture) reload(t *testing.T, plan *model.Plan) model.Plan {
	t.Helper()
	var p model.Plan
	require.NoError(t, f.db.First(&p, plan.ID).Error)
	return p
}

func (f *fixture) runningCount(t *testing.T, d *model.Device) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&model.Plan{}).Where("device_id = ? AND is_running = ?", d.ID, true).Count(&n).Error)
	return n
}

func basicPlan(name string, volume int) model.PlanInput {
	return model.PlanInput{Name: name, PlanType: model.PlanBasic, WaterVolume: volume}
}

func moisturePlan(name string) model.PlanInput {
	return model.PlanInput{Name: name, PlanType: model.PlanMoisture, WaterVolume: 150, MoistureThreshold: 40, CheckInterval: 30}
}

func timePlan(name string, once bool) model.PlanInput {
	return model.PlanInput{
		Name:            name,
		PlanType:        model.PlanTime,
		WaterVolume:     250,
		WaterTimes:      []model.WaterTimePayload{{Weekday: model.Friday, TimeWater: "19:47"}},
		ExecuteOnlyOnce: once,
	}
}

func TestSelectNextPlanPrefersBasic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.device(t, "D1", false)

	moisture := f.plan(t, "D1", moisturePlan("m1"))
	basic := f.plan(t, "D1", basicPlan("p1", 200))

	payload, err := f.s.SelectNextPlan(ctx, "D1")
	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.Equal(t, "p1", payload.Name)
	assert.Equal(t, model.PlanBasic, payload.PlanType)
	assert.Equal(t, 200, payload.WaterVolume)
	assert.Nil(t, payload.MoistureThreshold)

	assert.True(t, f.reload(t, basic).HasBeenExecuted)
	untouched := f.reload(t, moisture)
	assert.False(t, untouched.HasBeenExecuted)
	assert.False(t, untouched.IsRunning)
}

func TestSelectNextPlanNothingPending(t *testing.T) {
	f := newFixture(t)
	f.device(t, "D2", false)

	payload, err := f.s.SelectNextPlan(context.Background(), "D2")
	require.NoError(t, err)
	assert.Nil(t, payload)
}

func TestSelectNextPlanUnknownDevice(t *testing.T) {
	f := newFixture(t)

	_, err := f.s.SelectNextPlan(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSelectNextPlanOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.device(t, "D1", false)

	f.plan(t, "D1", timePlan("t1", false))
	f.plan(t, "D1", moisturePlan("m1"))
	f.plan(t, "D1", basicPlan("b1", 100))
	f.plan(t, "D1", basicPlan("b2", 100))

	var got []string
	for {
		payload, err := f.s.SelectNextPlan(ctx, "D1")
		require.NoError(t, err)
		if payload == nil {
			break
		}
		got = append(got, payload.Name)
		assert.LessOrEqual(t, f.runningCount(t, d), int64(1))
	}

	assert.Equal(t, []string{"b1", "b2", "m1", "t1"}, got)
	assert.Equal(t, int64(1), f.runningCount(t, d))
}

func TestSelectNextPlanKeepsOneRunning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.device(t, "D1", false)

	moisture := f.plan(t, "D1", moisturePlan("m1"))
	timed := f.plan(t, "D1", timePlan("t1", false))

	payload, err := f.s.SelectNextPlan(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, "m1", payload.Name)
	assert.True(t, f.reload(t, moisture).IsRunning)

	payload, err = f.s.SelectNextPlan(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, "t1", payload.Name)
	assert.False(t, f.reload(t, moisture).IsRunning)
	assert.True(t, f.reload(t, timed).IsRunning)
	assert.Equal(t, int64(1), f.runningCount(t, d))

	_, err = f.s.ResetPlan(ctx, f.owner, "D1", "m1")
	require.NoError(t, err)

	payload, err = f.s.SelectNextPlan(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, "m1", payload.Name)
	assert.False(t, f.reload(t, timed).IsRunning)
	assert.Equal(t, int64(1), f.runningCount(t, d))
}

func TestSelectNextPlanBusyDevice(t *testing.T) {
	f := newFixture(t)
	f.device(t, "D1", false)

	release, err := f.locks.Acquire(context.Background(), "device:D1")
	require.NoError(t, err)
	defer release()

	_, err = f.s.SelectNextPlan(context.Background(), "D1")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestTimePlanRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.device(t, "D1", false)
	f.plan(t, "D1", timePlan("friday", false))

	stored, err := f.s.GetPlan(ctx, f.owner, "D1", "friday")
	require.NoError(t, err)
	require.Len(t, stored.WaterTimes, 1)
	assert.Equal(t, model.Friday, stored.WaterTimes[0].Weekday)
	assert.Equal(t, "19:47", stored.WaterTimes[0].TimeWater)
	assert.True(t, stored.Days().Has(model.Friday))

	payload, err := f.s.SelectNextPlan(ctx, "D1")
	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.Equal(t, []model.WaterTimePayload{{Weekday: model.Friday, TimeWater: "19:47"}}, payload.WaterTimes)

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"name": "friday",
		"plan_type": "time_based",
		"water_volume": 250,
		"water_times": [{"weekday": "Friday", "time_water": "19:47"}]
	}`, string(raw))
}

func TestRecordHealthCheckIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.device(t, "D1", false)

	require.NoError(t, f.s.RecordHealthCheck(ctx, "D1"))
	require.NoError(t, f.s.RecordHealthCheck(ctx, "D1"))

	var n int64
	require.NoError(t, f.db.Model(&model.HealthCheck{}).Where("device_id = ?", d.ID).Count(&n).Error)
	assert.Equal(t, int64(1), n)

	got, err := f.s.GetDevice(ctx, f.owner, "D1")
	require.NoError(t, err)
	assert.True(t, got.IsConnected)
	assert.Equal(t, model.DeviceOnline, got.Status)
}

func TestReconcileConnectivityWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.device(t, "D1", true)

	require.NoError(t, f.s.RecordHealthCheck(ctx, "D1"))

	f.clock.advance(14 * time.Second)
	devices, err := f.s.ListDevices(ctx, f.owner)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.True(t, devices[0].IsConnected)

	f.clock.advance(time.Second)
	devices, err = f.s.ListDevices(ctx, f.owner)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.False(t, devices[0].IsConnected)
	assert.Equal(t, model.DeviceOffline, devices[0].Status)

	sent := f.notifier.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "device: D1 connected", sent[0].body)
	assert.Equal(t, "device: D1 disconnected", sent[1].body)
	assert.Equal(t, "ana@example.com", sent[1].to)
}

func TestReconcileConnectivitySkipsNeverConnected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.device(t, "D1", true)

	f.clock.advance(time.Hour)
	devices, err := f.s.ListDevices(ctx, f.owner)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.False(t, devices[0].IsConnected)
	assert.Empty(t, f.notifier.sent())
}

func TestReconcileConnectivityMissingHealthCheck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.device(t, "D1", false)
	require.NoError(t, f.db.Model(&model.Device{}).Where("device_id = ?", "D1").Update("is_connected", true).Error)

	devices, err := f.s.ListDevices(ctx, f.owner)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.False(t, devices[0].IsConnected)
}

func TestMonitorDisconnectsStaleDevices(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.device(t, "D1", false)

	require.NoError(t, f.s.RecordHealthCheck(ctx, "D1"))
	f.clock.advance(time.Minute)

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.s.Monitor(ctx, 10*time.Millisecond)
	}()
	defer func() {
		cancel()
		<-done
	}()

	assert.Eventually(t, func() bool {
		var d model.Device
		if err := f.db.Where("device_id = ?", "D1").First(&d).Error; err != nil {
			return false
		}
		return !d.IsConnected
	}, time.Second, 10*time.Millisecond)
}

func TestReconnectClearsRunningPlans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.device(t, "D1", true)
	moisture := f.plan(t, "D1", moisturePlan("m1"))

	require.NoError(t, f.s.RecordHealthCheck(ctx, "D1"))
	_, err := f.s.SelectNextPlan(ctx, "D1")
	require.NoError(t, err)
	require.True(t, f.reload(t, moisture).IsRunning)

	f.clock.advance(20 * time.Second)
	_, err = f.s.ListDevices(ctx, f.owner)
	require.NoError(t, err)

	require.NoError(t, f.s.RecordHealthCheck(ctx, "D1"))
	assert.False(t, f.reload(t, moisture).IsRunning)
	assert.Zero(t, f.runningCount(t, d))

	sent := f.notifier.sent()
	require.NotEmpty(t, sent)
	assert.Equal(t, "device: D1 connected", sent[len(sent)-1].body)
	assert.Equal(t, "Device connection", sent[len(sent)-1].subject)
}

func TestOnReconnect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.device(t, "D1", false)
	timed := f.plan(t, "D1", timePlan("t1", false))

	_, err := f.s.SelectNextPlan(ctx, "D1")
	require.NoError(t, err)
	require.True(t, f.reload(t, timed).IsRunning)

	require.NoError(t, f.s.OnReconnect(ctx, "D1"))
	after := f.reload(t, timed)
	assert.False(t, after.IsRunning)
	assert.True(t, after.HasBeenExecuted)
}

func TestRecordExecutionStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.device(t, "D1", true)
	f.device(t, "D2", false)

	status, err := f.s.RecordExecutionStatus(ctx, "D1", true, "watered 200 ml")
	require.NoError(t, err)
	assert.NotEmpty(t, status.StatusID)

	_, err = f.s.RecordExecutionStatus(ctx, "D2", false, "tank empty")
	require.NoError(t, err)

	sent := f.notifier.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Device Operation: true", sent[0].subject)
	assert.Equal(t, "watered 200 ml", sent[0].body)

	statuses, err := f.s.ListStatuses(ctx, f.owner, "D1", 0)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, status.StatusID, statuses[0].StatusID)

	got, err := f.s.GetStatus(ctx, f.owner, "D1", status.StatusID)
	require.NoError(t, err)
	assert.True(t, got.ExecutionStatus)

	_, err = f.s.GetStatus(ctx, f.owner, "D1", uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExecutionStatusFinishesOneShotTimePlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.device(t, "D1", false)
	once := f.plan(t, "D1", timePlan("once", true))

	_, err := f.s.SelectNextPlan(ctx, "D1")
	require.NoError(t, err)
	require.True(t, f.reload(t, once).IsRunning)

	_, err = f.s.RecordExecutionStatus(ctx, "D1", true, "done")
	require.NoError(t, err)
	assert.False(t, f.reload(t, once).IsRunning)
}

func TestHandleReportRoutesHealthChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.device(t, "D1", false)

	status, err := f.s.HandleReport(ctx, model.ExecutionReport{Device: "D1", ExecutionStatus: true, ExecutionMessage: model.HealthCheckMessage})
	require.NoError(t, err)
	assert.Nil(t, status)

	var checks, statuses int64
	f.db.Model(&model.HealthCheck{}).Where("device_id = ?", d.ID).Count(&checks)
	f.db.Model(&model.Status{}).Where("device_id = ?", d.ID).Count(&statuses)
	assert.Equal(t, int64(1), checks)
	assert.Zero(t, statuses)

	status, err = f.s.HandleReport(ctx, model.ExecutionReport{Device: "D1", ExecutionStatus: false, ExecutionMessage: "pump failed"})
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.False(t, status.ExecutionStatus)
}

func TestRecordTelemetryKeepsNewestSamples(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.device(t, "D1", false)

	for i := 1; i <= 12; i++ {
		level := i * 5
		require.NoError(t, f.s.RecordTelemetry(ctx, "D1", model.Telemetry{WaterLevel: &level}))
		f.clock.advance(time.Minute)
	}

	chart, err := f.s.WaterChart(ctx, f.owner, "D1")
	require.NoError(t, err)
	require.Len(t, chart, model.WaterChartCapacity)
	assert.Equal(t, 15, chart[0].WaterLevel)
	assert.Equal(t, 60, chart[len(chart)-1].WaterLevel)

	d, err := f.s.GetDevice(ctx, f.owner, "D1")
	require.NoError(t, err)
	assert.Equal(t, 60, d.WaterLevel)
}

func TestRecordTelemetryRejectsOutOfRange(t *testing.T) {
	f := newFixture(t)
	f.device(t, "D1", false)

	level := 101
	err := f.s.RecordTelemetry(context.Background(), "D1", model.Telemetry{MoistureLevel: &level})

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "moisture_level", verr.Field)
}

func TestSubscribeReceivesEvents(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := f.s.Subscribe(ctx)
	f.device(t, "D1", false)
	f.plan(t, "D1", basicPlan("p1", 100))

	var got []model.EventType
	for len(got) < 2 {
		select {
		case ev := <-events:
			assert.Equal(t, f.owner.ID, ev.OwnerID)
			got = append(got, ev.Type)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
	assert.Equal(t, []model.EventType{model.EventDeviceUpdated, model.EventPlanChanged}, got)

	cancel()
	assert.Eventually(t, func() bool {
		_, open := <-events
		return !open
	}, time.Second, 10*time.Millisecond)
}
