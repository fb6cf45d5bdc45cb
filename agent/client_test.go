package agent

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ZamarianPatrick/waterplant-backend/api"
	"github.com/ZamarianPatrick/waterplant-backend/config"
	"github.com/ZamarianPatrick/waterplant-backend/lock"
	"github.com/ZamarianPatrick/waterplant-backend/model"
	"github.com/ZamarianPatrick/waterplant-backend/scheduler"
	"github.com/ZamarianPatrick/waterplant-backend/store"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type nopNotifier struct{}

func (nopNotifier) Notify(string, string, string) {}

type backend struct {
	scheduler *scheduler.Scheduler
	locks     lock.Locker
	owner     *model.User
	url       string
	client    *Client
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := zap.NewNop()
	db, err := store.Open(config.Database{
		Driver: "sqlite",
		Path:   "file:" + uuid.NewString() + "?mode=memory&cache=shared",
	}, log)
	require.NoError(t, err)

	locks := lock.NewMemory(50 * time.Millisecond)
	s := scheduler.New(db, locks, nopNotifier{}, log)
	router := api.NewRouter(api.NewResolver("test", s, log), config.Auth{Secret: "secret"}, s, log)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	ctx := context.Background()
	owner, err := s.EnsureOwner(ctx, "ana", "ana@example.com")
	require.NoError(t, err)
	_, err = s.RegisterDevice(ctx, owner, model.DeviceInput{DeviceID: "D1", WaterContainerCapacity: 1000})
	require.NoError(t, err)

	return &backend{
		scheduler: s,
		locks:     locks,
		owner:     owner,
		url:       server.URL,
		client:    NewClient(server.URL, "D1"),
	}
}

func TestClientNextPlan(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	plan, err := b.client.NextPlan(ctx)
	require.NoError(t, err)
	assert.Nil(t, plan)

	_, err = b.scheduler.CreatePlan(ctx, b.owner, "D1", model.PlanInput{
		Name:              "m1",
		PlanType:          model.PlanMoisture,
		WaterVolume:       150,
		MoistureThreshold: 40,
		CheckInterval:     30,
	})
	require.NoError(t, err)

	plan, err = b.client.NextPlan(ctx)
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, "m1", plan.Name)
	assert.Equal(t, model.PlanMoisture, plan.PlanType)
	require.NotNil(t, plan.MoistureThreshold)
	assert.InDelta(t, 0.4, *plan.MoistureThreshold, 1e-9)
	require.NotNil(t, plan.CheckInterval)
	assert.Equal(t, 30, *plan.CheckInterval)
}

func TestClientBusyDevice(t *testing.T) {
	b := newBackend(t)

	release, err := b.locks.Acquire(context.Background(), "device:D1")
	require.NoError(t, err)
	defer release()

	_, err = b.client.NextPlan(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
}

func TestClientReports(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	require.NoError(t, b.client.HealthCheck(ctx))
	device, err := b.scheduler.GetDevice(ctx, b.owner, "D1")
	require.NoError(t, err)
	assert.True(t, device.IsConnected)

	require.NoError(t, b.client.Report(ctx, false, "plan b1 failed: water container is empty"))
	statuses, err := b.scheduler.ListStatuses(ctx, b.owner, "D1", 10)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.False(t, statuses[0].ExecutionStatus)
	assert.Equal(t, "plan b1 failed: water container is empty", statuses[0].Message)

	level, moisture := 64, 38
	require.NoError(t, b.client.Telemetry(ctx, model.Telemetry{WaterLevel: &level, MoistureLevel: &moisture}))
	chart, err := b.scheduler.WaterChart(ctx, b.owner, "D1")
	require.NoError(t, err)
	require.Len(t, chart, 1)
	assert.Equal(t, 64, chart[0].WaterLevel)
	assert.Equal(t, 38, chart[0].MoistureLevel)
}

func TestClientReportForUnknownDevice(t *testing.T) {
	b := newBackend(t)

	stranger := NewClient(b.url, "nope")
	assert.Error(t, stranger.Report(context.Background(), true, "ok"))
}
