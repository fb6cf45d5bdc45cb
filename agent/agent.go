// Package agent runs on the water plant itself: it polls the server for
// plans, drives the pump and reports back.
package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ZamarianPatrick/waterplant-backend/config"
	"github.com/ZamarianPatrick/waterplant-backend/model"
	"github.com/ZamarianPatrick/waterplant-backend/sensors"
	"go.uber.org/zap"
)

const (
	timeWaterLayout = "15:04"
	// defaultFlowRate in ml/s is used when the pump's flow is not configured.
	defaultFlowRate = 20
)

var errContainerEmpty = errors.New("water container is empty")

// Server is the part of the server API the agent needs.
type Server interface {
	NextPlan(ctx context.Context) (*model.PlanPayload, error)
	HealthCheck(ctx context.Context) error
	Report(ctx context.Context, executed bool, message string) error
	Telemetry(ctx context.Context, t model.Telemetry) error
}

type Agent struct {
	server   Server
	pump     sensors.Pump
	worker   sensors.Worker
	settings config.Agent
	log      *zap.Logger

	now func() time.Time
	// minute is the unit of check_interval; the schedule is checked every
	// scheduleTick.
	minute       time.Duration
	scheduleTick time.Duration

	// pumpMutex keeps two plans from running the pump at once.
	pumpMutex sync.Mutex

	mutex      sync.Mutex
	waterLevel float64
	hasLevel   bool
	moisture   map[string]float64
	running    *installedPlan
}

type installedPlan struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Agent)

func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		a.now = now
	}
}

// WithMinute scales check intervals and the schedule tick.
func WithMinute(minute time.Duration) Option {
	return func(a *Agent) {
		a.minute = minute
		a.scheduleTick = minute / 3
	}
}

func New(server Server, pump sensors.Pump, worker sensors.Worker, settings config.Agent, log *zap.Logger, opts ...Option) *Agent {
	a := &Agent{
		server:       server,
		pump:         pump,
		worker:       worker,
		settings:     settings,
		log:          log.Named("agent"),
		now:          time.Now,
		minute:       time.Minute,
		scheduleTick: 20 * time.Second,
		moisture:     make(map[string]float64),
	}
	if a.settings.PumpFlowRate <= 0 {
		a.settings.PumpFlowRate = defaultFlowRate
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run blocks until ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	a.worker.Start(ctx)

	var wg sync.WaitGroup
	loops := []func(context.Context){a.readSensors, a.healthLoop, a.telemetryLoop, a.pollLoop}
	for _, loop := range loops {
		wg.Add(1)
		go func(loop func(context.Context)) {
			defer wg.Done()
			loop(ctx)
		}(loop)
	}
	wg.Wait()

	a.uninstall()
	if err := a.pump.Off(); err != nil {
		a.log.Warn("switching pump off failed", zap.Error(err))
	}
	return nil
}

func (a *Agent) readSensors(ctx context.Context) {
	ch := a.worker.DataChannel()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-ch:
			a.mutex.Lock()
			switch data.SensorName {
			case sensors.NameWaterLevel:
				a.waterLevel = data.Value
				a.hasLevel = true
			case sensors.NameMoisture:
				a.moisture[data.Port.Port] = data.Value
			}
			a.mutex.Unlock()
		}
	}
}

// every runs fn immediately and then each interval until ctx is done.
func every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		interval = time.Second
	}
	fn(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (a *Agent) healthLoop(ctx context.Context) {
	every(ctx, a.settings.HealthInterval.Std(), func(ctx context.Context) {
		if err := a.server.HealthCheck(ctx); err != nil && ctx.Err() == nil {
			a.log.Warn("health check failed", zap.Error(err))
		}
	})
}

func (a *Agent) telemetryLoop(ctx context.Context) {
	every(ctx, a.settings.TelemetryInterval.Std(), func(ctx context.Context) {
		t, ok := a.telemetry()
		if !ok {
			return
		}
		if err := a.server.Telemetry(ctx, t); err != nil && ctx.Err() == nil {
			a.log.Warn("sending telemetry failed", zap.Error(err))
		}
	})
}

func (a *Agent) pollLoop(ctx context.Context) {
	every(ctx, a.settings.PollInterval.Std(), func(ctx context.Context) {
		plan, err := a.server.NextPlan(ctx)
		switch {
		case errors.Is(err, ErrBusy):
			a.log.Debug("server busy, polling again later")
			return
		case err != nil:
			if ctx.Err() == nil {
				a.log.Warn("polling plan failed", zap.Error(err))
			}
			return
		case plan == nil:
			return
		}

		a.Apply(ctx, *plan)
	})
}

// Apply executes a plan received from the server. Basic plans water once
// before Apply returns; moisture and time plans replace the installed plan
// and keep running in the background.
func (a *Agent) Apply(ctx context.Context, plan model.PlanPayload) {
	log := a.log.With(zap.String("plan", plan.Name), zap.String("plan_type", string(plan.PlanType)))
	log.Info("plan received")

	switch plan.PlanType {
	case model.PlanStop:
		a.stop(plan.Name)

	case model.PlanBasic:
		a.waterAndReport(ctx, plan.Name, plan.WaterVolume)

	case model.PlanMoisture:
		if plan.MoistureThreshold == nil || plan.CheckInterval == nil || *plan.CheckInterval <= 0 {
			log.Warn("moisture plan without threshold or interval")
			return
		}
		a.install(ctx, plan.Name, func(ctx context.Context) {
			a.runMoisture(ctx, plan)
		})

	case model.PlanTime:
		a.install(ctx, plan.Name, func(ctx context.Context) {
			a.runSchedule(ctx, plan)
		})

	default:
		log.Warn("unknown plan type")
	}
}

func (a *Agent) install(ctx context.Context, name string, run func(context.Context)) {
	a.uninstall()

	planCtx, cancel := context.WithCancel(ctx)
	p := &installedPlan{name: name, cancel: cancel, done: make(chan struct{})}

	a.mutex.Lock()
	a.running = p
	a.mutex.Unlock()

	go func() {
		defer close(p.done)
		run(planCtx)

		a.mutex.Lock()
		if a.running == p {
			a.running = nil
		}
		a.mutex.Unlock()
	}()
}

func (a *Agent) uninstall() {
	a.mutex.Lock()
	p := a.running
	a.running = nil
	a.mutex.Unlock()

	if p != nil {
		p.cancel()
		<-p.done
	}
}

func (a *Agent) stop(name string) {
	a.mutex.Lock()
	p := a.running
	a.mutex.Unlock()

	if p == nil || p.name != name {
		a.log.Info("stop for a plan that is not installed", zap.String("plan", name))
		return
	}
	a.uninstall()
	a.log.Info("plan stopped", zap.String("plan", name))
}

// Installed names the plan running in the background, if any.
func (a *Agent) Installed() string {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.running == nil {
		return ""
	}
	return a.running.name
}

func (a *Agent) runMoisture(ctx context.Context, plan model.PlanPayload) {
	threshold := *plan.MoistureThreshold * 100
	interval := time.Duration(*plan.CheckInterval) * a.minute

	every(ctx, interval, func(ctx context.Context) {
		moisture, ok := a.driestMoisture()
		if !ok || moisture >= threshold {
			return
		}
		a.log.Info("soil too dry", zap.String("plan", plan.Name), zap.Float64("moisture", moisture), zap.Float64("threshold", threshold))
		a.waterAndReport(ctx, plan.Name, plan.WaterVolume)
	})
}

func (a *Agent) runSchedule(ctx context.Context, plan model.PlanPayload) {
	fired := make(map[string]bool)

	every(ctx, a.scheduleTick, func(ctx context.Context) {
		now := a.now()
		slot := now.Format("2006-01-02 " + timeWaterLayout)
		if fired[slot] || !due(plan.WaterTimes, now) {
			return
		}
		fired[slot] = true

		a.waterAndReport(ctx, plan.Name, plan.WaterVolume)
		if plan.ExecuteOnlyOnce {
			// Cancelling our own context ends the loop.
			a.mutex.Lock()
			if a.running != nil && a.running.name == plan.Name {
				a.running.cancel()
			}
			a.mutex.Unlock()
		}
	})
}

func due(times []model.WaterTimePayload, now time.Time) bool {
	day := model.WeekdayOf(now.Weekday())
	clock := now.Format(timeWaterLayout)
	for _, wt := range times {
		if wt.Weekday == day && wt.TimeWater == clock {
			return true
		}
	}
	return false
}

func (a *Agent) waterAndReport(ctx context.Context, name string, volume int) {
	err := a.water(ctx, volume)
	if ctx.Err() != nil {
		return
	}

	executed := err == nil
	message := fmt.Sprintf("plan %s watered %d ml", name, volume)
	if err != nil {
		message = fmt.Sprintf("plan %s failed: %v", name, err)
		a.log.Warn("watering failed", zap.String("plan", name), zap.Error(err))
	}

	if err := a.server.Report(ctx, executed, message); err != nil && ctx.Err() == nil {
		a.log.Warn("reporting execution failed", zap.String("plan", name), zap.Error(err))
	}
}

// water runs the pump long enough to deliver volume ml.
func (a *Agent) water(ctx context.Context, volume int) error {
	if volume <= 0 {
		return fmt.Errorf("invalid water volume %d", volume)
	}
	if level, ok := a.level(); ok && level < 1 {
		return errContainerEmpty
	}

	a.pumpMutex.Lock()
	defer a.pumpMutex.Unlock()

	duration := time.Duration(float64(volume) / a.settings.PumpFlowRate * float64(time.Second))
	if err := a.pump.On(); err != nil {
		return err
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}

	return a.pump.Off()
}

func (a *Agent) level() (float64, bool) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.waterLevel, a.hasLevel
}

func (a *Agent) driestMoisture() (float64, bool) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if len(a.moisture) == 0 {
		return 0, false
	}
	driest := math.Inf(1)
	for _, v := range a.moisture {
		driest = math.Min(driest, v)
	}
	return driest, true
}

func (a *Agent) telemetry() (model.Telemetry, bool) {
	level, hasLevel := a.level()
	moisture, hasMoisture := a.driestMoisture()

	var t model.Telemetry
	if hasLevel {
		v := int(math.Round(level))
		t.WaterLevel = &v
	}
	if hasMoisture {
		v := int(math.Round(moisture))
		t.MoistureLevel = &v
	}
	return t, hasLevel || hasMoisture
}
