package sensors

import (
	"time"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Station bundles the sensor worker and the pump of one water plant.
type Station struct {
	Worker Worker
	Pump   Pump

	bus i2c.BusCloser

	moistureFakes  []*MoistureFake
	waterLevelFake *WaterFake
}

// OpenStation wires the sensors described by settings. With fakeValues set
// no hardware is touched.
func OpenStation(settings StationSettings, fakeValues bool, interval time.Duration, log *zap.Logger) (*Station, error) {
	s := &Station{
		Worker: NewWorker(interval, log),
	}

	if fakeValues {
		s.waterLevelFake = NewWaterFake(100)
		s.Worker.Add(s.waterLevelFake)

		for _, port := range settings.Ports {
			fake := NewMoistureFake(port)
			s.moistureFakes = append(s.moistureFakes, fake)
			s.Worker.Add(fake)
		}

		s.Pump = NewPumpFake()
		return s, nil
	}

	if _, err := host.Init(); err != nil {
		return nil, err
	}

	bus, err := i2creg.Open(settings.GroveBus)
	if err != nil {
		return nil, err
	}
	s.bus = bus

	s.Worker.Add(NewWaterLevel(bus, settings.WaterLevelHighAddress, settings.WaterLevelLowAddress))
	for _, port := range settings.Ports {
		s.Worker.Add(NewMoisture(bus, settings.MoistureAddress, port))
	}

	pump, err := NewGPIOSwitch(settings.PumpGPIO)
	if err != nil {
		bus.Close()
		return nil, err
	}

	valves := make([]Pump, 0, len(settings.Ports))
	for _, port := range settings.Ports {
		valve, err := NewGPIOSwitch(port.ValveGPIO)
		if err != nil {
			bus.Close()
			return nil, err
		}
		valves = append(valves, valve)
	}
	s.Pump = NewValvePump(pump, valves...)

	return s, nil
}

func (s *Station) SetMoistureFakeValue(port string, value float64) {
	for _, m := range s.moistureFakes {
		if m.Port().Port == port {
			m.SetValue(value)
		}
	}
}

func (s *Station) SetWaterLevelFakeValue(value float64) {
	if s.waterLevelFake != nil {
		s.waterLevelFake.SetValue(value)
	}
}

func (s *Station) Close() error {
	if s.Pump != nil {
		s.Pump.Off()
	}
	if s.bus != nil {
		return s.bus.Close()
	}
	return nil
}
