package sensors

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/host/v3/rpi"
)

const (
	NameWaterLevel = "Water Level"
	NameMoisture   = "Moisture"
)

type StationSettings struct {
	GroveBus string `yaml:"groveBus"`

	WaterLevelHighAddress uint16 `yaml:"waterLevelHighAddress"`
	WaterLevelLowAddress  uint16 `yaml:"waterLevelLowAddress"`
	MoistureAddress       uint16 `yaml:"moistureAddress"`
	PumpGPIO              int    `yaml:"pumpGPIO"`

	Ports []PortSetting `yaml:"ports"`
}

type PortSetting struct {
	Port            string `yaml:"port"`
	MoistureChannel byte   `yaml:"moistureChannel"`
	ValveGPIO       int    `yaml:"valveGPIO"`
}

var (
	DefaultStationSettings = StationSettings{
		GroveBus:              "1",
		WaterLevelHighAddress: 0x78,
		WaterLevelLowAddress:  0x77,
		MoistureAddress:       0x08,
		PumpGPIO:              23,
		Ports: []PortSetting{
			{
				Port:            "A",
				MoistureChannel: 0x0,
				ValveGPIO:       24,
			},
		},
	}
)

type Sensor interface {
	Name() string
	ReadValue() (float64, error)
}

type PortSensor interface {
	Port() PortSetting
}

type Worker interface {
	Add(sensor Sensor) Worker
	Start(ctx context.Context)
	DataChannel() <-chan SensorData
}

type SensorData struct {
	SensorName string
	Value      float64
	Port       PortSetting
}

type sensorWorker struct {
	sensors      []Sensor
	interval     time.Duration
	valueChannel chan SensorData
	log          *zap.Logger
}

func NewWorker(interval time.Duration, log *zap.Logger) Worker {
	return &sensorWorker{
		interval:     interval,
		valueChannel: make(chan SensorData),
		log:          log,
	}
}

func (sw *sensorWorker) Add(sensor Sensor) Worker {
	sw.sensors = append(sw.sensors, sensor)
	return sw
}

// Start polls every sensor once per interval until ctx is done. Readings
// are delivered on DataChannel; a reader must keep draining it.
func (sw *sensorWorker) Start(ctx context.Context) {
	go func() {
		for {
			for _, sensor := range sw.sensors {
				portSensor, ok := sensor.(PortSensor)

				val, err := sensor.ReadValue()
				if err != nil {
					sw.log.Warn("sensor read failed", zap.String("sensor", sensor.Name()), zap.Error(err))
					continue
				}

				data := SensorData{
					SensorName: sensor.Name(),
					Value:      val,
				}

				if ok {
					data.Port = portSensor.Port()
				}

				select {
				case sw.valueChannel <- data:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(sw.interval):
			}
		}
	}()
}

func (sw *sensorWorker) DataChannel() <-chan SensorData {
	return sw.valueChannel
}

func GetGPIO(gpio int) (gpio.PinIO, error) {
	switch gpio {
	case 2:
		return rpi.P1_3, nil
	case 3:
		return rpi.P1_5, nil
	case 4:
		return rpi.P1_7, nil
	case 5:
		return rpi.P1_29, nil
	case 6:
		return rpi.P1_31, nil
	case 7:
		return rpi.P1_26, nil
	case 8:
		return rpi.P1_24, nil
	case 9:
		return rpi.P1_21, nil
	case 10:
		return rpi.P1_19, nil
	case 11:
		return rpi.P1_23, nil
	case 12:
		return rpi.P1_32, nil
	case 13:
		return rpi.P1_33, nil
	case 16:
		return rpi.P1_36, nil
	case 17:
		return rpi.P1_11, nil
	case 18:
		return rpi.P1_12, nil
	case 19:
		return rpi.P1_35, nil
	case 20:
		return rpi.P1_38, nil
	case 21:
		return rpi.P1_40, nil
	case 22:
		return rpi.P1_15, nil
	case 23:
		return rpi.P1_16, nil
	case 24:
		return rpi.P1_18, nil
	case 25:
		return rpi.P1_22, nil
	case 26:
		return rpi.P1_37, nil
	case 27:
		return rpi.P1_13, nil
	default:
		return nil, fmt.Errorf("gpio %d cant found", gpio)
	}
}
