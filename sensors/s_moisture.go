package sensors

import (
	"encoding/binary"

	"periph.io/x/conn/v3/i2c"
)

// Raw ADC readings of the capacitive probe: 1000 is soaked, 2000 is dry air.
const (
	moistureRawWet = 1000
	moistureRawDry = 2000
)

type moisture struct {
	dev     i2c.Dev
	setting PortSetting
}

func NewMoisture(bus i2c.Bus, address uint16, setting PortSetting) Sensor {
	return &moisture{
		dev: i2c.Dev{
			Bus:  bus,
			Addr: address,
		},
		setting: setting,
	}
}

func (s *moisture) Name() string {
	return NameMoisture
}

func (s *moisture) Port() PortSetting {
	return s.setting
}

func (s *moisture) ReadValue() (float64, error) {
	write := []byte{0x20 + s.setting.MoistureChannel}
	read := make([]byte, 2)
	if err := s.dev.Tx(write, read); err != nil {
		return 0, err
	}

	return moisturePercentage(float64(binary.LittleEndian.Uint16(read))), nil
}

func moisturePercentage(val float64) float64 {
	if val <= moistureRawWet {
		return 100
	}

	if val >= moistureRawDry {
		return 0
	}

	return (moistureRawDry - val) / 10
}
