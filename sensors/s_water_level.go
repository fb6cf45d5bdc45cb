package sensors

import (
	"periph.io/x/conn/v3/i2c"
)

type waterLevel struct {
	high i2c.Dev
	low  i2c.Dev
}

func NewWaterLevel(bus i2c.Bus, highAddress, lowAddress uint16) Sensor {
	return &waterLevel{
		high: i2c.Dev{Bus: bus, Addr: highAddress},
		low:  i2c.Dev{Bus: bus, Addr: lowAddress},
	}
}

func (s *waterLevel) Name() string {
	return NameWaterLevel
}

func (s *waterLevel) ReadValue() (float64, error) {
	write := []byte{0x0}
	readHigh := make([]byte, 12)
	readLow := make([]byte, 8)

	if err := s.high.Tx(write, readHigh); err != nil {
		return 0, err
	}

	if err := s.low.Tx(write, readLow); err != nil {
		return 0, err
	}

	return waterLevelPercentage(readLow, readHigh), nil
}

// waterLevelPercentage counts the touched pads from the bottom up; every pad
// is five percent of the tank.
func waterLevelPercentage(readLow, readHigh []byte) float64 {
	threshold := byte(100)

	touchValue := 0
	trigSection := 0

	for i := 0; i < len(readLow); i++ {
		if readLow[i] > threshold {
			touchValue |= 1 << i
		}
	}

	for i := 0; i < len(readHigh); i++ {
		if readHigh[i] > threshold {
			touchValue |= 1 << (len(readLow) + i)
		}
	}

	for touchValue&0x01 != 0 {
		trigSection++
		touchValue >>= 1
	}

	return float64(trigSection * 5)
}
