package sensors

import "sync"

type WaterFake struct {
	mutex sync.Mutex
	value float64
}

func NewWaterFake(value float64) *WaterFake {
	return &WaterFake{
		value: value,
	}
}

func (s *WaterFake) Name() string {
	return NameWaterLevel
}

func (s *WaterFake) SetValue(val float64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.value = val
}

func (s *WaterFake) ReadValue() (float64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.value, nil
}
