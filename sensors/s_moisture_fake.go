package sensors

import "sync"

type MoistureFake struct {
	mutex   sync.Mutex
	setting PortSetting
	value   float64
}

func NewMoistureFake(setting PortSetting) *MoistureFake {
	return &MoistureFake{
		setting: setting,
		value:   100,
	}
}

func (s *MoistureFake) Name() string {
	return NameMoisture
}

func (s *MoistureFake) Port() PortSetting {
	return s.setting
}

func (s *MoistureFake) SetValue(val float64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.value = val
}

func (s *MoistureFake) ReadValue() (float64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.value, nil
}
