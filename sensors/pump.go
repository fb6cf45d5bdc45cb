package sensors

import (
	"sync"

	"periph.io/x/conn/v3/gpio"
)

type Pump interface {
	On() error
	Off() error
}

// gpioSwitch drives an active low relay.
type gpioSwitch struct {
	pin gpio.PinIO
}

func NewGPIOSwitch(number int) (Pump, error) {
	pin, err := GetGPIO(number)
	if err != nil {
		return nil, err
	}

	s := &gpioSwitch{pin: pin}
	if err := s.Off(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *gpioSwitch) On() error {
	return s.pin.Out(gpio.Low)
}

func (s *gpioSwitch) Off() error {
	return s.pin.Out(gpio.High)
}

// valvePump opens the port valves before starting the pump and closes them
// after the pump stopped.
type valvePump struct {
	pump   Pump
	valves []Pump
}

func NewValvePump(pump Pump, valves ...Pump) Pump {
	return &valvePump{pump: pump, valves: valves}
}

func (p *valvePump) On() error {
	for _, v := range p.valves {
		if err := v.On(); err != nil {
			return err
		}
	}
	return p.pump.On()
}

func (p *valvePump) Off() error {
	err := p.pump.Off()
	for _, v := range p.valves {
		if vErr := v.Off(); vErr != nil && err == nil {
			err = vErr
		}
	}
	return err
}

type PumpFake struct {
	mutex   sync.Mutex
	running bool
	runs    int
}

func NewPumpFake() *PumpFake {
	return &PumpFake{}
}

func (p *PumpFake) On() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if !p.running {
		p.runs++
	}
	p.running = true
	return nil
}

func (p *PumpFake) Off() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.running = false
	return nil
}

func (p *PumpFake) Running() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.running
}

// Runs counts how often the pump was switched on.
func (p *PumpFake) Runs() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.runs
}
