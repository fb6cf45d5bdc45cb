package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Weekday values are single bits so that stored schedules stay compatible
// with the numeric encoding Monday=1 ... Sunday=64.
type Weekday uint8

const (
	Monday Weekday = 1 << iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var weekdays = [...]Weekday{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

var weekdayLabels = map[Weekday]string{
	Monday:    "Monday",
	Tuesday:   "Tuesday",
	Wednesday: "Wednesday",
	Thursday:  "Thursday",
	Friday:    "Friday",
	Saturday:  "Saturday",
	Sunday:    "Sunday",
}

var calendarDays = map[time.Weekday]Weekday{
	time.Monday:    Monday,
	time.Tuesday:   Tuesday,
	time.Wednesday: Wednesday,
	time.Thursday:  Thursday,
	time.Friday:    Friday,
	time.Saturday:  Saturday,
	time.Sunday:    Sunday,
}

func Weekdays() []Weekday {
	out := make([]Weekday, len(weekdays))
	copy(out, weekdays[:])
	return out
}

func ParseWeekday(label string) (Weekday, error) {
	for _, day := range weekdays {
		if strings.EqualFold(weekdayLabels[day], strings.TrimSpace(label)) {
			return day, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", label)
}

func WeekdayOf(day time.Weekday) Weekday {
	return calendarDays[day]
}

func (w Weekday) Valid() bool {
	_, ok := weekdayLabels[w]
	return ok
}

func (w Weekday) String() string {
	if label, ok := weekdayLabels[w]; ok {
		return label
	}
	return fmt.Sprintf("Weekday(%d)", uint8(w))
}

func (w Weekday) MarshalJSON() ([]byte, error) {
	if !w.Valid() {
		return nil, fmt.Errorf("invalid weekday %d", uint8(w))
	}
	return json.Marshal(w.String())
}

// UnmarshalJSON takes the label and, for older clients, the bit value.
func (w *Weekday) UnmarshalJSON(data []byte) error {
	var label string
	if err := json.Unmarshal(data, &label); err == nil {
		day, err := ParseWeekday(label)
		if err != nil {
			return err
		}
		*w = day
		return nil
	}

	var bit uint8
	if err := json.Unmarshal(data, &bit); err != nil {
		return fmt.Errorf("weekday must be a label or bit value: %w", err)
	}
	if !Weekday(bit).Valid() {
		return fmt.Errorf("unknown weekday value %d", bit)
	}
	*w = Weekday(bit)
	return nil
}

type WeekdaySet map[Weekday]struct{}

func NewWeekdaySet(days ...Weekday) WeekdaySet {
	set := make(WeekdaySet, len(days))
	for _, day := range days {
		set.Add(day)
	}
	return set
}

func (s WeekdaySet) Add(day Weekday) {
	if day.Valid() {
		s[day] = struct{}{}
	}
}

func (s WeekdaySet) Has(day Weekday) bool {
	_, ok := s[day]
	return ok
}

// Days returns the members from Monday to Sunday.
func (s WeekdaySet) Days() []Weekday {
	out := make([]Weekday, 0, len(s))
	for _, day := range weekdays {
		if s.Has(day) {
			out = append(out, day)
		}
	}
	return out
}

func (s WeekdaySet) Mask() uint8 {
	var mask uint8
	for day := range s {
		mask |= uint8(day)
	}
	return mask
}

func WeekdaySetFromMask(mask uint8) WeekdaySet {
	set := NewWeekdaySet()
	for _, day := range weekdays {
		if mask&uint8(day) != 0 {
			set.Add(day)
		}
	}
	return set
}
