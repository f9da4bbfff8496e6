package control

import "fmt"

// Mode is chosen once at startup and never changes.
type Mode int

const (
	ModeNormal Mode = iota
	ModeCycleAirports
	ModeTestDisplay
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeCycleAirports:
		return "cycle_airports"
	case ModeTestDisplay:
		return "test_display"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// SelectMode maps the diagnostic flags to a Mode. Both set is an error.
func SelectMode(cycleAirports, testDisplays bool) (Mode, error) {
	switch {
	case cycleAirports && testDisplays:
		return ModeNormal, fmt.Errorf("--cycle-airports and --test-displays are mutually exclusive")
	case cycleAirports:
		return ModeCycleAirports, nil
	case testDisplays:
		return ModeTestDisplay, nil
	default:
		return ModeNormal, nil
	}
}
