package playback

import (
	"fmt"
	"strings"
)

type Mode int

const (
	ModeSingleShot   = Mode(0)
	ModeLoop         = Mode(1)
	ModeBackAndForth = Mode(2)
)

func (m Mode) String() string {
	switch m {
	case ModeSingleShot:
		return "single-shot"
	case ModeLoop:
		return "loop"
	case ModeBackAndForth:
		return "back-and-forth"
	default:
		return fmt.Sprintf("unknown_mode_%d", int(m))
	}
}

func (m Mode) IsValid() bool {
	return m >= ModeSingleShot && m <= ModeBackAndForth
}

func ParseMode(s string) (Mode, error) {
	for _, m := range []Mode{ModeSingleShot, ModeLoop, ModeBackAndForth} {
		if strings.EqualFold(s, m.String()) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown playback mode '%s'", s)
}

func (m Mode) MarshalText() ([]byte, error) {
	if !m.IsValid() {
		return nil, fmt.Errorf("invalid playback mode %d", int(m))
	}
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

type State int

const (
	StateStoppedAtStart = State(iota)
	StatePlayingForward
	StatePlayingBackward
	StateBuffering
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateStoppedAtStart:
		return "stopped-at-start"
	case StatePlayingForward:
		return "playing-forward"
	case StatePlayingBackward:
		return "playing-backward"
	case StateBuffering:
		return "buffering"
	case StateEnded:
		return "ended"
	default:
		return fmt.Sprintf("unknown_state_%d", int(s))
	}
}

// Set and Type make *Mode usable as a command line flag value.
func (m *Mode) Set(s string) error {
	return m.UnmarshalText([]byte(s))
}

func (*Mode) Type() string {
	return "playback-mode"
}
