// Package flow is the kiosk screen state machine.
package flow

import (
	"errors"
	"fmt"
)

// Screen is one step of the visitor flow.
type Screen string

const (
	Welcome       Screen = "WELCOME"
	TeamSelection Screen = "TEAM_SELECTION"
	IdolSelection Screen = "IDOL_SELECTION"
	Instruction   Screen = "INSTRUCTION"
	Camera        Screen = "CAMERA"
	Generation    Screen = "GENERATION"
	Result        Screen = "RESULT"
	WhatsApp      Screen = "WHATSAPP"
)

// Screens lists every screen in flow order.
var Screens = []Screen{Welcome, TeamSelection, IdolSelection, Instruction, Camera, Generation, Result, WhatsApp}

// ErrInvalidTransition is returned for moves the flow does not allow.
var ErrInvalidTransition = errors.New("invalid screen transition")

// Nothing moves into Instruction. IdolSelection goes straight to Camera.
var forward = map[Screen]Screen{
	Welcome:       TeamSelection,
	TeamSelection: IdolSelection,
	IdolSelection: Camera,
	Instruction:   Camera,
	Camera:        Generation,
	Generation:    Result,
	Result:        WhatsApp,
}

var back = map[Screen]Screen{
	TeamSelection: Welcome,
	IdolSelection: TeamSelection,
	Camera:        IdolSelection,
	Instruction:   IdolSelection,
	Generation:    Camera,
	WhatsApp:      Result,
}

// Valid reports whether s is a known screen.
func (s Screen) Valid() bool {
	for _, known := range Screens {
		if s == known {
			return true
		}
	}
	return false
}

func (s Screen) String() string { return string(s) }

// Forward returns the next screen, if any.
func Forward(s Screen) (Screen, bool) {
	next, ok := forward[s]
	return next, ok
}

// Back returns the screen a cancel on s returns to, if any.
func Back(s Screen) (Screen, bool) {
	prev, ok := back[s]
	return prev, ok
}

// CanReset reports whether the flow may restart from s.
func CanReset(s Screen) bool {
	return s == Result || s == WhatsApp
}

// Transition validates a move from one screen to another.
func Transition(from, to Screen) error {
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("%w: unknown screen %s -> %s", ErrInvalidTransition, from, to)
	}
	if next, ok := forward[from]; ok && next == to {
		return nil
	}
	if prev, ok := back[from]; ok && prev == to {
		return nil
	}
	if to == Welcome && CanReset(from) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
