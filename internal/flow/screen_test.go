package flow

import (
	"errors"
	"testing"
)

func TestTransition_Allowed(t *testing.T) {
	allowed := [][2]Screen{
		{Welcome, TeamSelection},
		{TeamSelection, IdolSelection},
		{IdolSelection, Camera},
		{Instruction, Camera},
		{Camera, Generation},
		{Generation, Result},
		{Result, WhatsApp},
		{TeamSelection, Welcome},
		{IdolSelection, TeamSelection},
		{Camera, IdolSelection},
		{Instruction, IdolSelection},
		{Generation, Camera},
		{WhatsApp, Result},
		{Result, Welcome},
		{WhatsApp, Welcome},
	}
	for _, tr := range allowed {
		if err := Transition(tr[0], tr[1]); err != nil {
			t.Errorf("Transition(%s, %s) error = %v, want nil", tr[0], tr[1], err)
		}
	}
}

func TestTransition_Rejected(t *testing.T) {
	rejected := [][2]Screen{
		{Welcome, Camera},
		{IdolSelection, Instruction},
		{Camera, Result},
		{Generation, Welcome},
		{Result, Camera},
		{Welcome, Welcome},
		{"BOGUS", Welcome},
	}
	for _, tr := range rejected {
		err := Transition(tr[0], tr[1])
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("Transition(%s, %s) error = %v, want ErrInvalidTransition", tr[0], tr[1], err)
		}
	}
}

func TestNothingEntersInstruction(t *testing.T) {
	for _, s := range Screens {
		if next, ok := Forward(s); ok && next == Instruction {
			t.Errorf("Forward(%s) = Instruction", s)
		}
		if prev, ok := Back(s); ok && prev == Instruction {
			t.Errorf("Back(%s) = Instruction", s)
		}
	}
}

func TestBack_NoneFromWelcomeOrResult(t *testing.T) {
	if _, ok := Back(Welcome); ok {
		t.Error("Back(Welcome) should not exist")
	}
	if _, ok := Back(Result); ok {
		t.Error("Back(Result) should not exist")
	}
}
