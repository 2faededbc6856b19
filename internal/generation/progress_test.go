package generation

import (
	"math"
	"testing"
	"time"
)

func TestStep(t *testing.T) {
	if got := Step(0); math.Abs(got-1.8) > 1e-9 {
		t.Errorf("Step(0) = %v, want 1.8", got)
	}
	if got := Step(80); math.Abs(got-80.3) > 1e-9 {
		t.Errorf("Step(80) = %v, want 80.3", got)
	}
	if got := Step(89.9); got != 90 {
		t.Errorf("Step(89.9) = %v, want 90", got)
	}
	if got := Step(95); got != 90 {
		t.Errorf("Step(95) = %v, want 90", got)
	}
}

func TestSimulate_MonotonicAndCapped(t *testing.T) {
	prev := -1.0
	for elapsed := time.Duration(0); elapsed < 10*time.Minute; elapsed += 5 * time.Second {
		p := Simulate(elapsed)
		if p.Value < prev {
			t.Fatalf("Simulate(%v) = %v, decreased from %v", elapsed, p.Value, prev)
		}
		if p.Value > 90 {
			t.Fatalf("Simulate(%v) = %v, above 90", elapsed, p.Value)
		}
		prev = p.Value
	}
	if prev != 90 {
		t.Errorf("long-run progress = %v, want 90", prev)
	}
}

func TestSimulate_Start(t *testing.T) {
	p := Simulate(400 * time.Millisecond)
	if p.Value != 0 || p.Stage != StageAnalyzing {
		t.Errorf("Simulate(400ms) = %+v", p)
	}
}

func TestStageFor(t *testing.T) {
	tests := []struct {
		value float64
		want  string
	}{
		{0, StageAnalyzing},
		{24.9, StageAnalyzing},
		{25, StageComposing},
		{50, StageRendering},
		{79.9, StageRendering},
		{80, StageFinishing},
		{90, StageFinishing},
	}
	for _, tt := range tests {
		if got := StageFor(tt.value); got != tt.want {
			t.Errorf("StageFor(%v) = %q, want %q", tt.value, got, tt.want)
		}
	}
}

func TestTerminalSnapshots(t *testing.T) {
	if s := Saving(); s.Value != 95 || s.Stage != StageSaving {
		t.Errorf("Saving() = %+v", s)
	}
	if d := Done(); d.Value != 100 || d.Stage != StageDone {
		t.Errorf("Done() = %+v", d)
	}
}
