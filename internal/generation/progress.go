package generation

import (
	"math"
	"time"
)

// The progress bar is cosmetic: it advances on a timer and never reflects
// how far the model actually is.
const (
	ProgressTick    = 500 * time.Millisecond
	progressCeiling = 90.0
	progressMinStep = 0.3
	progressDecay   = 0.02

	ProgressSaving = 95.0
	ProgressDone   = 100.0
)

const (
	StageAnalyzing = "Analisando Foto..."
	StageComposing = "Compondo Cena..."
	StageRendering = "Renderizando Detalhes..."
	StageFinishing = "Finalizando..."
	StageSaving    = "Salvando..."
	StageDone      = "Concluído!"
)

// Progress is a snapshot of the simulated progress bar.
type Progress struct {
	Value float64 `json:"value"`
	Stage string  `json:"stage"`
}

// Step advances p by one tick: max(0.3, (90-p)*0.02), never past 90.
func Step(p float64) float64 {
	if p >= progressCeiling {
		return progressCeiling
	}
	next := p + math.Max(progressMinStep, (progressCeiling-p)*progressDecay)
	return math.Min(next, progressCeiling)
}

// StageFor returns the label shown under the bar for value.
func StageFor(value float64) string {
	switch {
	case value < 25:
		return StageAnalyzing
	case value < 50:
		return StageComposing
	case value < 80:
		return StageRendering
	default:
		return StageFinishing
	}
}

// Simulate returns the progress after elapsed time of generation.
func Simulate(elapsed time.Duration) Progress {
	p := 0.0
	for ticks := int(elapsed / ProgressTick); ticks > 0 && p < progressCeiling; ticks-- {
		p = Step(p)
	}
	return Progress{Value: p, Stage: StageFor(p)}
}

// Saving is shown once the image arrived and is being stored.
func Saving() Progress {
	return Progress{Value: ProgressSaving, Stage: StageSaving}
}

// Done is shown when the photo is ready.
func Done() Progress {
	return Progress{Value: ProgressDone, Stage: StageDone}
}

// Idle is the reset state, also used after a failure.
func Idle() Progress {
	return Progress{Value: 0, Stage: StageAnalyzing}
}
