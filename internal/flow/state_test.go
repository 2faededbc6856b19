package flow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supercopa/totem/internal/catalog"
)

func TestNewState_Defaults(t *testing.T) {
	now := time.Now()
	s := NewState("s1", true, "", now)

	assert.Equal(t, TeamSelection, s.Screen)
	assert.Equal(t, catalog.Size2K, s.ImageSize)
	assert.Equal(t, now, s.UpdatedAt)
}

func TestState_RetakeClearsCapture(t *testing.T) {
	now := time.Now()
	s := NewState("s1", true, catalog.Size2K, now)
	s.Team = catalog.Flamengo
	require.NoError(t, s.MoveTo(IdolSelection, now))
	s.IdolID = "zico"
	require.NoError(t, s.MoveTo(Camera, now))
	s.Captured = &Image{Data: []byte{1}, MIME: "image/jpeg"}
	require.NoError(t, s.MoveTo(Generation, now))
	s.GenerationFailed = true
	s.LastError = "overloaded"

	require.NoError(t, s.MoveTo(Camera, now.Add(time.Second)))

	assert.Nil(t, s.Captured)
	assert.False(t, s.GenerationFailed)
	assert.Empty(t, s.LastError)
	assert.Equal(t, "zico", s.IdolID)
	assert.Equal(t, now.Add(time.Second), s.UpdatedAt)
}

func TestState_InvalidMoveLeavesStateUntouched(t *testing.T) {
	now := time.Now()
	s := NewState("s1", true, catalog.Size2K, now)

	err := s.MoveTo(Result, now.Add(time.Minute))
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, TeamSelection, s.Screen)
	assert.Equal(t, now, s.UpdatedAt)
}

func TestState_Clone(t *testing.T) {
	s := NewState("s1", true, catalog.Size1K, time.Now())
	s.Generated = &GeneratedImage{Image: Image{Data: []byte{1, 2}}}

	c := s.Clone()
	c.Generated.Data[0] = 9
	assert.Equal(t, byte(1), s.Generated.Data[0])
}

func TestState_Idle(t *testing.T) {
	now := time.Now()
	s := NewState("s1", true, catalog.Size2K, now)

	assert.False(t, s.Idle(now.Add(time.Minute), 5*time.Minute))
	assert.True(t, s.Idle(now.Add(10*time.Minute), 5*time.Minute))
	assert.False(t, s.Idle(now.Add(10*time.Minute), 0))
}
