package flow

import (
	"errors"
	"sync"
	"time"
)

// ErrCameraBusy is returned when another session holds the camera.
var ErrCameraBusy = errors.New("camera is in use by another session")

// CameraLease grants the single physical camera to one session at a time.
type CameraLease struct {
	mu     sync.Mutex
	holder string
	since  time.Time
}

func NewCameraLease() *CameraLease {
	return &CameraLease{}
}

// Acquire gives the camera to sessionID. Re-acquiring by the holder is a
// no-op.
func (c *CameraLease) Acquire(sessionID string, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.holder != "" && c.holder != sessionID {
		return ErrCameraBusy
	}
	if c.holder == "" {
		c.since = now
	}
	c.holder = sessionID
	return nil
}

// Release frees the camera if sessionID holds it and reports whether it did.
func (c *CameraLease) Release(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.holder != sessionID || sessionID == "" {
		return false
	}
	c.holder = ""
	c.since = time.Time{}
	return true
}

// Holder returns the session holding the camera and since when.
func (c *CameraLease) Holder() (string, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.holder, c.since
}
