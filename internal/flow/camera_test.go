package flow

import (
	"sync"
	"testing"
	"time"
)

func TestCameraLease_Exclusive(t *testing.T) {
	lease := NewCameraLease()
	now := time.Now()

	if err := lease.Acquire("a", now); err != nil {
		t.Fatalf("Acquire(a) error = %v", err)
	}
	if err := lease.Acquire("a", now.Add(time.Second)); err != nil {
		t.Errorf("re-Acquire(a) error = %v, want nil", err)
	}
	if err := lease.Acquire("b", now); err != ErrCameraBusy {
		t.Errorf("Acquire(b) error = %v, want ErrCameraBusy", err)
	}

	holder, since := lease.Holder()
	if holder != "a" || !since.Equal(now) {
		t.Errorf("Holder() = %s %v, want a %v", holder, since, now)
	}

	if lease.Release("b") {
		t.Error("Release(b) = true, want false")
	}
	if !lease.Release("a") {
		t.Error("Release(a) = false, want true")
	}
	if err := lease.Acquire("b", now); err != nil {
		t.Errorf("Acquire(b) after release error = %v", err)
	}
}

func TestCameraLease_Concurrent(t *testing.T) {
	lease := NewCameraLease()
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if lease.Acquire(string(rune('a'+id)), time.Now()) == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("winners = %d, want 1", winners)
	}
}
