// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

func TestFakeClockNow(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := Fake(start)

	if !fake.Now().Equal(start) {
		t.Errorf("Now: got %v, want %v", fake.Now(), start)
	}

	fake.Advance(5 * time.Second)
	if !fake.Now().Equal(start.Add(5 * time.Second)) {
		t.Errorf("Now after Advance: got %v, want %v", fake.Now(), start.Add(5*time.Second))
	}
}

func TestFakeClockAfterFunc(t *testing.T) {
	t.Parallel()
	fake := Fake(time.Unix(0, 0))

	fired := 0
	fake.AfterFunc(100*time.Millisecond, func() { fired++ })

	fake.Advance(50 * time.Millisecond)
	if fired != 0 {
		t.Fatalf("callback fired before deadline")
	}

	fake.Advance(50 * time.Millisecond)
	if fired != 1 {
		t.Fatalf("callback fired %d times, want 1", fired)
	}

	// Advancing further must not re-fire a one-shot timer.
	fake.Advance(time.Second)
	if fired != 1 {
		t.Fatalf("callback re-fired: %d times", fired)
	}
}

func TestFakeClockAfterFuncStop(t *testing.T) {
	t.Parallel()
	fake := Fake(time.Unix(0, 0))

	fired := false
	timer := fake.AfterFunc(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Fatal("Stop on pending timer returned false")
	}
	fake.Advance(2 * time.Second)
	if fired {
		t.Fatal("stopped timer fired")
	}
	if timer.Stop() {
		t.Fatal("second Stop returned true")
	}
}

func TestFakeClockAfterFuncReset(t *testing.T) {
	t.Parallel()
	fake := Fake(time.Unix(0, 0))

	fired := 0
	timer := fake.AfterFunc(time.Second, func() { fired++ })

	fake.Advance(time.Second)
	if fired != 1 {
		t.Fatalf("fired %d times, want 1", fired)
	}

	// Reset after firing re-arms the timer.
	if timer.Reset(time.Second) {
		t.Fatal("Reset on fired timer reported it as active")
	}
	fake.Advance(time.Second)
	if fired != 2 {
		t.Fatalf("fired %d times after reset, want 2", fired)
	}
}

func TestFakeClockAfterFuncImmediate(t *testing.T) {
	t.Parallel()
	fake := Fake(time.Unix(0, 0))

	fired := false
	fake.AfterFunc(0, func() { fired = true })
	if !fired {
		t.Fatal("zero-duration AfterFunc did not fire synchronously")
	}
}

func TestFakeClockDeadlineOrder(t *testing.T) {
	t.Parallel()
	fake := Fake(time.Unix(0, 0))

	var order []int
	fake.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	fake.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	fake.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	fake.Advance(5 * time.Second)
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("callbacks fired in order %v, want [1 2 3]", order)
	}
}

func TestFakeClockChainedTimers(t *testing.T) {
	t.Parallel()
	fake := Fake(time.Unix(0, 0))

	// A callback that schedules a follow-up within the same advanced
	// span must also fire. This is the retransmission reschedule
	// pattern.
	fired := 0
	var schedule func()
	schedule = func() {
		fired++
		if fired < 3 {
			fake.AfterFunc(time.Second, schedule)
		}
	}
	fake.AfterFunc(time.Second, schedule)

	fake.Advance(3 * time.Second)
	if fired != 3 {
		t.Fatalf("chained timers fired %d times, want 3", fired)
	}
}

func TestFakeClockPendingCount(t *testing.T) {
	t.Parallel()
	fake := Fake(time.Unix(0, 0))

	timer := fake.AfterFunc(time.Second, func() {})
	fake.AfterFunc(2*time.Second, func() {})
	if fake.PendingCount() != 2 {
		t.Fatalf("PendingCount: got %d, want 2", fake.PendingCount())
	}

	timer.Stop()
	if fake.PendingCount() != 1 {
		t.Fatalf("PendingCount after Stop: got %d, want 1", fake.PendingCount())
	}
}
