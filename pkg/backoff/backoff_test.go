package backoff

import (
	"testing"
	"time"
)

func TestSchedule_Delay(t *testing.T) {
	t.Parallel()

	s := Schedule{Steps: []time.Duration{time.Second, 2 * time.Second}}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{-1, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 2 * time.Second}, // past the end reuses the last step
		{10, 2 * time.Second},
	}

	for _, tt := range tests {
		if got := s.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestSchedule_Jitter(t *testing.T) {
	t.Parallel()

	s := Schedule{
		Steps:  []time.Duration{time.Second, 2 * time.Second},
		Jitter: 500 * time.Millisecond,
	}

	for range 100 {
		d1 := s.Delay(1)
		if d1 < time.Second || d1 >= 1500*time.Millisecond {
			t.Fatalf("Delay(1) = %v, want [1s, 1.5s)", d1)
		}
		d2 := s.Delay(2)
		if d2 < 2*time.Second || d2 >= 2500*time.Millisecond {
			t.Fatalf("Delay(2) = %v, want [2s, 2.5s)", d2)
		}
	}
}

func TestSchedule_Empty(t *testing.T) {
	t.Parallel()

	var s Schedule
	if got := s.Delay(1); got != 0 {
		t.Errorf("Delay(1) on empty schedule = %v, want 0", got)
	}
}

func TestExponential_Defaults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{6, 3200 * time.Millisecond},
		{7, 5 * time.Second}, // capped at max
	}

	for _, tt := range tests {
		if got := Exponential(tt.attempt, nil); got != tt.want {
			t.Errorf("Exponential(%d, nil) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_CustomConfig(t *testing.T) {
	t.Parallel()

	cfg := &Config{Initial: 50 * time.Millisecond, Max: 200 * time.Millisecond}

	if got := Exponential(1, cfg); got != 50*time.Millisecond {
		t.Errorf("Exponential(1) = %v, want 50ms", got)
	}
	if got := Exponential(4, cfg); got != 200*time.Millisecond {
		t.Errorf("Exponential(4) = %v, want 200ms (capped)", got)
	}
	if got := Exponential(0, cfg); got != 50*time.Millisecond {
		t.Errorf("Exponential(0) = %v, want 50ms", got)
	}
}
