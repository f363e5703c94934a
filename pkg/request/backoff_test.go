package request

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExponential(t *testing.T) {
	tests := []struct {
		name    string
		attempt int
		want    time.Duration
	}{
		{"First attempt", 1, 2 * time.Second},
		{"Second attempt", 2, 4 * time.Second},
		{"Fifth attempt", 5, 32 * time.Second},
		{"Clamped below", 0, 2 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Exponential(2*time.Second, tt.attempt); got != tt.want {
				t.Errorf("Exponential(2s, %d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestLinear(t *testing.T) {
	if got := Linear(time.Second, 3); got != 3*time.Second {
		t.Errorf("Linear(1s, 3) = %v", got)
	}
	if got := Linear(time.Second, -1); got != time.Second {
		t.Errorf("Linear(1s, -1) = %v", got)
	}
}

func TestSleep(t *testing.T) {
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep ignored cancellation")
	}
}
