package worker

import (
	"context"
	"testing"
	"time"
)

func TestDurationInverseToPriority(t *testing.T) {
	rt := Runtime{Base: 5 * time.Second, Min: 100 * time.Millisecond, Max: 10 * time.Second}

	tests := []struct {
		priority float64
		want     time.Duration
	}{
		{1.0, 5 * time.Second},
		{5.0, time.Second},
		{10.0, 500 * time.Millisecond},
		{100.0, 100 * time.Millisecond}, // clamped to Min
		{0.1, 10 * time.Second},         // clamped to Max
		{0, 10 * time.Second},           // non-positive gets Max
		{-3, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := rt.Duration(tt.priority); got != tt.want {
			t.Errorf("Duration(%v) = %v, want %v", tt.priority, got, tt.want)
		}
	}
}

func TestDurationDeterministic(t *testing.T) {
	rt := DefaultRuntime()
	first := rt.Duration(3.7)
	for i := 0; i < 10; i++ {
		if rt.Duration(3.7) != first {
			t.Fatal("duration not deterministic for identical priority")
		}
	}
}

func TestRunRespectsContext(t *testing.T) {
	rt := Runtime{Base: time.Hour, Min: time.Hour, Max: time.Hour}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := rt.Run(ctx, 1.0)
	if err == nil {
		t.Fatal("expected context error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("run blocked %v after cancellation", elapsed)
	}
}

func TestRunCompletes(t *testing.T) {
	rt := Runtime{Base: time.Millisecond, Min: time.Millisecond, Max: 5 * time.Millisecond}
	if err := rt.Run(context.Background(), 1.0); err != nil {
		t.Fatalf("run: %v", err)
	}
}
