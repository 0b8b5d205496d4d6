package model

import (
	"testing"
	"time"
)

func TestTaskBeforeOrdering(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		a, b Task
		want bool
	}{
		{
			name: "higher priority first",
			a:    Task{ID: "z", Priority: 5, CreatedAt: base.Add(time.Hour)},
			b:    Task{ID: "a", Priority: 1, CreatedAt: base},
			want: true,
		},
		{
			name: "equal priority, older first",
			a:    Task{ID: "z", Priority: 2, CreatedAt: base},
			b:    Task{ID: "a", Priority: 2, CreatedAt: base.Add(time.Second)},
			want: true,
		},
		{
			name: "full tie breaks on id",
			a:    Task{ID: "tsk_a", Priority: 2, CreatedAt: base},
			b:    Task{ID: "tsk_b", Priority: 2, CreatedAt: base},
			want: true,
		},
		{
			name: "lower priority later",
			a:    Task{ID: "a", Priority: 1, CreatedAt: base},
			b:    Task{ID: "z", Priority: 5, CreatedAt: base},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Before(&tt.b); got != tt.want {
				t.Errorf("Before = %v, want %v", got, tt.want)
			}
			// Antisymmetry on distinct tasks.
			if tt.a.ID != tt.b.ID {
				if rev := tt.b.Before(&tt.a); rev == tt.want {
					t.Errorf("ordering not antisymmetric: both directions %v", rev)
				}
			}
		})
	}
}
