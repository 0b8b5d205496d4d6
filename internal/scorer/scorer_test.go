package scorer

import (
	"testing"
)

func TestConstantScore(t *testing.T) {
	c := Constant{Value: 3.5}
	got, err := c.Score(Features{NameLength: 99, OwnerID: "anyone"})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if got != 3.5 {
		t.Errorf("score = %v, want 3.5", got)
	}
}

func TestLinearScoreDeterministic(t *testing.T) {
	l := NewLinear(0.1, 10.0)
	f := Features{NameLength: 10, DescriptionLength: 40, OwnerID: "alice"}

	first, err := l.Score(f)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := l.Score(f)
		if err != nil {
			t.Fatalf("score: %v", err)
		}
		if again != first {
			t.Fatalf("score changed between calls: %v vs %v", first, again)
		}
	}
}

func TestLinearScoreClamped(t *testing.T) {
	l := NewLinear(0.1, 10.0)

	// A huge description pushes the raw sum past the ceiling.
	high, err := l.Score(Features{NameLength: 200, DescriptionLength: 100000, OwnerID: "x"})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if high != 10.0 {
		t.Errorf("score = %v, want clamped to 10.0", high)
	}

	// Negative weights can push below the floor.
	neg := Linear{NameWeight: -1.0, Bias: 0, Min: 0.1, Max: 10.0}
	low, err := neg.Score(Features{NameLength: 50})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if low != 0.1 {
		t.Errorf("score = %v, want clamped to 0.1", low)
	}
}

func TestLinearLongerNameScoresHigher(t *testing.T) {
	l := NewLinear(0.1, 10.0)

	short, err := l.Score(Features{NameLength: 5, OwnerID: "alice"})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	long, err := l.Score(Features{NameLength: 50, OwnerID: "alice"})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if long <= short {
		t.Errorf("longer name scored %v, short scored %v; want strictly higher", long, short)
	}
}

func TestOwnerFeatureStable(t *testing.T) {
	a := ownerFeature("alice")
	if a != ownerFeature("alice") {
		t.Error("owner feature not stable across calls")
	}
	if a < 0 || a >= 100 {
		t.Errorf("owner feature %v out of [0, 100)", a)
	}
}
