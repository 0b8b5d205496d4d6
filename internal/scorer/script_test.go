package scorer

import "testing"

func TestScriptScore(t *testing.T) {
	s, err := NewScript(`features.name_length * 0.1 + 1`, 0.1, 10.0)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	got, err := s.Score(Features{NameLength: 20})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if got != 3.0 {
		t.Errorf("score = %v, want 3.0", got)
	}
}

func TestScriptScoreClamped(t *testing.T) {
	s, err := NewScript(`1000`, 0.1, 10.0)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	got, err := s.Score(Features{})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if got != 10.0 {
		t.Errorf("score = %v, want clamped to 10.0", got)
	}
}

func TestScriptCompileError(t *testing.T) {
	if _, err := NewScript(`this is not javascript (`, 0.1, 10.0); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestScriptNonNumericResult(t *testing.T) {
	s, err := NewScript(`"not a number"`, 0.1, 10.0)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if _, err := s.Score(Features{}); err == nil {
		t.Fatal("expected error for non-numeric result")
	}
}

func TestScriptUsesOwnerID(t *testing.T) {
	s, err := NewScript(`features.owner_id === "vip" ? 9 : 1`, 0.1, 10.0)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	vip, err := s.Score(Features{OwnerID: "vip"})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if vip != 9.0 {
		t.Errorf("vip score = %v, want 9.0", vip)
	}

	other, err := s.Score(Features{OwnerID: "someone"})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if other != 1.0 {
		t.Errorf("other score = %v, want 1.0", other)
	}
}
