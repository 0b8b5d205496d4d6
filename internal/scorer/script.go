package scorer

import (
	"fmt"
	"math"

	"github.com/dop251/goja"
)

// Script evaluates a JavaScript expression to score a task. The expression
// sees a `features` object with name_length, description_length and
// owner_id, and must evaluate to a finite number, e.g.
//
//	features.name_length * 0.1 + features.description_length * 0.01
//
// The program is compiled once; each Score call runs it in a fresh VM so
// scripts cannot accumulate state between calls.
type Script struct {
	prog *goja.Program
	min  float64
	max  float64
}

// NewScript compiles the expression and returns a Script scorer with the
// given bounds. Compilation errors are reported up front so a broken
// expression fails at startup, not on first submission.
func NewScript(expr string, min, max float64) (*Script, error) {
	prog, err := goja.Compile("scorer", expr, false)
	if err != nil {
		return nil, fmt.Errorf("compile scorer script: %w", err)
	}
	return &Script{prog: prog, min: min, max: max}, nil
}

func (s *Script) Score(f Features) (float64, error) {
	vm := goja.New()
	if err := vm.Set("features", map[string]any{
		"name_length":        f.NameLength,
		"description_length": f.DescriptionLength,
		"owner_id":           f.OwnerID,
	}); err != nil {
		return 0, fmt.Errorf("script scorer: set features: %w", err)
	}

	v, err := vm.RunProgram(s.prog)
	if err != nil {
		return 0, fmt.Errorf("script scorer: %w", err)
	}

	out := v.ToFloat()
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return 0, fmt.Errorf("script scorer: expression produced non-finite value")
	}
	return clamp(out, s.min, s.max), nil
}
