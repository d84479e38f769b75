package hll

import "errors"

// ErrEmptyUnion is returned when Union is called without operands.
var ErrEmptyUnion = errors.New("hll: union of zero sketches")

// Union returns a fresh sketch holding the elementwise register maximum of
// all operands. The operands are not modified. All operands must share one
// precision. The result does not depend on operand order or grouping.
func Union(sketches ...*Sketch) (*Sketch, error) {
	if len(sketches) == 0 {
		return nil, ErrEmptyUnion
	}

	precision := sketches[0].precision

	for _, sk := range sketches[1:] {
		if sk.precision != precision {
			return nil, ErrPrecisionMismatch
		}
	}

	out := sketches[0].Clone()

	for _, sk := range sketches[1:] {
		sk.mu.RLock()
		maxInto(out.registers, sk.registers)
		sk.mu.RUnlock()
	}

	return out, nil
}
