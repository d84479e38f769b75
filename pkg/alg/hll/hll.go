// Package hll provides a mergeable HyperLogLog cardinality estimator.
//
// A Sketch estimates the number of distinct items in a multiset with
// approximately 1.04/sqrt(2^p) standard error using 2^p one-byte registers
// (4 KB at the default precision 12). Sketches of equal precision merge
// exactly by elementwise register maximum, so per-shard sketches can be
// built independently and combined in any order.
//
// Estimation uses the classic three-regime estimator from Flajolet et al.
// (2007): the raw harmonic-mean estimate, linear counting for small
// cardinalities, and the large-range correction near 2^64.
package hll

import (
	"errors"
	"math"
	"math/bits"
	"sync"

	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/alg/internal/hashutil"
)

const (
	// MinPrecision is the minimum allowed precision (2^4 = 16 registers).
	MinPrecision = 4

	// MaxPrecision is the maximum allowed precision (2^16 = 65536 registers).
	// The sparse encoding stores register indices as uint16.
	MaxPrecision = 16

	// DefaultPrecision gives 4096 registers and ~1.6% standard error.
	DefaultPrecision = 12

	// hashBits is the total number of bits in the hash output.
	hashBits = 64

	// precisionP5 is precision 5 for alpha constant lookup.
	precisionP5 = 5

	// precisionP6 is precision 6 for alpha constant lookup.
	precisionP6 = 6

	// alphaP4 is the alpha constant for 2^4 = 16 registers.
	alphaP4 = 0.673

	// alphaP5 is the alpha constant for 2^5 = 32 registers.
	alphaP5 = 0.697

	// alphaP6 is the alpha constant for 2^6 = 64 registers.
	alphaP6 = 0.709

	// alphaGenericNumerator is the numerator in the generic alpha formula.
	alphaGenericNumerator = 0.7213

	// alphaGenericDenominatorCoeff is the coefficient in the generic alpha denominator.
	alphaGenericDenominatorCoeff = 1.079

	// linearCountingFactor bounds the small-range regime: E <= 2.5m.
	linearCountingFactor = 2.5

	// largeRangeDivisor bounds the large-range regime: E > 2^64/30.
	largeRangeDivisor = 30
)

// twoPow64 is 2^64 as a float, the size of the hash space.
var twoPow64 = math.Ldexp(1, hashBits)

var (
	// ErrPrecisionOutOfRange is returned when precision is not in [4, 16].
	ErrPrecisionOutOfRange = errors.New("hll: precision must be in [4, 16]")

	// ErrPrecisionMismatch is returned when merging sketches with different precisions.
	ErrPrecisionMismatch = errors.New("hll: cannot merge sketches with different precisions")
)

// Sketch is a thread-safe HyperLogLog cardinality estimator.
type Sketch struct {
	mu        sync.RWMutex
	registers []uint8
	precision uint8
}

// New creates a HyperLogLog sketch with the given precision p.
// Precision must be in [4, 16]. The sketch allocates 2^p registers (bytes).
func New(precision uint8) (*Sketch, error) {
	if !ValidPrecision(precision) {
		return nil, ErrPrecisionOutOfRange
	}

	return &Sketch{
		registers: make([]uint8, RegisterCountFor(precision)),
		precision: precision,
	}, nil
}

// ValidPrecision reports whether p is a supported precision.
func ValidPrecision(p uint8) bool {
	return p >= MinPrecision && p <= MaxPrecision
}

// RegisterCountFor returns 2^p.
func RegisterCountFor(p uint8) int {
	return 1 << p
}

// MaxRank returns the largest register value reachable at precision p (64-p+1).
func MaxRank(p uint8) uint8 {
	return hashBits - p + 1
}

// Add inserts item into the sketch.
func (s *Sketch) Add(item []byte) {
	s.AddHash(hashutil.Sum64(item))
}

// AddHash inserts an item that the caller has already hashed with the
// package hash. Used by producers that hash a key once for several sketches.
func (s *Sketch) AddHash(hashVal uint64) {
	idx, rho := split(hashVal, s.precision)

	s.mu.Lock()

	if rho > s.registers[idx] {
		s.registers[idx] = rho
	}

	s.mu.Unlock()
}

// Hash returns the package hash of item, suitable for AddHash.
func Hash(item []byte) uint64 {
	return hashutil.Sum64(item)
}

// split derives the register index (top p bits) and rank of a hash value.
// The rank is one plus the number of leading zeros in the remaining 64-p
// bits, which caps it at 64-p+1 when those bits are all zero.
func split(hashVal uint64, precision uint8) (uint64, uint8) {
	idx := hashVal >> (hashBits - precision)

	remaining := uint(hashBits - precision)
	mask := (uint64(1) << remaining) - 1
	w := hashVal & mask

	rho := uint8(remaining-uint(bits.Len64(w))) + 1

	return idx, rho
}

// Estimate returns the estimated number of distinct items as a float.
// It is deterministic in the register contents, finite, and lies in
// [0, 2^64].
func (s *Sketch) Estimate() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return estimate(s.registers, s.precision)
}

// Count returns Estimate rounded to the nearest integer, saturating at
// math.MaxUint64.
func (s *Sketch) Count() uint64 {
	est := math.Round(s.Estimate())
	if est >= twoPow64 {
		return math.MaxUint64
	}

	return uint64(est)
}

// estimate implements the three-regime HyperLogLog estimator.
func estimate(registers []uint8, precision uint8) float64 {
	regCount := float64(len(registers))
	zeros := countZeroRegisters(registers)

	if zeros == len(registers) {
		return 0
	}

	raw := alpha(precision) * regCount * regCount / computeHarmonicSum(registers)

	switch {
	case raw <= linearCountingFactor*regCount && zeros > 0:
		return regCount * math.Log(regCount/float64(zeros))
	case raw >= twoPow64:
		// Saturated registers; the correction below would take ln of a
		// non-positive value.
		return twoPow64
	case raw > twoPow64/largeRangeDivisor:
		return math.Min(-twoPow64*math.Log(1-raw/twoPow64), twoPow64)
	default:
		return raw
	}
}

// countZeroRegisters counts registers that are still at zero.
func countZeroRegisters(registers []uint8) int {
	count := 0

	for _, val := range registers {
		if val == 0 {
			count++
		}
	}

	return count
}

// computeHarmonicSum computes the sum of 2^(-M[j]) for all registers.
func computeHarmonicSum(registers []uint8) float64 {
	sum := 0.0

	for _, val := range registers {
		sum += math.Exp2(-float64(val))
	}

	return sum
}

// alpha returns the alpha_m constant used in the HLL estimate formula.
// For m >= 128, alpha_m = 0.7213 / (1 + 1.079/m).
func alpha(precision uint8) float64 {
	regCount := float64(RegisterCountFor(precision))

	switch precision {
	case MinPrecision:
		return alphaP4
	case precisionP5:
		return alphaP5
	case precisionP6:
		return alphaP6
	default:
		return alphaGenericNumerator / (1 + alphaGenericDenominatorCoeff/regCount)
	}
}

// Merge combines another sketch into this one by taking the element-wise
// maximum of registers. Both sketches must have the same precision.
// Merging a sketch into itself leaves it unchanged.
func (s *Sketch) Merge(other *Sketch) error {
	if s.precision != other.precision {
		return ErrPrecisionMismatch
	}

	if s == other {
		return nil
	}

	// Copy first so the two locks are never held together.
	src := other.Registers()

	s.mu.Lock()
	defer s.mu.Unlock()

	maxInto(s.registers, src)

	return nil
}

func maxInto(dst, src []uint8) {
	for i, val := range src {
		if val > dst[i] {
			dst[i] = val
		}
	}
}

// Precision returns the configured precision of the sketch.
func (s *Sketch) Precision() uint8 {
	return s.precision
}

// RegisterCount returns the number of registers (2^p).
func (s *Sketch) RegisterCount() int {
	return RegisterCountFor(s.precision)
}

// Registers returns a copy of the register array.
func (s *Sketch) Registers() []uint8 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	regs := make([]uint8, len(s.registers))
	copy(regs, s.registers)

	return regs
}

// NonZero returns the number of occupied registers.
func (s *Sketch) NonZero() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.registers) - countZeroRegisters(s.registers)
}

// IsEmpty reports whether no item has been added.
func (s *Sketch) IsEmpty() bool {
	return s.NonZero() == 0
}

// Equal reports whether both sketches have the same precision and
// register-for-register identical contents.
func (s *Sketch) Equal(other *Sketch) bool {
	if s == other {
		return true
	}

	if s.precision != other.precision {
		return false
	}

	a := s.Registers()
	b := other.Registers()

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

// Reset clears all registers without reallocating the underlying array.
func (s *Sketch) Reset() {
	s.mu.Lock()

	for i := range s.registers {
		s.registers[i] = 0
	}

	s.mu.Unlock()
}

// Clone creates a deep copy of the sketch.
func (s *Sketch) Clone() *Sketch {
	return &Sketch{
		registers: s.Registers(),
		precision: s.precision,
	}
}
