package hll

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Representation identifies how registers are laid out in an encoded sketch.
type Representation uint8

const (
	// Sparse stores (index uint16, value uint8) pairs for occupied registers.
	Sparse Representation = 1
	// Dense stores all 2^p register bytes.
	Dense Representation = 2
)

// String returns the representation name.
func (r Representation) String() string {
	switch r {
	case Sparse:
		return "sparse"
	case Dense:
		return "dense"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(r))
	}
}

const (
	// codecVersion is the only encoding version this package reads and writes.
	codecVersion = 1

	// headerSize is version(1) + precision(1) + tag(1) + register count(4).
	headerSize = 7

	// pairCountSize is the uint32 sparse pair count following the header.
	pairCountSize = 4

	// pairSize is index(2) + value(1).
	pairSize = 3

	// sparseOccupancyDivisor selects sparse when nonZero*4 < m (below 25%).
	sparseOccupancyDivisor = 4
)

// ErrMalformedSketch is returned when encoded sketch bytes fail validation.
var ErrMalformedSketch = errors.New("hll: malformed sketch")

// Representation returns the encoding MarshalBinary would choose for the
// current register occupancy.
func (s *Sketch) Representation() Representation {
	return chooseRepresentation(s.NonZero(), s.RegisterCount())
}

func chooseRepresentation(nonZero, regCount int) Representation {
	if nonZero*sparseOccupancyDivisor < regCount {
		return Sparse
	}

	return Dense
}

// MarshalBinary encodes the sketch. Sparse encoding is used when fewer than a
// quarter of the registers are occupied, dense otherwise.
func (s *Sketch) MarshalBinary() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	regCount := len(s.registers)
	nonZero := regCount - countZeroRegisters(s.registers)
	repr := chooseRepresentation(nonZero, regCount)

	var buf []byte

	if repr == Sparse {
		buf = make([]byte, headerSize+pairCountSize, headerSize+pairCountSize+nonZero*pairSize)
		binary.BigEndian.PutUint32(buf[headerSize:], uint32(nonZero))

		for idx, val := range s.registers {
			if val == 0 {
				continue
			}

			buf = binary.BigEndian.AppendUint16(buf, uint16(idx))
			buf = append(buf, val)
		}
	} else {
		buf = make([]byte, headerSize, headerSize+regCount)
		buf = append(buf, s.registers...)
	}

	buf[0] = codecVersion
	buf[1] = s.precision
	buf[2] = uint8(repr)
	binary.BigEndian.PutUint32(buf[3:], uint32(regCount))

	return buf, nil
}

// UnmarshalBinary replaces the sketch contents with the decoded bytes.
// On error the receiver is left unchanged.
func (s *Sketch) UnmarshalBinary(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.registers = decoded.registers
	s.precision = decoded.precision
	s.mu.Unlock()

	return nil
}

// Decode validates and decodes an encoded sketch. Every validation failure
// wraps ErrMalformedSketch; no partially populated sketch is ever returned.
func Decode(data []byte) (*Sketch, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: header needs %d bytes, got %d", ErrMalformedSketch, headerSize, len(data))
	}

	if data[0] != codecVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedSketch, data[0])
	}

	precision := data[1]
	if !ValidPrecision(precision) {
		return nil, fmt.Errorf("%w: precision %d out of range", ErrMalformedSketch, precision)
	}

	regCount := RegisterCountFor(precision)

	declared := binary.BigEndian.Uint32(data[3:headerSize])
	if uint64(declared) != uint64(regCount) {
		return nil, fmt.Errorf("%w: register count %d inconsistent with precision %d",
			ErrMalformedSketch, declared, precision)
	}

	registers := make([]uint8, regCount)
	body := data[headerSize:]

	var err error

	switch Representation(data[2]) {
	case Sparse:
		err = decodeSparse(body, registers, precision)
	case Dense:
		err = decodeDense(body, registers, precision)
	default:
		err = fmt.Errorf("%w: unknown representation tag %d", ErrMalformedSketch, data[2])
	}

	if err != nil {
		return nil, err
	}

	return &Sketch{registers: registers, precision: precision}, nil
}

func decodeSparse(body, registers []uint8, precision uint8) error {
	if len(body) < pairCountSize {
		return fmt.Errorf("%w: truncated sparse pair count", ErrMalformedSketch)
	}

	pairs := uint64(binary.BigEndian.Uint32(body))
	body = body[pairCountSize:]

	if pairs > uint64(len(registers)) {
		return fmt.Errorf("%w: %d sparse pairs exceed %d registers", ErrMalformedSketch, pairs, len(registers))
	}

	if uint64(len(body)) != pairs*pairSize {
		return fmt.Errorf("%w: sparse body is %d bytes, want %d", ErrMalformedSketch, len(body), pairs*pairSize)
	}

	maxRank := MaxRank(precision)
	prev := -1

	for off := 0; off < len(body); off += pairSize {
		idx := int(binary.BigEndian.Uint16(body[off:]))
		val := body[off+2]

		switch {
		case idx >= len(registers):
			return fmt.Errorf("%w: sparse index %d out of range", ErrMalformedSketch, idx)
		case idx <= prev:
			return fmt.Errorf("%w: sparse index %d not ascending", ErrMalformedSketch, idx)
		case val == 0 || val > maxRank:
			return fmt.Errorf("%w: register %d value %d out of range", ErrMalformedSketch, idx, val)
		}

		registers[idx] = val
		prev = idx
	}

	return nil
}

func decodeDense(body, registers []uint8, precision uint8) error {
	if len(body) != len(registers) {
		return fmt.Errorf("%w: dense body is %d bytes, want %d", ErrMalformedSketch, len(body), len(registers))
	}

	maxRank := MaxRank(precision)

	for idx, val := range body {
		if val > maxRank {
			return fmt.Errorf("%w: register %d value %d out of range", ErrMalformedSketch, idx, val)
		}
	}

	copy(registers, body)

	return nil
}
