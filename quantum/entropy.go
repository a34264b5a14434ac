package quantum

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math/bits"

	"quantum-voting/models"
)

// entropy hands out bits, bases and bounded integers drawn from a
// buffered cryptographic source.
type entropy struct {
	reader *bufio.Reader
	cache  byte
	left   int
	word   [8]byte
}

func newEntropy(source io.Reader) *entropy {
	return &entropy{reader: bufio.NewReaderSize(source, 4096)}
}

func (e *entropy) bit() (uint8, error) {
	if e.left == 0 {
		b, err := e.reader.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("failed to read randomness: %w", err)
		}
		e.cache = b
		e.left = 8
	}
	v := e.cache & 1
	e.cache >>= 1
	e.left--
	return v, nil
}

func (e *entropy) basis() (models.Basis, error) {
	b, err := e.bit()
	if err != nil {
		return 0, err
	}
	return models.Basis(b), nil
}

func (e *entropy) uint64() (uint64, error) {
	if _, err := io.ReadFull(e.reader, e.word[:]); err != nil {
		return 0, fmt.Errorf("failed to read randomness: %w", err)
	}
	return binary.BigEndian.Uint64(e.word[:]), nil
}

// float returns a uniform value in [0, 1).
func (e *entropy) float() (float64, error) {
	v, err := e.uint64()
	if err != nil {
		return 0, err
	}
	return float64(v>>11) / (1 << 53), nil
}

// intn returns a uniform value in [0, n) without modulo bias.
func (e *entropy) intn(n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("invalid bound %d", n)
	}
	bound := uint64(n)
	threshold := -bound % bound
	for {
		v, err := e.uint64()
		if err != nil {
			return 0, err
		}
		hi, lo := bits.Mul64(v, bound)
		if lo >= threshold {
			return int(hi), nil
		}
	}
}
