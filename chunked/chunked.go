// Package chunked splits arbitrary-precision integers into fixed-width limbs
// so that RSA-sized values fit the inputs of an arithmetic circuit, and hashes
// the limbs into a single field-element commitment.
package chunked

import (
	"errors"
	"fmt"
	"math/big"
)

const (
	// FieldBits is the bit capacity of the BN254 scalar field that the
	// commitment hash operates on. Limbs must stay strictly below this
	// width, or they would silently wrap around when reduced modulo the
	// field order.
	FieldBits = 254

	// MaxHashInputs is the largest number of field elements a single
	// Poseidon invocation accepts.
	MaxHashInputs = 16
)

// ErrEncodingOverflow is returned when an integer does not fit the requested
// chunk layout. Callers must treat this as fatal for the affected key; the
// encoder never truncates.
var ErrEncodingOverflow = errors.New("integer too large for chunk layout")

// A Layout describes how an integer is sliced: Count limbs of Bits bits each,
// least significant limb first.
type Layout struct {
	Bits  int
	Count int
}

var (
	// ByteLayout is the witness representation consumed on-chain and by
	// the verification circuit: 17 limbs of 121 bits cover a 2048-bit
	// RSA modulus.
	ByteLayout = Layout{Bits: 121, Count: 17}

	// HashLayout minimizes the number of hash inputs per key: 9 limbs of
	// 242 bits, comfortably within the 16-input Poseidon limit.
	HashLayout = Layout{Bits: 242, Count: 9}
)

// Capacity returns the largest bit length the layout can represent.
func (layout Layout) Capacity() int {
	return layout.Bits * layout.Count
}

func (layout Layout) String() string {
	return fmt.Sprintf("%dx%d bits", layout.Count, layout.Bits)
}

// Validate checks that limbs produced under this layout are usable as field
// elements.
func (layout Layout) Validate() error {
	if layout.Bits <= 0 || layout.Count <= 0 {
		return fmt.Errorf("chunk layout [%s]: width and count must be positive", layout)
	}
	if layout.Bits >= FieldBits {
		return fmt.Errorf("chunk layout [%s]: %d-bit limbs do not fit a %d-bit field element", layout, layout.Bits, FieldBits)
	}
	return nil
}

// ValidateForHashing additionally checks the layout against the hash
// function's input limit.
func (layout Layout) ValidateForHashing() error {
	if err := layout.Validate(); err != nil {
		return err
	}
	if layout.Count > MaxHashInputs {
		return fmt.Errorf("chunk layout [%s]: %d limbs exceed the %d-input hash limit", layout, layout.Count, MaxHashInputs)
	}
	return nil
}

// Encode splits n into layout.Count limbs of layout.Bits bits each, least
// significant limb first. It fails with ErrEncodingOverflow when n has more
// than layout.Capacity() bits, and never returns a partial encoding.
func Encode(n *big.Int, layout Layout) ([]*big.Int, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	if n == nil || n.Sign() < 0 {
		return nil, errors.New("chunked: integer must be non-negative")
	}
	if n.BitLen() > layout.Capacity() {
		return nil, fmt.Errorf("%w: %d bits > %s", ErrEncodingOverflow, n.BitLen(), layout)
	}
	mask := new(big.Int).Lsh(big.NewInt(1), uint(layout.Bits))
	mask.Sub(mask, big.NewInt(1))
	rest := new(big.Int).Set(n)
	limbs := make([]*big.Int, layout.Count)
	for i := 0; i < layout.Count; i++ {
		limbs[i] = new(big.Int).And(rest, mask)
		rest.Rsh(rest, uint(layout.Bits))
	}
	return limbs, nil
}

// Decode reassembles the integer a limb sequence was produced from:
// the sum of limbs[i]*2^(layout.Bits*i).
func Decode(limbs []*big.Int, layout Layout) *big.Int {
	n := new(big.Int)
	for i := len(limbs) - 1; i >= 0; i-- {
		n.Lsh(n, uint(layout.Bits))
		n.Or(n, limbs[i])
	}
	return n
}
