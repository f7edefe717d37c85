package chunked

import (
	"math/big"

	"github.com/iden3/go-iden3-crypto/poseidon"
)

// Commitment hashes a modulus into a single field element: the modulus is
// encoded under the given hash layout and the limbs are fed to Poseidon as
// field elements, not as bytes. The same modulus always yields the same
// commitment.
func Commitment(modulus *big.Int, layout Layout) (*big.Int, error) {
	if err := layout.ValidateForHashing(); err != nil {
		return nil, err
	}
	limbs, err := Encode(modulus, layout)
	if err != nil {
		return nil, err
	}
	return poseidon.Hash(limbs)
}
