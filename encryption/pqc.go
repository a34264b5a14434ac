package encryption

import (
	"crypto/hmac"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// SimulatedSignerAlgorithm labels signatures from SimulatedSigner.
const SimulatedSignerAlgorithm = "Dilithium2-simulated"

// SimulatedSigner stands in for a post-quantum signature scheme. A
// signature is SHA3-512 over the private material and message, so
// verification needs the private material too. It is not a signature
// scheme and must not be trusted as one.
type SimulatedSigner struct {
	private []byte
	public  []byte
}

func NewSimulatedSigner() (*SimulatedSigner, error) {
	private, err := randomBytes(64)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signer material: %w", err)
	}
	public := sha3.Sum512(private)
	return &SimulatedSigner{private: private, public: public[:]}, nil
}

func (s *SimulatedSigner) Algorithm() string {
	return SimulatedSignerAlgorithm
}

// PublicKey returns the hex digest of the private material.
func (s *SimulatedSigner) PublicKey() string {
	return hex.EncodeToString(s.public)
}

func (s *SimulatedSigner) Sign(message []byte) []byte {
	h := sha3.New512()
	h.Write(s.private)
	h.Write(message)
	return h.Sum(nil)
}

func (s *SimulatedSigner) Verify(message, signature []byte) bool {
	return hmac.Equal(s.Sign(message), signature)
}
