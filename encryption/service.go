package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"

	"quantum-voting/models"
)

const (
	SaltSize       = 16
	NonceSize      = 12
	TagSize        = 16
	TokenNonceSize = 16
	KeySize        = 32
)

var ErrEmptySecret = errors.New("session secret is empty")

type CryptoService struct {
	kdf KDF
}

type Option func(*CryptoService)

func WithKDF(kdf KDF) Option {
	return func(cs *CryptoService) {
		cs.kdf = kdf
	}
}

func NewCryptoService(opts ...Option) *CryptoService {
	cs := &CryptoService{kdf: SimpleKDF{}}
	for _, opt := range opts {
		opt(cs)
	}
	return cs
}

// KDFName reports the key derivation in use.
func (cs *CryptoService) KDFName() string {
	return cs.kdf.Name()
}

// SealBallot encrypts the canonical ballot under a key derived from secret
// and a fresh salt, and computes the ballot's uniqueness token.
func (cs *CryptoService) SealBallot(ballot models.Ballot, secret []byte) (*models.SealedBallot, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	if ballot.Timestamp.IsZero() {
		ballot.Timestamp = time.Now().UTC()
	}

	salt, err := randomBytes(SaltSize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := cs.newGCM(secret, salt)
	if err != nil {
		return nil, err
	}

	nonce, err := randomBytes(NonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(ballot.Canonical()), nil)
	split := len(sealed) - TagSize

	token, err := cs.UniquenessToken(ballot, secret)
	if err != nil {
		return nil, err
	}

	return &models.SealedBallot{
		Ciphertext:      sealed[:split],
		Tag:             sealed[split:],
		Nonce:           nonce,
		Salt:            salt,
		UniquenessToken: token,
	}, nil
}

// OpenBallot authenticates and decrypts a sealed ballot. Every failure is
// reported as an *IntegrityError.
func (cs *CryptoService) OpenBallot(sealed *models.SealedBallot, secret []byte) (models.Ballot, error) {
	if sealed == nil {
		return models.Ballot{}, integrityFailure("sealed ballot is nil", nil)
	}
	if len(secret) == 0 {
		return models.Ballot{}, integrityFailure("session secret is empty", nil)
	}
	if len(sealed.Nonce) != NonceSize {
		return models.Ballot{}, integrityFailure(fmt.Sprintf("nonce must be %d bytes, got %d", NonceSize, len(sealed.Nonce)), nil)
	}
	if len(sealed.Salt) < SaltSize {
		return models.Ballot{}, integrityFailure(fmt.Sprintf("salt must be at least %d bytes, got %d", SaltSize, len(sealed.Salt)), nil)
	}
	if len(sealed.Tag) != TagSize {
		return models.Ballot{}, integrityFailure(fmt.Sprintf("tag must be %d bytes, got %d", TagSize, len(sealed.Tag)), nil)
	}

	gcm, err := cs.newGCM(secret, sealed.Salt)
	if err != nil {
		return models.Ballot{}, integrityFailure("key derivation failed", err)
	}

	input := make([]byte, 0, len(sealed.Ciphertext)+TagSize)
	input = append(input, sealed.Ciphertext...)
	input = append(input, sealed.Tag...)

	plaintext, err := gcm.Open(nil, sealed.Nonce, input, nil)
	if err != nil {
		return models.Ballot{}, integrityFailure("authentication failed", err)
	}

	ballot, err := models.ParseBallot(string(plaintext))
	if err != nil {
		return models.Ballot{}, integrityFailure("malformed plaintext", err)
	}
	return ballot, nil
}

// VerifyIntegrity reports whether the sealed ballot opens under secret.
func (cs *CryptoService) VerifyIntegrity(sealed *models.SealedBallot, secret []byte) bool {
	_, err := cs.OpenBallot(sealed, secret)
	return err == nil
}

// UniquenessToken digests the ballot's semantic fields, the secret and fresh
// randomness. Identical ballots yield distinct tokens.
func (cs *CryptoService) UniquenessToken(ballot models.Ballot, secret []byte) (string, error) {
	salt, err := randomBytes(TokenNonceSize)
	if err != nil {
		return "", fmt.Errorf("failed to generate token salt: %w", err)
	}
	digest := cs.Keccak256(
		[]byte(strconv.Itoa(ballot.ConstituencyID)),
		[]byte{':'},
		[]byte(strconv.Itoa(ballot.CandidateID)),
		[]byte{':'},
		secret,
		salt,
	)
	return hex.EncodeToString(digest), nil
}

func (cs *CryptoService) newGCM(secret, salt []byte) (cipher.AEAD, error) {
	key, err := cs.kdf.DeriveKey(secret, salt)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// GenerateKeyPair generates a new secp256k1 key pair
func (cs *CryptoService) GenerateKeyPair() (*ecdsa.PrivateKey, error) {
	return crypto.GenerateKey()
}

// Sign creates a digital signature of data using private key
func (cs *CryptoService) Sign(data []byte, privateKey *ecdsa.PrivateKey) ([]byte, error) {
	hash := cs.Keccak256(data)
	return crypto.Sign(hash, privateKey)
}

// VerifySignature verifies the signature of data using public key
func (cs *CryptoService) VerifySignature(data, signature []byte, publicKey *ecdsa.PublicKey) bool {
	hash := cs.Keccak256(data)
	sigPublicKey, err := crypto.SigToPub(hash, signature)
	if err != nil {
		return false
	}
	return sigPublicKey.X.Cmp(publicKey.X) == 0 && sigPublicKey.Y.Cmp(publicKey.Y) == 0
}

// FromECDSAPub serializes public key to bytes
func (cs *CryptoService) FromECDSAPub(pub *ecdsa.PublicKey) []byte {
	if pub == nil || pub.X == nil || pub.Y == nil {
		return nil
	}
	return crypto.FromECDSAPub(pub)
}

// Keccak256 computes Keccak-256 hash
func (cs *CryptoService) Keccak256(data ...[]byte) []byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
