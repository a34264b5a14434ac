package encryption

import (
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/sha3"
)

const (
	KDFSimple   = "simple"
	KDFArgon2id = "argon2id"
)

// KDF turns a session secret and salt into a 256-bit AES key.
type KDF interface {
	Name() string
	DeriveKey(secret, salt []byte) ([]byte, error)
}

// SimpleKDF is a single, non-iterated Keccak-256 over secret and salt.
type SimpleKDF struct{}

func (SimpleKDF) Name() string {
	return KDFSimple
}

func (SimpleKDF) DeriveKey(secret, salt []byte) ([]byte, error) {
	if len(salt) < SaltSize {
		return nil, fmt.Errorf("salt must be at least %d bytes", SaltSize)
	}
	d := sha3.NewLegacyKeccak256()
	d.Write(secret)
	d.Write(salt)
	return d.Sum(nil), nil
}

// Argon2idKDF is the memory-hard alternative.
type Argon2idKDF struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

func DefaultArgon2id() Argon2idKDF {
	return Argon2idKDF{Time: 1, Memory: 64 * 1024, Threads: 4}
}

func (Argon2idKDF) Name() string {
	return KDFArgon2id
}

func (k Argon2idKDF) DeriveKey(secret, salt []byte) ([]byte, error) {
	if len(salt) < SaltSize {
		return nil, fmt.Errorf("salt must be at least %d bytes", SaltSize)
	}
	return argon2.IDKey(secret, salt, k.Time, k.Memory, k.Threads, KeySize), nil
}

// KDFByName resolves a configured KDF name.
func KDFByName(name string) (KDF, error) {
	switch name {
	case "", KDFSimple:
		return SimpleKDF{}, nil
	case KDFArgon2id:
		return DefaultArgon2id(), nil
	default:
		return nil, fmt.Errorf("unknown kdf %q", name)
	}
}
