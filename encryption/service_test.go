package encryption

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantum-voting/models"
	"quantum-voting/quantum"
)

func testSecret(t *testing.T) []byte {
	t.Helper()
	secret, err := randomBytes(32)
	require.NoError(t, err)
	return secret
}

func testBallot() models.Ballot {
	return models.Ballot{
		ConstituencyID: 7,
		CandidateID:    3,
		Timestamp:      time.Date(2026, 5, 4, 10, 30, 15, 123456789, time.UTC),
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	cs := NewCryptoService()
	secret := testSecret(t)
	ballot := testBallot()

	sealed, err := cs.SealBallot(ballot, secret)
	require.NoError(t, err)
	assert.Len(t, sealed.Nonce, NonceSize)
	assert.Len(t, sealed.Tag, TagSize)
	assert.GreaterOrEqual(t, len(sealed.Salt), SaltSize)
	assert.Len(t, sealed.UniquenessToken, 64)

	opened, err := cs.OpenBallot(sealed, secret)
	require.NoError(t, err)
	assert.Equal(t, ballot.ConstituencyID, opened.ConstituencyID)
	assert.Equal(t, ballot.CandidateID, opened.CandidateID)
	assert.True(t, ballot.Timestamp.Equal(opened.Timestamp))
	assert.True(t, cs.VerifyIntegrity(sealed, secret))
}

func TestSealFillsMissingTimestamp(t *testing.T) {
	cs := NewCryptoService()
	secret := testSecret(t)

	sealed, err := cs.SealBallot(models.Ballot{ConstituencyID: 1, CandidateID: 2}, secret)
	require.NoError(t, err)

	opened, err := cs.OpenBallot(sealed, secret)
	require.NoError(t, err)
	assert.False(t, opened.Timestamp.IsZero())
}

func TestSealRejectsEmptySecret(t *testing.T) {
	_, err := NewCryptoService().SealBallot(testBallot(), nil)
	require.ErrorIs(t, err, ErrEmptySecret)
}

func TestVerifyIntegrityDetectsSingleByteFlips(t *testing.T) {
	cs := NewCryptoService()
	secret := testSecret(t)

	sealed, err := cs.SealBallot(testBallot(), secret)
	require.NoError(t, err)

	for i := range sealed.Ciphertext {
		tampered := cloneSealed(sealed)
		tampered.Ciphertext[i] ^= 0x01
		assert.False(t, cs.VerifyIntegrity(tampered, secret), "ciphertext byte %d", i)
	}
	for i := range sealed.Tag {
		tampered := cloneSealed(sealed)
		tampered.Tag[i] ^= 0x80
		assert.False(t, cs.VerifyIntegrity(tampered, secret), "tag byte %d", i)
	}

	tampered := cloneSealed(sealed)
	tampered.Salt[0] ^= 0xff
	assert.False(t, cs.VerifyIntegrity(tampered, secret))

	assert.True(t, cs.VerifyIntegrity(sealed, secret))
}

func TestOpenReportsTypedIntegrityError(t *testing.T) {
	cs := NewCryptoService()
	secret := testSecret(t)

	sealed, err := cs.SealBallot(testBallot(), secret)
	require.NoError(t, err)

	cases := map[string]func(*models.SealedBallot){
		"short nonce": func(s *models.SealedBallot) { s.Nonce = s.Nonce[:8] },
		"short salt":  func(s *models.SealedBallot) { s.Salt = s.Salt[:4] },
		"missing tag": func(s *models.SealedBallot) { s.Tag = nil },
		"garbage":     func(s *models.SealedBallot) { s.Ciphertext = []byte("garbage") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			tampered := cloneSealed(sealed)
			mutate(tampered)

			_, err := cs.OpenBallot(tampered, secret)
			require.ErrorIs(t, err, ErrIntegrity)

			var integrityErr *IntegrityError
			require.True(t, errors.As(err, &integrityErr))
			assert.NotEmpty(t, integrityErr.Reason)
		})
	}

	_, err = cs.OpenBallot(nil, secret)
	require.ErrorIs(t, err, ErrIntegrity)
	assert.False(t, cs.VerifyIntegrity(sealed, nil))
}

func TestUniquenessTokensNeverRepeat(t *testing.T) {
	cs := NewCryptoService()
	secret := testSecret(t)
	ballot := testBallot()

	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		sealed, err := cs.SealBallot(ballot, secret)
		require.NoError(t, err)
		require.False(t, seen[sealed.UniquenessToken], "token repeated on trial %d", i)
		seen[sealed.UniquenessToken] = true
	}
}

func TestArgon2idRoundTrip(t *testing.T) {
	cs := NewCryptoService(WithKDF(Argon2idKDF{Time: 1, Memory: 8 * 1024, Threads: 1}))
	assert.Equal(t, KDFArgon2id, cs.KDFName())
	secret := testSecret(t)

	sealed, err := cs.SealBallot(testBallot(), secret)
	require.NoError(t, err)
	assert.True(t, cs.VerifyIntegrity(sealed, secret))

	// A different derivation cannot open it.
	assert.False(t, NewCryptoService().VerifyIntegrity(sealed, secret))
}

func TestKDFByName(t *testing.T) {
	kdf, err := KDFByName("")
	require.NoError(t, err)
	assert.Equal(t, KDFSimple, kdf.Name())

	kdf, err = KDFByName(KDFArgon2id)
	require.NoError(t, err)
	assert.Equal(t, KDFArgon2id, kdf.Name())

	_, err = KDFByName("pbkdf1")
	require.Error(t, err)
}

// Issue a channel key for S1, seal {7, 3} under it, and check that only the
// same secret opens it.
func TestSessionS1Scenario(t *testing.T) {
	sim := quantum.NewSimulator(quantum.DefaultKeyBits, quantum.DefaultSampleSize)
	result, err := sim.Run(sim.DefaultRawLength(), false, 0)
	require.NoError(t, err)
	require.True(t, result.ChannelSecure)

	secret, err := result.Secret()
	require.NoError(t, err)

	cs := NewCryptoService()
	sealed, err := cs.SealBallot(models.Ballot{ConstituencyID: 7, CandidateID: 3}, secret)
	require.NoError(t, err)

	opened, err := cs.OpenBallot(sealed, secret)
	require.NoError(t, err)
	assert.Equal(t, 7, opened.ConstituencyID)
	assert.Equal(t, 3, opened.CandidateID)

	for i := 0; i < 10; i++ {
		other := testSecret(t)
		if bytes.Equal(other, secret) {
			continue
		}
		_, err := cs.OpenBallot(sealed, other)
		require.ErrorIs(t, err, ErrIntegrity)
		assert.False(t, cs.VerifyIntegrity(sealed, other))
	}
}

func TestEncodedBallotRoundTrip(t *testing.T) {
	cs := NewCryptoService()
	secret := testSecret(t)

	sealed, err := cs.SealBallot(testBallot(), secret)
	require.NoError(t, err)

	decoded, err := sealed.Encode().Decode()
	require.NoError(t, err)
	assert.Equal(t, sealed, decoded)
	assert.True(t, cs.VerifyIntegrity(decoded, secret))
}

func TestAdminSignature(t *testing.T) {
	cs := NewCryptoService()
	key, err := cs.GenerateKeyPair()
	require.NoError(t, err)

	data := []byte("ledger head")
	sig, err := cs.Sign(data, key)
	require.NoError(t, err)
	assert.True(t, cs.VerifySignature(data, sig, &key.PublicKey))
	assert.False(t, cs.VerifySignature([]byte("other"), sig, &key.PublicKey))
	assert.NotEmpty(t, cs.FromECDSAPub(&key.PublicKey))
	assert.Nil(t, cs.FromECDSAPub(nil))
}

func TestSimulatedSigner(t *testing.T) {
	signer, err := NewSimulatedSigner()
	require.NoError(t, err)
	assert.Equal(t, SimulatedSignerAlgorithm, signer.Algorithm())
	assert.Len(t, signer.PublicKey(), 128)

	sig := signer.Sign([]byte("vote confirmed"))
	assert.Len(t, sig, 64)
	assert.True(t, signer.Verify([]byte("vote confirmed"), sig))
	assert.False(t, signer.Verify([]byte("vote altered"), sig))

	other, err := NewSimulatedSigner()
	require.NoError(t, err)
	assert.False(t, other.Verify([]byte("vote confirmed"), sig))
}

func cloneSealed(s *models.SealedBallot) *models.SealedBallot {
	return &models.SealedBallot{
		Ciphertext:      append([]byte(nil), s.Ciphertext...),
		Tag:             append([]byte(nil), s.Tag...),
		Nonce:           append([]byte(nil), s.Nonce...),
		Salt:            append([]byte(nil), s.Salt...),
		UniquenessToken: s.UniquenessToken,
	}
}
