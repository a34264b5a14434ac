package quantum

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"quantum-voting/models"
)

// InterferenceThreshold is the error rate above which a channel is treated
// as tapped. The attack models use the same value.
const InterferenceThreshold = 0.11

const (
	DefaultKeyBits       = 256
	DefaultRawMultiplier = 16
	DefaultSampleSize    = 1024
)

var ErrSequenceMismatch = errors.New("sender and receiver sequences differ in length")

// Simulator runs simulated BB84 exchanges. It holds no per-run state and is
// safe for concurrent use.
type Simulator struct {
	keyBits    int
	sampleSize int
	source     io.Reader
	logger     *logrus.Logger
}

type Option func(*Simulator)

// WithEntropy replaces crypto/rand as the randomness source.
func WithEntropy(source io.Reader) Option {
	return func(s *Simulator) {
		s.source = source
	}
}

func WithLogger(logger *logrus.Logger) Option {
	return func(s *Simulator) {
		s.logger = logger
	}
}

func NewSimulator(keyBits, sampleSize int, opts ...Option) *Simulator {
	if keyBits <= 0 {
		keyBits = DefaultKeyBits
	}
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}
	s := &Simulator{
		keyBits:    keyBits,
		sampleSize: sampleSize,
		source:     rand.Reader,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logrus.New()
	}
	return s
}

func (s *Simulator) KeyBits() int {
	return s.keyBits
}

// DefaultRawLength is the number of raw qubits sent per run.
func (s *Simulator) DefaultRawLength() int {
	return s.keyBits * DefaultRawMultiplier
}

// Run performs one exchange of rawLength qubits. Detected interference is
// reported through the result; only a failing entropy source is an error.
func (s *Simulator) Run(rawLength int, eavesdropper bool, interceptRate float64) (*models.ChannelRunResult, error) {
	if rawLength <= 0 {
		return nil, fmt.Errorf("invalid raw length %d", rawLength)
	}
	if interceptRate < 0 || interceptRate > 1 {
		return nil, fmt.Errorf("intercept rate %v outside [0,1]", interceptRate)
	}

	rnd := newEntropy(s.source)
	stages := make([]models.ProtocolStage, 0, 6)

	sent, err := prepare(rnd, rawLength)
	if err != nil {
		return nil, err
	}
	stages = append(stages, models.ProtocolStage{
		Step:        1,
		Name:        "Quantum Bit Preparation",
		Description: fmt.Sprintf("Generated %d quantum bits with random polarization", rawLength),
		Status:      models.StageComplete,
	})

	inFlight := sent
	intercepted := false
	if eavesdropper {
		inFlight, intercepted, err = intercept(rnd, sent, interceptRate)
		if err != nil {
			return nil, err
		}
	}
	stages = append(stages, models.ProtocolStage{
		Step:        2,
		Name:        "Quantum Channel Transmission",
		Description: "Transmitting qubits through quantum channel",
		Status:      models.StageComplete,
	})

	received, err := measure(rnd, inFlight)
	if err != nil {
		return nil, err
	}
	stages = append(stages, models.ProtocolStage{
		Step:        3,
		Name:        "Quantum Measurement",
		Description: "Measuring qubits with random bases",
		Status:      models.StageComplete,
	})

	// The sender's record keeps the original values, the receiver sees the
	// channel output.
	senderSifted, receiverSifted, err := Sift(sent, received)
	if err != nil {
		return nil, err
	}
	stages = append(stages, models.ProtocolStage{
		Step:        4,
		Name:        "Basis Reconciliation",
		Description: fmt.Sprintf("Sifted to %d bits with matching bases", len(senderSifted)),
		Status:      models.StageComplete,
	})

	errorRate, err := s.estimateErrorRate(rnd, senderSifted, receiverSifted)
	if err != nil {
		return nil, err
	}
	detected := errorRate > InterferenceThreshold
	verification := models.ProtocolStage{
		Step:      5,
		Name:      "Security Verification",
		Status:    models.StageComplete,
		ErrorRate: errorRate,
		Detected:  detected,
	}
	if detected {
		verification.Status = models.StageWarning
		verification.Description = fmt.Sprintf("Error rate: %.2f%% eavesdropping detected", errorRate*100)
	} else {
		verification.Description = fmt.Sprintf("Error rate: %.2f%% channel secure", errorRate*100)
	}
	stages = append(stages, verification)

	result := &models.ChannelRunResult{
		ErrorRate:             errorRate,
		EavesdroppingDetected: detected,
		EavesdropperPresent:   eavesdropper && intercepted,
		ChannelSecure:         !detected,
	}

	if detected {
		s.logger.WithFields(logrus.Fields{
			"error_rate": errorRate,
			"sifted":     len(senderSifted),
		}).Warn("Channel interference detected, key discarded")
		stages = append(stages, models.ProtocolStage{
			Step:        6,
			Name:        "Key Finalization",
			Description: "Key discarded after interference",
			Status:      models.StageWarning,
		})
		result.Stages = stages
		return result, nil
	}

	key, keyBits := finalizeKey(senderSifted, s.keyBits)
	result.SharedKey = key
	result.KeyBits = keyBits
	stages = append(stages, models.ProtocolStage{
		Step:        6,
		Name:        "Key Finalization",
		Description: fmt.Sprintf("Generated %d-bit secure key", keyBits),
		Status:      models.StageComplete,
	})
	result.Stages = stages
	return result, nil
}

func prepare(rnd *entropy, n int) ([]models.Qubit, error) {
	qubits := make([]models.Qubit, n)
	for i := range qubits {
		value, err := rnd.bit()
		if err != nil {
			return nil, err
		}
		basis, err := rnd.basis()
		if err != nil {
			return nil, err
		}
		qubits[i] = models.Qubit{Value: value, Basis: basis}
	}
	return qubits, nil
}

// intercept measures each qubit with probability rate in a random basis.
// A wrong basis guess disturbs the value.
func intercept(rnd *entropy, qubits []models.Qubit, rate float64) ([]models.Qubit, bool, error) {
	out := make([]models.Qubit, len(qubits))
	copy(out, qubits)
	intercepted := false

	for i := range out {
		p, err := rnd.float()
		if err != nil {
			return nil, false, err
		}
		if p >= rate {
			continue
		}
		intercepted = true

		guess, err := rnd.basis()
		if err != nil {
			return nil, false, err
		}
		if guess != out[i].Basis {
			value, err := rnd.bit()
			if err != nil {
				return nil, false, err
			}
			out[i].Value = value
		}
	}
	return out, intercepted, nil
}

// measure picks a receiver basis per qubit. Matching bases read the value,
// differing bases read a random bit. The returned qubits carry the
// receiver's bases.
func measure(rnd *entropy, qubits []models.Qubit) ([]models.Qubit, error) {
	out := make([]models.Qubit, len(qubits))
	for i, q := range qubits {
		basis, err := rnd.basis()
		if err != nil {
			return nil, err
		}
		value := q.Value
		if basis != q.Basis {
			if value, err = rnd.bit(); err != nil {
				return nil, err
			}
		}
		out[i] = models.Qubit{Value: value, Basis: basis}
	}
	return out, nil
}

// Sift keeps the positions where sender and receiver chose the same basis.
// Both returned sequences have equal length.
func Sift(sender, receiver []models.Qubit) ([]models.Qubit, []models.Qubit, error) {
	if len(sender) != len(receiver) {
		return nil, nil, ErrSequenceMismatch
	}
	senderSifted := make([]models.Qubit, 0, len(sender)/2)
	receiverSifted := make([]models.Qubit, 0, len(receiver)/2)
	for i := range sender {
		if sender[i].Basis == receiver[i].Basis {
			senderSifted = append(senderSifted, sender[i])
			receiverSifted = append(receiverSifted, receiver[i])
		}
	}
	return senderSifted, receiverSifted, nil
}

// estimateErrorRate compares a random sample of sifted positions drawn
// without replacement. Sequences shorter than the sample size are sampled
// at half their length.
func (s *Simulator) estimateErrorRate(rnd *entropy, sender, receiver []models.Qubit) (float64, error) {
	size := s.sampleSize
	if len(sender) < size {
		size = len(sender) / 2
	}
	if size == 0 {
		return 0, nil
	}

	positions, err := samplePositions(rnd, len(sender), size)
	if err != nil {
		return 0, err
	}
	mismatches := 0
	for _, pos := range positions {
		if sender[pos].Value != receiver[pos].Value {
			mismatches++
		}
	}
	return float64(mismatches) / float64(size), nil
}

// samplePositions draws k distinct indices from [0, n) with a partial
// Fisher-Yates shuffle.
func samplePositions(rnd *entropy, n, k int) ([]int, error) {
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	for i := 0; i < k; i++ {
		j, err := rnd.intn(n - i)
		if err != nil {
			return nil, err
		}
		indices[i], indices[i+j] = indices[i+j], indices[i]
	}
	return indices[:k], nil
}

// finalizeKey packs the leading keyBits sifted values into whole bytes.
// With fewer than 8 bits available the key is the digest of those bits.
func finalizeKey(sifted []models.Qubit, keyBits int) (string, int) {
	n := keyBits
	if len(sifted) < n {
		n = len(sifted)
	}
	values := make([]uint8, n)
	for i := 0; i < n; i++ {
		values[i] = sifted[i].Value
	}

	if n < 8 {
		digest := sha256.Sum256(values)
		return hex.EncodeToString(digest[:]), len(digest) * 8
	}

	packed := PackBits(values)
	return hex.EncodeToString(packed), len(packed) * 8
}

// PackBits packs 0/1 values big-endian into bytes. Trailing bits that do
// not fill a byte are dropped.
func PackBits(values []uint8) []byte {
	out := make([]byte, len(values)/8)
	for i := range out {
		var b byte
		for _, v := range values[i*8 : i*8+8] {
			b = b<<1 | v&1
		}
		out[i] = b
	}
	return out
}
