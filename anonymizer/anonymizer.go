// File: anonymizer/anonymizer.go
package anonymizer

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"

	"quantum-voting/models"
	"quantum-voting/shardmap"
)

const (
	CommitmentRandomness = 32
	ReceiptRandomness    = 16
	ReceiptPrefix        = "QV"
)

var receiptPattern = regexp.MustCompile(`^QV-[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{4}$`)

// Guard issues commitments and receipts. Commitments are held per session
// until Discard.
type Guard struct {
	commitments *shardmap.Map[models.Commitment]
}

func New() *Guard {
	return &Guard{commitments: shardmap.New[models.Commitment](shardmap.DefaultShards)}
}

// Commit binds the session to candidateID with fresh randomness. A repeated
// call replaces the session's earlier commitment.
func (g *Guard) Commit(sessionID string, candidateID int) (models.Commitment, error) {
	nonce, err := randomBytes(CommitmentRandomness)
	if err != nil {
		return models.Commitment{}, fmt.Errorf("failed to generate commitment randomness: %w", err)
	}

	commitment := models.Commitment{
		SessionID: sessionID,
		Digest:    hex.EncodeToString(keccak([]byte(strconv.Itoa(candidateID)), nonce)),
		CreatedAt: time.Now().UTC(),
	}
	g.commitments.Set(sessionID, commitment)
	return commitment, nil
}

func (g *Guard) Commitment(sessionID string) (models.Commitment, bool) {
	return g.commitments.Get(sessionID)
}

// Discard drops the session's commitment once the session concludes.
func (g *Guard) Discard(sessionID string) bool {
	_, ok := g.commitments.Delete(sessionID)
	return ok
}

func (g *Guard) Pending() int {
	return g.commitments.Len()
}

// Receipt derives a presentable code from the uniqueness token and fresh
// randomness. Two calls for the same token give different codes.
func (g *Guard) Receipt(token string) (models.Receipt, error) {
	salt, err := randomBytes(ReceiptRandomness)
	if err != nil {
		return models.Receipt{}, fmt.Errorf("failed to generate receipt randomness: %w", err)
	}

	digest := strings.ToUpper(hex.EncodeToString(keccak([]byte(token), salt)))
	return models.Receipt{
		Code:     fmt.Sprintf("%s-%s-%s-%s", ReceiptPrefix, digest[0:4], digest[4:8], digest[8:12]),
		IssuedAt: time.Now().UTC(),
	}, nil
}

// ValidReceipt reports whether code has the receipt format.
func ValidReceipt(code string) bool {
	return receiptPattern.MatchString(code)
}

func keccak(data ...[]byte) []byte {
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
