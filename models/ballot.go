package models

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ElectionType names one of the contests a session votes in.
type ElectionType string

const (
	ElectionMLA ElectionType = "MLA"
	ElectionMP  ElectionType = "MP"
)

// Ballot is the plaintext selection sealed for a single election.
type Ballot struct {
	ConstituencyID int       `json:"constituency_id"`
	CandidateID    int       `json:"candidate_id"`
	Timestamp      time.Time `json:"timestamp"`
}

// Canonical renders the ballot in its fixed field order.
func (b Ballot) Canonical() string {
	return fmt.Sprintf("%d:%d:%s", b.ConstituencyID, b.CandidateID, b.Timestamp.UTC().Format(time.RFC3339Nano))
}

// ParseBallot reverses Canonical. The timestamp itself contains colons, so
// only the first two separators are significant.
func ParseBallot(canonical string) (Ballot, error) {
	parts := strings.SplitN(canonical, ":", 3)
	if len(parts) != 3 {
		return Ballot{}, fmt.Errorf("malformed ballot: expected 3 fields, got %d", len(parts))
	}

	constituencyID, err := strconv.Atoi(parts[0])
	if err != nil {
		return Ballot{}, fmt.Errorf("malformed constituency id: %w", err)
	}
	candidateID, err := strconv.Atoi(parts[1])
	if err != nil {
		return Ballot{}, fmt.Errorf("malformed candidate id: %w", err)
	}
	timestamp, err := time.Parse(time.RFC3339Nano, parts[2])
	if err != nil {
		return Ballot{}, fmt.Errorf("malformed timestamp: %w", err)
	}

	return Ballot{
		ConstituencyID: constituencyID,
		CandidateID:    candidateID,
		Timestamp:      timestamp,
	}, nil
}

// SealedBallot is the authenticated ciphertext of a ballot plus its
// uniqueness token. Byte fields marshal to base64 in JSON.
type SealedBallot struct {
	Ciphertext      []byte `json:"encrypted_vote"`
	Tag             []byte `json:"tag"`
	Nonce           []byte `json:"nonce"`
	Salt            []byte `json:"salt"`
	UniquenessToken string `json:"vote_hash"`
}

// EncodedBallot is the text form of a SealedBallot used across
// serialization boundaries.
type EncodedBallot struct {
	Ciphertext      string `json:"encrypted_vote"`
	Tag             string `json:"tag"`
	Nonce           string `json:"nonce"`
	Salt            string `json:"salt"`
	UniquenessToken string `json:"vote_hash"`
}

func (s *SealedBallot) Encode() EncodedBallot {
	return EncodedBallot{
		Ciphertext:      base64.StdEncoding.EncodeToString(s.Ciphertext),
		Tag:             base64.StdEncoding.EncodeToString(s.Tag),
		Nonce:           base64.StdEncoding.EncodeToString(s.Nonce),
		Salt:            base64.StdEncoding.EncodeToString(s.Salt),
		UniquenessToken: s.UniquenessToken,
	}
}

func (e EncodedBallot) Decode() (*SealedBallot, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(e.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	tag, err := base64.StdEncoding.DecodeString(e.Tag)
	if err != nil {
		return nil, fmt.Errorf("failed to decode tag: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(e.Nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to decode nonce: %w", err)
	}
	salt, err := base64.StdEncoding.DecodeString(e.Salt)
	if err != nil {
		return nil, fmt.Errorf("failed to decode salt: %w", err)
	}

	return &SealedBallot{
		Ciphertext:      ciphertext,
		Tag:             tag,
		Nonce:           nonce,
		Salt:            salt,
		UniquenessToken: e.UniquenessToken,
	}, nil
}

// Commitment binds a session to its candidate selection without revealing it.
type Commitment struct {
	SessionID string    `json:"-"`
	Digest    string    `json:"commitment"`
	CreatedAt time.Time `json:"created_at"`
}

// Receipt is the voter-facing proof that a ballot was recorded.
type Receipt struct {
	Code     string    `json:"receipt_code"`
	IssuedAt time.Time `json:"issued_at"`
}
