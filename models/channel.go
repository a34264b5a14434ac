package models

import (
	"encoding/hex"
	"errors"
)

// Basis is one of the two orthogonal measurement conventions.
type Basis uint8

const (
	BasisRectilinear Basis = iota
	BasisDiagonal
)

func (b Basis) String() string {
	if b == BasisDiagonal {
		return "x"
	}
	return "+"
}

// Qubit is a simulated quantum bit: a 0/1 value tagged with the basis it
// was prepared in.
type Qubit struct {
	Value uint8
	Basis Basis
}

// Stage status values reported in ProtocolStage.Status.
const (
	StageComplete = "complete"
	StageWarning  = "warning"
)

// ProtocolStage describes one named step of a channel run.
type ProtocolStage struct {
	Step        int     `json:"step"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Status      string  `json:"status"`
	ErrorRate   float64 `json:"error_rate,omitempty"`
	Detected    bool    `json:"eavesdropping_detected,omitempty"`
}

// ChannelRunResult is produced once per channel run and never mutated.
// SharedKey is empty when interference was detected.
type ChannelRunResult struct {
	SharedKey             string          `json:"shared_key,omitempty"`
	KeyBits               int             `json:"key_bits"`
	ErrorRate             float64         `json:"error_rate"`
	EavesdroppingDetected bool            `json:"eavesdropping_detected"`
	EavesdropperPresent   bool            `json:"eve_was_present"`
	ChannelSecure         bool            `json:"channel_secure"`
	Stages                []ProtocolStage `json:"protocol_steps"`
}

var ErrNoSharedKey = errors.New("channel run produced no shared key")

// Secret decodes the hex shared key.
func (r *ChannelRunResult) Secret() ([]byte, error) {
	if r.SharedKey == "" {
		return nil, ErrNoSharedKey
	}
	return hex.DecodeString(r.SharedKey)
}
