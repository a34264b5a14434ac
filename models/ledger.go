package models

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strings"
	"time"
)

// GenesisPrevHash is the well-known previous hash of the first ledger entry.
var GenesisPrevHash = strings.Repeat("0", 64)

// LedgerEntry is one link of the audit chain. The event payload itself is
// never stored, only its digest.
type LedgerEntry struct {
	BlockID   string    `json:"block_id"`
	PrevHash  string    `json:"previous_hash"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	DataHash  string    `json:"data_hash"`
	RootHash  string    `json:"merkle_root"`
}

// LedgerView is the read-only projection handed out by Tail.
type LedgerView struct {
	BlockID   string    `json:"block_id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	DataHash  string    `json:"data_hash"`
	Verified  bool      `json:"verified"`
}

// CalculateHash hashes the full field tuple of the entry. Variable length
// fields are length-prefixed so that no two tuples share an encoding.
func (e *LedgerEntry) CalculateHash() string {
	buffer := new(bytes.Buffer)
	writeField(buffer, e.BlockID)
	writeField(buffer, e.PrevHash)
	binary.Write(buffer, binary.BigEndian, e.Timestamp.UnixNano())
	writeField(buffer, e.Action)
	writeField(buffer, e.DataHash)
	writeField(buffer, e.RootHash)

	hash := sha256.Sum256(buffer.Bytes())
	return hex.EncodeToString(hash[:])
}

// ComputeRootHash combines the payload digest with the previous entry hash.
func ComputeRootHash(dataHash, prevHash string) string {
	hash := sha256.Sum256([]byte(dataHash + prevHash))
	return hex.EncodeToString(hash[:])
}

func writeField(buffer *bytes.Buffer, field string) {
	binary.Write(buffer, binary.BigEndian, uint32(len(field)))
	buffer.WriteString(field)
}
