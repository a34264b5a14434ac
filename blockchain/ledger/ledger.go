// File: blockchain/ledger/ledger.go
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"quantum-voting/models"
)

const (
	GenesisBlockID = "GENESIS"
	ActionInit     = "SYSTEM_INIT"

	DefaultTailLimit = 50
)

var (
	ErrEmptyChain     = errors.New("ledger chain is empty")
	ErrInvalidGenesis = errors.New("first entry is not a genesis entry")
)

// VerifyResult reports a chain walk. BrokenAt names the first entry whose
// previous-hash does not match its predecessor.
type VerifyResult struct {
	Valid          bool   `json:"valid"`
	BlocksVerified int    `json:"blocks_verified"`
	BrokenAt       string `json:"error_block,omitempty"`
	GenesisBlock   string `json:"genesis_block,omitempty"`
	LatestBlock    string `json:"latest_block,omitempty"`
}

// Ledger is an append-only hash-linked audit log. Appends are serialized;
// Verify holds the read lock so it never observes a partial append.
type Ledger struct {
	mu      sync.RWMutex
	entries []models.LedgerEntry
	logger  *logrus.Logger
}

func New(logger *logrus.Logger) *Ledger {
	if logger == nil {
		logger = logrus.New()
	}
	l := &Ledger{logger: logger}
	l.appendGenesis()
	return l
}

// FromEntries rebuilds a ledger from previously exported entries. The chain
// is not verified here; call Verify.
func FromEntries(entries []models.LedgerEntry, logger *logrus.Logger) (*Ledger, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyChain
	}
	if entries[0].BlockID != GenesisBlockID || entries[0].PrevHash != models.GenesisPrevHash {
		return nil, ErrInvalidGenesis
	}
	if logger == nil {
		logger = logrus.New()
	}
	copied := make([]models.LedgerEntry, len(entries))
	copy(copied, entries)
	return &Ledger{entries: copied, logger: logger}, nil
}

func (l *Ledger) appendGenesis() {
	digest := sha256.Sum256([]byte("genesis"))
	seed := hex.EncodeToString(digest[:])
	l.entries = append(l.entries, models.LedgerEntry{
		BlockID:   GenesisBlockID,
		PrevHash:  models.GenesisPrevHash,
		Timestamp: time.Now().UTC(),
		Action:    ActionInit,
		DataHash:  seed,
		RootHash:  seed,
	})
}

// Append records action with a digest of payload. The payload must not
// carry voter-identifying data; only its digest is kept.
func (l *Ledger) Append(action string, payload any) (models.LedgerEntry, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return models.LedgerEntry{}, fmt.Errorf("failed to encode ledger payload: %w", err)
	}
	digest := sha256.Sum256(encoded)
	dataHash := hex.EncodeToString(digest[:])

	l.mu.Lock()
	defer l.mu.Unlock()

	prevHash := l.entries[len(l.entries)-1].CalculateHash()
	entry := models.LedgerEntry{
		BlockID:   uuid.New().String(),
		PrevHash:  prevHash,
		Timestamp: time.Now().UTC(),
		Action:    action,
		DataHash:  dataHash,
		RootHash:  models.ComputeRootHash(dataHash, prevHash),
	}
	l.entries = append(l.entries, entry)

	l.logger.WithFields(logrus.Fields{
		"action": action,
		"block":  entry.BlockID,
		"height": len(l.entries),
	}).Debug("Ledger entry appended")
	return entry, nil
}

// Verify walks the chain from the second entry and checks each
// previous-hash against its predecessor.
func (l *Ledger) Verify() VerifyResult {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i := 1; i < len(l.entries); i++ {
		if l.entries[i].PrevHash != l.entries[i-1].CalculateHash() {
			l.logger.WithFields(logrus.Fields{
				"block":  l.entries[i].BlockID,
				"height": i,
			}).Error("Ledger hash chain broken")
			return VerifyResult{
				Valid:          false,
				BlocksVerified: i,
				BrokenAt:       l.entries[i].BlockID,
			}
		}
	}

	return VerifyResult{
		Valid:          true,
		BlocksVerified: len(l.entries),
		GenesisBlock:   l.entries[0].BlockID,
		LatestBlock:    l.entries[len(l.entries)-1].BlockID,
	}
}

// Tail returns the most recent limit entries, oldest first, with data
// hashes truncated for display.
func (l *Ledger) Tail(limit int) []models.LedgerView {
	if limit <= 0 {
		limit = DefaultTailLimit
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	start := len(l.entries) - limit
	if start < 0 {
		start = 0
	}

	views := make([]models.LedgerView, 0, len(l.entries)-start)
	for i := start; i < len(l.entries); i++ {
		e := l.entries[i]
		verified := i == 0 || e.PrevHash == l.entries[i-1].CalculateHash()
		views = append(views, models.LedgerView{
			BlockID:   e.BlockID,
			Timestamp: e.Timestamp,
			Action:    e.Action,
			DataHash:  truncate(e.DataHash),
			Verified:  verified,
		})
	}
	return views
}

// Head returns the latest entry, its hash and the chain height, all read
// under one lock.
func (l *Ledger) Head() (models.LedgerEntry, string, int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	head := l.entries[len(l.entries)-1]
	return head, head.CalculateHash(), len(l.entries)
}

// Entries returns a copy of the full chain for export.
func (l *Ledger) Entries() []models.LedgerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.LedgerEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func truncate(hash string) string {
	if len(hash) <= 16 {
		return hash
	}
	return hash[:16] + "..."
}
