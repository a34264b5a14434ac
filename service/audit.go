package service

import (
	"bytes"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// AuditStatus verifies the ledger and returns its most recent entries.
func (vs *VotingService) AuditStatus(limit int) AuditReport {
	return AuditReport{
		Verification: vs.ledger.Verify(),
		TotalEntries: vs.ledger.Len(),
		Entries:      vs.ledger.Tail(limit),
	}
}

// SnapshotLedger writes the current ledger to disk and returns the file.
func (vs *VotingService) SnapshotLedger() (string, error) {
	path, err := vs.snapshots.Save(vs.ledger.Entries())
	if err != nil {
		return "", fmt.Errorf("failed to snapshot ledger: %w", err)
	}
	return path, nil
}

// SignAuditHead signs the hash of the latest ledger entry with the admin
// key.
func (vs *VotingService) SignAuditHead() (*AuditAttestation, error) {
	head, hash, height := vs.ledger.Head()
	signature, err := vs.crypto.Sign([]byte(hash), vs.adminKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign ledger head: %w", err)
	}

	return &AuditAttestation{
		BlockID:   head.BlockID,
		Height:    height,
		Hash:      hash,
		Signature: hexutil.Encode(signature),
		PublicKey: hexutil.Encode(vs.crypto.FromECDSAPub(&vs.adminKey.PublicKey)),
		SignedAt:  time.Now().UTC(),
	}, nil
}

// VerifyAuditHead checks that the attestation was signed by this service's
// admin key and that the attested entry is still in the ledger with the
// same hash.
func (vs *VotingService) VerifyAuditHead(att *AuditAttestation) (bool, error) {
	signature, err := hexutil.Decode(att.Signature)
	if err != nil {
		return false, fmt.Errorf("failed to decode signature: %w", err)
	}
	pubBytes, err := hexutil.Decode(att.PublicKey)
	if err != nil {
		return false, fmt.Errorf("failed to decode public key: %w", err)
	}
	if _, err := crypto.UnmarshalPubkey(pubBytes); err != nil {
		return false, fmt.Errorf("failed to parse public key: %w", err)
	}

	admin := &vs.adminKey.PublicKey
	if !bytes.Equal(pubBytes, vs.crypto.FromECDSAPub(admin)) {
		return false, nil
	}
	if !vs.crypto.VerifySignature([]byte(att.Hash), signature, admin) {
		return false, nil
	}

	entries := vs.ledger.Entries()
	if att.Height < 1 || att.Height > len(entries) {
		return false, nil
	}
	entry := entries[att.Height-1]
	return entry.BlockID == att.BlockID && entry.CalculateHash() == att.Hash, nil
}

// Health summarises ledger integrity and live state.
func (vs *VotingService) Health() HealthStatus {
	verification := vs.ledger.Verify()

	vs.mu.Lock()
	pending := len(vs.voteBuffer)
	vs.mu.Unlock()

	stored, err := vs.ballots.Count()
	status := "healthy"
	if err != nil {
		vs.logger.WithError(err).Warn("Failed to count stored ballots")
		status = "degraded"
	}
	if !verification.Valid {
		status = "compromised"
	}

	return HealthStatus{
		Status:              status,
		Ledger:              verification,
		ActiveSessions:      vs.sessions.Len(),
		ActiveKeys:          vs.keys.ActiveCount(),
		PendingBallots:      pending,
		StoredBallots:       stored,
		AttackDetectionRate: vs.attacks.Summary().DetectionRate,
		KDF:                 vs.crypto.KDFName(),
		Signer:              vs.signer.Algorithm(),
	}
}
