package service

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"quantum-voting/anonymizer"
	"quantum-voting/attacks"
	"quantum-voting/blockchain/ledger"
	"quantum-voting/config"
	"quantum-voting/encryption"
	"quantum-voting/keymanager"
	"quantum-voting/models"
	"quantum-voting/quantum"
	"quantum-voting/shardmap"
	"quantum-voting/storage"
)

// Ledger actions recorded by the service.
const (
	ActionKeyGenerated    = "QUANTUM_KEY_GENERATED"
	ActionEavesdropping   = "EAVESDROPPING_DETECTED"
	ActionVoteCast        = "VOTE_CAST"
	ActionBallotsStored   = "BALLOT_BATCH_STORED"
	ActionSessionComplete = "SESSION_COMPLETE"
	ActionSessionEnded    = "SESSION_ENDED"
)

const adminCredentialsFile = "admin_credentials.json"

// Types
type VotingService struct {
	cfg    config.Config
	logger *logrus.Logger

	keys      *keymanager.Manager
	crypto    *encryption.CryptoService
	guard     *anonymizer.Guard
	ledger    *ledger.Ledger
	attacks   *attacks.Harness
	ballots   BallotStore
	snapshots *storage.SnapshotStore
	sessions  *shardmap.Map[*VoterSession]
	validator *BallotValidator
	metrics   *MetricsCollector
	registry  *prometheus.Registry
	signer    *encryption.SimulatedSigner
	adminKey  *ecdsa.PrivateKey

	mu            sync.Mutex
	voteBuffer    []*models.SealedBallot
	pendingTokens map[string]bool
}

type AdminCredentials struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

type SessionInfo struct {
	SessionID string                `json:"session_id"`
	Elections []models.ElectionType `json:"elections"`
	ExpiresAt time.Time             `json:"expires_at"`
}

// VoteConfirmation is returned to the voter after a ballot is sealed. It
// carries nothing that links back to the ballot contents.
type VoteConfirmation struct {
	Election        models.ElectionType `json:"election"`
	Receipt         models.Receipt      `json:"receipt"`
	Commitment      string              `json:"commitment"`
	SessionComplete bool                `json:"session_complete"`
	Signature       string              `json:"signature"`
	Algorithm       string              `json:"algorithm"`
}

type AuditReport struct {
	Verification ledger.VerifyResult `json:"verification"`
	TotalEntries int                 `json:"total_entries"`
	Entries      []models.LedgerView `json:"entries"`
}

// AuditAttestation is an admin signature over the ledger head.
type AuditAttestation struct {
	BlockID   string    `json:"block_id"`
	Height    int       `json:"height"`
	Hash      string    `json:"hash"`
	Signature string    `json:"signature"`
	PublicKey string    `json:"public_key"`
	SignedAt  time.Time `json:"signed_at"`
}

type HealthStatus struct {
	Status              string              `json:"status"`
	Ledger              ledger.VerifyResult `json:"ledger"`
	ActiveSessions      int                 `json:"active_sessions"`
	ActiveKeys          int                 `json:"active_keys"`
	PendingBallots      int                 `json:"pending_ballots"`
	StoredBallots       int                 `json:"stored_ballots"`
	AttackDetectionRate float64             `json:"attack_detection_rate"`
	KDF                 string              `json:"kdf"`
	Signer              string              `json:"signer"`
}

// BallotStore persists sealed ballots and refuses a uniqueness token it
// already holds. *storage.BallotStore satisfies it.
type BallotStore interface {
	Has(token string) (bool, error)
	PutBatch(ballots []*models.SealedBallot) error
	Count() (int, error)
	Close() error
}

type options struct {
	channel keymanager.Channel
	ballots BallotStore
}

type Option func(*options)

// WithChannel replaces the BB84 simulator the key manager runs.
func WithChannel(channel keymanager.Channel) Option {
	return func(o *options) {
		o.channel = channel
	}
}

// WithBallotStore replaces the badger ballot store opened under the storage
// directory.
func WithBallotStore(store BallotStore) Option {
	return func(o *options) {
		o.ballots = store
	}
}

func loadOrGenerateAdminKey(storagePath string) (*ecdsa.PrivateKey, error) {
	adminKeyPath := filepath.Join(storagePath, adminCredentialsFile)

	if data, err := os.ReadFile(adminKeyPath); err == nil {
		var creds AdminCredentials
		if err := json.Unmarshal(data, &creds); err != nil {
			return nil, fmt.Errorf("failed to parse admin credentials: %w", err)
		}

		privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(creds.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("failed to restore admin private key: %w", err)
		}
		return privateKey, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read admin credentials: %w", err)
	}

	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate admin key: %w", err)
	}

	creds := AdminCredentials{
		PublicKey:  hexutil.Encode(crypto.FromECDSAPub(&privateKey.PublicKey)),
		PrivateKey: hexutil.Encode(crypto.FromECDSA(privateKey)),
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal admin credentials: %w", err)
	}
	if err := os.WriteFile(adminKeyPath, data, 0600); err != nil {
		return nil, fmt.Errorf("failed to save admin credentials: %w", err)
	}
	return privateKey, nil
}

// restoreLedger rebuilds the audit ledger from the latest snapshot, or
// starts a fresh chain when there is none. A snapshot that fails
// verification is refused.
func restoreLedger(snapshots *storage.SnapshotStore, logger *logrus.Logger) (*ledger.Ledger, error) {
	entries, path, err := snapshots.LoadLatest()
	if errors.Is(err, storage.ErrNoSnapshot) {
		return ledger.New(logger), nil
	}
	if err != nil {
		return nil, err
	}

	restored, err := ledger.FromEntries(entries, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLedgerCompromised, filepath.Base(path), err)
	}
	if result := restored.Verify(); !result.Valid {
		return nil, fmt.Errorf("%w: %s broken at %s", ErrLedgerCompromised, filepath.Base(path), result.BrokenAt)
	}

	logger.WithFields(logrus.Fields{
		"entries": len(entries),
		"file":    filepath.Base(path),
	}).Info("Ledger restored from snapshot")
	return restored, nil
}

func NewVotingService(cfg config.Config, logger *logrus.Logger, opts ...Option) (*VotingService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = cfg.NewLogger()
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.channel == nil {
		o.channel = quantum.NewSimulator(cfg.KeyBits, cfg.SampleSize, quantum.WithLogger(logger))
	}

	if err := os.MkdirAll(cfg.StorageDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	adminKey, err := loadOrGenerateAdminKey(cfg.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("failed to setup admin key: %w", err)
	}

	kdf, err := encryption.KDFByName(cfg.KDF)
	if err != nil {
		return nil, err
	}

	signer, err := encryption.NewSimulatedSigner()
	if err != nil {
		return nil, err
	}

	snapshots, err := storage.NewSnapshotStore(filepath.Join(cfg.StorageDir, "snapshots"), cfg.SnapshotKeep, logger)
	if err != nil {
		return nil, err
	}

	auditLedger, err := restoreLedger(snapshots, logger)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	metrics, err := NewMetricsCollector(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	ballots := o.ballots
	if ballots == nil {
		ballots, err = storage.NewBallotStore(storage.BallotStoreConfig{
			Path:   filepath.Join(cfg.StorageDir, "ballots"),
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
	}

	vs := &VotingService{
		cfg:    cfg,
		logger: logger,
		keys: keymanager.New(o.channel, keymanager.Config{
			AttackInterceptRate: cfg.AttackInterceptRate,
			RawLength:           cfg.RawLength(),
			Logger:              logger,
		}),
		crypto:        encryption.NewCryptoService(encryption.WithKDF(kdf)),
		guard:         anonymizer.New(),
		ledger:        auditLedger,
		attacks:       attacks.New(auditLedger, logger),
		ballots:       ballots,
		snapshots:     snapshots,
		sessions:      shardmap.New[*VoterSession](shardmap.DefaultShards),
		validator:     NewBallotValidator(cfg.MaxConstituency, cfg.MaxCandidate),
		metrics:       metrics,
		registry:      registry,
		signer:        signer,
		adminKey:      adminKey,
		pendingTokens: make(map[string]bool),
	}

	logger.WithFields(logrus.Fields{
		"kdf":       cfg.KDF,
		"key_bits":  cfg.KeyBits,
		"elections": cfg.RequiredElections,
	}).Info("Voting service started")
	return vs, nil
}

// Session Methods

func (vs *VotingService) StartSession(constituencies map[models.ElectionType]int) (*SessionInfo, error) {
	if err := vs.validator.ValidateSelection(vs.cfg.RequiredElections, constituencies); err != nil {
		return nil, err
	}

	session := NewVoterSession(uuid.New().String(), vs.cfg.SessionTTL, constituencies)
	vs.sessions.Set(session.ID(), session)

	vs.logger.WithField("session", shortSession(session.ID())).Debug("Voter session started")
	return &SessionInfo{
		SessionID: session.ID(),
		Elections: session.Remaining(),
		ExpiresAt: session.ExpiresAt(),
	}, nil
}

func (vs *VotingService) session(sessionID string) (*VoterSession, error) {
	session, ok := vs.sessions.Get(sessionID)
	if !ok {
		return nil, ErrUnknownSession
	}
	if !session.IsActive() {
		return nil, ErrSessionExpired
	}
	return session, nil
}

// GenerateKey establishes the session key over the quantum channel. When
// the channel is compromised the run result is returned together with
// ErrChannelCompromised and the caller should retry.
func (vs *VotingService) GenerateKey(sessionID string, simulateAttack bool) (*models.ChannelRunResult, error) {
	session, err := vs.session(sessionID)
	if err != nil {
		return nil, err
	}

	// A key must never be issued to a session that completed or ended
	// while the lookup above was in flight.
	session.castMu.Lock()
	defer session.castMu.Unlock()
	if !session.IsActive() {
		return nil, ErrSessionExpired
	}

	start := time.Now()
	result, err := vs.keys.Issue(sessionID, simulateAttack)
	if err != nil {
		return nil, err
	}
	vs.metrics.RecordKeyIssued(result.ChannelSecure, time.Since(start))
	vs.metrics.SetActiveKeys(vs.keys.ActiveCount())

	if _, err := vs.ledger.Append(ActionKeyGenerated, map[string]any{
		"key_bits":       result.KeyBits,
		"error_rate":     result.ErrorRate,
		"channel_secure": result.ChannelSecure,
	}); err != nil {
		return nil, err
	}

	if !result.ChannelSecure {
		if _, err := vs.ledger.Append(ActionEavesdropping, map[string]any{
			"error_rate": result.ErrorRate,
			"threshold":  quantum.InterferenceThreshold,
		}); err != nil {
			return nil, err
		}
		return result, ErrChannelCompromised
	}
	return result, nil
}

// Voting Methods

// CastVote seals a ballot for one election of the session under the
// session key. Once every required election has a ballot the key is
// revoked and the session is closed.
func (vs *VotingService) CastVote(ctx context.Context, sessionID string, election models.ElectionType, candidateID int) (*VoteConfirmation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	session, err := vs.session(sessionID)
	if err != nil {
		return nil, err
	}

	session.castMu.Lock()
	defer session.castMu.Unlock()

	if !session.IsActive() {
		return nil, ErrSessionExpired
	}
	if session.HasCast(election) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyVoted, election)
	}
	if err := vs.validator.ValidateBallot(session, election, candidateID); err != nil {
		return nil, err
	}

	secret, ok := vs.keys.Get(sessionID)
	if !ok {
		return nil, ErrNoSessionKey
	}
	defer zeroBytes(secret)

	start := time.Now()
	commitment, err := vs.guard.Commit(sessionID, candidateID)
	if err != nil {
		return nil, err
	}

	constituency, _ := session.Constituency(election)
	sealed, err := vs.crypto.SealBallot(models.Ballot{
		ConstituencyID: constituency,
		CandidateID:    candidateID,
		Timestamp:      time.Now().UTC(),
	}, secret)
	if err != nil {
		return nil, fmt.Errorf("failed to seal ballot: %w", err)
	}

	// Until MarkCast the ballot is only reserved in the buffer; any failure
	// before that takes it back out so a retry can cast again.
	if err := vs.reserveBallot(sealed); err != nil {
		return nil, err
	}
	vs.metrics.RecordBallotSealed(string(election), time.Since(start))

	receipt, err := vs.guard.Receipt(sealed.UniquenessToken)
	if err != nil {
		vs.unreserveBallot(sealed.UniquenessToken)
		return nil, err
	}

	if _, err := vs.ledger.Append(ActionVoteCast, map[string]any{
		"election":   election,
		"commitment": commitment.Digest,
	}); err != nil {
		vs.unreserveBallot(sealed.UniquenessToken)
		return nil, err
	}

	complete := session.MarkCast(election)
	if complete {
		vs.completeSession(session)
	}
	vs.flushIfFull()

	confirmation := &VoteConfirmation{
		Election:        election,
		Receipt:         receipt,
		Commitment:      commitment.Digest,
		SessionComplete: complete,
		Algorithm:       vs.signer.Algorithm(),
	}
	confirmation.Signature = hex.EncodeToString(vs.signer.Sign(confirmationMessage(confirmation)))

	vs.logger.WithFields(logrus.Fields{
		"session":  shortSession(sessionID),
		"election": election,
		"complete": complete,
	}).Info("Ballot sealed")
	return confirmation, nil
}

// completeSession closes a session whose last ballot was just cast. The
// caller holds session.castMu.
func (vs *VotingService) completeSession(session *VoterSession) {
	session.End()
	vs.sessions.Delete(session.ID())
	vs.keys.Revoke(session.ID())
	vs.guard.Discard(session.ID())
	vs.metrics.SetActiveKeys(vs.keys.ActiveCount())

	if _, err := vs.ledger.Append(ActionSessionComplete, map[string]any{
		"elections": len(vs.cfg.RequiredElections),
	}); err != nil {
		vs.logger.WithError(err).WithField("session", shortSession(session.ID())).Error("Failed to record session completion")
	}
}

// VerifyConfirmation checks a confirmation signed by this service.
func (vs *VotingService) VerifyConfirmation(confirmation *VoteConfirmation) bool {
	signature, err := hex.DecodeString(confirmation.Signature)
	if err != nil {
		return false
	}
	return vs.signer.Verify(confirmationMessage(confirmation), signature)
}

func confirmationMessage(c *VoteConfirmation) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s", c.Election, c.Receipt.Code, c.Commitment))
}

// reserveBallot adds a sealed ballot to the pending buffer, refusing a
// uniqueness token that is already pending or stored.
func (vs *VotingService) reserveBallot(sealed *models.SealedBallot) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if vs.pendingTokens[sealed.UniquenessToken] {
		return ErrDuplicateBallot
	}
	exists, err := vs.ballots.Has(sealed.UniquenessToken)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicateBallot
	}

	vs.voteBuffer = append(vs.voteBuffer, sealed)
	vs.pendingTokens[sealed.UniquenessToken] = true
	return nil
}

func (vs *VotingService) unreserveBallot(token string) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if !vs.pendingTokens[token] {
		return
	}
	delete(vs.pendingTokens, token)
	for i, b := range vs.voteBuffer {
		if b.UniquenessToken == token {
			vs.voteBuffer = append(vs.voteBuffer[:i], vs.voteBuffer[i+1:]...)
			break
		}
	}
}

// flushIfFull stores the buffer once it reaches the batch size. A failed
// write keeps the ballots pending for the next flush.
func (vs *VotingService) flushIfFull() {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if len(vs.voteBuffer) < vs.cfg.BatchSize {
		return
	}
	if err := vs.flushLocked(); err != nil {
		vs.logger.WithError(err).WithField("pending", len(vs.voteBuffer)).Warn("Ballot batch flush failed, keeping ballots pending")
	}
}

// FlushBallots stores all buffered ballots regardless of batch size.
func (vs *VotingService) FlushBallots() error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.flushLocked()
}

func (vs *VotingService) flushLocked() error {
	if len(vs.voteBuffer) == 0 {
		return nil
	}

	mixed, err := anonymizer.Mix(vs.voteBuffer)
	if err != nil {
		return fmt.Errorf("failed to mix ballot batch: %w", err)
	}
	err = vs.ballots.PutBatch(mixed)
	if errors.Is(err, storage.ErrDuplicateToken) {
		mixed, err = vs.dropStoredLocked(mixed)
		if err == nil {
			err = vs.ballots.PutBatch(mixed)
		}
	}
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateToken) {
			return fmt.Errorf("%w: %v", ErrDuplicateBallot, err)
		}
		return err
	}

	vs.voteBuffer = vs.voteBuffer[:0]
	vs.pendingTokens = make(map[string]bool)

	if len(mixed) == 0 {
		return nil
	}
	if _, err := vs.ledger.Append(ActionBallotsStored, map[string]any{
		"count": len(mixed),
	}); err != nil {
		return err
	}

	vs.logger.WithField("count", len(mixed)).Info("Ballot batch stored")
	return nil
}

// dropStoredLocked removes ballots whose token the store already holds so
// one stale duplicate cannot block the rest of the batch.
func (vs *VotingService) dropStoredLocked(batch []*models.SealedBallot) ([]*models.SealedBallot, error) {
	kept := batch[:0:0]
	for _, b := range batch {
		exists, err := vs.ballots.Has(b.UniquenessToken)
		if err != nil {
			return nil, err
		}
		if exists {
			vs.logger.WithField("token", shortSession(b.UniquenessToken)).Error("Dropping pending ballot already in store")
			continue
		}
		kept = append(kept, b)
	}
	return kept, nil
}

// EndSession terminates a session early. Its key is revoked and its
// commitment discarded.
func (vs *VotingService) EndSession(sessionID string) error {
	session, ok := vs.sessions.Delete(sessionID)
	if !ok {
		return ErrUnknownSession
	}
	return vs.endSession(session)
}

func (vs *VotingService) endSession(session *VoterSession) error {
	session.castMu.Lock()
	defer session.castMu.Unlock()

	session.End()
	vs.keys.Revoke(session.ID())
	vs.guard.Discard(session.ID())
	vs.metrics.SetActiveKeys(vs.keys.ActiveCount())

	_, err := vs.ledger.Append(ActionSessionEnded, map[string]any{
		"remaining": len(session.Remaining()),
	})
	return err
}

// PurgeExpired ends every session past its TTL and returns how many were
// removed.
func (vs *VotingService) PurgeExpired() (int, error) {
	var expired []string
	vs.sessions.Range(func(id string, session *VoterSession) bool {
		if session.IsExpired() {
			expired = append(expired, id)
		}
		return true
	})

	purged := 0
	for _, id := range expired {
		session, ok := vs.sessions.Delete(id)
		if !ok {
			continue
		}
		if err := vs.endSession(session); err != nil {
			return purged, err
		}
		purged++
	}
	if purged > 0 {
		vs.logger.WithField("count", purged).Info("Expired sessions purged")
	}
	return purged, nil
}

// Attack Methods

func (vs *VotingService) SimulateAttack(kind models.AttackKind, rate float64) (models.AttackOutcome, error) {
	outcome, err := vs.attacks.Run(kind, rate)
	if err != nil {
		return outcome, err
	}
	vs.metrics.RecordAttack(string(kind), outcome.Detected)
	return outcome, nil
}

func (vs *VotingService) AttackSummary() models.AttackSummary {
	return vs.attacks.Summary()
}

func (vs *VotingService) Metrics() MetricsSnapshot {
	return vs.metrics.Snapshot()
}

// Registry exposes the service's prometheus registry.
func (vs *VotingService) Registry() *prometheus.Registry {
	return vs.registry
}

// Close flushes pending ballots, snapshots the ledger and closes storage.
func (vs *VotingService) Close() error {
	var errs []error
	if err := vs.FlushBallots(); err != nil {
		errs = append(errs, fmt.Errorf("failed to flush ballots: %w", err))
	}
	if _, err := vs.SnapshotLedger(); err != nil {
		errs = append(errs, err)
	}
	if err := vs.ballots.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close ballot store: %w", err))
	}
	return errors.Join(errs...)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func shortSession(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
