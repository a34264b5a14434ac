package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantum-voting/anonymizer"
	"quantum-voting/config"
	"quantum-voting/models"
	"quantum-voting/quantum"
	"quantum-voting/storage"
)

// scriptedChannel returns a secure run with a fixed key unless told to
// report an eavesdropper.
type scriptedChannel struct {
	mu       sync.Mutex
	insecure bool
}

func (c *scriptedChannel) Run(rawLength int, eavesdropper bool, interceptRate float64) (*models.ChannelRunResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.insecure {
		return &models.ChannelRunResult{
			ErrorRate:             0.25,
			EavesdroppingDetected: true,
			EavesdropperPresent:   true,
		}, nil
	}
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 1)
	}
	return &models.ChannelRunResult{
		SharedKey:     hex.EncodeToString(key),
		KeyBits:       256,
		ChannelSecure: true,
	}, nil
}

func (c *scriptedChannel) DefaultRawLength() int {
	return 4096
}

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.StorageDir = t.TempDir()
	cfg.BatchSize = 2
	return cfg
}

func newTestService(t *testing.T, cfg config.Config, opts ...Option) *VotingService {
	t.Helper()
	vs, err := NewVotingService(cfg, quietLogger(), opts...)
	require.NoError(t, err)
	return vs
}

func ledgerActions(vs *VotingService) []string {
	var actions []string
	for _, e := range vs.ledger.Entries() {
		actions = append(actions, e.Action)
	}
	return actions
}

func TestDualElectionVotingFlow(t *testing.T) {
	vs := newTestService(t, testConfig(t))
	defer vs.Close()
	ctx := context.Background()

	info, err := vs.StartSession(dualSelection())
	require.NoError(t, err)
	assert.Len(t, info.Elections, 2)

	_, err = vs.CastVote(ctx, info.SessionID, models.ElectionMLA, 3)
	require.ErrorIs(t, err, ErrNoSessionKey)

	result, err := vs.GenerateKey(info.SessionID, false)
	require.NoError(t, err)
	assert.True(t, result.ChannelSecure)
	assert.Len(t, result.Stages, 6)

	first, err := vs.CastVote(ctx, info.SessionID, models.ElectionMLA, 3)
	require.NoError(t, err)
	assert.False(t, first.SessionComplete)
	assert.True(t, anonymizer.ValidReceipt(first.Receipt.Code))
	assert.Equal(t, "Dilithium2-simulated", first.Algorithm)
	assert.True(t, vs.VerifyConfirmation(first))

	_, err = vs.CastVote(ctx, info.SessionID, models.ElectionMLA, 4)
	require.ErrorIs(t, err, ErrAlreadyVoted)

	second, err := vs.CastVote(ctx, info.SessionID, models.ElectionMP, 5)
	require.NoError(t, err)
	assert.True(t, second.SessionComplete)
	assert.NotEqual(t, first.Receipt.Code, second.Receipt.Code)

	_, ok := vs.keys.Get(info.SessionID)
	assert.False(t, ok, "key must be revoked once every election has a ballot")
	_, ok = vs.guard.Commitment(info.SessionID)
	assert.False(t, ok)

	_, err = vs.GenerateKey(info.SessionID, false)
	assert.ErrorIs(t, err, ErrUnknownSession, "a completed session must not get a new key")
	_, err = vs.CastVote(ctx, info.SessionID, models.ElectionMP, 1)
	assert.ErrorIs(t, err, ErrUnknownSession)
	assert.Equal(t, 0, vs.keys.ActiveCount())

	health := vs.Health()
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 0, health.ActiveKeys)
	assert.Equal(t, 0, health.PendingBallots)
	assert.Equal(t, 2, health.StoredBallots)
	assert.Equal(t, "simple", health.KDF)

	actions := ledgerActions(vs)
	assert.Contains(t, actions, ActionKeyGenerated)
	assert.Contains(t, actions, ActionVoteCast)
	assert.Equal(t, []string{ActionSessionComplete, ActionBallotsStored}, actions[len(actions)-2:])

	report := vs.AuditStatus(3)
	assert.True(t, report.Verification.Valid)
	assert.Equal(t, len(actions), report.TotalEntries)
	assert.Len(t, report.Entries, 3)

	assert.Equal(t, 1.0, testutil.ToFloat64(vs.metrics.ballotsSealed.WithLabelValues("MLA")))
	assert.Equal(t, 1.0, testutil.ToFloat64(vs.metrics.ballotsSealed.WithLabelValues("MP")))
}

func TestCastVoteValidation(t *testing.T) {
	vs := newTestService(t, testConfig(t), WithChannel(&scriptedChannel{}))
	defer vs.Close()
	ctx := context.Background()

	_, err := vs.StartSession(map[models.ElectionType]int{models.ElectionMLA: 1})
	require.ErrorIs(t, err, ErrInvalidConstituency)

	info, err := vs.StartSession(dualSelection())
	require.NoError(t, err)
	_, err = vs.GenerateKey(info.SessionID, false)
	require.NoError(t, err)

	_, err = vs.CastVote(ctx, info.SessionID, models.ElectionMLA, 0)
	assert.ErrorIs(t, err, ErrInvalidCandidate)
	_, err = vs.CastVote(ctx, info.SessionID, "MAYOR", 1)
	assert.ErrorIs(t, err, ErrUnknownElection)
	_, err = vs.CastVote(ctx, "missing", models.ElectionMLA, 1)
	assert.ErrorIs(t, err, ErrUnknownSession)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = vs.CastVote(cancelled, info.SessionID, models.ElectionMLA, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCompromisedChannelLeavesNoKey(t *testing.T) {
	channel := &scriptedChannel{insecure: true}
	vs := newTestService(t, testConfig(t), WithChannel(channel))
	defer vs.Close()

	info, err := vs.StartSession(dualSelection())
	require.NoError(t, err)

	result, err := vs.GenerateKey(info.SessionID, true)
	require.ErrorIs(t, err, ErrChannelCompromised)
	require.NotNil(t, result)
	assert.True(t, result.EavesdroppingDetected)

	_, err = vs.CastVote(context.Background(), info.SessionID, models.ElectionMLA, 3)
	assert.ErrorIs(t, err, ErrNoSessionKey)
	assert.Contains(t, ledgerActions(vs), ActionEavesdropping)
	assert.Equal(t, 1.0, testutil.ToFloat64(vs.metrics.keysIssued.WithLabelValues("compromised")))

	channel.insecure = false
	_, err = vs.GenerateKey(info.SessionID, false)
	require.NoError(t, err)
	_, err = vs.CastVote(context.Background(), info.SessionID, models.ElectionMLA, 3)
	assert.NoError(t, err)
}

func TestSimulatedAttackOnRealChannelNeverYieldsKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.AttackInterceptRate = 1
	vs := newTestService(t, cfg)
	defer vs.Close()

	info, err := vs.StartSession(dualSelection())
	require.NoError(t, err)

	result, err := vs.GenerateKey(info.SessionID, true)
	require.ErrorIs(t, err, ErrChannelCompromised)
	assert.Greater(t, result.ErrorRate, quantum.InterferenceThreshold)
	assert.Empty(t, result.SharedKey)
}

func TestSessionExpiryAndPurge(t *testing.T) {
	cfg := testConfig(t)
	cfg.SessionTTL = time.Millisecond
	vs := newTestService(t, cfg, WithChannel(&scriptedChannel{}))
	defer vs.Close()

	info, err := vs.StartSession(dualSelection())
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	_, err = vs.GenerateKey(info.SessionID, false)
	require.ErrorIs(t, err, ErrSessionExpired)

	purged, err := vs.PurgeExpired()
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, err = vs.GenerateKey(info.SessionID, false)
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestEndSessionRevokesKey(t *testing.T) {
	vs := newTestService(t, testConfig(t), WithChannel(&scriptedChannel{}))
	defer vs.Close()

	info, err := vs.StartSession(dualSelection())
	require.NoError(t, err)
	_, err = vs.GenerateKey(info.SessionID, false)
	require.NoError(t, err)
	assert.Equal(t, 1, vs.Health().ActiveKeys)

	require.NoError(t, vs.EndSession(info.SessionID))
	assert.Equal(t, 0, vs.Health().ActiveKeys)
	assert.ErrorIs(t, vs.EndSession(info.SessionID), ErrUnknownSession)
	assert.Equal(t, ActionSessionEnded, ledgerActions(vs)[vs.ledger.Len()-1])
}

func TestBallotsBufferedUntilFlush(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 10
	vs := newTestService(t, cfg, WithChannel(&scriptedChannel{}))
	defer vs.Close()

	info, err := vs.StartSession(dualSelection())
	require.NoError(t, err)
	_, err = vs.GenerateKey(info.SessionID, false)
	require.NoError(t, err)
	_, err = vs.CastVote(context.Background(), info.SessionID, models.ElectionMLA, 2)
	require.NoError(t, err)

	health := vs.Health()
	assert.Equal(t, 1, health.PendingBallots)
	assert.Equal(t, 0, health.StoredBallots)

	require.NoError(t, vs.FlushBallots())
	health = vs.Health()
	assert.Equal(t, 0, health.PendingBallots)
	assert.Equal(t, 1, health.StoredBallots)
}

// flakyBallotStore fails the next failures batch writes.
type flakyBallotStore struct {
	BallotStore
	mu       sync.Mutex
	failures int
}

func (s *flakyBallotStore) PutBatch(ballots []*models.SealedBallot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("write stalled")
	}
	return s.BallotStore.PutBatch(ballots)
}

func newMemoryBallotStore(t *testing.T) *storage.BallotStore {
	t.Helper()
	store, err := storage.NewBallotStore(storage.BallotStoreConfig{InMemory: true, Logger: quietLogger()})
	require.NoError(t, err)
	return store
}

func TestFailedFlushKeepsCastBallotsPending(t *testing.T) {
	store := &flakyBallotStore{BallotStore: newMemoryBallotStore(t), failures: 2}
	vs := newTestService(t, testConfig(t), WithChannel(&scriptedChannel{}), WithBallotStore(store))
	defer vs.Close()
	ctx := context.Background()

	info, err := vs.StartSession(dualSelection())
	require.NoError(t, err)
	_, err = vs.GenerateKey(info.SessionID, false)
	require.NoError(t, err)

	_, err = vs.CastVote(ctx, info.SessionID, models.ElectionMLA, 2)
	require.NoError(t, err)
	last, err := vs.CastVote(ctx, info.SessionID, models.ElectionMP, 4)
	require.NoError(t, err, "a failed batch write must not fail the vote")
	assert.True(t, last.SessionComplete)
	assert.Equal(t, 0, vs.keys.ActiveCount())

	health := vs.Health()
	assert.Equal(t, 2, health.PendingBallots)
	assert.Equal(t, 0, health.StoredBallots)
	assert.NotContains(t, ledgerActions(vs), ActionBallotsStored)

	require.Error(t, vs.FlushBallots())
	require.NoError(t, vs.FlushBallots())
	health = vs.Health()
	assert.Equal(t, 0, health.PendingBallots)
	assert.Equal(t, 2, health.StoredBallots)
}

func TestFlushSkipsBallotsAlreadyStored(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 10
	vs := newTestService(t, cfg, WithChannel(&scriptedChannel{}))
	defer vs.Close()

	secret := make([]byte, 32)
	var batch []*models.SealedBallot
	for candidate := 1; candidate <= 3; candidate++ {
		sealed, err := vs.crypto.SealBallot(models.Ballot{
			ConstituencyID: 7,
			CandidateID:    candidate,
			Timestamp:      time.Now().UTC(),
		}, secret)
		require.NoError(t, err)
		batch = append(batch, sealed)
	}
	require.NoError(t, vs.ballots.PutBatch(batch[:1]))

	vs.mu.Lock()
	for _, b := range batch {
		vs.voteBuffer = append(vs.voteBuffer, b)
		vs.pendingTokens[b.UniquenessToken] = true
	}
	vs.mu.Unlock()

	require.NoError(t, vs.FlushBallots())
	health := vs.Health()
	assert.Equal(t, 0, health.PendingBallots)
	assert.Equal(t, 3, health.StoredBallots)

	require.NoError(t, vs.FlushBallots())
}

func TestUnreserveBallotReleasesToken(t *testing.T) {
	vs := newTestService(t, testConfig(t), WithChannel(&scriptedChannel{}))
	defer vs.Close()

	sealed, err := vs.crypto.SealBallot(models.Ballot{ConstituencyID: 1, CandidateID: 1, Timestamp: time.Now().UTC()}, make([]byte, 32))
	require.NoError(t, err)

	require.NoError(t, vs.reserveBallot(sealed))
	assert.ErrorIs(t, vs.reserveBallot(sealed), ErrDuplicateBallot)

	vs.unreserveBallot(sealed.UniquenessToken)
	assert.Equal(t, 0, vs.Health().PendingBallots)
	require.NoError(t, vs.reserveBallot(sealed))
}

func TestConcurrentSessions(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 3
	vs := newTestService(t, cfg, WithChannel(&scriptedChannel{}))
	defer vs.Close()

	const voters = 12
	var wg sync.WaitGroup
	errs := make(chan error, voters)
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(candidate int) {
			defer wg.Done()
			info, err := vs.StartSession(dualSelection())
			if err != nil {
				errs <- err
				return
			}
			if _, err := vs.GenerateKey(info.SessionID, false); err != nil {
				errs <- err
				return
			}
			for _, e := range []models.ElectionType{models.ElectionMLA, models.ElectionMP} {
				if _, err := vs.CastVote(context.Background(), info.SessionID, e, candidate); err != nil {
					errs <- err
					return
				}
			}
		}(i + 1)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.NoError(t, vs.FlushBallots())
	health := vs.Health()
	assert.Equal(t, 2*voters, health.StoredBallots)
	assert.Equal(t, 0, health.ActiveKeys)
	assert.True(t, health.Ledger.Valid)
}

func TestSimulateAttackRecordsOutcome(t *testing.T) {
	vs := newTestService(t, testConfig(t), WithChannel(&scriptedChannel{}))
	defer vs.Close()

	outcome, err := vs.SimulateAttack(models.AttackReplay, 0)
	require.NoError(t, err)
	assert.True(t, outcome.Detected)

	_, err = vs.SimulateAttack("quantum_tunnel", 0)
	assert.Error(t, err)

	summary := vs.AttackSummary()
	assert.Equal(t, 1, summary.TotalAttacks)
	assert.Equal(t, 100.0, summary.DetectionRate)
	assert.Equal(t, 1.0, testutil.ToFloat64(vs.metrics.attacks.WithLabelValues("replay", "true")))
	assert.Contains(t, ledgerActions(vs), "ATTACK_SIMULATION")
}

func TestAuditHeadAttestation(t *testing.T) {
	vs := newTestService(t, testConfig(t), WithChannel(&scriptedChannel{}))
	defer vs.Close()

	_, err := vs.SimulateAttack(models.AttackManInTheMiddle, 0)
	require.NoError(t, err)

	att, err := vs.SignAuditHead()
	require.NoError(t, err)
	assert.Equal(t, vs.ledger.Len(), att.Height)

	ok, err := vs.VerifyAuditHead(att)
	require.NoError(t, err)
	assert.True(t, ok)

	forged := *att
	if att.Hash[0] == '0' {
		forged.Hash = "1" + att.Hash[1:]
	} else {
		forged.Hash = "0" + att.Hash[1:]
	}
	ok, err = vs.VerifyAuditHead(&forged)
	require.NoError(t, err)
	assert.False(t, ok)

	foreign, err := crypto.GenerateKey()
	require.NoError(t, err)
	foreignSig, err := vs.crypto.Sign([]byte(att.Hash), foreign)
	require.NoError(t, err)

	forged = *att
	forged.Signature = hexutil.Encode(foreignSig)
	forged.PublicKey = hexutil.Encode(crypto.FromECDSAPub(&foreign.PublicKey))
	ok, err = vs.VerifyAuditHead(&forged)
	require.NoError(t, err)
	assert.False(t, ok, "an attestation signed by another key must be refused")

	forged.PublicKey = att.PublicKey
	ok, err = vs.VerifyAuditHead(&forged)
	require.NoError(t, err)
	assert.False(t, ok)

	forged = *att
	forged.Signature = "zz"
	_, err = vs.VerifyAuditHead(&forged)
	assert.Error(t, err)
}

func TestRestartRestoresLedgerAndAdminKey(t *testing.T) {
	cfg := testConfig(t)
	vs := newTestService(t, cfg, WithChannel(&scriptedChannel{}))

	_, err := vs.SimulateAttack(models.AttackPhotonSplitting, 0.2)
	require.NoError(t, err)
	before, err := vs.SignAuditHead()
	require.NoError(t, err)
	height := vs.ledger.Len()
	require.NoError(t, vs.Close())

	restarted := newTestService(t, cfg, WithChannel(&scriptedChannel{}))
	defer restarted.Close()

	assert.Equal(t, height, restarted.ledger.Len())
	assert.True(t, restarted.AuditStatus(0).Verification.Valid)

	after, err := restarted.SignAuditHead()
	require.NoError(t, err)
	assert.Equal(t, before.PublicKey, after.PublicKey)

	ok, err := restarted.VerifyAuditHead(before)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTamperedSnapshotRefused(t *testing.T) {
	cfg := testConfig(t)
	vs := newTestService(t, cfg, WithChannel(&scriptedChannel{}))

	for _, kind := range []models.AttackKind{models.AttackReplay, models.AttackManInTheMiddle, models.AttackReplay} {
		_, err := vs.SimulateAttack(kind, 0)
		require.NoError(t, err)
	}
	require.NoError(t, vs.Close())

	path, err := vs.SnapshotLedger()
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var entries []models.LedgerEntry
	require.NoError(t, json.Unmarshal(data, &entries))
	require.Greater(t, len(entries), 2)
	entries[1].Action = "FORGED"
	data, err = json.Marshal(entries)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	_, err = NewVotingService(cfg, quietLogger(), WithChannel(&scriptedChannel{}))
	assert.ErrorIs(t, err, ErrLedgerCompromised)
}

func TestInvalidConfigRejected(t *testing.T) {
	cfg := testConfig(t)
	cfg.KDF = "md5"
	_, err := NewVotingService(cfg, quietLogger())
	assert.Error(t, err)
}
