package attacks

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantum-voting/blockchain/ledger"
	"quantum-voting/models"
	"quantum-voting/quantum"
)

func TestEmptySummaryReportsZeroRates(t *testing.T) {
	h := New(nil, nil)

	summary := h.Summary()
	assert.Zero(t, summary.TotalAttacks)
	assert.Zero(t, summary.DetectionRate)
	assert.Zero(t, summary.SuccessRate)
	assert.Empty(t, summary.ByType)
}

func TestInterceptResendUsesSharedThreshold(t *testing.T) {
	h := New(nil, nil)

	cases := []struct {
		rate     float64
		detected bool
	}{
		{0.0, false},
		{0.3, false},
		{0.4, false},
		{0.45, true},
		{0.6, true},
		{1.0, true},
	}
	for _, tc := range cases {
		outcome, err := h.InterceptResend(tc.rate)
		require.NoError(t, err)
		assert.InDelta(t, tc.rate*0.25, outcome.ErrorRate, 1e-12)
		assert.Equal(t, tc.detected, outcome.Detected, "rate %v", tc.rate)
		assert.Equal(t, outcome.ErrorRate > quantum.InterferenceThreshold, outcome.Detected)
		assert.Equal(t, !tc.detected, outcome.Success)
		assert.NotEmpty(t, outcome.ID)
	}

	_, err := h.InterceptResend(1.5)
	require.Error(t, err)
}

func TestAlwaysDetectedAttacks(t *testing.T) {
	h := New(nil, nil)

	pns, err := h.PhotonSplitting(0.1)
	require.NoError(t, err)
	assert.True(t, pns.Detected)
	assert.False(t, pns.Success)
	assert.Zero(t, pns.ErrorRate)

	replay, err := h.Replay()
	require.NoError(t, err)
	assert.True(t, replay.Detected)
	assert.False(t, replay.Success)

	mitm, err := h.ManInTheMiddle()
	require.NoError(t, err)
	assert.True(t, mitm.Detected)
	assert.Equal(t, 0.25, mitm.ErrorRate)
}

func TestSummaryBreakdownMatchesScript(t *testing.T) {
	h := New(nil, nil)

	script := []struct {
		kind models.AttackKind
		rate float64
	}{
		{models.AttackInterceptResend, 0.3},
		{models.AttackInterceptResend, 0.6},
		{models.AttackInterceptResend, 0.2},
		{models.AttackPhotonSplitting, 0.1},
		{models.AttackReplay, 0},
		{models.AttackReplay, 0},
		{models.AttackManInTheMiddle, 0},
	}
	for _, step := range script {
		_, err := h.Run(step.kind, step.rate)
		require.NoError(t, err)
	}

	summary := h.Summary()
	assert.Equal(t, 7, summary.TotalAttacks)
	assert.Equal(t, 5, summary.Detected)
	assert.Equal(t, 5, summary.Blocked)
	assert.Equal(t, 71.43, summary.DetectionRate)
	assert.Equal(t, 28.57, summary.SuccessRate)

	assert.Equal(t, map[models.AttackKind]models.AttackBreakdown{
		models.AttackInterceptResend: {Total: 3, Detected: 1, Blocked: 1},
		models.AttackPhotonSplitting: {Total: 1, Detected: 1, Blocked: 1},
		models.AttackReplay:          {Total: 2, Detected: 2, Blocked: 2},
		models.AttackManInTheMiddle:  {Total: 1, Detected: 1, Blocked: 1},
	}, summary.ByType)

	history := h.History()
	require.Len(t, history, 7)
	for i, step := range script {
		assert.Equal(t, step.kind, history[i].Kind)
	}
}

func TestRunRejectsUnknownKind(t *testing.T) {
	_, err := New(nil, nil).Run("trojan_horse", 0)
	require.Error(t, err)
}

func TestAttacksAreRecordedOnLedger(t *testing.T) {
	l := ledger.New(nil)
	h := New(l, nil)

	_, err := h.InterceptResend(0.5)
	require.NoError(t, err)
	_, err = h.Replay()
	require.NoError(t, err)

	assert.Equal(t, 3, l.Len())
	for _, view := range l.Tail(2) {
		assert.Equal(t, ActionAttackSimulation, view.Action)
	}
	assert.True(t, l.Verify().Valid)
}

type failingRecorder struct{}

func (failingRecorder) Append(string, any) (models.LedgerEntry, error) {
	return models.LedgerEntry{}, errors.New("ledger unavailable")
}

func TestRecorderFailureIsReported(t *testing.T) {
	h := New(failingRecorder{}, nil)

	outcome, err := h.Replay()
	require.Error(t, err)
	assert.Equal(t, models.AttackReplay, outcome.Kind)
	assert.Len(t, h.History(), 1)
}
