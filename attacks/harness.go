// Package attacks models known attacks against the quantum channel and the
// ballot pipeline with closed-form probabilities. The models approximate the
// simulator's behaviour and share its detection threshold.
package attacks

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"quantum-voting/models"
	"quantum-voting/quantum"
)

// ActionAttackSimulation is the ledger action recorded for each simulation.
const ActionAttackSimulation = "ATTACK_SIMULATION"

// disturbance is the error an intercepted qubit introduces on average: a
// wrong basis guess half the time, then a wrong bit half the time.
const disturbance = 0.25

// referenceQubits is the nominal sifted sample the detail counts refer to.
const referenceQubits = 1024

const (
	DefaultInterceptRate   = 0.3
	DefaultMultiPhotonRate = 0.1
)

// Recorder receives one entry per simulated attack. *ledger.Ledger
// satisfies it.
type Recorder interface {
	Append(action string, payload any) (models.LedgerEntry, error)
}

type Harness struct {
	mu       sync.RWMutex
	history  []models.AttackOutcome
	recorder Recorder
	logger   *logrus.Logger
}

// New creates a harness. recorder may be nil.
func New(recorder Recorder, logger *logrus.Logger) *Harness {
	if logger == nil {
		logger = logrus.New()
	}
	return &Harness{recorder: recorder, logger: logger}
}

// InterceptResend models an eavesdropper measuring a fraction rate of the
// qubits and resending them.
func (h *Harness) InterceptResend(rate float64) (models.AttackOutcome, error) {
	if rate < 0 || rate > 1 {
		return models.AttackOutcome{}, fmt.Errorf("intercept rate %v outside [0,1]", rate)
	}
	errorRate := rate * disturbance
	detected := errorRate > quantum.InterferenceThreshold

	return h.record(models.AttackOutcome{
		Kind:      models.AttackInterceptResend,
		Success:   !detected,
		Detected:  detected,
		ErrorRate: errorRate,
		Details: map[string]any{
			"intercept_rate":      rate,
			"qubits_intercepted":  int(referenceQubits * rate),
			"errors_introduced":   int(referenceQubits * errorRate),
			"detection_threshold": thresholdLabel(),
			"explanation":         "Eve measures qubits with random bases, disturbing 25% of intercepted qubits",
		},
	})
}

// PhotonSplitting models siphoning photons from multi-photon pulses. It adds
// no errors and is caught by decoy states.
func (h *Harness) PhotonSplitting(multiPhotonRate float64) (models.AttackOutcome, error) {
	if multiPhotonRate < 0 || multiPhotonRate > 1 {
		return models.AttackOutcome{}, fmt.Errorf("multi-photon rate %v outside [0,1]", multiPhotonRate)
	}
	return h.record(models.AttackOutcome{
		Kind:     models.AttackPhotonSplitting,
		Success:  false,
		Detected: true,
		Details: map[string]any{
			"multi_photon_rate": multiPhotonRate,
			"countermeasure":    "Decoy State Protocol",
			"explanation":       "Eve splits multi-photon pulses but decoy states reveal the attack",
		},
	})
}

// Replay models resubmitting a captured sealed ballot. The uniqueness token
// is already stored, so the copy is rejected.
func (h *Harness) Replay() (models.AttackOutcome, error) {
	return h.record(models.AttackOutcome{
		Kind:     models.AttackReplay,
		Success:  false,
		Detected: true,
		Details: map[string]any{
			"countermeasure": "Unique Vote Hash",
			"explanation":    "Each sealed ballot carries a unique token and a resubmitted copy is refused",
		},
	})
}

// ManInTheMiddle models an attacker relaying every qubit through its own
// measurement, which is intercept-resend at full rate.
func (h *Harness) ManInTheMiddle() (models.AttackOutcome, error) {
	errorRate := disturbance
	detected := errorRate > quantum.InterferenceThreshold
	return h.record(models.AttackOutcome{
		Kind:      models.AttackManInTheMiddle,
		Success:   !detected,
		Detected:  detected,
		ErrorRate: errorRate,
		Details: map[string]any{
			"intercept_rate":      1.0,
			"detection_threshold": thresholdLabel(),
			"countermeasure":      "Authenticated classical channel",
			"explanation":         "Relaying every qubit disturbs a quarter of the sifted key",
		},
	})
}

// Run dispatches by kind using the default parameters.
func (h *Harness) Run(kind models.AttackKind, rate float64) (models.AttackOutcome, error) {
	switch kind {
	case models.AttackInterceptResend:
		if rate == 0 {
			rate = DefaultInterceptRate
		}
		return h.InterceptResend(rate)
	case models.AttackPhotonSplitting:
		if rate == 0 {
			rate = DefaultMultiPhotonRate
		}
		return h.PhotonSplitting(rate)
	case models.AttackReplay:
		return h.Replay()
	case models.AttackManInTheMiddle:
		return h.ManInTheMiddle()
	default:
		return models.AttackOutcome{}, fmt.Errorf("unknown attack kind %q", kind)
	}
}

func (h *Harness) record(outcome models.AttackOutcome) (models.AttackOutcome, error) {
	outcome.ID = uuid.New().String()
	outcome.Timestamp = time.Now().UTC()

	h.mu.Lock()
	h.history = append(h.history, outcome)
	h.mu.Unlock()

	h.logger.WithFields(logrus.Fields{
		"attack":   outcome.Kind,
		"detected": outcome.Detected,
	}).Info("Attack simulated")

	if h.recorder != nil {
		_, err := h.recorder.Append(ActionAttackSimulation, map[string]any{
			"attack_type": outcome.Kind,
			"detected":    outcome.Detected,
			"blocked":     !outcome.Success,
		})
		if err != nil {
			return outcome, fmt.Errorf("failed to record attack: %w", err)
		}
	}
	return outcome, nil
}

// History returns a copy of all outcomes in the order they were produced.
func (h *Harness) History() []models.AttackOutcome {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]models.AttackOutcome, len(h.history))
	copy(out, h.history)
	return out
}

// Summary aggregates the history. An empty history reports 0% rates.
func (h *Harness) Summary() models.AttackSummary {
	h.mu.RLock()
	defer h.mu.RUnlock()

	summary := models.AttackSummary{
		TotalAttacks: len(h.history),
		ByType:       make(map[models.AttackKind]models.AttackBreakdown),
	}
	for _, a := range h.history {
		breakdown := summary.ByType[a.Kind]
		breakdown.Total++
		if a.Detected {
			summary.Detected++
			breakdown.Detected++
		}
		if !a.Success {
			summary.Blocked++
			breakdown.Blocked++
		}
		summary.ByType[a.Kind] = breakdown
	}

	summary.DetectionRate = percent(summary.Detected, summary.TotalAttacks)
	summary.SuccessRate = percent(summary.TotalAttacks-summary.Blocked, summary.TotalAttacks)
	return summary
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*10000) / 100
}

func thresholdLabel() string {
	return fmt.Sprintf("%.0f%%", quantum.InterferenceThreshold*100)
}
