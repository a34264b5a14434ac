package models

import "time"

// AttackKind tags a simulated attack class.
type AttackKind string

const (
	AttackInterceptResend AttackKind = "intercept_resend"
	AttackPhotonSplitting AttackKind = "photon_number_split"
	AttackReplay          AttackKind = "replay"
	AttackManInTheMiddle  AttackKind = "man_in_middle"
)

// AttackNames maps each kind to its display name.
var AttackNames = map[AttackKind]string{
	AttackInterceptResend: "Eve (Eavesdropper) Intercept-Resend Attack",
	AttackPhotonSplitting: "Photon Number Splitting Attack",
	AttackReplay:          "Classical Replay Attack",
	AttackManInTheMiddle:  "Man-in-the-Middle Attack",
}

// AttackOutcome records one simulated attack. Success means the attacker
// went undetected.
type AttackOutcome struct {
	ID        string         `json:"attack_id"`
	Kind      AttackKind     `json:"attack_type"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"attack_successful"`
	Detected  bool           `json:"detected_by_system"`
	ErrorRate float64        `json:"error_rate"`
	Details   map[string]any `json:"details"`
}

type AttackBreakdown struct {
	Total    int `json:"total"`
	Detected int `json:"detected"`
	Blocked  int `json:"blocked"`
}

type AttackSummary struct {
	TotalAttacks  int                            `json:"total_attacks"`
	Detected      int                            `json:"detected"`
	Blocked       int                            `json:"blocked"`
	DetectionRate float64                        `json:"detection_rate"`
	SuccessRate   float64                        `json:"success_rate"`
	ByType        map[AttackKind]AttackBreakdown `json:"by_type"`
}
