package service

import (
	"fmt"

	"quantum-voting/models"
)

// BallotValidator performs the checks a ballot must pass before it is
// sealed. Candidate and constituency ranges are upper-bounded only when a
// limit is configured.
type BallotValidator struct {
	maxConstituency int
	maxCandidate    int
}

func NewBallotValidator(maxConstituency, maxCandidate int) *BallotValidator {
	return &BallotValidator{
		maxConstituency: maxConstituency,
		maxCandidate:    maxCandidate,
	}
}

// ValidateSelection checks the constituencies a session is opened with.
func (bv *BallotValidator) ValidateSelection(required []models.ElectionType, constituencies map[models.ElectionType]int) error {
	for _, election := range required {
		if !knownElection(election) {
			return fmt.Errorf("%w: %s", ErrUnknownElection, election)
		}
		constituency, ok := constituencies[election]
		if !ok {
			return fmt.Errorf("%w: none selected for %s", ErrInvalidConstituency, election)
		}
		if err := bv.checkConstituency(constituency); err != nil {
			return err
		}
	}
	for election := range constituencies {
		if !contains(required, election) {
			return fmt.Errorf("%w: %s", ErrElectionNotRequired, election)
		}
	}
	return nil
}

// ValidateBallot checks a ballot against the session it is cast in.
func (bv *BallotValidator) ValidateBallot(session *VoterSession, election models.ElectionType, candidateID int) error {
	// 1. Election type must be known
	if !knownElection(election) {
		return fmt.Errorf("%w: %s", ErrUnknownElection, election)
	}

	// 2. Session must require it
	constituency, ok := session.Constituency(election)
	if !ok {
		return fmt.Errorf("%w: %s", ErrElectionNotRequired, election)
	}

	// 3. Constituency recorded at session start must still be valid
	if err := bv.checkConstituency(constituency); err != nil {
		return err
	}

	// 4. Candidate id range
	if candidateID <= 0 {
		return fmt.Errorf("%w: id must be positive, got %d", ErrInvalidCandidate, candidateID)
	}
	if bv.maxCandidate > 0 && candidateID > bv.maxCandidate {
		return fmt.Errorf("%w: id %d exceeds %d", ErrInvalidCandidate, candidateID, bv.maxCandidate)
	}
	return nil
}

func (bv *BallotValidator) checkConstituency(constituency int) error {
	if constituency <= 0 {
		return fmt.Errorf("%w: id must be positive, got %d", ErrInvalidConstituency, constituency)
	}
	if bv.maxConstituency > 0 && constituency > bv.maxConstituency {
		return fmt.Errorf("%w: id %d exceeds %d", ErrInvalidConstituency, constituency, bv.maxConstituency)
	}
	return nil
}

func knownElection(e models.ElectionType) bool {
	return e == models.ElectionMLA || e == models.ElectionMP
}

func contains(list []models.ElectionType, e models.ElectionType) bool {
	for _, item := range list {
		if item == e {
			return true
		}
	}
	return false
}
