package service

import "errors"

var (
	ErrUnknownSession      = errors.New("unknown voter session")
	ErrSessionExpired      = errors.New("voter session has expired")
	ErrNoSessionKey        = errors.New("no live quantum key for session")
	ErrAlreadyVoted        = errors.New("ballot already cast for this election")
	ErrChannelCompromised  = errors.New("quantum channel compromised, key discarded")
	ErrDuplicateBallot     = errors.New("duplicate ballot token")
	ErrLedgerCompromised   = errors.New("restored ledger failed verification")
	ErrUnknownElection     = errors.New("unknown election type")
	ErrElectionNotRequired = errors.New("election not part of this session")
	ErrInvalidConstituency = errors.New("invalid constituency")
	ErrInvalidCandidate    = errors.New("invalid candidate")
)
